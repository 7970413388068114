// Package checkpoints persists model weights and optimizer state as
// role-keyed JSON records, one file per epoch. Roles are free-form
// strings; the trainer uses "model" and "opt".
package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// WeightTensor is one named model parameter with its data.
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// OptimizerState captures an optimizer's type, hyperparameters and
// state buffers (momentum, variance, etc.).
type OptimizerState struct {
	Type       string             `json:"type"`
	StepCount  uint64             `json:"step_count"`
	Parameters map[string]float64 `json:"parameters"`
	StateData  []OptimizerTensor  `json:"state_data"`
}

// OptimizerTensor is one optimizer state buffer, keyed by the parameter
// it belongs to and the kind of state it holds ("momentum", "m", "v", ...).
type OptimizerTensor struct {
	Name      string    `json:"name"`
	Shape     []int     `json:"shape"`
	Data      []float32 `json:"data"`
	StateType string    `json:"state_type"`
}

// Metadata records provenance for a checkpoint file.
type Metadata struct {
	Framework string    `json:"framework"`
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
}

// Record is a complete checkpoint: either Weights (role "model") or
// Optimizer (role "opt") is populated, tagged with the epoch it was
// written for.
type Record struct {
	Role      string          `json:"role"`
	Epoch     int             `json:"epoch"`
	Weights   []WeightTensor  `json:"weights,omitempty"`
	Optimizer *OptimizerState `json:"optimizer,omitempty"`
	Metadata  Metadata        `json:"metadata"`
}

func checkpointPath(dir, role string, epoch int) string {
	return filepath.Join(dir, fmt.Sprintf("%s.%d.ckpt", role, epoch))
}

// Write stores rec under dir as <role>.<epoch>.ckpt. The write is
// synchronous; the caller sees a fully flushed file or an error.
func Write(rec *Record, role, dir string, epoch int) error {
	rec.Role = role
	rec.Epoch = epoch
	if rec.Metadata.Framework == "" {
		rec.Metadata = Metadata{Framework: "denoise", Version: "1.0.0", CreatedAt: time.Now()}
	}
	f, err := os.Create(checkpointPath(dir, role, epoch))
	if err != nil {
		return errors.Wrap(err, "create checkpoint file")
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	if err := enc.Encode(rec); err != nil {
		return errors.Wrapf(err, "encode checkpoint %s.%d", role, epoch)
	}
	return f.Sync()
}

// LatestEpoch scans dir for checkpoints of the given role and returns the
// highest epoch tag, or -1 when none exist.
func LatestEpoch(role, dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return -1
	}
	latest := -1
	prefix := role + "."
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".ckpt") {
			continue
		}
		tag := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".ckpt")
		epoch, err := strconv.Atoi(tag)
		if err != nil {
			continue
		}
		if epoch > latest {
			latest = epoch
		}
	}
	return latest
}

// ReadLatest loads the highest-epoch checkpoint for role from dir.
// Returns (nil, -1, nil) when no checkpoint of that role exists.
func ReadLatest(role, dir string) (*Record, int, error) {
	epoch := LatestEpoch(role, dir)
	if epoch < 0 {
		return nil, -1, nil
	}
	rec, err := Read(role, dir, epoch)
	if err != nil {
		return nil, -1, err
	}
	return rec, epoch, nil
}

// Read loads the checkpoint for role at the given epoch tag.
func Read(role, dir string, epoch int) (*Record, error) {
	f, err := os.Open(checkpointPath(dir, role, epoch))
	if err != nil {
		return nil, errors.Wrap(err, "open checkpoint file")
	}
	defer f.Close()

	var rec Record
	if err := json.NewDecoder(f).Decode(&rec); err != nil {
		return nil, errors.Wrapf(err, "decode checkpoint %s.%d", role, epoch)
	}
	return &rec, nil
}

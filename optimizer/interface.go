package optimizer

import (
	"fmt"

	"github.com/audioforge/denoise/checkpoints"
)

// Optimizer is the common interface over the supported update rules.
// State extraction and restore exist so an optimizer survives a
// checkpoint round trip with its momentum/variance buffers intact.
type Optimizer interface {
	// Step applies one update to every bound parameter using its
	// current gradient. Gradients are left untouched.
	Step() error

	// ZeroGrad clears the gradients of all bound parameters.
	ZeroGrad()

	// GetLR returns the current learning rate.
	GetLR() float64

	// SetLR sets the learning rate for subsequent steps.
	SetLR(lr float64)

	// InitialLR returns the learning rate the optimizer was built with.
	// A learning-rate schedule scales this, never the current rate, so
	// a resumed run recomputes the same effective rate as a fresh one.
	InitialLR() float64

	// GetState extracts the optimizer state for checkpointing.
	GetState() (*checkpoints.OptimizerState, error)

	// LoadState restores state captured by GetState. The state must
	// match the optimizer type and the bound parameter shapes.
	LoadState(state *checkpoints.OptimizerState) error

	// GetStepCount returns the number of update steps applied so far.
	GetStepCount() uint64
}

// validateStateType ensures a restored state belongs to this optimizer type.
func validateStateType(optimizerType string, state *checkpoints.OptimizerState) error {
	if state.Type != optimizerType {
		return fmt.Errorf("state type mismatch: expected %s, got %s", optimizerType, state.Type)
	}
	return nil
}

// packStateTensor copies one state buffer into a checkpoint tensor.
func packStateTensor(name, stateType string, data []float32) checkpoints.OptimizerTensor {
	out := make([]float32, len(data))
	copy(out, data)
	return checkpoints.OptimizerTensor{
		Name:      name,
		Shape:     []int{len(data)},
		Data:      out,
		StateType: stateType,
	}
}

// unpackStateTensors indexes checkpoint tensors by state type and parameter
// name, validating sizes against the bound parameters.
func unpackStateTensors(state *checkpoints.OptimizerState, params []*Parameter, stateTypes []string) (map[string]map[string][]float32, error) {
	sizes := make(map[string]int, len(params))
	for _, p := range params {
		sizes[p.Name] = len(p.Data)
	}
	wanted := make(map[string]bool, len(stateTypes))
	for _, st := range stateTypes {
		wanted[st] = true
	}
	out := make(map[string]map[string][]float32, len(stateTypes))
	for _, t := range state.StateData {
		if !wanted[t.StateType] {
			return nil, fmt.Errorf("unexpected state tensor type %q for %s", t.StateType, t.Name)
		}
		size, ok := sizes[t.Name]
		if !ok {
			return nil, fmt.Errorf("state tensor %q does not match any bound parameter", t.Name)
		}
		if len(t.Data) != size {
			return nil, fmt.Errorf("state tensor %q size mismatch: state %d, parameter %d", t.Name, len(t.Data), size)
		}
		if out[t.StateType] == nil {
			out[t.StateType] = make(map[string][]float32)
		}
		out[t.StateType][t.Name] = t.Data
	}
	return out, nil
}

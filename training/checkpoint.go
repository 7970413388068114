package training

import (
	"github.com/pkg/errors"

	"github.com/audioforge/denoise/checkpoints"
	"github.com/audioforge/denoise/optimizer"
)

// SaveModel persists the model's parameters under role "model", tagged
// with the given epoch.
func SaveModel(m Model, dir string, epoch int) error {
	params := m.NamedParameters()
	weights := make([]checkpoints.WeightTensor, 0, len(params))
	for _, p := range params {
		data := make([]float32, len(p.Data))
		copy(data, p.Data)
		weights = append(weights, checkpoints.WeightTensor{
			Name:  p.Name,
			Shape: []int{len(data)},
			Data:  data,
		})
	}
	return checkpoints.Write(&checkpoints.Record{Weights: weights}, "model", dir, epoch)
}

// RestoreModel loads the latest "model" checkpoint into m, mutating its
// parameters in place, and returns the checkpoint's epoch tag. Returns
// 0 when no checkpoint exists. Unlike optimizer state, a model restore
// failure is fatal: training without valid weights is meaningless.
func RestoreModel(m Model, dir string) (int, error) {
	rec, epoch, err := checkpoints.ReadLatest("model", dir)
	if err != nil {
		return 0, err
	}
	if rec == nil {
		return 0, nil
	}
	byName := make(map[string][]float32, len(rec.Weights))
	for _, w := range rec.Weights {
		byName[w.Name] = w.Data
	}
	for _, p := range m.NamedParameters() {
		data, ok := byName[p.Name]
		if !ok {
			return 0, errors.Errorf("checkpoint is missing parameter %s", p.Name)
		}
		if len(data) != len(p.Data) {
			return 0, errors.Errorf("checkpoint parameter %s size mismatch: %d vs %d",
				p.Name, len(data), len(p.Data))
		}
		copy(p.Data, data)
	}
	return epoch, nil
}

// SaveOptimizer persists the optimizer state under role "opt", tagged
// with the given epoch.
func SaveOptimizer(opt optimizer.Optimizer, dir string, epoch int) error {
	state, err := opt.GetState()
	if err != nil {
		return errors.Wrap(err, "extract optimizer state")
	}
	return checkpoints.Write(&checkpoints.Record{Optimizer: state}, "opt", dir, epoch)
}

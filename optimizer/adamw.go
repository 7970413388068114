package optimizer

import (
	"fmt"
	"math"

	"github.com/audioforge/denoise/checkpoints"
)

// AdamW implements adaptive moment estimation with decoupled weight decay.
type AdamW struct {
	params      []*Parameter
	lr          float64
	initialLR   float64
	beta1       float64
	beta2       float64
	epsilon     float64
	weightDecay float64
	stepCount   uint64

	m map[string][]float32 // first moment per parameter name
	v map[string][]float32 // second moment per parameter name
}

// AdamWConfig holds AdamW hyperparameters.
type AdamWConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	WeightDecay  float64
}

// DefaultAdamWConfig returns the usual AdamW defaults.
func DefaultAdamWConfig() AdamWConfig {
	return AdamWConfig{
		LearningRate: 1e-3,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
	}
}

// NewAdamW creates an AdamW optimizer bound to params.
func NewAdamW(config AdamWConfig, params []*Parameter) (*AdamW, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("no parameters provided")
	}
	a := &AdamW{
		params:      params,
		lr:          config.LearningRate,
		initialLR:   config.LearningRate,
		beta1:       config.Beta1,
		beta2:       config.Beta2,
		epsilon:     config.Epsilon,
		weightDecay: config.WeightDecay,
		m:           make(map[string][]float32, len(params)),
		v:           make(map[string][]float32, len(params)),
	}
	for _, p := range params {
		a.m[p.Name] = make([]float32, len(p.Data))
		a.v[p.Name] = make([]float32, len(p.Data))
	}
	return a, nil
}

// Step applies one AdamW update with bias correction.
func (a *AdamW) Step() error {
	a.stepCount++
	bias1 := 1.0 - math.Pow(a.beta1, float64(a.stepCount))
	bias2 := 1.0 - math.Pow(a.beta2, float64(a.stepCount))

	for _, p := range a.params {
		m := a.m[p.Name]
		v := a.v[p.Name]
		for i, g64 := range p.Grad {
			g := float64(g64)
			mi := a.beta1*float64(m[i]) + (1.0-a.beta1)*g
			vi := a.beta2*float64(v[i]) + (1.0-a.beta2)*g*g
			m[i] = float32(mi)
			v[i] = float32(vi)

			mHat := mi / bias1
			vHat := vi / bias2
			update := a.lr * mHat / (math.Sqrt(vHat) + a.epsilon)
			// Decoupled decay acts on the weight directly, not the gradient.
			decayed := float64(p.Data[i]) * (1.0 - a.lr*a.weightDecay)
			p.Data[i] = float32(decayed - update)
		}
	}
	return nil
}

func (a *AdamW) ZeroGrad()            { ZeroGrads(a.params) }
func (a *AdamW) GetLR() float64       { return a.lr }
func (a *AdamW) SetLR(lr float64)     { a.lr = lr }
func (a *AdamW) InitialLR() float64   { return a.initialLR }
func (a *AdamW) GetStepCount() uint64 { return a.stepCount }

// GetState extracts moment buffers and hyperparameters for checkpointing.
func (a *AdamW) GetState() (*checkpoints.OptimizerState, error) {
	state := &checkpoints.OptimizerState{
		Type:      "AdamW",
		StepCount: a.stepCount,
		Parameters: map[string]float64{
			"learning_rate": a.lr,
			"initial_lr":    a.initialLR,
			"beta1":         a.beta1,
			"beta2":         a.beta2,
			"epsilon":       a.epsilon,
			"weight_decay":  a.weightDecay,
		},
	}
	for _, p := range a.params {
		state.StateData = append(state.StateData,
			packStateTensor(p.Name, "m", a.m[p.Name]),
			packStateTensor(p.Name, "v", a.v[p.Name]))
	}
	return state, nil
}

// LoadState restores moment buffers from a checkpoint.
func (a *AdamW) LoadState(state *checkpoints.OptimizerState) error {
	if err := validateStateType("AdamW", state); err != nil {
		return err
	}
	byType, err := unpackStateTensors(state, a.params, []string{"m", "v"})
	if err != nil {
		return err
	}
	for _, p := range a.params {
		if m, ok := byType["m"][p.Name]; ok {
			copy(a.m[p.Name], m)
		}
		if v, ok := byType["v"][p.Name]; ok {
			copy(a.v[p.Name], v)
		}
	}
	a.stepCount = state.StepCount
	return nil
}

package optimizer

import (
	"fmt"

	"github.com/audioforge/denoise/checkpoints"
)

// SGD implements stochastic gradient descent with momentum and optional
// Nesterov acceleration.
type SGD struct {
	params      []*Parameter
	lr          float64
	initialLR   float64
	momentum    float64
	weightDecay float64
	nesterov    bool
	stepCount   uint64

	velocity map[string][]float32
}

// SGDConfig holds SGD hyperparameters.
type SGDConfig struct {
	LearningRate float64
	Momentum     float64
	WeightDecay  float64
	Nesterov     bool
}

// NewSGD creates an SGD optimizer bound to params.
func NewSGD(config SGDConfig, params []*Parameter) (*SGD, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("no parameters provided")
	}
	if config.Nesterov && config.Momentum <= 0 {
		return nil, fmt.Errorf("nesterov momentum requires a positive momentum factor")
	}
	s := &SGD{
		params:      params,
		lr:          config.LearningRate,
		initialLR:   config.LearningRate,
		momentum:    config.Momentum,
		weightDecay: config.WeightDecay,
		nesterov:    config.Nesterov,
		velocity:    make(map[string][]float32, len(params)),
	}
	for _, p := range params {
		s.velocity[p.Name] = make([]float32, len(p.Data))
	}
	return s, nil
}

// Step applies one SGD update.
func (s *SGD) Step() error {
	s.stepCount++
	for _, p := range s.params {
		buf := s.velocity[p.Name]
		for i, g32 := range p.Grad {
			g := float64(g32) + s.weightDecay*float64(p.Data[i])
			if s.momentum > 0 {
				v := s.momentum*float64(buf[i]) + g
				buf[i] = float32(v)
				if s.nesterov {
					g += s.momentum * v
				} else {
					g = v
				}
			}
			p.Data[i] -= float32(s.lr * g)
		}
	}
	return nil
}

func (s *SGD) ZeroGrad()            { ZeroGrads(s.params) }
func (s *SGD) GetLR() float64       { return s.lr }
func (s *SGD) SetLR(lr float64)     { s.lr = lr }
func (s *SGD) InitialLR() float64   { return s.initialLR }
func (s *SGD) GetStepCount() uint64 { return s.stepCount }

// GetState extracts velocity buffers and hyperparameters for checkpointing.
func (s *SGD) GetState() (*checkpoints.OptimizerState, error) {
	nesterov := 0.0
	if s.nesterov {
		nesterov = 1.0
	}
	state := &checkpoints.OptimizerState{
		Type:      "SGD",
		StepCount: s.stepCount,
		Parameters: map[string]float64{
			"learning_rate": s.lr,
			"initial_lr":    s.initialLR,
			"momentum":      s.momentum,
			"weight_decay":  s.weightDecay,
			"nesterov":      nesterov,
		},
	}
	for _, p := range s.params {
		state.StateData = append(state.StateData, packStateTensor(p.Name, "momentum", s.velocity[p.Name]))
	}
	return state, nil
}

// LoadState restores velocity buffers from a checkpoint.
func (s *SGD) LoadState(state *checkpoints.OptimizerState) error {
	if err := validateStateType("SGD", state); err != nil {
		return err
	}
	byType, err := unpackStateTensors(state, s.params, []string{"momentum"})
	if err != nil {
		return err
	}
	for _, p := range s.params {
		if v, ok := byType["momentum"][p.Name]; ok {
			copy(s.velocity[p.Name], v)
		}
	}
	s.stepCount = state.StepCount
	return nil
}

package optimizer

import (
	"fmt"
	"math"

	"github.com/audioforge/denoise/checkpoints"
)

// RMSProp implements root-mean-square gradient scaling with optional momentum.
type RMSProp struct {
	params      []*Parameter
	lr          float64
	initialLR   float64
	alpha       float64
	epsilon     float64
	momentum    float64
	weightDecay float64
	stepCount   uint64

	squaredAvg map[string][]float32
	velocity   map[string][]float32
}

// RMSPropConfig holds RMSProp hyperparameters.
type RMSPropConfig struct {
	LearningRate float64
	Alpha        float64
	Epsilon      float64
	Momentum     float64
	WeightDecay  float64
}

// DefaultRMSPropConfig returns the usual RMSProp defaults.
func DefaultRMSPropConfig() RMSPropConfig {
	return RMSPropConfig{
		LearningRate: 1e-2,
		Alpha:        0.99,
		Epsilon:      1e-8,
	}
}

// NewRMSProp creates an RMSProp optimizer bound to params.
func NewRMSProp(config RMSPropConfig, params []*Parameter) (*RMSProp, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("no parameters provided")
	}
	if config.Alpha <= 0 || config.Alpha >= 1 {
		config.Alpha = 0.99
	}
	r := &RMSProp{
		params:      params,
		lr:          config.LearningRate,
		initialLR:   config.LearningRate,
		alpha:       config.Alpha,
		epsilon:     config.Epsilon,
		momentum:    config.Momentum,
		weightDecay: config.WeightDecay,
		squaredAvg:  make(map[string][]float32, len(params)),
		velocity:    make(map[string][]float32, len(params)),
	}
	for _, p := range params {
		r.squaredAvg[p.Name] = make([]float32, len(p.Data))
		if config.Momentum > 0 {
			r.velocity[p.Name] = make([]float32, len(p.Data))
		}
	}
	return r, nil
}

// Step applies one RMSProp update.
func (r *RMSProp) Step() error {
	r.stepCount++
	for _, p := range r.params {
		sq := r.squaredAvg[p.Name]
		buf := r.velocity[p.Name]
		for i, g32 := range p.Grad {
			g := float64(g32) + r.weightDecay*float64(p.Data[i])
			avg := r.alpha*float64(sq[i]) + (1.0-r.alpha)*g*g
			sq[i] = float32(avg)
			scaled := g / (math.Sqrt(avg) + r.epsilon)
			if r.momentum > 0 {
				v := r.momentum*float64(buf[i]) + scaled
				buf[i] = float32(v)
				scaled = v
			}
			p.Data[i] -= float32(r.lr * scaled)
		}
	}
	return nil
}

func (r *RMSProp) ZeroGrad()            { ZeroGrads(r.params) }
func (r *RMSProp) GetLR() float64       { return r.lr }
func (r *RMSProp) SetLR(lr float64)     { r.lr = lr }
func (r *RMSProp) InitialLR() float64   { return r.initialLR }
func (r *RMSProp) GetStepCount() uint64 { return r.stepCount }

// GetState extracts state buffers and hyperparameters for checkpointing.
func (r *RMSProp) GetState() (*checkpoints.OptimizerState, error) {
	state := &checkpoints.OptimizerState{
		Type:      "RMSProp",
		StepCount: r.stepCount,
		Parameters: map[string]float64{
			"learning_rate": r.lr,
			"initial_lr":    r.initialLR,
			"alpha":         r.alpha,
			"epsilon":       r.epsilon,
			"momentum":      r.momentum,
			"weight_decay":  r.weightDecay,
		},
	}
	for _, p := range r.params {
		state.StateData = append(state.StateData, packStateTensor(p.Name, "squared_grad_avg", r.squaredAvg[p.Name]))
		if r.momentum > 0 {
			state.StateData = append(state.StateData, packStateTensor(p.Name, "momentum", r.velocity[p.Name]))
		}
	}
	return state, nil
}

// LoadState restores state buffers from a checkpoint.
func (r *RMSProp) LoadState(state *checkpoints.OptimizerState) error {
	if err := validateStateType("RMSProp", state); err != nil {
		return err
	}
	byType, err := unpackStateTensors(state, r.params, []string{"squared_grad_avg", "momentum"})
	if err != nil {
		return err
	}
	for _, p := range r.params {
		if sq, ok := byType["squared_grad_avg"][p.Name]; ok {
			copy(r.squaredAvg[p.Name], sq)
		}
		if v, ok := byType["momentum"][p.Name]; ok && r.velocity[p.Name] != nil {
			copy(r.velocity[p.Name], v)
		}
	}
	r.stepCount = state.StepCount
	return nil
}

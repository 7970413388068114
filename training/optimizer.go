package training

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/audioforge/denoise/checkpoints"
	"github.com/audioforge/denoise/optimizer"
)

// ParamMode selects which model parameters an optimizer binds to.
type ParamMode int

const (
	// AllParams trains the full model.
	AllParams ParamMode = iota
	// MaskOnly excludes the deep-filtering subsystem, training the mask
	// path alone.
	MaskOnly
	// SubmoduleOnly trains only parameters whose name contains a given
	// substring, matched case-insensitively.
	SubmoduleOnly
)

// maskExcluded are the parameter-name substrings belonging to the
// deep-filtering subsystem, skipped in MaskOnly mode.
var maskExcluded = []string{"dfrnn", "df_dec"}

// OptimizerConfig bundles the settings an optimizer is built from.
type OptimizerConfig struct {
	Algorithm   string // adam | adamw | sgd | rmsprop
	LR          float64
	WeightDecay float64
	Momentum    float64    // sgd, rmsprop
	Betas       [2]float64 // adam(w)
	Mode        ParamMode
	Submodule   string // substring for SubmoduleOnly
}

// SelectParameters applies the parameter-selection mode to the model's
// named parameters.
func SelectParameters(all []*optimizer.Parameter, mode ParamMode, submodule string) []*optimizer.Parameter {
	switch mode {
	case MaskOnly:
		var out []*optimizer.Parameter
		for _, p := range all {
			excluded := false
			for _, sub := range maskExcluded {
				if strings.Contains(p.Name, sub) {
					excluded = true
					break
				}
			}
			if !excluded {
				out = append(out, p)
			}
		}
		return out
	case SubmoduleOnly:
		needle := strings.ToLower(submodule)
		var out []*optimizer.Parameter
		for _, p := range all {
			if strings.Contains(strings.ToLower(p.Name), needle) {
				out = append(out, p)
			}
		}
		return out
	default:
		return all
	}
}

// BuildOptimizer constructs the configured optimizer bound to the
// selected parameter subset. When cpDir is non-empty, a persisted
// optimizer state is restored; a restore failure is downgraded to a
// warning and training proceeds with fresh state.
func BuildOptimizer(m Model, cfg OptimizerConfig, cpDir string, log *zap.SugaredLogger) (optimizer.Optimizer, error) {
	params := SelectParameters(m.NamedParameters(), cfg.Mode, cfg.Submodule)

	var opt optimizer.Optimizer
	var err error
	switch strings.ToLower(cfg.Algorithm) {
	case "adam", "adamw":
		opt, err = optimizer.NewAdamW(optimizer.AdamWConfig{
			LearningRate: cfg.LR,
			Beta1:        cfg.Betas[0],
			Beta2:        cfg.Betas[1],
			Epsilon:      1e-8,
			WeightDecay:  cfg.WeightDecay,
		}, params)
	case "sgd":
		opt, err = optimizer.NewSGD(optimizer.SGDConfig{
			LearningRate: cfg.LR,
			Momentum:     cfg.Momentum,
			WeightDecay:  cfg.WeightDecay,
			Nesterov:     cfg.Momentum > 0,
		}, params)
	case "rmsprop":
		opt, err = optimizer.NewRMSProp(optimizer.RMSPropConfig{
			LearningRate: cfg.LR,
			Alpha:        0.99,
			Epsilon:      1e-8,
			Momentum:     cfg.Momentum,
			WeightDecay:  cfg.WeightDecay,
		}, params)
	default:
		return nil, fmt.Errorf("unsupported optimizer: %q, must be one of adam, adamw, sgd, rmsprop", cfg.Algorithm)
	}
	if err != nil {
		return nil, err
	}
	log.Debugf("Training with optimizer %s (lr=%g, %d parameter tensors)",
		strings.ToLower(cfg.Algorithm), cfg.LR, len(params))

	if cpDir != "" {
		rec, epoch, err := checkpoints.ReadLatest("opt", cpDir)
		if err != nil {
			log.Errorf("Could not load optimizer state: %v", err)
		} else if rec != nil && rec.Optimizer != nil {
			if err := opt.LoadState(rec.Optimizer); err != nil {
				log.Errorf("Could not load optimizer state: %v", err)
			} else {
				log.Infof("Restored optimizer state from epoch %d", epoch)
			}
		}
	}
	return opt, nil
}

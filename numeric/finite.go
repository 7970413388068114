package numeric

import (
	"fmt"
	"math"
)

// Stage identifies where in a training step a non-finite value was produced.
type Stage int

const (
	// StageLoss marks a non-finite value detected during loss computation.
	StageLoss Stage = iota
	// StageGradient marks a non-finite value detected in the gradients,
	// after a successful backward pass.
	StageGradient
)

func (s Stage) String() string {
	switch s {
	case StageLoss:
		return "loss"
	case StageGradient:
		return "gradient"
	default:
		return "unknown"
	}
}

// NonFiniteError reports a NaN or Inf produced by a numerical stage.
// It replaces substring matching on error text: collaborators return this
// type directly and callers classify with errors.As.
type NonFiniteError struct {
	Stage  Stage
	Detail string
}

func (e *NonFiniteError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("non-finite value in %s computation", e.Stage)
	}
	return fmt.Sprintf("non-finite value in %s computation: %s", e.Stage, e.Detail)
}

// IsFinite reports whether v is neither NaN nor Inf.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// AllFinite reports whether every element of xs is finite.
func AllFinite(xs []float32) bool {
	for _, x := range xs {
		v := float64(x)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

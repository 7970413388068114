package optimizer

import (
	"math"

	"github.com/audioforge/denoise/numeric"
)

// Parameter is a named, flat model parameter with its accumulated gradient.
// The model owns the backing slices; optimizers mutate Data in place and
// never reallocate it, so borrowed references stay valid across steps.
type Parameter struct {
	Name string
	Data []float32
	Grad []float32
}

// ZeroGrad clears the accumulated gradient.
func (p *Parameter) ZeroGrad() {
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}

// ZeroGrads clears the gradients of all params.
func ZeroGrads(params []*Parameter) {
	for _, p := range params {
		p.ZeroGrad()
	}
}

// GradNorm returns the global L2 norm over all parameter gradients.
func GradNorm(params []*Parameter) float64 {
	var sq float64
	for _, p := range params {
		for _, g := range p.Grad {
			sq += float64(g) * float64(g)
		}
	}
	return math.Sqrt(sq)
}

// ClipGradNorm scales all gradients so their global L2 norm does not exceed
// maxNorm. With errorIfNonFinite set, a NaN/Inf gradient yields a typed
// *numeric.NonFiniteError instead of silently clipping.
func ClipGradNorm(params []*Parameter, maxNorm float64, errorIfNonFinite bool) (float64, error) {
	total := GradNorm(params)
	if !numeric.IsFinite(total) {
		if errorIfNonFinite {
			return total, &numeric.NonFiniteError{
				Stage:  numeric.StageGradient,
				Detail: "total gradient norm is non-finite",
			}
		}
		return total, nil
	}
	if total > maxNorm {
		scale := float32(maxNorm / (total + 1e-6))
		for _, p := range params {
			for i := range p.Grad {
				p.Grad[i] *= scale
			}
		}
	}
	return total, nil
}

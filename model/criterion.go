package model

import (
	"github.com/audioforge/denoise/dataset"
	"github.com/audioforge/denoise/numeric"
	"github.com/audioforge/denoise/training"
)

// Weights of the auxiliary penalty terms. Baseline.Backward differentiates
// the same composite, so these must stay in sync with it.
const (
	maskLambda = 0.05
	dfLambda   = 0.01
)

// Criterion is the composite enhancement loss paired with Baseline: a
// time-domain reconstruction error plus small mask and deep-filtering
// coefficient penalties.
type Criterion struct{}

// Compute returns the scalar composite loss and its named sub-losses.
// A non-finite result surfaces as a typed *numeric.NonFiniteError.
func (c *Criterion) Compute(b *dataset.Batch, out *training.Output) (float64, map[string]float64, error) {
	n := b.Size()

	var mse float64
	for i := 0; i < n; i++ {
		clean := b.Speech[i]
		enh := out.Enhanced[i]
		var sum float64
		for t := range clean {
			d := float64(enh[t] - clean[t])
			sum += d * d
		}
		mse += sum / float64(len(clean)*n)
	}

	var maskNorm float64
	for i := 0; i < n; i++ {
		for _, g := range out.Mask[i] {
			maskNorm += float64(g) * float64(g)
		}
	}
	maskNorm /= float64(n * len(out.Mask[0]))

	var dfNorm float64
	for _, a := range out.DfAlpha[0] {
		dfNorm += float64(a) * float64(a)
	}
	dfNorm /= float64(len(out.DfAlpha[0]))

	loss := mse + maskLambda*maskNorm + dfLambda*dfNorm
	if !numeric.IsFinite(loss) {
		return 0, nil, &numeric.NonFiniteError{Stage: numeric.StageLoss, Detail: "composite enhancement loss"}
	}
	subs := map[string]float64{
		"spectral": mse,
		"mask":     maskNorm,
		"df_alpha": dfNorm,
	}
	return loss, subs, nil
}

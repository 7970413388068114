package training

import (
	"github.com/audioforge/denoise/dataset"
	"github.com/audioforge/denoise/optimizer"
)

// Output carries the model's per-batch products: the enhanced signal,
// the intermediate band mask, a per-frame log-SNR estimate and the
// deep-filtering coefficients. All fields share the batch dimension.
type Output struct {
	Enhanced [][]float32
	Mask     [][]float32
	LSNR     [][]float32
	DfAlpha  [][]float32
}

// Release drops references to the output's tensors. Used on the
// NaN-recovery path to bound peak memory.
func (o *Output) Release() {
	o.Enhanced = nil
	o.Mask = nil
	o.LSNR = nil
	o.DfAlpha = nil
}

// Model is the enhancement network as seen by the training core.
// Parameter slices returned by NamedParameters are borrowed references:
// optimizers mutate them in place.
type Model interface {
	// Forward runs the enhancement pass over one batch.
	Forward(b *dataset.Batch) (*Output, error)

	// Backward accumulates parameter gradients for the last forward
	// pass. A non-finite gradient surfaces as *numeric.NonFiniteError.
	Backward(b *dataset.Batch, out *Output) error

	// SetTraining toggles train/eval mode.
	SetTraining(train bool)

	// DetachHidden cuts any recurrent state carried across batches so
	// gradients do not flow over batch boundaries.
	DetachHidden()

	// NamedParameters enumerates all trainable parameters.
	NamedParameters() []*optimizer.Parameter
}

// Criterion computes the composite scalar loss plus named sub-losses for
// one batch. A non-finite loss surfaces as *numeric.NonFiniteError; any
// other error is treated as fatal by the caller.
type Criterion interface {
	Compute(b *dataset.Batch, out *Output) (float64, map[string]float64, error)
}

// SummarySink receives periodic representative artifacts (audio excerpts,
// diagnostic series) from the first item of the current batch.
type SummarySink interface {
	Write(split dataset.Split, epoch int, b *dataset.Batch, out *Output) error
}

package training

import (
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/audioforge/denoise/dataset"
	"github.com/audioforge/denoise/numeric"
	"github.com/audioforge/denoise/optimizer"
)

// evalSeed fixes the batch order of valid/test epochs so evaluation is
// reproducible across runs. Training epochs derive their seed from the
// epoch index instead.
const evalSeed = 42

// GradClipNorm bounds the global gradient norm applied on every training
// step; clipping requires all gradients finite.
const GradClipNorm = 1.0

// StepOutcome is the result of processing one batch: either a finite
// scalar loss with optional sub-losses, or a non-finite signal carrying
// the failure stage.
type StepOutcome struct {
	Loss      float64
	Subs      map[string]float64
	NonFinite *numeric.NonFiniteError
}

// EpochRunner executes one full pass over one data split.
type EpochRunner struct {
	Model     Model
	Criterion Criterion
	Loader    dataset.Loader
	Summary   SummarySink
	Log       *zap.SugaredLogger
	LogFreq   int  // batches between periodic metric lines
	Debug     bool // retain raw losses on the train split too
}

// Run drives one epoch of split and returns its mean loss. Training
// epochs additionally perform gradient updates through opt. Non-finite
// steps are skipped up to the retry budget; exceeding it re-raises the
// originating error.
func (r *EpochRunner) Run(epoch int, split dataset.Split, opt optimizer.Optimizer, agg *LossAggregator) (float64, error) {
	isTrain := split == dataset.Train
	r.Log.Infof("Start %s epoch %d", split, epoch)

	logFreq := r.LogFreq
	if logFreq <= 0 {
		logFreq = DefaultRollingWindow
	}
	bs := r.Loader.BatchSize()
	if !isTrain {
		bs = r.Loader.BatchSizeEval()
	}

	r.Model.SetTraining(isTrain)
	agg.StoreAll = r.Debug || !isTrain
	maxSteps := r.Loader.Len(split) - 1
	seed := int64(epoch)
	if !isTrain {
		seed = evalSeed
	}
	guard := newNaNGuard()
	r.Log.Infof("Dataloader len: %d", r.Loader.Len(split))

	var lastBatch *dataset.Batch
	var lastOut *Output
	it := r.Loader.IterEpoch(split, seed)
	for i := 0; ; i++ {
		batch, ok := it.Next()
		if !ok {
			break
		}
		if err := batch.Validate(); err != nil {
			return 0, errors.Wrapf(err, "%s batch %d", split, i)
		}
		if isTrain {
			opt.ZeroGrad()
		}

		outcome, out, err := r.step(batch, isTrain, opt)
		if err != nil {
			return 0, err
		}
		lastBatch, lastOut = batch, out
		if outcome.NonFinite != nil {
			r.Log.Warnf("Non-finite %s in step %d: %v. Skipping batch.",
				outcome.NonFinite.Stage, i, outcome.NonFinite)
			logNonFiniteParams(r.Model, r.Log)
			if out != nil {
				out.Release()
			}
			batch.Release()
			if err := guard.admit(outcome.NonFinite); err != nil {
				return 0, err
			}
			continue
		}

		r.Model.DetachHidden()
		agg.Append(outcome.Loss, outcome.Subs)

		if i%logFreq == 0 {
			mean, ok := agg.RollingMean()
			if ok && !numeric.IsFinite(mean) {
				logNonFiniteParams(r.Model, r.Log)
			}
			fields := []interface{}{"loss", mean}
			if r.Debug {
				for name, v := range agg.SubMeansLast(bs) {
					fields = append(fields, name, v)
				}
			}
			r.Log.Infow(fmt.Sprintf("[%d] [%d/%d]", epoch, i, maxSteps), fields...)
			if r.Summary != nil {
				if err := r.Summary.Write(split, epoch, batch, out); err != nil {
					r.Log.Warnf("Failed to write summary: %v", err)
				}
			}
		}
	}

	// Best-effort release of the final batch's tensors.
	if lastBatch != nil {
		lastBatch.Release()
	}
	if lastOut != nil {
		lastOut.Release()
	}

	mean, ok := agg.EpochMean()
	if !ok {
		return 0, errors.Errorf("no finite batches processed in %s epoch %d", split, epoch)
	}
	return mean, nil
}

// step processes one batch and reports the outcome as a value. Only
// non-finite loss/gradient conditions are folded into the outcome; every
// other failure comes back as an error and terminates the epoch.
func (r *EpochRunner) step(b *dataset.Batch, isTrain bool, opt optimizer.Optimizer) (StepOutcome, *Output, error) {
	out, err := r.Model.Forward(b)
	if err != nil {
		return StepOutcome{}, nil, errors.Wrap(err, "forward pass")
	}

	loss, subs, err := r.Criterion.Compute(b, out)
	if err != nil {
		var nf *numeric.NonFiniteError
		if errors.As(err, &nf) {
			return StepOutcome{NonFinite: nf}, out, nil
		}
		return StepOutcome{}, out, errors.Wrap(err, "loss computation")
	}
	if !numeric.IsFinite(loss) {
		nf := &numeric.NonFiniteError{Stage: numeric.StageLoss, Detail: "scalar loss value"}
		return StepOutcome{NonFinite: nf}, out, nil
	}

	if isTrain {
		if err := r.Model.Backward(b, out); err != nil {
			var nf *numeric.NonFiniteError
			if errors.As(err, &nf) {
				return StepOutcome{NonFinite: nf}, out, nil
			}
			return StepOutcome{}, out, errors.Wrap(err, "backward pass")
		}
		if _, err := optimizer.ClipGradNorm(r.Model.NamedParameters(), GradClipNorm, true); err != nil {
			var nf *numeric.NonFiniteError
			if errors.As(err, &nf) {
				return StepOutcome{NonFinite: nf}, out, nil
			}
			return StepOutcome{}, out, errors.Wrap(err, "gradient clipping")
		}
		if err := opt.Step(); err != nil {
			return StepOutcome{}, out, errors.Wrap(err, "optimizer step")
		}
	}

	return StepOutcome{Loss: loss, Subs: subs}, out, nil
}

// logNonFiniteParams sweeps the model's parameters and logs every tensor
// holding a NaN or Inf. Diagnostic only; never aborts on its own.
func logNonFiniteParams(m Model, log *zap.SugaredLogger) {
	for _, p := range m.NamedParameters() {
		if !numeric.AllFinite(p.Data) {
			log.Warnf("Parameter %s contains non-finite values", p.Name)
		}
		if !numeric.AllFinite(p.Grad) {
			log.Warnf("Gradient of %s contains non-finite values", p.Name)
		}
	}
}

package training

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/audioforge/denoise/dataset"
	"github.com/audioforge/denoise/optimizer"
)

// Orchestrator drives the full training run: the epoch loop over the
// train/valid splits, exactly-once-per-epoch checkpointing, learning-rate
// advancement, the graceful-stop check at epoch boundaries and the final
// test pass.
type Orchestrator struct {
	Runner    *EpochRunner
	Opt       optimizer.Optimizer
	Scheduler LRScheduler
	Agg       *LossAggregator

	CheckpointDir string
	StartEpoch    int // resumed from a checkpoint tag, 0 on fresh runs
	MaxEpochs     int
	StartEval     bool // run one validation pass before the first epoch
	Debug         bool

	Stop *StopToken
	Log  *zap.SugaredLogger
}

// Run executes the training run to completion, graceful stop, or fatal
// error. A graceful stop returns nil: the caller exits with success.
func (o *Orchestrator) Run() error {
	if o.StartEval {
		valLoss, err := o.Runner.Run(o.StartEpoch-1, dataset.Valid, o.Opt, o.Agg)
		if err != nil {
			return err
		}
		o.logMetrics(fmt.Sprintf("[%d] [valid]", o.StartEpoch-1), valLoss, 0, true)
	}
	o.Agg.Reset()

	epoch := o.StartEpoch
	for ; epoch < o.MaxEpochs; epoch++ {
		// The schedule is a pure function of the epoch index, so a
		// resumed run recomputes the same rate as a fresh one.
		lr := o.Scheduler.GetLR(epoch, 0, o.Opt.InitialLR())
		o.Opt.SetLR(lr)

		trainLoss, err := o.Runner.Run(epoch, dataset.Train, o.Opt, o.Agg)
		if err != nil {
			return err
		}
		o.logMetrics(fmt.Sprintf("[%d] [train]", epoch), trainLoss, lr, o.Debug)

		// Checkpoint strictly after training and strictly before
		// validation: a resume lands at the start of validation for
		// the last completed training epoch, never mid-training.
		if err := SaveModel(o.Runner.Model, o.CheckpointDir, epoch+1); err != nil {
			return errors.Wrapf(err, "write model checkpoint for epoch %d", epoch)
		}
		if err := SaveOptimizer(o.Opt, o.CheckpointDir, epoch+1); err != nil {
			return errors.Wrapf(err, "write optimizer checkpoint for epoch %d", epoch)
		}
		o.Agg.Reset()

		valLoss, err := o.Runner.Run(epoch, dataset.Valid, o.Opt, o.Agg)
		if err != nil {
			return err
		}
		o.logMetrics(fmt.Sprintf("[%d] [valid]", epoch), valLoss, 0, true)

		if o.Stop != nil && o.Stop.Stopped() {
			o.Log.Info("Stopping training")
			return nil
		}
		o.Agg.Reset()
	}

	testEpoch := epoch - 1
	testLoss, err := o.Runner.Run(testEpoch, dataset.Test, o.Opt, o.Agg)
	if err != nil {
		return err
	}
	o.logMetrics(fmt.Sprintf("[%d] [test]", testEpoch), testLoss, 0, true)
	o.Log.Info("Finished training")
	return nil
}

// logMetrics emits one structured metrics line: the primary loss, the
// learning rate when relevant, and the retained sub-loss means.
func (o *Orchestrator) logMetrics(label string, loss, lr float64, withSubs bool) {
	fields := []interface{}{"loss", loss}
	if lr > 0 {
		fields = append(fields, "lr", lr)
	}
	if withSubs {
		subs := o.Agg.SubMeans()
		names := make([]string, 0, len(subs))
		for name := range subs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fields = append(fields, name, subs[name])
		}
	}
	o.Log.Infow(label, fields...)
}

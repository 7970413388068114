package training

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/audioforge/denoise/dataset"
	"github.com/audioforge/denoise/numeric"
	"github.com/audioforge/denoise/optimizer"
)

func newTestRunner(m Model, c Criterion, l dataset.Loader) *EpochRunner {
	return &EpochRunner{
		Model:     m,
		Criterion: c,
		Loader:    l,
		Log:       zap.NewNop().Sugar(),
		LogFreq:   100,
	}
}

func newTestOptimizer(t *testing.T, m Model) optimizer.Optimizer {
	t.Helper()
	opt, err := optimizer.NewAdamW(optimizer.DefaultAdamWConfig(), m.NamedParameters())
	require.NoError(t, err)
	return opt
}

func TestEpochRunnerNaNBudgetExceeded(t *testing.T) {
	model := newFakeModel("enc.weight")
	crit := &fakeCriterion{losses: nans(11)}
	loader := newFakeLoader(11, 0, 0)
	runner := newTestRunner(model, crit, loader)
	opt := newTestOptimizer(t, model)
	agg := NewLossAggregator(10)

	_, err := runner.Run(0, dataset.Train, opt, agg)
	require.Error(t, err)
	var nf *numeric.NonFiniteError
	require.True(t, errors.As(err, &nf), "expected the originating non-finite error, got %v", err)
	assert.Equal(t, numeric.StageLoss, nf.Stage)
	assert.Equal(t, uint64(0), opt.GetStepCount(), "no optimizer step may run on non-finite batches")
}

func TestEpochRunnerNaNBudgetRecovers(t *testing.T) {
	model := newFakeModel("enc.weight")
	losses := append(nans(10), 2.5)
	crit := &fakeCriterion{losses: losses}
	loader := newFakeLoader(11, 0, 0)
	runner := newTestRunner(model, crit, loader)
	opt := newTestOptimizer(t, model)
	agg := NewLossAggregator(10)

	mean, err := runner.Run(0, dataset.Train, opt, agg)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, mean, 1e-12, "mean must reflect only the finite batch")
	assert.Equal(t, uint64(1), opt.GetStepCount())
	assert.Equal(t, 1, model.detachCount, "hidden state detaches only on successful steps")
}

func TestEpochRunnerNonFiniteGradientSharesBudget(t *testing.T) {
	model := newFakeModel("enc.weight")
	model.gradValue = float32(math.NaN())
	crit := &fakeCriterion{losses: []float64{1.0}}
	loader := newFakeLoader(11, 0, 0)
	runner := newTestRunner(model, crit, loader)
	opt := newTestOptimizer(t, model)

	_, err := runner.Run(0, dataset.Train, opt, NewLossAggregator(10))
	require.Error(t, err)
	var nf *numeric.NonFiniteError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, numeric.StageGradient, nf.Stage)
	assert.Equal(t, uint64(0), opt.GetStepCount())
}

func TestEpochRunnerNonNumericalErrorPropagates(t *testing.T) {
	model := newFakeModel("enc.weight")
	crit := &fakeCriterion{err: errors.New("feature shape mismatch")}
	loader := newFakeLoader(5, 0, 0)
	runner := newTestRunner(model, crit, loader)
	opt := newTestOptimizer(t, model)

	_, err := runner.Run(0, dataset.Train, opt, NewLossAggregator(10))
	require.Error(t, err)
	var nf *numeric.NonFiniteError
	assert.False(t, errors.As(err, &nf), "plain errors must not be classified as NaN cases")
	assert.Contains(t, err.Error(), "feature shape mismatch")
	assert.Equal(t, 1, crit.calls, "epoch must abort on the first non-numerical error")
}

func TestEpochRunnerEvalSkipsGradients(t *testing.T) {
	model := newFakeModel("enc.weight")
	crit := &fakeCriterion{losses: []float64{1.0}}
	loader := newFakeLoader(0, 3, 0)
	runner := newTestRunner(model, crit, loader)
	opt := newTestOptimizer(t, model)
	agg := NewLossAggregator(10)

	mean, err := runner.Run(2, dataset.Valid, opt, agg)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, mean, 1e-12)
	assert.Equal(t, uint64(0), opt.GetStepCount())
	assert.False(t, model.training, "model must be in eval mode")
	assert.True(t, agg.StoreAll, "non-training splits force raw loss retention")
}

// recordingSink counts summary emissions and can fail on demand.
type recordingSink struct {
	splits []dataset.Split
	epochs []int
	err    error
}

func (s *recordingSink) Write(split dataset.Split, epoch int, b *dataset.Batch, out *Output) error {
	s.splits = append(s.splits, split)
	s.epochs = append(s.epochs, epoch)
	return s.err
}

func TestEpochRunnerSummaryCadence(t *testing.T) {
	model := newFakeModel("enc.weight")
	crit := &fakeCriterion{losses: []float64{1.0}}
	loader := newFakeLoader(5, 0, 0)
	runner := newTestRunner(model, crit, loader)
	sink := &recordingSink{}
	runner.Summary = sink
	runner.LogFreq = 2
	opt := newTestOptimizer(t, model)

	_, err := runner.Run(3, dataset.Train, opt, NewLossAggregator(10))
	require.NoError(t, err)

	// Batches 0, 2 and 4 hit the cadence.
	assert.Equal(t, []dataset.Split{dataset.Train, dataset.Train, dataset.Train}, sink.splits)
	assert.Equal(t, []int{3, 3, 3}, sink.epochs)
}

func TestEpochRunnerSummaryErrorIsNonFatal(t *testing.T) {
	model := newFakeModel("enc.weight")
	crit := &fakeCriterion{losses: []float64{1.0}}
	loader := newFakeLoader(3, 0, 0)
	runner := newTestRunner(model, crit, loader)
	runner.Summary = &recordingSink{err: errors.New("disk full")}
	runner.LogFreq = 1
	opt := newTestOptimizer(t, model)

	mean, err := runner.Run(0, dataset.Train, opt, NewLossAggregator(10))
	require.NoError(t, err, "summary failures are logged, never fatal")
	assert.InDelta(t, 1.0, mean, 1e-12)
}

func TestEpochRunnerSeedPolicy(t *testing.T) {
	model := newFakeModel("enc.weight")
	crit := &fakeCriterion{}
	loader := newFakeLoader(1, 1, 1)
	runner := newTestRunner(model, crit, loader)
	opt := newTestOptimizer(t, model)

	_, err := runner.Run(7, dataset.Train, opt, NewLossAggregator(10))
	require.NoError(t, err)
	_, err = runner.Run(7, dataset.Valid, opt, NewLossAggregator(10))
	require.NoError(t, err)
	_, err = runner.Run(9, dataset.Test, opt, NewLossAggregator(10))
	require.NoError(t, err)

	require.Equal(t, []dataset.Split{dataset.Train, dataset.Valid, dataset.Test}, loader.splits)
	assert.Equal(t, []int64{7, evalSeed, evalSeed}, loader.seeds,
		"train shuffles by epoch, eval splits use the fixed seed")
}

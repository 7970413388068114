package training

import (
	"math"

	"github.com/audioforge/denoise/dataset"
	"github.com/audioforge/denoise/optimizer"
)

// makeBatch builds a single-item batch with all fields aligned.
func makeBatch(fill float32, samples int) *dataset.Batch {
	sig := make([]float32, samples)
	for i := range sig {
		sig[i] = fill
	}
	return &dataset.Batch{
		Speech:   [][]float32{sig},
		Noisy:    [][]float32{sig},
		FeatErb:  [][]float32{{fill}},
		FeatSpec: [][]float32{{fill}},
		SNR:      []float32{5},
		Atten:    []float32{0},
		MaxFreq:  []int{1},
	}
}

type fakeIterator struct {
	batches []*dataset.Batch
	pos     int
}

func (it *fakeIterator) Next() (*dataset.Batch, bool) {
	if it.pos >= len(it.batches) {
		return nil, false
	}
	b := it.batches[it.pos]
	it.pos++
	return b, true
}

// fakeLoader replays fixed batches per split and records every
// IterEpoch call for assertions on split order and seed policy.
type fakeLoader struct {
	batches map[dataset.Split][]*dataset.Batch
	bs      int
	bsEval  int

	splits []dataset.Split
	seeds  []int64
}

func newFakeLoader(nTrain, nValid, nTest int) *fakeLoader {
	mk := func(n int) []*dataset.Batch {
		out := make([]*dataset.Batch, n)
		for i := range out {
			out[i] = makeBatch(0.5, 8)
		}
		return out
	}
	return &fakeLoader{
		batches: map[dataset.Split][]*dataset.Batch{
			dataset.Train: mk(nTrain),
			dataset.Valid: mk(nValid),
			dataset.Test:  mk(nTest),
		},
		bs:     1,
		bsEval: 1,
	}
}

func (l *fakeLoader) Len(split dataset.Split) int { return len(l.batches[split]) }
func (l *fakeLoader) BatchSize() int              { return l.bs }
func (l *fakeLoader) BatchSizeEval() int          { return l.bsEval }

func (l *fakeLoader) IterEpoch(split dataset.Split, seed int64) dataset.Iterator {
	l.splits = append(l.splits, split)
	l.seeds = append(l.seeds, seed)
	// Fresh copies: the runner releases batch tensors.
	src := l.batches[split]
	batches := make([]*dataset.Batch, len(src))
	for i := range src {
		batches[i] = makeBatch(0.5, 8)
	}
	return &fakeIterator{batches: batches}
}

// fakeModel has a handful of one-element parameters. Backward writes a
// fixed gradient; eval-mode forward can be made to mutate parameters to
// expose checkpoint-ordering violations.
type fakeModel struct {
	params      []*optimizer.Parameter
	training    bool
	detachCount int

	gradValue   float32
	backwardErr error
	evalMutates bool
}

func newFakeModel(names ...string) *fakeModel {
	m := &fakeModel{gradValue: 1.0}
	for _, name := range names {
		m.params = append(m.params, &optimizer.Parameter{
			Name: name,
			Data: make([]float32, 1),
			Grad: make([]float32, 1),
		})
	}
	return m
}

func (m *fakeModel) Forward(b *dataset.Batch) (*Output, error) {
	if m.evalMutates && !m.training {
		m.params[0].Data[0] += 100
	}
	return &Output{Enhanced: b.Noisy, Mask: b.FeatErb}, nil
}

func (m *fakeModel) Backward(b *dataset.Batch, out *Output) error {
	if m.backwardErr != nil {
		return m.backwardErr
	}
	for _, p := range m.params {
		for i := range p.Grad {
			p.Grad[i] = m.gradValue
		}
	}
	return nil
}

func (m *fakeModel) SetTraining(train bool) { m.training = train }

func (m *fakeModel) DetachHidden() { m.detachCount++ }

func (m *fakeModel) NamedParameters() []*optimizer.Parameter { return m.params }

// fakeCriterion replays a scripted loss sequence. NaN entries exercise
// the runner's non-finite loss path; the hook fires before each call.
type fakeCriterion struct {
	losses []float64
	err    error
	calls  int
	hook   func(call int)
}

func (c *fakeCriterion) Compute(b *dataset.Batch, out *Output) (float64, map[string]float64, error) {
	call := c.calls
	c.calls++
	if c.hook != nil {
		c.hook(call)
	}
	if c.err != nil {
		return 0, nil, c.err
	}
	if len(c.losses) == 0 {
		return 1.0, nil, nil
	}
	idx := call
	if idx >= len(c.losses) {
		idx = len(c.losses) - 1
	}
	return c.losses[idx], nil, nil
}

func nans(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

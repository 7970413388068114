package dataset

import (
	"math/rand"
)

// Iterator yields the batches of one epoch in a fixed order.
type Iterator interface {
	// Next returns the next batch, or (nil, false) once the epoch
	// sequence is exhausted.
	Next() (*Batch, bool)
}

// Loader produces finite, restartable per-epoch batch sequences. The
// training core treats batch retrieval as a blocking call; any prefetch
// concurrency stays behind this interface.
type Loader interface {
	// Len returns the number of batches one epoch of split yields.
	Len(split Split) int

	// BatchSize returns the configured training batch size.
	BatchSize() int

	// BatchSizeEval returns the evaluation batch size, falling back to
	// the training batch size when no separate value is configured.
	BatchSizeEval() int

	// IterEpoch starts a fresh pass over split. The same seed yields
	// the same batch order, sample for sample.
	IterEpoch(split Split, seed int64) Iterator
}

// MemLoader serves pre-materialized samples from memory with seeded
// shuffling. The train split is re-shuffled per call; valid/test order
// is fixed by the caller passing a constant seed.
type MemLoader struct {
	samples       map[Split][]*Sample
	batchSize     int
	batchSizeEval int
}

// NewMemLoader creates a loader over per-split sample sets. batchSizeEval
// of zero or less falls back to batchSize.
func NewMemLoader(samples map[Split][]*Sample, batchSize, batchSizeEval int) *MemLoader {
	if batchSize <= 0 {
		batchSize = 1
	}
	if batchSizeEval <= 0 {
		batchSizeEval = batchSize
	}
	return &MemLoader{samples: samples, batchSize: batchSize, batchSizeEval: batchSizeEval}
}

func (l *MemLoader) BatchSize() int     { return l.batchSize }
func (l *MemLoader) BatchSizeEval() int { return l.batchSizeEval }

func (l *MemLoader) splitBatchSize(split Split) int {
	if split == Train {
		return l.batchSize
	}
	return l.batchSizeEval
}

// Len returns the number of batches per epoch, dropping any trailing
// partial batch the way the upstream sharded loader does.
func (l *MemLoader) Len(split Split) int {
	return len(l.samples[split]) / l.splitBatchSize(split)
}

// IterEpoch shuffles the split's sample indices with the given seed and
// returns an iterator over whole batches.
func (l *MemLoader) IterEpoch(split Split, seed int64) Iterator {
	samples := l.samples[split]
	indices := make([]int, len(samples))
	for i := range indices {
		indices[i] = i
	}
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(indices), func(i, j int) {
		indices[i], indices[j] = indices[j], indices[i]
	})
	return &memIterator{samples: samples, indices: indices, batchSize: l.splitBatchSize(split)}
}

type memIterator struct {
	samples   []*Sample
	indices   []int
	batchSize int
	position  int
}

func (it *memIterator) Next() (*Batch, bool) {
	if it.position+it.batchSize > len(it.indices) {
		return nil, false
	}
	picked := make([]*Sample, it.batchSize)
	for i := 0; i < it.batchSize; i++ {
		picked[i] = it.samples[it.indices[it.position+i]]
	}
	it.position += it.batchSize
	return stack(picked), true
}

package training

import (
	"sort"
)

// LossAggregator accumulates one primary scalar loss per processed batch
// plus named auxiliary sub-losses. With StoreAll set it retains every raw
// value (debug / evaluation mode); otherwise it keeps only what the
// epoch-level mean and the rolling window need.
type LossAggregator struct {
	StoreAll bool

	window []float64 // ring buffer of the most recent primary losses
	wpos   int
	wcount int

	sum   float64
	count int

	all  []float64
	subs map[string][]float64
}

// DefaultRollingWindow is the number of recent steps averaged for
// periodic in-epoch logging.
const DefaultRollingWindow = 100

// NewLossAggregator creates an aggregator with the given rolling window.
func NewLossAggregator(windowSize int) *LossAggregator {
	if windowSize <= 0 {
		windowSize = DefaultRollingWindow
	}
	return &LossAggregator{
		window: make([]float64, windowSize),
		subs:   make(map[string][]float64),
	}
}

// Append records one step's primary loss and its named sub-losses.
// Sub-losses are retained only in StoreAll mode.
func (a *LossAggregator) Append(loss float64, subs map[string]float64) {
	a.window[a.wpos] = loss
	a.wpos = (a.wpos + 1) % len(a.window)
	if a.wcount < len(a.window) {
		a.wcount++
	}
	a.sum += loss
	a.count++
	if a.StoreAll {
		a.all = append(a.all, loss)
		for name, v := range subs {
			a.subs[name] = append(a.subs[name], v)
		}
	}
}

// Count returns the number of recorded steps since the last reset.
func (a *LossAggregator) Count() int { return a.count }

// RollingMean returns the mean of the most recent window of losses.
// The second return is false before any value has been appended.
func (a *LossAggregator) RollingMean() (float64, bool) {
	if a.wcount == 0 {
		return 0, false
	}
	var sum float64
	for i := 0; i < a.wcount; i++ {
		sum += a.window[i]
	}
	return sum / float64(a.wcount), true
}

// EpochMean returns the mean over every loss recorded since the last
// reset. The second return is false when nothing was recorded.
func (a *LossAggregator) EpochMean() (float64, bool) {
	if a.count == 0 {
		return 0, false
	}
	return a.sum / float64(a.count), true
}

// SubNames returns the recorded sub-loss names in deterministic order.
func (a *LossAggregator) SubNames() []string {
	names := make([]string, 0, len(a.subs))
	for name := range a.subs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SubMeans returns the full-epoch mean of every retained sub-loss.
func (a *LossAggregator) SubMeans() map[string]float64 {
	return a.subMeansLast(0)
}

// SubMeansLast returns the mean over the last n values of every retained
// sub-loss; n of zero or less means all values.
func (a *LossAggregator) SubMeansLast(n int) map[string]float64 {
	return a.subMeansLast(n)
}

func (a *LossAggregator) subMeansLast(n int) map[string]float64 {
	out := make(map[string]float64, len(a.subs))
	for name, vals := range a.subs {
		if len(vals) == 0 {
			continue
		}
		tail := vals
		if n > 0 && len(vals) > n {
			tail = vals[len(vals)-n:]
		}
		var sum float64
		for _, v := range tail {
			sum += v
		}
		out[name] = sum / float64(len(tail))
	}
	return out
}

// Reset clears all accumulated state. Called at the start of every epoch
// regardless of how the previous one ended.
func (a *LossAggregator) Reset() {
	for i := range a.window {
		a.window[i] = 0
	}
	a.wpos = 0
	a.wcount = 0
	a.sum = 0
	a.count = 0
	a.all = nil
	a.subs = make(map[string][]float64)
}

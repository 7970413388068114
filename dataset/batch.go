// Package dataset provides the batch record consumed by the training
// loop and loaders that produce deterministic, seeded per-epoch batch
// sequences for each data split.
package dataset

import "fmt"

// Split selects one of the three data partitions. The split decides
// whether gradients are computed (train only) and how the per-epoch
// shuffling seed is derived.
type Split int

const (
	Train Split = iota
	Valid
	Test
)

func (s Split) String() string {
	switch s {
	case Train:
		return "train"
	case Valid:
		return "valid"
	case Test:
		return "test"
	default:
		return "unknown"
	}
}

// Sample is one aligned training example.
type Sample struct {
	Speech   []float32 // clean reference signal
	Noisy    []float32 // noisy mixture
	FeatErb  []float32 // band-energy features
	FeatSpec []float32 // complex-spectrum features, interleaved re/im
	SNR      float32   // mixture signal-to-noise ratio in dB
	Atten    float32   // attenuation limit in dB; 0 means no limit
	MaxFreq  int       // highest occupied frequency bin
}

// Batch stacks samples along the leading dimension. All per-sample
// fields share that dimension.
type Batch struct {
	Speech   [][]float32
	Noisy    [][]float32
	FeatErb  [][]float32
	FeatSpec [][]float32
	SNR      []float32
	Atten    []float32
	MaxFreq  []int
}

// Size returns the leading (batch) dimension.
func (b *Batch) Size() int { return len(b.Noisy) }

// Validate checks the aligned-leading-dimension invariant.
func (b *Batch) Validate() error {
	n := len(b.Noisy)
	if n == 0 {
		return fmt.Errorf("empty batch")
	}
	if len(b.Speech) != n || len(b.FeatErb) != n || len(b.FeatSpec) != n ||
		len(b.SNR) != n || len(b.Atten) != n || len(b.MaxFreq) != n {
		return fmt.Errorf("batch fields disagree on leading dimension %d", n)
	}
	return nil
}

// Release drops references to the batch's large tensors so they can be
// collected. Used on the NaN-recovery path and at epoch end to bound
// peak memory.
func (b *Batch) Release() {
	b.Speech = nil
	b.Noisy = nil
	b.FeatErb = nil
	b.FeatSpec = nil
}

func stack(samples []*Sample) *Batch {
	b := &Batch{
		Speech:   make([][]float32, len(samples)),
		Noisy:    make([][]float32, len(samples)),
		FeatErb:  make([][]float32, len(samples)),
		FeatSpec: make([][]float32, len(samples)),
		SNR:      make([]float32, len(samples)),
		Atten:    make([]float32, len(samples)),
		MaxFreq:  make([]int, len(samples)),
	}
	for i, s := range samples {
		b.Speech[i] = s.Speech
		b.Noisy[i] = s.Noisy
		b.FeatErb[i] = s.FeatErb
		b.FeatSpec[i] = s.FeatSpec
		b.SNR[i] = s.SNR
		b.Atten[i] = s.Atten
		b.MaxFreq[i] = s.MaxFreq
	}
	return b
}

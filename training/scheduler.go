package training

import (
	"math"
)

// LRScheduler maps an epoch index to a learning rate. Implementations
// must be pure functions of their inputs so that a resumed run recomputes
// the exact rate a fresh run would have produced for the same epoch.
type LRScheduler interface {
	// GetLR returns the learning rate for the given epoch.
	GetLR(epoch int, step int, baseLR float64) float64

	// GetName returns the scheduler name for logging.
	GetName() string
}

// CosineWarmupScheduler ramps the rate linearly from WarmupInitLR to the
// base rate over NWarmup epochs, then follows a half-cosine decay inside
// periods that grow geometrically by TMult. Each new period shrinks the
// peak (and floor) by LRShrink.
type CosineWarmupScheduler struct {
	NWarmup       int     // warmup epochs before annealing starts
	WarmupInitLR  float64 // rate at epoch 0
	MinLR         float64 // cosine floor within the first period
	TMult         float64 // period length growth factor
	PeriodUpdates float64 // length of the first annealing period, in epochs
	LRShrink      float64 // peak decay applied at every period boundary
}

// NewCosineWarmupScheduler creates the schedule used for enhancement
// training: 3 warmup epochs starting at a tenth of the base rate, then
// cosine periods of 10 epochs growing by 1.5x and shrinking by 0.5x.
func NewCosineWarmupScheduler(baseLR float64) *CosineWarmupScheduler {
	return &CosineWarmupScheduler{
		NWarmup:       3,
		WarmupInitLR:  0.1 * baseLR,
		MinLR:         1e-6,
		TMult:         1.5,
		PeriodUpdates: 10,
		LRShrink:      0.5,
	}
}

func (s *CosineWarmupScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	if s.NWarmup > 0 && epoch < s.NWarmup {
		if s.NWarmup == 1 {
			return baseLR
		}
		// Linear interpolation with both endpoints included.
		frac := float64(epoch) / float64(s.NWarmup-1)
		return s.WarmupInitLR + (baseLR-s.WarmupInitLR)*frac
	}

	curr := float64(epoch - s.NWarmup)
	var period, tI, tCurr float64
	if s.TMult != 1 {
		period = math.Floor(math.Log(1-curr/s.PeriodUpdates*(1-s.TMult)) / math.Log(s.TMult))
		tI = math.Pow(s.TMult, period) * s.PeriodUpdates
		tCurr = curr - (1-math.Pow(s.TMult, period))/(1-s.TMult)*s.PeriodUpdates
	} else {
		period = math.Floor(curr / s.PeriodUpdates)
		tI = s.PeriodUpdates
		tCurr = curr - s.PeriodUpdates*period
	}

	shrink := math.Pow(s.LRShrink, period)
	maxLR := baseLR * shrink
	minLR := s.MinLR * shrink
	return minLR + 0.5*(maxLR-minLR)*(1+math.Cos(math.Pi*tCurr/tI))
}

func (s *CosineWarmupScheduler) GetName() string {
	return "CosineWarmup"
}

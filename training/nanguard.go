package training

import (
	"github.com/audioforge/denoise/numeric"
)

// MaxNaNRetries is the per-epoch ceiling on tolerated non-finite steps.
// Once exceeded, the originating error terminates the run.
const MaxNaNRetries = 10

// nanGuard counts non-finite step outcomes within one epoch. Loss-stage
// and gradient-stage events share the same budget; the stage only feeds
// diagnostics. A fresh guard is created for every epoch.
type nanGuard struct {
	count int
	limit int
}

func newNaNGuard() *nanGuard {
	return &nanGuard{limit: MaxNaNRetries}
}

// admit records one non-finite event. It returns nil while the budget
// holds, and the originating error once the ceiling is exceeded.
func (g *nanGuard) admit(err *numeric.NonFiniteError) error {
	g.count++
	if g.count > g.limit {
		return err
	}
	return nil
}

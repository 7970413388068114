package training

import (
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"

	"go.uber.org/zap"
)

// StopToken is a cancellation flag set asynchronously by a signal handler
// and polled by the orchestrator at epoch boundaries only. In-flight
// batches are never interrupted, which keeps stop semantics race-free.
type StopToken struct {
	flag atomic.Bool
}

// Set requests a graceful stop. Safe to call from any goroutine.
func (t *StopToken) Set() { t.flag.Store(true) }

// Stopped reports whether a stop has been requested.
func (t *StopToken) Stopped() bool { return t.flag.Load() }

// ListenForStop registers a handler for the given signals. On receipt it
// sets the token, writes an empty "continue" sentinel file in baseDir for
// external orchestration to pick up, and logs a warning. The returned
// function unregisters the handler.
func ListenForStop(tok *StopToken, baseDir string, log *zap.SugaredLogger, sigs ...os.Signal) func() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	go func() {
		for range ch {
			log.Warn("Received timeout signal. Stopping after current epoch")
			tok.Set()
			continueFile := filepath.Join(baseDir, "continue")
			log.Warnf("Writing %s", continueFile)
			if err := os.WriteFile(continueFile, nil, 0o644); err != nil {
				log.Errorf("Failed to write %s: %v", continueFile, err)
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(ch)
	}
}

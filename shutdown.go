package faktory

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Work starts the fetch and heartbeat loops and blocks until the worker
// stops, either because ctx is cancelled, the process receives SIGINT or
// SIGTERM, the server's heartbeat reply says "terminate", or Stop is called
// directly. Returns ErrShutdownAborted if the graceful shutdown budget was
// exceeded and jobs had to be force-failed; callers (typically the CLI) use
// that to decide an exit code.
func (w *Worker) Work(ctx context.Context) error {
	sigCtx, stopNotify := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stopNotify()
	stopQuietSignal := installQuietSignal(w)
	defer stopQuietSignal()

	w.backgroundCtx, w.cancelBackground = context.WithCancel(context.Background())
	w.backgroundWG.Add(2)
	go func() { defer w.backgroundWG.Done(); w.fetchLoop(w.backgroundCtx) }()
	go func() { defer w.backgroundWG.Done(); w.heartbeatLoop(w.backgroundCtx) }()

	select {
	case <-sigCtx.Done():
		w.Stop()
	case <-w.stoppedCh:
	}

	if w.forceAborted.Load() {
		return ErrShutdownAborted
	}
	return nil
}

// Stop begins graceful shutdown and blocks until it completes. Safe to call
// more than once, and from multiple goroutines — every caller blocks until
// the one actual shutdown run finishes.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.runShutdown()
		close(w.stoppedCh)
	})
}

// runShutdown implements §4.8's two-phase graceful/forced shutdown.
func (w *Worker) runShutdown() {
	w.transitionAtLeast(stateQuieted)
	w.transitionAtLeast(stateStopping)

	allDone := make(chan struct{})
	go func() {
		w.jobWG.Wait()
		close(allDone)
	}()

	var shutdownErr error
	select {
	case <-allDone:
		// Every in-flight handler finished within the budget.
	case <-time.After(w.timeout):
		w.transitionAtLeast(stateForceAborted)
		w.forceAborted.Store(true)
		w.cancelShutdownSignal()

		select {
		case <-allDone:
		case <-time.After(w.cleanupDelay):
		}
		shutdownErr = w.failRemaining()
	}

	if w.cancelBackground != nil {
		w.cancelBackground()
	}
	w.backgroundWG.Wait()

	if closeErr := w.client.Close(); closeErr != nil {
		shutdownErr = multierr.Append(shutdownErr, closeErr)
	}

	w.transitionAtLeast(stateStopped)
	if shutdownErr != nil {
		w.events.emitError(shutdownErr)
		w.logger.Error("shutdown completed with errors", zap.Error(shutdownErr))
	}
}

// failRemaining claims and FAILs every job still in flight after the
// cleanup delay elapses. A job whose handler claimed it first (it finished,
// just barely, during the cleanup window) is left alone — handle() already
// owns its outcome.
func (w *Worker) failRemaining() error {
	var combined error
	w.inFlight.Range(func(_, v interface{}) bool {
		entry := v.(*inflightEntry)
		if !entry.claim() {
			return true
		}
		err := w.client.Fail(context.Background(), entry.job.Jid, "ShutdownAborted",
			"faktory worker shutdown timeout exceeded", nil)
		if err != nil {
			combined = multierr.Append(combined, fmt.Errorf("faktory: fail %s during shutdown: %w", entry.job.Jid, err))
		} else {
			w.metrics.recordFail()
			w.events.emitFail(entry.job, ErrShutdownAborted)
		}
		return true
	})
	return combined
}

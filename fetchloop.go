package faktory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// fetchLoop is the self-regulating loop described in §4.8: at most one
// outstanding FETCH at a time, concurrency bounded by acquiring a semaphore
// permit before every fetch and releasing it once the spawned handler
// completes. Exits once the worker reaches stateQuieted or ctx is
// cancelled.
func (w *Worker) fetchLoop(ctx context.Context) {
	for {
		if w.state.Load() >= stateQuieted {
			return
		}

		if err := w.sem.Acquire(ctx, 1); err != nil {
			return // ctx cancelled during shutdown
		}
		if w.state.Load() >= stateQuieted {
			w.sem.Release(1)
			return
		}

		job, err := w.client.Fetch(ctx, w.queues.Queues())
		if err != nil {
			w.sem.Release(1)
			w.metrics.recordFetchError()
			w.events.emitError(fmt.Errorf("faktory: fetch: %w", err))
			w.logger.Warn("fetch failed", zap.Error(err))
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		if job == nil {
			w.sem.Release(1)
			continue
		}

		entry := &inflightEntry{job: job}
		w.inFlight.Store(job.Jid, entry)
		w.metrics.setInFlight(w.inFlightCount())

		w.jobWG.Add(1)
		go w.handle(ctx, entry)
	}
}

// handle runs the execution chain for one job and reports its outcome,
// unless the shutdown routine has already claimed this jid to FAIL it
// itself (see inflightEntry.claim).
func (w *Worker) handle(ctx context.Context, entry *inflightEntry) {
	defer w.jobWG.Done()
	defer w.sem.Release(1)
	defer func() {
		w.inFlight.Delete(entry.job.Jid)
		w.metrics.setInFlight(w.inFlightCount())
	}()

	jobCtx := &Context{Job: entry.job, Signal: w.shutdownSignalCtx}
	err := w.chain.execute(jobCtx)

	if !entry.claim() {
		// The shutdown routine claimed this jid first and will FAIL it
		// itself; do not also ACK/FAIL here.
		return
	}

	if err != nil {
		w.reportFailure(entry.job, err)
		return
	}

	if ackErr := w.client.Ack(context.Background(), entry.job.Jid); ackErr != nil {
		w.events.emitError(fmt.Errorf("faktory: ack %s: %w", entry.job.Jid, ackErr))
		w.logger.Warn("ack failed", zap.String("jid", entry.job.Jid), zap.Error(ackErr))
		return
	}
	w.metrics.recordAck()
	w.events.emitSuccess(entry.job)
}

// reportFailure sends FAIL for a job whose handler returned an error,
// normalizing a non-*Error cause the way §8 requires ("Job failed with no
// error or message given" for a nil/empty cause).
func (w *Worker) reportFailure(job *JobPayload, cause error) {
	message := cause.Error()
	if message == "" {
		message = "Job failed with no error or message given"
		w.logger.Warn("handler failed with no error message", zap.String("jid", job.Jid))
	}

	errtype := "JobError"
	var fe *Error
	if errors.As(cause, &fe) {
		errtype = fe.Kind.String()
	}

	backtrace := []string{message}
	if failErr := w.client.Fail(context.Background(), job.Jid, errtype, message, backtrace); failErr != nil {
		w.events.emitError(fmt.Errorf("faktory: fail %s: %w", job.Jid, failErr))
		w.logger.Warn("fail failed", zap.String("jid", job.Jid), zap.Error(failErr))
		return
	}
	w.metrics.recordFail()
	w.events.emitFail(job, cause)
}

package faktory

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// heartbeatLoop issues BEAT on a fixed interval and reacts to the server's
// reply: a bare OK means continue, "quiet" pauses fetching, "terminate"
// begins shutdown. Grounded directly on the teacher's heartbeatLoop
// (time.NewTicker, select{<-ctx.Done(); <-ticker.C}).
func (w *Worker) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(w.beatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.metrics.setPoolConnections(w.client.PoolSize())
			result, err := w.client.Beat(ctx, w.wid)
			if err != nil {
				w.metrics.recordHeartbeatError()
				w.events.emitError(fmt.Errorf("faktory: heartbeat: %w", err))
				w.logger.Warn("heartbeat failed", zap.Error(err))
				continue
			}
			switch result.State {
			case "quiet":
				w.Quiet()
			case "terminate":
				// Stop() blocks until shutdown fully completes; calling it
				// synchronously from this goroutine would deadlock against
				// Worker.Stop's own wait on backgroundWG (which this loop is
				// part of). Run it on its own goroutine and exit the loop
				// immediately so backgroundWG.Done fires right away.
				go w.Stop()
				return
			}
		}
	}
}

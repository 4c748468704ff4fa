//go:build unix

package faktory

import (
	"os"
	"os/signal"
	"syscall"
)

// installQuietSignal wires SIGTSTP to Quiet() instead of the process's
// default stop-the-process behavior, matching the teacher's one-shot signal
// handler pattern (agent/cmd/agent/main.go's signal.NotifyContext) extended
// here to a platform signal with no Stop-equivalent meaning elsewhere.
func installQuietSignal(w *Worker) func() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGTSTP)
	done := make(chan struct{})
	go func() {
		select {
		case <-ch:
			w.Quiet()
		case <-done:
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}

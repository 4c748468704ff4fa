package faktory

import (
	"context"
	"fmt"
	"sync"
)

// defaultFacade bundles a Registry, a middleware list, and at most one
// running Worker behind the package-level Default variable — an explicit,
// documented process-global convenience, never hidden state beyond this one
// variable.
type defaultFacade struct {
	mu       sync.Mutex
	registry *Registry
	mws      []MiddlewareFunc
	worker   *Worker
}

// Default is the process-global convenience façade. Most applications with
// a single worker process can use the package-level Register/Use/Work/Stop
// functions instead of constructing a Registry and Worker explicitly.
var Default = &defaultFacade{registry: NewRegistry()}

// Register adds jobtype to the default Registry.
func Register(jobtype string, h Handler) {
	Default.registry.Register(jobtype, h)
}

// Use appends mw to the default middleware list. Must be called before Work.
func Use(mw MiddlewareFunc) {
	Default.mu.Lock()
	defer Default.mu.Unlock()
	Default.mws = append(Default.mws, mw)
}

// Work builds a Worker from the default Registry/middleware and runs it to
// completion. Returns an error if a default Worker is already running.
func Work(ctx context.Context, cfg Config) error {
	Default.mu.Lock()
	if Default.worker != nil {
		Default.mu.Unlock()
		return fmt.Errorf("faktory: default worker already running")
	}
	w, err := NewWorker(Default.registry, Default.mws, cfg)
	if err != nil {
		Default.mu.Unlock()
		return err
	}
	Default.worker = w
	Default.mu.Unlock()

	err = w.Work(ctx)
	Default.mu.Lock()
	Default.worker = nil
	Default.mu.Unlock()
	return err
}

// Stop stops the default worker, if one is running.
func Stop() {
	Default.mu.Lock()
	w := Default.worker
	Default.mu.Unlock()
	if w != nil {
		w.Stop()
	}
}

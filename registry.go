package faktory

import (
	"context"
	"sync"
)

// Context is the per-job execution context threaded through the middleware
// chain and into the resolved handler. It carries the job being processed,
// a cancellation signal tied to worker shutdown, and an arbitrary
// middleware-settable value bag for passing state between stages (e.g. a
// request-scoped logger or trace ID).
type Context struct {
	Job     *JobPayload
	Signal  context.Context
	values  map[string]interface{}
	valueMu sync.RWMutex
}

// Set stores a value on the context for later middleware or the handler to
// read with Get.
func (c *Context) Set(key string, value interface{}) {
	c.valueMu.Lock()
	defer c.valueMu.Unlock()
	if c.values == nil {
		c.values = make(map[string]interface{})
	}
	c.values[key] = value
}

// Get retrieves a value previously stored with Set.
func (c *Context) Get(key string) (interface{}, bool) {
	c.valueMu.RLock()
	defer c.valueMu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

// Continuation is the second polymorphic handler shape: a Handler may
// return one of these instead of completing outright, in which case the
// chain invokes it with ctx as the actual unit of work.
type Continuation func(ctx *Context) error

// Handler is a job function looked up by jobtype. It receives the job's
// positional args and either completes immediately (returning a nil result)
// or returns a Continuation for the chain to invoke with the full Context.
type Handler func(ctx *Context, args ...interface{}) (interface{}, error)

// HandlerFunc adapts the common case — a handler that never returns a
// continuation — into a Handler.
func HandlerFunc(fn func(ctx *Context, args ...interface{}) error) Handler {
	return func(ctx *Context, args ...interface{}) (interface{}, error) {
		return nil, fn(ctx, args...)
	}
}

// Registry maps jobtype to Handler. Registrations happen before Work()
// starts; after the fetch loop is running, reads are race-free without
// locking because nothing mutates the map anymore (mirrors the "build once"
// invariant the middleware chain also relies on).
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register associates jobtype with h, replacing any previous registration.
func (r *Registry) Register(jobtype string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[jobtype] = h
}

// Lookup returns the handler registered for jobtype, if any.
func (r *Registry) Lookup(jobtype string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobtype]
	return h, ok
}

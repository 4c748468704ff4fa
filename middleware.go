package faktory

import "fmt"

// MiddlewareFunc wraps job execution the way server/internal/api/middleware.go
// wraps an http.Handler: it receives the context and a next function, and
// must call next() to let later stages (and, eventually, the job handler)
// run. Omitting the call to next silently skips execution — that is
// documented behavior, not a bug to guard against.
type MiddlewareFunc func(ctx *Context, next func() error) error

// chain is the composed middleware stack plus its two built-in terminal
// stages (resolve handler from registry, invoke it). Built once, before
// Work() starts; read-only afterward.
type chain struct {
	registry *Registry
	mws      []MiddlewareFunc
	run      func(ctx *Context) error
}

// newChain composes mws right-to-left around the registry-resolve/invoke
// terminal stage.
func newChain(registry *Registry, mws []MiddlewareFunc) *chain {
	terminal := func(ctx *Context) error {
		h, ok := registry.Lookup(ctx.Job.JobType)
		if !ok {
			return newErr(KindUnknownJobType, "execute", fmt.Errorf("no handler registered for jobtype %q", ctx.Job.JobType))
		}
		result, err := h(ctx, ctx.Job.Args...)
		if err != nil {
			return err
		}
		if cont, ok := result.(Continuation); ok {
			return cont(ctx)
		}
		return nil
	}

	run := terminal
	for i := len(mws) - 1; i >= 0; i-- {
		mw := mws[i]
		next := run
		run = func(ctx *Context) error {
			return mw(ctx, func() error { return next(ctx) })
		}
	}

	return &chain{registry: registry, mws: mws, run: run}
}

func (c *chain) execute(ctx *Context) error {
	return c.run(ctx)
}

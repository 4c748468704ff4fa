// Package pool implements a bounded pool of protocol connections: lazy
// creation up to a configurable maximum, reuse of idle connections on
// acquire, and backoff on repeated create failures so an unreachable server
// doesn't turn into a tight reconnect loop. An idle connection is handed out
// without re-checking its socket; one that died while idle reports the
// failure on its next Send, and Use then discards it.
//
// The channel-of-idle-connections shape here is the same one
// connection-pool/final in the retrieval pack uses (a buffered channel
// sized to the max, a total-connections counter protected by a mutex, and a
// select between "take an idle one" and "room to create a new one") — this
// package generalizes it from a generic Conn interface to *protocol.Connection
// and adds the consecutive-failure backoff the spec requires.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/faktory-go/worker/internal/protocol"
)

// ErrClosed is returned by Acquire once the pool has been torn down by Clear.
var ErrClosed = errors.New("pool: closed")

// ErrAcquireTimeout is returned by Acquire when no connection becomes
// available within the configured acquisition timeout.
var ErrAcquireTimeout = errors.New("pool: acquire timed out")

// backoffUnit and backoffCap bound the delay imposed after a failed create:
// delay = min(backoffCap, backoffUnit * consecutiveFailures). Documented
// here per the spec's requirement that both constants be named: a linear
// ramp (not exponential) is enough to stop a hot reconnect loop against an
// unreachable server without making the first few retries sluggish.
const (
	backoffUnit = 200 * time.Millisecond
	backoffCap  = 5 * time.Second
)

// Dialer creates and fully handshakes one new connection. Supplied by the
// caller (client.go) so this package has no knowledge of addresses,
// credentials, or identity.
type Dialer func() (*protocol.Connection, error)

// Pool is a bounded set of protocol connections.
type Pool struct {
	dial           Dialer
	max            int
	acquireTimeout time.Duration
	logger         *zap.Logger

	idle chan *protocol.Connection

	mu                  sync.Mutex
	total               int
	closed              bool
	draining            bool
	consecutiveFailures int
}

// New builds a Pool. max must be >= 1.
func New(dial Dialer, max int, acquireTimeout time.Duration, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		dial:           dial,
		max:            max,
		acquireTimeout: acquireTimeout,
		logger:         logger.Named("pool"),
		idle:           make(chan *protocol.Connection, max),
	}
}

// Acquire returns a handshaked connection: an idle one if any (not
// re-checked), else a newly created one if the pool has room. Blocks up to the configured acquisition
// timeout (or until ctx is cancelled) if the pool is already at max and all
// connections are checked out.
func (p *Pool) Acquire(ctx context.Context) (*protocol.Connection, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	p.mu.Unlock()

	// Fast path: an idle connection is sitting ready.
	select {
	case c := <-p.idle:
		return c, nil
	default:
	}

	p.mu.Lock()
	if p.total < p.max && !p.draining {
		p.total++
		p.mu.Unlock()
		c, err := p.createWithBackoff(ctx)
		if err != nil {
			p.mu.Lock()
			p.total--
			p.mu.Unlock()
			return nil, err
		}
		return c, nil
	}
	p.mu.Unlock()

	timer := time.NewTimer(p.acquireTimeout)
	defer timer.Stop()
	select {
	case c := <-p.idle:
		return c, nil
	case <-timer.C:
		return nil, ErrAcquireTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns a healthy connection to the idle set for reuse.
func (p *Pool) Release(c *protocol.Connection) {
	p.mu.Lock()
	if p.closed || p.draining {
		p.mu.Unlock()
		p.closeOne(c)
		return
	}
	p.mu.Unlock()

	select {
	case p.idle <- c:
	default:
		// idle is sized to max and total never exceeds max, so this should
		// not happen; guard against it anyway rather than leak the socket.
		p.closeOne(c)
	}
}

// Discard closes a connection that failed mid-use instead of returning it
// to the idle set, and frees its slot so a future Acquire can create a
// replacement.
func (p *Pool) Discard(c *protocol.Connection) {
	p.closeOne(c)
}

// Len reports the current number of live connections (idle + checked out).
// Intended for periodic metrics sampling, not for flow control.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}

func (p *Pool) closeOne(c *protocol.Connection) {
	c.Close()
	p.mu.Lock()
	p.total--
	p.mu.Unlock()
}

// Use scopes Acquire/Release (or Discard, on a fatal connection error)
// around fn, releasing on every exit path including a panic recovered by
// the caller's own deferred recover (Use itself does not recover panics).
func (p *Pool) Use(ctx context.Context, fn func(*protocol.Connection) error) (err error) {
	c, err := p.Acquire(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil && isFatal(err) {
			p.Discard(c)
			return
		}
		p.Release(c)
	}()
	return fn(c)
}

// isFatal reports whether err indicates the underlying socket died, as
// opposed to a timeout or a well-formed protocol-level error reply — both of
// which leave the connection perfectly reusable.
func isFatal(err error) bool {
	var closed *protocol.ClosedError
	return errors.As(err, &closed)
}

// Drain stops creating new connections and closes every currently idle one.
// Checked-out connections close themselves when their borrower releases
// them (Release sees draining and closes instead of recycling).
func (p *Pool) Drain() {
	p.mu.Lock()
	p.draining = true
	p.mu.Unlock()

	for {
		select {
		case c := <-p.idle:
			p.closeOne(c)
		default:
			return
		}
	}
}

// Clear tears down the pool unconditionally: no further Acquire succeeds,
// and every idle connection is closed immediately.
func (p *Pool) Clear() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	for {
		select {
		case c := <-p.idle:
			c.Close()
		default:
			p.mu.Lock()
			p.total = 0
			p.mu.Unlock()
			return
		}
	}
}

// createWithBackoff dials one new connection. On failure it increments the
// consecutive-failure counter and sleeps a duration proportional to it
// (capped), so a server outage degrades into a slow trickle of attempts
// instead of a tight loop; a success resets the counter.
func (p *Pool) createWithBackoff(ctx context.Context) (*protocol.Connection, error) {
	c, err := p.dial()
	if err != nil {
		p.mu.Lock()
		p.consecutiveFailures++
		n := p.consecutiveFailures
		p.mu.Unlock()

		delay := backoffDelay(n)
		p.logger.Warn("connection create failed, backing off",
			zap.Error(err),
			zap.Int("consecutive_failures", n),
			zap.Duration("backoff", delay),
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
		}
		return nil, fmt.Errorf("pool: create: %w", err)
	}

	p.mu.Lock()
	p.consecutiveFailures = 0
	p.mu.Unlock()
	return c, nil
}

func backoffDelay(consecutiveFailures int) time.Duration {
	d := time.Duration(consecutiveFailures) * backoffUnit
	if d > backoffCap {
		return backoffCap
	}
	return d
}

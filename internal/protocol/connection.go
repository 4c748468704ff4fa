// Package protocol owns one TCP (or TLS) socket to a Faktory server: the
// initial greeting read, command framing, and strict request/reply
// correlation. It is deliberately single-owner — a *Connection is handed to
// exactly one caller at a time by the pool in the sibling internal/pool
// package, so there is never contention for its write side.
package protocol

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/faktory-go/worker/internal/wire"
)

// IdleTimeout bounds how long a read or write may block before the
// connection reports a Timeout. The server may legitimately take up to ~2s
// to answer a FETCH when no work is available, well under this bound.
const IdleTimeout = 10 * time.Second

// Greeting is the server's opening "HI <json>" message.
type Greeting struct {
	V int    `json:"v"`
	S string `json:"s,omitempty"` // salt, present when a password is required
	I int    `json:"i,omitempty"` // pwdhash iteration count
}

// TimeoutError wraps a socket timeout. The connection remains usable after
// one of these — the caller (worker fetch loop or heartbeat) decides what,
// if anything, to do about a stalled round-trip.
type TimeoutError struct{ Err error }

func (e *TimeoutError) Error() string { return fmt.Sprintf("protocol: timeout: %v", e.Err) }
func (e *TimeoutError) Timeout() bool { return true }
func (e *TimeoutError) Unwrap() error { return e.Err }

// ClosedError reports that the connection died — I/O error or explicit
// Close — and is returned for every request that was pending at the time.
type ClosedError struct{ Err error }

func (e *ClosedError) Error() string {
	if e.Err == nil {
		return "protocol: connection closed"
	}
	return fmt.Sprintf("protocol: connection closed: %v", e.Err)
}
func (e *ClosedError) Unwrap() error { return e.Err }

// AssertionError reports that a SendWithAssert reply did not match what was
// expected.
type AssertionError struct{ Got, Want string }

func (e *AssertionError) Error() string {
	return fmt.Sprintf("protocol: expected reply %q, got %q", e.Want, e.Got)
}

// ServerError wraps a "-ERR …" reply frame surfaced to the caller.
type ServerError struct{ Message string }

func (e *ServerError) Error() string { return "protocol: server error: " + e.Message }

// Connection is one live socket to a Faktory server, past the initial
// greeting. Every exported method blocks the calling goroutine; callers
// never invoke two methods concurrently on the same *Connection — that
// invariant is what lets Send issue its write and then read its own reply
// without a separate pending-request table: the "one reply per outbound
// command, consumed FIFO" contract holds trivially because a single owner
// never has more than one command in flight at a time.
type Connection struct {
	conn   net.Conn
	codec  *wire.Codec
	closed bool
	lastIO error

	// OnTimeout, if set, is invoked (synchronously, from the caller's own
	// goroutine) whenever a Send times out. It exists so the pool/worker can
	// log or count timeouts without the connection itself depending on a
	// logger.
	OnTimeout func()
}

// Dial opens a TCP (or, if tlsConfig is non-nil, TLS) connection to addr,
// enables keep-alive, reads the server's opening greeting, and returns both
// the connection and the parsed greeting. The connection is not yet
// handshaked — call Handshake (handshake.go) before issuing any other
// command.
func Dial(addr string, tlsConfig *tls.Config, dialTimeout time.Duration) (*Connection, Greeting, error) {
	dialer := &net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}

	var conn net.Conn
	var err error
	if tlsConfig != nil {
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, tlsConfig)
	} else {
		conn, err = dialer.Dial("tcp", addr)
	}
	if err != nil {
		return nil, Greeting{}, fmt.Errorf("protocol: dial %s: %w", addr, err)
	}

	c := &Connection{conn: conn, codec: wire.NewCodec(conn)}

	greeting, err := c.readGreeting()
	if err != nil {
		conn.Close()
		return nil, Greeting{}, err
	}
	return c, greeting, nil
}

// NewForTesting builds a Connection around an already-open net.Conn,
// bypassing Dial's greeting read. Exported for use by other packages' tests
// (e.g. internal/pool) that need a live socket pair without a real server.
func NewForTesting(conn net.Conn, codec *wire.Codec) *Connection {
	return &Connection{conn: conn, codec: codec}
}

func (c *Connection) readGreeting() (Greeting, error) {
	c.conn.SetReadDeadline(time.Now().Add(IdleTimeout))
	frame, err := c.codec.ReadFrame()
	if err != nil {
		return Greeting{}, fmt.Errorf("protocol: reading greeting: %w", c.classify(err))
	}
	if frame.Kind != wire.Simple || !strings.HasPrefix(frame.Value, "HI ") {
		return Greeting{}, fmt.Errorf("protocol: malformed greeting %q", frame.Value)
	}

	var g Greeting
	if err := json.Unmarshal([]byte(strings.TrimPrefix(frame.Value, "HI ")), &g); err != nil {
		return Greeting{}, fmt.Errorf("protocol: malformed greeting payload: %w", err)
	}
	return g, nil
}

// Send joins tokens with single spaces, appends the line terminator, writes
// the command, and blocks for exactly one reply frame.
func (c *Connection) Send(tokens ...string) (wire.Frame, error) {
	if c.closed {
		return wire.Frame{}, &ClosedError{Err: c.lastIO}
	}

	line := strings.Join(tokens, " ") + "\r\n"

	c.conn.SetWriteDeadline(time.Now().Add(IdleTimeout))
	if _, err := c.conn.Write([]byte(line)); err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			if c.OnTimeout != nil {
				c.OnTimeout()
			}
			return wire.Frame{}, &TimeoutError{Err: err}
		}
		return wire.Frame{}, c.fail(err)
	}

	c.conn.SetReadDeadline(time.Now().Add(IdleTimeout))
	frame, err := c.codec.ReadFrame()
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			if c.OnTimeout != nil {
				c.OnTimeout()
			}
			return wire.Frame{}, &TimeoutError{Err: err}
		}
		return wire.Frame{}, c.fail(err)
	}

	if frame.Kind == wire.Err {
		return frame, &ServerError{Message: frame.Value}
	}
	return frame, nil
}

// SendWithAssert behaves like Send but additionally requires the reply to
// be the simple string expected, returning *AssertionError otherwise.
func (c *Connection) SendWithAssert(expected string, tokens ...string) error {
	frame, err := c.Send(tokens...)
	if err != nil {
		return err
	}
	if frame.Kind != wire.Simple || frame.Value != expected {
		return &AssertionError{Got: frame.Value, Want: expected}
	}
	return nil
}

// Close writes the END command and closes the socket. Idempotent.
func (c *Connection) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.conn.SetWriteDeadline(time.Now().Add(IdleTimeout))
	c.conn.Write([]byte("END\r\n")) //nolint:errcheck // best-effort; we're closing regardless
	return c.conn.Close()
}

// classify wraps err for inclusion in a returned error without changing its
// surfaced Kind mapping (done one layer up, in the root package).
func (c *Connection) classify(err error) error {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return &TimeoutError{Err: err}
	}
	return &ClosedError{Err: err}
}

// fail marks the connection unusable and returns the classified error. A
// non-timeout write or read failure always means the socket is dead — the
// pool is responsible for discarding and, on its next acquire, creating a
// replacement.
func (c *Connection) fail(err error) error {
	c.closed = true
	c.lastIO = err
	c.conn.Close()
	return c.classify(err)
}

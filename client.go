package faktory

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/faktory-go/worker/internal/pool"
	"github.com/faktory-go/worker/internal/protocol"
	"github.com/faktory-go/worker/internal/wire"
)

const (
	defaultPort        = "7419"
	defaultPoolSize    = 20
	defaultAcquireWait = 5 * time.Second
	defaultDialTimeout = 5 * time.Second
	maxBacktraceLines  = 100
)

// BeatResult is the parsed reply to a BEAT command: either "continue"
// (bare OK) or a state transition the worker must act on.
type BeatResult struct {
	State string // "", "quiet", or "terminate"
}

// Client is the high-level command surface over a pooled set of
// connections: FETCH, PUSH, ACK, FAIL, BEAT, INFO, FLUSH, MUTATE. Every
// method borrows one connection from the pool, issues one request, and
// releases it — never holding a connection across calls.
type Client struct {
	pool     *pool.Pool
	logger   *zap.Logger
	identity *protocol.Identity
	password string
}

// Options configures Dial.
type Options struct {
	// URL is a Faktory connection string, e.g. "tcp://:password@localhost:7419"
	// or "tcps://host:7419". Defaults to the FAKTORY_URL environment
	// variable, falling back to "tcp://localhost:7419".
	URL string

	// Identity, when non-nil, marks this client as a worker connection: its
	// wid/pid/labels are sent on every HELLO. A producer-only client (e.g.
	// one that only calls Push) should leave this nil.
	Identity *protocol.Identity

	PoolSize       int
	AcquireTimeout time.Duration
	DialTimeout    time.Duration
	Logger         *zap.Logger
}

// Dial builds a Client backed by a connection pool to the server described
// by opts.URL (or the environment, see env.go).
func Dial(opts Options) (*Client, error) {
	if opts.URL == "" {
		opts.URL = resolveFaktoryURL()
	}
	addr, tlsConfig, password, err := parseFaktoryURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("faktory: dial: %w", err)
	}

	if opts.PoolSize <= 0 {
		opts.PoolSize = defaultPoolSize
	}
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = defaultAcquireWait
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("client")

	hostname, _ := os.Hostname()

	dial := func() (*protocol.Connection, error) {
		conn, greeting, err := protocol.Dial(addr, tlsConfig, opts.DialTimeout)
		if err != nil {
			return nil, newErr(KindConnection, "dial", err)
		}
		if err := protocol.Handshake(conn, greeting, hostname, opts.Identity, password); err != nil {
			conn.Close()
			return nil, classifyProtocolErr("handshake", err)
		}
		return conn, nil
	}

	p := pool.New(dial, opts.PoolSize, opts.AcquireTimeout, logger)

	return &Client{pool: p, logger: logger, identity: opts.Identity, password: password}, nil
}

// PoolSize reports the current number of live pooled connections (idle plus
// checked out). Intended for periodic metrics sampling.
func (c *Client) PoolSize() int {
	return c.pool.Len()
}

// Close drains and closes every connection in the client's pool.
func (c *Client) Close() error {
	c.pool.Clear()
	return nil
}

// Fetch issues FETCH against the given queues (most-preferred first) and
// returns nil if no job was available. The server may legitimately block up
// to ~2s before replying; callers must not impose a shorter timeout of
// their own on top of this call.
func (c *Client) Fetch(ctx context.Context, queues []string) (*JobPayload, error) {
	tokens := append([]string{"FETCH"}, queues...)
	var job *JobPayload
	err := c.pool.Use(ctx, func(conn *protocol.Connection) error {
		frame, err := conn.Send(tokens...)
		if err != nil {
			return classifyProtocolErr("fetch", err)
		}
		if frame.IsNil() {
			return nil
		}
		var payload JobPayload
		if err := json.Unmarshal([]byte(frame.Value), &payload); err != nil {
			return newErr(KindProtocol, "fetch: decode payload", err)
		}
		job = &payload
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Push sends a job for the server to enqueue, applying PUSH-time defaults
// (jid, queue, args, priority, retry) first.
func (c *Client) Push(ctx context.Context, job *JobPayload) error {
	job.applyDefaults()
	payload, err := json.Marshal(job)
	if err != nil {
		return newErr(KindJob, "push: encode payload", err)
	}
	return c.pool.Use(ctx, func(conn *protocol.Connection) error {
		if err := conn.SendWithAssert("OK", "PUSH", string(payload)); err != nil {
			return classifyProtocolErr("push", err)
		}
		return nil
	})
}

// PushBulk sends multiple jobs in a single PUSHB command, applying the same
// defaults as Push to each.
func (c *Client) PushBulk(ctx context.Context, jobs []*JobPayload) error {
	for _, j := range jobs {
		j.applyDefaults()
	}
	payload, err := json.Marshal(jobs)
	if err != nil {
		return newErr(KindJob, "pushbulk: encode payload", err)
	}
	return c.pool.Use(ctx, func(conn *protocol.Connection) error {
		if err := conn.SendWithAssert("OK", "PUSHB", string(payload)); err != nil {
			return classifyProtocolErr("pushbulk", err)
		}
		return nil
	})
}

// Ack acknowledges successful completion of the job with the given jid.
func (c *Client) Ack(ctx context.Context, jid string) error {
	payload, _ := json.Marshal(map[string]string{"jid": jid})
	return c.pool.Use(ctx, func(conn *protocol.Connection) error {
		if err := conn.SendWithAssert("OK", "ACK", string(payload)); err != nil {
			return classifyProtocolErr("ack", err)
		}
		return nil
	})
}

// Fail reports that the job with the given jid failed with cause. The
// backtrace is truncated to at most 100 lines before being sent.
func (c *Client) Fail(ctx context.Context, jid string, errtype, message string, backtrace []string) error {
	if len(backtrace) > maxBacktraceLines {
		backtrace = backtrace[:maxBacktraceLines]
	}
	body := map[string]interface{}{
		"jid":       jid,
		"errtype":   errtype,
		"message":   message,
		"backtrace": backtrace,
	}
	payload, _ := json.Marshal(body)
	return c.pool.Use(ctx, func(conn *protocol.Connection) error {
		if err := conn.SendWithAssert("OK", "FAIL", string(payload)); err != nil {
			return classifyProtocolErr("fail", err)
		}
		return nil
	})
}

// Beat sends a heartbeat for wid and parses the reply: either the worker
// should keep going (empty State), quiet, or terminate.
func (c *Client) Beat(ctx context.Context, wid string) (BeatResult, error) {
	payload, _ := json.Marshal(map[string]string{"wid": wid})
	var result BeatResult
	err := c.pool.Use(ctx, func(conn *protocol.Connection) error {
		frame, err := conn.Send("BEAT", string(payload))
		if err != nil {
			return classifyProtocolErr("beat", err)
		}
		if frame.Kind == wire.Simple {
			if frame.Value != "OK" {
				return newErr(KindProtocolAssertion, "beat", fmt.Errorf("unexpected reply %q", frame.Value))
			}
			return nil
		}
		var obj struct {
			State string `json:"state"`
		}
		if err := json.Unmarshal([]byte(frame.Value), &obj); err != nil {
			return newErr(KindProtocol, "beat: decode reply", err)
		}
		result.State = obj.State
		return nil
	})
	if err != nil {
		return BeatResult{}, err
	}
	return result, nil
}

// Info returns the server's INFO reply, parsed generically since its shape
// is server-defined and not otherwise used by the worker runtime.
func (c *Client) Info(ctx context.Context) (map[string]interface{}, error) {
	var info map[string]interface{}
	err := c.pool.Use(ctx, func(conn *protocol.Connection) error {
		frame, err := conn.Send("INFO")
		if err != nil {
			return classifyProtocolErr("info", err)
		}
		if err := json.Unmarshal([]byte(frame.Value), &info); err != nil {
			return newErr(KindProtocol, "info: decode reply", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// Flush clears all queued/scheduled/retry/dead state on the server. Admin
// operation.
func (c *Client) Flush(ctx context.Context) error {
	return c.pool.Use(ctx, func(conn *protocol.Connection) error {
		if err := conn.SendWithAssert("OK", "FLUSH"); err != nil {
			return classifyProtocolErr("flush", err)
		}
		return nil
	})
}

// Mutate issues a generic MUTATE command. See mutation.go for the typed
// helper constructors layered over this.
func (c *Client) Mutate(ctx context.Context, body map[string]interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return newErr(KindJob, "mutate: encode payload", err)
	}
	return c.pool.Use(ctx, func(conn *protocol.Connection) error {
		if err := conn.SendWithAssert("OK", "MUTATE", string(payload)); err != nil {
			return classifyProtocolErr("mutate", err)
		}
		return nil
	})
}

// classifyProtocolErr maps an internal/protocol error into the root
// package's error taxonomy (§7), preserving the original as the cause.
func classifyProtocolErr(op string, err error) error {
	var (
		timeoutErr   *protocol.TimeoutError
		assertionErr *protocol.AssertionError
		serverErr    *protocol.ServerError
		versionErr   *protocol.VersionMismatchError
	)
	switch {
	case errors.As(err, &timeoutErr):
		return newErr(KindTimeout, op, err)
	case errors.As(err, &assertionErr):
		return newErr(KindProtocolAssertion, op, err)
	case errors.As(err, &serverErr):
		return newErr(KindProtocol, op, err)
	case errors.As(err, &versionErr):
		return newErr(KindVersionMismatch, op, err)
	default:
		return newErr(KindConnection, op, err)
	}
}

// parseFaktoryURL decodes a Faktory connection string into a dial address,
// an optional TLS config (non-nil iff the scheme is tcps), and an optional
// password.
func parseFaktoryURL(raw string) (addr string, tlsConfig *tls.Config, password string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", nil, "", fmt.Errorf("parsing FAKTORY_URL %q: %w", raw, err)
	}

	host := u.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := u.Port()
	if port == "" {
		port = defaultPort
	}
	addr = net.JoinHostPort(host, port)

	if u.User != nil {
		if pw, ok := u.User.Password(); ok {
			password = pw
		}
	}

	switch strings.ToLower(u.Scheme) {
	case "", "tcp":
		tlsConfig = nil
	case "tcps":
		tlsConfig = &tls.Config{ServerName: host}
	default:
		return "", nil, "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return addr, tlsConfig, password, nil
}

// resolveFaktoryURL implements the FAKTORY_URL / FAKTORY_PROVIDER env
// contract described in §6: FAKTORY_PROVIDER, if set, names another
// environment variable that actually holds the URL.
func resolveFaktoryURL() string {
	loadDotenv()
	if provider := os.Getenv("FAKTORY_PROVIDER"); provider != "" {
		if v := os.Getenv(provider); v != "" {
			return v
		}
	}
	if v := os.Getenv("FAKTORY_URL"); v != "" {
		return v
	}
	return "tcp://localhost:" + defaultPort
}


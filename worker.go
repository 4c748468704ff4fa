package faktory

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/google/uuid"

	"github.com/faktory-go/worker/internal/protocol"
)

// Worker state machine values. Transitions are monotonic: running → quieted
// → stopping → stopped, with the side transition stopping → forceAborted →
// stopped. The numeric ordering below is what makes "monotonic" a simple
// compare-and-swap loop (transitionAtLeast) instead of an explicit
// transition table.
const (
	stateRunning uint32 = iota
	stateQuieted
	stateStopping
	stateForceAborted
	stateStopped
)

// forceCleanupDelay is how long the shutdown routine waits, after
// broadcasting the abort signal, for handlers to observe it and unwind
// before FAILing them outright. The spec names ~3s in production and 100ms
// in tests; tests override it directly via the unexported field.
const forceCleanupDelay = 3 * time.Second

// Config configures a Worker. Zero values fall back to the documented
// defaults.
type Config struct {
	WID          string
	Concurrency  int
	Timeout      time.Duration
	BeatInterval time.Duration
	Queues       QueueSelector
	Labels       []string
	PoolSize     int
	Logger       *zap.Logger
	Metrics      *Metrics

	// ClientOptions configures the underlying Client/pool (URL, TLS, dial
	// timeout). PoolSize and Identity are populated by NewWorker and need
	// not be set here.
	ClientOptions Options
}

// inflightEntry tracks one fetched-but-not-yet-acknowledged job. claimed
// guards against both the handler goroutine and the forced-shutdown sweep
// racing to ACK/FAIL the same jid — whichever claims it first owns the
// outcome.
type inflightEntry struct {
	job     *JobPayload
	claimed atomic.Bool
}

func (e *inflightEntry) claim() bool {
	return e.claimed.CompareAndSwap(false, true)
}

// Worker is the orchestrator: a concurrency-bounded fetch/execute loop, a
// heartbeat scheduler, signal handling, and graceful/forced shutdown.
type Worker struct {
	wid          string
	concurrency  int
	timeout      time.Duration
	beatInterval time.Duration
	queues       QueueSelector
	labels       []string
	cleanupDelay time.Duration

	client  *Client
	chain   *chain
	events  events
	metrics *Metrics
	logger  *zap.Logger

	sem      *semaphore.Weighted
	inFlight sync.Map // jid -> *inflightEntry
	jobWG    sync.WaitGroup

	state atomic.Uint32

	backgroundCtx    context.Context
	cancelBackground context.CancelFunc
	backgroundWG     sync.WaitGroup

	shutdownSignalCtx    context.Context
	cancelShutdownSignal context.CancelFunc

	forceAborted atomic.Bool
	stopOnce     sync.Once
	stoppedCh    chan struct{}
}

// NewWorker builds a Worker dialing the server described by cfg.ClientOptions,
// executing jobs resolved from registry through mws.
func NewWorker(registry *Registry, mws []MiddlewareFunc, cfg Config) (*Worker, error) {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 20
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	if cfg.BeatInterval <= 0 {
		cfg.BeatInterval = 15 * time.Second
	}
	if cfg.Queues == nil {
		cfg.Queues = NewOrderedQueues(DefaultQueue)
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = cfg.Concurrency + 2
	}
	if cfg.WID == "" {
		cfg.WID = uuid.NewString()[:8]
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("worker")

	identity := &protocol.Identity{WID: cfg.WID, PID: os.Getpid(), Labels: cfg.Labels}
	cfg.ClientOptions.PoolSize = cfg.PoolSize
	cfg.ClientOptions.Logger = logger
	cfg.ClientOptions.Identity = identity

	client, err := Dial(cfg.ClientOptions)
	if err != nil {
		return nil, fmt.Errorf("faktory: new worker: %w", err)
	}

	w := &Worker{
		wid:          cfg.WID,
		concurrency:  cfg.Concurrency,
		timeout:      cfg.Timeout,
		beatInterval: cfg.BeatInterval,
		queues:       cfg.Queues,
		labels:       cfg.Labels,
		cleanupDelay: forceCleanupDelay,
		client:       client,
		chain:        newChain(registry, mws),
		metrics:      cfg.Metrics,
		logger:       logger,
		sem:          semaphore.NewWeighted(int64(cfg.Concurrency)),
		stoppedCh:    make(chan struct{}),
	}
	w.shutdownSignalCtx, w.cancelShutdownSignal = context.WithCancel(context.Background())
	return w, nil
}

// WID returns this worker's identity string.
func (w *Worker) WID() string { return w.wid }

// State reports the worker's current lifecycle state as one of "running",
// "quieted", "stopping", "force_aborted", or "stopped".
func (w *Worker) State() string {
	switch w.state.Load() {
	case stateRunning:
		return "running"
	case stateQuieted:
		return "quieted"
	case stateStopping:
		return "stopping"
	case stateForceAborted:
		return "force_aborted"
	default:
		return "stopped"
	}
}

// transitionAtLeast advances the state machine to target, a no-op if the
// worker is already at or past it. The compare-and-swap loop is what keeps
// transitions monotonic under concurrent callers (e.g. a heartbeat
// "terminate" racing an OS signal).
func (w *Worker) transitionAtLeast(target uint32) {
	for {
		cur := w.state.Load()
		if cur >= target {
			return
		}
		if w.state.CompareAndSwap(cur, target) {
			return
		}
	}
}

// Quiet stops the fetch loop from issuing new FETCH calls; in-flight jobs
// continue to completion.
func (w *Worker) Quiet() {
	w.transitionAtLeast(stateQuieted)
}

func (w *Worker) inFlightCount() int {
	n := 0
	w.inFlight.Range(func(_, _ interface{}) bool { n++; return true })
	return n
}


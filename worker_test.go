package faktory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestWorker(t *testing.T, url string, cfg Config) *Worker {
	t.Helper()
	if cfg.Queues == nil {
		cfg.Queues = NewOrderedQueues("q1")
	}
	cfg.ClientOptions.URL = url
	cfg.ClientOptions.DialTimeout = time.Second
	cfg.BeatInterval = time.Hour // tests drive heartbeat explicitly where needed
	registry := NewRegistry()
	w, err := NewWorker(registry, nil, cfg)
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	return w
}

// TestSimpleJobRoundTrip: concurrency=1, one handler records its args; the
// job is acked once the handler returns.
func TestSimpleJobRoundTrip(t *testing.T) {
	mock, url := startMockServer(t)
	w := newTestWorker(t, url, Config{Concurrency: 1})

	type call struct{ args []interface{} }
	calls := make(chan call, 1)
	w.chain.registry.Register("t", HandlerFunc(func(ctx *Context, args ...interface{}) error {
		calls <- call{args: args}
		return nil
	}))

	producer := dialMock(t, url)
	job := NewJob("t", float64(1), float64(2), "three")
	job.Queue = "q1"
	if err := producer.Push(context.Background(), job); err != nil {
		t.Fatalf("Push: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Work(ctx) }()

	select {
	case c := <-calls:
		if len(c.args) != 3 || c.args[0] != float64(1) || c.args[1] != float64(2) || c.args[2] != "three" {
			t.Fatalf("unexpected args: %+v", c.args)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler never invoked")
	}

	waitForCondition(t, func() bool { return len(mock.ackedJids()) == 1 })
	if mock.ackedJids()[0] != job.Jid {
		t.Fatalf("expected job %s acked, got %v", job.Jid, mock.ackedJids())
	}

	w.Stop()
	<-done
}

// TestFailurePath: handler returns an error; server observes FAIL with the
// error message, and an onFail callback fires.
func TestFailurePath(t *testing.T) {
	mock, url := startMockServer(t)
	w := newTestWorker(t, url, Config{Concurrency: 1})
	w.chain.registry.Register("boom", HandlerFunc(func(ctx *Context, args ...interface{}) error {
		return errors.New("boom")
	}))

	var failMu sync.Mutex
	var failedJob *JobPayload
	w.OnFail(func(job *JobPayload, cause error) {
		failMu.Lock()
		defer failMu.Unlock()
		failedJob = job
	})

	producer := dialMock(t, url)
	job := NewJob("boom")
	job.Queue = "q1"
	producer.Push(context.Background(), job)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Work(ctx) }()

	waitForCondition(t, func() bool { return len(mock.failedBodies()) == 1 })
	body := mock.failedBodies()[0]
	if body["message"] != "boom" {
		t.Fatalf("expected FAIL message 'boom', got %v", body["message"])
	}
	bt, _ := body["backtrace"].([]interface{})
	if len(bt) == 0 || len(bt) > maxBacktraceLines {
		t.Fatalf("expected non-empty backtrace within limit, got %d lines", len(bt))
	}

	waitForCondition(t, func() bool {
		failMu.Lock()
		defer failMu.Unlock()
		return failedJob != nil
	})

	w.Stop()
	<-done
}

// TestUnknownJobType: no handler registered; the chain's UnknownJobType
// error becomes a FAIL naming the jobtype.
func TestUnknownJobType(t *testing.T) {
	mock, url := startMockServer(t)
	w := newTestWorker(t, url, Config{Concurrency: 1})

	producer := dialMock(t, url)
	job := NewJob("nope")
	job.Queue = "q1"
	producer.Push(context.Background(), job)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Work(ctx) }()

	waitForCondition(t, func() bool { return len(mock.failedBodies()) == 1 })
	body := mock.failedBodies()[0]
	msg, _ := body["message"].(string)
	if !strings.Contains(msg, "nope") {
		t.Fatal("expected a FAIL message naming the unknown jobtype")
	}

	w.Stop()
	<-done
}

// TestHeartbeatTerminate: the mock server's BEAT reply is {"state":"terminate"};
// the worker must stop and issue no further FETCH once its heartbeat fires.
func TestHeartbeatTerminate(t *testing.T) {
	mock, url := startMockServer(t)
	mock.setBeatState("terminate")
	w := newTestWorker(t, url, Config{Concurrency: 1})
	w.beatInterval = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Work(ctx) }()

	select {
	case <-done:
		if w.State() != "stopped" {
			t.Fatalf("expected stopped state, got %s", w.State())
		}
	case <-time.After(3 * time.Second):
		t.Fatal("worker never stopped after heartbeat terminate")
	}

	fetchesAtStop := len(mock.eventLog())
	time.Sleep(50 * time.Millisecond)
	if got := len(mock.eventLog()); got != fetchesAtStop {
		t.Fatalf("expected no further activity after terminate, event count grew from %d to %d", fetchesAtStop, got)
	}
}

// TestGracefulShutdownWithinBudget: a slow handler finishes inside the
// shutdown timeout; its job is acked and the worker does not force-abort.
func TestGracefulShutdownWithinBudget(t *testing.T) {
	mock, url := startMockServer(t)
	w := newTestWorker(t, url, Config{Concurrency: 1, Timeout: 250 * time.Millisecond})
	w.chain.registry.Register("slow", HandlerFunc(func(ctx *Context, args ...interface{}) error {
		time.Sleep(100 * time.Millisecond)
		return nil
	}))

	producer := dialMock(t, url)
	job := NewJob("slow")
	job.Queue = "q1"
	producer.Push(context.Background(), job)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Work(ctx) }()

	waitForCondition(t, func() bool { return w.inFlightCount() == 1 })
	w.Stop()

	if err := <-done; err != nil {
		t.Fatalf("expected graceful Work() return, got %v", err)
	}
	if len(mock.ackedJids()) != 1 {
		t.Fatalf("expected job acked before forced abort, got %v", mock.ackedJids())
	}
}

// TestForcedShutdown: two long-sleeping handlers exceed a 50ms timeout;
// both are FAILed with the shutdown-timeout message and the server-visible
// event order is FETCH, FETCH, FAIL, FAIL.
func TestForcedShutdown(t *testing.T) {
	mock, url := startMockServer(t)
	w := newTestWorker(t, url, Config{Concurrency: 2, Timeout: 50 * time.Millisecond})
	w.cleanupDelay = 100 * time.Millisecond
	w.chain.registry.Register("forever", HandlerFunc(func(ctx *Context, args ...interface{}) error {
		<-ctx.Signal.Done()
		<-time.After(time.Hour) // handler ignores cancellation; cleanup delay forces the exit
		return nil
	}))

	producer := dialMock(t, url)
	for i := 0; i < 2; i++ {
		job := NewJob("forever")
		job.Queue = "q1"
		producer.Push(context.Background(), job)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Work(ctx) }()

	waitForCondition(t, func() bool { return w.inFlightCount() == 2 })
	w.Stop()

	err := <-done
	if !errors.Is(err, ErrShutdownAborted) {
		t.Fatalf("expected ErrShutdownAborted, got %v", err)
	}

	bodies := mock.failedBodies()
	if len(bodies) != 2 {
		t.Fatalf("expected 2 FAILs, got %d", len(bodies))
	}
	for _, b := range bodies {
		if b["message"] != "faktory worker shutdown timeout exceeded" {
			t.Fatalf("unexpected FAIL message: %v", b["message"])
		}
	}

	events := mock.eventLog()
	if len(events) != 4 || events[0] != "FETCH" || events[1] != "FETCH" || events[2] != "FAIL" || events[3] != "FAIL" {
		t.Fatalf("expected FETCH,FETCH,FAIL,FAIL order, got %v", events)
	}
}

func waitForCondition(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

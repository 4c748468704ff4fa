package faktory

import (
	"context"
	"strings"
	"testing"
	"time"
)

func dialMock(t *testing.T, url string) *Client {
	t.Helper()
	c, err := Dial(Options{URL: url, PoolSize: 2, AcquireTimeout: time.Second, DialTimeout: time.Second})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestPushThenFetchRoundTrip(t *testing.T) {
	_, url := startMockServer(t)
	c := dialMock(t, url)
	ctx := context.Background()

	job := NewJob("t", 1, 2, "three")
	job.Queue = "q1"
	if err := c.Push(ctx, job); err != nil {
		t.Fatalf("Push: %v", err)
	}

	fetched, err := c.Fetch(ctx, []string{"q1"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if fetched == nil {
		t.Fatal("expected a job, got nil")
	}
	if fetched.Jid != job.Jid || fetched.JobType != "t" || fetched.Queue != "q1" {
		t.Fatalf("round-trip mismatch: got %+v", fetched)
	}
	if fetched.Priority != DefaultPriority {
		t.Fatalf("expected default priority applied, got %d", fetched.Priority)
	}
	if fetched.Retry == nil || *fetched.Retry != DefaultRetry {
		t.Fatalf("expected default retry applied, got %v", fetched.Retry)
	}
}

func TestFetchNoJobReturnsNilWithoutError(t *testing.T) {
	_, url := startMockServer(t)
	c := dialMock(t, url)

	job, err := c.Fetch(context.Background(), []string{"empty"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if job != nil {
		t.Fatalf("expected nil job, got %+v", job)
	}
}

func TestAckAndFail(t *testing.T) {
	mock, url := startMockServer(t)
	c := dialMock(t, url)
	ctx := context.Background()

	if err := c.Ack(ctx, "jid-1"); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if got := mock.ackedJids(); len(got) != 1 || got[0] != "jid-1" {
		t.Fatalf("expected jid-1 acked, got %v", got)
	}

	longBacktrace := make([]string, 150)
	for i := range longBacktrace {
		longBacktrace[i] = "frame"
	}
	if err := c.Fail(ctx, "jid-2", "RuntimeError", "boom", longBacktrace); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	bodies := mock.failedBodies()
	if len(bodies) != 1 {
		t.Fatalf("expected one FAIL recorded, got %d", len(bodies))
	}
	bt, _ := bodies[0]["backtrace"].([]interface{})
	if len(bt) != maxBacktraceLines {
		t.Fatalf("expected backtrace truncated to %d lines, got %d", maxBacktraceLines, len(bt))
	}
}

func TestBeatStates(t *testing.T) {
	mock, url := startMockServer(t)
	c := dialMock(t, url)
	ctx := context.Background()

	res, err := c.Beat(ctx, "wid1")
	if err != nil {
		t.Fatalf("Beat: %v", err)
	}
	if res.State != "" {
		t.Fatalf("expected empty state for bare OK, got %q", res.State)
	}

	mock.setBeatState("quiet")
	res, err = c.Beat(ctx, "wid1")
	if err != nil {
		t.Fatalf("Beat: %v", err)
	}
	if res.State != "quiet" {
		t.Fatalf("expected quiet, got %q", res.State)
	}

	mock.setBeatState("terminate")
	res, err = c.Beat(ctx, "wid1")
	if err != nil {
		t.Fatalf("Beat: %v", err)
	}
	if res.State != "terminate" {
		t.Fatalf("expected terminate, got %q", res.State)
	}
}

func TestPoolSizeReflectsLiveConnections(t *testing.T) {
	_, url := startMockServer(t)
	c := dialMock(t, url)
	ctx := context.Background()

	if got := c.PoolSize(); got != 0 {
		t.Fatalf("expected 0 live connections before any command, got %d", got)
	}
	if err := c.Ack(ctx, "jid-1"); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if got := c.PoolSize(); got != 1 {
		t.Fatalf("expected 1 live connection after a round trip, got %d", got)
	}
}

func TestParseFaktoryURLTLSScheme(t *testing.T) {
	addr, tlsConfig, password, err := parseFaktoryURL("tcps://:secret@example.com:7419")
	if err != nil {
		t.Fatalf("parseFaktoryURL: %v", err)
	}
	if addr != "example.com:7419" {
		t.Fatalf("unexpected addr: %q", addr)
	}
	if tlsConfig == nil || tlsConfig.ServerName != "example.com" {
		t.Fatalf("expected TLS config with ServerName example.com, got %+v", tlsConfig)
	}
	if password != "secret" {
		t.Fatalf("expected password to be parsed, got %q", password)
	}
}

func TestParseFaktoryURLPlainScheme(t *testing.T) {
	addr, tlsConfig, _, err := parseFaktoryURL("tcp://localhost:7419")
	if err != nil {
		t.Fatalf("parseFaktoryURL: %v", err)
	}
	if addr != "localhost:7419" {
		t.Fatalf("unexpected addr: %q", addr)
	}
	if tlsConfig != nil {
		t.Fatal("expected no TLS config for tcp scheme")
	}
}

func TestParseFaktoryURLUnsupportedScheme(t *testing.T) {
	_, _, _, err := parseFaktoryURL("http://localhost:7419")
	if err == nil || !strings.Contains(err.Error(), "unsupported scheme") {
		t.Fatalf("expected unsupported scheme error, got %v", err)
	}
}

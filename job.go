package faktory

import (
	"time"

	"github.com/google/uuid"
)

// Default values the client applies to a JobPayload before PUSH, matching
// what the server itself does not default on its own.
const (
	DefaultQueue    = "default"
	DefaultPriority = 5
	DefaultRetry    = 25
)

// Failure is populated by the server on a JobPayload that has previously
// failed at least once. It is a read path only — application code never
// constructs one to send.
type Failure struct {
	RetryCount int      `json:"retry_count"`
	ErrType    string   `json:"errtype,omitempty"`
	Message    string   `json:"message,omitempty"`
	Backtrace  []string `json:"backtrace,omitempty"`
}

// JobPayload is one unit of work, as exchanged with the server on PUSH and
// FETCH.
type JobPayload struct {
	Jid      string        `json:"jid"`
	JobType  string        `json:"jobtype"`
	Queue    string        `json:"queue,omitempty"`
	Args     []interface{} `json:"args"`
	Priority int           `json:"priority,omitempty"`

	// Retry is a pointer because its zero value is meaningful: 0 discards
	// the job on failure instead of retrying it, so "unset" (apply the
	// default of 25) must be distinguishable from "explicitly 0".
	Retry *int `json:"retry,omitempty"`

	At         string                 `json:"at,omitempty"`
	ReserveFor int                    `json:"reserve_for,omitempty"`
	Custom     map[string]interface{} `json:"custom,omitempty"`

	// CreatedAt and EnqueuedAt are read-only timestamps the server supplies
	// on FETCH. Never set these when building a job to PUSH.
	CreatedAt  *time.Time `json:"created_at,omitempty"`
	EnqueuedAt *time.Time `json:"enqueued_at,omitempty"`

	// Failure is present only on a job that has been retried at least once.
	Failure *Failure `json:"failure,omitempty"`
}

// NewJob builds a JobPayload for jobtype with the given positional args,
// with jid and the PUSH defaults (queue, priority, retry) already applied.
func NewJob(jobtype string, args ...interface{}) *JobPayload {
	if args == nil {
		args = []interface{}{}
	}
	retry := DefaultRetry
	return &JobPayload{
		Jid:      uuid.NewString(),
		JobType:  jobtype,
		Queue:    DefaultQueue,
		Args:     args,
		Priority: DefaultPriority,
		Retry:    &retry,
	}
}

// applyDefaults fills in whatever PUSH-time defaults are still unset. The
// server does not default these fields itself — the client must.
func (j *JobPayload) applyDefaults() {
	if j.Jid == "" {
		j.Jid = uuid.NewString()
	}
	if j.Queue == "" {
		j.Queue = DefaultQueue
	}
	if j.Args == nil {
		j.Args = []interface{}{}
	}
	if j.Priority == 0 {
		j.Priority = DefaultPriority
	}
	if j.Retry == nil {
		retry := DefaultRetry
		j.Retry = &retry
	}
}

package faktory

import "sync"

// events holds the callback registrations a Worker invokes for its lifetime
// events. A Go idiom substitute for a Node-style EventEmitter: typed
// callback registration instead of string-keyed event names.
type events struct {
	mu        sync.RWMutex
	onError   []func(error)
	onFail    []func(*JobPayload, error)
	onSuccess []func(*JobPayload)
}

// OnError registers a callback invoked whenever the worker encounters a
// non-job error: a FETCH failure, a failed ACK or FAIL call, a heartbeat
// failure, or a shutdown error.
// Multiple registrations are all invoked, in registration order.
func (w *Worker) OnError(fn func(error)) {
	w.events.mu.Lock()
	defer w.events.mu.Unlock()
	w.events.onError = append(w.events.onError, fn)
}

// OnFail registers a callback invoked after a job is reported to the server
// as failed.
func (w *Worker) OnFail(fn func(*JobPayload, error)) {
	w.events.mu.Lock()
	defer w.events.mu.Unlock()
	w.events.onFail = append(w.events.onFail, fn)
}

// OnSuccess registers a callback invoked after a job is acknowledged.
func (w *Worker) OnSuccess(fn func(*JobPayload)) {
	w.events.mu.Lock()
	defer w.events.mu.Unlock()
	w.events.onSuccess = append(w.events.onSuccess, fn)
}

func (e *events) emitError(err error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, fn := range e.onError {
		fn(err)
	}
}

func (e *events) emitFail(job *JobPayload, cause error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, fn := range e.onFail {
		fn(job, cause)
	}
}

func (e *events) emitSuccess(job *JobPayload) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, fn := range e.onSuccess {
		fn(job)
	}
}

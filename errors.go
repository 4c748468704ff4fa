package faktory

import (
	"errors"
	"fmt"
)

// Kind classifies an Error returned by this package into the taxonomy a
// caller can react to with errors.Is, without depending on the exact wrapped
// message.
type Kind int

const (
	// KindUnknown is the zero value; never returned by this package directly.
	KindUnknown Kind = iota
	// KindConnection covers socket-level failures: refused, reset, or closed
	// mid-request.
	KindConnection
	// KindTimeout covers inactivity timeouts on a socket and pool acquisition
	// timeouts.
	KindTimeout
	// KindProtocol covers unparseable frames and "-ERR …" replies surfaced
	// to the caller.
	KindProtocol
	// KindProtocolAssertion covers a reply that did not match an expected
	// assertion (e.g. HELLO not answered with OK).
	KindProtocolAssertion
	// KindVersionMismatch covers a server greeting whose protocol version is
	// not the one this client speaks.
	KindVersionMismatch
	// KindUnknownJobType covers a fetched job whose jobtype has no registry
	// entry.
	KindUnknownJobType
	// KindJob covers anything returned by a user job handler.
	KindJob
	// KindShutdownAborted covers the cancellation delivered to in-flight
	// handlers when the graceful shutdown timeout elapses.
	KindShutdownAborted
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "ConnectionError"
	case KindTimeout:
		return "Timeout"
	case KindProtocol:
		return "ProtocolError"
	case KindProtocolAssertion:
		return "ProtocolAssertion"
	case KindVersionMismatch:
		return "VersionMismatch"
	case KindUnknownJobType:
		return "UnknownJobType"
	case KindJob:
		return "JobError"
	case KindShutdownAborted:
		return "ShutdownAborted"
	default:
		return "Unknown"
	}
}

// Error is the error type returned across package boundaries. It carries a
// Kind so callers can branch with errors.As without parsing messages.
type Error struct {
	Kind Kind
	Op   string // short "pkg: action" description, e.g. "connection: send"
	Err  error  // wrapped cause, may be nil
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("faktory: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("faktory: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, so callers can
// write errors.Is(err, faktory.ErrTimeout) style checks against the sentinels
// below.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

func newErr(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Sentinels usable with errors.Is(err, faktory.ErrX). Each carries only a
// Kind — compare by Kind, not by identity, since every real error also
// carries an Op and a wrapped cause.
var (
	ErrConnection        = &Error{Kind: KindConnection}
	ErrTimeout           = &Error{Kind: KindTimeout}
	ErrProtocol          = &Error{Kind: KindProtocol}
	ErrProtocolAssertion = &Error{Kind: KindProtocolAssertion}
	ErrVersionMismatch   = &Error{Kind: KindVersionMismatch}
	ErrUnknownJobType    = &Error{Kind: KindUnknownJobType}
	ErrJob               = &Error{Kind: KindJob}
	ErrShutdownAborted   = &Error{Kind: KindShutdownAborted}
)

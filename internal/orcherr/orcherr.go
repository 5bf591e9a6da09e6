// Package orcherr defines the closed set of typed errors the
// orchestrator surfaces at its HTTP edge.
package orcherr

import (
	"errors"
	"net/http"
)

// Kind is one of the orchestrator's fixed error kinds.
type Kind string

const (
	KindNoAgents           Kind = "NoAgents"
	KindNoneSuitable       Kind = "NoneSuitable"
	KindReservationTimeout Kind = "ReservationTimeout"
	KindTimedOut           Kind = "TimedOut"
	KindAgentCrashed       Kind = "AgentCrashed"
	KindProtocolError      Kind = "ProtocolError"
	KindBadInput           Kind = "BadInput"
	KindUnauthorized       Kind = "Unauthorized"
	KindAdapterFailure     Kind = "AdapterFailure"
)

// statusByKind maps each Kind to the HTTP status code it reports.
var statusByKind = map[Kind]int{
	KindNoAgents:           http.StatusNotFound,
	KindNoneSuitable:       http.StatusNotFound,
	KindReservationTimeout: http.StatusServiceUnavailable,
	KindTimedOut:           http.StatusRequestTimeout,
	KindAgentCrashed:       http.StatusInternalServerError,
	KindProtocolError:      http.StatusInternalServerError,
	KindBadInput:           http.StatusBadRequest,
	KindUnauthorized:       http.StatusUnauthorized,
	KindAdapterFailure:     http.StatusInternalServerError,
}

// Error is the typed error value carried through the dispatcher and
// workflow layers. It never embeds a client-facing stack trace; Cause
// is recorded only for the error history and internal logs.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Status returns the HTTP status code a handler should map this error
// to.
func (e *Error) Status() int {
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New constructs an *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// As extracts an *Error from err, if any wraps one.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

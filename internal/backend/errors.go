package backend

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/rotisserie/eris"

	"github.com/sells-group/people-lookup/internal/model"
)

// ErrInvalidQuery is returned when a term fails validation. It is surfaced
// immediately and never retried.
var ErrInvalidQuery = eris.New("invalid query")

// FailureKind classifies a per-backend failure.
type FailureKind string

const (
	// FailTimeout means the backend exceeded its time budget.
	FailTimeout FailureKind = "timeout"
	// FailAuth means the backend rejected our credentials, including the
	// case where no valid token could be obtained.
	FailAuth FailureKind = "auth_failure"
	// FailUnavailable means a connection or network error.
	FailUnavailable FailureKind = "unavailable"
	// FailInvalidQuery means the backend rejected the query itself.
	FailInvalidQuery FailureKind = "invalid_query"
)

// Error is a classified failure from one backend.
type Error struct {
	Backend model.Backend
	Kind    FailureKind
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Backend, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err as a classified backend failure.
func NewError(b model.Backend, kind FailureKind, err error) *Error {
	return &Error{Backend: b, Kind: kind, Err: err}
}

// Classify wraps err as an *Error, inferring the failure kind from the
// error chain when the adapter has not already classified it.
func Classify(b model.Backend, err error) *Error {
	var be *Error
	if errors.As(err, &be) {
		return be
	}
	return &Error{Backend: b, Kind: kindOf(err), Err: err}
}

func kindOf(err error) FailureKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return FailTimeout
	}
	if errors.Is(err, ErrInvalidQuery) {
		return FailInvalidQuery
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailTimeout
	}
	return FailUnavailable
}

// IsAuthFailure reports whether err is a classified auth failure.
func IsAuthFailure(err error) bool {
	var be *Error
	return errors.As(err, &be) && be.Kind == FailAuth
}

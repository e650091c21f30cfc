package client

import (
	"errors"
	"fmt"
)

type FailureKind string

const (
	FailureNone         FailureKind = ""
	FailureUnauthorized FailureKind = "unauthorized"
	FailureForbidden    FailureKind = "forbidden"
	FailureNotFound     FailureKind = "not_found"
	FailureConflict     FailureKind = "conflict"
	FailureInvalid      FailureKind = "invalid"
	FailureTransport    FailureKind = "transport"
)

// Terminal reports whether retrying cannot help.
func (k FailureKind) Terminal() bool {
	switch k {
	case FailureUnauthorized, FailureForbidden, FailureNotFound:
		return true
	}
	return false
}

// Failure is a server or transport error mapped onto the user-visible
// taxonomy.
type Failure struct {
	Kind    FailureKind
	Status  int
	Message string
}

func (f *Failure) Error() string {
	if f.Status != 0 {
		return fmt.Sprintf("%s (%d): %s", f.Kind, f.Status, f.Message)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

var (
	ErrNotReady         = errors.New("session is not ready")
	ErrAlreadySubmitted = errors.New("already submitted for this question")
	ErrSubmitInFlight   = errors.New("a submission is already in flight")
	ErrInvalidOption    = errors.New("option is not valid for the current question")
	ErrSessionOver      = errors.New("session is no longer accepting answers")
)

// KindOf classifies err. Anything that is not a Failure is a transport
// problem.
func KindOf(err error) FailureKind {
	if err == nil {
		return FailureNone
	}
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return FailureTransport
}

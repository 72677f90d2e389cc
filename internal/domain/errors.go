package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid job transition")
	ErrClosed            = errors.New("orchestrator closed")

	ErrValidation         = errors.New("validation error")
	ErrProvider           = errors.New("provider failure")
	ErrTransportFatal     = errors.New("provider unreachable")
	ErrTransportTransient = errors.New("transient transport error")
	ErrTimeout            = errors.New("generation timed out")
	ErrCanceled           = errors.New("generation canceled")
)

// ErrorKind classifies why an attempt failed.
type ErrorKind string

const (
	KindValidation         ErrorKind = "validation"
	KindProvider           ErrorKind = "provider"
	KindTransportFatal     ErrorKind = "transport_fatal"
	KindTransportTransient ErrorKind = "transport_transient"
	KindTimeout            ErrorKind = "timeout"
	KindCanceled           ErrorKind = "canceled"
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindValidation:
		return ErrValidation
	case KindTransportFatal:
		return ErrTransportFatal
	case KindTransportTransient:
		return ErrTransportTransient
	case KindTimeout:
		return ErrTimeout
	case KindCanceled:
		return ErrCanceled
	default:
		return ErrProvider
	}
}

// Retryable reports whether a poller may try the same call again.
func (k ErrorKind) Retryable() bool {
	return k == KindTransportTransient
}

// Error is the classified error carried through the orchestrator.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.sentinel().Error()
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// NewError wraps err with a classification.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind ErrorKind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the classification of err. Unclassified errors are treated
// as provider failures.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindProvider
}

// ToJobError converts err into the persisted failure record.
func ToJobError(err error) *JobError {
	if err == nil {
		return nil
	}
	return &JobError{Kind: KindOf(err), Message: err.Error()}
}

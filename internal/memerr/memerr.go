// Package memerr defines the error taxonomy shared by the validator,
// resolver, executor and store.
package memerr

import (
	"errors"
	"fmt"
)

// Kind is the machine-readable error class reported in result envelopes.
type Kind string

const (
	KindValidation Kind = "ValidationError"
	KindSafety     Kind = "SafetyError"
	KindNotFound   Kind = "NotFoundError"
	KindConflict   Kind = "ConflictError"
	KindProvider   Kind = "ProviderError"
	KindStore      Kind = "StoreError"
)

// Error is a classified error.
type Error struct {
	Kind      Kind   `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Cause     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithCause attaches an underlying error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// New creates an Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Validation reports a malformed request.
func Validation(format string, args ...any) *Error {
	return New(KindValidation, format, args...)
}

// Safety reports a structurally valid request that would run unbounded.
func Safety(format string, args ...any) *Error {
	return New(KindSafety, format, args...)
}

// NotFound reports an empty target set where at least one record is required.
func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

// Conflict reports a mutation refused by lock or lifecycle policy.
func Conflict(format string, args ...any) *Error {
	return New(KindConflict, format, args...)
}

// Provider reports an embedding or generation failure. Always retryable.
func Provider(cause error, format string, args ...any) *Error {
	e := New(KindProvider, format, args...)
	e.Retryable = true
	e.Cause = cause
	return e
}

// ProviderFrom keeps an already classified err and otherwise wraps it as
// a ProviderError.
func ProviderFrom(err error, format string, args ...any) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Provider(err, format, args...)
}

// Store reports a persistence failure.
func Store(cause error, format string, args ...any) *Error {
	e := New(KindStore, format, args...)
	e.Cause = cause
	return e
}

// KindOf extracts the kind of err. Unclassified errors are StoreError.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStore
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable reports whether err is marked retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// From classifies err, leaving already-classified errors untouched.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Store(err, "store failure")
}

// Package apperr provides structured error handling for the guideline
// retrieval backend.
//
// Every error carries a Kind so callers can distinguish "empty because
// absent" from "empty because a dependency failed" without string
// matching. The read path generally degrades gracefully on Unavailable;
// initialization treats every kind as fatal.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for handling decisions.
type Kind string

const (
	// KindUnavailable indicates a transient upstream failure (blob store,
	// ANN service, embedding API unreachable). Retryable.
	KindUnavailable Kind = "UNAVAILABLE"
	// KindNotFound indicates a missing object or record. Not an error on
	// most read paths.
	KindNotFound Kind = "NOT_FOUND"
	// KindCorrupt indicates persisted data that could not be decoded.
	KindCorrupt Kind = "CORRUPT"
	// KindInvalid indicates bad caller input.
	KindInvalid Kind = "INVALID"
	// KindConfig indicates missing or malformed configuration. Fatal at
	// initialization.
	KindConfig Kind = "CONFIG"
	// KindInternal indicates an unexpected internal failure.
	KindInternal Kind = "INTERNAL"
)

// Error is the structured error type used across the retrieval engine.
type Error struct {
	// Kind is the error classification.
	Kind Kind

	// Op is the operation that failed (e.g., "chunkstore.load").
	Op string

	// Message is the human-readable error message.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: [%s] %s", e.Op, e.Kind, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by kind, enabling errors.Is against sentinel kinds.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// New creates an Error with the given kind, operation, and message.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap creates an Error wrapping cause. Returns nil when cause is nil.
func Wrap(kind Kind, op string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Message: cause.Error(), Cause: cause}
}

// Unavailable wraps a transient upstream failure.
func Unavailable(op string, cause error) *Error {
	return Wrap(KindUnavailable, op, cause)
}

// NotFound creates a not-found error for the given operation.
func NotFound(op, message string) *Error {
	return New(KindNotFound, op, message)
}

// Corrupt wraps a decode failure of persisted data.
func Corrupt(op string, cause error) *Error {
	return Wrap(KindCorrupt, op, cause)
}

// Invalid creates an invalid-input error.
func Invalid(op, message string) *Error {
	return New(KindInvalid, op, message)
}

// Config creates a configuration error. Configuration errors are fatal
// at initialization time.
func Config(op, message string) *Error {
	return New(KindConfig, op, message)
}

// Internal wraps an unexpected internal failure.
func Internal(op string, cause error) *Error {
	return Wrap(KindInternal, op, cause)
}

// KindOf extracts the kind from an error chain. Unclassified errors
// report KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsNotFound reports whether the error chain contains a NotFound error.
func IsNotFound(err error) bool {
	return err != nil && KindOf(err) == KindNotFound
}

// IsRetryable reports whether the operation may be retried.
// Only transient upstream failures qualify.
func IsRetryable(err error) bool {
	return err != nil && KindOf(err) == KindUnavailable
}

// Package syncerr defines the error taxonomy shared by the filesystem,
// synctarget, and syncmanager packages. Rather than exporting one sentinel
// value per failure mode, callers classify errors by Kind, mirroring the way
// the wider synchronization stack keeps a small, stable vocabulary of
// failure categories instead of a sprawling set of error types.
package syncerr

import (
	"errors"
	"fmt"
)

// Kind identifies the category of a synchronization error.
type Kind uint8

const (
	// KindUnknown is the zero value and should not be produced deliberately.
	KindUnknown Kind = iota
	// KindNotFound indicates that a path does not exist.
	KindNotFound
	// KindAlreadyExists indicates a non-recursive create against an existing
	// path.
	KindAlreadyExists
	// KindInvalidOperation indicates a structurally invalid request (wrong
	// state, non-empty directory without recursive, not-a-directory, etc.).
	KindInvalidOperation
	// KindLocked indicates that a write was blocked by an advisory lock.
	KindLocked
	// KindInitializationFailed indicates that a target failed to initialize.
	KindInitializationFailed
	// KindApplyFailed indicates that applying an incoming change failed.
	KindApplyFailed
	// KindContentRetrievalFailed indicates that a source target could not
	// produce content for a change.
	KindContentRetrievalFailed
	// KindHashMismatch indicates that streamed content didn't hash to the
	// value declared in its metadata.
	KindHashMismatch
	// KindSyncInProgress indicates an operation was rejected because a sync
	// batch is still being applied.
	KindSyncInProgress
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NOT_FOUND"
	case KindAlreadyExists:
		return "ALREADY_EXISTS"
	case KindInvalidOperation:
		return "INVALID_OPERATION"
	case KindLocked:
		return "LOCKED"
	case KindInitializationFailed:
		return "INITIALIZATION_FAILED"
	case KindApplyFailed:
		return "APPLY_FAILED"
	case KindContentRetrievalFailed:
		return "CONTENT_RETRIEVAL_FAILED"
	case KindHashMismatch:
		return "HASH_MISMATCH"
	case KindSyncInProgress:
		return "SYNC_IN_PROGRESS"
	default:
		return "UNKNOWN"
	}
}

// Error is the concrete error type produced by this module's components. It
// carries a Kind for programmatic classification plus an optional wrapped
// cause for diagnostics.
type Error struct {
	kind    Kind
	message string
	cause   error
}

// New creates an Error of the given kind with the given message.
func New(kind Kind, message string) *Error {
	return &Error{kind: kind, message: message}
}

// Wrap creates an Error of the given kind, wrapping cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{kind: kind, message: message, cause: cause}
}

// Kind returns the error's kind.
func (e *Error) Kind() Kind {
	return e.kind
}

// Error implements error.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap allows errors.Is/errors.As to see through to the wrapped cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports the kind-based match: errors.Is(err, syncerr.New(KindLocked, ""))
// succeeds if err carries the same kind, regardless of message.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.kind == e.kind
	}
	return false
}

// KindOf extracts the Kind from err if it is (or wraps) a *Error, returning
// KindUnknown otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return KindUnknown
}

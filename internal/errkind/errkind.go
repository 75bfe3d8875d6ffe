// Package errkind defines the stable error taxonomy (§7) shared by every
// layer of the core. Callers check kind with errors.Is against the sentinels
// below, never by matching error strings: a typed, wrapped error convention.
package errkind

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

// Kind is a stable, interface-surfaced error classification.
type Kind string

const (
	InvalidArgument  Kind = "InvalidArgument"
	NotFound         Kind = "NotFound"
	PermissionDenied Kind = "PermissionDenied"
	Conflict         Kind = "Conflict"
	ParentUnknown    Kind = "ParentUnknown"
	TypeImmutable    Kind = "TypeImmutable"
	TooManyRequests  Kind = "TooManyRequests"
	Unauthorized     Kind = "Unauthorized"
	StoreUnavailable Kind = "StoreUnavailable"
	ProtocolMismatch Kind = "ProtocolMismatch"
)

// Error carries a Kind plus a human-readable message and optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, errkind.ErrNotFound) work by comparing Kind values
// against a bare Kind sentinel wrapped as an *Error.
func (e *Error) Is(target error) bool {
	var k *Error
	if errors.As(target, &k) {
		return e.Kind == k.Kind
	}
	return false
}

// New constructs a new Error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs a new Error of the given kind wrapping cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// sentinel returns a bare *Error carrying only a Kind, for use with errors.Is.
func sentinel(k Kind) *Error { return &Error{Kind: k} }

var (
	ErrInvalidArgument  = sentinel(InvalidArgument)
	ErrNotFound         = sentinel(NotFound)
	ErrPermissionDenied = sentinel(PermissionDenied)
	ErrConflict         = sentinel(Conflict)
	ErrParentUnknown    = sentinel(ParentUnknown)
	ErrTypeImmutable    = sentinel(TypeImmutable)
	ErrTooManyRequests  = sentinel(TooManyRequests)
	ErrUnauthorized     = sentinel(Unauthorized)
	ErrStoreUnavailable = sentinel(StoreUnavailable)
	ErrProtocolMismatch = sentinel(ProtocolMismatch)
)

// KindOf returns the Kind of err if it (or something it wraps) is an *Error,
// and ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Retryable reports whether the error kind is safe for a client to retry
// (only StoreUnavailable per §7).
func Retryable(err error) bool {
	k, ok := KindOf(err)
	return ok && k == StoreUnavailable
}

// Combine aggregates multiple invariant-violation errors into one, used when
// a single write fails more than one check at once (e.g. both ParentUnknown
// and TypeImmutable). Uses multierr so callers can still errors.Is/As through
// to any individual cause.
func Combine(errs ...error) error {
	return multierr.Combine(errs...)
}

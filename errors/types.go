// Package errors provides the structured error taxonomy for the throttle
// rate limiter. Every error crossing a package boundary carries a kind that
// maps to a response policy: which HTTP status to return and whether the
// request path fails open.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for policy decisions.
type Kind string

const (
	// KindInvalidCredential indicates a missing, malformed, or unknown credential.
	KindInvalidCredential Kind = "INVALID_CREDENTIAL"
	// KindBlocked indicates the source address is temporarily blocked for abuse.
	KindBlocked Kind = "BLOCKED"
	// KindLimitExceeded indicates the sliding-window quota is exhausted.
	KindLimitExceeded Kind = "LIMIT_EXCEEDED"
	// KindStoreUnavailable indicates the shared store is unreachable or the
	// circuit breaker is open. The rate path fails open on this kind.
	KindStoreUnavailable Kind = "STORE_UNAVAILABLE"
	// KindConfigInvalid indicates a configuration value failed validation.
	KindConfigInvalid Kind = "CONFIG_INVALID"
	// KindInternal indicates an unexpected failure. Never swallowed.
	KindInternal Kind = "INTERNAL"
)

// Error is the concrete error type used throughout throttle.
// It wraps an optional cause and carries a kind plus a human-readable message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// New creates an Error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error that wraps an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// Code returns the machine-readable error code for response bodies.
func (e *Error) Code() string {
	return string(e.Kind)
}

// HTTPStatus maps the error kind to the status code the middleware emits.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindInvalidCredential:
		return http.StatusUnauthorized
	case KindBlocked, KindLimitExceeded:
		return http.StatusTooManyRequests
	case KindStoreUnavailable:
		// Fail-open: callers should not surface this as a response status,
		// but a misrouted one reads as a server-side problem.
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// KindOf returns the kind of err, or KindInternal if err carries no kind.
// Returns an empty kind for nil errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return stderrors.As(err, &e) && e.Kind == kind
}

// IsStoreUnavailable reports whether err indicates the shared store is
// unreachable. Callers on the rate path treat this as fail-open.
func IsStoreUnavailable(err error) bool {
	return IsKind(err, KindStoreUnavailable)
}

// IsInvalidCredential reports whether err indicates a bad credential.
func IsInvalidCredential(err error) bool {
	return IsKind(err, KindInvalidCredential)
}

// IsBlocked reports whether err indicates a blocked source address.
func IsBlocked(err error) bool {
	return IsKind(err, KindBlocked)
}

// IsConfigInvalid reports whether err indicates invalid configuration.
func IsConfigInvalid(err error) bool {
	return IsKind(err, KindConfigInvalid)
}

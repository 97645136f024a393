// Package aceerr provides the core's unified error vocabulary (spec §7):
// every error the core surfaces, locally or over the remote facade, is one
// of a fixed set of kinds with a wire-level name and an HTTP status.
package aceerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the fixed error kinds from spec §7.
type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindConflict         Kind = "conflict"
	KindDeadlock         Kind = "deadlock"
	KindTimeout          Kind = "timeout"
	KindUnauthorized     Kind = "unauthorized"
	KindValidationFailed Kind = "validation_failed"
	KindUnavailable      Kind = "unavailable"
	KindFatal            Kind = "fatal"
)

var httpStatus = map[Kind]int{
	KindNotFound:         http.StatusNotFound,
	KindConflict:         http.StatusConflict,
	KindDeadlock:         http.StatusConflict,
	KindTimeout:          http.StatusGatewayTimeout,
	KindUnauthorized:     http.StatusUnauthorized,
	KindValidationFailed: http.StatusBadRequest,
	KindUnavailable:      http.StatusServiceUnavailable,
	KindFatal:            http.StatusInternalServerError,
}

// Error is a structured core error: a kind, a message, optional details,
// and an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]interface{}
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Cause }

// WithDetail attaches a key/value pair of context and returns e.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// HTTPStatus returns the HTTP status code that corresponds to e.Kind.
func (e *Error) HTTPStatus() int {
	if s, ok := httpStatus[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind around an existing cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func NotFound(resource, id string) *Error {
	return New(KindNotFound, "resource not found").WithDetail("resource", resource).WithDetail("id", id)
}

func Conflict(message string) *Error {
	return New(KindConflict, message)
}

func Deadlock(name string) *Error {
	return New(KindDeadlock, "lock acquisition would deadlock").WithDetail("lock", name)
}

func Timeout(operation string) *Error {
	return New(KindTimeout, "operation timed out").WithDetail("operation", operation)
}

func Unauthorized(message string) *Error {
	return New(KindUnauthorized, message)
}

func ValidationFailed(field, reason string) *Error {
	return New(KindValidationFailed, "validation failed").WithDetail("field", field).WithDetail("reason", reason)
}

func Unavailable(message string, cause error) *Error {
	return Wrap(KindUnavailable, message, cause)
}

func Fatal(message string, cause error) *Error {
	return Wrap(KindFatal, message, cause)
}

// Is reports whether err (or something it wraps) is an *Error of kind k.
func Is(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}

// As extracts the *Error from err's chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// Retryable reports whether the caller should retry this error with
// backoff, per spec §7 policy: timeout, deadlock and unavailable are
// retryable; validation and auth errors never are.
func Retryable(err error) bool {
	e, ok := As(err)
	if !ok {
		return false
	}
	switch e.Kind {
	case KindTimeout, KindDeadlock, KindUnavailable:
		return true
	default:
		return false
	}
}

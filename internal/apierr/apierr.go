// Package apierr provides the structured, HTTP-status-tagged error type used
// by every domain service in this repository. Services construct errors via
// the kind-specific constructors; the HTTP boundary translates them into the
// standard JSON error envelope.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a domain error carrying the HTTP status it should be reported
// with and a machine-readable code for the JSON envelope.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// New creates an Error with an explicit status and code.
func New(status int, code, format string, args ...any) *Error {
	return &Error{Status: status, Code: code, Message: fmt.Sprintf(format, args...)}
}

func BadRequest(format string, args ...any) *Error {
	return New(http.StatusBadRequest, "bad_request", format, args...)
}

func Forbidden(format string, args ...any) *Error {
	return New(http.StatusForbidden, "forbidden", format, args...)
}

func NotFound(format string, args ...any) *Error {
	return New(http.StatusNotFound, "not_found", format, args...)
}

func Conflict(format string, args ...any) *Error {
	return New(http.StatusConflict, "conflict", format, args...)
}

func TooManyRequests(format string, args ...any) *Error {
	return New(http.StatusTooManyRequests, "too_many_requests", format, args...)
}

func ServiceUnavailable(format string, args ...any) *Error {
	return New(http.StatusServiceUnavailable, "unavailable", format, args...)
}

func Internal(format string, args ...any) *Error {
	return New(http.StatusInternalServerError, "internal_error", format, args...)
}

// From extracts an *Error from err. Any other error maps to a generic 500 so
// handlers never leak internal error strings to the client.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal("internal error")
}

// Is reports whether err is an *Error with the given status.
func Is(err error, status int) bool {
	var e *Error
	return errors.As(err, &e) && e.Status == status
}

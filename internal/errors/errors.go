// Package errors defines the coded error type shared by the exchange core.
// Business-rule rejections and internal invariant faults carry distinct codes
// so monitoring can tell an invalid request from a ledger bug.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies an error for transport mapping and monitoring.
type Code string

const (
	CodeBadRequest       Code = "bad_request"
	CodeMethodNotAllowed Code = "method_not_allowed"
	CodeUnauthorized     Code = "unauthorized"
	CodeForbidden        Code = "forbidden"
	CodeNotFound         Code = "not_found"
	CodeConflict         Code = "conflict"
	CodeUnavailable      Code = "unavailable"
	CodeInternal         Code = "internal"
)

// Error is a coded error. Internal-coded errors indicate an invariant
// violation inside the core, never a caller mistake.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus maps the code to an HTTP status for the API layer.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeBadRequest:
		return http.StatusBadRequest
	case CodeMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func newError(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// BadRequest reports an invalid caller request.
func BadRequest(message string) *Error { return newError(CodeBadRequest, message, nil) }

// MethodNotAllowed reports an HTTP method the route does not support.
func MethodNotAllowed(message string) *Error { return newError(CodeMethodNotAllowed, message, nil) }

// Unauthorized reports a missing or invalid identity.
func Unauthorized(message string) *Error { return newError(CodeUnauthorized, message, nil) }

// Forbidden reports an authenticated caller lacking permission.
func Forbidden(message string) *Error { return newError(CodeForbidden, message, nil) }

// NotFound reports a missing resource.
func NotFound(message string) *Error { return newError(CodeNotFound, message, nil) }

// Conflict reports a state conflict such as a duplicate or a double decision.
func Conflict(message string) *Error { return newError(CodeConflict, message, nil) }

// Unavailable reports a dependency that could not answer in time.
func Unavailable(message string) *Error { return newError(CodeUnavailable, message, nil) }

// Internal wraps an invariant violation inside the core.
func Internal(message string, err error) *Error { return newError(CodeInternal, message, err) }

// Wrap attaches a code and message to an underlying error while keeping it
// reachable through errors.Is / errors.As.
func Wrap(code Code, message string, err error) *Error { return newError(code, message, err) }

// CodeOf extracts the code from err, or CodeInternal when err carries none.
func CodeOf(err error) Code {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return CodeInternal
}

// IsInternal reports whether err is an internal invariant fault.
func IsInternal(err error) bool { return CodeOf(err) == CodeInternal }

// Package errors provides the structured error type shared by the
// messenger surfaces. Codes classify failures for transport mapping;
// messages stay internal.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unclassified error.
	CodeUnknown Code = "UNKNOWN"
	// CodeAuthFailure indicates a bad, missing, or expired credential.
	CodeAuthFailure Code = "AUTH_FAILURE"
	// CodeAuthorizationDenied indicates the caller may not act on the target.
	CodeAuthorizationDenied Code = "AUTHORIZATION_DENIED"
	// CodeNotFound indicates the operation target does not exist.
	CodeNotFound Code = "NOT_FOUND"
	// CodeStorageFailure indicates a ledger write or read failed.
	CodeStorageFailure Code = "STORAGE_FAILURE"
	// CodeInvalidArgument indicates malformed caller input.
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
)

// Error is the domain error type with structured metadata.
type Error struct {
	Code     Code              // Machine-readable error code
	Message  string            // Internal message (for logs/telemetry)
	Metadata map[string]string // Additional context
	Cause    error             // Wrapped underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// HTTPStatus maps the error code to an HTTP response status.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeAuthFailure:
		return http.StatusUnauthorized
	case CodeAuthorizationDenied:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

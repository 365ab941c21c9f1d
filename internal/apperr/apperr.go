// Package apperr defines errors that carry their HTTP mapping.
//
// Cause is kept for server-side logging only; clients see Code and Message.
package apperr

import (
	"errors"
	"net/http"
)

// AppError is an error with a client-safe message and an HTTP status.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Cause      error
}

// Error returns the client-safe message.
func (e *AppError) Error() string { return e.Message }

// Unwrap exposes the cause to errors.Is and errors.As.
func (e *AppError) Unwrap() error { return e.Cause }

// Validation creates a 400 error for bad input.
func Validation(msg string) *AppError {
	return &AppError{Code: "VALIDATION_ERROR", Message: msg, HTTPStatus: http.StatusBadRequest}
}

// NotFound creates a 404 error for a named resource.
func NotFound(resource string) *AppError {
	return &AppError{Code: "NOT_FOUND", Message: resource + " not found", HTTPStatus: http.StatusNotFound}
}

// Conflict creates a 409 error.
func Conflict(msg string) *AppError {
	return &AppError{Code: "CONFLICT", Message: msg, HTTPStatus: http.StatusConflict}
}

// PaymentRequired creates a 402 error.
func PaymentRequired(msg string) *AppError {
	return &AppError{Code: "PAYMENT_REQUIRED", Message: msg, HTTPStatus: http.StatusPaymentRequired}
}

// TooManyRequests creates a 429 error.
func TooManyRequests(msg string) *AppError {
	return &AppError{Code: "RATE_LIMITED", Message: msg, HTTPStatus: http.StatusTooManyRequests}
}

// BadGateway creates a 502 error for a failing upstream dependency.
func BadGateway(msg string, cause error) *AppError {
	return &AppError{Code: "UPSTREAM_ERROR", Message: msg, HTTPStatus: http.StatusBadGateway, Cause: cause}
}

// Unavailable creates a 503 error for a dependency that is down.
func Unavailable(msg string) *AppError {
	return &AppError{Code: "UNAVAILABLE", Message: msg, HTTPStatus: http.StatusServiceUnavailable}
}

// Internal wraps an unexpected error. The cause is never sent to clients.
func Internal(cause error) *AppError {
	return &AppError{Code: "INTERNAL_ERROR", Message: "internal server error", HTTPStatus: http.StatusInternalServerError, Cause: cause}
}

// WithCause attaches an underlying error for logging.
func (e *AppError) WithCause(cause error) *AppError {
	cp := *e
	cp.Cause = cause
	return &cp
}

// As extracts the *AppError from err's chain. Errors that are not AppErrors
// are reported as Internal.
func As(err error) *AppError {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae
	}
	return Internal(err)
}

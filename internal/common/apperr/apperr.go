// Package apperr provides the application error taxonomy used across the
// Query API, Ingestor, and Chat Proxy.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes as constants.
const (
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeUpstream      = "UPSTREAM_UNAVAILABLE"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// WebSocket close codes for the auth taxonomy (section 7 / 4401 / 4403).
const (
	CloseUnauthorized = 4401
	CloseForbidden    = 4403
)

// AppError represents an application-specific error with additional context.
type AppError struct {
	Code       string   `json:"code"`
	Message    string   `json:"message"`
	HTTPStatus int      `json:"-"`
	Errors     []string `json:"-"` // collected validation errors, when Code == ErrCodeValidation
	Err        error    `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// CloseCode maps an auth AppError to its WebSocket close code. Returns 0 for
// non-auth errors.
func (e *AppError) CloseCode() int {
	switch e.Code {
	case ErrCodeUnauthorized:
		return CloseUnauthorized
	case ErrCodeForbidden:
		return CloseForbidden
	default:
		return 0
	}
}

// NotFound creates a 404 error for a resource.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:       ErrCodeNotFound,
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		HTTPStatus: http.StatusNotFound,
	}
}

// Unauthorized creates a 401 / 4401 error for a missing bearer token.
func Unauthorized(message string) *AppError {
	return &AppError{
		Code:       ErrCodeUnauthorized,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// Forbidden creates a 403 / 4403 error for a mismatched bearer token.
func Forbidden(message string) *AppError {
	return &AppError{
		Code:       ErrCodeForbidden,
		Message:    message,
		HTTPStatus: http.StatusForbidden,
	}
}

// ValidationErrors creates a 422 error carrying the full collected error
// list, matching the "collect all applicable errors" requirement.
func ValidationErrors(errs []string) *AppError {
	return &AppError{
		Code:       ErrCodeValidation,
		Message:    "validation failed",
		HTTPStatus: http.StatusUnprocessableEntity,
		Errors:     errs,
	}
}

// Upstream creates a 502 error for a chat-proxy transport failure. errClass
// is a short error-class string, never the full error (which may leak
// internal detail or credentials).
func Upstream(errClass string) *AppError {
	return &AppError{
		Code:       ErrCodeUpstream,
		Message:    fmt.Sprintf("Upstream unavailable: %s", errClass),
		HTTPStatus: http.StatusBadGateway,
	}
}

// Internal creates a 500 error; the wrapped error is logged, never surfaced
// to the client.
func Internal(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeInternalError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// IsNotFound reports whether err is a not-found AppError.
func IsNotFound(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeNotFound
	}
	return false
}

// HTTPStatus returns the HTTP status for an error, defaulting to 500 for
// errors that are not an AppError.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// DetailBody is the JSON body shape for validation failures:
// {"detail": {"errors": [...]}}.
type DetailBody struct {
	Detail struct {
		Errors []string `json:"errors"`
	} `json:"detail"`
}

// NewDetailBody builds the wire body for a validation failure.
func NewDetailBody(errs []string) DetailBody {
	var b DetailBody
	b.Detail.Errors = errs
	return b
}

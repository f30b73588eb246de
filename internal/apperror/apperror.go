// Package apperror defines the application's error vocabulary.
//
// Services return *AppError values (or wrap them with fmt.Errorf("...: %w")).
// The HTTP layer maps the sentinel inside each AppError to a status code with
// StatusCode, so no service ever has to know about HTTP.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrBadRequest   = errors.New("bad request")
	ErrValidation   = errors.New("Validation Error")
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInternal     = errors.New("internal error")
)

type AppError struct {
	Err     error  // sentinel used for classification
	Message string // Human-readable error message, safe to send to clients
	Field   string // Optional: field causing the error
	Cause   error  // Optional: underlying failure, logged but never rendered
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

// NotFoundMessage is NotFound with a caller-chosen message, for lookups that
// are not keyed by id (usernames, emails).
func NotFoundMessage(message string) *AppError {
	return &AppError{Err: ErrNotFound, Message: message}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func BadRequest(message string) *AppError {
	return &AppError{Err: ErrBadRequest, Message: message}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// ConflictMessage reports a uniqueness violation with a caller-chosen message.
func ConflictMessage(message string) *AppError {
	return &AppError{Err: ErrConflict, Message: message}
}

// Unauthorized is returned when credentials or tokens are missing, invalid
// or stale. HTTP handlers map this to 401.
func Unauthorized(message string) *AppError {
	return &AppError{Err: ErrUnauthorized, Message: message}
}

// Internal wraps an unexpected failure. The message is what the client sees;
// cause stays server-side.
func Internal(message string, cause error) *AppError {
	return &AppError{Err: ErrInternal, Message: message, Cause: cause}
}

// StatusCode maps an error chain to an HTTP status. Errors that carry no
// sentinel from this package are treated as 500.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInternal):
		return http.StatusInternalServerError
	case errors.Is(err, ErrBadRequest), errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

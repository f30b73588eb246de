// Package response writes the API's JSON envelope.
//
// Every endpoint answers with the same shape so the client can parse any
// response without knowing which route produced it:
//
//	success: {"statusCode":200,"data":{...},"message":"...","success":true}
//	failure: {"statusCode":401,"message":"...","success":false,"errors":[]}
//
// It lives in its own package (not in handler) because the auth middleware
// must render the failure envelope too, and auth cannot import handler.
package response

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/channelhub/internal/apperror"
)

// Envelope is the success body.
type Envelope struct {
	StatusCode int    `json:"statusCode"`
	Data       any    `json:"data"`
	Message    string `json:"message"`
	Success    bool   `json:"success"`
}

// ErrorEnvelope is the failure body. Errors lists field-level problems and is
// always present (possibly empty) so clients can range over it unconditionally.
type ErrorEnvelope struct {
	StatusCode int      `json:"statusCode"`
	Message    string   `json:"message"`
	Success    bool     `json:"success"`
	Errors     []string `json:"errors"`
}

const internalMessage = "An internal error occurred"

// JSON sends v with the given status. Headers must be set before the body is
// written, so Content-Type and the status go out first.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// Success wraps data in the success envelope.
func Success(w http.ResponseWriter, status int, data any, message string) {
	if message == "" {
		message = "Success"
	}
	JSON(w, status, Envelope{
		StatusCode: status,
		Data:       data,
		Message:    message,
		Success:    status < http.StatusBadRequest,
	})
}

// Error maps err to a status and writes the failure envelope.
//
// Only *apperror.AppError messages reach the client. Anything else becomes a
// generic 500 because raw errors can carry SQL, paths or driver internals.
// Causes of internal errors are logged through logger when it is non-nil.
func Error(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := apperror.StatusCode(err)
	message := internalMessage
	details := []string{}

	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
		if appErr.Field != "" {
			details = append(details, appErr.Field+": "+appErr.Message)
		}
	}

	if status >= http.StatusInternalServerError && logger != nil {
		attrs := []any{slog.String("error", err.Error())}
		if appErr != nil && appErr.Cause != nil {
			attrs = append(attrs, slog.String("cause", appErr.Cause.Error()))
		}
		logger.Error("request failed", attrs...)
	}

	JSON(w, status, ErrorEnvelope{
		StatusCode: status,
		Message:    message,
		Success:    false,
		Errors:     details,
	})
}

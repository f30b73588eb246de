// Package handler holds the HTTP layer: decode the request, call a service,
// write the envelope.
//
// Handlers here return an error instead of writing failures themselves.
// Handle is the single boundary that turns that error into the failure
// envelope, so every endpoint reports errors in the same shape:
//
//	{"statusCode": 409, "message": "...", "success": false, "errors": []}
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/sakif/channelhub/internal/apperror"
	"github.com/sakif/channelhub/internal/response"
)

// HandlerFunc is an http.HandlerFunc that reports failure by returning it.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// Handle adapts fn to net/http. A returned error is rendered through
// response.Error; 5xx errors are logged with their cause.
func Handle(logger *slog.Logger, fn HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil {
			response.Error(w, logger.With(
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			), err)
		}
	}
}

// Limits bounds request bodies.
type Limits struct {
	JSONBody        int64 // bytes accepted for JSON bodies
	MultipartBody   int64 // bytes accepted for a whole multipart request
	MultipartMemory int64 // bytes of a multipart form kept in memory
}

// decodeBody reads at most limit bytes of the request body into v. JSON is
// the default; application/x-www-form-urlencoded bodies are accepted too and
// decoded by field name through v's json tags (first value per key). An
// empty JSON body leaves v untouched when allowEmpty is set.
func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v any, allowEmpty bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		return decodeForm(r, v)
	}

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF) && allowEmpty:
			return nil
		case errors.As(err, &tooLarge):
			return apperror.BadRequest("Request body too large")
		default:
			return apperror.BadRequest("Invalid JSON body")
		}
	}
	return nil
}

func decodeForm(r *http.Request, v any) error {
	if err := r.ParseForm(); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperror.BadRequest("Request body too large")
		}
		return apperror.BadRequest("Invalid form body")
	}

	fields := make(map[string]string, len(r.PostForm))
	for k, vals := range r.PostForm {
		if len(vals) > 0 {
			fields[k] = vals[0]
		}
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return apperror.BadRequest("Invalid form body")
	}
	if err := json.Unmarshal(b, v); err != nil {
		return apperror.BadRequest("Invalid form body")
	}
	return nil
}

// emptyData is rendered as {} in success envelopes that carry no payload.
var emptyData = struct{}{}

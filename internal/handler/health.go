package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/sakif/channelhub/internal/response"
)

// Pinger is anything the health check can ping (the store, the cache).
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports whether the backing services answer.
type HealthHandler struct {
	checks map[string]Pinger
	logger *slog.Logger
}

func NewHealthHandler(checks map[string]Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{checks: checks, logger: logger}
}

// HTTP: GET /healthz
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := make(map[string]string, len(h.checks))
	healthy := true
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			h.logger.Warn("health check failed", slog.String("check", name), slog.String("error", err.Error()))
			status[name] = "down"
			healthy = false
			continue
		}
		status[name] = "up"
	}

	if !healthy {
		response.JSON(w, http.StatusServiceUnavailable, response.Envelope{
			StatusCode: http.StatusServiceUnavailable,
			Data:       status,
			Message:    "Service unavailable",
			Success:    false,
		})
		return
	}
	response.Success(w, http.StatusOK, status, "OK")
}

package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"opspilot/internal/store"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	repo store.Repository
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(repo store.Repository) *HealthHandler {
	return &HealthHandler{repo: repo}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := map[string]interface{}{
		"status": "healthy",
		"checks": map[string]string{"api": "ok"},
	}
	statusCode := http.StatusOK

	if h.repo != nil {
		if err := h.repo.Ping(ctx); err != nil {
			slog.Error("Health check failed", "error", err)
			status["status"] = "degraded"
			status["checks"].(map[string]string)["database"] = "unreachable"
			statusCode = http.StatusServiceUnavailable
		} else {
			status["checks"].(map[string]string)["database"] = "ok"
		}
	}

	JSON(w, statusCode, status)
}

// Ready reports whether the API can serve traffic. Unlike Health it fails
// outright when a required dependency is unreachable.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if h.repo != nil {
		if err := h.repo.Ping(ctx); err != nil {
			slog.Error("Readiness check failed", "error", err)
			Error(w, http.StatusServiceUnavailable, "database unreachable")
			return
		}
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// RegisterHealth registers the health check routes.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
	r.Get("/health/ready", h.Ready)
}

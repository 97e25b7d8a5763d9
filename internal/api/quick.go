package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"opspilot/internal/identity"
	"opspilot/internal/task"
)

// QuickHandler handles the single-pipeline quick diagnosis flow: one
// background run reported as weighted stages, polled rather than streamed.
type QuickHandler struct {
	runner *task.StageRunner
	stages *task.StageTracker
}

// NewQuickHandler creates a new quick diagnosis handler.
func NewQuickHandler(runner *task.StageRunner, stages *task.StageTracker) *QuickHandler {
	return &QuickHandler{runner: runner, stages: stages}
}

// RegisterRoutes registers quick diagnosis routes.
func (h *QuickHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/quick-diagnosis", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/{taskID}", h.Get)
	})
}

type quickRequest struct {
	Query       string `json:"query"`
	ServiceHint string `json:"serviceHint,omitempty"`
}

// Create starts a quick diagnosis run.
func (h *QuickHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	var req quickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		Error(w, http.StatusBadRequest, "query is required")
		return
	}

	rec := h.runner.Launch(r.Context(), userID, req.Query, req.ServiceHint)
	slog.Info("Quick diagnosis created", "task_id", rec.TaskID, "user_id", userID)
	JSON(w, http.StatusAccepted, rec)
}

// Get returns the current stage breakdown of a quick run.
func (h *QuickHandler) Get(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	rec, ok := h.stages.Snapshot(taskID)
	if !ok {
		Error(w, http.StatusNotFound, "task not found")
		return
	}
	JSON(w, http.StatusOK, rec)
}

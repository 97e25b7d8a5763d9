package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"opspilot/internal/domain"
	"opspilot/internal/identity"
	"opspilot/internal/orchestrator"
	"opspilot/internal/store"
	"opspilot/internal/task"
)

// DiagnosisHandler handles diagnosis run endpoints.
type DiagnosisHandler struct {
	runner   *task.Runner
	tracker  *task.Tracker
	pipeline *orchestrator.Pipeline
	repo     store.Repository
}

// NewDiagnosisHandler creates a new diagnosis handler. repo may be nil;
// history endpoints then return empty results.
func NewDiagnosisHandler(runner *task.Runner, tracker *task.Tracker, pipeline *orchestrator.Pipeline, repo store.Repository) *DiagnosisHandler {
	return &DiagnosisHandler{
		runner:   runner,
		tracker:  tracker,
		pipeline: pipeline,
		repo:     repo,
	}
}

// RegisterRoutes registers diagnosis routes.
func (h *DiagnosisHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/diagnosis", h.Create)
		r.Get("/diagnosis", h.History)
		r.Get("/diagnosis/{taskID}", h.Get)
		r.Post("/diagnosis/{taskID}/interrupt", h.Interrupt)
		r.Get("/agents", h.Agents)
	})
}

type createRequest struct {
	Query       string `json:"query"`
	ServiceHint string `json:"serviceHint,omitempty"`
}

// Create starts a new diagnosis run and returns its initial record.
func (h *DiagnosisHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		Error(w, http.StatusBadRequest, "query is required")
		return
	}

	rec := h.runner.Launch(r.Context(), userID, req.Query, req.ServiceHint)
	slog.Info("Diagnosis run created", "task_id", rec.TaskID, "user_id", userID)

	if h.repo != nil {
		if err := h.repo.SaveDiagnosis(r.Context(), &domain.DiagnosisSession{
			SessionID:   rec.TaskID,
			UserID:      userID,
			Query:       req.Query,
			ServiceHint: req.ServiceHint,
			Status:      string(rec.Status),
			CreatedAt:   rec.CreatedAt,
		}); err != nil {
			slog.Warn("Failed to persist diagnosis session", "error", err, "task_id", rec.TaskID)
		}
	}

	JSON(w, http.StatusAccepted, rec)
}

// Get returns the current record of a run, falling back to the persistent
// store once the in-memory record has been cleaned up.
func (h *DiagnosisHandler) Get(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	if rec, ok := h.tracker.Snapshot(taskID); ok {
		JSON(w, http.StatusOK, rec)
		return
	}

	if h.repo != nil {
		rec, err := h.repo.GetTaskSnapshot(r.Context(), taskID)
		if err != nil {
			slog.Error("Failed to load task snapshot", "error", err, "task_id", taskID)
			Error(w, http.StatusInternalServerError, "failed to load task")
			return
		}
		if rec != nil {
			JSON(w, http.StatusOK, rec)
			return
		}
	}

	Error(w, http.StatusNotFound, "task not found")
}

type interruptRequest struct {
	Reason string `json:"reason,omitempty"`
}

// Interrupt requests cancellation of a running diagnosis.
func (h *DiagnosisHandler) Interrupt(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	var req interruptRequest
	if r.Body != nil {
		// Body is optional; a bare POST interrupts without a reason.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	err := h.tracker.Interrupt(taskID, req.Reason)
	switch {
	case errors.Is(err, task.ErrTaskNotFound):
		Error(w, http.StatusNotFound, "task not found")
	case errors.Is(err, task.ErrNotInterruptible):
		Error(w, http.StatusConflict, "task already finished")
	case err != nil:
		Error(w, http.StatusInternalServerError, err.Error())
	default:
		rec, _ := h.tracker.Snapshot(taskID)
		JSON(w, http.StatusOK, rec)
	}
}

// History returns the user's recent diagnosis sessions, newest first.
func (h *DiagnosisHandler) History(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if h.repo == nil {
		JSON(w, http.StatusOK, []struct{}{})
		return
	}

	sessions, err := h.repo.ListDiagnosesByUser(r.Context(), userID, 20)
	if err != nil {
		slog.Error("Failed to list diagnosis sessions", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	out := make([]map[string]interface{}, 0, len(sessions))
	for _, s := range sessions {
		entry := map[string]interface{}{
			"taskId":    s.SessionID,
			"query":     s.Query,
			"status":    s.Status,
			"createdAt": s.CreatedAt.Format(time.RFC3339),
		}
		if s.Answer != "" {
			entry["answer"] = s.Answer
		}
		out = append(out, entry)
	}
	JSON(w, http.StatusOK, out)
}

// Agents returns the static capability descriptors of the pipeline agents.
func (h *DiagnosisHandler) Agents(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"agents": h.pipeline.Capabilities(),
		"order":  h.pipeline.AgentIDs(),
	})
}

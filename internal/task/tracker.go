package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrTaskNotFound is returned when an operation that must report
	// failure names an unknown task id.
	ErrTaskNotFound = errors.New("task not found")
	// ErrNotInterruptible is returned when interrupting a task that has
	// already reached a terminal state.
	ErrNotInterruptible = errors.New("task not interruptible")
)

// Tracker owns the registry of multi-agent task records. Exactly one
// background job mutates any given record; the registry itself supports
// concurrent snapshot reads while that single writer works.
type Tracker struct {
	mu     sync.RWMutex
	tasks  map[string]*taskEntry
	agents []AgentDef
	logger *slog.Logger
}

type taskEntry struct {
	rec    *Record
	cancel context.CancelFunc
}

// NewTracker creates a tracker that knows the given agents. Every new task
// starts with each of them in the waiting state.
func NewTracker(agents []AgentDef, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		tasks:  make(map[string]*taskEntry),
		agents: agents,
		logger: logger,
	}
}

// CreateTask registers a new queued task and returns its snapshot.
func (t *Tracker) CreateTask(userID, query string) *Record {
	rec := &Record{
		TaskID:           uuid.NewString(),
		UserID:           userID,
		Query:            query,
		Status:           StatusQueued,
		Interruptible:    true,
		Agents:           make(map[string]*AgentStatus, len(t.agents)),
		PlanningSessions: []*PlanningSession{},
		CreatedAt:        time.Now(),
	}
	for _, def := range t.agents {
		rec.Agents[def.ID] = &AgentStatus{
			AgentID:     def.ID,
			DisplayName: def.DisplayName,
			Status:      AgentWaiting,
		}
	}

	t.mu.Lock()
	t.tasks[rec.TaskID] = &taskEntry{rec: rec}
	t.mu.Unlock()

	t.logger.Info("task created", "task_id", rec.TaskID, "user_id", userID)
	return rec.Clone()
}

// AttachCancel stores the cancel handle of the background job driving the
// task, so Interrupt can signal it.
func (t *Tracker) AttachCancel(taskID string, cancel context.CancelFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.tasks[taskID]
	if !ok {
		t.logger.Warn("attach cancel for unknown task", "task_id", taskID)
		return
	}
	entry.cancel = cancel
}

// MarkStarted stamps the moment the background job picked the task up.
func (t *Tracker) MarkStarted(taskID string) {
	t.mutate(taskID, func(rec *Record) {
		now := time.Now()
		rec.StartedAt = &now
	})
}

// SetPhase records the pipeline phase the run is currently in.
func (t *Tracker) SetPhase(taskID, phase string) {
	t.mutate(taskID, func(rec *Record) {
		rec.CurrentPhase = phase
	})
}

// StartPlanningSession opens a new plan revision with an incremented
// version, moves the task to planning and the planner agent to working.
func (t *Tracker) StartPlanningSession(taskID, description string) {
	t.mutate(taskID, func(rec *Record) {
		session := &PlanningSession{
			ID:          uuid.NewString(),
			Version:     len(rec.PlanningSessions) + 1,
			Description: description,
			Status:      SessionPlanning,
			CreatedAt:   time.Now(),
		}
		rec.PlanningSessions = append(rec.PlanningSessions, session)
		rec.Status = StatusPlanning

		if planner, ok := rec.Agents["planner"]; ok && planner.Status == AgentWaiting {
			now := time.Now()
			planner.Status = AgentWorking
			planner.StartedAt = &now
		}
	})
}

// PlanStepSpec describes a step being added to the current session.
type PlanStepSpec struct {
	Name          string
	Description   string
	AssignedAgent string
	DependsOn     []string
}

// AddPlanStep appends a step to the current planning session.
func (t *Tracker) AddPlanStep(taskID string, spec PlanStepSpec) {
	t.mutate(taskID, func(rec *Record) {
		session := currentSession(rec)
		if session == nil {
			t.logger.Warn("plan step without planning session", "task_id", taskID, "step", spec.Name)
			return
		}
		session.Steps = append(session.Steps, PlanStep{
			ID:            uuid.NewString(),
			Name:          spec.Name,
			Description:   spec.Description,
			AssignedAgent: spec.AssignedAgent,
			Status:        StepPending,
			DependsOn:     spec.DependsOn,
			CreatedAt:     time.Now(),
		})
	})
}

// CompletePlanningSession closes the current session with its reasoning,
// marks the planner done and moves the task to executing.
func (t *Tracker) CompletePlanningSession(taskID, reasoning string) {
	t.mutate(taskID, func(rec *Record) {
		session := currentSession(rec)
		if session == nil {
			t.logger.Warn("complete planning without session", "task_id", taskID)
			return
		}
		now := time.Now()
		session.Status = SessionExecuting
		session.Reasoning = reasoning
		session.ClosedAt = &now

		if planner, ok := rec.Agents["planner"]; ok && !planner.Status.Terminal() {
			planner.Status = AgentDone
			planner.Progress = 1.0
			planner.EndedAt = &now
		}
		rec.Status = StatusExecuting
		t.recomputeProgress(rec)
	})
}

// MarkPlanStep updates the status of the named step in the current session.
func (t *Tracker) MarkPlanStep(taskID, stepName string, status PlanStepStatus, result string) {
	t.mutate(taskID, func(rec *Record) {
		session := currentSession(rec)
		if session == nil {
			return
		}
		now := time.Now()
		for i := range session.Steps {
			if session.Steps[i].Name != stepName {
				continue
			}
			session.Steps[i].Status = status
			switch status {
			case StepExecuting:
				session.Steps[i].StartedAt = &now
			case StepCompleted, StepFailed:
				session.Steps[i].CompletedAt = &now
				session.Steps[i].Result = result
			}
			return
		}
	})
}

// AgentUpdate carries the optional fields of an agent status change.
type AgentUpdate struct {
	Action   *string
	Progress *float64
	Result   *string
	Error    *string
}

// UpdateAgentStatus applies one agent transition: stamps StartedAt on the
// first working transition, EndedAt on any terminal one, recomputes the
// overall progress and flips the task to completing once every agent is
// terminal.
func (t *Tracker) UpdateAgentStatus(taskID, agentID string, status AgentState, upd AgentUpdate) {
	t.mutate(taskID, func(rec *Record) {
		a, ok := rec.Agents[agentID]
		if !ok {
			t.logger.Warn("status update for unknown agent", "task_id", taskID, "agent_id", agentID)
			return
		}

		now := time.Now()
		if status == AgentWorking && a.StartedAt == nil {
			a.StartedAt = &now
		}
		if status.Terminal() && a.EndedAt == nil {
			a.EndedAt = &now
		}
		a.Status = status

		if upd.Action != nil {
			a.CurrentAction = *upd.Action
		}
		if upd.Progress != nil {
			a.Progress = clamp01(*upd.Progress)
		}
		if status == AgentDone {
			a.Progress = 1.0
		}
		if upd.Result != nil {
			a.Result = *upd.Result
		}
		if upd.Error != nil {
			a.Error = *upd.Error
		}

		t.recomputeProgress(rec)

		if allTerminal(rec) && !rec.Status.Terminal() {
			rec.Status = StatusCompleting
		}
	})
}

// AddIntermediateConclusion appends one finding to the conclusion log.
func (t *Tracker) AddIntermediateConclusion(taskID, stepID, agentID, conclusion string, confidence float64) {
	t.mutate(taskID, func(rec *Record) {
		rec.IntermediateConclusions = append(rec.IntermediateConclusions, Conclusion{
			StepID:     stepID,
			AgentID:    agentID,
			Conclusion: conclusion,
			Confidence: confidence,
			Timestamp:  time.Now(),
		})
	})
}

// Interrupt requests best-effort cancellation of a running task. The
// record flips to interrupted immediately; the background job observes the
// cancellation at its next suspension point.
func (t *Tracker) Interrupt(taskID, reason string) error {
	t.mu.Lock()
	entry, ok := t.tasks[taskID]
	if !ok {
		t.mu.Unlock()
		return ErrTaskNotFound
	}
	rec := entry.rec
	if !rec.Interruptible || rec.Status.Terminal() {
		t.mu.Unlock()
		return ErrNotInterruptible
	}

	now := time.Now()
	rec.Status = StatusInterrupted
	rec.Interruptible = false
	rec.CompletedAt = &now
	if reason != "" {
		rec.Error = fmt.Sprintf("interrupted: %s", reason)
	} else {
		rec.Error = "interrupted"
	}
	for _, a := range rec.Agents {
		if a.Status == AgentWorking {
			a.Status = AgentInterrupted
			a.EndedAt = &now
		}
	}
	cancel := entry.cancel
	entry.cancel = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	t.logger.Info("task interrupted", "task_id", taskID, "reason", reason)
	return nil
}

// Complete finishes a task successfully and freezes its record. Agents
// still marked working are forced to done.
func (t *Tracker) Complete(taskID string, finalResult json.RawMessage) {
	t.mutate(taskID, func(rec *Record) {
		now := time.Now()
		rec.Status = StatusCompleted
		rec.OverallProgress = 1.0
		rec.FinalResult = finalResult
		rec.Interruptible = false
		rec.CompletedAt = &now
		for _, a := range rec.Agents {
			if a.Status == AgentWorking {
				a.Status = AgentDone
				a.Progress = 1.0
				a.EndedAt = &now
			}
		}
	})
}

// Fail finishes a task unsuccessfully and freezes its record. The failing
// agent's status is expected to have been set by the caller; other agents
// are left as they are.
func (t *Tracker) Fail(taskID, errMsg string) {
	t.mutate(taskID, func(rec *Record) {
		now := time.Now()
		rec.Status = StatusFailed
		rec.Error = errMsg
		rec.Interruptible = false
		rec.CompletedAt = &now
	})
}

// Snapshot returns a deep copy of the record for concurrent readers.
func (t *Tracker) Snapshot(taskID string) (*Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entry, ok := t.tasks[taskID]
	if !ok {
		return nil, false
	}
	return entry.rec.Clone(), true
}

// CleanupOlderThan drops terminal records older than maxAge and returns
// how many were removed. Housekeeping only; active tasks are never
// touched.
func (t *Tracker) CleanupOlderThan(maxAge time.Duration) int {
	threshold := time.Now().Add(-maxAge)

	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for id, entry := range t.tasks {
		rec := entry.rec
		if !rec.Status.Terminal() {
			continue
		}
		reference := rec.CreatedAt
		if rec.CompletedAt != nil {
			reference = *rec.CompletedAt
		}
		if reference.Before(threshold) {
			delete(t.tasks, id)
			removed++
		}
	}
	return removed
}

// mutate applies fn to the named record under the write lock. Unknown ids
// and terminal records are logged and ignored so a racing update can never
// crash the driving job or thaw a frozen record.
func (t *Tracker) mutate(taskID string, fn func(rec *Record)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.tasks[taskID]
	if !ok {
		t.logger.Warn("update for unknown task", "task_id", taskID)
		return
	}
	if entry.rec.Status.Terminal() {
		t.logger.Warn("update for terminal task ignored", "task_id", taskID, "status", entry.rec.Status)
		return
	}
	fn(entry.rec)
}

// recomputeProgress derives overall progress from agent states. Progress
// never decreases for a task, even when an agent's own progress is reset.
func (t *Tracker) recomputeProgress(rec *Record) {
	if len(rec.Agents) == 0 {
		return
	}
	sum := 0.0
	for _, a := range rec.Agents {
		if a.Status.Terminal() {
			sum += 1.0
		} else if a.Status == AgentWorking {
			sum += a.Progress
		}
	}
	progress := sum / float64(len(rec.Agents))
	if progress > rec.OverallProgress {
		rec.OverallProgress = progress
	}
}

func allTerminal(rec *Record) bool {
	for _, a := range rec.Agents {
		if !a.Status.Terminal() {
			return false
		}
	}
	return len(rec.Agents) > 0
}

func currentSession(rec *Record) *PlanningSession {
	if len(rec.PlanningSessions) == 0 {
		return nil
	}
	return rec.PlanningSessions[len(rec.PlanningSessions)-1]
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

package task

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StageStatus is the lifecycle state of one pipeline stage.
type StageStatus string

const (
	StagePending    StageStatus = "pending"
	StageInProgress StageStatus = "in_progress"
	StageCompleted  StageStatus = "completed"
	StageFailed     StageStatus = "failed"
)

// Stage is one weighted phase of the single-pipeline flow.
type Stage struct {
	Name       string      `json:"name"`
	Weight     float64     `json:"weight"`
	Status     StageStatus `json:"status"`
	Progress   float64     `json:"progress"`
	Result     string      `json:"result,omitempty"`
	DurationMs int64       `json:"durationMs,omitempty"`
	Detail     string      `json:"detail,omitempty"`
}

// stageDefs is the fixed stage list of the single-pipeline flow. Weights
// sum to exactly 1.0.
var stageDefs = []Stage{
	{Name: "entity_extraction", Weight: 0.1},
	{Name: "retrieval", Weight: 0.3},
	{Name: "topology_lookup", Weight: 0.2},
	{Name: "agent_reasoning", Weight: 0.3},
	{Name: "result_formatting", Weight: 0.1},
}

// StageTask is one tracked single-pipeline run.
type StageTask struct {
	TaskID             string        `json:"taskId"`
	UserID             string        `json:"userId,omitempty"`
	Message            string        `json:"message"`
	Status             Status        `json:"status"`
	Stages             []Stage       `json:"stages"`
	OverallProgress    float64       `json:"overallProgress"`
	EstimatedRemaining time.Duration `json:"estimatedRemaining,omitempty"`
	Result             string        `json:"result,omitempty"`
	Error              string        `json:"error,omitempty"`
	CreatedAt          time.Time     `json:"createdAt"`
	CompletedAt        *time.Time    `json:"completedAt,omitempty"`
}

func (t *StageTask) clone() *StageTask {
	out := *t
	out.Stages = append([]Stage(nil), t.Stages...)
	out.CompletedAt = cloneTime(t.CompletedAt)
	return &out
}

// StageTracker owns the registry of single-pipeline task records.
type StageTracker struct {
	mu     sync.RWMutex
	tasks  map[string]*StageTask
	logger *slog.Logger
}

// NewStageTracker creates an empty stage tracker.
func NewStageTracker(logger *slog.Logger) *StageTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &StageTracker{
		tasks:  make(map[string]*StageTask),
		logger: logger,
	}
}

// CreateTask registers a new queued task with all stages pending.
func (t *StageTracker) CreateTask(userID, message string) *StageTask {
	rec := &StageTask{
		TaskID:    uuid.NewString(),
		UserID:    userID,
		Message:   message,
		Status:    StatusQueued,
		Stages:    append([]Stage(nil), stageDefs...),
		CreatedAt: time.Now(),
	}
	for i := range rec.Stages {
		rec.Stages[i].Status = StagePending
	}

	t.mu.Lock()
	t.tasks[rec.TaskID] = rec
	t.mu.Unlock()
	return rec.clone()
}

// StageUpdate carries the optional fields of a stage transition.
type StageUpdate struct {
	Progress   *float64
	Result     *string
	DurationMs *int64
	Detail     *string
}

// UpdateStage applies one stage transition and recomputes the weighted
// overall progress: a completed stage contributes its full weight, an
// in-progress stage its weight times the stage progress.
func (t *StageTracker) UpdateStage(taskID, stageName string, status StageStatus, upd StageUpdate) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.tasks[taskID]
	if !ok {
		t.logger.Warn("stage update for unknown task", "task_id", taskID, "stage", stageName)
		return
	}
	if rec.Status.Terminal() {
		t.logger.Warn("stage update for terminal task ignored", "task_id", taskID, "stage", stageName)
		return
	}

	var stage *Stage
	for i := range rec.Stages {
		if rec.Stages[i].Name == stageName {
			stage = &rec.Stages[i]
			break
		}
	}
	if stage == nil {
		t.logger.Warn("update for unknown stage", "task_id", taskID, "stage", stageName)
		return
	}

	stage.Status = status
	if upd.Progress != nil {
		stage.Progress = clamp01(*upd.Progress)
	}
	if status == StageCompleted {
		stage.Progress = 1.0
	}
	if upd.Result != nil {
		stage.Result = *upd.Result
	}
	if upd.DurationMs != nil {
		stage.DurationMs = *upd.DurationMs
	}
	if upd.Detail != nil {
		stage.Detail = *upd.Detail
	}
	if rec.Status == StatusQueued {
		rec.Status = StatusExecuting
	}

	t.recompute(rec)
}

// recompute refreshes overall progress and the remaining-time estimate.
func (t *StageTracker) recompute(rec *StageTask) {
	progress := 0.0
	for _, s := range rec.Stages {
		switch s.Status {
		case StageCompleted:
			progress += s.Weight
		case StageInProgress:
			progress += s.Weight * s.Progress
		}
	}
	// Weight sums accumulate float error; progress stays within [0, 1].
	progress = clamp01(progress)
	if progress > rec.OverallProgress {
		rec.OverallProgress = progress
	}

	if rec.OverallProgress > 0 && rec.OverallProgress < 1 {
		elapsed := time.Since(rec.CreatedAt)
		total := time.Duration(float64(elapsed) / rec.OverallProgress)
		rec.EstimatedRemaining = total - elapsed
	} else {
		rec.EstimatedRemaining = 0
	}
}

// CompleteTask finishes a task successfully, freezing progress at 1.0.
func (t *StageTracker) CompleteTask(taskID, result string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.tasks[taskID]
	if !ok {
		t.logger.Warn("complete for unknown task", "task_id", taskID)
		return
	}
	if rec.Status.Terminal() {
		return
	}
	now := time.Now()
	rec.Status = StatusCompleted
	rec.OverallProgress = 1.0
	rec.EstimatedRemaining = 0
	rec.Result = result
	rec.CompletedAt = &now
}

// FailTask finishes a task unsuccessfully, freezing progress at its last
// value.
func (t *StageTracker) FailTask(taskID, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.tasks[taskID]
	if !ok {
		t.logger.Warn("fail for unknown task", "task_id", taskID)
		return
	}
	if rec.Status.Terminal() {
		return
	}
	now := time.Now()
	rec.Status = StatusFailed
	rec.Error = errMsg
	rec.EstimatedRemaining = 0
	rec.CompletedAt = &now
}

// Snapshot returns a copy of the record for concurrent readers.
func (t *StageTracker) Snapshot(taskID string) (*StageTask, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.tasks[taskID]
	if !ok {
		return nil, false
	}
	return rec.clone(), true
}

// CleanupOlderThan drops records older than maxAge regardless of state and
// returns how many were removed.
func (t *StageTracker) CleanupOlderThan(maxAge time.Duration) int {
	threshold := time.Now().Add(-maxAge)

	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for id, rec := range t.tasks {
		if rec.CreatedAt.Before(threshold) {
			delete(t.tasks, id)
			removed++
		}
	}
	return removed
}

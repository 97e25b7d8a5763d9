// Package task tracks diagnosis runs as observable, cancellable background
// jobs with two granularities of progress accounting: weighted stages for
// the single-pipeline flow and per-agent status for the planner/executor
// flow.
package task

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a task record.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusPlanning    Status = "planning"
	StatusExecuting   Status = "executing"
	StatusCompleting  Status = "completing"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusInterrupted Status = "interrupted"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusInterrupted
}

// AgentState is the lifecycle state of one agent within a run.
type AgentState string

const (
	AgentWaiting     AgentState = "waiting"
	AgentWorking     AgentState = "working"
	AgentDone        AgentState = "done"
	AgentFailed      AgentState = "failed"
	AgentInterrupted AgentState = "interrupted"
)

// Terminal reports whether the agent has finished for this run.
func (s AgentState) Terminal() bool {
	return s == AgentDone || s == AgentFailed || s == AgentInterrupted
}

// AgentStatus tracks one agent's progress within a run.
type AgentStatus struct {
	AgentID       string     `json:"agentId"`
	DisplayName   string     `json:"displayName"`
	Status        AgentState `json:"status"`
	CurrentAction string     `json:"currentAction,omitempty"`
	Progress      float64    `json:"progress"`
	StartedAt     *time.Time `json:"startedAt,omitempty"`
	EndedAt       *time.Time `json:"endedAt,omitempty"`
	Result        string     `json:"result,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// PlanStepStatus is the lifecycle state of one plan step.
type PlanStepStatus string

const (
	StepPending   PlanStepStatus = "pending"
	StepExecuting PlanStepStatus = "executing"
	StepCompleted PlanStepStatus = "completed"
	StepFailed    PlanStepStatus = "failed"
)

// PlanStep is one unit of a planning session.
type PlanStep struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Description   string         `json:"description,omitempty"`
	AssignedAgent string         `json:"assignedAgent"`
	Status        PlanStepStatus `json:"status"`
	DependsOn     []string       `json:"dependsOn,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	StartedAt     *time.Time     `json:"startedAt,omitempty"`
	CompletedAt   *time.Time     `json:"completedAt,omitempty"`
	Result        string         `json:"result,omitempty"`
}

// SessionStatus is the lifecycle state of a planning session.
type SessionStatus string

const (
	SessionPlanning  SessionStatus = "planning"
	SessionExecuting SessionStatus = "executing"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// PlanningSession is one versioned plan revision. A run may accumulate
// several sessions through re-planning; only the latest is current.
type PlanningSession struct {
	ID          string        `json:"id"`
	Version     int           `json:"version"`
	Description string        `json:"description,omitempty"`
	Steps       []PlanStep    `json:"steps"`
	Status      SessionStatus `json:"status"`
	Reasoning   string        `json:"reasoning,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	ClosedAt    *time.Time    `json:"closedAt,omitempty"`
}

// Conclusion is one intermediate finding recorded during a run. The
// conclusion log is purely additive.
type Conclusion struct {
	StepID     string    `json:"stepId,omitempty"`
	AgentID    string    `json:"agentId"`
	Conclusion string    `json:"conclusion"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// Record is the externally observable state of one diagnosis run. The
// tracker exclusively owns records; readers receive deep-copied snapshots.
type Record struct {
	TaskID                  string                  `json:"taskId"`
	UserID                  string                  `json:"userId,omitempty"`
	Query                   string                  `json:"query,omitempty"`
	Status                  Status                  `json:"status"`
	OverallProgress         float64                 `json:"overallProgress"`
	CurrentPhase            string                  `json:"currentPhase,omitempty"`
	Interruptible           bool                    `json:"interruptible"`
	Agents                  map[string]*AgentStatus `json:"agents"`
	PlanningSessions        []*PlanningSession      `json:"planningSessions"`
	IntermediateConclusions []Conclusion            `json:"intermediateConclusions"`
	FinalResult             json.RawMessage         `json:"finalResult,omitempty"`
	Error                   string                  `json:"error,omitempty"`
	CreatedAt               time.Time               `json:"createdAt"`
	StartedAt               *time.Time              `json:"startedAt,omitempty"`
	CompletedAt             *time.Time              `json:"completedAt,omitempty"`
}

// Clone returns a deep copy safe to hand to concurrent readers.
func (r *Record) Clone() *Record {
	out := *r

	out.Agents = make(map[string]*AgentStatus, len(r.Agents))
	for id, a := range r.Agents {
		cp := *a
		cp.StartedAt = cloneTime(a.StartedAt)
		cp.EndedAt = cloneTime(a.EndedAt)
		out.Agents[id] = &cp
	}

	out.PlanningSessions = make([]*PlanningSession, len(r.PlanningSessions))
	for i, s := range r.PlanningSessions {
		cp := *s
		cp.ClosedAt = cloneTime(s.ClosedAt)
		cp.Steps = make([]PlanStep, len(s.Steps))
		for j, step := range s.Steps {
			stepCp := step
			stepCp.StartedAt = cloneTime(step.StartedAt)
			stepCp.CompletedAt = cloneTime(step.CompletedAt)
			stepCp.DependsOn = append([]string(nil), step.DependsOn...)
			cp.Steps[j] = stepCp
		}
		out.PlanningSessions[i] = &cp
	}

	out.IntermediateConclusions = append([]Conclusion(nil), r.IntermediateConclusions...)
	out.FinalResult = append(json.RawMessage(nil), r.FinalResult...)
	out.StartedAt = cloneTime(r.StartedAt)
	out.CompletedAt = cloneTime(r.CompletedAt)
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

// AgentDef declares one agent known to the tracker at task creation time.
type AgentDef struct {
	ID          string
	DisplayName string
}

package task

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"opspilot/internal/agent"
	"opspilot/internal/orchestrator"
)

// MessageSink receives live run output for streaming subscribers.
type MessageSink interface {
	PublishMessage(taskID string, msg agent.Message)
	PublishRecord(rec *Record)
}

// SnapshotStore persists terminal task records.
type SnapshotStore interface {
	SaveTaskSnapshot(ctx context.Context, rec *Record) error
}

// Runner drives diagnosis runs as cancellable background jobs. Each job
// owns its task record through the tracker and forwards every message to
// the sink as it is produced.
type Runner struct {
	pipeline *orchestrator.Pipeline
	tracker  *Tracker
	sink     MessageSink
	store    SnapshotStore
	timeout  time.Duration
	logger   *slog.Logger
}

// NewRunner creates a runner. sink and store may be nil; timeout bounds a
// single run and defaults to five minutes.
func NewRunner(pipeline *orchestrator.Pipeline, tracker *Tracker, sink MessageSink, store SnapshotStore, timeout time.Duration, logger *slog.Logger) *Runner {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		pipeline: pipeline,
		tracker:  tracker,
		sink:     sink,
		store:    store,
		timeout:  timeout,
		logger:   logger,
	}
}

// Launch creates a task record and starts its background job. The job is
// detached from baseCtx's cancellation so it outlives the request that
// triggered it, bounded by the run timeout.
func (r *Runner) Launch(baseCtx context.Context, userID, query, serviceHint string) *Record {
	rec := r.tracker.CreateTask(userID, query)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(baseCtx), r.timeout)
	r.tracker.AttachCancel(rec.TaskID, cancel)

	go func() {
		defer cancel()
		r.run(ctx, rec.TaskID, query, serviceHint)
	}()

	return rec
}

func (r *Runner) run(ctx context.Context, taskID, query, serviceHint string) {
	defer func() {
		if rv := recover(); rv != nil {
			r.logger.Error("diagnosis job panicked", "task_id", taskID, "panic", rv)
			r.tracker.Fail(taskID, "internal error")
			r.publishRecord(taskID)
		}
	}()

	r.tracker.MarkStarted(taskID)
	r.logger.Info("diagnosis job started", "task_id", taskID)

	st := agent.NewState(agent.NewContext(query, serviceHint), 64)
	obs := &trackerObserver{taskID: taskID, tracker: r.tracker, st: st}

	for msg := range r.pipeline.Stream(ctx, st, obs) {
		if r.sink != nil {
			r.sink.PublishMessage(taskID, msg)
		}
		if msg.Kind == agent.KindAnswer && msg.AgentID != agent.SystemAgentID {
			r.tracker.AddIntermediateConclusion(taskID, "", msg.AgentID, msg.Content, 0.8)
		}
	}

	r.finish(ctx, taskID, st)
}

// finish settles the record once the stream is drained. An interrupted
// record is already terminal; the job only observes the cancellation.
func (r *Runner) finish(ctx context.Context, taskID string, st *agent.State) {
	snap, ok := r.tracker.Snapshot(taskID)
	if ok && snap.Status.Terminal() {
		r.logger.Info("diagnosis job ended on terminal record", "task_id", taskID, "status", snap.Status)
		r.persist(taskID)
		// Subscribers still need the terminal snapshot so their streams
		// can close.
		r.publishRecord(taskID)
		return
	}

	switch {
	case ctx.Err() != nil && st.Err == "":
		r.tracker.Fail(taskID, "cancelled: "+ctx.Err().Error())
	case st.Err != "":
		r.tracker.Fail(taskID, st.Err)
	default:
		res := orchestrator.ResultFrom(st)
		payload, err := json.Marshal(res)
		if err != nil {
			r.logger.Error("marshal final result", "task_id", taskID, "error", err)
			r.tracker.Fail(taskID, "result encoding failed")
			break
		}
		r.tracker.Complete(taskID, payload)
	}

	r.persist(taskID)
	r.publishRecord(taskID)
	r.logger.Info("diagnosis job finished", "task_id", taskID)
}

func (r *Runner) persist(taskID string) {
	if r.store == nil {
		return
	}
	snap, ok := r.tracker.Snapshot(taskID)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.store.SaveTaskSnapshot(ctx, snap); err != nil {
		r.logger.Error("persist task snapshot", "task_id", taskID, "error", err)
	}
}

func (r *Runner) publishRecord(taskID string) {
	if r.sink == nil {
		return
	}
	if snap, ok := r.tracker.Snapshot(taskID); ok {
		r.sink.PublishRecord(snap)
	}
}

// trackerObserver mirrors pipeline phase transitions into the task record.
type trackerObserver struct {
	taskID  string
	tracker *Tracker
	st      *agent.State
}

var _ orchestrator.Observer = (*trackerObserver)(nil)

func (o *trackerObserver) PhaseStarted(phase orchestrator.Phase, agentID string) {
	o.tracker.SetPhase(o.taskID, string(phase))

	switch phase {
	case orchestrator.PhasePlanner:
		o.tracker.StartPlanningSession(o.taskID, "initial diagnosis plan")
	case orchestrator.PhaseFinal:
		// Final synthesis runs under the system id, not an agent.
	default:
		action := "running " + string(phase) + " phase"
		o.tracker.UpdateAgentStatus(o.taskID, agentID, AgentWorking, AgentUpdate{Action: &action})
		o.tracker.MarkPlanStep(o.taskID, subtaskFor(phase), StepExecuting, "")
	}
}

func (o *trackerObserver) PhaseFinished(phase orchestrator.Phase, agentID string, agentErr string) {
	if phase == orchestrator.PhaseFinal {
		return
	}

	if phase == orchestrator.PhasePlanner {
		o.finishPlanning(agentID, agentErr)
		return
	}

	if agentErr != "" {
		o.tracker.UpdateAgentStatus(o.taskID, agentID, AgentFailed, AgentUpdate{Error: &agentErr})
		o.tracker.MarkPlanStep(o.taskID, subtaskFor(phase), StepFailed, agentErr)
		return
	}
	result := resultFor(o.st, phase)
	o.tracker.UpdateAgentStatus(o.taskID, agentID, AgentDone, AgentUpdate{Result: &result})
	o.tracker.MarkPlanStep(o.taskID, subtaskFor(phase), StepCompleted, result)
}

// finishPlanning copies the planner's emitted plan into the current
// planning session before closing it.
func (o *trackerObserver) finishPlanning(agentID, agentErr string) {
	if agentErr != "" {
		o.tracker.UpdateAgentStatus(o.taskID, agentID, AgentFailed, AgentUpdate{Error: &agentErr})
		return
	}

	plan, ok := o.st.Context.ExecutionPlan()
	if ok {
		for _, sub := range plan.Subtasks {
			o.tracker.AddPlanStep(o.taskID, PlanStepSpec{
				Name:          sub.Name,
				Description:   sub.Description,
				AssignedAgent: sub.AssignedTo,
			})
		}
	}
	o.tracker.CompletePlanningSession(o.taskID, planReasoning(o.st))
}

func planReasoning(st *agent.State) string {
	if msg, ok := st.Latest(agent.KindAnswer); ok {
		return msg.Content
	}
	return ""
}

// subtaskFor maps a pipeline phase to the plan step the planner emits for
// it, so step progress tracks phase progress.
func subtaskFor(phase orchestrator.Phase) string {
	switch phase {
	case orchestrator.PhaseKnowledge:
		return "gather-knowledge"
	case orchestrator.PhaseReasoning:
		return "analyze-causes"
	case orchestrator.PhaseExecutor:
		return "apply-remedies"
	}
	return string(phase)
}

// resultFor extracts a short per-phase result line from the run context.
func resultFor(st *agent.State, phase orchestrator.Phase) string {
	c := st.Context
	switch phase {
	case orchestrator.PhaseKnowledge:
		if ks, ok := c.KnowledgeSummary(); ok {
			return ks.Summary
		}
	case orchestrator.PhaseReasoning:
		if rec, ok := c.FinalRecommendation(); ok {
			return rec.Primary
		}
	case orchestrator.PhaseExecutor:
		if report, ok := c.ExecutionReport(); ok {
			return report.Summary
		}
	}
	return ""
}

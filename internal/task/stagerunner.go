package task

import (
	"context"
	"log/slog"
	"time"

	"opspilot/internal/agent"
	"opspilot/internal/orchestrator"
)

// StageRunner drives quick diagnosis runs against the stage tracker. The
// quick flow reports progress as weighted pipeline stages instead of
// per-agent status and returns a flat answer.
type StageRunner struct {
	pipeline *orchestrator.Pipeline
	stages   *StageTracker
	timeout  time.Duration
	logger   *slog.Logger
}

// NewStageRunner creates a stage runner. timeout defaults to five minutes.
func NewStageRunner(pipeline *orchestrator.Pipeline, stages *StageTracker, timeout time.Duration, logger *slog.Logger) *StageRunner {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StageRunner{
		pipeline: pipeline,
		stages:   stages,
		timeout:  timeout,
		logger:   logger,
	}
}

// Launch creates a stage task and starts its background job, detached from
// baseCtx's cancellation and bounded by the run timeout.
func (r *StageRunner) Launch(baseCtx context.Context, userID, query, serviceHint string) *StageTask {
	rec := r.stages.CreateTask(userID, query)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(baseCtx), r.timeout)
	go func() {
		defer cancel()
		r.run(ctx, rec.TaskID, query, serviceHint)
	}()

	return rec
}

func (r *StageRunner) run(ctx context.Context, taskID, query, serviceHint string) {
	defer func() {
		if rv := recover(); rv != nil {
			r.logger.Error("quick diagnosis job panicked", "task_id", taskID, "panic", rv)
			r.stages.FailTask(taskID, "internal error")
		}
	}()

	r.logger.Info("quick diagnosis started", "task_id", taskID)

	st := agent.NewState(agent.NewContext(query, serviceHint), 64)
	obs := &stageObserver{taskID: taskID, stages: r.stages}
	_, res := r.pipeline.Run(ctx, st, obs)

	switch {
	case ctx.Err() != nil && res.Err == "":
		r.stages.FailTask(taskID, "cancelled: "+ctx.Err().Error())
	case res.Err != "":
		r.stages.FailTask(taskID, res.Err)
	default:
		r.stages.CompleteTask(taskID, res.Answer)
	}
	r.logger.Info("quick diagnosis finished", "task_id", taskID)
}

// stageObserver maps pipeline phases onto the quick flow's weighted
// stages. Retrieval and topology lookup both happen inside the knowledge
// phase, so they advance together.
type stageObserver struct {
	taskID string
	stages *StageTracker
}

var _ orchestrator.Observer = (*stageObserver)(nil)

func (o *stageObserver) PhaseStarted(phase orchestrator.Phase, agentID string) {
	switch phase {
	case orchestrator.PhasePlanner:
		o.mark("entity_extraction", StageInProgress, nil)
	case orchestrator.PhaseKnowledge:
		o.mark("retrieval", StageInProgress, nil)
	case orchestrator.PhaseReasoning:
		o.mark("agent_reasoning", StageInProgress, nil)
	case orchestrator.PhaseFinal:
		o.mark("result_formatting", StageInProgress, nil)
	}
}

func (o *stageObserver) PhaseFinished(phase orchestrator.Phase, agentID string, agentErr string) {
	if agentErr != "" {
		switch phase {
		case orchestrator.PhasePlanner:
			o.fail("entity_extraction")
		case orchestrator.PhaseKnowledge:
			o.fail("retrieval")
		case orchestrator.PhaseReasoning, orchestrator.PhaseExecutor:
			o.fail("agent_reasoning")
		case orchestrator.PhaseFinal:
			o.fail("result_formatting")
		}
		return
	}

	switch phase {
	case orchestrator.PhasePlanner:
		o.mark("entity_extraction", StageCompleted, nil)
	case orchestrator.PhaseKnowledge:
		o.mark("retrieval", StageCompleted, nil)
		o.mark("topology_lookup", StageCompleted, nil)
	case orchestrator.PhaseReasoning:
		o.mark("agent_reasoning", StageCompleted, nil)
	case orchestrator.PhaseFinal:
		o.mark("result_formatting", StageCompleted, nil)
	}
}

func (o *stageObserver) mark(stage string, status StageStatus, progress *float64) {
	o.stages.UpdateStage(o.taskID, stage, status, StageUpdate{Progress: progress})
}

func (o *stageObserver) fail(stage string) {
	o.stages.UpdateStage(o.taskID, stage, StageFailed, StageUpdate{})
}

package agent

import (
	"context"
	"fmt"
	"log/slog"

	"opspilot/internal/remedy"
)

const maxRemedyOperations = 3

// Executor turns the recommendation into a typed operation plan, executes
// and verifies each operation through the remedy runner, and reports the
// outcome.
type Executor struct {
	base
	runner remedy.Runner
	logger *slog.Logger
}

// NewExecutor creates the executor agent. A nil runner falls back to
// simulated execution.
func NewExecutor(runner remedy.Runner, logger *slog.Logger) *Executor {
	if runner == nil {
		runner = &remedy.SimulatedRunner{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		base: base{caps: Capabilities{
			AgentID:   "executor",
			Type:      "execution",
			Name:      "Remedy Executor",
			StepLimit: 5,
			Tools:     []string{"remedy-runner"},
		}},
		runner: runner,
		logger: logger,
	}
}

// Process implements Agent.
func (e *Executor) Process(ctx context.Context, st *State) error {
	step := st.StepCount
	switch {
	case step == 0:
		return e.buildPlan(st)
	case step < e.caps.StepLimit-1:
		return e.executeNext(ctx, st, step-1)
	case step == e.caps.StepLimit-1:
		return e.report(st)
	default:
		return fmt.Errorf("executor has no step %d", step)
	}
}

func (e *Executor) buildPlan(st *State) error {
	rec, ok := st.Context.FinalRecommendation()
	if !ok {
		// Executing without a recommendation is a pipeline wiring bug.
		return fmt.Errorf("no recommendation to execute")
	}

	var ops []remedy.Operation
	for _, step := range rec.ImplementationPlan {
		if len(ops) == maxRemedyOperations {
			break
		}
		op := remedy.Plan(step.Action, step.Target)
		if op.RequiresApproval {
			e.logger.Info("skipping remedy pending approval", "operation", op.Name)
			continue
		}
		ops = append(ops, op)
	}
	st.Context.SetRemedyPlan(ops)
	st.Context.SetExecutionReport(ExecutionReport{})

	st.Append(Message{
		Kind:    KindThought,
		AgentID: e.caps.AgentID,
		Content: fmt.Sprintf("prepared %d executable operations (risk level %s)", len(ops), rec.RiskLevel),
	})
	return nil
}

// executeNext runs the operation at opIndex. When the plan is exhausted
// early it emits the report instead, completing the agent without using
// the remaining step budget.
func (e *Executor) executeNext(ctx context.Context, st *State, opIndex int) error {
	ops, _ := st.Context.RemedyPlan()
	if opIndex >= len(ops) {
		return e.report(st)
	}
	op := ops[opIndex]

	result, err := e.runner.Execute(ctx, op)
	executed := ExecutedStep{Operation: op, Duration: result.Duration, Detail: result.Detail}
	if err != nil {
		// A broken runner degrades to a failed step; the remaining
		// operations still get their chance.
		e.logger.Warn("remedy runner error", "operation", op.Name, "error", err)
		executed.Detail = err.Error()
	} else if result.OK {
		if verr := e.runner.Verify(ctx, op); verr != nil {
			executed.Detail = fmt.Sprintf("executed but verification failed: %v", verr)
		} else {
			executed.Succeeded = true
		}
	}

	report, _ := st.Context.ExecutionReport()
	report.Steps = append(report.Steps, executed)
	if executed.Succeeded {
		report.Succeeded++
	} else {
		report.Failed++
	}
	report.TotalTime += executed.Duration
	st.Context.SetExecutionReport(report)

	st.Append(Message{
		Kind:    KindObservation,
		AgentID: e.caps.AgentID,
		Content: fmt.Sprintf("operation %q (%s): succeeded=%t %s", op.Name, op.Category, executed.Succeeded, executed.Detail),
	})
	return nil
}

func (e *Executor) report(st *State) error {
	report, _ := st.Context.ExecutionReport()
	report.Summary = fmt.Sprintf("executed %d operations: %d succeeded, %d failed in %s",
		report.Succeeded+report.Failed, report.Succeeded, report.Failed, report.TotalTime)
	st.Context.SetExecutionReport(report)

	st.Append(Message{
		Kind:    KindAnswer,
		AgentID: e.caps.AgentID,
		Content: report.Summary,
	})
	st.Complete = true
	return nil
}

var _ Agent = (*Executor)(nil)

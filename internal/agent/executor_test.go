package agent

import (
	"context"
	"strings"
	"testing"

	"opspilot/internal/remedy"
)

func executorState(rec FinalRecommendation) *State {
	c := NewContext("checkout down", "checkout")
	c.SetFinalRecommendation(rec)
	st := NewState(c, 0)
	return st
}

func TestExecutorRunsPlanAndReports(t *testing.T) {
	e := NewExecutor(&remedy.SimulatedRunner{}, nil)
	st := executorState(FinalRecommendation{
		Primary:   "restart checkout",
		RiskLevel: "medium",
		ImplementationPlan: []RemedyStep{
			{Action: "restart the failed instance", Target: "checkout"},
			{Action: "inspect instance health and logs", Target: "checkout"},
		},
	})
	st.StepLimit = e.Capabilities().StepLimit

	Run(context.Background(), e, st)

	if !st.Complete || st.Err != "" {
		t.Fatalf("Expected clean completion, got complete=%t err=%q", st.Complete, st.Err)
	}

	report, ok := st.Context.ExecutionReport()
	if !ok {
		t.Fatal("Expected an execution report")
	}
	if report.Succeeded != 2 || report.Failed != 0 {
		t.Errorf("Expected 2 successes, got %d/%d", report.Succeeded, report.Failed)
	}
	if len(report.Steps) != 2 {
		t.Errorf("Expected 2 executed steps, got %d", len(report.Steps))
	}
	answer, ok := st.Latest(KindAnswer)
	if !ok || !strings.Contains(answer.Content, "2 succeeded") {
		t.Errorf("Expected report answer, got %q (ok=%t)", answer.Content, ok)
	}
}

func TestExecutorSkipsApprovalRequiredOperations(t *testing.T) {
	e := NewExecutor(&remedy.SimulatedRunner{}, nil)
	st := executorState(FinalRecommendation{
		Primary: "rollback",
		ImplementationPlan: []RemedyStep{
			{Action: "rollback the most recent deploy", Target: "payments"},
			{Action: "restart the service", Target: "payments"},
		},
	})
	st.StepLimit = e.Capabilities().StepLimit

	Run(context.Background(), e, st)

	ops, _ := st.Context.RemedyPlan()
	if len(ops) != 1 {
		t.Fatalf("Expected deploy rollback to be held for approval, got %d ops", len(ops))
	}
	if ops[0].Category != remedy.CategoryRestart {
		t.Errorf("Expected the restart operation to remain, got %s", ops[0].Category)
	}
}

func TestExecutorWithoutRecommendationFails(t *testing.T) {
	e := NewExecutor(&remedy.SimulatedRunner{}, nil)
	st := NewState(NewContext("q", ""), 0)
	st.StepLimit = e.Capabilities().StepLimit

	Run(context.Background(), e, st)

	if st.Err == "" {
		t.Fatal("Expected executing without a recommendation to fail")
	}
	if !strings.Contains(st.Err, "no recommendation") {
		t.Errorf("Unexpected error: %q", st.Err)
	}
}

func TestExecutorEmptyPlanStillReports(t *testing.T) {
	e := NewExecutor(&remedy.SimulatedRunner{}, nil)
	st := executorState(FinalRecommendation{
		Primary: "hold everything",
		ImplementationPlan: []RemedyStep{
			{Action: "rollback the most recent deploy", Target: "payments"},
		},
	})
	st.StepLimit = e.Capabilities().StepLimit

	Run(context.Background(), e, st)

	if !st.Complete || st.Err != "" {
		t.Fatalf("Expected clean completion, got complete=%t err=%q", st.Complete, st.Err)
	}
	report, _ := st.Context.ExecutionReport()
	if report.Succeeded+report.Failed != 0 {
		t.Errorf("Expected nothing executed, got %d/%d", report.Succeeded, report.Failed)
	}
	if _, ok := st.Latest(KindAnswer); !ok {
		t.Error("Expected a report answer even for an empty plan")
	}
}

func TestExecutorCapsOperations(t *testing.T) {
	e := NewExecutor(&remedy.SimulatedRunner{}, nil)
	st := executorState(FinalRecommendation{
		Primary: "many restarts",
		ImplementationPlan: []RemedyStep{
			{Action: "restart a", Target: "a"},
			{Action: "restart b", Target: "b"},
			{Action: "restart c", Target: "c"},
			{Action: "restart d", Target: "d"},
			{Action: "restart e", Target: "e"},
		},
	})
	st.StepLimit = e.Capabilities().StepLimit

	Run(context.Background(), e, st)

	ops, _ := st.Context.RemedyPlan()
	if len(ops) != maxRemedyOperations {
		t.Errorf("Expected plan capped at %d operations, got %d", maxRemedyOperations, len(ops))
	}
	report, _ := st.Context.ExecutionReport()
	if report.Succeeded != maxRemedyOperations {
		t.Errorf("Expected %d executed operations, got %d", maxRemedyOperations, report.Succeeded)
	}
}

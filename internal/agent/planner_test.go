package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"opspilot/internal/collab"
)

type fakeRetrieval struct {
	results []collab.Evidence
	err     error
	calls   int
}

func (f *fakeRetrieval) Search(ctx context.Context, query string, filters collab.SearchFilters, limit int) (*collab.SearchResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &collab.SearchResult{Results: f.results, Total: len(f.results)}, nil
}

func TestPlannerTroubleshootingPlanIncludesRemedies(t *testing.T) {
	retrieval := &fakeRetrieval{results: []collab.Evidence{{Title: "runbook: checkout 503s"}}}
	p := NewPlanner(retrieval, nil)
	st := NewState(NewContext("checkout service is down with 503 errors", "checkout"), 0)
	st.StepLimit = p.Capabilities().StepLimit

	Run(context.Background(), p, st)

	if !st.Complete || st.Err != "" {
		t.Fatalf("Expected clean completion, got complete=%t err=%q", st.Complete, st.Err)
	}

	plan, ok := st.Context.ExecutionPlan()
	if !ok {
		t.Fatal("Expected an execution plan")
	}
	if plan.ProblemType != ProblemTroubleshooting {
		t.Errorf("Expected troubleshooting classification, got %s", plan.ProblemType)
	}
	if len(plan.Subtasks) != 3 {
		t.Fatalf("Expected 3 subtasks, got %d", len(plan.Subtasks))
	}
	if plan.Subtasks[2].Name != "apply-remedies" || plan.Subtasks[2].AssignedTo != "executor" {
		t.Errorf("Expected apply-remedies assigned to executor, got %+v", plan.Subtasks[2])
	}
	if retrieval.calls != 1 {
		t.Errorf("Expected one retrieval call, got %d", retrieval.calls)
	}
}

func TestPlannerKnowledgePlanOmitsRemedies(t *testing.T) {
	p := NewPlanner(nil, nil)
	st := NewState(NewContext("what retention policy do we use for audit logs", ""), 0)
	st.StepLimit = p.Capabilities().StepLimit

	Run(context.Background(), p, st)

	plan, ok := st.Context.ExecutionPlan()
	if !ok {
		t.Fatal("Expected an execution plan")
	}
	if plan.ProblemType != ProblemKnowledge {
		t.Errorf("Expected knowledge classification, got %s", plan.ProblemType)
	}
	if len(plan.Subtasks) != 2 {
		t.Fatalf("Expected 2 subtasks, got %d", len(plan.Subtasks))
	}
	for _, sub := range plan.Subtasks {
		if sub.Name == "apply-remedies" {
			t.Error("Knowledge plan must not include apply-remedies")
		}
	}
}

func TestPlannerRetrievalFailureDegrades(t *testing.T) {
	retrieval := &fakeRetrieval{err: errors.New("backend down")}
	p := NewPlanner(retrieval, nil)
	st := NewState(NewContext("deploy of payments failed after the rollout", ""), 0)
	st.StepLimit = p.Capabilities().StepLimit

	Run(context.Background(), p, st)

	if st.Err != "" {
		t.Fatalf("Retrieval failure must not fail the planner, got %q", st.Err)
	}
	evidence, ok := st.Context.BackgroundEvidence()
	if !ok || len(evidence) != 0 {
		t.Errorf("Expected empty evidence on retrieval failure, got %d (ok=%t)", len(evidence), ok)
	}
	if _, ok := st.Context.ExecutionPlan(); !ok {
		t.Error("Expected a plan despite retrieval failure")
	}
}

func TestPlannerEmitsOneMessagePerStep(t *testing.T) {
	p := NewPlanner(nil, nil)
	st := NewState(NewContext("api latency is slow", ""), 0)
	st.StepLimit = p.Capabilities().StepLimit

	Run(context.Background(), p, st)

	if len(st.Messages()) != 3 {
		t.Fatalf("Expected 3 messages for 3 steps, got %d", len(st.Messages()))
	}
	answer, ok := st.Latest(KindAnswer)
	if !ok || !strings.Contains(answer.Content, "gather-knowledge") {
		t.Errorf("Expected plan answer naming subtasks, got %q (ok=%t)", answer.Content, ok)
	}
}

func TestPlannerKeywordsSkipStopwords(t *testing.T) {
	p := NewPlanner(nil, nil)
	st := NewState(NewContext("why is the checkout slow", ""), 0)
	st.StepLimit = p.Capabilities().StepLimit

	Run(context.Background(), p, st)

	cls, ok := st.Context.Classification()
	if !ok {
		t.Fatal("Expected a classification")
	}
	for _, kw := range cls.Keywords {
		if kw == "the" || kw == "is" || kw == "why" {
			t.Errorf("Stopword %q leaked into keywords", kw)
		}
	}
}

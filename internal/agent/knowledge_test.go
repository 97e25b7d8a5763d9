package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"opspilot/internal/collab"
)

type fakeExtractor struct {
	entities []collab.Entity
	err      error
}

func (f *fakeExtractor) Extract(ctx context.Context, text string) ([]collab.Entity, error) {
	return f.entities, f.err
}

type fakeTopology struct {
	result *collab.TopologyResult
	err    error
	asked  []string
}

func (f *fakeTopology) Lookup(ctx context.Context, serviceNames []string) (*collab.TopologyResult, error) {
	f.asked = serviceNames
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func TestKnowledgeCollectsEvidenceAndTopology(t *testing.T) {
	retrieval := &fakeRetrieval{results: []collab.Evidence{
		{Title: "checkout timeout runbook", Score: 0.9},
		{Title: "payments incident 2026-02", Score: 0.7},
	}}
	extractor := &fakeExtractor{entities: []collab.Entity{
		{Text: "payments", Label: "SERVICE", Confidence: 0.95},
		{Text: "tuesday", Label: "DATE", Confidence: 0.8},
	}}
	topology := &fakeTopology{result: &collab.TopologyResult{
		Services:      []collab.ServiceNode{{Name: "payments"}, {Name: "ledger"}},
		Relationships: []collab.Relationship{{From: "payments", To: "ledger", RelationType: "calls"}},
	}}

	k := NewKnowledge(retrieval, extractor, topology, nil, nil)
	st := NewState(NewContext("checkout timing out on payments", "checkout"), 0)
	st.StepLimit = k.Capabilities().StepLimit

	Run(context.Background(), k, st)

	if !st.Complete || st.Err != "" {
		t.Fatalf("Expected clean completion, got complete=%t err=%q", st.Complete, st.Err)
	}

	ks, ok := st.Context.KnowledgeSummary()
	if !ok {
		t.Fatal("Expected a knowledge summary")
	}
	if len(ks.Evidence) != 2 {
		t.Errorf("Expected 2 evidence documents, got %d", len(ks.Evidence))
	}
	if len(ks.RelatedServices) != 2 || len(ks.Relationships) != 1 {
		t.Errorf("Expected topology neighborhood, got %d services %d relationships",
			len(ks.RelatedServices), len(ks.Relationships))
	}
	if !strings.Contains(ks.Summary, "checkout timeout runbook") {
		t.Errorf("Expected summary to mention the top match, got %q", ks.Summary)
	}

	// Hint first, then extracted SERVICE entities; non-service labels skipped.
	if len(topology.asked) != 2 || topology.asked[0] != "checkout" || topology.asked[1] != "payments" {
		t.Errorf("Unexpected topology query: %v", topology.asked)
	}
}

func TestKnowledgeDegradesWithoutCollaborators(t *testing.T) {
	k := NewKnowledge(nil, nil, nil, nil, nil)
	st := NewState(NewContext("redis down", ""), 0)
	st.StepLimit = k.Capabilities().StepLimit

	Run(context.Background(), k, st)

	if st.Err != "" {
		t.Fatalf("Missing collaborators must not fail the agent, got %q", st.Err)
	}
	ks, _ := st.Context.KnowledgeSummary()
	if !strings.Contains(ks.Summary, "No directly relevant evidence") {
		t.Errorf("Expected the empty-evidence template, got %q", ks.Summary)
	}
}

func TestKnowledgeCollaboratorErrorsDegrade(t *testing.T) {
	retrieval := &fakeRetrieval{err: errors.New("search down")}
	topology := &fakeTopology{err: errors.New("graph down")}
	k := NewKnowledge(retrieval, &fakeExtractor{err: errors.New("ner down")}, topology, nil, nil)
	st := NewState(NewContext("orders failing", "orders"), 0)
	st.StepLimit = k.Capabilities().StepLimit

	Run(context.Background(), k, st)

	if !st.Complete || st.Err != "" {
		t.Fatalf("Collaborator errors must degrade, not fail: complete=%t err=%q", st.Complete, st.Err)
	}
	if len(st.Messages()) != 3 {
		t.Errorf("Expected 3 messages, got %d", len(st.Messages()))
	}
}

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"opspilot/internal/collab"
)

// Planner classifies the request, gathers background material and breaks
// the diagnosis down into an ordered execution plan.
type Planner struct {
	base
	retrieval collab.Retrieval
	logger    *slog.Logger
}

// NewPlanner creates the planner agent.
func NewPlanner(retrieval collab.Retrieval, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{
		base: base{caps: Capabilities{
			AgentID:   "planner",
			Type:      "planning",
			Name:      "Task Planner",
			StepLimit: 3,
			Services:  []string{"retrieval"},
		}},
		retrieval: retrieval,
		logger:    logger,
	}
}

// Process implements Agent.
func (p *Planner) Process(ctx context.Context, st *State) error {
	switch st.StepCount {
	case 0:
		return p.classify(st)
	case 1:
		return p.gatherBackground(ctx, st)
	case 2:
		return p.emitPlan(st)
	default:
		return fmt.Errorf("planner has no step %d", st.StepCount)
	}
}

var problemTypeMarkers = map[ProblemType][]string{
	ProblemTroubleshooting: {"error", "fail", "crash", "down", "timeout", "broken", "5xx", "outage", "incident"},
	ProblemDeployment:      {"deploy", "release", "rollout", "rollback", "upgrade", "version"},
	ProblemPerformance:     {"slow", "latency", "cpu", "memory", "throughput", "degraded", "spike"},
}

var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"in": {}, "on": {}, "of": {}, "to": {}, "and": {}, "or": {}, "for": {},
	"with": {}, "my": {}, "our": {}, "it": {}, "why": {}, "what": {}, "how": {},
}

func (p *Planner) classify(st *State) error {
	lower := strings.ToLower(st.Context.Query)

	problemType := ProblemKnowledge
	bestHits := 0
	// Iterate in fixed order so classification is deterministic on ties.
	for _, pt := range []ProblemType{ProblemTroubleshooting, ProblemDeployment, ProblemPerformance} {
		hits := 0
		for _, marker := range problemTypeMarkers[pt] {
			if strings.Contains(lower, marker) {
				hits++
			}
		}
		if hits > bestHits {
			bestHits = hits
			problemType = pt
		}
	}

	var keywords []string
	seen := map[string]struct{}{}
	for _, word := range strings.Fields(lower) {
		word = strings.Trim(word, ".,;:!?()[]\"'")
		if len(word) < 3 {
			continue
		}
		if _, skip := stopwords[word]; skip {
			continue
		}
		if _, dup := seen[word]; dup {
			continue
		}
		seen[word] = struct{}{}
		keywords = append(keywords, word)
	}

	cls := Classification{ProblemType: problemType, Keywords: keywords}
	if st.Context.ServiceHint != "" {
		cls.Services = []string{st.Context.ServiceHint}
	}
	st.Context.SetClassification(cls)

	st.Append(Message{
		Kind:    KindThought,
		AgentID: p.caps.AgentID,
		Content: fmt.Sprintf("classified request as %s (%d keywords)", problemType, len(keywords)),
	})
	return nil
}

func (p *Planner) gatherBackground(ctx context.Context, st *State) error {
	cls, _ := st.Context.Classification()

	var evidence []collab.Evidence
	if p.retrieval != nil {
		result, err := p.retrieval.Search(ctx, st.Context.Query, collab.SearchFilters{
			ServiceName: st.Context.ServiceHint,
		}, 5)
		if err != nil {
			// Missing background material degrades the plan but does not
			// fail the agent.
			p.logger.Warn("planner background retrieval failed", "error", err)
		} else {
			evidence = result.Results
		}
	}
	st.Context.SetBackgroundEvidence(evidence)

	st.Append(Message{
		Kind:    KindObservation,
		AgentID: p.caps.AgentID,
		Content: fmt.Sprintf("retrieved %d background documents for %s request", len(evidence), cls.ProblemType),
	})
	return nil
}

func (p *Planner) emitPlan(st *State) error {
	cls, _ := st.Context.Classification()
	evidence, _ := st.Context.BackgroundEvidence()

	plan := ExecutionPlan{
		ProblemType: cls.ProblemType,
		Subtasks: []Subtask{
			{
				Name:        "gather-knowledge",
				Description: "collect evidence and the dependency neighborhood of the affected services",
				AssignedTo:  "knowledge",
				Effort:      "low",
				Risk:        "low",
			},
			{
				Name:        "analyze-causes",
				Description: "derive symptoms, rank candidate causes and score remedies",
				AssignedTo:  "reasoning",
				Effort:      "medium",
				Risk:        "low",
			},
		},
		Reasoning: fmt.Sprintf("%s request with %d supporting documents", cls.ProblemType, len(evidence)),
	}
	if cls.ProblemType == ProblemTroubleshooting || cls.ProblemType == ProblemDeployment {
		plan.Subtasks = append(plan.Subtasks, Subtask{
			Name:        "apply-remedies",
			Description: "execute and verify the recommended remediation steps",
			AssignedTo:  "executor",
			Effort:      "medium",
			Risk:        "high",
		})
	}
	st.Context.SetExecutionPlan(plan)

	names := make([]string, len(plan.Subtasks))
	for i, t := range plan.Subtasks {
		names[i] = t.Name
	}
	st.Append(Message{
		Kind:    KindAnswer,
		AgentID: p.caps.AgentID,
		Content: fmt.Sprintf("execution plan: %s", strings.Join(names, " -> ")),
	})
	st.Complete = true
	return nil
}

var _ Agent = (*Planner)(nil)

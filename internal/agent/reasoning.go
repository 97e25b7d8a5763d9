package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"opspilot/internal/collab"
	"opspilot/internal/remedy"
)

// Reasoning turns the gathered knowledge into a ranked causal analysis and
// a final recommendation with an ordered remediation plan.
type Reasoning struct {
	base
	gen    collab.Generation
	logger *slog.Logger
}

// NewReasoning creates the reasoning agent.
func NewReasoning(gen collab.Generation, logger *slog.Logger) *Reasoning {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reasoning{
		base: base{caps: Capabilities{
			AgentID:   "reasoning",
			Type:      "reasoning",
			Name:      "Causal Analyzer",
			StepLimit: 4,
			Services:  []string{"generation"},
		}},
		gen:    gen,
		logger: logger,
	}
}

// Process implements Agent.
func (r *Reasoning) Process(ctx context.Context, st *State) error {
	switch st.StepCount {
	case 0:
		return r.deriveSymptoms(st)
	case 1:
		return r.rankCauses(st)
	case 2:
		return r.scoreRemedies(st)
	case 3:
		return r.recommend(ctx, st)
	default:
		return fmt.Errorf("reasoning agent has no step %d", st.StepCount)
	}
}

// symptomMarkers maps request phrasing to symptom tags.
var symptomMarkers = map[string][]string{
	"high-latency":    {"slow", "latency", "lag", "delayed"},
	"timeouts":        {"timeout", "timed out", "deadline"},
	"errors":          {"error", "5xx", "500", "503", "exception", "fail"},
	"crash-loop":      {"crash", "restart loop", "oom", "killed", "panic"},
	"unavailable":     {"down", "unavailable", "unreachable", "outage"},
	"resource-stress": {"cpu", "memory", "disk", "saturat", "leak"},
}

func (r *Reasoning) deriveSymptoms(st *State) error {
	lower := strings.ToLower(st.Context.Query)

	var tags []string
	// Fixed iteration order keeps the analysis deterministic.
	for _, tag := range []string{"high-latency", "timeouts", "errors", "crash-loop", "unavailable", "resource-stress"} {
		for _, marker := range symptomMarkers[tag] {
			if strings.Contains(lower, marker) {
				tags = append(tags, tag)
				break
			}
		}
	}
	if tags == nil {
		tags = []string{}
	}
	st.Context.SetSymptomTags(tags)

	st.Append(Message{
		Kind:    KindThought,
		AgentID: r.caps.AgentID,
		Content: fmt.Sprintf("derived symptoms: %s", strings.Join(tags, ", ")),
	})
	return nil
}

// causeRules scores candidate causes against observed symptoms.
var causeRules = []struct {
	cause    string
	symptoms map[string]float64
}{
	{"downstream dependency degradation", map[string]float64{"timeouts": 0.5, "high-latency": 0.4, "errors": 0.2}},
	{"memory leak or resource exhaustion", map[string]float64{"crash-loop": 0.6, "resource-stress": 0.5, "high-latency": 0.1}},
	{"bad deployment or configuration change", map[string]float64{"errors": 0.4, "crash-loop": 0.3, "unavailable": 0.3}},
	{"capacity shortfall under load", map[string]float64{"high-latency": 0.4, "resource-stress": 0.4, "timeouts": 0.2}},
	{"service instance failure", map[string]float64{"unavailable": 0.6, "errors": 0.3}},
}

func (r *Reasoning) rankCauses(st *State) error {
	tags, _ := st.Context.SymptomTags()
	ks, _ := st.Context.KnowledgeSummary()

	var causes []CandidateCause
	for _, rule := range causeRules {
		score := 0.0
		for _, tag := range tags {
			score += rule.symptoms[tag]
		}
		// Topology evidence makes dependency problems more plausible.
		if rule.cause == "downstream dependency degradation" && len(ks.Relationships) > 0 {
			score += 0.1
		}
		if score > 0 {
			causes = append(causes, CandidateCause{Cause: rule.cause, Score: score})
		}
	}
	if len(causes) == 0 {
		causes = []CandidateCause{{Cause: "insufficient signal to isolate a cause", Score: 0.1}}
	}
	sort.SliceStable(causes, func(i, j int) bool { return causes[i].Score > causes[j].Score })
	st.Context.SetCandidateCauses(causes)

	st.Append(Message{
		Kind:    KindThought,
		AgentID: r.caps.AgentID,
		Content: fmt.Sprintf("ranked %d candidate causes; leading: %s (%.2f)", len(causes), causes[0].Cause, causes[0].Score),
	})
	return nil
}

// remedyTemplates maps causes to candidate remedies with base scores.
var remedyTemplates = map[string][]ScoredRemedy{
	"downstream dependency degradation": {
		{Action: "restart the degraded downstream service", Score: 0.6},
		{Action: "review recent changes on the dependency", Score: 0.5},
	},
	"memory leak or resource exhaustion": {
		{Action: "restart the affected service to reclaim memory", Score: 0.7},
		{Action: "scale the service out to spread load", Score: 0.4},
	},
	"bad deployment or configuration change": {
		{Action: "rollback the most recent deploy", Score: 0.7},
		{Action: "reconfigure the service with the previous settings", Score: 0.5},
	},
	"capacity shortfall under load": {
		{Action: "scale the service to additional replicas", Score: 0.7},
		{Action: "review traffic patterns for anomalies", Score: 0.3},
	},
	"service instance failure": {
		{Action: "restart the failed instance", Score: 0.8},
		{Action: "inspect instance health and logs", Score: 0.5},
	},
	"insufficient signal to isolate a cause": {
		{Action: "inspect service logs and recent metrics", Score: 0.5},
	},
}

func (r *Reasoning) scoreRemedies(st *State) error {
	causes, _ := st.Context.CandidateCauses()
	target := r.remedyTarget(st.Context)

	scored := 0
	for i := range causes {
		remedies := remedyTemplates[causes[i].Cause]
		withTargets := make([]ScoredRemedy, len(remedies))
		for j, rem := range remedies {
			rem.Target = target
			// Weight each remedy by its cause's plausibility.
			rem.Score = rem.Score * causes[i].Score
			withTargets[j] = rem
		}
		causes[i].Remedies = withTargets
		scored += len(withTargets)
	}
	st.Context.SetCandidateCauses(causes)

	st.Append(Message{
		Kind:    KindThought,
		AgentID: r.caps.AgentID,
		Content: fmt.Sprintf("scored %d remedies across %d causes", scored, len(causes)),
	})
	return nil
}

func (r *Reasoning) recommend(ctx context.Context, st *State) error {
	causes, _ := st.Context.CandidateCauses()
	top := causes[0]

	var plan []RemedyStep
	riskLevel := "low"
	for _, rem := range top.Remedies {
		plan = append(plan, RemedyStep{Action: rem.Action, Target: rem.Target})
		if _, sideEffecting := remedy.Classify(rem.Action); sideEffecting {
			riskLevel = "medium"
		}
	}

	primary := fmt.Sprintf("Most likely cause: %s. Recommended first action: %s.", top.Cause, firstAction(plan))
	if r.gen != nil {
		prompt := fmt.Sprintf("Phrase a concise incident recommendation.\nCause: %s\nActions: %v", top.Cause, plan)
		generated, err := r.gen.Complete(ctx, prompt, collab.GenParams{MaxTokens: 200})
		if err != nil {
			r.logger.Warn("generation backend unavailable, using template recommendation", "error", err)
		} else if generated != "" {
			primary = generated
		}
	}

	rec := FinalRecommendation{
		Primary:            primary,
		RiskLevel:          riskLevel,
		ImplementationPlan: plan,
		SuccessCriteria: []string{
			"error rate returns to baseline",
			"latency percentiles recover within 15 minutes",
		},
	}
	st.Context.SetFinalRecommendation(rec)

	st.Append(Message{
		Kind:    KindAnswer,
		AgentID: r.caps.AgentID,
		Content: primary,
	})
	st.Complete = true
	return nil
}

func (r *Reasoning) remedyTarget(c *Context) string {
	if c.ServiceHint != "" {
		return c.ServiceHint
	}
	if ks, ok := c.KnowledgeSummary(); ok && len(ks.RelatedServices) > 0 {
		return ks.RelatedServices[0].Name
	}
	return ""
}

func firstAction(plan []RemedyStep) string {
	if len(plan) == 0 {
		return "gather more signal"
	}
	return plan[0].Action
}

var _ Agent = (*Reasoning)(nil)

package agent

import (
	"time"

	"opspilot/internal/collab"
	"opspilot/internal/remedy"
)

// ProblemType is the coarse classification the planner assigns a request.
type ProblemType string

const (
	ProblemTroubleshooting ProblemType = "troubleshooting"
	ProblemDeployment      ProblemType = "deployment"
	ProblemPerformance     ProblemType = "performance"
	ProblemKnowledge       ProblemType = "knowledge"
)

// Classification is the planner's first-step read of the request.
type Classification struct {
	ProblemType ProblemType `json:"problem_type"`
	Keywords    []string    `json:"keywords"`
	Services    []string    `json:"services,omitempty"`
}

// Subtask is one named unit of the execution plan.
type Subtask struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	AssignedTo  string `json:"assigned_to"`
	Effort      string `json:"effort"`
	Risk        string `json:"risk"`
}

// ExecutionPlan is the planner's terminal output: an ordered breakdown of
// the diagnosis into agent-sized subtasks.
type ExecutionPlan struct {
	ProblemType ProblemType `json:"problem_type"`
	Subtasks    []Subtask   `json:"subtasks"`
	Reasoning   string      `json:"reasoning,omitempty"`
}

// KnowledgeSummary is the knowledge agent's terminal output.
type KnowledgeSummary struct {
	Summary         string                `json:"summary"`
	Evidence        []collab.Evidence     `json:"evidence,omitempty"`
	RelatedServices []collab.ServiceNode  `json:"related_services,omitempty"`
	Relationships   []collab.Relationship `json:"relationships,omitempty"`
}

// ScoredRemedy is one candidate remediation with its fit score.
type ScoredRemedy struct {
	Action string  `json:"action"`
	Target string  `json:"target,omitempty"`
	Score  float64 `json:"score"`
}

// CandidateCause is one hypothesized root cause with its scored remedies.
type CandidateCause struct {
	Cause    string         `json:"cause"`
	Score    float64        `json:"score"`
	Remedies []ScoredRemedy `json:"remedies,omitempty"`
}

// RemedyStep is one ordered step of the recommended implementation plan.
type RemedyStep struct {
	Action string `json:"action"`
	Target string `json:"target,omitempty"`
}

// FinalRecommendation is the reasoning agent's terminal output.
type FinalRecommendation struct {
	Primary            string       `json:"primary"`
	RiskLevel          string       `json:"risk_level"`
	ImplementationPlan []RemedyStep `json:"implementation_plan"`
	SuccessCriteria    []string     `json:"success_criteria,omitempty"`
}

// ExecutedStep records the outcome of one remedy operation.
type ExecutedStep struct {
	Operation remedy.Operation `json:"operation"`
	Succeeded bool             `json:"succeeded"`
	Detail    string           `json:"detail,omitempty"`
	Duration  time.Duration    `json:"duration"`
}

// ExecutionReport is the executor's terminal output.
type ExecutionReport struct {
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	TotalTime time.Duration  `json:"total_time"`
	Summary   string         `json:"summary"`
	Steps     []ExecutedStep `json:"steps,omitempty"`
}

// Context is the typed result registry agents use to pass structured
// results to later agents and to the orchestrator. Each published result
// has a known shape and a checked lookup; there is no open string-keyed
// bag. A run's agents execute strictly sequentially, so no locking is
// needed here.
type Context struct {
	// Query is the caller's diagnosis request, set at submission time.
	Query string
	// ServiceHint optionally names the service the caller suspects.
	ServiceHint string

	classification      *Classification
	backgroundEvidence  []collab.Evidence
	executionPlan       *ExecutionPlan
	knowledgeSummary    *KnowledgeSummary
	symptomTags         []string
	candidateCauses     []CandidateCause
	finalRecommendation *FinalRecommendation
	remedyPlan          []remedy.Operation
	executionReport     *ExecutionReport
}

// NewContext creates a run context for a diagnosis request.
func NewContext(query, serviceHint string) *Context {
	return &Context{Query: query, ServiceHint: serviceHint}
}

func (c *Context) SetClassification(v Classification) { c.classification = &v }

// Classification returns the planner's request classification.
func (c *Context) Classification() (Classification, bool) {
	if c.classification == nil {
		return Classification{}, false
	}
	return *c.classification, true
}

func (c *Context) SetBackgroundEvidence(ev []collab.Evidence) { c.backgroundEvidence = ev }

// BackgroundEvidence returns the planner's retrieved background material.
func (c *Context) BackgroundEvidence() ([]collab.Evidence, bool) {
	return c.backgroundEvidence, c.backgroundEvidence != nil
}

func (c *Context) SetExecutionPlan(v ExecutionPlan) { c.executionPlan = &v }

// ExecutionPlan returns the planner's terminal plan.
func (c *Context) ExecutionPlan() (ExecutionPlan, bool) {
	if c.executionPlan == nil {
		return ExecutionPlan{}, false
	}
	return *c.executionPlan, true
}

func (c *Context) SetKnowledgeSummary(v KnowledgeSummary) { c.knowledgeSummary = &v }

// KnowledgeSummary returns the knowledge agent's summary.
func (c *Context) KnowledgeSummary() (KnowledgeSummary, bool) {
	if c.knowledgeSummary == nil {
		return KnowledgeSummary{}, false
	}
	return *c.knowledgeSummary, true
}

func (c *Context) SetSymptomTags(tags []string) { c.symptomTags = tags }

// SymptomTags returns the reasoning agent's derived symptom tags.
func (c *Context) SymptomTags() ([]string, bool) {
	return c.symptomTags, c.symptomTags != nil
}

func (c *Context) SetCandidateCauses(causes []CandidateCause) { c.candidateCauses = causes }

// CandidateCauses returns the ranked root-cause hypotheses.
func (c *Context) CandidateCauses() ([]CandidateCause, bool) {
	return c.candidateCauses, c.candidateCauses != nil
}

func (c *Context) SetFinalRecommendation(v FinalRecommendation) { c.finalRecommendation = &v }

// FinalRecommendation returns the reasoning agent's terminal output.
func (c *Context) FinalRecommendation() (FinalRecommendation, bool) {
	if c.finalRecommendation == nil {
		return FinalRecommendation{}, false
	}
	return *c.finalRecommendation, true
}

func (c *Context) SetRemedyPlan(ops []remedy.Operation) { c.remedyPlan = ops }

// RemedyPlan returns the executor's typed operation plan.
func (c *Context) RemedyPlan() ([]remedy.Operation, bool) {
	return c.remedyPlan, c.remedyPlan != nil
}

func (c *Context) SetExecutionReport(v ExecutionReport) { c.executionReport = &v }

// ExecutionReport returns the executor's terminal report.
func (c *Context) ExecutionReport() (ExecutionReport, bool) {
	if c.executionReport == nil {
		return ExecutionReport{}, false
	}
	return *c.executionReport, true
}

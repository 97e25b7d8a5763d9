// Package orchestrator wires the diagnosis agents into a fixed pipeline
// with one conditional edge and drives them over a shared run state.
package orchestrator

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"opspilot/internal/agent"
	"opspilot/internal/collab"
)

// Phase names one node of the pipeline.
type Phase string

const (
	PhasePlanner   Phase = "planner"
	PhaseKnowledge Phase = "knowledge"
	PhaseReasoning Phase = "reasoning"
	PhaseExecutor  Phase = "executor"
	PhaseFinal     Phase = "final"
)

// Observer receives node transitions as the pipeline executes. All methods
// are called from the single goroutine driving the run.
type Observer interface {
	// PhaseStarted fires before the node's agent runs. The executor phase
	// only fires when the conditional edge routes through it.
	PhaseStarted(phase Phase, agentID string)

	// PhaseFinished fires when the node's agent returns. agentErr is empty
	// on success; a non-empty value means the pipeline halts here.
	PhaseFinished(phase Phase, agentID string, agentErr string)
}

// Result is the flattened payload of a blocking run.
type Result struct {
	Answer   string          `json:"answer"`
	Elapsed  time.Duration   `json:"elapsed"`
	Messages []agent.Message `json:"messages"`

	Plan            *agent.ExecutionPlan       `json:"plan,omitempty"`
	Knowledge       *agent.KnowledgeSummary    `json:"knowledge,omitempty"`
	Recommendation  *agent.FinalRecommendation `json:"recommendation,omitempty"`
	ExecutionReport *agent.ExecutionReport     `json:"executionReport,omitempty"`
	Err             string                     `json:"error,omitempty"`
}

// Pipeline is the fixed-topology diagnosis orchestrator:
// planner -> knowledge -> reasoning -> (conditional) executor -> final.
type Pipeline struct {
	planner   agent.Agent
	knowledge agent.Agent
	reasoning agent.Agent
	executor  agent.Agent

	agents  map[string]agent.Agent
	gen     collab.Generation
	metrics *Metrics
	tracer  trace.Tracer
	logger  *slog.Logger
}

// New creates a pipeline over the four agents. gen may be nil; the final
// synthesis then uses template output.
func New(planner, knowledge, reasoning, executor agent.Agent, gen collab.Generation, metrics *Metrics, logger *slog.Logger) *Pipeline {
	if metrics == nil {
		metrics = DefaultMetrics()
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		planner:   planner,
		knowledge: knowledge,
		reasoning: reasoning,
		executor:  executor,
		gen:       gen,
		metrics:   metrics,
		tracer:    otel.Tracer("opspilot/orchestrator"),
		logger:    logger,
	}
	p.agents = map[string]agent.Agent{
		planner.Capabilities().AgentID:   planner,
		knowledge.Capabilities().AgentID: knowledge,
		reasoning.Capabilities().AgentID: reasoning,
		executor.Capabilities().AgentID:  executor,
	}
	return p
}

// Capabilities returns the static descriptor of every agent in the
// pipeline, keyed by agent id.
func (p *Pipeline) Capabilities() map[string]agent.Capabilities {
	out := make(map[string]agent.Capabilities, len(p.agents))
	for id, a := range p.agents {
		out[id] = a.Capabilities()
	}
	return out
}

// AgentIDs returns the pipeline's agent ids in execution order.
func (p *Pipeline) AgentIDs() []string {
	return []string{
		p.planner.Capabilities().AgentID,
		p.knowledge.Capabilities().AgentID,
		p.reasoning.Capabilities().AgentID,
		p.executor.Capabilities().AgentID,
	}
}

// Stream runs the pipeline, yielding every message in the exact order it
// is produced: node execution order, and within a node, the order the
// agent appends. obs may be nil.
func (p *Pipeline) Stream(ctx context.Context, st *agent.State, obs Observer) iter.Seq2[agent.Message, error] {
	if obs == nil {
		obs = noopObserver{}
	}
	return func(yield func(agent.Message, error) bool) {
		p.metrics.IncActiveRuns()
		defer p.metrics.DecActiveRuns()

		run := &runDriver{p: p, st: st, obs: obs, yield: yield}

		for _, node := range []struct {
			phase Phase
			a     agent.Agent
		}{
			{PhasePlanner, p.planner},
			{PhaseKnowledge, p.knowledge},
			{PhaseReasoning, p.reasoning},
		} {
			if !run.node(ctx, node.phase, node.a) {
				return
			}
		}

		if requiresExecution(st.Context) {
			if !run.node(ctx, PhaseExecutor, p.executor) {
				return
			}
		}

		run.final(ctx)
	}
}

// Run executes the whole pipeline and returns the terminal state plus a
// flattened message/context payload. obs may be nil.
func (p *Pipeline) Run(ctx context.Context, st *agent.State, obs Observer) (*agent.State, *Result) {
	for range p.Stream(ctx, st, obs) {
	}
	return st, ResultFrom(st)
}

// ResultFrom flattens a finished run state into a Result.
func ResultFrom(st *agent.State) *Result {
	res := &Result{
		Elapsed:  st.Elapsed(),
		Messages: st.Messages(),
		Err:      st.Err,
	}
	if msg, ok := st.Latest(agent.KindAnswer); ok {
		res.Answer = msg.Content
	}
	if v, ok := st.Context.ExecutionPlan(); ok {
		res.Plan = &v
	}
	if v, ok := st.Context.KnowledgeSummary(); ok {
		res.Knowledge = &v
	}
	if v, ok := st.Context.FinalRecommendation(); ok {
		res.Recommendation = &v
	}
	if v, ok := st.Context.ExecutionReport(); ok {
		res.ExecutionReport = &v
	}
	return res
}

// runDriver carries the per-run streaming plumbing.
type runDriver struct {
	p       *Pipeline
	st      *agent.State
	obs     Observer
	yield   func(agent.Message, error) bool
	stopped bool
}

// emit appends msg to the shared state and forwards it to the consumer.
func (r *runDriver) emit(msg agent.Message) bool {
	r.st.Append(msg)
	if !r.yield(msg, nil) {
		r.stopped = true
		return false
	}
	return true
}

// forward sends an already-merged message to the consumer.
func (r *runDriver) forward(msg agent.Message) bool {
	if !r.yield(msg, nil) {
		r.stopped = true
		return false
	}
	return true
}

// node runs one agent to its own completion inside a scoped state and
// merges the results back. It returns false when the pipeline must stop,
// either because the consumer quit or because the agent failed.
func (r *runDriver) node(ctx context.Context, phase Phase, a agent.Agent) bool {
	caps := a.Capabilities()
	ctx, span := r.p.tracer.Start(ctx, "pipeline."+string(phase),
		trace.WithAttributes(attribute.String("agent.id", caps.AgentID)))
	defer span.End()

	start := time.Now()
	r.obs.PhaseStarted(phase, caps.AgentID)

	if !r.emit(agent.Message{
		Kind:    agent.KindThought,
		AgentID: agent.SystemAgentID,
		Content: fmt.Sprintf("entering %s phase", phase),
	}) {
		return false
	}

	child := r.st.Scoped(caps.StepLimit)
	for msg := range agent.StreamExecution(ctx, a, child) {
		// Merge-as-we-go keeps the shared transcript ordered exactly as
		// messages are produced.
		r.st.Append(msg)
		if !r.forward(msg) {
			return false
		}
	}

	if child.Err != "" {
		r.st.Err = child.Err
		r.p.metrics.IncPhaseFailure(string(phase))
		r.p.metrics.ObservePhaseDuration(string(phase), "failed", time.Since(start))
		r.p.logger.Warn("pipeline halted", "phase", phase, "agent_id", caps.AgentID, "error", child.Err)
		r.obs.PhaseFinished(phase, caps.AgentID, child.Err)
		return false
	}

	r.p.metrics.ObservePhaseDuration(string(phase), "ok", time.Since(start))
	r.obs.PhaseFinished(phase, caps.AgentID, "")
	return true
}

// final synthesizes the run's answer from whatever context results exist.
func (r *runDriver) final(ctx context.Context) {
	ctx, span := r.p.tracer.Start(ctx, "pipeline.final")
	defer span.End()

	start := time.Now()
	r.obs.PhaseStarted(PhaseFinal, agent.SystemAgentID)

	if !r.emit(agent.Message{
		Kind:    agent.KindThought,
		AgentID: agent.SystemAgentID,
		Content: "entering final phase",
	}) {
		return
	}

	answer := r.synthesize(ctx)

	metadata := map[string]string{
		"elapsed_ms": strconv.FormatInt(r.st.Elapsed().Milliseconds(), 10),
	}
	if report, ok := r.st.Context.ExecutionReport(); ok {
		metadata["execution_report"] = report.Summary
	}

	if !r.emit(agent.Message{
		Kind:     agent.KindAnswer,
		AgentID:  agent.SystemAgentID,
		Content:  answer,
		Metadata: metadata,
	}) {
		return
	}
	r.st.Complete = true

	r.p.metrics.ObservePhaseDuration(string(PhaseFinal), "ok", time.Since(start))
	r.obs.PhaseFinished(PhaseFinal, agent.SystemAgentID, "")
}

func (r *runDriver) synthesize(ctx context.Context) string {
	c := r.st.Context

	var b strings.Builder
	fmt.Fprintf(&b, "Diagnosis for: %s\n", c.Query)
	if ks, ok := c.KnowledgeSummary(); ok && ks.Summary != "" {
		fmt.Fprintf(&b, "\nFindings: %s\n", ks.Summary)
	}
	if rec, ok := c.FinalRecommendation(); ok {
		fmt.Fprintf(&b, "\nRecommendation (%s risk): %s\n", rec.RiskLevel, rec.Primary)
		for i, step := range rec.ImplementationPlan {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, step.Action)
		}
	}
	if report, ok := c.ExecutionReport(); ok {
		fmt.Fprintf(&b, "\nExecution: %s\n", report.Summary)
	}
	template := b.String()

	if r.p.gen != nil {
		prompt := fmt.Sprintf("Rewrite this incident diagnosis for an operator, keeping every fact:\n%s", template)
		generated, err := r.p.gen.Complete(ctx, prompt, collab.GenParams{MaxTokens: 400})
		if err != nil {
			r.p.logger.Warn("generation backend unavailable for final synthesis", "error", err)
		} else if generated != "" {
			return generated
		}
	}
	return template
}

type noopObserver struct{}

func (noopObserver) PhaseStarted(Phase, string)          {}
func (noopObserver) PhaseFinished(Phase, string, string) {}

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"opspilot/internal/collab"
)

// Knowledge collects retrieval evidence and the dependency neighborhood of
// the affected services, then condenses both into a summary for the
// reasoning agent.
type Knowledge struct {
	base
	retrieval collab.Retrieval
	extractor collab.EntityExtractor
	topology  collab.Topology
	gen       collab.Generation
	logger    *slog.Logger
}

// NewKnowledge creates the knowledge agent. Any collaborator may be nil;
// the agent degrades to whatever data it can still gather.
func NewKnowledge(retrieval collab.Retrieval, extractor collab.EntityExtractor, topology collab.Topology, gen collab.Generation, logger *slog.Logger) *Knowledge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Knowledge{
		base: base{caps: Capabilities{
			AgentID:   "knowledge",
			Type:      "knowledge",
			Name:      "Knowledge Collector",
			StepLimit: 3,
			Services:  []string{"retrieval", "entity-extraction", "topology"},
		}},
		retrieval: retrieval,
		extractor: extractor,
		topology:  topology,
		gen:       gen,
		logger:    logger,
	}
}

// Process implements Agent.
func (k *Knowledge) Process(ctx context.Context, st *State) error {
	switch st.StepCount {
	case 0:
		return k.search(ctx, st)
	case 1:
		return k.lookupTopology(ctx, st)
	case 2:
		return k.summarize(ctx, st)
	default:
		return fmt.Errorf("knowledge agent has no step %d", st.StepCount)
	}
}

func (k *Knowledge) search(ctx context.Context, st *State) error {
	var evidence []collab.Evidence
	if k.retrieval != nil {
		result, err := k.retrieval.Search(ctx, st.Context.Query, collab.SearchFilters{
			ServiceName: st.Context.ServiceHint,
			Category:    categoryFor(st.Context),
		}, 10)
		if err != nil {
			k.logger.Warn("knowledge retrieval failed", "error", err)
		} else {
			evidence = result.Results
		}
	}
	st.Context.SetKnowledgeSummary(KnowledgeSummary{Evidence: evidence})

	st.Append(Message{
		Kind:    KindObservation,
		AgentID: k.caps.AgentID,
		Content: fmt.Sprintf("collected %d evidence documents", len(evidence)),
	})
	return nil
}

func (k *Knowledge) lookupTopology(ctx context.Context, st *State) error {
	ks, _ := st.Context.KnowledgeSummary()

	services := k.serviceNames(ctx, st.Context)
	if len(services) > 0 && k.topology != nil {
		result, err := k.topology.Lookup(ctx, services)
		if err != nil {
			k.logger.Warn("topology lookup failed", "services", services, "error", err)
		} else {
			ks.RelatedServices = result.Services
			ks.Relationships = result.Relationships
		}
	}
	st.Context.SetKnowledgeSummary(ks)

	st.Append(Message{
		Kind:    KindObservation,
		AgentID: k.caps.AgentID,
		Content: fmt.Sprintf("topology neighborhood: %d services, %d relationships", len(ks.RelatedServices), len(ks.Relationships)),
	})
	return nil
}

func (k *Knowledge) summarize(ctx context.Context, st *State) error {
	ks, _ := st.Context.KnowledgeSummary()

	summary := k.templateSummary(ks)
	if k.gen != nil {
		prompt := fmt.Sprintf("Summarize the following findings for an incident diagnosis.\nQuery: %s\nFindings: %s", st.Context.Query, summary)
		generated, err := k.gen.Complete(ctx, prompt, collab.GenParams{MaxTokens: 256})
		if err != nil {
			k.logger.Warn("generation backend unavailable, using template summary", "error", err)
		} else if generated != "" {
			summary = generated
		}
	}
	ks.Summary = summary
	st.Context.SetKnowledgeSummary(ks)

	st.Append(Message{
		Kind:    KindAnswer,
		AgentID: k.caps.AgentID,
		Content: summary,
	})
	st.Complete = true
	return nil
}

// serviceNames combines the caller's hint, the planner's classification and
// extracted entities into the topology query.
func (k *Knowledge) serviceNames(ctx context.Context, c *Context) []string {
	seen := map[string]struct{}{}
	var names []string
	add := func(name string) {
		name = strings.TrimSpace(name)
		if name == "" {
			return
		}
		if _, dup := seen[name]; dup {
			return
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}

	add(c.ServiceHint)
	if cls, ok := c.Classification(); ok {
		for _, s := range cls.Services {
			add(s)
		}
	}
	if k.extractor != nil {
		entities, err := k.extractor.Extract(ctx, c.Query)
		if err != nil {
			k.logger.Warn("entity extraction failed", "error", err)
		} else {
			for _, e := range entities {
				if e.Label == "SERVICE" || e.Label == "HOST" {
					add(e.Text)
				}
			}
		}
	}
	return names
}

func (k *Knowledge) templateSummary(ks KnowledgeSummary) string {
	var b strings.Builder
	if len(ks.Evidence) == 0 {
		b.WriteString("No directly relevant evidence was found.")
	} else {
		fmt.Fprintf(&b, "Found %d relevant documents; top match: %q.", len(ks.Evidence), ks.Evidence[0].Title)
	}
	if len(ks.RelatedServices) > 0 {
		names := make([]string, len(ks.RelatedServices))
		for i, s := range ks.RelatedServices {
			names[i] = s.Name
		}
		fmt.Fprintf(&b, " Structurally related services: %s.", strings.Join(names, ", "))
	}
	return b.String()
}

func categoryFor(c *Context) string {
	if cls, ok := c.Classification(); ok {
		return string(cls.ProblemType)
	}
	return ""
}

var _ Agent = (*Knowledge)(nil)

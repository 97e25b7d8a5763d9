package orchestrator

import (
	"testing"

	"opspilot/internal/agent"
)

func TestRequiresExecutionNilContext(t *testing.T) {
	if requiresExecution(nil) {
		t.Error("nil context must route away from execution")
	}
	if requiresExecution(agent.NewContext("q", "")) {
		t.Error("empty context must route away from execution")
	}
}

func TestRequiresExecutionSideEffectingRemedy(t *testing.T) {
	c := agent.NewContext("q", "")
	c.SetFinalRecommendation(agent.FinalRecommendation{
		ImplementationPlan: []agent.RemedyStep{
			{Action: "inspect service logs"},
			{Action: "restart the failed instance", Target: "checkout"},
		},
	})

	if !requiresExecution(c) {
		t.Error("a restart remedy must route through execution")
	}
}

func TestRequiresExecutionInspectOnlyPlan(t *testing.T) {
	c := agent.NewContext("q", "")
	c.SetExecutionPlan(agent.ExecutionPlan{ProblemType: agent.ProblemKnowledge})
	c.SetFinalRecommendation(agent.FinalRecommendation{
		ImplementationPlan: []agent.RemedyStep{
			{Action: "inspect service logs and recent metrics"},
			{Action: "review traffic patterns for anomalies"},
		},
	})

	if requiresExecution(c) {
		t.Error("inspect-only remedies for a knowledge problem must not execute")
	}
}

func TestRequiresExecutionProblemType(t *testing.T) {
	for _, pt := range []agent.ProblemType{agent.ProblemTroubleshooting, agent.ProblemDeployment} {
		c := agent.NewContext("q", "")
		c.SetExecutionPlan(agent.ExecutionPlan{ProblemType: pt})
		if !requiresExecution(c) {
			t.Errorf("%s problems must route through execution", pt)
		}
	}

	for _, pt := range []agent.ProblemType{agent.ProblemPerformance, agent.ProblemKnowledge} {
		c := agent.NewContext("q", "")
		c.SetExecutionPlan(agent.ExecutionPlan{ProblemType: pt})
		if requiresExecution(c) {
			t.Errorf("%s problems without side-effecting remedies must not execute", pt)
		}
	}
}

package orchestrator

import (
	"opspilot/internal/agent"
	"opspilot/internal/remedy"
)

// requiresExecution decides the pipeline's single conditional edge: whether
// the reasoning output warrants running the executor. It is a pure function
// of the typed context; missing or empty data always routes away from
// execution, so a broken recommendation can never trigger side-effecting
// remedies by accident.
func requiresExecution(c *agent.Context) bool {
	if c == nil {
		return false
	}

	if rec, ok := c.FinalRecommendation(); ok {
		for _, step := range rec.ImplementationPlan {
			if _, sideEffecting := remedy.Classify(step.Action); sideEffecting {
				return true
			}
		}
	}

	if plan, ok := c.ExecutionPlan(); ok {
		switch plan.ProblemType {
		case agent.ProblemTroubleshooting, agent.ProblemDeployment:
			return true
		}
	}

	return false
}

// Package remedy classifies and executes remediation operations produced by
// the diagnosis pipeline.
package remedy

import (
	"context"
	"strings"
	"time"
)

// Category groups remedy operations by the kind of side effect they cause.
type Category string

const (
	CategoryRestart     Category = "restart"
	CategoryReconfigure Category = "reconfigure"
	CategoryDeploy      Category = "deploy"
	CategoryScale       Category = "scale"
	CategoryPatch       Category = "patch"
	CategoryInspect     Category = "inspect"
)

// operationalVerbs maps the leading verb of a remedy action to its
// category. The match is a heuristic over free text; absent verbs classify
// the action as non-side-effecting inspection.
var operationalVerbs = map[string]Category{
	"restart":     CategoryRestart,
	"reboot":      CategoryRestart,
	"reconfigure": CategoryReconfigure,
	"configure":   CategoryReconfigure,
	"rollback":    CategoryDeploy,
	"deploy":      CategoryDeploy,
	"redeploy":    CategoryDeploy,
	"scale":       CategoryScale,
	"patch":       CategoryPatch,
	"update":      CategoryPatch,
	"upgrade":     CategoryPatch,
}

// Classify maps a free-text remedy action to a category. The second return
// reports whether the action causes an operational side effect.
func Classify(action string) (Category, bool) {
	for _, word := range strings.Fields(strings.ToLower(action)) {
		word = strings.Trim(word, ".,;:!?()[]\"'")
		if cat, ok := operationalVerbs[word]; ok {
			return cat, true
		}
	}
	return CategoryInspect, false
}

// Operation is a single typed remediation step ready for execution.
type Operation struct {
	Name              string        `json:"name"`
	Category          Category      `json:"category"`
	Target            string        `json:"target,omitempty"`
	EstimatedDuration time.Duration `json:"estimated_duration"`
	RequiresApproval  bool          `json:"requires_approval"`
	RollbackPossible  bool          `json:"rollback_possible"`
}

// Result reports the outcome of one executed operation.
type Result struct {
	OK       bool          `json:"ok"`
	Detail   string        `json:"detail,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Runner executes remediation operations against the environment.
type Runner interface {
	// Execute performs the operation. A failed operation is reported via
	// Result.OK, not an error; errors mean the runner itself broke.
	Execute(ctx context.Context, op Operation) (Result, error)

	// Verify checks that the operation's effect holds.
	Verify(ctx context.Context, op Operation) error
}

// Plan converts a remedy action into a typed operation with conservative
// execution estimates.
func Plan(action, target string) Operation {
	cat, sideEffecting := Classify(action)

	op := Operation{
		Name:              action,
		Category:          cat,
		Target:            target,
		EstimatedDuration: 5 * time.Second,
		RollbackPossible:  true,
	}

	switch cat {
	case CategoryRestart:
		op.EstimatedDuration = 30 * time.Second
	case CategoryDeploy:
		op.EstimatedDuration = 2 * time.Minute
		op.RequiresApproval = true
	case CategoryScale:
		op.EstimatedDuration = time.Minute
	case CategoryPatch:
		op.EstimatedDuration = 5 * time.Minute
		op.RequiresApproval = true
		op.RollbackPossible = false
	case CategoryReconfigure:
		op.EstimatedDuration = 15 * time.Second
	case CategoryInspect:
		op.EstimatedDuration = time.Second
	}

	if sideEffecting && op.Target == "" {
		// Without a concrete target the operation stays advisory.
		op.RequiresApproval = true
	}
	return op
}

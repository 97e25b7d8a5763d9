package remedy

import (
	"context"
	"fmt"
	"time"
)

// SimulatedRunner pretends to execute operations. It is the default runner
// when no execution environment is configured, so the pipeline can still
// produce a full execution report without causing side effects.
type SimulatedRunner struct {
	// Pacing is an artificial delay per operation so progress updates are
	// observable. Zero means no delay.
	Pacing time.Duration
}

// Execute implements Runner.
func (r *SimulatedRunner) Execute(ctx context.Context, op Operation) (Result, error) {
	start := time.Now()
	if r.Pacing > 0 {
		select {
		case <-time.After(r.Pacing):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	return Result{
		OK:       true,
		Detail:   fmt.Sprintf("simulated %s of %q", op.Category, op.Target),
		Duration: time.Since(start),
	}, nil
}

// Verify implements Runner.
func (r *SimulatedRunner) Verify(ctx context.Context, op Operation) error {
	return ctx.Err()
}

var _ Runner = (*SimulatedRunner)(nil)

package agent

import (
	"context"
	"errors"
	"fmt"
	"iter"
)

var (
	errStuckAgent = errors.New("agent produced no progress")
)

// Capabilities is a static descriptor of one agent, used for status
// reporting. It carries no behavior.
type Capabilities struct {
	AgentID   string   `json:"agentId"`
	Type      string   `json:"type"`
	Name      string   `json:"name"`
	StepLimit int      `json:"stepLimit"`
	Tools     []string `json:"tools,omitempty"`
	Services  []string `json:"services,omitempty"`
}

// Agent is the contract every pipeline worker implements. An agent is a
// small state machine over a fixed number of internal steps keyed off
// State.StepCount; Process performs exactly one bounded unit of work.
type Agent interface {
	// Process performs one step. Collaborator calls made inside are the
	// only suspension points; Process must not block otherwise.
	Process(ctx context.Context, st *State) error

	// ShouldContinue reports whether another step may run.
	ShouldContinue(st *State) bool

	// HandleError records err into st and terminates the agent's sub-run.
	// This is the only recovery path; there is no automatic retry.
	HandleError(st *State, err error)

	// Finalize closes a state whose step budget ran out without an
	// explicit completion.
	Finalize(st *State)

	// Capabilities returns the agent's static descriptor.
	Capabilities() Capabilities
}

// base carries the contract behavior shared by all concrete agents.
type base struct {
	caps Capabilities
}

func (b base) Capabilities() Capabilities { return b.caps }

func (b base) ShouldContinue(st *State) bool {
	return !st.Complete && st.Err == "" && st.StepCount < st.StepLimit
}

func (b base) HandleError(st *State, err error) {
	st.Append(Message{
		Kind:    KindError,
		AgentID: b.caps.AgentID,
		Content: fmt.Sprintf("%s failed: %v", b.caps.Name, err),
	})
	st.Err = err.Error()
	st.Complete = true
}

func (b base) Finalize(st *State) {
	if st.Complete {
		return
	}
	st.Append(Message{
		Kind:    KindThought,
		AgentID: b.caps.AgentID,
		Content: fmt.Sprintf("%s reached its step limit, stopping", b.caps.Name),
	})
	st.Complete = true
}

// StreamExecution drives an agent's bounded loop, yielding each newly
// appended message as it is produced. A step that appends nothing and does
// not complete the state is treated as stuck and converted into an error
// after one occurrence. Panics inside Process are recovered and funneled
// through HandleError like any other step failure.
func StreamExecution(ctx context.Context, a Agent, st *State) iter.Seq2[Message, error] {
	return func(yield func(Message, error) bool) {
		for a.ShouldContinue(st) {
			if err := ctx.Err(); err != nil {
				a.HandleError(st, err)
				yieldTail(yield, st, st.StepCount-1)
				return
			}

			before := st.StepCount
			err := runStep(ctx, a, st)
			if err != nil {
				a.HandleError(st, err)
				yieldTail(yield, st, before)
				return
			}

			if st.StepCount == before && !st.Complete {
				a.HandleError(st, errStuckAgent)
				yieldTail(yield, st, before)
				return
			}

			if !yieldTail(yield, st, before) {
				return
			}
		}

		if !st.Complete && st.Err == "" {
			before := st.StepCount
			a.Finalize(st)
			yieldTail(yield, st, before)
		}
	}
}

// Run drives StreamExecution to completion, discarding the stream. The
// outcome is recorded in st.
func Run(ctx context.Context, a Agent, st *State) {
	for range StreamExecution(ctx, a, st) {
	}
}

// runStep invokes Process with panic recovery so a misbehaving step
// surfaces as an agent error instead of tearing down the driving job.
func runStep(ctx context.Context, a Agent, st *State) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("agent step panicked: %v", r)
		}
	}()
	return a.Process(ctx, st)
}

// yieldTail yields every message appended at or after index from. It
// returns false when the consumer stopped the iteration.
func yieldTail(yield func(Message, error) bool, st *State, from int) bool {
	msgs := st.Messages()
	for i := from; i < len(msgs); i++ {
		if !yield(msgs[i], nil) {
			return false
		}
	}
	return true
}

// Package agent implements the bounded, step-indexed workers that make up
// the diagnosis pipeline, and the shared message/state substrate they
// communicate through.
package agent

import (
	"time"
)

// MessageKind categorizes pipeline messages.
type MessageKind string

const (
	// KindThought is internal reasoning narration.
	KindThought MessageKind = "thought"
	// KindAction records a collaborator call or remedy execution.
	KindAction MessageKind = "action"
	// KindObservation records the outcome of an action.
	KindObservation MessageKind = "observation"
	// KindAnswer is an agent's terminal output.
	KindAnswer MessageKind = "answer"
	// KindError records a failure.
	KindError MessageKind = "error"
)

// Message is one entry in a run's transcript. Messages are append-only:
// once added to a State they are never mutated or removed.
type Message struct {
	Kind      MessageKind       `json:"kind"`
	Content   string            `json:"content"`
	AgentID   string            `json:"agentId,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// SystemAgentID tags messages produced by the orchestrator itself rather
// than by one of the workers.
const SystemAgentID = "system"

// State is the message log plus shared context for one orchestrator run or
// one agent's scoped sub-run. A State must not be advanced further once
// Complete is set or Err is non-empty.
type State struct {
	// Context is the typed result registry shared by all agents in a run.
	// Scoped child states alias the parent's Context.
	Context *Context

	// StepCount equals the number of messages appended to this State.
	StepCount int
	// StepLimit caps StepCount for the owning agent's bounded loop.
	StepLimit int
	// Complete marks the state terminal.
	Complete bool
	// Err holds the failure that terminated the state, if any.
	Err string

	messages []Message
}

// NewState creates a run-level State around the given context.
func NewState(c *Context, stepLimit int) *State {
	if c == nil {
		c = &Context{}
	}
	return &State{Context: c, StepLimit: stepLimit}
}

// Append adds a message to the log and increments StepCount. A zero
// timestamp is stamped with the current time.
func (s *State) Append(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	s.messages = append(s.messages, msg)
	s.StepCount++
}

// Messages returns the full transcript in insertion order. The returned
// slice must not be mutated.
func (s *State) Messages() []Message {
	return s.messages
}

// Latest returns the last message, or the last message of the given kind
// when one is supplied. The second return is false when no match exists.
func (s *State) Latest(kinds ...MessageKind) (Message, bool) {
	for i := len(s.messages) - 1; i >= 0; i-- {
		if len(kinds) == 0 {
			return s.messages[i], true
		}
		for _, k := range kinds {
			if s.messages[i].Kind == k {
				return s.messages[i], true
			}
		}
	}
	return Message{}, false
}

// MessagesOf returns all messages of a kind, in insertion order.
func (s *State) MessagesOf(kind MessageKind) []Message {
	var out []Message
	for _, m := range s.messages {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

// Scoped returns a child State for a single agent invocation. The child
// aliases the parent's Context but starts with an empty transcript and
// fresh step accounting, so the agent's bounded loop cannot corrupt the
// parent's counters. The orchestrator appends the child's messages back
// into the parent as they stream, and adopts a child failure afterwards.
func (s *State) Scoped(stepLimit int) *State {
	return &State{Context: s.Context, StepLimit: stepLimit}
}

// Elapsed returns the wall time between the first and last message, or
// zero for transcripts shorter than two messages.
func (s *State) Elapsed() time.Duration {
	if len(s.messages) < 2 {
		return 0
	}
	return s.messages[len(s.messages)-1].Timestamp.Sub(s.messages[0].Timestamp)
}

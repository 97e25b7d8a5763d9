// Package stream fans live diagnosis run output out to websocket
// subscribers.
package stream

import (
	"log/slog"
	"sync"

	"opspilot/internal/agent"
	"opspilot/internal/task"
)

// EventType discriminates the payload of an Event.
type EventType string

const (
	// EventMessage carries one agent message as it is produced.
	EventMessage EventType = "message"
	// EventRecord carries a full task record snapshot, sent on creation
	// and on terminal transitions.
	EventRecord EventType = "record"
)

// Event is one unit of streamed run output.
type Event struct {
	Type    EventType      `json:"type"`
	TaskID  string         `json:"taskId"`
	Message *agent.Message `json:"message,omitempty"`
	Record  *task.Record   `json:"record,omitempty"`
}

const subscriberBuffer = 64

// Hub routes run events to per-task subscribers. Publishing never blocks;
// a subscriber that cannot keep up loses events rather than stalling the
// run that produces them.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[chan Event]struct{}
	logger *slog.Logger
}

var _ task.MessageSink = (*Hub)(nil)

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:   make(map[string]map[chan Event]struct{}),
		logger: logger,
	}
}

// Subscribe registers a listener for one task's events. The returned
// function removes the subscription and closes the channel.
func (h *Hub) Subscribe(taskID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	set, ok := h.subs[taskID]
	if !ok {
		set = make(map[chan Event]struct{})
		h.subs[taskID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		set, ok := h.subs[taskID]
		if !ok {
			return
		}
		if _, ok := set[ch]; !ok {
			return
		}
		delete(set, ch)
		if len(set) == 0 {
			delete(h.subs, taskID)
		}
		close(ch)
	}
	return ch, unsubscribe
}

// PublishMessage broadcasts one agent message to the task's subscribers.
func (h *Hub) PublishMessage(taskID string, msg agent.Message) {
	h.broadcast(taskID, Event{Type: EventMessage, TaskID: taskID, Message: &msg})
}

// PublishRecord broadcasts a task record snapshot to its subscribers.
func (h *Hub) PublishRecord(rec *task.Record) {
	h.broadcast(rec.TaskID, Event{Type: EventRecord, TaskID: rec.TaskID, Record: rec})
}

func (h *Hub) broadcast(taskID string, ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[taskID] {
		select {
		case ch <- ev:
		default:
			h.logger.Warn("dropping stream event for slow subscriber", "task_id", taskID, "event_type", ev.Type)
		}
	}
}

// SubscriberCount reports how many listeners a task currently has.
func (h *Hub) SubscriberCount(taskID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[taskID])
}

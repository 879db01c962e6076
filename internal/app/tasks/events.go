package tasks

import (
	"sort"
	"sync"
	"time"

	"github.com/LoyaltyLabs/receipt_layer/internal/app/domain/task"
)

// EventType classifies a task transition event.
type EventType string

const (
	EventTaskCreated   EventType = "task.created"
	EventTaskStarted   EventType = "task.started"
	EventTaskCompleted EventType = "task.completed"
	EventTaskFailed    EventType = "task.failed"
)

// FailureReason distinguishes why a task failed. The workflow uses it to
// decide whether a failure is chainable: configuration failures never are.
type FailureReason string

const (
	ReasonNone         FailureReason = ""
	ReasonNoHandler    FailureReason = "no_handler"
	ReasonHandlerError FailureReason = "handler_error"
	ReasonTimeout      FailureReason = "timeout"
)

// Event is a task transition notification.
type Event struct {
	Type      EventType     `json:"type"`
	Task      task.Task     `json:"task"`
	Reason    FailureReason `json:"reason,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// EventHandler processes events as they occur.
type EventHandler func(Event)

// Notifier delivers task transition events to subscribers. Delivery is
// synchronous and in subscription order; handlers must not block.
type Notifier struct {
	mu       sync.RWMutex
	handlers map[int]EventHandler
	nextID   int

	recent    []Event
	recentMax int
}

// NewNotifier creates a notifier retaining a bounded window of recent events.
func NewNotifier() *Notifier {
	return &Notifier{
		handlers:  make(map[int]EventHandler),
		recentMax: 256,
	}
}

// Subscribe registers a handler and returns an unsubscribe function.
func (n *Notifier) Subscribe(h EventHandler) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextID
	n.nextID++
	n.handlers[id] = h
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.handlers, id)
	}
}

// Publish records the event and notifies all subscribers.
func (n *Notifier) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	n.mu.Lock()
	n.recent = append(n.recent, evt)
	if len(n.recent) > n.recentMax {
		n.recent = n.recent[len(n.recent)-n.recentMax:]
	}
	// Subscription ids are monotonic, so sorted ids give subscription order.
	ids := make([]int, 0, len(n.handlers))
	for id := range n.handlers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]EventHandler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, n.handlers[id])
	}
	n.mu.Unlock()

	for _, h := range handlers {
		h(evt)
	}
}

// Recent returns up to limit most recent events, newest last.
func (n *Notifier) Recent(limit int) []Event {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if limit <= 0 || limit > len(n.recent) {
		limit = len(n.recent)
	}
	out := make([]Event, limit)
	copy(out, n.recent[len(n.recent)-limit:])
	return out
}

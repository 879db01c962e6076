// Package tasks implements the asynchronous task engine behind the
// receipt-to-NFT pipeline: a handler registry, a concurrency-bounded
// dispatcher, the saga workflow chaining rules, and the status surface
// pollers read.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/LoyaltyLabs/receipt_layer/internal/app/domain/task"
)

// Common errors
var (
	ErrNoHandler        = errors.New("no handler registered")
	ErrDuplicateHandler = errors.New("handler already registered")
	ErrUnknownKind      = errors.New("unknown task kind")
)

// Handler executes a task and returns its result. The returned value is
// marshalled to JSON and stored on the task; a non-nil error fails the task
// with the error's message.
type Handler func(ctx context.Context, t task.Task) (any, error)

// Registry maps task kinds to their handlers. Registration is one handler
// per kind; re-registering a kind is an error rather than a silent
// replacement.
type Registry struct {
	mu       sync.RWMutex
	handlers map[task.Kind]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[task.Kind]Handler)}
}

// Register binds a handler to a kind.
func (r *Registry) Register(kind task.Kind, h Handler) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	if h == nil {
		return fmt.Errorf("nil handler for kind %s", kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[kind]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, kind)
	}
	r.handlers[kind] = h
	return nil
}

// Resolve returns the handler for a kind.
func (r *Registry) Resolve(kind task.Kind) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	if !ok {
		return nil, fmt.Errorf("%w for kind %s", ErrNoHandler, kind)
	}
	return h, nil
}

// Kinds returns the kinds with a registered handler.
func (r *Registry) Kinds() []task.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]task.Kind, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	return kinds
}

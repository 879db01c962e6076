package tasks

import (
	"context"
	"fmt"

	"github.com/LoyaltyLabs/receipt_layer/internal/app/domain/task"
	"github.com/LoyaltyLabs/receipt_layer/internal/app/storage"
	"github.com/LoyaltyLabs/receipt_layer/pkg/logger"
)

// Engine bundles the task store, registry, notifier, dispatcher and saga
// workflow into one lifecycle-managed unit.
type Engine struct {
	store      storage.TaskStore
	registry   *Registry
	notifier   *Notifier
	dispatcher *Dispatcher
	workflow   *Workflow
	status     *StatusService
	log        *logger.Logger
}

// NewEngine wires the engine over a task store.
func NewEngine(store storage.TaskStore, cfg DispatcherConfig, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.NewDefault("tasks")
	}
	registry := NewRegistry()
	notifier := NewNotifier()
	return &Engine{
		store:      store,
		registry:   registry,
		notifier:   notifier,
		dispatcher: NewDispatcher(store, registry, notifier, cfg, log.WithField("component", "dispatcher")),
		workflow:   NewWorkflow(store, notifier, log.WithField("component", "workflow")),
		status:     NewStatusService(store),
		log:        log,
	}
}

// Registry returns the handler registry.
func (e *Engine) Registry() *Registry { return e.registry }

// Notifier returns the transition notifier.
func (e *Engine) Notifier() *Notifier { return e.notifier }

// Status returns the polling surface.
func (e *Engine) Status() *StatusService { return e.status }

// Submit creates a pending task. Unknown kinds are rejected up front rather
// than left to die at dispatch time.
func (e *Engine) Submit(ctx context.Context, kind task.Kind, payload task.Payload, correlationKey string) (task.Task, error) {
	if !kind.Valid() {
		return task.Task{}, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	created, err := e.store.CreateTask(ctx, task.Task{
		Kind:           kind,
		Payload:        payload,
		CorrelationKey: correlationKey,
	})
	if err != nil {
		return task.Task{}, err
	}
	e.notifier.Publish(Event{Type: EventTaskCreated, Task: created})
	e.log.WithField("task_id", created.ID).
		WithField("kind", string(kind)).
		WithField("correlation_key", correlationKey).
		Info("task submitted")
	return created, nil
}

// Start launches the dispatcher loop.
func (e *Engine) Start(ctx context.Context) error {
	return e.dispatcher.Start(ctx)
}

// Shutdown detaches the workflow and drains the dispatcher.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.workflow.Close()
	return e.dispatcher.Shutdown(ctx)
}

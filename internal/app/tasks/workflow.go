package tasks

import (
	"context"

	"github.com/LoyaltyLabs/receipt_layer/internal/app/domain/task"
	"github.com/LoyaltyLabs/receipt_layer/internal/app/storage"
	"github.com/LoyaltyLabs/receipt_layer/pkg/logger"
)

// ruleKey identifies a chaining rule by the kind that settled and how.
type ruleKey struct {
	trigger task.Kind
	outcome task.Status
}

// spawnFunc derives the chained task from the settled one. Returning false
// means the rule does not apply to this particular task.
type spawnFunc func(settled task.Task) (task.Task, bool)

// Workflow encodes the receipt-to-NFT saga as a rule table keyed by
// (triggering kind, outcome). It subscribes to task transitions and only
// ever creates new tasks; settled tasks are never mutated. Each settled task
// triggers at most one rule, so a saga is finite: acquire, optionally
// fallback-mint, optionally finalize-metadata.
type Workflow struct {
	store storage.TaskStore
	log   *logger.Logger
	rules map[ruleKey]spawnFunc
	unsub func()
}

// NewWorkflow creates the saga controller and subscribes it to the notifier.
func NewWorkflow(store storage.TaskStore, notifier *Notifier, log *logger.Logger) *Workflow {
	if log == nil {
		log = logger.NewDefault("workflow")
	}
	w := &Workflow{
		store: store,
		log:   log,
		rules: map[ruleKey]spawnFunc{
			{task.KindAcquire, task.StatusFailed}:         spawnFallbackMint,
			{task.KindAcquire, task.StatusCompleted}:      spawnFinalizeMetadata,
			{task.KindFallbackMint, task.StatusCompleted}: spawnFinalizeMetadata,
			// fallback-mint failure and finalize-metadata outcomes are
			// terminal for the saga: no entry, no spawn.
		},
	}
	w.unsub = notifier.Subscribe(w.onEvent)
	return w
}

// Close detaches the workflow from the notifier.
func (w *Workflow) Close() {
	if w.unsub != nil {
		w.unsub()
		w.unsub = nil
	}
}

func (w *Workflow) onEvent(evt Event) {
	switch evt.Type {
	case EventTaskCompleted, EventTaskFailed:
	default:
		return
	}

	// A task rejected for configuration reasons never had a chance to run;
	// chaining a fallback onto it would mask the misconfiguration.
	if evt.Reason == ReasonNoHandler {
		return
	}

	rule, ok := w.rules[ruleKey{evt.Task.Kind, evt.Task.Status}]
	if !ok {
		return
	}
	next, ok := rule(evt.Task)
	if !ok {
		return
	}

	created, err := w.store.CreateTask(context.Background(), next)
	if err != nil {
		w.log.WithError(err).
			WithField("trigger_task_id", evt.Task.ID).
			WithField("next_kind", string(next.Kind)).
			Error("saga task creation failed")
		return
	}
	w.log.WithField("trigger_task_id", evt.Task.ID).
		WithField("task_id", created.ID).
		WithField("kind", string(created.Kind)).
		WithField("correlation_key", created.CorrelationKey).
		Info("saga task spawned")
}

// spawnFallbackMint chains a fallback-mint task after a failed acquisition,
// reusing the payload and correlation key. Payloads without a destination
// wallet are not fallback-eligible.
func spawnFallbackMint(settled task.Task) (task.Task, bool) {
	if settled.Payload.Wallet == "" {
		return task.Task{}, false
	}
	return task.Task{
		Kind:           task.KindFallbackMint,
		Payload:        settled.Payload,
		CorrelationKey: settled.CorrelationKey,
	}, true
}

// spawnFinalizeMetadata chains a finalize-metadata task after a successful
// acquisition whose payload carried an encryption bundle. The now-known
// token id is copied into the chained payload.
func spawnFinalizeMetadata(settled task.Task) (task.Task, bool) {
	if settled.Payload.Encryption == nil {
		return task.Task{}, false
	}
	res, ok := settled.AcquisitionResult()
	if !ok {
		return task.Task{}, false
	}

	payload := settled.Payload
	payload.TokenID = res.TokenID
	return task.Task{
		Kind:           task.KindFinalizeMetadata,
		Payload:        payload,
		CorrelationKey: settled.CorrelationKey,
	}, true
}

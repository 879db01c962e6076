package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LoyaltyLabs/receipt_layer/internal/app/domain/task"
	"github.com/LoyaltyLabs/receipt_layer/internal/app/metrics"
	"github.com/LoyaltyLabs/receipt_layer/internal/app/storage"
	"github.com/LoyaltyLabs/receipt_layer/pkg/logger"
)

// DispatcherConfig holds dispatcher tuning.
type DispatcherConfig struct {
	// TickInterval is how often pending tasks are scanned for admission.
	TickInterval time.Duration

	// MaxConcurrent is the in-flight handler ceiling.
	MaxConcurrent int

	// HandlerTimeout forces a Failed transition when a handler overruns.
	// It cannot cancel an already-dispatched external side effect.
	HandlerTimeout time.Duration
}

// DefaultDispatcherConfig returns the default dispatcher configuration.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		TickInterval:   time.Second,
		MaxConcurrent:  3,
		HandlerTimeout: 60 * time.Second,
	}
}

// Dispatcher promotes pending tasks to processing and invokes their handler
// without blocking the tick loop. Admission is bounded by a permit channel
// sized to the concurrency ceiling; tasks beyond the ceiling stay pending
// until a slot frees. The dispatcher mutates task status, result and error;
// it is oblivious to chaining.
type Dispatcher struct {
	store    storage.TaskStore
	registry *Registry
	notifier *Notifier
	cfg      DispatcherConfig
	log      *logger.Logger

	permits    chan struct{}
	inFlight   int32
	shutdownCh chan struct{}
	wg         sync.WaitGroup

	mu       sync.Mutex
	started  bool
	stopping bool

	// Stats
	totalAdmitted int64
	totalRejected int64
	totalSettled  int64
}

// NewDispatcher creates a dispatcher. The notifier may be nil when no
// subscriber cares about transitions.
func NewDispatcher(store storage.TaskStore, registry *Registry, notifier *Notifier, cfg DispatcherConfig, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.NewDefault("dispatcher")
	}
	def := DefaultDispatcherConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = def.HandlerTimeout
	}

	d := &Dispatcher{
		store:      store,
		registry:   registry,
		notifier:   notifier,
		cfg:        cfg,
		log:        log,
		permits:    make(chan struct{}, cfg.MaxConcurrent),
		shutdownCh: make(chan struct{}),
	}
	for i := 0; i < cfg.MaxConcurrent; i++ {
		d.permits <- struct{}{}
	}
	return d
}

// Start launches the tick loop. It returns immediately.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return fmt.Errorf("dispatcher already started")
	}
	d.started = true

	d.wg.Add(1)
	go d.loop(ctx)
	d.log.WithField("max_concurrent", d.cfg.MaxConcurrent).
		WithField("tick_interval", d.cfg.TickInterval.String()).
		Info("dispatcher started")
	return nil
}

// Shutdown stops admission and waits for in-flight handlers to settle, or
// for the context to expire.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return nil
	}
	if !d.stopping {
		d.stopping = true
		close(d.shutdownCh)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InFlight returns the number of handlers currently executing.
func (d *Dispatcher) InFlight() int {
	return int(atomic.LoadInt32(&d.inFlight))
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.shutdownCh:
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

// tick admits pending tasks up to the free slot count. Tasks whose kind has
// no registered handler are failed synchronously without occupying a slot.
func (d *Dispatcher) tick(ctx context.Context) {
	pending, err := d.store.ListTasksByStatus(ctx, task.StatusPending)
	if err != nil {
		d.log.WithError(err).Warn("pending task scan failed")
		return
	}

	for _, t := range pending {
		handler, err := d.registry.Resolve(t.Kind)
		if err != nil {
			atomic.AddInt64(&d.totalRejected, 1)
			d.fail(ctx, t, fmt.Sprintf("no handler registered for kind %s", t.Kind), ReasonNoHandler)
			continue
		}

		select {
		case <-d.permits:
		default:
			// Ceiling reached; remaining tasks wait for a later tick.
			return
		}

		processing := task.StatusProcessing
		updated, err := d.store.UpdateTask(ctx, t.ID, task.Update{Status: &processing})
		if err != nil {
			d.permits <- struct{}{}
			d.log.WithError(err).WithField("task_id", t.ID).Warn("admission transition failed")
			continue
		}
		atomic.AddInt64(&d.totalAdmitted, 1)
		atomic.AddInt32(&d.inFlight, 1)
		metrics.SetTasksInFlight(int(atomic.LoadInt32(&d.inFlight)))
		metrics.RecordTaskStarted(string(t.Kind))
		d.publish(Event{Type: EventTaskStarted, Task: updated})

		d.wg.Add(1)
		go d.execute(ctx, updated, handler)
	}
}

type outcome struct {
	result any
	err    error
}

// execute runs the handler with the configured timeout and a panic boundary,
// then settles the task. The permit is released exactly once, when the task
// settles.
func (d *Dispatcher) execute(ctx context.Context, t task.Task, handler Handler) {
	start := time.Now()
	defer func() {
		atomic.AddInt32(&d.inFlight, -1)
		metrics.SetTasksInFlight(int(atomic.LoadInt32(&d.inFlight)))
		atomic.AddInt64(&d.totalSettled, 1)
		d.permits <- struct{}{}
		d.wg.Done()
	}()

	hctx := ctx
	var cancel context.CancelFunc
	if d.cfg.HandlerTimeout > 0 {
		hctx, cancel = context.WithTimeout(ctx, d.cfg.HandlerTimeout)
		defer cancel()
	}

	done := make(chan outcome, 1)
	go func() {
		done <- d.invoke(hctx, t, handler)
	}()

	var out outcome
	var reason FailureReason
	select {
	case out = <-done:
		reason = ReasonHandlerError
	case <-hctx.Done():
		// The handler may still be running; its external side effect is not
		// cancelled, only the task record is settled.
		out = outcome{err: fmt.Errorf("handler timed out after %s", d.cfg.HandlerTimeout)}
		reason = ReasonTimeout
	}

	if out.err != nil {
		d.fail(ctx, t, out.err.Error(), reason)
		metrics.RecordTaskSettled(string(t.Kind), task.StatusFailed.String(), time.Since(start))
		return
	}

	resultJSON, err := json.Marshal(out.result)
	if err != nil {
		d.fail(ctx, t, fmt.Sprintf("marshal result: %v", err), ReasonHandlerError)
		metrics.RecordTaskSettled(string(t.Kind), task.StatusFailed.String(), time.Since(start))
		return
	}

	completed := task.StatusCompleted
	updated, err := d.store.UpdateTask(ctx, t.ID, task.Update{Status: &completed, Result: resultJSON})
	if err != nil {
		d.log.WithError(err).WithField("task_id", t.ID).Warn("completion transition failed")
		return
	}
	metrics.RecordTaskSettled(string(t.Kind), task.StatusCompleted.String(), time.Since(start))
	d.publish(Event{Type: EventTaskCompleted, Task: updated})
}

// invoke calls the handler, converting a panic into an error so it never
// crosses the dispatcher boundary.
func (d *Dispatcher) invoke(ctx context.Context, t task.Task, handler Handler) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = outcome{err: fmt.Errorf("handler panic: %v", r)}
		}
	}()
	result, err := handler(ctx, t)
	return outcome{result: result, err: err}
}

func (d *Dispatcher) fail(ctx context.Context, t task.Task, msg string, reason FailureReason) {
	failed := task.StatusFailed
	updated, err := d.store.UpdateTask(ctx, t.ID, task.Update{Status: &failed, Error: &msg})
	if err != nil {
		d.log.WithError(err).WithField("task_id", t.ID).Warn("failure transition failed")
		return
	}
	d.log.WithField("task_id", t.ID).
		WithField("kind", string(t.Kind)).
		WithField("reason", string(reason)).
		Warn("task failed: " + msg)
	d.publish(Event{Type: EventTaskFailed, Task: updated, Reason: reason})
}

func (d *Dispatcher) publish(evt Event) {
	if d.notifier != nil {
		d.notifier.Publish(evt)
	}
}

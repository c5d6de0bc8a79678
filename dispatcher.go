package convdispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Dispatcher polls an EventStore and hands each pending event to an Enqueuer.
//
// A single goroutine drives the loop: a cycle fetches one batch and processes
// it event by event, then the dispatcher sleeps for the poll interval. Cycles
// never overlap. Delivery is at-least-once: a crash between a successful
// enqueue and the processed mark re-delivers the job on a later cycle.
type Dispatcher struct {
	store    EventStore
	enqueuer Enqueuer
	cfg      DispatcherConfig

	state    atomic.Int32
	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}

	pendingMu sync.Mutex
	pendingAt time.Time
}

// EventResult is the outcome of dispatching a single event.
type EventResult struct {
	EventID string
	TaskID  string
	Outcome Outcome
	Lane    Lane
	JobID   string
	Err     error
}

// CycleReport summarizes one poll cycle.
type CycleReport struct {
	Fetched   int
	Processed int
	Failed    int
	Malformed int
	// Skipped counts fetched events left pending because ctx was canceled mid-batch.
	Skipped  int
	Results  []EventResult
	Duration time.Duration
}

func (r *CycleReport) add(res EventResult) {
	r.Results = append(r.Results, res)
	switch res.Outcome {
	case OutcomeProcessed:
		r.Processed++
	case OutcomeFailed:
		r.Failed++
	case OutcomeMalformed:
		r.Malformed++
	}
}

// NewDispatcher constructs a Dispatcher with defaults and optional settings.
func NewDispatcher(store EventStore, enqueuer Enqueuer, opts ...DispatcherOption) *Dispatcher {
	if store == nil {
		panic(ErrStoreRequired)
	}
	if enqueuer == nil {
		panic(ErrEnqueuerRequired)
	}

	var cfg DispatcherConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Dispatcher{
		store:    store,
		enqueuer: enqueuer,
		cfg:      cfg.withDefaults(),
		stopCh:   make(chan struct{}),
	}
}

// State reports the current scheduling state.
func (d *Dispatcher) State() State {
	return State(d.state.Load())
}

// Run executes poll cycles until Stop is called or ctx is canceled.
// Cancellation only prevents the next cycle: a cycle in flight runs to completion.
func (d *Dispatcher) Run(ctx context.Context) error {
	if !d.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer d.setState(StateStopped)
	defer d.Stop()

	d.cfg.Logger.Info("dispatcher started",
		"poll_interval", d.cfg.PollInterval,
		"batch_size", d.cfg.BatchSize,
	)

	cycleCtx := context.WithoutCancel(ctx)
	for {
		if d.stopping(ctx) {
			break
		}

		if _, err := d.ProcessOnce(cycleCtx); err != nil {
			d.cfg.Logger.Error("dispatch cycle failed", "err", err)
		}

		d.setState(StateSleeping)
		if err := d.sleep(ctx, d.cfg.PollInterval); err != nil {
			break
		}
	}

	d.cfg.Logger.Info("dispatcher stopped")
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

// Stop prevents further cycles. It does not interrupt a cycle in flight.
// Calling Stop more than once has no further effect.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
		if !d.started.Load() {
			d.setState(StateStopped)
		}
	})
}

// ProcessOnce fetches and dispatches a single batch.
// Per-event failures are recorded in the store and reported, not returned;
// the returned error covers fetch failures, cancellation of ctx and panics.
// Events left unattempted after ctx is canceled stay pending for a later cycle.
func (d *Dispatcher) ProcessOnce(ctx context.Context) (report CycleReport, err error) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", ErrCyclePanic, rec)
		}
		report.Duration = time.Since(start)
		d.cfg.Metrics.ObserveCycleDuration(report.Duration)
		d.setStateUnlessStopped(StateIdle)
	}()

	d.setStateUnlessStopped(StateFetching)
	fetchCtx, cancel := d.bounded(ctx)
	events, err := d.store.PendingEvents(fetchCtx, d.cfg.BatchSize)
	cancel()
	if err != nil {
		return report, fmt.Errorf("convdispatch: fetch pending events: %w", err)
	}
	if len(events) > d.cfg.BatchSize {
		d.cfg.Logger.Warn("store returned more events than requested",
			"requested", d.cfg.BatchSize,
			"returned", len(events),
		)
		events = events[:d.cfg.BatchSize]
	}

	report.Fetched = len(events)
	d.cfg.Metrics.AddFetched(len(events))
	if len(events) == 0 {
		d.maybeRecordPending(ctx)

		return report, nil
	}

	d.setStateUnlessStopped(StateDispatching)
	d.cfg.Logger.Debug("dispatching events", "count", len(events))

	for i := range events {
		if ctxErr := ctx.Err(); ctxErr != nil {
			report.Skipped = len(events) - i
			err = fmt.Errorf("convdispatch: cycle aborted with %d events unmarked: %w", report.Skipped, ctxErr)

			break
		}
		eventCtx, cancel := d.bounded(ctx)
		report.add(d.dispatch(eventCtx, events[i]))
		cancel()
	}

	d.cfg.Metrics.AddProcessed(report.Processed)
	d.cfg.Metrics.AddFailed(report.Failed + report.Malformed)
	d.cfg.Metrics.AddMalformed(report.Malformed)

	d.cfg.Logger.Info("dispatch cycle completed",
		"fetched", report.Fetched,
		"processed", report.Processed,
		"failed", report.Failed,
		"malformed", report.Malformed,
	)

	return report, err
}

func (d *Dispatcher) dispatch(ctx context.Context, event Event) EventResult {
	result := EventResult{EventID: event.ID, TaskID: event.AggregateID}

	data, err := event.Decode()
	if err != nil {
		return d.fail(ctx, event, result, OutcomeMalformed, err)
	}

	taskID := event.AggregateID
	if taskID == "" {
		taskID = data.TaskID
	}
	result.TaskID = taskID

	placement, err := d.enqueuer.Enqueue(ctx, data.Job())
	if err != nil {
		return d.fail(ctx, event, result, OutcomeFailed, err)
	}
	result.Lane = placement.Options.Lane
	result.JobID = placement.JobID
	d.cfg.Metrics.AddEnqueued(placement.Options.Lane, 1)

	queued, err := d.store.MarkTaskQueued(ctx, taskID)
	if err != nil {
		return d.fail(ctx, event, result, OutcomeFailed, err)
	}
	if !queued {
		d.cfg.Logger.Info("task already left pending", "event_id", event.ID, "task_id", taskID)
	}

	marked, err := d.store.MarkEventProcessed(ctx, event.ID)
	if err != nil {
		return d.fail(ctx, event, result, OutcomeFailed, err)
	}
	if !marked {
		d.cfg.Logger.Warn("event was not marked as processed", "event_id", event.ID)
	}

	d.cfg.Logger.Debug("event dispatched",
		"event_id", event.ID,
		"task_id", taskID,
		"lane", placement.Options.Lane,
		"job_id", placement.JobID,
	)
	result.Outcome = OutcomeProcessed

	return result
}

// fail records the failure in the store. Store errors are logged, never returned.
// The mark runs detached from ctx, whose deadline may be what caused the failure.
func (d *Dispatcher) fail(ctx context.Context, event Event, result EventResult, outcome Outcome, cause error) EventResult {
	result.Outcome = outcome
	result.Err = cause

	if d.cfg.ErrorHandler != nil {
		d.cfg.ErrorHandler(event, outcome, cause)
	}
	if outcome == OutcomeMalformed {
		d.cfg.Logger.Warn("malformed event payload", "event_id", event.ID, "err", cause)
	} else {
		d.cfg.Logger.Error("event dispatch failed", "event_id", event.ID, "task_id", result.TaskID, "err", cause)
	}

	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.FailureMarkTimeout)
	defer cancel()

	marked, err := d.store.MarkEventFailed(markCtx, event.ID, cause.Error())
	if err != nil {
		d.cfg.Logger.Error("mark event failed errored", "event_id", event.ID, "err", err)

		return result
	}
	if !marked {
		d.cfg.Logger.Warn("event was not marked as failed", "event_id", event.ID)
	}

	return result
}

func (d *Dispatcher) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.cfg.EventTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, d.cfg.EventTimeout)
}

func (d *Dispatcher) stopping(ctx context.Context) bool {
	select {
	case <-d.stopCh:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (d *Dispatcher) sleep(ctx context.Context, wait time.Duration) error {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-d.stopCh:
		return errStopped
	case <-timer.C:
		return nil
	}
}

var errStopped = errors.New("convdispatch: dispatcher stopped")

func (d *Dispatcher) setState(s State) {
	d.state.Store(int32(s))
}

func (d *Dispatcher) setStateUnlessStopped(s State) {
	for {
		cur := d.state.Load()
		if State(cur) == StateStopped {
			return
		}
		if d.state.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}

func (d *Dispatcher) maybeRecordPending(ctx context.Context) {
	counter, ok := d.store.(PendingCounter)
	if !ok {
		return
	}
	if d.cfg.PendingInterval <= 0 {
		return
	}
	if ctx.Err() != nil {
		return
	}

	now := d.cfg.Clock.Now()
	d.pendingMu.Lock()
	nextAllowed := d.pendingAt.Add(d.cfg.PendingInterval)
	if !d.pendingAt.IsZero() && now.Before(nextAllowed) {
		d.pendingMu.Unlock()

		return
	}
	d.pendingAt = now
	d.pendingMu.Unlock()

	countCtx, cancel := d.bounded(ctx)
	defer cancel()

	count, err := counter.PendingCount(countCtx)
	if err != nil {
		d.cfg.Logger.Warn("pending count failed", "err", err)

		return
	}

	d.cfg.Metrics.SetPending(count)
}

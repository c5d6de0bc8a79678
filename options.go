package convdispatch

import "time"

const (
	defaultBatchSize    = 10
	defaultPollInterval = 500 * time.Millisecond
	defaultPendingCheck = 0
	defaultFailureMark  = 5 * time.Second
)

// FailureHandler is called when dispatching an event fails.
type FailureHandler func(event Event, outcome Outcome, err error)

// DispatcherConfig defines how the Dispatcher polls and processes events.
type DispatcherConfig struct {
	BatchSize       int
	PollInterval    time.Duration
	EventTimeout    time.Duration
	Clock           Clock
	ErrorHandler    FailureHandler
	Logger          Logger
	Metrics         Metrics
	PendingInterval time.Duration

	// FailureMarkTimeout bounds MarkEventFailed, which runs detached from the
	// event's context.
	FailureMarkTimeout time.Duration
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.EventTimeout < 0 {
		c.EventTimeout = 0
	}
	if c.FailureMarkTimeout <= 0 {
		c.FailureMarkTimeout = defaultFailureMark
	}
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}
	if c.Logger == nil {
		c.Logger = NopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = NopMetrics{}
	}
	if c.PendingInterval <= 0 {
		c.PendingInterval = defaultPendingCheck
	}

	return c
}

// DispatcherOption configures Dispatcher behavior.
type DispatcherOption func(*DispatcherConfig)

// WithBatchSize sets the maximum number of events fetched per cycle.
func WithBatchSize(size int) DispatcherOption {
	return func(c *DispatcherConfig) {
		c.BatchSize = size
	}
}

// WithPollInterval sets the pause between the end of one cycle and the start of the next.
func WithPollInterval(interval time.Duration) DispatcherOption {
	return func(c *DispatcherConfig) {
		c.PollInterval = interval
	}
}

// WithEventTimeout bounds the fetch and the enqueue and marks of each event.
// An event that runs out of time is marked failed; the rest of the batch is
// still dispatched. Zero disables the bound.
func WithEventTimeout(timeout time.Duration) DispatcherOption {
	return func(c *DispatcherConfig) {
		c.EventTimeout = timeout
	}
}

// WithFailureMarkTimeout bounds the MarkEventFailed call made after a dispatch error.
func WithFailureMarkTimeout(timeout time.Duration) DispatcherOption {
	return func(c *DispatcherConfig) {
		c.FailureMarkTimeout = timeout
	}
}

// WithClock sets the dispatcher clock.
func WithClock(clock Clock) DispatcherOption {
	return func(c *DispatcherConfig) {
		c.Clock = clock
	}
}

// WithErrorHandler registers a callback for failed and malformed events.
func WithErrorHandler(handler FailureHandler) DispatcherOption {
	return func(c *DispatcherConfig) {
		c.ErrorHandler = handler
	}
}

// WithLogger sets the dispatcher logger.
func WithLogger(logger Logger) DispatcherOption {
	return func(c *DispatcherConfig) {
		c.Logger = logger
	}
}

// WithMetrics sets the dispatcher metrics recorder.
func WithMetrics(metrics Metrics) DispatcherOption {
	return func(c *DispatcherConfig) {
		c.Metrics = metrics
	}
}

// WithPendingInterval sets the minimum interval between pending count samples.
// Use a positive value to enable sampling or zero to keep it disabled.
// The default is disabled.
func WithPendingInterval(interval time.Duration) DispatcherOption {
	return func(c *DispatcherConfig) {
		c.PendingInterval = interval
	}
}

package mysql

import (
	"time"

	"github.com/google/uuid"

	"github.com/velmie/convdispatch"
)

const (
	defaultTaskTable   = "conversion_tasks"
	defaultEventTable  = "outbox_events"
	defaultMaxAttempts = 5
	defaultRetryAfter  = 30 * time.Second
	defaultClaimTTL    = time.Minute
)

// IDFunc generates identifiers for new events.
type IDFunc func() (uuid.UUID, error)

// Config defines MySQL store behavior.
type Config struct {
	TaskTable  string
	EventTable string
	// MaxAttempts stops re-polling a failed event once it has failed this many times.
	MaxAttempts int
	// RetryAfter is the minimum time between a failure and the next poll of the event.
	RetryAfter    time.Duration
	retryAfterSet bool
	// ClaimTTL hides fetched events from other dispatchers until it expires.
	ClaimTTL  time.Duration
	Clock     convdispatch.Clock
	Generator IDFunc
}

func (c Config) withDefaults() Config {
	if c.TaskTable == "" {
		c.TaskTable = defaultTaskTable
	}
	if c.EventTable == "" {
		c.EventTable = defaultEventTable
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if !c.retryAfterSet || c.RetryAfter < 0 {
		c.RetryAfter = defaultRetryAfter
	}
	if c.ClaimTTL <= 0 {
		c.ClaimTTL = defaultClaimTTL
	}
	if c.Clock == nil {
		c.Clock = convdispatch.SystemClock{}
	}
	if c.Generator == nil {
		c.Generator = uuid.NewV7
	}

	return c
}

// Option configures the MySQL store.
type Option func(*Config)

// WithTaskTable sets the conversion task table name.
func WithTaskTable(name string) Option {
	return func(c *Config) {
		c.TaskTable = name
	}
}

// WithEventTable sets the outbox event table name.
func WithEventTable(name string) Option {
	return func(c *Config) {
		c.EventTable = name
	}
}

// WithMaxAttempts sets how many failures an event may accumulate before it is no longer polled.
// One disables re-polling of failed events.
func WithMaxAttempts(attempts int) Option {
	return func(c *Config) {
		c.MaxAttempts = attempts
	}
}

// WithRetryAfter sets the delay before a failed event becomes visible again.
func WithRetryAfter(delay time.Duration) Option {
	return func(c *Config) {
		c.RetryAfter = delay
		c.retryAfterSet = true
	}
}

// WithClaimTTL sets how long fetched events stay hidden from other dispatchers.
func WithClaimTTL(ttl time.Duration) Option {
	return func(c *Config) {
		c.ClaimTTL = ttl
	}
}

// WithClock sets the time source used by the store.
func WithClock(clock convdispatch.Clock) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}

// WithGenerator sets the event id generator.
func WithGenerator(gen IDFunc) Option {
	return func(c *Config) {
		c.Generator = gen
	}
}

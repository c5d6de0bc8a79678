package postgres

import (
	"time"

	"github.com/velmie/convdispatch"
)

const (
	defaultMaxAttempts = 5
	defaultRetryAfter  = 30 * time.Second
)

// Config defines PostgreSQL store behavior.
type Config struct {
	// MaxAttempts stops re-polling a failed event once it has failed this many times.
	MaxAttempts int
	// RetryAfter is the minimum time between a failure and the next poll of the event.
	RetryAfter    time.Duration
	retryAfterSet bool
	Logger        convdispatch.Logger
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if !c.retryAfterSet || c.RetryAfter < 0 {
		c.RetryAfter = defaultRetryAfter
	}
	if c.Logger == nil {
		c.Logger = convdispatch.NopLogger{}
	}

	return c
}

// Option configures the PostgreSQL store.
type Option func(*Config)

// WithMaxAttempts sets how many failures an event may accumulate before it is no longer polled.
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

// WithLogger sets the logger used by Migrate and Cleanup.
func WithLogger(logger convdispatch.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

package redisqueue

import (
	"github.com/google/uuid"

	"github.com/velmie/convdispatch"
)

const (
	defaultPrefix  = "bull"
	defaultJobName = "convert"
)

// IDFunc generates job ids.
type IDFunc func() (uuid.UUID, error)

// Config defines how jobs are written to Redis.
type Config struct {
	// Prefix is the first key segment shared by every lane.
	Prefix string
	// JobName is stored in the job hash "name" field.
	JobName   string
	Clock     convdispatch.Clock
	Generator IDFunc
}

func (c Config) withDefaults() Config {
	if c.Prefix == "" {
		c.Prefix = defaultPrefix
	}
	if c.JobName == "" {
		c.JobName = defaultJobName
	}
	if c.Clock == nil {
		c.Clock = convdispatch.SystemClock{}
	}
	if c.Generator == nil {
		c.Generator = uuid.NewV7
	}

	return c
}

// Option configures the queue.
type Option func(*Config)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(c *Config) {
		c.Prefix = prefix
	}
}

// WithJobName sets the job name.
func WithJobName(name string) Option {
	return func(c *Config) {
		c.JobName = name
	}
}

// WithClock sets the clock used for job timestamps and delayed scores.
func WithClock(clock convdispatch.Clock) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}

// WithGenerator sets the job id generator.
func WithGenerator(gen IDFunc) Option {
	return func(c *Config) {
		c.Generator = gen
	}
}

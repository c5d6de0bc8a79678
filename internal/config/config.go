// Package config loads the dispatcher process settings from .env and the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/velmie/convdispatch"
	"github.com/velmie/convdispatch/otelmetrics"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// Log formats.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// Config is the full process configuration.
type Config struct {
	PollInterval    time.Duration
	BatchSize       int
	EventTimeout    time.Duration
	PendingInterval time.Duration
	ShutdownTimeout time.Duration
	HealthTimeout   time.Duration

	Router  convdispatch.RouterConfig
	Store   StoreConfig
	Redis   RedisConfig
	Log     LogConfig
	Metrics MetricsConfig
}

// StoreConfig selects and configures the event store.
type StoreConfig struct {
	Driver      string
	DatabaseURL string
	MySQLDSN    string
	MaxAttempts int
	RetryAfter  time.Duration
	ClaimTTL    time.Duration
}

// RedisConfig configures the queue backend.
type RedisConfig struct {
	URL    string
	Prefix string
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string
	Format string
}

// MetricsConfig selects how dispatcher metrics are exported.
type MetricsConfig struct {
	Exporter string
	Interval time.Duration
}

// Load reads .env files (missing files are ignored) and then the process environment.
// Variables already set in the environment win over .env.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}

	return FromEnv(os.LookupEnv)
}

// FromEnv builds and validates a Config from lookup.
func FromEnv(lookup LookupFunc) (Config, error) {
	e := &env{lookup: lookup}
	light := convdispatch.DefaultLightPolicy()
	heavy := convdispatch.DefaultHeavyPolicy()
	router := convdispatch.DefaultRouterConfig()

	cfg := Config{
		PollInterval:    e.duration(500*time.Millisecond, "POLL_INTERVAL", "PROCESSOR_INTERVAL"),
		BatchSize:       e.int(10, "BATCH_SIZE"),
		EventTimeout:    e.duration(0, "EVENT_TIMEOUT", "CYCLE_TIMEOUT"),
		PendingInterval: e.duration(0, "PENDING_INTERVAL"),
		ShutdownTimeout: e.duration(10*time.Second, "SHUTDOWN_TIMEOUT"),
		HealthTimeout:   e.duration(10*time.Second, "HEALTH_TIMEOUT"),
		Router: convdispatch.RouterConfig{
			Threshold: e.bytes(router.Threshold, "SIZE_THRESHOLD"),
			Light: convdispatch.LanePolicy{
				DefaultPriority: e.int(light.DefaultPriority, "LIGHT_PRIORITY"),
				Attempts:        e.int(light.Attempts, "LIGHT_ATTEMPTS"),
				BackoffDelay:    e.duration(light.BackoffDelay, "LIGHT_BACKOFF"),
				KeepCompleted:   e.int(light.KeepCompleted, "LIGHT_KEEP_COMPLETED"),
				KeepFailed:      e.int(light.KeepFailed, "LIGHT_KEEP_FAILED"),
			},
			Heavy: convdispatch.LanePolicy{
				DefaultPriority: e.int(heavy.DefaultPriority, "HEAVY_PRIORITY"),
				Attempts:        e.int(heavy.Attempts, "HEAVY_ATTEMPTS"),
				BackoffDelay:    e.duration(heavy.BackoffDelay, "HEAVY_BACKOFF"),
				KeepCompleted:   e.int(heavy.KeepCompleted, "HEAVY_KEEP_COMPLETED"),
				KeepFailed:      e.int(heavy.KeepFailed, "HEAVY_KEEP_FAILED"),
			},
			DelayTiers: e.tiers(router.DelayTiers, "HEAVY_DELAY_TIERS"),
			BaseDelay:  e.duration(router.BaseDelay, "HEAVY_BASE_DELAY"),
		},
		Store: StoreConfig{
			Driver:      strings.ToLower(e.string(DriverPostgres, "STORE_DRIVER")),
			DatabaseURL: e.string("", "DATABASE_URL"),
			MySQLDSN:    e.string("", "MYSQL_DSN"),
			MaxAttempts: e.int(5, "STORE_MAX_ATTEMPTS"),
			RetryAfter:  e.duration(30*time.Second, "STORE_RETRY_AFTER"),
			ClaimTTL:    e.duration(time.Minute, "STORE_CLAIM_TTL"),
		},
		Redis: RedisConfig{
			URL:    e.string("redis://localhost:6379", "REDIS_URL"),
			Prefix: e.string("bull", "QUEUE_PREFIX"),
		},
		Log: LogConfig{
			Level:  strings.ToLower(e.string("info", "LOG_LEVEL")),
			Format: strings.ToLower(e.string(FormatJSON, "LOG_FORMAT")),
		},
		Metrics: MetricsConfig{
			Exporter: strings.ToLower(e.string(otelmetrics.ExporterStdout, "METRICS_EXPORTER")),
			Interval: e.duration(time.Minute, "METRICS_INTERVAL"),
		},
	}
	if cfg.Store.DatabaseURL == "" {
		cfg.Store.DatabaseURL = postgresURL(e)
	}

	if len(e.errs) > 0 {
		return Config{}, errors.Join(e.errs...)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func postgresURL(e *env) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(e.string("postgres", "POSTGRES_USER"), e.string("postgres123", "POSTGRES_PASSWORD")),
		Host:     e.string("postgres", "POSTGRES_HOST") + ":" + e.string("5432", "POSTGRES_PORT"),
		Path:     "/" + e.string("converter", "POSTGRES_DB"),
		RawQuery: "sslmode=" + e.string("disable", "POSTGRES_SSLMODE"),
	}

	return u.String()
}

// Validate reports every setting the process cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("poll interval must be positive"))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, errors.New("batch size must be positive"))
	}
	if c.EventTimeout < 0 || c.PendingInterval < 0 || c.ShutdownTimeout < 0 || c.HealthTimeout < 0 {
		errs = append(errs, errors.New("timeouts and intervals must be non-negative"))
	}
	if err := c.Router.Validate(); err != nil {
		errs = append(errs, err)
	}
	switch c.Store.Driver {
	case DriverPostgres:
		if c.Store.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	case DriverMySQL:
		if c.Store.MySQLDSN == "" {
			errs = append(errs, errors.New("MYSQL_DSN is required for the mysql store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}
	if c.Store.MaxAttempts <= 0 {
		errs = append(errs, errors.New("store max attempts must be positive"))
	}
	if c.Store.RetryAfter < 0 {
		errs = append(errs, errors.New("store retry delay must be non-negative"))
	}
	if c.Redis.URL == "" {
		errs = append(errs, errors.New("REDIS_URL is required"))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != FormatJSON && c.Log.Format != FormatText {
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}
	if c.Metrics.Exporter != otelmetrics.ExporterStdout && c.Metrics.Exporter != otelmetrics.ExporterNone {
		errs = append(errs, fmt.Errorf("unknown metrics exporter %q", c.Metrics.Exporter))
	}
	if c.Metrics.Interval <= 0 {
		errs = append(errs, errors.New("metrics interval must be positive"))
	}

	return errors.Join(errs...)
}

// SlogLevel maps Level to a slog.Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", l.Level)
	}

	return level, nil
}

// DispatcherOptions returns the loop settings as dispatcher options.
func (c Config) DispatcherOptions() []convdispatch.DispatcherOption {
	return []convdispatch.DispatcherOption{
		convdispatch.WithBatchSize(c.BatchSize),
		convdispatch.WithPollInterval(c.PollInterval),
		convdispatch.WithEventTimeout(c.EventTimeout),
		convdispatch.WithPendingInterval(c.PendingInterval),
	}
}

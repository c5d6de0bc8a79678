package main

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/velmie/convdispatch/internal/config"
)

type options struct {
	envFile       string
	pollInterval  time.Duration
	batchSize     int
	sizeThreshold string
	store         string
	databaseURL   string
	mysqlDSN      string
	redisURL      string
	logLevel      string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:          "conversion-dispatcher",
		Short:        "Relay conversion requests from the outbox to the job queue",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDispatcher(cmd, opts)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.envFile, "env-file", ".env", "Env file to load before reading the environment")
	flags.DurationVar(&opts.pollInterval, "poll-interval", 0, "Pause between poll cycles (overrides POLL_INTERVAL)")
	flags.IntVar(&opts.batchSize, "batch-size", 0, "Events fetched per cycle (overrides BATCH_SIZE)")
	flags.StringVar(&opts.sizeThreshold, "size-threshold", "", "Largest light-lane job, e.g. 500MiB (overrides SIZE_THRESHOLD)")
	flags.StringVar(&opts.store, "store", "", "Event store driver: postgres or mysql (overrides STORE_DRIVER)")
	flags.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL URL (overrides DATABASE_URL)")
	flags.StringVar(&opts.mysqlDSN, "mysql-dsn", "", "MySQL DSN (overrides MYSQL_DSN)")
	flags.StringVar(&opts.redisURL, "redis-url", "", "Redis URL (overrides REDIS_URL)")
	flags.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error (overrides LOG_LEVEL)")

	root.AddCommand(
		newRunCmd(opts),
		newCheckCmd(opts),
		newStatusCmd(opts),
		newMigrateCmd(opts),
		newConfigCmd(opts),
	)

	return root
}

// load reads the configuration and applies the flags the user set explicitly.
func (o *options) load(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(o.envFile)
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("poll-interval") {
		cfg.PollInterval = o.pollInterval
	}
	if flags.Changed("batch-size") {
		cfg.BatchSize = o.batchSize
	}
	if flags.Changed("size-threshold") {
		threshold, err := config.ParseSize(o.sizeThreshold)
		if err != nil {
			return config.Config{}, fmt.Errorf("--size-threshold: %w", err)
		}
		cfg.Router.Threshold = threshold
	}
	if flags.Changed("store") {
		cfg.Store.Driver = o.store
	}
	if flags.Changed("database-url") {
		cfg.Store.DatabaseURL = o.databaseURL
	}
	if flags.Changed("mysql-dsn") {
		cfg.Store.MySQLDSN = o.mysqlDSN
	}
	if flags.Changed("redis-url") {
		cfg.Redis.URL = o.redisURL
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = o.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	level, _ := cfg.SlogLevel()
	handlerOpts := &slog.HandlerOptions{Level: level}
	if cfg.Format == config.FormatText {
		return slog.New(slog.NewTextHandler(w, handlerOpts))
	}

	return slog.New(slog.NewJSONHandler(w, handlerOpts))
}

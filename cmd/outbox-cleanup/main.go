// Command outbox-cleanup removes dispatched rows from the conversion outbox.
//
// It runs the same retention cleanup the stores expose for use in cron/CronJobs
// when the dispatcher itself should not run DELETE statements.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/velmie/convdispatch"
	"github.com/velmie/convdispatch/mysql"
	"github.com/velmie/convdispatch/postgres"
)

type options struct {
	driver        string
	dsn           string
	table         string
	retention     time.Duration
	checkEvery    time.Duration
	limit         int
	maxAttempts   int
	lockName      string
	includeFailed bool
	once          bool
	verbose       bool
}

// cleaner deletes old rows once or on a schedule.
type cleaner interface {
	Once(ctx context.Context) (processed, failed int64, err error)
	Run(ctx context.Context) error
	Close() error
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:          "outbox-cleanup",
		Short:        "Delete processed (and optionally exhausted failed) outbox events",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.dsn == "" {
				return errors.New("--dsn is required")
			}
			if opts.retention <= 0 {
				return errors.New("--retention must be positive")
			}
			if !opts.once && opts.checkEvery <= 0 {
				return errors.New("--check-every must be positive")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, opts, newLogger(cmd, opts.verbose))
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.driver, "driver", "mysql", "Store driver: mysql or postgres")
	flags.StringVar(&opts.dsn, "dsn", "", "MySQL DSN or PostgreSQL URL")
	flags.StringVar(&opts.table, "table", "outbox_events", "Event table name (mysql only)")
	flags.DurationVar(&opts.retention, "retention", 0, "Delete rows older than this duration")
	flags.DurationVar(&opts.checkEvery, "check-every", time.Hour, "How often to run cleanup")
	flags.IntVar(&opts.limit, "limit", 0, "Max rows deleted per run (0 uses default)")
	flags.IntVar(&opts.maxAttempts, "max-attempts", 5, "Failed events below this attempt count are kept for retry")
	flags.StringVar(&opts.lockName, "lock-name", "", "Advisory lock name (mysql only, optional)")
	flags.BoolVar(&opts.includeFailed, "include-failed", false, "Delete exhausted failed events as well")
	flags.BoolVar(&opts.once, "once", false, "Run once and exit")
	flags.BoolVar(&opts.verbose, "verbose", false, "Enable debug logging")

	return cmd
}

func newLogger(cmd *cobra.Command, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(cmd.OutOrStdout(), &slog.HandlerOptions{Level: level}))
}

func run(ctx context.Context, opts *options, logger *slog.Logger) error {
	c, err := openCleaner(ctx, opts, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	if opts.once {
		processed, failed, err := c.Once(ctx)
		if err != nil {
			return fmt.Errorf("cleanup: %w", err)
		}
		logger.Info("cleanup done", "processed", processed, "failed", failed)

		return nil
	}

	if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run cleanup: %w", err)
	}

	return nil
}

func openCleaner(ctx context.Context, opts *options, logger *slog.Logger) (cleaner, error) {
	switch opts.driver {
	case "mysql":
		store, err := mysql.Open(opts.dsn)
		if err != nil {
			return nil, fmt.Errorf("open db: %w", err)
		}
		maintainer, err := mysql.NewCleanupMaintainer(store.DB(), mysql.CleanupMaintainerConfig{
			EventTable:    opts.table,
			Retention:     opts.retention,
			CheckEvery:    opts.checkEvery,
			Limit:         opts.limit,
			IncludeFailed: opts.includeFailed,
			MaxAttempts:   opts.maxAttempts,
			LockName:      opts.lockName,
			Clock:         convdispatch.SystemClock{},
			Logger:        logger,
		})
		if err != nil {
			_ = store.Close()

			return nil, fmt.Errorf("init maintainer: %w", err)
		}

		return mysqlCleaner{store: store, maintainer: maintainer}, nil
	case "postgres":
		store, err := postgres.New(ctx, opts.dsn,
			postgres.WithMaxAttempts(opts.maxAttempts),
			postgres.WithLogger(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("open db: %w", err)
		}

		return &postgresCleaner{store: store, opts: opts, logger: logger}, nil
	default:
		return nil, fmt.Errorf("unknown driver %q", opts.driver)
	}
}

type mysqlCleaner struct {
	store      *mysql.Store
	maintainer *mysql.CleanupMaintainer
}

func (c mysqlCleaner) Once(ctx context.Context) (int64, int64, error) {
	res, err := c.maintainer.Sweep(ctx)
	return res.Processed, res.Failed, err
}

func (c mysqlCleaner) Run(ctx context.Context) error {
	return c.maintainer.Run(ctx)
}

func (c mysqlCleaner) Close() error {
	return c.store.Close()
}

type postgresCleaner struct {
	store  *postgres.Store
	opts   *options
	logger *slog.Logger
}

func (c *postgresCleaner) Once(ctx context.Context) (int64, int64, error) {
	res, err := c.store.Cleanup(ctx, postgres.CleanupOptions{
		Before:        time.Now().UTC().Add(-c.opts.retention),
		Limit:         c.opts.limit,
		IncludeFailed: c.opts.includeFailed,
	})
	return res.Processed, res.Failed, err
}

// Run cleans immediately and then every check interval until ctx is canceled.
// Failed passes are logged and retried on the next tick.
func (c *postgresCleaner) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.opts.checkEvery)
	defer ticker.Stop()

	for {
		processed, failed, err := c.Once(ctx)
		switch {
		case err != nil:
			c.logger.Warn("event cleanup failed", "err", err)
		case processed > 0 || failed > 0:
			c.logger.Info("event cleanup completed", "processed", processed, "failed", failed)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *postgresCleaner) Close() error {
	return c.store.Close()
}

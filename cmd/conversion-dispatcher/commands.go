package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/velmie/convdispatch"
	"github.com/velmie/convdispatch/internal/config"
	"github.com/velmie/convdispatch/otelmetrics"
	"github.com/velmie/convdispatch/redisqueue"
)

func newRunCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Poll the outbox and dispatch jobs until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDispatcher(cmd, opts)
		},
	}
}

func runDispatcher(cmd *cobra.Command, opts *options) error {
	cfg, err := opts.load(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd.ErrOrStderr(), cfg.Log)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := wire(ctx, cfg, logger, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	logger.Info("starting conversion dispatcher",
		"store", cfg.Store.Driver,
		"poll_interval", cfg.PollInterval,
		"batch_size", cfg.BatchSize,
		"size_threshold", humanize.IBytes(uint64(cfg.Router.Threshold)),
	)

	return a.controller.Run(ctx)
}

func newCheckCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify the event store and the queue are reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cmd.ErrOrStderr(), cfg.Log)
			cfg.Metrics.Exporter = otelmetrics.ExporterNone

			a, err := wire(cmd.Context(), cfg, logger, nil)
			if err != nil {
				return err
			}
			defer a.controller.Close()

			if err := a.controller.CheckHealth(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")

			return nil
		},
	}
}

type laneStatus struct {
	redisqueue.Counts
	Threshold string `json:"threshold,omitempty"`
}

type statusReport struct {
	PendingEvents int                   `json:"pending_events"`
	Lanes         map[string]laneStatus `json:"lanes"`
}

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print pending events and per-lane queue counts as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cmd.ErrOrStderr(), cfg.Log)
			cfg.Metrics.Exporter = otelmetrics.ExporterNone

			a, err := wire(cmd.Context(), cfg, logger, nil)
			if err != nil {
				return err
			}
			defer a.controller.Close()

			report, err := collectStatus(cmd.Context(), a.store, a.queue, cfg.Router.Threshold)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")

			return enc.Encode(report)
		},
	}
}

type laneCounter interface {
	Counts(ctx context.Context, lane convdispatch.Lane) (redisqueue.Counts, error)
}

func collectStatus(ctx context.Context, store convdispatch.PendingCounter, queue laneCounter, threshold int64) (statusReport, error) {
	pending, err := store.PendingCount(ctx)
	if err != nil {
		return statusReport{}, err
	}

	report := statusReport{PendingEvents: pending, Lanes: make(map[string]laneStatus, 2)}
	for _, lane := range []convdispatch.Lane{convdispatch.LaneLight, convdispatch.LaneHeavy} {
		counts, err := queue.Counts(ctx, lane)
		if err != nil {
			return statusReport{}, err
		}
		status := laneStatus{Counts: counts}
		if lane == convdispatch.LaneLight {
			status.Threshold = "<= " + convdispatch.FormatSize(threshold)
		} else {
			status.Threshold = "> " + convdispatch.FormatSize(threshold)
		}
		report.Lanes[lane.String()] = status
	}

	return report, nil
}

func newMigrateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the event store schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cmd.ErrOrStderr(), cfg.Log)

			store, err := openStore(cmd.Context(), cfg.Store, logger)
			if err != nil {
				return fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
			}
			defer store.Close()

			if err := store.Migrate(cmd.Context()); err != nil {
				return err
			}
			logger.Info("schema is up to date", "store", cfg.Store.Driver)

			return nil
		},
	}
}

func newConfigCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")

			return enc.Encode(describe(cfg))
		},
	}
}

func describe(cfg config.Config) map[string]any {
	tiers := make([]string, 0, len(cfg.Router.DelayTiers))
	for _, tier := range cfg.Router.DelayTiers {
		tiers = append(tiers, fmt.Sprintf("%s=%s", humanize.IBytes(uint64(tier.Above)), tier.Delay))
	}

	return map[string]any{
		"poll_interval":    cfg.PollInterval.String(),
		"batch_size":       cfg.BatchSize,
		"size_threshold":   humanize.IBytes(uint64(cfg.Router.Threshold)),
		"delay_tiers":      tiers,
		"base_delay":       cfg.Router.BaseDelay.String(),
		"store":            cfg.Store.Driver,
		"database_url":     redact(cfg.Store.DatabaseURL),
		"redis_url":        redact(cfg.Redis.URL),
		"queue_prefix":     cfg.Redis.Prefix,
		"log_level":        cfg.Log.Level,
		"metrics_exporter": cfg.Metrics.Exporter,
		"metrics_interval": cfg.Metrics.Interval.String(),
	}
}

func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid>"
	}

	return u.Redacted()
}

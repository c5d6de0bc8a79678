package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/velmie/convdispatch"
)

const (
	defaultCleanupLimit = 10000
	defaultCleanupEvery = time.Hour
	cleanupLockPrefix   = "convdispatch:cleanup:"
)

// CleanupOptions selects the dispatched events Cleanup deletes.
type CleanupOptions struct {
	// Before is the cutoff for processed_at and failed_at (required).
	Before time.Time
	// Limit caps the rows deleted by one call across both statuses. Zero means 10000.
	Limit int
	// IncludeFailed also deletes failed events with attempt_count >= MaxAttempts.
	IncludeFailed bool
	// LockName overrides the GET_LOCK name, convdispatch:cleanup:<event table>.
	LockName string
}

// CleanupResult counts deleted rows per status.
// Skipped is set when another session held the cleanup lock.
type CleanupResult struct {
	Processed int64
	Failed    int64
	Skipped   bool
}

// Cleanup deletes old processed events and, with IncludeFailed, failed events
// that will not be polled again. Retryable failures are never deleted.
// The pass runs on one connection holding a named lock, so only one cleaner
// deletes from a table at a time.
func (s *Store) Cleanup(ctx context.Context, opts CleanupOptions) (CleanupResult, error) {
	if opts.Before.IsZero() {
		return CleanupResult{}, ErrCleanupBeforeRequired
	}
	if opts.Limit < 0 {
		return CleanupResult{}, ErrCleanupLimitInvalid
	}
	limit := opts.Limit
	if limit == 0 {
		limit = defaultCleanupLimit
	}
	lockName := opts.LockName
	if lockName == "" {
		lockName = s.cleanupLockName()
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("convdispatch mysql: cleanup connection: %w", err)
	}
	defer conn.Close()

	var locked sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, 0)", lockName).Scan(&locked); err != nil {
		return CleanupResult{}, fmt.Errorf("convdispatch mysql: acquire cleanup lock: %w", err)
	}
	if !locked.Valid || locked.Int64 != 1 {
		return CleanupResult{Skipped: true}, nil
	}
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), "DO RELEASE_LOCK(?)", lockName)
	}()

	var res CleanupResult
	if res.Processed, err = deleteRows(ctx, conn, s.queries.deleteProcessed, opts.Before, limit); err != nil {
		return CleanupResult{}, err
	}
	if remaining := limit - int(res.Processed); opts.IncludeFailed && remaining > 0 {
		if res.Failed, err = deleteRows(ctx, conn, s.queries.deleteFailed, s.cfg.MaxAttempts, opts.Before, remaining); err != nil {
			return CleanupResult{}, err
		}
	}

	return res, nil
}

func (s *Store) cleanupLockName() string {
	return cleanupLockPrefix + s.events
}

func deleteRows(ctx context.Context, conn *sql.Conn, query string, args ...any) (int64, error) {
	res, err := conn.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("convdispatch mysql: cleanup delete: %w", err)
	}

	return res.RowsAffected()
}

// CleanupMaintainerConfig schedules Store.Cleanup with a rolling retention cutoff.
type CleanupMaintainerConfig struct {
	// EventTable is the event table, optionally schema-qualified.
	EventTable string
	// Retention keeps events newer than now-Retention (required).
	Retention  time.Duration
	CheckEvery time.Duration
	Limit      int
	// IncludeFailed deletes failed events that reached MaxAttempts.
	IncludeFailed bool
	// MaxAttempts must match the dispatcher's store so retryable events survive.
	MaxAttempts int
	LockName    string
	Clock       convdispatch.Clock
	Logger      convdispatch.Logger
}

// CleanupMaintainer sweeps the event table on an interval.
type CleanupMaintainer struct {
	store *Store
	cfg   CleanupMaintainerConfig
}

// NewCleanupMaintainer validates cfg and fills in defaults.
func NewCleanupMaintainer(db *sql.DB, cfg CleanupMaintainerConfig) (*CleanupMaintainer, error) {
	if db == nil {
		return nil, ErrDBRequired
	}
	if cfg.Retention <= 0 {
		return nil, ErrCleanupRetentionInvalid
	}
	if cfg.Limit < 0 {
		return nil, ErrCleanupLimitInvalid
	}
	if cfg.Limit == 0 {
		cfg.Limit = defaultCleanupLimit
	}
	if cfg.CheckEvery <= 0 {
		cfg.CheckEvery = defaultCleanupEvery
	}
	if cfg.Clock == nil {
		cfg.Clock = convdispatch.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = convdispatch.NopLogger{}
	}

	store, err := NewStore(db, WithEventTable(cfg.EventTable), WithMaxAttempts(cfg.MaxAttempts))
	if err != nil {
		return nil, err
	}
	cfg.EventTable = store.events
	cfg.MaxAttempts = store.cfg.MaxAttempts
	if cfg.LockName == "" {
		cfg.LockName = store.cleanupLockName()
	}

	return &CleanupMaintainer{store: store, cfg: cfg}, nil
}

// Sweep runs one cleanup pass with the cutoff at now minus the retention.
func (m *CleanupMaintainer) Sweep(ctx context.Context) (CleanupResult, error) {
	return m.store.Cleanup(ctx, CleanupOptions{
		Before:        m.cfg.Clock.Now().Add(-m.cfg.Retention),
		Limit:         m.cfg.Limit,
		IncludeFailed: m.cfg.IncludeFailed,
		LockName:      m.cfg.LockName,
	})
}

// Run sweeps immediately and then every CheckEvery until ctx is canceled.
// A failed sweep is logged and retried on the next tick.
func (m *CleanupMaintainer) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.CheckEvery)
	defer ticker.Stop()

	for {
		res, err := m.Sweep(ctx)
		switch {
		case err != nil:
			m.cfg.Logger.Warn("event cleanup failed", "table", m.cfg.EventTable, "err", err)
		case res.Skipped:
			m.cfg.Logger.Debug("event cleanup lock held by another session", "lock", m.cfg.LockName)
		case res.Processed > 0 || res.Failed > 0:
			m.cfg.Logger.Info("event cleanup completed", "processed", res.Processed, "failed", res.Failed)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/velmie/convdispatch"
)

const (
	defaultCleanupLimit = 10000
	cleanupLockName     = "convdispatch:cleanup:outbox_events"
)

// CleanupOptions defines which dispatched events to delete.
type CleanupOptions struct {
	// Before removes rows older than this timestamp (required).
	Before time.Time
	// Limit caps the number of rows deleted per call (0 uses the default).
	Limit int
	// IncludeFailed also removes failed events that exhausted their attempts.
	IncludeFailed bool
}

// CleanupResult reports how many rows were removed.
// Skipped is set when another session held the cleanup lock.
type CleanupResult struct {
	Processed int64
	Failed    int64
	Skipped   bool
}

// Cleanup deletes processed events (and optionally exhausted failed events) older than opts.Before.
// A transaction-scoped advisory lock keeps concurrent cleanups from overlapping.
func (s *Store) Cleanup(ctx context.Context, opts CleanupOptions) (CleanupResult, error) {
	if opts.Before.IsZero() {
		return CleanupResult{}, ErrCleanupBeforeRequired
	}
	limit := opts.Limit
	if limit == 0 {
		limit = defaultCleanupLimit
	}
	if limit < 0 {
		return CleanupResult{}, ErrCleanupLimitInvalid
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("convdispatch postgres: cleanup begin: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var locked bool
	if err := tx.QueryRow(ctx, `SELECT pg_try_advisory_xact_lock(hashtext($1))`, cleanupLockName).Scan(&locked); err != nil {
		return CleanupResult{}, fmt.Errorf("convdispatch postgres: cleanup lock: %w", err)
	}
	if !locked {
		s.cfg.Logger.Debug("event cleanup lock held by another session")

		return CleanupResult{Skipped: true}, nil
	}

	var res CleanupResult
	res.Processed, err = cleanupByStatus(ctx, tx, convdispatch.EventProcessed, "processed_at", 0, opts.Before, limit)
	if err != nil {
		return CleanupResult{}, err
	}
	if remaining := limit - int(res.Processed); opts.IncludeFailed && remaining > 0 {
		res.Failed, err = cleanupByStatus(ctx, tx, convdispatch.EventFailed, "failed_at", s.cfg.MaxAttempts, opts.Before, remaining)
		if err != nil {
			return CleanupResult{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return CleanupResult{}, fmt.Errorf("convdispatch postgres: cleanup commit: %w", err)
	}

	return res, nil
}

func cleanupByStatus(
	ctx context.Context,
	tx pgx.Tx,
	status convdispatch.EventStatus,
	tsColumn string,
	minAttempts int,
	before time.Time,
	limit int,
) (int64, error) {
	// #nosec G201 -- column name is internal.
	query := fmt.Sprintf(`DELETE FROM outbox_events WHERE id IN (
    SELECT id FROM outbox_events
     WHERE status = $1 AND attempt_count >= $2 AND %s IS NOT NULL AND %s <= $3
     ORDER BY created_at
     LIMIT $4
)`, tsColumn, tsColumn)

	tag, err := tx.Exec(ctx, query, string(status), minAttempts, before, limit)
	if err != nil {
		return 0, fmt.Errorf("convdispatch postgres: cleanup delete: %w", classify(err))
	}

	return tag.RowsAffected(), nil
}

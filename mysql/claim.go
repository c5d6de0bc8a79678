package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/velmie/convdispatch"
)

// claim selects eligible rows with SKIP LOCKED and stamps claimed_until before committing.
func (s *Store) claim(ctx context.Context, limit int) ([]convdispatch.Event, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("convdispatch mysql: begin tx failed: %w", err)
	}

	now := s.cfg.Clock.Now()
	events, err := s.selectPending(ctx, tx, now, limit)
	if err != nil {
		return nil, errors.Join(err, tx.Rollback())
	}
	if len(events) == 0 {
		_ = tx.Rollback()

		return nil, nil
	}

	args := make([]any, 0, len(events)+1)
	args = append(args, now.Add(s.cfg.ClaimTTL))
	for _, event := range events {
		args = append(args, event.ID)
	}
	if _, err := tx.ExecContext(ctx, buildClaimQuery(s.events, len(events)), args...); err != nil {
		return nil, errors.Join(fmt.Errorf("convdispatch mysql: claim update failed: %w", err), tx.Rollback())
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("convdispatch mysql: claim commit failed: %w", err)
	}

	return events, nil
}

func (s *Store) selectPending(ctx context.Context, tx *sql.Tx, now time.Time, limit int) ([]convdispatch.Event, error) {
	rows, err := tx.QueryContext(ctx, s.queries.selectPending,
		convdispatch.EventPending,
		convdispatch.EventFailed,
		s.cfg.MaxAttempts,
		now.Add(-s.cfg.RetryAfter),
		now,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("convdispatch mysql: select failed: %w", err)
	}
	defer rows.Close()

	events := make([]convdispatch.Event, 0, limit)
	for rows.Next() {
		var (
			event       convdispatch.Event
			data        []byte
			status      string
			processedAt sql.NullTime
			errMessage  sql.NullString
		)
		if err := rows.Scan(
			&event.ID,
			&event.AggregateID,
			&event.EventType,
			&data,
			&status,
			&event.CreatedAt,
			&processedAt,
			&errMessage,
			&event.Attempts,
		); err != nil {
			return nil, fmt.Errorf("convdispatch mysql: scan failed: %w", err)
		}

		event.Data = data
		event.Status = convdispatch.EventStatus(status)
		event.ErrorMessage = errMessage.String
		if processedAt.Valid {
			ts := processedAt.Time
			event.ProcessedAt = &ts
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("convdispatch mysql: rows failed: %w", err)
	}

	return events, nil
}

package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	mysqldriver "github.com/go-sql-driver/mysql"

	"github.com/velmie/convdispatch"
)

const maxErrorLen = 1024

// Executor allows creating tasks within an existing transaction.
type Executor interface {
	// ExecContext executes a statement with the provided context.
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Store implements convdispatch.EventStore on MySQL.
type Store struct {
	db      *sql.DB
	cfg     Config
	queries queries
	tasks   string
	events  string
}

var _ convdispatch.EventStore = (*Store)(nil)
var _ convdispatch.PendingCounter = (*Store)(nil)

// Open connects using a go-sql-driver DSN and returns a store that owns the pool.
// parseTime is forced on and times are read as UTC.
func Open(dsn string, opts ...Option) (*Store, error) {
	dcfg, err := mysqldriver.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("convdispatch mysql: parse dsn: %w", err)
	}
	dcfg.ParseTime = true
	dcfg.Loc = time.UTC

	connector, err := mysqldriver.NewConnector(dcfg)
	if err != nil {
		return nil, fmt.Errorf("convdispatch mysql: connector: %w", err)
	}
	db := sql.OpenDB(connector)

	store, err := NewStore(db, opts...)
	if err != nil {
		_ = db.Close()

		return nil, err
	}

	return store, nil
}

// NewStore constructs a MySQL store with validated configuration.
// Close closes db.
func NewStore(db *sql.DB, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, ErrDBRequired
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	tasks, err := sanitizeTableName(cfg.TaskTable)
	if err != nil {
		return nil, err
	}
	events, err := sanitizeTableName(cfg.EventTable)
	if err != nil {
		return nil, err
	}

	return &Store{
		db:      db,
		cfg:     cfg,
		queries: newQueries(tasks, events),
		tasks:   tasks,
		events:  events,
	}, nil
}

// MustNewStore constructs a MySQL store or panics on error.
func MustNewStore(db *sql.DB, opts ...Option) *Store {
	store, err := NewStore(db, opts...)
	if err != nil {
		panic(err)
	}

	return store
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate creates the task and event tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	stmts, err := Schema(s.tasks, s.events)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("convdispatch mysql: migrate: %w", err)
		}
	}

	return nil
}

// CreateTask inserts a pending task and its conversion.requested event.
// Use a transaction as exec so that both rows commit together.
func (s *Store) CreateTask(ctx context.Context, exec Executor, task convdispatch.Task) (convdispatch.Event, error) {
	if exec == nil {
		return convdispatch.Event{}, ErrExecutorRequired
	}
	if task.ID == "" {
		id, err := s.cfg.Generator()
		if err != nil {
			return convdispatch.Event{}, fmt.Errorf("convdispatch mysql: generate task id: %w", err)
		}
		task.ID = id.String()
	}
	eventID, err := s.cfg.Generator()
	if err != nil {
		return convdispatch.Event{}, fmt.Errorf("convdispatch mysql: generate event id: %w", err)
	}

	data, err := json.Marshal(task.EventData())
	if err != nil {
		return convdispatch.Event{}, fmt.Errorf("convdispatch mysql: encode event data: %w", err)
	}

	var priority any
	if task.Priority != nil {
		priority = *task.Priority
	}
	if _, err := exec.ExecContext(ctx, s.queries.insertTask,
		task.ID, task.Format, task.InputPath, task.MIMEType, task.FileSize, convdispatch.TaskPending, priority,
	); err != nil {
		return convdispatch.Event{}, fmt.Errorf("convdispatch mysql: insert task: %w", err)
	}
	if _, err := exec.ExecContext(ctx, s.queries.insertEvent,
		eventID.String(), task.ID, convdispatch.EventTypeConversionRequested, data, convdispatch.EventPending,
	); err != nil {
		return convdispatch.Event{}, fmt.Errorf("convdispatch mysql: insert event: %w", err)
	}

	return convdispatch.Event{
		ID:          eventID.String(),
		AggregateID: task.ID,
		EventType:   convdispatch.EventTypeConversionRequested,
		Data:        data,
		Status:      convdispatch.EventPending,
		CreatedAt:   s.cfg.Clock.Now(),
	}, nil
}

// PendingEvents claims up to limit pending events, oldest first.
func (s *Store) PendingEvents(ctx context.Context, limit int) ([]convdispatch.Event, error) {
	if limit <= 0 {
		return nil, convdispatch.ErrInvalidBatchSize
	}

	return s.claim(ctx, limit)
}

// MarkTaskQueued moves the task from pending to queued.
func (s *Store) MarkTaskQueued(ctx context.Context, taskID string) (bool, error) {
	return s.update(ctx, "mark task queued", s.queries.markQueued, s.cfg.Clock.Now(), taskID)
}

// MarkEventProcessed marks the event as processed and releases its claim.
func (s *Store) MarkEventProcessed(ctx context.Context, eventID string) (bool, error) {
	return s.update(ctx, "mark event processed", s.queries.markProcessed, s.cfg.Clock.Now(), eventID)
}

// MarkEventFailed records the failure, increments the attempt count and releases the claim.
// Messages longer than 1024 characters are truncated.
func (s *Store) MarkEventFailed(ctx context.Context, eventID, message string) (bool, error) {
	return s.update(ctx, "mark event failed", s.queries.markFailed, truncateMessage(message), s.cfg.Clock.Now(), eventID)
}

func (s *Store) update(ctx context.Context, op, query string, args ...any) (bool, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("convdispatch mysql: %s: %w", op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("convdispatch mysql: %s rows: %w", op, err)
	}

	return affected > 0, nil
}

// PendingCount returns the number of pending events.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, s.queries.countPending).Scan(&count); err != nil {
		return 0, fmt.Errorf("convdispatch mysql: pending count failed: %w", err)
	}

	return count, nil
}

// HealthCheck pings the database.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("convdispatch mysql: ping: %w", err)
	}

	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func truncateMessage(msg string) string {
	if utf8.RuneCountInString(msg) <= maxErrorLen {
		return msg
	}

	return string([]rune(msg)[:maxErrorLen])
}

//go:build integration

package mysql_test

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/velmie/convdispatch"
	"github.com/velmie/convdispatch/internal/testutil"
	"github.com/velmie/convdispatch/mysql"
)

func TestStorePendingEventsAndMarksIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	env := testutil.StartMySQLContainer(t, ctx)
	store := newMigratedStore(t, ctx, env.DB)

	events := createTasks(t, ctx, env.DB, store, 3)

	batch, err := store.PendingEvents(ctx, 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	require.Equal(t, events[0].ID, batch[0].ID)
	require.Equal(t, events[1].ID, batch[1].ID)
	require.Equal(t, convdispatch.EventTypeConversionRequested, batch[0].EventType)

	data, err := batch[0].Decode()
	require.NoError(t, err)
	require.Equal(t, events[0].AggregateID, data.TaskID)

	queued, err := store.MarkTaskQueued(ctx, batch[0].AggregateID)
	require.NoError(t, err)
	require.True(t, queued)
	queued, err = store.MarkTaskQueued(ctx, batch[0].AggregateID)
	require.NoError(t, err)
	require.False(t, queued)

	marked, err := store.MarkEventProcessed(ctx, batch[0].ID)
	require.NoError(t, err)
	require.True(t, marked)
	marked, err = store.MarkEventProcessed(ctx, batch[0].ID)
	require.NoError(t, err)
	require.False(t, marked)

	require.Equal(t, "queued", taskStatus(t, ctx, env.DB, batch[0].AggregateID))
	status, attempts, processedAt := eventDetails(t, ctx, env.DB, batch[0].ID)
	require.Equal(t, "processed", status)
	require.Zero(t, attempts)
	require.True(t, processedAt.Valid)
}

func TestStoreClaimHidesEventsFromConcurrentPollersIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	env := testutil.StartMySQLContainer(t, ctx)
	store := newMigratedStore(t, ctx, env.DB, mysql.WithClaimTTL(time.Hour))
	other := mysql.MustNewStore(env.DB, mysql.WithClaimTTL(time.Hour))

	createTasks(t, ctx, env.DB, store, 2)

	first, err := store.PendingEvents(ctx, 1)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := other.PendingEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, second, 1)
	require.NotEqual(t, first[0].ID, second[0].ID)

	none, err := store.PendingEvents(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestStoreExpiredClaimIsVisibleAgainIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	env := testutil.StartMySQLContainer(t, ctx)

	now := time.Now().UTC()
	clock := convdispatch.ClockFunc(func() time.Time { return now })
	store := newMigratedStore(t, ctx, env.DB, mysql.WithClock(clock), mysql.WithClaimTTL(time.Minute))

	createTasks(t, ctx, env.DB, store, 1)

	claimed, err := store.PendingEvents(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	now = now.Add(2 * time.Minute)
	again, err := store.PendingEvents(ctx, 1)
	require.NoError(t, err)
	require.Len(t, again, 1)
	require.Equal(t, claimed[0].ID, again[0].ID)
}

func TestStoreFailedEventRetryPolicyIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	env := testutil.StartMySQLContainer(t, ctx)

	now := time.Now().UTC()
	clock := convdispatch.ClockFunc(func() time.Time { return now })
	store := newMigratedStore(t, ctx, env.DB,
		mysql.WithClock(clock),
		mysql.WithMaxAttempts(2),
		mysql.WithRetryAfter(30*time.Second),
	)

	createTasks(t, ctx, env.DB, store, 1)

	batch, err := store.PendingEvents(ctx, 1)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	id := batch[0].ID

	marked, err := store.MarkEventFailed(ctx, id, strings.Repeat("x", 1100))
	require.NoError(t, err)
	require.True(t, marked)

	hidden, err := store.PendingEvents(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, hidden)

	now = now.Add(31 * time.Second)
	retry, err := store.PendingEvents(ctx, 1)
	require.NoError(t, err)
	require.Len(t, retry, 1)
	require.Equal(t, convdispatch.EventFailed, retry[0].Status)
	require.Equal(t, 1, retry[0].Attempts)
	require.Len(t, retry[0].ErrorMessage, 1024)

	_, err = store.MarkEventFailed(ctx, id, "Redis timeout")
	require.NoError(t, err)

	now = now.Add(time.Hour)
	exhausted, err := store.PendingEvents(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, exhausted)

	status, attempts, _ := eventDetails(t, ctx, env.DB, id)
	require.Equal(t, "failed", status)
	require.Equal(t, 2, attempts)
}

func TestStoreMarkUnknownIDsIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	env := testutil.StartMySQLContainer(t, ctx)
	store := newMigratedStore(t, ctx, env.DB)

	marked, err := store.MarkEventFailed(ctx, "missing", "boom")
	require.NoError(t, err)
	require.False(t, marked)

	queued, err := store.MarkTaskQueued(ctx, "missing")
	require.NoError(t, err)
	require.False(t, queued)
}

func TestStorePendingCountIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	env := testutil.StartMySQLContainer(t, ctx)
	store := newMigratedStore(t, ctx, env.DB)

	createTasks(t, ctx, env.DB, store, 2)

	count, err := store.PendingCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	batch, err := store.PendingEvents(ctx, 1)
	require.NoError(t, err)
	_, err = store.MarkEventProcessed(ctx, batch[0].ID)
	require.NoError(t, err)

	count, err = store.PendingCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestDispatcherWithMySQLStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	env := testutil.StartMySQLContainer(t, ctx)
	store := newMigratedStore(t, ctx, env.DB)

	events := createTasks(t, ctx, env.DB, store, 3)

	var enqueued []string
	enqueuer := convdispatch.EnqueuerFunc(func(_ context.Context, job convdispatch.Job) (convdispatch.Placement, error) {
		enqueued = append(enqueued, job.TaskID)
		return convdispatch.Placement{JobID: "job-" + job.TaskID}, nil
	})

	report, err := convdispatch.NewDispatcher(store, enqueuer).ProcessOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, report.Processed)
	require.Equal(t, []string{events[0].AggregateID, events[1].AggregateID, events[2].AggregateID}, enqueued)

	for _, event := range events {
		require.Equal(t, "queued", taskStatus(t, ctx, env.DB, event.AggregateID))
	}
}

func newMigratedStore(t *testing.T, ctx context.Context, db *sql.DB, opts ...mysql.Option) *mysql.Store {
	t.Helper()

	store, err := mysql.NewStore(db, opts...)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(ctx))

	return store
}

func createTasks(t *testing.T, ctx context.Context, db *sql.DB, store *mysql.Store, n int) []convdispatch.Event {
	t.Helper()

	events := make([]convdispatch.Event, 0, n)
	for i := 0; i < n; i++ {
		tx, err := db.BeginTx(ctx, nil)
		require.NoError(t, err)
		event, err := store.CreateTask(ctx, tx, convdispatch.Task{
			Format:    "pdf",
			InputPath: "/uploads/doc.docx",
			MIMEType:  "application/msword",
			FileSize:  int64(1000 * (i + 1)),
		})
		require.NoError(t, err)
		require.NoError(t, tx.Commit())
		events = append(events, event)
		// created_at has microsecond precision; keep the insertion order observable.
		time.Sleep(2 * time.Millisecond)
	}

	return events
}

func taskStatus(t *testing.T, ctx context.Context, db *sql.DB, id string) string {
	t.Helper()

	var status string
	require.NoError(t, db.QueryRowContext(ctx, "SELECT status FROM conversion_tasks WHERE id = ?", id).Scan(&status))

	return status
}

func eventDetails(t *testing.T, ctx context.Context, db *sql.DB, id string) (string, int, sql.NullTime) {
	t.Helper()

	var (
		status      string
		attempts    int
		processedAt sql.NullTime
	)
	err := db.QueryRowContext(ctx, "SELECT status, attempt_count, processed_at FROM outbox_events WHERE id = ?", id).
		Scan(&status, &attempts, &processedAt)
	require.NoError(t, err)

	return status, attempts, processedAt
}

//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/velmie/convdispatch"
	"github.com/velmie/convdispatch/internal/testutil"
	"github.com/velmie/convdispatch/postgres"
)

func TestStoreMigrateIsIdempotentIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	env := testutil.StartPostgresContainer(t, ctx)
	store := newStore(t, ctx, env.URL)

	_, err := store.PendingEvents(ctx, 1)
	require.ErrorIs(t, err, postgres.ErrSchemaMissing)

	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Migrate(ctx))

	var applied int
	require.NoError(t, store.Pool().QueryRow(ctx, "SELECT COUNT(*) FROM convdispatch_migrations").Scan(&applied))
	require.Equal(t, 2, applied)
}

func TestStorePendingEventsAndMarksIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	env := testutil.StartPostgresContainer(t, ctx)
	store := newMigratedStore(t, ctx, env.URL)

	events := createTasks(t, ctx, store, 3)

	batch, err := store.PendingEvents(ctx, 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	require.Equal(t, events[0].ID, batch[0].ID)
	require.Equal(t, events[1].ID, batch[1].ID)
	require.Equal(t, convdispatch.EventPending, batch[0].Status)

	data, err := batch[0].Decode()
	require.NoError(t, err)
	require.Equal(t, events[0].AggregateID, data.TaskID)
	require.Equal(t, int64(1000), *data.FileSize)
	require.Nil(t, data.Priority)

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

	require.Equal(t, "queued", taskStatus(t, ctx, store.Pool(), batch[0].AggregateID))

	count, err := store.PendingCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestStoreFailedEventRetryPolicyIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	env := testutil.StartPostgresContainer(t, ctx)
	store := newMigratedStore(t, ctx, env.URL, postgres.WithRetryAfter(0), postgres.WithMaxAttempts(2))
	event := createTasks(t, ctx, store, 1)[0]

	marked, err := store.MarkEventFailed(ctx, event.ID, "Redis timeout")
	require.NoError(t, err)
	require.True(t, marked)

	batch, err := store.PendingEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	require.Equal(t, convdispatch.EventFailed, batch[0].Status)
	require.Equal(t, "Redis timeout", batch[0].ErrorMessage)
	require.Equal(t, 1, batch[0].Attempts)

	_, err = store.MarkEventFailed(ctx, event.ID, "Redis timeout")
	require.NoError(t, err)

	batch, err = store.PendingEvents(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, batch)

	delayed := newStore(t, ctx, env.URL)
	second := createTasks(t, ctx, delayed, 1)[0]
	_, err = delayed.MarkEventFailed(ctx, second.ID, "boom")
	require.NoError(t, err)

	batch, err = delayed.PendingEvents(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, batch, "failed event must wait for the retry delay")
}

func TestStoreMarkUnknownIDsIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	env := testutil.StartPostgresContainer(t, ctx)
	store := newMigratedStore(t, ctx, env.URL)
	missing := uuid.NewString()

	queued, err := store.MarkTaskQueued(ctx, missing)
	require.NoError(t, err)
	require.False(t, queued)

	processed, err := store.MarkEventProcessed(ctx, missing)
	require.NoError(t, err)
	require.False(t, processed)

	failed, err := store.MarkEventFailed(ctx, missing, "boom")
	require.NoError(t, err)
	require.False(t, failed)
}

func TestStoreCreateTaskJoinsTransactionIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	env := testutil.StartPostgresContainer(t, ctx)
	store := newMigratedStore(t, ctx, env.URL)

	tx, err := store.Pool().Begin(ctx)
	require.NoError(t, err)
	priority := 7
	_, err = store.CreateTask(ctx, tx, convdispatch.Task{
		Format:    "pdf",
		InputPath: "/uploads/doc.docx",
		FileSize:  42,
		Priority:  &priority,
	})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))

	count, err := store.PendingCount(ctx)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestStoreCleanupIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	env := testutil.StartPostgresContainer(t, ctx)
	store := newMigratedStore(t, ctx, env.URL, postgres.WithMaxAttempts(1))
	events := createTasks(t, ctx, store, 3)

	_, err := store.MarkEventProcessed(ctx, events[0].ID)
	require.NoError(t, err)
	_, err = store.MarkEventFailed(ctx, events[1].ID, "boom")
	require.NoError(t, err)

	res, err := store.Cleanup(ctx, postgres.CleanupOptions{Before: time.Now().Add(time.Minute)})
	require.NoError(t, err)
	require.Equal(t, postgres.CleanupResult{Processed: 1}, res)

	res, err = store.Cleanup(ctx, postgres.CleanupOptions{Before: time.Now().Add(time.Minute), IncludeFailed: true})
	require.NoError(t, err)
	require.Equal(t, postgres.CleanupResult{Failed: 1}, res)

	count, err := store.PendingCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestDispatcherWithPostgresStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	env := testutil.StartPostgresContainer(t, ctx)
	store := newMigratedStore(t, ctx, env.URL)
	events := createTasks(t, ctx, store, 3)

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
		require.Equal(t, "queued", taskStatus(t, ctx, store.Pool(), event.AggregateID))
	}
}

func newStore(t *testing.T, ctx context.Context, url string, opts ...postgres.Option) *postgres.Store {
	t.Helper()

	store, err := postgres.New(ctx, url, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})

	return store
}

func newMigratedStore(t *testing.T, ctx context.Context, url string, opts ...postgres.Option) *postgres.Store {
	t.Helper()

	store := newStore(t, ctx, url, opts...)
	require.NoError(t, store.Migrate(ctx))

	return store
}

func createTasks(t *testing.T, ctx context.Context, store *postgres.Store, n int) []convdispatch.Event {
	t.Helper()

	events := make([]convdispatch.Event, 0, n)
	for i := 0; i < n; i++ {
		event, err := store.CreateTask(ctx, nil, convdispatch.Task{
			Format:    "pdf",
			InputPath: "/uploads/doc.docx",
			MIMEType:  "application/msword",
			FileSize:  int64(1000 * (i + 1)),
		})
		require.NoError(t, err)
		events = append(events, event)
		time.Sleep(2 * time.Millisecond)
	}

	return events
}

func taskStatus(t *testing.T, ctx context.Context, pool *pgxpool.Pool, id string) string {
	t.Helper()

	var status string
	require.NoError(t, pool.QueryRow(ctx, "SELECT status FROM conversion_tasks WHERE id = $1", id).Scan(&status))

	return status
}

//go:build integration

package main

import (
	"bytes"
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/velmie/convdispatch"
	"github.com/velmie/convdispatch/internal/testutil"
	"github.com/velmie/convdispatch/mysql"
	"github.com/velmie/convdispatch/postgres"
)

func TestCleanupCLIContainer(t *testing.T) {
	ctx := context.Background()
	env := testutil.StartMySQLContainer(t, ctx)

	store, err := mysql.NewStore(env.DB, mysql.WithMaxAttempts(1))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	ids := createEvents(t, ctx, env.DB, store, 3)
	oldTime := time.Now().Add(-48 * time.Hour).UTC()

	if _, err := env.DB.ExecContext(ctx,
		"UPDATE outbox_events SET status = 'processed', processed_at = ? WHERE id = ?", oldTime, ids[0]); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	if _, err := env.DB.ExecContext(ctx,
		"UPDATE outbox_events SET status = 'failed', attempt_count = 1, failed_at = ? WHERE id = ?", oldTime, ids[1]); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	bin := testutil.BuildBinary(t, ".")
	args := []string{
		"--driver", "mysql",
		"--dsn", env.DSN,
		"--retention", "24h",
		"--max-attempts", "1",
		"--include-failed",
		"--once",
	}
	run := testutil.RunCLI(t, ctx, env.Network, bin, args...)
	if run.ExitCode != 0 {
		t.Fatalf("cleanup exit code %d logs: %s", run.ExitCode, run.Logs)
	}

	for status, want := range map[convdispatch.EventStatus]int{
		convdispatch.EventPending:   1,
		convdispatch.EventProcessed: 0,
		convdispatch.EventFailed:    0,
	} {
		var got int
		if err := env.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM outbox_events WHERE status = ?", status).Scan(&got); err != nil {
			t.Fatalf("count %s: %v", status, err)
		}
		if got != want {
			t.Fatalf("%s count = %d, want %d", status, got, want)
		}
	}
}

func TestCleanupPostgresOnce(t *testing.T) {
	ctx := context.Background()
	env := testutil.StartPostgresContainer(t, ctx)

	store, err := postgres.New(ctx, env.URL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	var ids []string
	for i := 0; i < 2; i++ {
		event, err := store.CreateTask(ctx, nil, convdispatch.Task{Format: "pdf", InputPath: "/in", FileSize: 1})
		if err != nil {
			t.Fatalf("create task: %v", err)
		}
		ids = append(ids, event.ID)
	}
	if _, err := store.Pool().Exec(ctx,
		"UPDATE outbox_events SET status = 'processed', processed_at = NOW() - INTERVAL '2 days' WHERE id = $1", ids[0]); err != nil {
		t.Fatalf("mark processed: %v", err)
	}

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"--driver", "postgres", "--dsn", env.URL, "--retention", "24h", "--once"})
	if err := cmd.ExecuteContext(ctx); err != nil {
		t.Fatalf("cleanup: %v\n%s", err, out.String())
	}

	count, err := store.PendingCount(ctx)
	if err != nil {
		t.Fatalf("pending count: %v", err)
	}
	if count != 1 {
		t.Fatalf("pending count = %d, want 1", count)
	}
	var total int
	if err := store.Pool().QueryRow(ctx, "SELECT COUNT(*) FROM outbox_events").Scan(&total); err != nil {
		t.Fatalf("count: %v", err)
	}
	if total != 1 {
		t.Fatalf("remaining events = %d, want 1", total)
	}
}

func createEvents(t *testing.T, ctx context.Context, db *sql.DB, store *mysql.Store, count int) []string {
	t.Helper()

	ids := make([]string, 0, count)
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	for i := 0; i < count; i++ {
		event, err := store.CreateTask(ctx, tx, convdispatch.Task{
			Format:    "pdf",
			InputPath: "/uploads/doc.docx",
			FileSize:  int64(i + 1),
		})
		if err != nil {
			_ = tx.Rollback()
			t.Fatalf("create task: %v", err)
		}
		ids = append(ids, event.ID)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	return ids
}

//go:build integration

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/velmie/convdispatch"
	"github.com/velmie/convdispatch/internal/testutil"
	"github.com/velmie/convdispatch/postgres"
	"github.com/velmie/convdispatch/redisqueue"
)

func TestDispatcherCommandsIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	pg := testutil.StartPostgresContainer(t, ctx)
	rd := testutil.StartRedisContainer(t, ctx)
	args := []string{"--database-url", pg.URL, "--redis-url", rd.URL, "--poll-interval", "50ms"}

	_, err := execute(t, append([]string{"migrate"}, args...)...)
	require.NoError(t, err)

	store, err := postgres.New(ctx, pg.URL)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})
	for _, size := range []int64{1 << 20, 600 << 20} {
		_, err := store.CreateTask(ctx, nil, convdispatch.Task{Format: "pdf", InputPath: "/in", FileSize: size})
		require.NoError(t, err)
	}

	out, err := execute(t, append([]string{"status"}, args...)...)
	require.NoError(t, err)
	var before statusReport
	require.NoError(t, json.Unmarshal([]byte(out), &before))
	require.Equal(t, 2, before.PendingEvents)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	envFile := filepath.Join(t.TempDir(), "missing.env")
	done := make(chan error, 1)
	go func() {
		cmd := newRootCmd()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs(append(append([]string{"run"}, args...), "--env-file", envFile))
		done <- cmd.ExecuteContext(runCtx)
	}()

	queue, err := redisqueue.Open(rd.URL)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = queue.Close()
	})
	require.Eventually(t, func() bool {
		light, err := queue.Counts(ctx, convdispatch.LaneLight)
		if err != nil {
			return false
		}
		heavy, err := queue.Counts(ctx, convdispatch.LaneHeavy)
		if err != nil {
			return false
		}
		return light.Waiting == 1 && heavy.Delayed == 1
	}, 30*time.Second, 100*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("dispatcher did not stop")
	}

	count, err := store.PendingCount(ctx)
	require.NoError(t, err)
	require.Zero(t, count)
}

//go:build integration

// Package testutil starts the containers used by integration tests.
package testutil

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	cliImage       = "alpine:3.20"
	cliBinaryPath  = "/usr/local/bin/cli"
	cliExitTimeout = 2 * time.Minute
)

// CLIRun is the outcome of a command run to completion inside a container.
type CLIRun struct {
	ExitCode int
	Logs     string
}

// BuildBinary compiles the main package in dir as a static linux binary.
func BuildBinary(t *testing.T, dir string) string {
	t.Helper()

	abs, err := filepath.Abs(dir)
	if err != nil {
		t.Fatalf("resolve %s: %v", dir, err)
	}
	bin := filepath.Join(t.TempDir(), filepath.Base(abs))

	build := exec.Command("go", "build", "-trimpath", "-o", bin, ".")
	build.Dir = abs
	build.Env = append(os.Environ(), "CGO_ENABLED=0", "GOOS=linux", "GOARCH="+runtime.GOARCH)
	if out, err := build.CombinedOutput(); err != nil {
		t.Fatalf("build %s: %v\n%s", abs, err, out)
	}

	return bin
}

// RunCLI runs binary with args on net and waits for it to exit.
func RunCLI(t *testing.T, ctx context.Context, net *testcontainers.DockerNetwork, binary string, args ...string) CLIRun {
	t.Helper()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:      cliImage,
			Entrypoint: append([]string{cliBinaryPath}, args...),
			Networks:   []string{net.Name},
			Files: []testcontainers.ContainerFile{{
				HostFilePath:      binary,
				ContainerFilePath: cliBinaryPath,
				FileMode:          0o755,
			}},
			WaitingFor: wait.ForExit().WithExitTimeout(cliExitTimeout),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("run %s: %v", filepath.Base(binary), err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	state, err := container.State(ctx)
	if err != nil {
		t.Fatalf("inspect %s: %v", filepath.Base(binary), err)
	}

	return CLIRun{ExitCode: state.ExitCode, Logs: containerLogs(t, ctx, container)}
}

func containerLogs(t *testing.T, ctx context.Context, container testcontainers.Container) string {
	t.Helper()

	rc, err := container.Logs(ctx)
	if err != nil {
		t.Fatalf("container logs: %v", err)
	}
	defer rc.Close()

	var logs strings.Builder
	if _, err := io.Copy(&logs, rc); err != nil {
		t.Fatalf("container logs: %v", err)
	}

	return logs.String()
}

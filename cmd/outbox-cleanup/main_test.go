package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRootCmdValidatesFlags(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "missing dsn", args: []string{"--retention", "24h"}, want: "--dsn is required"},
		{name: "missing retention", args: []string{"--dsn", "x"}, want: "--retention must be positive"},
		{name: "zero interval", args: []string{"--dsn", "x", "--retention", "1h", "--check-every", "0s"}, want: "--check-every"},
		{name: "unknown driver", args: []string{"--driver", "sqlite", "--dsn", "x", "--retention", "1h", "--once"}, want: "unknown driver"},
		{name: "bad mysql dsn", args: []string{"--dsn", "not a dsn", "--retention", "1h", "--once"}, want: "open db"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newRootCmd()
			cmd.SetOut(&bytes.Buffer{})
			cmd.SetErr(&bytes.Buffer{})
			cmd.SetArgs(tt.args)

			require.ErrorContains(t, cmd.Execute(), tt.want)
		})
	}
}

func TestNewLoggerVerbose(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)

	newLogger(cmd, false).Debug("quiet")
	require.Empty(t, out.String())

	newLogger(cmd, true).Debug("loud")
	require.Contains(t, out.String(), "msg=loud")
}

//go:build linux

package backend

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// processAlive reports whether pid is running. Zombies count as gone.
func processAlive(pid int) bool {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return false
	}
	end := bytes.LastIndexByte(data, ')')
	return end < 0 || end+2 >= len(data) || data[end+2] != 'Z'
}

func grandchildPID(t *testing.T, out string) int {
	t.Helper()
	pid, err := strconv.Atoi(strings.TrimSpace(out))
	require.NoError(t, err, "helper should report the tool pid, got %q", out)
	return pid
}

func TestStreamTimeoutKillsProcessGroup(t *testing.T) {
	r := NewRunner(RunnerOptions{Timeout: 500 * time.Millisecond, Command: helperCommand("grandchild")})

	var out strings.Builder
	start := time.Now()
	err := r.Stream(context.Background(), Invocation{Backend: "copilot", Path: "copilot"}, func(s string) error {
		out.WriteString(s)
		return nil
	})

	assert.Less(t, time.Since(start), terminateGrace, "inherited stdout must not hold the stream open")
	assert.ErrorIs(t, err, ErrTimeout)
	pid := grandchildPID(t, out.String())
	assert.Eventually(t, func() bool { return !processAlive(pid) }, 2*time.Second, 20*time.Millisecond)
}

func TestStreamCancellationKillsProcessGroup(t *testing.T) {
	r := NewRunner(RunnerOptions{Command: helperCommand("grandchild")})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var out strings.Builder
	start := time.Now()
	err := r.Stream(ctx, Invocation{Backend: "copilot", Path: "copilot"}, func(s string) error {
		out.WriteString(s)
		cancel()
		return nil
	})

	assert.Less(t, time.Since(start), terminateGrace)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotEqual(t, KindTimeout, KindOf(err))
	pid := grandchildPID(t, out.String())
	assert.Eventually(t, func() bool { return !processAlive(pid) }, 2*time.Second, 20*time.Millisecond)
}

func TestRunTimeoutKillsProcessGroup(t *testing.T) {
	r := NewRunner(RunnerOptions{Timeout: 500 * time.Millisecond, Command: helperCommand("grandchild")})

	start := time.Now()
	_, err := r.Run(context.Background(), Invocation{Backend: "claude", Path: "claude"})

	assert.Less(t, time.Since(start), terminateGrace)
	assert.Equal(t, KindTimeout, KindOf(err))
}

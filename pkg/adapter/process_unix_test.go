//go:build unix

package adapter

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readPID(t *testing.T, path string) int {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	require.NoError(t, err)
	return pid
}

func assertNotRunning(t *testing.T, pid int) {
	t.Helper()
	err := syscall.Kill(pid, 0)
	assert.True(t, errors.Is(err, syscall.ESRCH), "process %d still running (err=%v)", pid, err)
}

func TestCLIAdapterTimeoutKillsProcess(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "pid")
	script := writeScript(t, "echo $$ > "+pidFile+"\nexec sleep 5")
	a := NewClaudeAdapter(CLIConfig{Binary: script})

	start := time.Now()
	_, err := a.Execute(context.Background(), GenerationRequest{Prompt: "x", Timeout: 50 * time.Millisecond})
	elapsed := time.Since(start)

	var timeoutErr *BackendTimeoutError
	require.True(t, errors.As(err, &timeoutErr), "got %v", err)
	assert.Equal(t, Claude, timeoutErr.Backend)
	assert.Less(t, elapsed, 200*time.Millisecond)

	assertNotRunning(t, readPID(t, pidFile))
}

func TestRunnerEscalatesToKill(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "pid")
	script := writeScript(t, `trap "" TERM
echo $$ > `+pidFile+`
while :; do sleep 0.05; done`)

	r := &Runner{Grace: 100 * time.Millisecond}
	start := time.Now()
	_, err := r.Run(context.Background(), Codex, Command{Path: script}, 200*time.Millisecond)
	elapsed := time.Since(start)

	var timeoutErr *BackendTimeoutError
	require.True(t, errors.As(err, &timeoutErr), "got %v", err)
	assert.Less(t, elapsed, 2*time.Second)
	assertNotRunning(t, readPID(t, pidFile))
}

func TestRunnerCallerCancellation(t *testing.T) {
	script := writeScript(t, "exec sleep 5")
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	r := &Runner{}
	start := time.Now()
	_, err := r.Run(ctx, Gemini, Command{Path: script}, 10*time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, IsTransient(err))
	assert.Less(t, time.Since(start), time.Second)
}

func TestRunnerParentDeadline(t *testing.T) {
	script := writeScript(t, "exec sleep 5")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	r := &Runner{}
	_, err := r.Run(ctx, Claude, Command{Path: script}, 10*time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	var timeoutErr *BackendTimeoutError
	assert.False(t, errors.As(err, &timeoutErr), "got %v", err)
	assert.NotContains(t, err.Error(), "10s")
}

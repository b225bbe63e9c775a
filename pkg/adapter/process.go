package adapter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// DefaultKillGrace is how long a subprocess gets between the polite
// termination signal and the hard kill.
const DefaultKillGrace = 2 * time.Second

// Command describes one subprocess invocation.
type Command struct {
	Path     string
	Args     []string
	UnsetEnv []string
	Stdin    []byte
}

// ProcessResult captures execution details for a finished subprocess.
type ProcessResult struct {
	Command  []string      `json:"command"`
	Stdout   []byte        `json:"-"`
	Stderr   string        `json:"stderr,omitempty"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// Runner spawns backend subprocesses with a deadline. On expiry or caller
// cancellation the whole process group receives SIGTERM and, after Grace,
// SIGKILL. Run does not return until the process has been reaped.
type Runner struct {
	Grace time.Duration
}

// Run executes cmd for backend with the given timeout.
func (r *Runner) Run(ctx context.Context, backend BackendType, cmd Command, timeout time.Duration) (*ProcessResult, error) {
	if cmd.Path == "" {
		return nil, &BackendExecutionError{Backend: backend, Err: fmt.Errorf("no executable configured")}
	}
	grace := DefaultKillGrace
	if r != nil && r.Grace > 0 {
		grace = r.Grace
	}

	runCtx := ctx
	cancel := func() {}
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	proc := exec.Command(cmd.Path, cmd.Args...)
	proc.Env = filteredEnv(os.Environ(), cmd.UnsetEnv)
	if cmd.Stdin != nil {
		proc.Stdin = bytes.NewReader(cmd.Stdin)
	}
	var stdout, stderr bytes.Buffer
	proc.Stdout = &stdout
	proc.Stderr = &stderr
	configureProcessGroup(proc)

	start := time.Now()
	if err := proc.Start(); err != nil {
		return nil, &BackendExecutionError{Backend: backend, Err: fmt.Errorf("start %s: %w", cmd.Path, err)}
	}

	done := make(chan error, 1)
	go func() { done <- proc.Wait() }()

	var waitErr error
	select {
	case waitErr = <-done:
	case <-runCtx.Done():
		terminate(proc, done, grace)
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("backend %s: %w", backend, err)
		}
		return nil, &BackendTimeoutError{Backend: backend, Timeout: timeout}
	}

	result := &ProcessResult{
		Command:  append([]string{cmd.Path}, cmd.Args...),
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, &BackendExecutionError{
			Backend:  backend,
			ExitCode: result.ExitCode,
			Stderr:   result.Stderr,
			Err:      waitErr,
		}
	}
	return result, nil
}

// terminate escalates from SIGTERM to SIGKILL and waits for the reaper.
func terminate(proc *exec.Cmd, done <-chan error, grace time.Duration) {
	_ = signalTerminate(proc)
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
		return
	case <-timer.C:
	}
	_ = signalKill(proc)
	<-done
}

func filteredEnv(env []string, unset []string) []string {
	if len(unset) == 0 {
		return env
	}
	out := make([]string, 0, len(env))
	for _, kv := range env {
		key, _, _ := strings.Cut(kv, "=")
		drop := false
		for _, u := range unset {
			if key == u {
				drop = true
				break
			}
		}
		if !drop {
			out = append(out, kv)
		}
	}
	return out
}

package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// ErrEmptyOutput is reported when a backend exits cleanly but writes nothing usable.
var ErrEmptyOutput = errors.New("backend produced no usable output")

// BackendExecutionError reports a backend invocation that ran but failed.
type BackendExecutionError struct {
	Backend  BackendType
	ExitCode int
	Stderr   string
	Err      error
}

func (e *BackendExecutionError) Error() string {
	if e == nil {
		return "backend execution error"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "backend %s failed", e.Backend)
	if e.ExitCode != 0 {
		fmt.Fprintf(&sb, " (exit %d)", e.ExitCode)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		sb.WriteString(": ")
		sb.WriteString(truncate(stderr, 512))
	}
	return sb.String()
}

func (e *BackendExecutionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// BackendTimeoutError reports a backend invocation that exceeded its deadline.
// The subprocess has been terminated by the time this error is returned.
type BackendTimeoutError struct {
	Backend BackendType
	Timeout time.Duration
}

func (e *BackendTimeoutError) Error() string {
	if e == nil {
		return "backend timeout"
	}
	return fmt.Sprintf("backend %s timed out after %s", e.Backend, e.Timeout)
}

func (e *BackendTimeoutError) Unwrap() error {
	return context.DeadlineExceeded
}

// IsTransient reports whether an error should advance a fallback chain.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var timeoutErr *BackendTimeoutError
	if errors.As(err, &timeoutErr) {
		return true
	}
	var execErr *BackendExecutionError
	if errors.As(err, &execErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

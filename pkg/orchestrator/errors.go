package orchestrator

import (
	"fmt"
	"strings"

	"github.com/zen-systems/quorum/pkg/adapter"
	"github.com/zen-systems/quorum/pkg/registry"
)

// Attempt records one failed invocation within a fallback sequence.
type Attempt struct {
	Backend adapter.BackendType
	Err     error
}

// AllBackendsFailedError is returned when every member of a chain failed.
type AllBackendsFailedError struct {
	Chain    registry.FallbackChain
	Attempts []Attempt
}

func (e *AllBackendsFailedError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "all backends failed (chain %s)", e.Chain)
	for _, a := range e.Attempts {
		fmt.Fprintf(&sb, "; %s: %v", a.Backend, a.Err)
	}
	return sb.String()
}

// Unwrap exposes each attempt's error to errors.Is and errors.As.
func (e *AllBackendsFailedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		if a.Err != nil {
			errs = append(errs, a.Err)
		}
	}
	return errs
}

// Tried returns the backends attempted, in order.
func (e *AllBackendsFailedError) Tried() []adapter.BackendType {
	tried := make([]adapter.BackendType, len(e.Attempts))
	for i, a := range e.Attempts {
		tried[i] = a.Backend
	}
	return tried
}

// throttleError reports that the spawn limiter refused to admit a call. The
// backend itself was never invoked.
type throttleError struct {
	Backend adapter.BackendType
	Err     error
}

func (e *throttleError) Error() string {
	return fmt.Sprintf("backend %s: spawn limit: %v", e.Backend, e.Err)
}

func (e *throttleError) Unwrap() error { return e.Err }

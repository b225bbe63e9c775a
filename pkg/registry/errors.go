package registry

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zen-systems/quorum/pkg/adapter"
)

// ErrNoHealthyBackend is returned by strict selection when no chain member is available.
var ErrNoHealthyBackend = errors.New("no healthy backend in chain")

// UnknownBackendError reports a lookup of a backend that was never registered.
type UnknownBackendError struct {
	Backend    adapter.BackendType
	Registered []adapter.BackendType
}

func (e *UnknownBackendError) Error() string {
	names := make([]string, len(e.Registered))
	for i, r := range e.Registered {
		names[i] = string(r)
	}
	return fmt.Sprintf("unknown backend %q (registered: %s)", e.Backend, strings.Join(names, ", "))
}

package registry

import (
	"strings"

	"github.com/zen-systems/quorum/pkg/adapter"
)

// FallbackChain is an ordered backend preference list: a primary plus
// fallbacks tried in order. It is immutable once built.
type FallbackChain struct {
	primary   adapter.BackendType
	fallbacks []adapter.BackendType
}

// NewFallbackChain builds a chain, dropping empty, duplicate and
// primary-repeating fallback entries.
func NewFallbackChain(primary adapter.BackendType, fallbacks ...adapter.BackendType) FallbackChain {
	seen := map[adapter.BackendType]bool{primary: true}
	clean := make([]adapter.BackendType, 0, len(fallbacks))
	for _, fb := range fallbacks {
		if fb == "" || seen[fb] {
			continue
		}
		seen[fb] = true
		clean = append(clean, fb)
	}
	return FallbackChain{primary: primary, fallbacks: clean}
}

// Primary returns the preferred backend.
func (c FallbackChain) Primary() adapter.BackendType {
	return c.primary
}

// Fallbacks returns a copy of the ordered fallback list.
func (c FallbackChain) Fallbacks() []adapter.BackendType {
	return append([]adapter.BackendType(nil), c.fallbacks...)
}

// Members returns primary followed by fallbacks.
func (c FallbackChain) Members() []adapter.BackendType {
	return append([]adapter.BackendType{c.primary}, c.fallbacks...)
}

// IsZero reports whether the chain has no primary.
func (c FallbackChain) IsZero() bool {
	return c.primary == ""
}

func (c FallbackChain) String() string {
	members := c.Members()
	parts := make([]string, len(members))
	for i, m := range members {
		parts[i] = string(m)
	}
	return strings.Join(parts, " -> ")
}

package registry

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/zen-systems/quorum/pkg/adapter"
)

// Selection is the outcome of choosing a backend from a chain.
type Selection struct {
	Adapter      adapter.Adapter
	Type         adapter.BackendType
	WasFallback  bool
	OriginalType adapter.BackendType
}

// SelectBackend returns the first available chain member, primary first. When
// every member is unavailable it still returns the primary: a cached
// unavailable verdict is not proof that this call will fail.
func (r *Registry) SelectBackend(ctx context.Context, chain FallbackChain) (Selection, error) {
	sel, found, err := r.selectAvailable(ctx, chain)
	if err != nil || found {
		return sel, err
	}
	r.log.WithField("chain", chain.String()).Warn("no backend in chain reported available; using primary")
	return sel, nil
}

// SelectHealthyBackend is SelectBackend without the best-effort primary
// fallback; it fails with ErrNoHealthyBackend instead.
func (r *Registry) SelectHealthyBackend(ctx context.Context, chain FallbackChain) (Selection, error) {
	sel, found, err := r.selectAvailable(ctx, chain)
	if err != nil {
		return sel, err
	}
	if !found {
		return Selection{}, fmt.Errorf("%w: %s", ErrNoHealthyBackend, chain)
	}
	return sel, nil
}

// selectAvailable returns the primary selection with found=false when no
// member is available.
func (r *Registry) selectAvailable(ctx context.Context, chain FallbackChain) (Selection, bool, error) {
	primary, err := r.Get(chain.Primary())
	if err != nil {
		return Selection{}, false, err
	}
	primarySel := Selection{Adapter: primary, Type: chain.Primary()}

	h, _ := r.CheckHealth(ctx, chain.Primary())
	if h.Available() {
		return primarySel, true, nil
	}

	for _, fb := range chain.Fallbacks() {
		a, err := r.Get(fb)
		if err != nil {
			r.log.WithField("backend", fb).Debug("skipping unregistered fallback")
			continue
		}
		h, _ := r.CheckHealth(ctx, fb)
		if !h.Available() {
			continue
		}
		r.log.WithFields(logrus.Fields{
			"backend":  fb,
			"original": chain.Primary(),
		}).Info("primary unavailable; selected fallback")
		return Selection{Adapter: a, Type: fb, WasFallback: true, OriginalType: chain.Primary()}, true, nil
	}
	return primarySel, false, nil
}

package registry

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/zen-systems/quorum/pkg/adapter"
)

// CheckHealth returns the cached health for backend, probing when the cache
// entry is missing or older than the TTL. Concurrent misses for the same
// backend share one probe. Probe failures are reported in the returned value;
// the error is non-nil only for unregistered backends.
//
// The probe is detached from ctx and bounded by the probe timeout, so a caller
// that gives up early gets an unavailable result without it being cached.
func (r *Registry) CheckHealth(ctx context.Context, backend adapter.BackendType) (adapter.BackendHealth, error) {
	a, err := r.Get(backend)
	if err != nil {
		return adapter.BackendHealth{}, err
	}
	if h, ok := r.fresh(backend); ok {
		return h, nil
	}

	ch := r.probes.DoChan(string(backend), func() (any, error) {
		if h, ok := r.fresh(backend); ok {
			return h, nil
		}
		return r.probe(context.WithoutCancel(ctx), a), nil
	})
	select {
	case res := <-ch:
		return res.Val.(adapter.BackendHealth), nil
	case <-ctx.Done():
		return adapter.BackendHealth{
			Backend:   backend,
			Status:    adapter.StatusUnavailable,
			Error:     ctx.Err().Error(),
			CheckedAt: r.now(),
		}, nil
	}
}

// CheckAllHealth probes every registered backend concurrently and returns the
// results in registration order.
func (r *Registry) CheckAllHealth(ctx context.Context) []adapter.BackendHealth {
	results := make([]adapter.BackendHealth, len(r.order))
	var wg sync.WaitGroup
	for i, backend := range r.order {
		wg.Add(1)
		go func(i int, backend adapter.BackendType) {
			defer wg.Done()
			h, err := r.CheckHealth(ctx, backend)
			if err != nil {
				h = adapter.BackendHealth{Backend: backend, Status: adapter.StatusUnavailable, Error: err.Error(), CheckedAt: r.now()}
			}
			results[i] = h
		}(i, backend)
	}
	wg.Wait()
	return results
}

// CachedHealth returns the cache entry for backend without probing, even if expired.
func (r *Registry) CachedHealth(backend adapter.BackendType) (adapter.BackendHealth, bool) {
	v, ok := r.health.Load(backend)
	if !ok {
		return adapter.BackendHealth{}, false
	}
	return v.(adapter.BackendHealth), true
}

// InvalidateHealth drops the cached entry for backend.
func (r *Registry) InvalidateHealth(backend adapter.BackendType) {
	r.health.Delete(backend)
}

// InvalidateAllHealth drops every cached entry.
func (r *Registry) InvalidateAllHealth() {
	r.health.Range(func(key, _ any) bool {
		r.health.Delete(key)
		return true
	})
}

func (r *Registry) fresh(backend adapter.BackendType) (adapter.BackendHealth, bool) {
	h, ok := r.CachedHealth(backend)
	if !ok {
		return adapter.BackendHealth{}, false
	}
	if r.now().Sub(h.CheckedAt) >= r.ttl {
		return adapter.BackendHealth{}, false
	}
	return h, true
}

func (r *Registry) probe(ctx context.Context, a adapter.Adapter) adapter.BackendHealth {
	probeCtx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()

	h := a.HealthCheck(probeCtx)
	h.Backend = a.Name()
	h.CheckedAt = r.now()
	r.health.Store(a.Name(), h)

	entry := r.log.WithFields(logrus.Fields{
		"backend": a.Name(),
		"status":  h.Status,
		"latency": h.Latency,
	})
	if h.Status == adapter.StatusAvailable {
		entry.Debug("health probe")
	} else {
		entry.WithField("error", h.Error).Warn("health probe")
	}
	r.metrics.Health(string(h.Backend), string(h.Status))
	return h
}

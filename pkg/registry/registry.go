// Package registry owns the backend adapters, caches their health and picks a
// live backend from a fallback chain.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/zen-systems/quorum/pkg/adapter"
	"github.com/zen-systems/quorum/pkg/logging"
	"github.com/zen-systems/quorum/pkg/metrics"
)

// DefaultHealthTTL is how long a probe result is trusted.
const DefaultHealthTTL = 5 * time.Minute

// Registry holds one adapter per backend type and the process-wide health cache.
// Adapters are fixed at construction; the health cache is the only mutable state.
type Registry struct {
	adapters map[adapter.BackendType]adapter.Adapter
	order    []adapter.BackendType
	limiters map[adapter.BackendType]*rate.Limiter

	health sync.Map // adapter.BackendType -> adapter.BackendHealth
	probes singleflight.Group

	ttl          time.Duration
	probeTimeout time.Duration
	now          func() time.Time
	log          logrus.FieldLogger
	metrics      *metrics.Collector
}

// Option configures a Registry.
type Option func(*Registry)

// WithHealthTTL overrides DefaultHealthTTL.
func WithHealthTTL(ttl time.Duration) Option {
	return func(r *Registry) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithProbeTimeout bounds each health probe.
func WithProbeTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.probeTimeout = d
		}
	}
}

// WithClock replaces time.Now for TTL bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Registry) {
		r.log = logging.OrDiscard(l)
	}
}

// WithMetrics records probe results on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(r *Registry) {
		r.metrics = c
	}
}

// WithSpawnLimit throttles invocations of one backend to perSecond with the
// given burst.
func WithSpawnLimit(backend adapter.BackendType, perSecond float64, burst int) Option {
	return func(r *Registry) {
		if perSecond <= 0 {
			return
		}
		if burst < 1 {
			burst = 1
		}
		r.limiters[backend] = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// New registers adapters in preference order.
func New(adapters []adapter.Adapter, opts ...Option) (*Registry, error) {
	r := &Registry{
		adapters:     make(map[adapter.BackendType]adapter.Adapter, len(adapters)),
		limiters:     make(map[adapter.BackendType]*rate.Limiter),
		ttl:          DefaultHealthTTL,
		probeTimeout: adapter.ProbeTimeout,
		now:          time.Now,
		log:          logging.Discard(),
	}
	for _, a := range adapters {
		if a == nil {
			return nil, fmt.Errorf("registry: nil adapter")
		}
		name := a.Name()
		if _, dup := r.adapters[name]; dup {
			return nil, fmt.Errorf("registry: backend %s registered twice", name)
		}
		r.adapters[name] = a
		r.order = append(r.order, name)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Get returns the adapter registered for backend.
func (r *Registry) Get(backend adapter.BackendType) (adapter.Adapter, error) {
	a, ok := r.adapters[backend]
	if !ok {
		return nil, &UnknownBackendError{Backend: backend, Registered: r.Types()}
	}
	return a, nil
}

// Has reports whether backend is registered.
func (r *Registry) Has(backend adapter.BackendType) bool {
	_, ok := r.adapters[backend]
	return ok
}

// Types returns registered backends in registration order.
func (r *Registry) Types() []adapter.BackendType {
	return append([]adapter.BackendType(nil), r.order...)
}

// Wait blocks until backend's spawn limiter admits one more invocation.
func (r *Registry) Wait(ctx context.Context, backend adapter.BackendType) error {
	limiter, ok := r.limiters[backend]
	if !ok {
		return nil
	}
	return limiter.Wait(ctx)
}

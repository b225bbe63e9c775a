// Package metrics exposes prometheus instrumentation for backend calls,
// fallbacks, health probes, consensus outcomes and subagent batches.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a private prometheus registry. A nil *Collector is valid and
// records nothing.
type Collector struct {
	registry *prometheus.Registry

	backendCalls    *prometheus.CounterVec
	backendDuration *prometheus.HistogramVec
	fallbacks       *prometheus.CounterVec
	backendHealth   *prometheus.GaugeVec
	consensus       *prometheus.CounterVec
	subagentTasks   *prometheus.CounterVec
}

// New creates a collector with all quorum metrics registered.
func New() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		backendCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quorum_backend_calls_total",
				Help: "Backend invocations by outcome",
			},
			[]string{"backend", "outcome"},
		),
		backendDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quorum_backend_call_duration_seconds",
				Help:    "Wall-clock duration of backend invocations",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"backend"},
		),
		fallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quorum_fallbacks_total",
				Help: "Requests served by a fallback backend",
			},
			[]string{"from", "to"},
		),
		backendHealth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "quorum_backend_health",
				Help: "Last probed health (1 available, 0.5 degraded, 0 unavailable)",
			},
			[]string{"backend"},
		),
		consensus: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quorum_consensus_total",
				Help: "Verification outcomes by consensus status",
			},
			[]string{"status"},
		),
		subagentTasks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quorum_subagent_tasks_total",
				Help: "Subagent tasks by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// Registry returns the underlying prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the collector in the prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveCall records one backend invocation.
func (c *Collector) ObserveCall(backend, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.backendCalls.WithLabelValues(backend, outcome).Inc()
	c.backendDuration.WithLabelValues(backend).Observe(d.Seconds())
}

// Fallback records a request served by to instead of from.
func (c *Collector) Fallback(from, to string) {
	if c == nil {
		return
	}
	c.fallbacks.WithLabelValues(from, to).Inc()
}

// Health records the latest probe status for backend.
func (c *Collector) Health(backend, status string) {
	if c == nil {
		return
	}
	value := 0.0
	switch status {
	case "available":
		value = 1
	case "degraded":
		value = 0.5
	}
	c.backendHealth.WithLabelValues(backend).Set(value)
}

// Consensus records one consensus reduction.
func (c *Collector) Consensus(status string) {
	if c == nil {
		return
	}
	c.consensus.WithLabelValues(status).Inc()
}

// Task records one finished subagent task.
func (c *Collector) Task(outcome string) {
	if c == nil {
		return
	}
	c.subagentTasks.WithLabelValues(outcome).Inc()
}

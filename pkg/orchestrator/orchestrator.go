// Package orchestrator routes skills and raw prompts through a fallback chain
// of backends and optionally cross-verifies results on other backends.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zen-systems/quorum/pkg/adapter"
	"github.com/zen-systems/quorum/pkg/config"
	"github.com/zen-systems/quorum/pkg/logging"
	"github.com/zen-systems/quorum/pkg/metrics"
	"github.com/zen-systems/quorum/pkg/registry"
	"github.com/zen-systems/quorum/pkg/router"
	"github.com/zen-systems/quorum/pkg/skill"
)

const tracerName = "github.com/zen-systems/quorum/pkg/orchestrator"

// Options adjusts a single Execute call.
type Options struct {
	// Chain replaces the derived fallback chain entirely.
	Chain registry.FallbackChain
	// Backend moves a backend to the front of the derived chain.
	Backend adapter.BackendType
	// StrictHealth fails with registry.ErrNoHealthyBackend instead of trying
	// the primary when no chain member reports available.
	StrictHealth bool
	// Verify overrides the per-skill verification default.
	Verify *VerifyConfig
}

// Orchestrator is safe for concurrent use.
type Orchestrator struct {
	backends     *registry.Registry
	skills       *skill.Registry
	router       *router.Router
	verification map[string]VerifyConfig
	pricing      config.PricingConfig
	models       map[string]string
	log          logrus.FieldLogger
	metrics      *metrics.Collector
	tracer       trace.Tracer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *Orchestrator) {
		o.log = logging.OrDiscard(l)
	}
}

// WithMetrics records call, fallback and consensus metrics on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *Orchestrator) {
		o.metrics = c
	}
}

// WithPricing enables cost estimation for responses that report usage only.
func WithPricing(p config.PricingConfig) Option {
	return func(o *Orchestrator) {
		o.pricing = p
	}
}

// WithModelAliases resolves model aliases before pricing lookups.
func WithModelAliases(aliases map[string]string) Option {
	return func(o *Orchestrator) {
		o.models = aliases
	}
}

// WithVerificationDefaults sets the per-skill verification defaults.
func WithVerificationDefaults(defaults map[string]VerifyConfig) Option {
	return func(o *Orchestrator) {
		o.verification = defaults
	}
}

// WithTracer overrides the global otel tracer.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		o.tracer = t
	}
}

// New creates an orchestrator over an explicitly constructed registry.
func New(backends *registry.Registry, skills *skill.Registry, rt *router.Router, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		backends: backends,
		skills:   skills,
		router:   rt,
		log:      logging.Discard(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Execute runs a skill through its fallback chain.
func (o *Orchestrator) Execute(ctx context.Context, skillID string, input map[string]any, opts Options) (*adapter.GenerationResponse, error) {
	resp, _, err := o.tracedExecute(ctx, skillID, input, opts)
	return resp, err
}

func (o *Orchestrator) tracedExecute(ctx context.Context, skillID string, input map[string]any, opts Options) (*adapter.GenerationResponse, adapter.GenerationRequest, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.Execute", trace.WithAttributes(attribute.String("skill", skillID)))
	defer span.End()

	resp, req, err := o.execute(ctx, skillID, input, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, req, err
	}
	span.SetAttributes(
		attribute.String("backend", string(resp.Provider)),
		attribute.Bool("fallback", resp.WasFallback),
	)
	return resp, req, nil
}

// ExecuteRaw runs an ad-hoc request without a skill. An empty domain is
// classified from the prompt; override, when set, leads the chain.
func (o *Orchestrator) ExecuteRaw(ctx context.Context, req adapter.GenerationRequest, domain string, override adapter.BackendType) (*adapter.GenerationResponse, error) {
	chain, resolved := o.router.ForDomain(domain, req.Prompt, o.backends.Types(), registry.FallbackChain{})
	if override != "" {
		chain = withPrimary(chain, override)
	}
	if chain.IsZero() {
		return nil, fmt.Errorf("no backend registered for domain %q", resolved)
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.Execute", trace.WithAttributes(attribute.String("domain", resolved)))
	defer span.End()

	log := o.log.WithFields(logrus.Fields{"domain": resolved, "chain": chain.String()})
	resp, err := o.run(ctx, chain, req, false, log)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return resp, nil
}

// CheckAllHealth probes every registered backend concurrently.
func (o *Orchestrator) CheckAllHealth(ctx context.Context) []adapter.BackendHealth {
	return o.backends.CheckAllHealth(ctx)
}

// InvalidateAllHealth drops every cached health entry.
func (o *Orchestrator) InvalidateAllHealth() {
	o.backends.InvalidateAllHealth()
}

// execute returns the response along with the rendered request, which
// verification reuses as raw data.
func (o *Orchestrator) execute(ctx context.Context, skillID string, input map[string]any, opts Options) (*adapter.GenerationResponse, adapter.GenerationRequest, error) {
	s, err := o.skills.Get(skillID)
	if err != nil {
		return nil, adapter.GenerationRequest{}, err
	}
	req := s.Request(input)

	chain := o.router.ForSkill(skillID, s.PreferredBackend, o.backends.Types(), opts.Chain)
	if opts.Backend != "" {
		chain = withPrimary(chain, opts.Backend)
	}

	log := o.log.WithFields(logrus.Fields{"skill": skillID, "chain": chain.String()})
	resp, err := o.run(ctx, chain, req, opts.StrictHealth, log)
	return resp, req, err
}

// run selects a backend from chain, invokes it and falls back through the
// rest of the chain on failure.
func (o *Orchestrator) run(ctx context.Context, chain registry.FallbackChain, req adapter.GenerationRequest, strict bool, log logrus.FieldLogger) (*adapter.GenerationResponse, error) {
	var (
		sel registry.Selection
		err error
	)
	if strict {
		sel, err = o.backends.SelectHealthyBackend(ctx, chain)
	} else {
		sel, err = o.backends.SelectBackend(ctx, chain)
	}
	if err != nil {
		return nil, err
	}

	resp, err := o.invoke(ctx, sel.Type, sel.Adapter, req)
	if err == nil {
		log.WithFields(logrus.Fields{
			"backend":  sel.Type,
			"fallback": sel.WasFallback,
			"latency":  resp.Duration,
		}).Debug("backend call succeeded")
		return o.annotate(resp, sel.Type, chain.Primary()), nil
	}
	if !shouldAdvance(ctx, err) {
		return nil, err
	}
	o.backends.InvalidateHealth(sel.Type)
	if sel.WasFallback {
		// The chain was already walked by health during selection.
		log.WithField("backend", sel.Type).WithError(err).Warn("fallback backend call failed")
		return nil, err
	}

	log.WithField("backend", sel.Type).WithError(err).Warn("backend call failed; trying fallback chain")
	return o.executeFallback(ctx, chain, req, []Attempt{{Backend: sel.Type, Err: err}}, log)
}

// executeFallback tries every chain member not yet attempted, in chain
// order, until one succeeds.
func (o *Orchestrator) executeFallback(ctx context.Context, chain registry.FallbackChain, req adapter.GenerationRequest, attempts []Attempt, log logrus.FieldLogger) (*adapter.GenerationResponse, error) {
	tried := make(map[adapter.BackendType]bool, len(attempts))
	for _, a := range attempts {
		tried[a.Backend] = true
	}

	for _, backend := range chain.Members() {
		if tried[backend] {
			continue
		}
		tried[backend] = true

		a, err := o.backends.Get(backend)
		if err != nil {
			log.WithField("backend", backend).Debug("skipping unregistered chain member")
			continue
		}

		resp, err := o.invoke(ctx, backend, a, req)
		if err == nil {
			log.WithFields(logrus.Fields{
				"backend":  backend,
				"fallback": backend != chain.Primary(),
				"latency":  resp.Duration,
			}).Info("fallback backend succeeded")
			return o.annotate(resp, backend, chain.Primary()), nil
		}

		attempts = append(attempts, Attempt{Backend: backend, Err: err})
		if !shouldAdvance(ctx, err) {
			return nil, err
		}
		log.WithField("backend", backend).WithError(err).Warn("fallback backend failed")
		o.backends.InvalidateHealth(backend)
	}

	return nil, &AllBackendsFailedError{Chain: chain, Attempts: attempts}
}

// invoke calls one adapter, honouring the backend's spawn limit.
func (o *Orchestrator) invoke(ctx context.Context, backend adapter.BackendType, a adapter.Adapter, req adapter.GenerationRequest) (*adapter.GenerationResponse, error) {
	if err := o.backends.Wait(ctx, backend); err != nil {
		return nil, &throttleError{Backend: backend, Err: err}
	}

	ctx, span := o.tracer.Start(ctx, "adapter.Execute", trace.WithAttributes(attribute.String("backend", string(backend))))
	defer span.End()

	start := time.Now()
	resp, err := a.Execute(ctx, req)
	o.metrics.ObserveCall(string(backend), outcome(err), time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if resp == nil {
		return nil, &adapter.BackendExecutionError{Backend: backend, Err: adapter.ErrEmptyOutput}
	}
	return resp, nil
}

func (o *Orchestrator) annotate(resp *adapter.GenerationResponse, served, primary adapter.BackendType) *adapter.GenerationResponse {
	out := resp.WithFallback(served, primary)
	if out.WasFallback {
		o.metrics.Fallback(string(primary), string(served))
	}
	return o.withEstimatedCost(out)
}

func (o *Orchestrator) resolveModel(model string) string {
	if canonical, ok := o.models[model]; ok {
		return canonical
	}
	return model
}

// shouldAdvance reports whether a failed call may move on to the next chain
// member. Caller cancellation and spawn throttling stop the chain.
func shouldAdvance(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var throttled *throttleError
	if errors.As(err, &throttled) {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

func outcome(err error) string {
	var timeoutErr *adapter.BackendTimeoutError
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &timeoutErr):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}

// withPrimary moves backend to the front of chain, keeping the remaining
// members as fallbacks.
func withPrimary(chain registry.FallbackChain, backend adapter.BackendType) registry.FallbackChain {
	if chain.IsZero() {
		return registry.NewFallbackChain(backend)
	}
	return registry.NewFallbackChain(backend, chain.Members()...)
}

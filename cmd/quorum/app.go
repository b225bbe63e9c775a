package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/zen-systems/quorum/pkg/adapter"
	"github.com/zen-systems/quorum/pkg/config"
	"github.com/zen-systems/quorum/pkg/logging"
	"github.com/zen-systems/quorum/pkg/metrics"
	"github.com/zen-systems/quorum/pkg/orchestrator"
	"github.com/zen-systems/quorum/pkg/registry"
	"github.com/zen-systems/quorum/pkg/router"
	"github.com/zen-systems/quorum/pkg/skill"
	"github.com/zen-systems/quorum/pkg/subagent"
)

// app holds the components wired from one configuration.
type app struct {
	cfg      *config.Config
	log      *logrus.Logger
	metrics  *metrics.Collector
	backends *registry.Registry
	skills   *skill.Registry
	router   *router.Router
	orch     *orchestrator.Orchestrator
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log := logging.New(logging.Options{Level: cfg.Logging.Level, JSON: cfg.Logging.JSON})
	collector := metrics.New()

	adapters, err := createAdapters(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create adapters: %w", err)
	}
	if len(adapters) == 0 {
		return nil, fmt.Errorf("no backends enabled")
	}

	opts := []registry.Option{
		registry.WithHealthTTL(cfg.Health.TTL),
		registry.WithProbeTimeout(cfg.Health.ProbeTimeout),
		registry.WithLogger(log),
		registry.WithMetrics(collector),
	}
	for _, a := range adapters {
		b := cfg.Backend(string(a.Name()))
		if b.SpawnRate > 0 {
			opts = append(opts, registry.WithSpawnLimit(a.Name(), b.SpawnRate, b.SpawnBurst))
		}
	}
	backends, err := registry.New(adapters, opts...)
	if err != nil {
		return nil, err
	}

	skills, err := skill.Load(cfg.SkillsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load skills: %w", err)
	}

	rt := router.FromConfig(cfg)
	orch := orchestrator.New(backends, skills, rt,
		orchestrator.WithLogger(log),
		orchestrator.WithMetrics(collector),
		orchestrator.WithPricing(cfg.Pricing),
		orchestrator.WithModelAliases(cfg.Models),
		orchestrator.WithVerificationDefaults(verificationDefaults(cfg)),
	)

	return &app{
		cfg:      cfg,
		log:      log,
		metrics:  collector,
		backends: backends,
		skills:   skills,
		router:   rt,
		orch:     orch,
	}, nil
}

func (a *app) executor() *subagent.Executor {
	return subagent.NewExecutor(a.orch, subagent.Options{
		MaxConcurrency: a.cfg.Subagent.MaxConcurrency,
		DefaultTimeout: a.cfg.Subagent.DefaultTimeout,
		Logger:         a.log,
		Metrics:        a.metrics,
	})
}

// createAdapters registers the enabled CLI backends in fixed order, then an
// API backend for every provider whose key is set.
func createAdapters(ctx context.Context, cfg *config.Config) ([]adapter.Adapter, error) {
	var adapters []adapter.Adapter

	for _, name := range adapter.CLIBackends {
		b := cfg.Backend(string(name))
		if !b.IsEnabled() {
			continue
		}
		cliCfg := adapter.CLIConfig{
			Binary:    b.Binary,
			Model:     cfg.ResolveModel(b.Model),
			Timeout:   b.Timeout,
			KillGrace: cfg.Health.KillGrace,
		}
		switch name {
		case adapter.Claude:
			adapters = append(adapters, adapter.NewClaudeAdapter(cliCfg))
		case adapter.Codex:
			adapters = append(adapters, adapter.NewCodexAdapter(cliCfg))
		case adapter.Gemini:
			adapters = append(adapters, adapter.NewGeminiAdapter(cliCfg))
		}
	}

	apiCfg := func(name adapter.BackendType) (adapter.APIConfig, bool) {
		b := cfg.Backend(string(name))
		key := cfg.APIKey(string(name))
		return adapter.APIConfig{
			APIKey:  key,
			Model:   cfg.ResolveModel(b.Model),
			Timeout: b.Timeout,
		}, key != "" && b.IsEnabled()
	}

	if c, ok := apiCfg(adapter.Anthropic); ok {
		a, err := adapter.NewAnthropicAdapter(c)
		if err != nil {
			return nil, fmt.Errorf("failed to create anthropic adapter: %w", err)
		}
		adapters = append(adapters, a)
	}

	if c, ok := apiCfg(adapter.OpenAI); ok {
		a, err := adapter.NewOpenAIAdapter(c)
		if err != nil {
			return nil, fmt.Errorf("failed to create openai adapter: %w", err)
		}
		adapters = append(adapters, a)
	}

	if c, ok := apiCfg(adapter.Google); ok {
		a, err := adapter.NewGoogleAdapter(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("failed to create google adapter: %w", err)
		}
		adapters = append(adapters, a)
	}

	return adapters, nil
}

func verificationDefaults(cfg *config.Config) map[string]orchestrator.VerifyConfig {
	out := make(map[string]orchestrator.VerifyConfig, len(cfg.Verification))
	for id, v := range cfg.Verification {
		out[id] = orchestrator.VerifyConfig{Enabled: v.Enabled, Verifiers: v.Verifiers}
	}
	return out
}

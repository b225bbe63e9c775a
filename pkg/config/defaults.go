package config

import "time"

var cliBackends = []string{"claude", "codex", "gemini"}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	cfg := &Config{
		Backends: map[string]BackendConfig{
			"claude": {Model: "sonnet", Timeout: 3 * time.Minute, SpawnRate: 2, SpawnBurst: 4},
			"codex":  {Model: "gpt-5-codex", Timeout: 3 * time.Minute, SpawnRate: 2, SpawnBurst: 4},
			"gemini": {Model: "gemini-2.5-pro", Timeout: 3 * time.Minute, SpawnRate: 2, SpawnBurst: 4},
		},
		DefaultDomain: "chat",
		Domains: []DomainConfig{
			{
				Name:      "news",
				Prefixes:  []string{"classify-", "summarize-"},
				Triggers:  []string{"news", "headline", "headlines", "article", "articles"},
				Primary:   "gemini",
				Fallbacks: []string{"claude", "codex"},
			},
			{
				Name:      "analysis",
				Prefixes:  []string{"analyze-"},
				Triggers:  []string{"analyze", "analysis", "portfolio", "valuation", "earnings"},
				Primary:   "claude",
				Fallbacks: []string{"codex", "gemini"},
			},
			{
				Name:      "verification",
				Prefixes:  []string{"verify-"},
				Triggers:  []string{"verify", "fact check", "double-check"},
				Primary:   "codex",
				Fallbacks: []string{"gemini", "claude"},
			},
			{
				Name:      "chat",
				Prefixes:  []string{"chat-"},
				Primary:   "claude",
				Fallbacks: []string{"gemini", "codex"},
			},
		},
		Verification: map[string]VerificationConfig{
			"analyze-portfolio": {Enabled: true, Verifiers: 2},
			"analyze-stock":     {Enabled: true, Verifiers: 2},
		},
		Models: map[string]string{
			"fast":    "haiku",
			"quality": "sonnet",
			"deep":    "opus",
		},
	}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	if cfg.Health.TTL == 0 {
		cfg.Health.TTL = 5 * time.Minute
	}
	if cfg.Health.ProbeTimeout == 0 {
		cfg.Health.ProbeTimeout = 10 * time.Second
	}
	if cfg.Health.KillGrace == 0 {
		cfg.Health.KillGrace = 2 * time.Second
	}
	if cfg.Subagent.DefaultTimeout == 0 {
		cfg.Subagent.DefaultTimeout = 5 * time.Minute
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Backends == nil {
		cfg.Backends = make(map[string]BackendConfig)
	}
	for name, b := range cfg.Backends {
		if b.Timeout == 0 {
			b.Timeout = 2 * time.Minute
		}
		cfg.Backends[name] = b
	}
	for id, v := range cfg.Verification {
		if v.Enabled && v.Verifiers == 0 {
			v.Verifiers = 2
			cfg.Verification[id] = v
		}
	}
}

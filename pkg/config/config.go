// Package config loads quorum configuration from ~/.quorum/config.yaml and
// the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	Backends      map[string]BackendConfig      `yaml:"backends"`
	Health        HealthConfig                  `yaml:"health"`
	DefaultDomain string                        `yaml:"default_domain"`
	Domains       []DomainConfig                `yaml:"domains"`
	Verification  map[string]VerificationConfig `yaml:"verification"`
	Pricing       PricingConfig                 `yaml:"pricing,omitempty"`
	Models        map[string]string             `yaml:"models,omitempty"`
	Subagent      SubagentConfig                `yaml:"subagent"`
	Logging       LoggingConfig                 `yaml:"logging"`
	Metrics       MetricsConfig                 `yaml:"metrics"`
	SkillsFile    string                        `yaml:"skills_file,omitempty"`

	// API keys are read from the environment only.
	AnthropicAPIKey string `yaml:"-"`
	OpenAIAPIKey    string `yaml:"-"`
	GoogleAPIKey    string `yaml:"-"`

	// Path is the file the config was read from, empty for defaults.
	Path string `yaml:"-"`
}

// BackendConfig configures one CLI backend.
type BackendConfig struct {
	Enabled    *bool         `yaml:"enabled,omitempty"`
	Binary     string        `yaml:"binary,omitempty"`
	Model      string        `yaml:"model,omitempty"`
	Timeout    time.Duration `yaml:"timeout,omitempty"`
	SpawnRate  float64       `yaml:"spawn_rate,omitempty"`
	SpawnBurst int           `yaml:"spawn_burst,omitempty"`
}

// IsEnabled reports whether the backend should be registered.
func (b BackendConfig) IsEnabled() bool {
	return b.Enabled == nil || *b.Enabled
}

// HealthConfig holds health cache and process supervision settings.
type HealthConfig struct {
	TTL          time.Duration `yaml:"ttl"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	KillGrace    time.Duration `yaml:"kill_grace"`
}

// DomainConfig maps a task domain to its fallback chain.
type DomainConfig struct {
	Name      string   `yaml:"name"`
	Prefixes  []string `yaml:"prefixes"`
	Triggers  []string `yaml:"triggers,omitempty"`
	Primary   string   `yaml:"primary"`
	Fallbacks []string `yaml:"fallbacks"`
}

// VerificationConfig is the per-skill verification default.
type VerificationConfig struct {
	Enabled   bool `yaml:"enabled"`
	Verifiers int  `yaml:"verifiers"`
}

// PricingConfig maps backend -> model -> pricing. A "default" model entry
// applies to any model of that backend.
type PricingConfig map[string]map[string]ModelPricing

// ModelPricing defines per-1k token pricing.
type ModelPricing struct {
	PromptPer1K     float64 `yaml:"prompt_per_1k,omitempty"`
	CompletionPer1K float64 `yaml:"completion_per_1k,omitempty"`
}

// SubagentConfig bounds batch execution.
type SubagentConfig struct {
	MaxConcurrency int           `yaml:"max_concurrency"`
	DefaultTimeout time.Duration `yaml:"default_timeout"`
}

// LoggingConfig selects log level and format.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// MetricsConfig enables the prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr,omitempty"`
}

// Load reads ~/.quorum/config.yaml if present and applies environment
// overrides. A missing file yields the defaults.
func Load() (*Config, error) {
	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.yaml")
	cfg, err := loadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = DefaultConfig(), nil
	}
	if err != nil {
		return nil, err
	}

	applyEnv(cfg)
	return cfg, nil
}

// LoadFile reads configuration from an explicit path.
func LoadFile(path string) (*Config, error) {
	cfg, err := loadFile(path)
	if err != nil {
		return nil, err
	}
	applyEnv(cfg)
	return cfg, nil
}

// loadFile decodes the file over DefaultConfig: maps merge key by key, lists
// replace the defaults wholesale. Backend entries merge field by field, so
// setting only a binary keeps the default model, timeout and spawn limits.
// Other map entries replace their defaults.
func loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := mergeBackends(cfg, data); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.Path = path

	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// mergeBackends re-decodes each backend entry over its default, undoing the
// zero-value replacement yaml applies to map values.
func mergeBackends(cfg *Config, data []byte) error {
	var raw struct {
		Backends map[string]yaml.Node `yaml:"backends"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return err
	}
	defaults := DefaultConfig().Backends
	for name, node := range raw.Backends {
		entry, ok := defaults[name]
		if !ok {
			continue
		}
		if err := node.Decode(&entry); err != nil {
			return fmt.Errorf("backend %s: %w", name, err)
		}
		cfg.Backends[name] = entry
	}
	return nil
}

// Validate checks cross-references between sections.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Domains))
	for _, d := range c.Domains {
		if d.Name == "" {
			return fmt.Errorf("domain without a name")
		}
		if seen[d.Name] {
			return fmt.Errorf("domain %q defined twice", d.Name)
		}
		seen[d.Name] = true
		if d.Primary == "" {
			return fmt.Errorf("domain %q has no primary backend", d.Name)
		}
	}
	if c.DefaultDomain != "" && !seen[c.DefaultDomain] {
		return fmt.Errorf("default_domain %q is not a defined domain", c.DefaultDomain)
	}
	for id, v := range c.Verification {
		if v.Verifiers < 0 {
			return fmt.Errorf("verification for %s: negative verifier count", id)
		}
	}
	return nil
}

// Backend returns the settings for a backend, empty if unset.
func (c *Config) Backend(name string) BackendConfig {
	return c.Backends[name]
}

// ResolveModel maps a model alias from the models section to its canonical
// name. Unknown names are returned unchanged.
func (c *Config) ResolveModel(model string) string {
	if canonical, ok := c.Models[model]; ok {
		return canonical
	}
	return model
}

// HasAPIKey reports whether the API backend of the given name is configured.
func (c *Config) HasAPIKey(name string) bool {
	return c.APIKey(name) != ""
}

// APIKey returns the key for an API backend.
func (c *Config) APIKey(name string) string {
	switch name {
	case "anthropic":
		return c.AnthropicAPIKey
	case "openai":
		return c.OpenAIAPIKey
	case "google":
		return c.GoogleAPIKey
	default:
		return ""
	}
}

func applyEnv(cfg *Config) {
	cfg.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.GoogleAPIKey = os.Getenv("GOOGLE_API_KEY")

	cfg.Logging.Level = getEnvOrDefault("QUORUM_LOG_LEVEL", cfg.Logging.Level)
	if v := os.Getenv("QUORUM_LOG_JSON"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Logging.JSON = b
		}
	}
	cfg.SkillsFile = getEnvOrDefault("QUORUM_SKILLS_FILE", cfg.SkillsFile)
	cfg.Metrics.Addr = getEnvOrDefault("QUORUM_METRICS_ADDR", cfg.Metrics.Addr)

	if cfg.Backends == nil {
		cfg.Backends = make(map[string]BackendConfig)
	}
	for _, name := range cliBackends {
		b := cfg.Backends[name]
		prefix := "QUORUM_" + strings.ToUpper(name)
		b.Binary = getEnvOrDefault(prefix+"_BIN", b.Binary)
		b.Model = getEnvOrDefault(prefix+"_MODEL", b.Model)
		cfg.Backends[name] = b
	}
}

// getEnvOrDefault returns the environment variable value if set,
// otherwise returns the default value.
func getEnvOrDefault(envVar, defaultValue string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	return defaultValue
}

func getConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".quorum"), nil
}

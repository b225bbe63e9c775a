package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zen-systems/quorum/pkg/adapter"
	"github.com/zen-systems/quorum/pkg/config"
)

func adapterNames(adapters []adapter.Adapter) []adapter.BackendType {
	names := make([]adapter.BackendType, len(adapters))
	for i, a := range adapters {
		names[i] = a.Name()
	}
	return names
}

func TestCreateAdaptersDefaults(t *testing.T) {
	cfg := config.DefaultConfig()

	adapters, err := createAdapters(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, []adapter.BackendType{adapter.Claude, adapter.Codex, adapter.Gemini}, adapterNames(adapters))

	claude, ok := adapters[0].(*adapter.CLIAdapter)
	require.True(t, ok)
	assert.Equal(t, "sonnet", claude.Model())
}

func TestCreateAdaptersHonoursConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	disabled := false
	cfg.Backends["codex"] = config.BackendConfig{Enabled: &disabled}
	cfg.Backends["claude"] = config.BackendConfig{Model: "deep"}
	cfg.AnthropicAPIKey = "test-key"
	cfg.OpenAIAPIKey = "test-key"

	adapters, err := createAdapters(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, []adapter.BackendType{adapter.Claude, adapter.Gemini, adapter.Anthropic, adapter.OpenAI}, adapterNames(adapters))
	assert.Equal(t, "opus", adapters[0].(*adapter.CLIAdapter).Model())
}

func TestNewAppWiresComponents(t *testing.T) {
	a, err := newApp(context.Background(), config.DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, []adapter.BackendType{adapter.Claude, adapter.Codex, adapter.Gemini}, a.backends.Types())
	_, err = a.skills.Get("classify-news")
	require.NoError(t, err)
	assert.Len(t, a.router.Routes(), 4)
	assert.NotNil(t, a.executor())
}

func TestParseChain(t *testing.T) {
	chain := parseChain(" codex, claude ,codex,,gemini")
	assert.Equal(t, "codex -> claude -> gemini", chain.String())
	assert.True(t, parseChain(" , ").IsZero())
}

func TestSkillFlagsInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ticker: ACME\nholdings:\n  - ACME\n  - BETA\n"), 0600))

	f := skillFlags{inputFile: path, inputs: []string{"ticker=BETA", "note=a=b"}}
	input, err := f.input()
	require.NoError(t, err)
	assert.Equal(t, "BETA", input["ticker"])
	assert.Equal(t, "a=b", input["note"])
	assert.Equal(t, []any{"ACME", "BETA"}, input["holdings"])

	_, err = (&skillFlags{inputs: []string{"novalue"}}).input()
	require.Error(t, err)
}

func TestSkillFlagsOptions(t *testing.T) {
	f := skillFlags{backend: "gemini", chain: "codex,claude", strict: true}
	opts := f.options()
	assert.Equal(t, adapter.Gemini, opts.Backend)
	assert.Equal(t, "codex -> claude", opts.Chain.String())
	assert.True(t, opts.StrictHealth)
}

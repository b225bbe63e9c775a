package adapter

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScript creates an executable shell script standing in for a backend CLI.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	path := filepath.Join(t.TempDir(), "backend.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestClaudeArgs(t *testing.T) {
	a := NewClaudeAdapter(CLIConfig{Model: "opus"})
	args := a.Args(GenerationRequest{System: "be terse", Prompt: "hi", OutputSchema: `{"type":"object"}`})
	assert.Equal(t, []string{
		"-p", "hi",
		"--output-format", "json",
		"--model", "opus",
		"--system-prompt", "be terse",
		"--json-schema", `{"type":"object"}`,
	}, args)

	args = a.Args(GenerationRequest{Prompt: "hi"})
	assert.Equal(t, []string{"-p", "hi", "--output-format", "json", "--model", "opus"}, args)
}

func TestCodexAndGeminiPrependSystem(t *testing.T) {
	req := GenerationRequest{System: "rules", Prompt: "question"}
	want := "<system_instructions>\nrules\n</system_instructions>\n\nquestion"

	codex := NewCodexAdapter(CLIConfig{})
	args := codex.Args(req)
	assert.Equal(t, []string{"exec", "--json", "--skip-git-repo-check", "--model", "gpt-5-codex", want}, args)
	assert.Equal(t, FramingEvents, codex.Framing())

	gemini := NewGeminiAdapter(CLIConfig{Model: "gemini-x"})
	args = gemini.Args(req)
	assert.Equal(t, []string{"-p", want, "--output-format", "json", "--model", "gemini-x"}, args)

	assert.Equal(t, "question", NewGeminiAdapter(CLIConfig{}).Args(GenerationRequest{Prompt: "question"})[1])
}

func TestCLIAdapterEnvelope(t *testing.T) {
	fence := "```"
	envelope := `{"type":"result","result":"` + fence + `json\n[{\"id\":1,\"category\":\"earnings\"}]\n` + fence + `","total_cost_usd":0.5}`
	script := writeScript(t, "printf '%s\\n' '"+envelope+"'")
	a := NewClaudeAdapter(CLIConfig{Binary: script})

	resp, err := a.Execute(context.Background(), GenerationRequest{Prompt: "classify"})
	require.NoError(t, err)
	assert.Equal(t, Claude, resp.Provider)
	assert.NotEmpty(t, resp.RequestID)
	require.True(t, resp.HasParsed())

	var parsed []map[string]any
	require.NoError(t, resp.DecodeParsed(&parsed))
	require.Len(t, parsed, 1)
	assert.Equal(t, "earnings", parsed[0]["category"])
	require.NotNil(t, resp.Cost)
	assert.InDelta(t, 0.5, resp.Cost.Amount, 1e-9)
}

func TestCLIAdapterPlainTextDegradesParsed(t *testing.T) {
	script := writeScript(t, `echo "just some prose"`)
	a := NewGeminiAdapter(CLIConfig{Binary: script})

	resp, err := a.Execute(context.Background(), GenerationRequest{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "just some prose", resp.Text)
	assert.False(t, resp.HasParsed())
	assert.Error(t, resp.DecodeParsed(&map[string]any{}))
}

func TestCLIAdapterEventStream(t *testing.T) {
	script := writeScript(t, `printf '%s\n' '{"type":"item.completed","item":{"type":"agent_message","text":"{\"agrees\":true}"}}'
printf '%s\n' '{"type":"turn.completed","usage":{"input_tokens":4,"output_tokens":2}}'`)
	a := NewCodexAdapter(CLIConfig{Binary: script})

	resp, err := a.Execute(context.Background(), GenerationRequest{Prompt: "verify"})
	require.NoError(t, err)
	assert.Equal(t, Codex, resp.Provider)
	assert.JSONEq(t, `{"agrees":true}`, string(resp.Parsed))
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 6, resp.Usage.TotalTokens)
}

func TestCLIAdapterUnsetsNestingEnv(t *testing.T) {
	t.Setenv(claudeNestingEnv, "1")
	script := writeScript(t, `echo "{\"result\":\"${CLAUDECODE:-unset}\"}"`)
	a := NewClaudeAdapter(CLIConfig{Binary: script})

	resp, err := a.Execute(context.Background(), GenerationRequest{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "unset", resp.Text)
}

func TestCLIAdapterNonZeroExit(t *testing.T) {
	script := writeScript(t, `echo "auth failed" 1>&2; exit 3`)
	a := NewGeminiAdapter(CLIConfig{Binary: script})

	_, err := a.Execute(context.Background(), GenerationRequest{Prompt: "x"})
	var execErr *BackendExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, 3, execErr.ExitCode)
	assert.Contains(t, execErr.Stderr, "auth failed")
	assert.True(t, IsTransient(err))
}

func TestCLIAdapterEmptyOutput(t *testing.T) {
	script := writeScript(t, `exit 0`)
	a := NewCodexAdapter(CLIConfig{Binary: script})

	_, err := a.Execute(context.Background(), GenerationRequest{Prompt: "x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEmptyOutput))
}

func TestCLIHealthCheck(t *testing.T) {
	missing := NewClaudeAdapter(CLIConfig{Binary: filepath.Join(t.TempDir(), "does-not-exist")})
	health := missing.HealthCheck(context.Background())
	assert.Equal(t, StatusUnavailable, health.Status)
	assert.NotEmpty(t, health.Error)

	ok := NewClaudeAdapter(CLIConfig{Binary: writeScript(t, `echo '{"result":"OK"}'`)})
	health = ok.HealthCheck(context.Background())
	assert.Equal(t, StatusAvailable, health.Status)
	assert.Equal(t, Claude, health.Backend)

	odd := NewClaudeAdapter(CLIConfig{Binary: writeScript(t, `echo '{"result":"maybe"}'`)})
	health = odd.HealthCheck(context.Background())
	assert.Equal(t, StatusDegraded, health.Status)
}

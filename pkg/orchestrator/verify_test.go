package orchestrator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zen-systems/quorum/pkg/adapter"
)

func verdict(backend adapter.BackendType, agrees bool, concerns ...string) VerificationVerdict {
	return VerificationVerdict{Backend: backend, Agrees: agrees, Confidence: 0.8, Concerns: concerns}
}

func TestReduce(t *testing.T) {
	primary := &adapter.GenerationResponse{Text: "analysis", Provider: adapter.Claude}

	tests := []struct {
		name     string
		verdicts []VerificationVerdict
		status   ConsensusStatus
		minority []string
	}{
		{
			name:   "no verifiers",
			status: Unanimous,
		},
		{
			name:     "agree agree",
			verdicts: []VerificationVerdict{verdict(adapter.Codex, true), verdict(adapter.Gemini, true)},
			status:   Unanimous,
		},
		{
			name:     "agree disagree",
			verdicts: []VerificationVerdict{verdict(adapter.Codex, true), verdict(adapter.Gemini, false, "ignores debt", "stale prices")},
			status:   Majority,
			minority: []string{"ignores debt", "stale prices"},
		},
		{
			name:     "disagree disagree",
			verdicts: []VerificationVerdict{verdict(adapter.Codex, false, "a"), verdict(adapter.Gemini, false, "b")},
			status:   NoConsensus,
		},
		{
			name:     "one of three",
			verdicts: []VerificationVerdict{verdict(adapter.Codex, true), verdict(adapter.Gemini, false), verdict(adapter.OpenAI, false)},
			status:   NoConsensus,
		},
		{
			name:     "two of three",
			verdicts: []VerificationVerdict{verdict(adapter.Codex, true), verdict(adapter.Gemini, true), verdict(adapter.OpenAI, false, "c")},
			status:   Majority,
			minority: []string{"c"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Reduce(primary, tt.verdicts)
			assert.Equal(t, tt.status, result.Status)
			assert.Equal(t, tt.minority, result.MinorityConcerns)
			assert.Len(t, result.Verifications, len(tt.verdicts))
			assert.NotNil(t, result.Verifications)
			assert.Same(t, primary, result.Primary)
		})
	}
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name       string
		parsed     string
		agrees     bool
		confidence float64
		concerns   []string
	}{
		{
			name:       "full payload",
			parsed:     `{"agrees":true,"confidence":0.9,"concerns":["minor"],"alternativeInterpretation":"x"}`,
			agrees:     true,
			confidence: 0.9,
			concerns:   []string{"minor"},
		},
		{
			name:       "missing fields use defaults",
			parsed:     `{"concerns":["unclear"]}`,
			agrees:     false,
			confidence: 0.5,
			concerns:   []string{"unclear"},
		},
		{
			name:       "no structured output",
			parsed:     ``,
			agrees:     false,
			confidence: 0.5,
			concerns:   []string{},
		},
		{
			name:       "wrong shape",
			parsed:     `[1,2,3]`,
			agrees:     false,
			confidence: 0.5,
			concerns:   []string{},
		},
		{
			name:       "confidence clamped",
			parsed:     `{"agrees":true,"confidence":7}`,
			agrees:     true,
			confidence: 1,
			concerns:   []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &adapter.GenerationResponse{Provider: adapter.Codex}
			if tt.parsed != "" {
				resp.Parsed = json.RawMessage(tt.parsed)
			}
			v := parseVerdict(adapter.Codex, resp)
			assert.Equal(t, adapter.Codex, v.Backend)
			assert.Equal(t, tt.agrees, v.Agrees)
			assert.InDelta(t, tt.confidence, v.Confidence, 1e-9)
			assert.Equal(t, tt.concerns, v.Concerns)
		})
	}
}

func TestExecuteWithVerificationMajority(t *testing.T) {
	f := newFixture(t,
		adapter.NewMockAdapter(adapter.Claude, ok(`{"thesis":"undervalued","confidence":0.7}`)),
		adapter.NewMockAdapter(adapter.Codex, ok(`{"agrees":true,"confidence":0.9,"concerns":[]}`)),
		adapter.NewMockAdapter(adapter.Gemini, ok("```json\n{\"agrees\":false,\"confidence\":0.6,\"concerns\":[\"ignores debt load\"]}\n```")),
	)

	result, err := f.orch.ExecuteWithVerification(context.Background(), "analyze-stock", map[string]any{
		"ticker":    "ACME",
		"priceData": "close 10.5",
	}, Options{})
	require.NoError(t, err)

	assert.Equal(t, Majority, result.Status)
	assert.Equal(t, adapter.Claude, result.Primary.Provider)
	assert.Len(t, result.Verifications, 2)
	assert.Equal(t, []string{"ignores debt load"}, result.MinorityConcerns)

	reqs := f.codex.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Prompt, `{"thesis":"undervalued","confidence":0.7}`)
	assert.Contains(t, reqs[0].Prompt, "Analyze ACME.")
	assert.Contains(t, reqs[0].Prompt, "close 10.5")
}

func TestExecuteWithVerificationToleratesVerifierFailure(t *testing.T) {
	f := newFixture(t,
		adapter.NewMockAdapter(adapter.Claude, ok("portfolio looks concentrated")),
		adapter.NewMockAdapter(adapter.Codex, fail(adapter.Codex)),
		adapter.NewMockAdapter(adapter.Gemini, ok(`{"agrees":true,"confidence":0.8,"concerns":[]}`)),
	)

	result, err := f.orch.ExecuteWithVerification(context.Background(), "analyze-portfolio", nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, Unanimous, result.Status)
	require.Len(t, result.Verifications, 1)
	assert.Equal(t, adapter.Gemini, result.Verifications[0].Backend)
}

func TestExecuteWithVerificationAllVerifiersFail(t *testing.T) {
	f := newFixture(t,
		adapter.NewMockAdapter(adapter.Claude, ok("analysis")),
		adapter.NewMockAdapter(adapter.Codex, fail(adapter.Codex)),
		adapter.NewMockAdapter(adapter.Gemini, fail(adapter.Gemini)),
	)

	result, err := f.orch.ExecuteWithVerification(context.Background(), "analyze-portfolio", nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, Unanimous, result.Status)
	assert.Empty(t, result.Verifications)
}

func TestExecuteWithVerificationDisabledByDefault(t *testing.T) {
	f := newFixture(t,
		adapter.NewMockAdapter(adapter.Claude, ok("hello")),
		adapter.NewMockAdapter(adapter.Codex),
		adapter.NewMockAdapter(adapter.Gemini),
	)

	result, err := f.orch.ExecuteWithVerification(context.Background(), "chat-reply", nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, Unanimous, result.Status)
	assert.Empty(t, result.Verifications)
	assert.NotNil(t, result.Verifications)
	assert.Zero(t, f.codex.Calls())
	assert.Zero(t, f.gemini.Calls())
}

func TestExecuteWithVerificationOverride(t *testing.T) {
	f := newFixture(t,
		adapter.NewMockAdapter(adapter.Claude, ok(`{"agrees":false,"concerns":["too short"]}`)),
		adapter.NewMockAdapter(adapter.Codex, ok(`{"agrees":false,"concerns":["off topic"]}`)),
		adapter.NewMockAdapter(adapter.Gemini, ok("greeting")),
	)

	result, err := f.orch.ExecuteWithVerification(context.Background(), "summarize-news", nil, Options{
		Verify: &VerifyConfig{Enabled: true, Verifiers: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, adapter.Gemini, result.Primary.Provider)
	assert.Equal(t, NoConsensus, result.Status)
	assert.Empty(t, result.MinorityConcerns)
	assert.Equal(t, 1, f.claude.Calls())
	assert.Equal(t, 1, f.codex.Calls())
}

func TestExecuteWithVerificationPrimaryFailurePropagates(t *testing.T) {
	f := newFixture(t,
		adapter.NewMockAdapter(adapter.Claude, fail(adapter.Claude)),
		adapter.NewMockAdapter(adapter.Codex, fail(adapter.Codex)),
		adapter.NewMockAdapter(adapter.Gemini, fail(adapter.Gemini)),
	)

	_, err := f.orch.ExecuteWithVerification(context.Background(), "analyze-stock", nil, Options{})
	var all *AllBackendsFailedError
	require.ErrorAs(t, err, &all)
}

func TestExecuteWithVerificationRunsVerifiersInParallel(t *testing.T) {
	codex := adapter.NewMockAdapter(adapter.Codex, ok(`{"agrees":true,"confidence":0.9}`))
	codex.Delay = 200 * time.Millisecond
	gemini := adapter.NewMockAdapter(adapter.Gemini, ok(`{"agrees":true,"confidence":0.8}`))
	gemini.Delay = 200 * time.Millisecond
	f := newFixture(t, adapter.NewMockAdapter(adapter.Claude, ok("analysis")), codex, gemini)

	start := time.Now()
	result, err := f.orch.ExecuteWithVerification(context.Background(), "analyze-stock", map[string]any{"ticker": "ACME"}, Options{})
	elapsed := time.Since(start)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
	assert.Less(t, elapsed, 350*time.Millisecond)
	require.Len(t, result.Verifications, 2)
	assert.Equal(t, Unanimous, result.Status)
}

func TestExecuteWithVerificationWaitsForSlowVerifier(t *testing.T) {
	codex := adapter.NewMockAdapter(adapter.Codex, ok(`{"agrees":true,"confidence":0.9}`))
	gemini := adapter.NewMockAdapter(adapter.Gemini, ok(`{"agrees":false,"concerns":["stale prices"]}`))
	gemini.Delay = 200 * time.Millisecond
	f := newFixture(t, adapter.NewMockAdapter(adapter.Claude, ok("analysis")), codex, gemini)

	start := time.Now()
	result, err := f.orch.ExecuteWithVerification(context.Background(), "analyze-stock", map[string]any{"ticker": "ACME"}, Options{})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)

	require.Len(t, result.Verifications, 2)
	backends := []adapter.BackendType{result.Verifications[0].Backend, result.Verifications[1].Backend}
	assert.ElementsMatch(t, []adapter.BackendType{adapter.Codex, adapter.Gemini}, backends)
	assert.Equal(t, Majority, result.Status)
	assert.Equal(t, []string{"stale prices"}, result.MinorityConcerns)
}

func TestPickVerifiersExcludesPrimary(t *testing.T) {
	f := newFixture(t, adapter.NewMockAdapter(adapter.Claude), adapter.NewMockAdapter(adapter.Codex), adapter.NewMockAdapter(adapter.Gemini))

	assert.Equal(t, []adapter.BackendType{adapter.Codex, adapter.Gemini}, f.orch.pickVerifiers(adapter.Claude, 5))
	assert.Equal(t, []adapter.BackendType{adapter.Claude}, f.orch.pickVerifiers(adapter.Codex, 1))
}

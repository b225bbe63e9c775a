package subagent

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zen-systems/quorum/pkg/adapter"
	"github.com/zen-systems/quorum/pkg/config"
	"github.com/zen-systems/quorum/pkg/orchestrator"
	"github.com/zen-systems/quorum/pkg/registry"
	"github.com/zen-systems/quorum/pkg/router"
	"github.com/zen-systems/quorum/pkg/skill"
)

// scriptedRunner dispatches on skill id.
type scriptedRunner struct {
	mu       sync.Mutex
	delays   map[string]time.Duration
	failures map[string]error
	panics   map[string]bool
	seen     []orchestrator.Options

	running    atomic.Int32
	maxRunning atomic.Int32
}

func (r *scriptedRunner) wait(ctx context.Context, skillID string) error {
	n := r.running.Add(1)
	defer r.running.Add(-1)
	for {
		old := r.maxRunning.Load()
		if n <= old || r.maxRunning.CompareAndSwap(old, n) {
			break
		}
	}

	r.mu.Lock()
	delay := r.delays[skillID]
	err := r.failures[skillID]
	shouldPanic := r.panics[skillID]
	r.mu.Unlock()

	if shouldPanic {
		panic("scripted panic")
	}
	if delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

func (r *scriptedRunner) Execute(ctx context.Context, skillID string, _ map[string]any, opts orchestrator.Options) (*adapter.GenerationResponse, error) {
	r.mu.Lock()
	r.seen = append(r.seen, opts)
	r.mu.Unlock()
	if err := r.wait(ctx, skillID); err != nil {
		return nil, err
	}
	return &adapter.GenerationResponse{Text: skillID, Provider: adapter.Claude}, nil
}

func (r *scriptedRunner) ExecuteWithVerification(ctx context.Context, skillID string, input map[string]any, opts orchestrator.Options) (*orchestrator.ConsensusResult, error) {
	resp, err := r.Execute(ctx, skillID, input, opts)
	if err != nil {
		return nil, err
	}
	return orchestrator.Reduce(resp, nil), nil
}

func TestRunKeepsOrderAndCounts(t *testing.T) {
	runner := &scriptedRunner{
		delays:   map[string]time.Duration{"slow": 50 * time.Millisecond},
		failures: map[string]error{"broken": errors.New("all backends failed")},
	}
	exec := NewExecutor(runner, Options{})

	batch := exec.Run(context.Background(), []Task{
		{ID: "t1", SkillID: "slow"},
		{ID: "t2", SkillID: "broken"},
		{ID: "t3", SkillID: "fast", Verify: true},
	})

	require.Len(t, batch.Results, 3)
	assert.Equal(t, 2, batch.Succeeded)
	assert.Equal(t, 1, batch.Failed)
	assert.Greater(t, batch.Duration, time.Duration(0))

	assert.Equal(t, "t1", batch.Results[0].TaskID)
	assert.True(t, batch.Results[0].Success)
	assert.Equal(t, "slow", batch.Results[0].Response.Text)

	assert.Equal(t, "t2", batch.Results[1].TaskID)
	assert.False(t, batch.Results[1].Success)
	assert.Equal(t, "all backends failed", batch.Results[1].Error)
	assert.Nil(t, batch.Results[1].Response)

	assert.Equal(t, "t3", batch.Results[2].TaskID)
	require.NotNil(t, batch.Results[2].Consensus)
	assert.Nil(t, batch.Results[2].Response)
	assert.Equal(t, orchestrator.Unanimous, batch.Results[2].Consensus.Status)
}

func TestRunTaskTimeoutIsIsolated(t *testing.T) {
	runner := &scriptedRunner{
		delays: map[string]time.Duration{"hang": 5 * time.Second, "quick": 10 * time.Millisecond},
	}
	exec := NewExecutor(runner, Options{})

	start := time.Now()
	batch := exec.Run(context.Background(), []Task{
		{ID: "hung", SkillID: "hang", Timeout: 50 * time.Millisecond},
		{ID: "ok", SkillID: "quick", Timeout: time.Second},
	})
	assert.Less(t, time.Since(start), 2*time.Second)

	hung := batch.Results[0]
	require.False(t, hung.Success)
	var timeoutErr *TimeoutError
	require.ErrorAs(t, hung.Err, &timeoutErr)
	assert.Equal(t, "hung", timeoutErr.TaskID)
	assert.Equal(t, 50*time.Millisecond, timeoutErr.Timeout)
	assert.ErrorIs(t, hung.Err, context.DeadlineExceeded)
	assert.Contains(t, hung.Error, "subagent task hung timed out")

	assert.True(t, batch.Results[1].Success)
	assert.Equal(t, 1, batch.Succeeded)
	assert.Equal(t, 1, batch.Failed)
}

func TestRunRecoversPanics(t *testing.T) {
	runner := &scriptedRunner{panics: map[string]bool{"explode": true}}
	exec := NewExecutor(runner, Options{})

	batch := exec.Run(context.Background(), []Task{
		{ID: "a", SkillID: "explode"},
		{ID: "b", SkillID: "fine"},
	})
	assert.False(t, batch.Results[0].Success)
	assert.Contains(t, batch.Results[0].Error, "panicked")
	assert.True(t, batch.Results[1].Success)
}

func TestRunAssignsIDsAndPassesBackend(t *testing.T) {
	runner := &scriptedRunner{}
	exec := NewExecutor(runner, Options{})

	batch := exec.Run(context.Background(), []Task{{SkillID: "x", Backend: adapter.Gemini}})
	require.Len(t, batch.Results, 1)
	assert.Len(t, batch.Results[0].TaskID, 36)
	require.Len(t, runner.seen, 1)
	assert.Equal(t, adapter.Gemini, runner.seen[0].Backend)
}

func TestRunBoundsConcurrency(t *testing.T) {
	runner := &scriptedRunner{delays: map[string]time.Duration{"work": 20 * time.Millisecond}}
	exec := NewExecutor(runner, Options{MaxConcurrency: 2})

	tasks := make([]Task, 6)
	for i := range tasks {
		tasks[i] = Task{SkillID: "work"}
	}
	batch := exec.Run(context.Background(), tasks)
	assert.Equal(t, 6, batch.Succeeded)
	assert.LessOrEqual(t, runner.maxRunning.Load(), int32(2))
}

func TestRunCallerCancellationIsNotTimeout(t *testing.T) {
	runner := &scriptedRunner{delays: map[string]time.Duration{"hang": 5 * time.Second}}
	exec := NewExecutor(runner, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	batch := exec.Run(ctx, []Task{{ID: "x", SkillID: "hang", Timeout: time.Minute}})

	var timeoutErr *TimeoutError
	assert.False(t, errors.As(batch.Results[0].Err, &timeoutErr))
	assert.ErrorIs(t, batch.Results[0].Err, context.Canceled)
}

func TestRunAgainstOrchestrator(t *testing.T) {
	backends, err := registry.New([]adapter.Adapter{
		adapter.NewMockAdapter(adapter.Claude, adapter.MockReply{Text: `{"summary":"ok"}`}),
		adapter.NewMockAdapter(adapter.Codex, adapter.MockReply{Text: `{"agrees":true,"confidence":0.9}`}),
		adapter.NewMockAdapter(adapter.Gemini, adapter.MockReply{Text: `{"agrees":true,"confidence":0.7}`}),
	})
	require.NoError(t, err)
	skills, err := skill.Load()
	require.NoError(t, err)
	orch := orchestrator.New(backends, skills, router.FromConfig(config.DefaultConfig()),
		orchestrator.WithVerificationDefaults(map[string]orchestrator.VerifyConfig{
			"analyze-portfolio": {Enabled: true, Verifiers: 2},
		}),
	)

	batch := NewExecutor(orch, Options{MaxConcurrency: 4}).Run(context.Background(), []Task{
		{ID: "portfolio", SkillID: "analyze-portfolio", Verify: true},
		{ID: "chat", SkillID: "chat-reply", Input: map[string]any{"question": "hi"}},
		{ID: "bad", SkillID: "no-such-skill"},
	})

	assert.Equal(t, 2, batch.Succeeded)
	assert.Equal(t, 1, batch.Failed)
	require.NotNil(t, batch.Results[0].Consensus)
	assert.Equal(t, orchestrator.Unanimous, batch.Results[0].Consensus.Status)
	assert.Len(t, batch.Results[0].Consensus.Verifications, 2)
	var unknown *skill.UnknownSkillError
	assert.ErrorAs(t, batch.Results[2].Err, &unknown)
}

// Package subagent runs batches of independent orchestrator tasks
// concurrently, isolating each task's failure and timeout from the others.
package subagent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/zen-systems/quorum/pkg/adapter"
	"github.com/zen-systems/quorum/pkg/logging"
	"github.com/zen-systems/quorum/pkg/metrics"
	"github.com/zen-systems/quorum/pkg/orchestrator"
)

// DefaultTimeout applies to tasks that set none.
const DefaultTimeout = 5 * time.Minute

// Runner is the orchestrator surface a batch needs.
type Runner interface {
	Execute(ctx context.Context, skillID string, input map[string]any, opts orchestrator.Options) (*adapter.GenerationResponse, error)
	ExecuteWithVerification(ctx context.Context, skillID string, input map[string]any, opts orchestrator.Options) (*orchestrator.ConsensusResult, error)
}

// Task is one unit of work in a batch.
type Task struct {
	ID      string              `yaml:"id" json:"id"`
	SkillID string              `yaml:"skill" json:"skill"`
	Backend adapter.BackendType `yaml:"backend,omitempty" json:"backend,omitempty"`
	Input   map[string]any      `yaml:"input" json:"input"`
	Timeout time.Duration       `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Verify  bool                `yaml:"verify,omitempty" json:"verify,omitempty"`
}

// Result is the outcome of one task. Exactly one of Response, Consensus or
// Error is set.
type Result struct {
	TaskID    string                        `json:"task_id"`
	Success   bool                          `json:"success"`
	Response  *adapter.GenerationResponse   `json:"response,omitempty"`
	Consensus *orchestrator.ConsensusResult `json:"consensus,omitempty"`
	Error     string                        `json:"error,omitempty"`
	Err       error                         `json:"-"`
	Duration  time.Duration                 `json:"duration"`
}

// BatchResult aggregates a batch. Results are in task order.
type BatchResult struct {
	Results   []Result      `json:"results"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

// TimeoutError reports a task that exceeded its own deadline. It is distinct
// from adapter.BackendTimeoutError, which reports a single subprocess.
type TimeoutError struct {
	TaskID  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("subagent task %s timed out after %s", e.TaskID, e.Timeout)
}

func (e *TimeoutError) Unwrap() error {
	return context.DeadlineExceeded
}

// Options configures an Executor.
type Options struct {
	// MaxConcurrency caps concurrently running tasks; 0 means unbounded.
	MaxConcurrency int
	DefaultTimeout time.Duration
	Logger         logrus.FieldLogger
	Metrics        *metrics.Collector
}

// Executor runs task batches.
type Executor struct {
	runner         Runner
	maxConcurrency int
	defaultTimeout time.Duration
	log            logrus.FieldLogger
	metrics        *metrics.Collector
}

// NewExecutor creates an executor over runner.
func NewExecutor(runner Runner, opts Options) *Executor {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultTimeout
	}
	return &Executor{
		runner:         runner,
		maxConcurrency: opts.MaxConcurrency,
		defaultTimeout: opts.DefaultTimeout,
		log:            logging.OrDiscard(opts.Logger),
		metrics:        opts.Metrics,
	}
}

// Run executes every task concurrently and waits for all of them. A task's
// failure, timeout or panic never affects another task's result.
func (e *Executor) Run(ctx context.Context, tasks []Task) BatchResult {
	start := time.Now()
	results := make([]Result, len(tasks))

	var g errgroup.Group
	if e.maxConcurrency > 0 {
		g.SetLimit(e.maxConcurrency)
	}
	for i := range tasks {
		task := tasks[i]
		if task.ID == "" {
			task.ID = uuid.NewString()
		}
		g.Go(func() error {
			results[i] = e.runTask(ctx, task)
			return nil
		})
	}
	_ = g.Wait()

	batch := BatchResult{Results: results, Duration: time.Since(start)}
	for _, r := range results {
		if r.Success {
			batch.Succeeded++
		} else {
			batch.Failed++
		}
	}
	e.log.WithFields(logrus.Fields{
		"tasks":     len(tasks),
		"succeeded": batch.Succeeded,
		"failed":    batch.Failed,
		"latency":   batch.Duration,
	}).Info("batch complete")
	return batch
}

type taskOutcome struct {
	response  *adapter.GenerationResponse
	consensus *orchestrator.ConsensusResult
	err       error
}

func (e *Executor) runTask(ctx context.Context, task Task) Result {
	start := time.Now()
	timeout := task.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan taskOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- taskOutcome{err: fmt.Errorf("task panicked: %v", r)}
			}
		}()
		done <- e.call(taskCtx, task)
	}()

	var out taskOutcome
	select {
	case out = <-done:
	case <-taskCtx.Done():
		out = taskOutcome{err: taskCtx.Err()}
	}
	if out.err != nil && errors.Is(taskCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		out.err = &TimeoutError{TaskID: task.ID, Timeout: timeout}
	}

	result := Result{
		TaskID:    task.ID,
		Success:   out.err == nil,
		Response:  out.response,
		Consensus: out.consensus,
		Err:       out.err,
		Duration:  time.Since(start),
	}
	log := e.log.WithFields(logrus.Fields{"task_id": task.ID, "skill": task.SkillID, "latency": result.Duration})
	if out.err != nil {
		result.Response, result.Consensus = nil, nil
		result.Error = out.err.Error()
		log.WithError(out.err).Warn("subagent task failed")
	} else {
		log.Debug("subagent task succeeded")
	}
	e.metrics.Task(taskOutcomeLabel(out.err))
	return result
}

func (e *Executor) call(ctx context.Context, task Task) taskOutcome {
	opts := orchestrator.Options{Backend: task.Backend}
	if task.Verify {
		c, err := e.runner.ExecuteWithVerification(ctx, task.SkillID, task.Input, opts)
		return taskOutcome{consensus: c, err: err}
	}
	r, err := e.runner.Execute(ctx, task.SkillID, task.Input, opts)
	return taskOutcome{response: r, err: err}
}

func taskOutcomeLabel(err error) string {
	var timeoutErr *TimeoutError
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &timeoutErr):
		return "timeout"
	default:
		return "error"
	}
}

package adapter

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultTimeout applies when neither the request nor the adapter config sets one.
const DefaultTimeout = 2 * time.Minute

// CLIConfig configures a subprocess backend. The argument contract is fixed
// per backend; only the executable and model are configurable.
type CLIConfig struct {
	Binary    string
	Model     string
	Timeout   time.Duration
	KillGrace time.Duration
}

// argBuilder turns a request into the backend's argument list.
type argBuilder func(req GenerationRequest, model string) []string

// CLIAdapter implements Adapter for a command-line backend.
type CLIAdapter struct {
	name     BackendType
	cfg      CLIConfig
	framing  Framing
	args     argBuilder
	unsetEnv []string
	runner   *Runner
}

func newCLIAdapter(name BackendType, cfg CLIConfig, defaultModel string, framing Framing, args argBuilder, unsetEnv ...string) *CLIAdapter {
	if cfg.Binary == "" {
		cfg.Binary = string(name)
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	return &CLIAdapter{
		name:     name,
		cfg:      cfg,
		framing:  framing,
		args:     args,
		unsetEnv: unsetEnv,
		runner:   &Runner{Grace: cfg.KillGrace},
	}
}

// Name returns the adapter identifier.
func (a *CLIAdapter) Name() BackendType {
	return a.name
}

// Model returns the model selector passed to the backend.
func (a *CLIAdapter) Model() string {
	return a.cfg.Model
}

// Framing returns the stdout framing this backend uses.
func (a *CLIAdapter) Framing() Framing {
	return a.framing
}

// Args returns the argument list Execute would pass for req.
func (a *CLIAdapter) Args(req GenerationRequest) []string {
	return a.args(req, a.cfg.Model)
}

// Execute spawns the backend and decodes its output.
func (a *CLIAdapter) Execute(ctx context.Context, req GenerationRequest) (*GenerationResponse, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = a.cfg.Timeout
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	res, err := a.runner.Run(ctx, a.name, Command{
		Path:     a.cfg.Binary,
		Args:     a.Args(req),
		UnsetEnv: a.unsetEnv,
	}, timeout)
	if err != nil {
		return nil, err
	}

	out, err := Decode(a.framing, res.Stdout)
	if err != nil {
		return nil, &BackendExecutionError{Backend: a.name, Stderr: res.Stderr, Err: err}
	}
	if strings.TrimSpace(out.Text) == "" {
		return nil, &BackendExecutionError{Backend: a.name, Stderr: res.Stderr, Err: ErrEmptyOutput}
	}

	resp := &GenerationResponse{
		RequestID: newRequestID(),
		Text:      out.Text,
		Provider:  a.name,
		Model:     a.cfg.Model,
		Duration:  res.Duration,
		Usage:     out.Usage,
	}
	if parsed, ok := ExtractJSON(out.Text); ok {
		resp.Parsed = parsed
	}
	if out.CostUSD != nil {
		resp.Cost = &Cost{Currency: "USD", Amount: *out.CostUSD, PricingModel: "reported"}
	}
	return resp, nil
}

// HealthCheck probes the backend; a missing executable is unavailable without spawning.
func (a *CLIAdapter) HealthCheck(ctx context.Context) BackendHealth {
	if _, err := exec.LookPath(a.cfg.Binary); err != nil {
		return BackendHealth{
			Backend:   a.name,
			Status:    StatusUnavailable,
			Error:     fmt.Sprintf("executable %q not found: %v", a.cfg.Binary, err),
			CheckedAt: time.Now(),
		}
	}
	return Probe(ctx, a)
}

// withSystemBlock prepends system instructions for backends without a
// dedicated system channel.
func withSystemBlock(system, prompt string) string {
	system = strings.TrimSpace(system)
	if system == "" {
		return prompt
	}
	var sb strings.Builder
	sb.WriteString("<system_instructions>\n")
	sb.WriteString(system)
	sb.WriteString("\n</system_instructions>\n\n")
	sb.WriteString(prompt)
	return sb.String()
}

func newRequestID() string {
	return uuid.NewString()
}

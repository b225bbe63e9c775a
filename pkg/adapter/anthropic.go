package adapter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicAdapter implements Adapter against the Anthropic Messages API.
type AnthropicAdapter struct {
	client anthropic.Client
	cfg    APIConfig
}

// NewAnthropicAdapter creates a new Anthropic adapter.
func NewAnthropicAdapter(cfg APIConfig) (*AnthropicAdapter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-20250514"
	}
	client := anthropic.NewClient(option.WithAPIKey(cfg.APIKey))
	return &AnthropicAdapter{client: client, cfg: cfg}, nil
}

// Name returns the adapter identifier.
func (a *AnthropicAdapter) Name() BackendType {
	return Anthropic
}

// Execute sends the request to the Messages API.
func (a *AnthropicAdapter) Execute(ctx context.Context, req GenerationRequest) (*GenerationResponse, error) {
	timeout := apiTimeout(req, a.cfg)
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.cfg.Model),
		MaxTokens: int64(apiMaxTokens(req)),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
		Temperature: anthropic.Float(req.Temperature),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	start := time.Now()
	resp, err := a.client.Messages.New(callCtx, params)
	if err != nil {
		return nil, classifyAPIError(ctx, callCtx, Anthropic, timeout, err)
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(content.String()) == "" {
		return nil, &BackendExecutionError{Backend: Anthropic, Err: ErrEmptyOutput}
	}

	usage := &Usage{
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	return newAPIResponse(Anthropic, a.cfg.Model, content.String(), start, usage), nil
}

// HealthCheck probes the API with a minimal request.
func (a *AnthropicAdapter) HealthCheck(ctx context.Context) BackendHealth {
	return Probe(ctx, a)
}

package adapter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIAdapter implements Adapter against the OpenAI chat completions API.
type OpenAIAdapter struct {
	client openai.Client
	cfg    APIConfig
}

// NewOpenAIAdapter creates a new OpenAI adapter.
func NewOpenAIAdapter(cfg APIConfig) (*OpenAIAdapter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4.1"
	}
	client := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	return &OpenAIAdapter{client: client, cfg: cfg}, nil
}

// Name returns the adapter identifier.
func (a *OpenAIAdapter) Name() BackendType {
	return OpenAI
}

// Execute sends the request as a chat completion.
func (a *OpenAIAdapter) Execute(ctx context.Context, req GenerationRequest) (*GenerationResponse, error) {
	timeout := apiTimeout(req, a.cfg)
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	start := time.Now()
	resp, err := a.client.Chat.Completions.New(callCtx, openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(a.cfg.Model),
		Messages:            messages,
		MaxCompletionTokens: openai.Int(int64(apiMaxTokens(req))),
		Temperature:         openai.Float(req.Temperature),
	})
	if err != nil {
		return nil, classifyAPIError(ctx, callCtx, OpenAI, timeout, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, &BackendExecutionError{Backend: OpenAI, Err: ErrEmptyOutput}
	}

	usage := &Usage{
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:      int(resp.Usage.TotalTokens),
	}
	return newAPIResponse(OpenAI, a.cfg.Model, resp.Choices[0].Message.Content, start, usage), nil
}

// HealthCheck probes the API with a minimal request.
func (a *OpenAIAdapter) HealthCheck(ctx context.Context) BackendHealth {
	return Probe(ctx, a)
}

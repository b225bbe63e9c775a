package adapter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

// GoogleAdapter implements Adapter against the Gemini API.
type GoogleAdapter struct {
	client *genai.Client
	cfg    APIConfig
}

// NewGoogleAdapter creates a new Google Gemini adapter.
func NewGoogleAdapter(ctx context.Context, cfg APIConfig) (*GoogleAdapter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("google API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create google client: %w", err)
	}
	return &GoogleAdapter{client: client, cfg: cfg}, nil
}

// Name returns the adapter identifier.
func (a *GoogleAdapter) Name() BackendType {
	return Google
}

// Execute sends the request to GenerateContent.
func (a *GoogleAdapter) Execute(ctx context.Context, req GenerationRequest) (*GenerationResponse, error) {
	timeout := apiTimeout(req, a.cfg)
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	temperature := float32(req.Temperature)
	genCfg := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: int32(apiMaxTokens(req)),
	}
	if req.System != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	start := time.Now()
	resp, err := a.client.Models.GenerateContent(callCtx, a.cfg.Model, genai.Text(req.Prompt), genCfg)
	if err != nil {
		return nil, classifyAPIError(ctx, callCtx, Google, timeout, err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, &BackendExecutionError{Backend: Google, Err: fmt.Errorf("google returned no candidates")}
	}

	var content strings.Builder
	if resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if part.Text != "" {
				content.WriteString(part.Text)
			}
		}
	}
	if strings.TrimSpace(content.String()) == "" {
		return nil, &BackendExecutionError{Backend: Google, Err: ErrEmptyOutput}
	}

	var usage *Usage
	if resp.UsageMetadata != nil {
		usage = &Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	return newAPIResponse(Google, a.cfg.Model, content.String(), start, usage), nil
}

// HealthCheck probes the API with a minimal request.
func (a *GoogleAdapter) HealthCheck(ctx context.Context) BackendHealth {
	return Probe(ctx, a)
}

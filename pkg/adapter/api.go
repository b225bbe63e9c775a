package adapter

import (
	"context"
	"errors"
	"time"
)

// APIConfig configures an HTTP API backend.
type APIConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

const defaultAPIMaxTokens = 4096

func apiTimeout(req GenerationRequest, cfg APIConfig) time.Duration {
	if req.Timeout > 0 {
		return req.Timeout
	}
	if cfg.Timeout > 0 {
		return cfg.Timeout
	}
	return DefaultTimeout
}

func apiMaxTokens(req GenerationRequest) int {
	if req.MaxOutputTokens > 0 {
		return req.MaxOutputTokens
	}
	return defaultAPIMaxTokens
}

// classifyAPIError maps SDK errors onto the backend error taxonomy.
func classifyAPIError(ctx, callCtx context.Context, backend BackendType, timeout time.Duration, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return &BackendTimeoutError{Backend: backend, Timeout: timeout}
	}
	return &BackendExecutionError{Backend: backend, Err: err}
}

func newAPIResponse(backend BackendType, model, text string, start time.Time, usage *Usage) *GenerationResponse {
	resp := &GenerationResponse{
		RequestID: newRequestID(),
		Text:      text,
		Provider:  backend,
		Model:     model,
		Duration:  time.Since(start),
		Usage:     usage,
	}
	if parsed, ok := ExtractJSON(text); ok {
		resp.Parsed = parsed
	}
	return resp
}

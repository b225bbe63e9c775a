package adapter

import (
	"context"
)

// BackendType identifies one interchangeable generation backend.
type BackendType string

const (
	Claude    BackendType = "claude"
	Codex     BackendType = "codex"
	Gemini    BackendType = "gemini"
	Anthropic BackendType = "anthropic"
	OpenAI    BackendType = "openai"
	Google    BackendType = "google"
)

// CLIBackends lists the subprocess backends in their default preference order.
var CLIBackends = []BackendType{Claude, Codex, Gemini}

// Adapter defines the interface for backend adapters.
//
// Implementations are stateless request/response units and must be safe for
// concurrent use.
type Adapter interface {
	// Name returns the backend identifier.
	Name() BackendType

	// Execute runs one generation request and returns a normalized response.
	Execute(ctx context.Context, req GenerationRequest) (*GenerationResponse, error)

	// HealthCheck issues a minimal probe and classifies the result. It never
	// returns an error; failures are reported as StatusUnavailable.
	HealthCheck(ctx context.Context) BackendHealth
}

package adapter

import (
	"encoding/json"
	"fmt"
	"time"
)

// GenerationRequest is the backend-agnostic input to Execute.
type GenerationRequest struct {
	System          string        `json:"system,omitempty"`
	Prompt          string        `json:"prompt"`
	OutputSchema    string        `json:"output_schema,omitempty"`
	MaxOutputTokens int           `json:"max_output_tokens,omitempty"`
	Temperature     float64       `json:"temperature"`
	Timeout         time.Duration `json:"timeout,omitempty"`
}

// Usage captures normalized token usage.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Cost captures normalized cost estimates.
type Cost struct {
	Currency     string  `json:"currency"`
	Amount       float64 `json:"amount"`
	IsEstimate   bool    `json:"is_estimate"`
	PricingModel string  `json:"pricing_model,omitempty"`
}

// GenerationResponse is the normalized result of one backend invocation.
// Values are never mutated after they are returned; the With* helpers copy.
type GenerationResponse struct {
	RequestID        string          `json:"request_id"`
	Text             string          `json:"text"`
	Provider         BackendType     `json:"provider"`
	Model            string          `json:"model,omitempty"`
	Parsed           json.RawMessage `json:"parsed,omitempty"`
	Duration         time.Duration   `json:"duration"`
	Usage            *Usage          `json:"usage,omitempty"`
	Cost             *Cost           `json:"cost,omitempty"`
	WasFallback      bool            `json:"was_fallback"`
	OriginalProvider BackendType     `json:"original_provider,omitempty"`
}

// HasParsed reports whether the backend output contained structured JSON.
func (r *GenerationResponse) HasParsed() bool {
	return r != nil && len(r.Parsed) > 0
}

// DecodeParsed unmarshals the structured payload into v.
func (r *GenerationResponse) DecodeParsed(v any) error {
	if !r.HasParsed() {
		return fmt.Errorf("response from %s has no structured output", r.Provider)
	}
	return json.Unmarshal(r.Parsed, v)
}

// WithFallback returns a copy annotated with the serving backend and, when
// provider differs from original, the fallback fields.
func (r *GenerationResponse) WithFallback(provider, original BackendType) *GenerationResponse {
	out := *r
	out.Provider = provider
	out.WasFallback = original != "" && original != provider
	if out.WasFallback {
		out.OriginalProvider = original
	} else {
		out.OriginalProvider = ""
	}
	return &out
}

// WithCost returns a copy carrying the given cost.
func (r *GenerationResponse) WithCost(cost *Cost) *GenerationResponse {
	out := *r
	out.Cost = cost
	return &out
}

// HealthStatus is the coarse reachability verdict for a backend.
type HealthStatus string

const (
	StatusAvailable   HealthStatus = "available"
	StatusUnavailable HealthStatus = "unavailable"
	StatusDegraded    HealthStatus = "degraded"
)

// BackendHealth is one probe measurement.
type BackendHealth struct {
	Backend   BackendType   `json:"backend"`
	Status    HealthStatus  `json:"status"`
	Latency   time.Duration `json:"latency"`
	Error     string        `json:"error,omitempty"`
	CheckedAt time.Time     `json:"checked_at"`
}

// Available reports whether the backend may be selected.
func (h BackendHealth) Available() bool {
	return h.Status == StatusAvailable
}

package adapter

import (
	"context"
	"strings"
	"time"
)

// ProbeTimeout bounds a single health probe.
const ProbeTimeout = 10 * time.Second

const (
	probePrompt = "Reply with exactly the word OK and nothing else."
	probeToken  = "OK"
)

// ProbeRequest is the minimal low-cost request used by health checks.
func ProbeRequest() GenerationRequest {
	return GenerationRequest{
		Prompt:          probePrompt,
		MaxOutputTokens: 16,
		Temperature:     0,
		Timeout:         ProbeTimeout,
	}
}

// Probe executes ProbeRequest against a and classifies the outcome.
func Probe(ctx context.Context, a Adapter) BackendHealth {
	start := time.Now()
	resp, err := a.Execute(ctx, ProbeRequest())
	health := BackendHealth{
		Backend:   a.Name(),
		Latency:   time.Since(start),
		CheckedAt: time.Now(),
	}
	switch {
	case err != nil:
		health.Status = StatusUnavailable
		health.Error = err.Error()
	case strings.Contains(strings.ToUpper(resp.Text), probeToken):
		health.Status = StatusAvailable
	default:
		health.Status = StatusDegraded
		health.Error = "unexpected probe reply: " + truncate(strings.TrimSpace(resp.Text), 80)
	}
	return health
}

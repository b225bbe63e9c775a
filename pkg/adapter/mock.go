package adapter

import (
	"context"
	"sync"
	"time"
)

// MockReply is one scripted outcome of MockAdapter.Execute.
type MockReply struct {
	Text string
	Err  error
}

// MockAdapter returns scripted responses for local runs and tests. Replies are
// consumed in order; the last one repeats.
type MockAdapter struct {
	name    BackendType
	replies []MockReply

	// Delay is applied before each Execute; it honours context cancellation.
	Delay time.Duration
	// Status is what HealthCheck reports.
	Status HealthStatus
	// HealthDelay is applied before each HealthCheck. A probe cut short by its
	// context reports unavailable.
	HealthDelay time.Duration

	mu          sync.Mutex
	calls       int
	healthCalls int
	requests    []GenerationRequest
}

// NewMockAdapter creates a mock backend with the given scripted replies.
func NewMockAdapter(name BackendType, replies ...MockReply) *MockAdapter {
	if len(replies) == 0 {
		replies = []MockReply{{Text: "mock response"}}
	}
	return &MockAdapter{name: name, replies: replies, Status: StatusAvailable}
}

// Name returns the adapter identifier.
func (a *MockAdapter) Name() BackendType {
	return a.name
}

// Execute returns the next scripted reply.
func (a *MockAdapter) Execute(ctx context.Context, req GenerationRequest) (*GenerationResponse, error) {
	a.mu.Lock()
	idx := a.calls
	if idx >= len(a.replies) {
		idx = len(a.replies) - 1
	}
	reply := a.replies[idx]
	a.calls++
	a.requests = append(a.requests, req)
	delay := a.Delay
	a.mu.Unlock()

	start := time.Now()
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if reply.Err != nil {
		return nil, reply.Err
	}

	resp := &GenerationResponse{
		RequestID: newRequestID(),
		Text:      reply.Text,
		Provider:  a.name,
		Model:     "mock-1",
		Duration:  time.Since(start),
	}
	if parsed, ok := ExtractJSON(reply.Text); ok {
		resp.Parsed = parsed
	}
	return resp, nil
}

// HealthCheck reports the configured Status.
func (a *MockAdapter) HealthCheck(ctx context.Context) BackendHealth {
	a.mu.Lock()
	a.healthCalls++
	status := a.Status
	delay := a.HealthDelay
	a.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return BackendHealth{Backend: a.name, Status: StatusUnavailable, Error: ctx.Err().Error(), CheckedAt: time.Now()}
		case <-timer.C:
		}
	}

	health := BackendHealth{Backend: a.name, Status: status, CheckedAt: time.Now()}
	if status != StatusAvailable {
		health.Error = "mock backend " + string(status)
	}
	return health
}

// SetStatus changes the status reported by subsequent health checks.
func (a *MockAdapter) SetStatus(status HealthStatus) {
	a.mu.Lock()
	a.Status = status
	a.mu.Unlock()
}

// Calls returns how many times Execute ran.
func (a *MockAdapter) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// HealthCalls returns how many times HealthCheck ran.
func (a *MockAdapter) HealthCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.healthCalls
}

// Requests returns a copy of every request Execute received.
func (a *MockAdapter) Requests() []GenerationRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]GenerationRequest(nil), a.requests...)
}

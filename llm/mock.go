package llm

import (
	"context"
	"sync"
)

// MockProvider is a scripted Provider for tests and local development. It
// returns queued responses in order and records every request it saw.
type MockProvider struct {
	mu        sync.Mutex
	responses []mockResult
	requests  []*ChatRequest
}

type mockResult struct {
	resp *ChatResponse
	err  error
}

// NewMockProvider creates an empty mock. A mock with no queued responses
// fails requests with ErrUpstreamError.
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

func (m *MockProvider) Name() string { return "mock" }

// QueueResponse appends a successful response to the script.
func (m *MockProvider) QueueResponse(resp *ChatResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, mockResult{resp: resp})
}

// QueueError appends a failure to the script.
func (m *MockProvider) QueueError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, mockResult{err: err})
}

// Requests returns a copy of all requests seen so far.
func (m *MockProvider) Requests() []*ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*ChatRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

func (m *MockProvider) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)

	if len(m.responses) == 0 {
		return nil, &Error{Code: ErrUpstreamError, Message: "mock provider script exhausted", Provider: m.Name()}
	}
	next := m.responses[0]
	m.responses = m.responses[1:]
	if next.err != nil {
		return nil, next.err
	}
	return next.resp, nil
}

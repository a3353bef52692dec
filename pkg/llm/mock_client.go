package llm

import (
	"context"
	"sync"
)

// MockClient is a scriptable Client implementation for tests. Responses are
// returned in order; when the script runs out the last response repeats.
type MockClient struct {
	mu        sync.Mutex
	responses []CompletionResponse
	err       error
	callCount int

	// CompleteFunc, when set, overrides the scripted responses entirely.
	CompleteFunc func(ctx context.Context, in CompletionRequest) (CompletionResponse, error)
}

// NewMockClient creates a mock client that replays the given responses,
// or fails every call with err when err is non-nil.
func NewMockClient(responses []CompletionResponse, err error) *MockClient {
	return &MockClient{
		responses: responses,
		err:       err,
	}
}

// Complete implements the Client interface.
func (m *MockClient) Complete(ctx context.Context, in CompletionRequest) (CompletionResponse, error) {
	m.mu.Lock()
	m.callCount++
	idx := m.callCount - 1
	fn := m.CompleteFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, in)
	}

	if err := ctx.Err(); err != nil {
		return CompletionResponse{}, err
	}
	if m.err != nil {
		return CompletionResponse{}, m.err
	}
	if len(m.responses) == 0 {
		return CompletionResponse{Content: "mock response", StopReason: "end_turn"}, nil
	}
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	return m.responses[idx], nil
}

// GetModelName implements the Client interface.
func (m *MockClient) GetModelName() string {
	return "mock-model"
}

// CallCount returns how many times Complete has been invoked.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

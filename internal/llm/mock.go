package llm

import (
	"context"
	"sync"
)

// MockCompleter is a configurable Completer for tests. Set CompleteFunc to
// control responses; every call is recorded.
type MockCompleter struct {
	// CompleteFunc is called by Complete. If nil, Complete returns Content.
	CompleteFunc func(ctx context.Context, req Request) (*Response, error)

	// Content is returned when CompleteFunc is nil.
	Content string

	// ModelName is returned by Model. Defaults to "mock-model".
	ModelName string

	mu       sync.Mutex
	Requests []Request
}

// NewMockCompleter returns a mock that answers every call with content.
func NewMockCompleter(content string) *MockCompleter {
	return &MockCompleter{Content: content, ModelName: "mock-model"}
}

// Complete implements Completer.
func (m *MockCompleter) Complete(ctx context.Context, req Request) (*Response, error) {
	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	m.mu.Unlock()

	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	return &Response{
		Content: m.Content,
		Model:   m.Model(),
		Usage:   &Usage{PromptTokens: len(req.Prompt) / 4, CompletionTokens: len(m.Content) / 4, TotalTokens: (len(req.Prompt) + len(m.Content)) / 4},
	}, nil
}

// Model implements Completer.
func (m *MockCompleter) Model() string {
	if m.ModelName == "" {
		return "mock-model"
	}
	return m.ModelName
}

// Calls returns the number of Complete invocations.
func (m *MockCompleter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

// LastRequest returns the most recent request, if any.
func (m *MockCompleter) LastRequest() (Request, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Requests) == 0 {
		return Request{}, false
	}
	return m.Requests[len(m.Requests)-1], true
}

var _ Completer = (*MockCompleter)(nil)

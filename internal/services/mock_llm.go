package services

import (
	"context"
	"sync"

	"github.com/jwebster45206/crash-engine/pkg/pricing"
)

// MockModelClient is a mock implementation of ModelClient for testing.
type MockModelClient struct {
	CompleteFunc func(ctx context.Context, req *ModelRequest) (*ModelResponse, error)
	StreamFunc   func(ctx context.Context, req *ModelRequest) (<-chan StreamEvent, error)

	// Track calls for testing
	CompleteCalls []*ModelRequest
	StreamCalls   []*ModelRequest

	mu sync.Mutex // protects the call slices
}

var _ ModelClient = (*MockModelClient)(nil)

// NewMockModelClient creates a new mock model client.
func NewMockModelClient() *MockModelClient {
	return &MockModelClient{}
}

func (m *MockModelClient) Complete(ctx context.Context, req *ModelRequest) (*ModelResponse, error) {
	m.mu.Lock()
	m.CompleteCalls = append(m.CompleteCalls, req)
	m.mu.Unlock()

	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	return &ModelResponse{
		Text:  "mock response",
		Usage: pricing.Usage{InputTokens: 10, OutputTokens: 5},
	}, nil
}

func (m *MockModelClient) Stream(ctx context.Context, req *ModelRequest) (<-chan StreamEvent, error) {
	m.mu.Lock()
	m.StreamCalls = append(m.StreamCalls, req)
	m.mu.Unlock()

	if m.StreamFunc != nil {
		return m.StreamFunc(ctx, req)
	}

	events := make(chan StreamEvent, 2)
	events <- StreamEvent{Text: "mock streamed response"}
	events <- StreamEvent{Done: true, Usage: pricing.Usage{InputTokens: 10, OutputTokens: 5}}
	close(events)
	return events, nil
}

// CompleteCallCount returns how many non-streaming calls were made.
func (m *MockModelClient) CompleteCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.CompleteCalls)
}

// StreamText builds a StreamFunc that yields the given text in fixed-size
// chunks followed by a Done event.
func StreamText(text string, chunkSize int, usage pricing.Usage) func(ctx context.Context, req *ModelRequest) (<-chan StreamEvent, error) {
	return func(ctx context.Context, req *ModelRequest) (<-chan StreamEvent, error) {
		events := make(chan StreamEvent)
		go func() {
			defer close(events)
			send := func(e StreamEvent) bool {
				select {
				case events <- e:
					return true
				case <-ctx.Done():
					return false
				}
			}
			runes := []rune(text)
			for i := 0; i < len(runes); i += chunkSize {
				end := i + chunkSize
				if end > len(runes) {
					end = len(runes)
				}
				if !send(StreamEvent{Text: string(runes[i:end])}) {
					return
				}
			}
			send(StreamEvent{Done: true, Usage: usage})
		}()
		return events, nil
	}
}

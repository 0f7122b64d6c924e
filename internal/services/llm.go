package services

import (
	"context"

	"github.com/jwebster45206/crash-engine/pkg/pricing"
)

// Provider-side message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// SystemBlock is one block of the system prompt. Cacheable blocks are marked
// for provider-side prompt caching.
type SystemBlock struct {
	Text      string
	Cacheable bool
}

// ModelMessage is one conversation message in provider terms.
type ModelMessage struct {
	Role      string
	Text      string
	Cacheable bool
}

// ModelRequest is a fully assembled provider request.
type ModelRequest struct {
	Model     string
	System    []SystemBlock
	Messages  []ModelMessage
	MaxTokens int
}

// ModelResponse is a normalized non-streaming provider response.
type ModelResponse struct {
	Text  string
	Usage pricing.Usage
}

// StreamEvent is one element of a streamed response: either a text chunk, a
// terminal event carrying the usage counters, or an error. The stream is
// single-pass and forward-only.
type StreamEvent struct {
	Text  string
	Done  bool
	Usage pricing.Usage
	Err   error
}

// ModelClient is the transport to the external model provider. Errors surface
// undecorated; retry policy belongs to callers.
type ModelClient interface {
	// Complete issues one request and waits for the full response.
	Complete(ctx context.Context, req *ModelRequest) (*ModelResponse, error)

	// Stream issues one request and returns a channel of events: zero or
	// more text chunks followed by exactly one Done event (or an Err event).
	// The channel is closed after the terminal event.
	Stream(ctx context.Context, req *ModelRequest) (<-chan StreamEvent, error)
}

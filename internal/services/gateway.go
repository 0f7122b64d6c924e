package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jwebster45206/crash-engine/pkg/chat"
	"github.com/jwebster45206/crash-engine/pkg/pricing"
)

// Request is one prompt to the model. History takes precedence over Message:
// when History is non-empty it is sent as an ordered conversation, otherwise
// Message is sent as a single user utterance.
type Request struct {
	Message   string
	History   []chat.Entry
	Context   string // prompt-table tag for stage-specific instructions
	System    string // optional caller-supplied system suffix
	MaxTokens int
	Caching   bool
}

// Chunk is one element of a streamed generation: a text fragment, the
// terminal element carrying total cost, or an error.
type Chunk struct {
	Text string
	Done bool
	Cost float64
	Err  error
}

// Gateway assembles provider requests from prompt-table contexts and game
// history, invokes the model client, and normalizes responses plus cost.
// It performs no retries; transient-failure policy belongs to callers.
type Gateway struct {
	client  ModelClient
	model   string
	prompts PromptTable
	logger  *slog.Logger
}

// NewGateway creates a prompt gateway for one provider model.
func NewGateway(client ModelClient, model string, prompts PromptTable, logger *slog.Logger) (*Gateway, error) {
	if !pricing.KnownModel(model) {
		return nil, fmt.Errorf("%w: %s", pricing.ErrUnknownModel, model)
	}
	return &Gateway{
		client:  client,
		model:   model,
		prompts: prompts,
		logger:  logger,
	}, nil
}

// buildModelRequest maps a Request onto the provider request shape. When
// caching is on, the whole system prompt is marked cacheable, and in
// conversations of at least 5 entries the 3rd- and 5th-from-last messages
// are marked as cache breakpoints. The penultimate message is deliberately
// not marked: it holds the one unabridged text block and changes every turn.
func (g *Gateway) buildModelRequest(req *Request) *ModelRequest {
	out := &ModelRequest{
		Model:     g.model,
		MaxTokens: req.MaxTokens,
		System: []SystemBlock{{
			Text:      g.prompts.System(req.Context, req.System),
			Cacheable: req.Caching,
		}},
	}

	if len(req.History) == 0 {
		out.Messages = []ModelMessage{{Role: RoleUser, Text: req.Message}}
		return out
	}

	for _, e := range req.History {
		role := RoleUser
		if e.Writer == chat.WriterAI {
			role = RoleAssistant
		}
		out.Messages = append(out.Messages, ModelMessage{Role: role, Text: e.Text})
	}

	if req.Caching && len(out.Messages) >= 5 {
		out.Messages[len(out.Messages)-3].Cacheable = true
		out.Messages[len(out.Messages)-5].Cacheable = true
	}

	return out
}

// Prompt issues a non-streaming generation and returns the text plus cost.
func (g *Gateway) Prompt(ctx context.Context, req *Request) (string, float64, error) {
	g.logger.Debug("Calling model", "context", req.Context, "stream", false, "caching", req.Caching)

	resp, err := g.client.Complete(ctx, g.buildModelRequest(req))
	if err != nil {
		return "", 0, err
	}

	cost, err := pricing.Price(g.model, resp.Usage, req.Caching)
	if err != nil {
		return "", 0, err
	}
	return resp.Text, cost, nil
}

// PromptStream issues a streaming generation. The returned channel yields
// text chunks as they arrive and exactly one terminal chunk: Done with the
// total cost, or Err. The sequence is single-pass and not restartable;
// consumers concatenate the text chunks to obtain the full response.
func (g *Gateway) PromptStream(ctx context.Context, req *Request) (<-chan Chunk, error) {
	g.logger.Debug("Calling model", "context", req.Context, "stream", true, "caching", req.Caching)

	events, err := g.client.Stream(ctx, g.buildModelRequest(req))
	if err != nil {
		return nil, err
	}

	chunks := make(chan Chunk)
	go func() {
		defer close(chunks)

		// Sends must not outlive the consumer. A handler that stops
		// reading mid-stream (client disconnect) cancels ctx, and an
		// unconditional send here would block this goroutine forever.
		send := func(c Chunk) bool {
			select {
			case chunks <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for event := range events {
			switch {
			case event.Err != nil:
				send(Chunk{Err: event.Err})
				return
			case event.Done:
				cost, err := pricing.Price(g.model, event.Usage, req.Caching)
				if err != nil {
					send(Chunk{Err: err})
					return
				}
				send(Chunk{Done: true, Cost: cost})
				return
			default:
				if !send(Chunk{Text: event.Text}) {
					return
				}
			}
		}
		send(Chunk{Err: fmt.Errorf("model stream closed without terminal event")})
	}()

	return chunks, nil
}

package summary

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jwebster45206/crash-engine/internal/services"
	"github.com/jwebster45206/crash-engine/pkg/chat"
	"github.com/jwebster45206/crash-engine/pkg/retry"
)

// systemPrompt frames the summarization call. It is appended to the
// provider's main prompt as a system suffix.
const systemPrompt = `You are a summarization AI, working within the context of a storytelling game
in which a player is controlling a set a characters moving through a story. Each chunk of the story is long -
and you need to summarize it, so that these summaries can then be passed onto a Large Language Model to generate the
next part of the story in a way that is engaging and coherent.
Be on the lookout for important or interesting parts of the text, including anything a player says that could be important for later,
and be sure to include them in your summary.
`

// Summarizer condenses story text into short summaries so the rolling
// conversation window stays cheap to replay to the model.
type Summarizer struct {
	gateway    *services.Gateway
	logger     *slog.Logger
	retries    int
	retryDelay time.Duration
}

// NewSummarizer creates a summarizer on top of the prompt gateway.
func NewSummarizer(gateway *services.Gateway, retries int, retryDelay time.Duration, logger *slog.Logger) *Summarizer {
	return &Summarizer{
		gateway:    gateway,
		logger:     logger,
		retries:    retries,
		retryDelay: retryDelay,
	}
}

// Summarize asks the model to compress text to roughly targetWords words.
// The call is non-streaming and never uses prompt caching: summary inputs
// are one-shot and would only pollute the cache. Transient model failures
// are retried before the error is surfaced.
func (s *Summarizer) Summarize(ctx context.Context, text string, targetWords int) (string, float64, error) {
	req := &services.Request{
		Message: fmt.Sprintf("Summarize the following text in %d words: \n\n %s", targetWords, text),
		System:  systemPrompt,
		Caching: false,
	}

	var out string
	var cost float64
	err := retry.Do(ctx, s.retries, s.retryDelay, func() error {
		text, c, err := s.gateway.Prompt(ctx, req)
		if err != nil {
			s.logger.Warn("Summarization attempt failed", "error", err)
			return err
		}
		out = text
		cost = c
		return nil
	})
	if err != nil {
		return "", 0, fmt.Errorf("failed to summarize text: %w", err)
	}
	return out, cost, nil
}

// Sanitize repairs a conversation so it alternates writers and has no empty
// text, which the model API requires. When two adjacent entries share a
// writer the earlier one is dropped, keeping the most recent phrasing.
// Empty entries become the neutral instruction "continue".
func Sanitize(history []chat.Entry) []chat.Entry {
	out := make([]chat.Entry, 0, len(history))
	for i, e := range history {
		if i+1 < len(history) && e.Writer == history[i+1].Writer {
			continue
		}
		if e.Text == "" {
			e.Text = "continue"
		}
		out = append(out, e)
	}
	return out
}

package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jwebster45206/crash-engine/pkg/pricing"
)

const (
	anthropicBaseURL = "https://api.anthropic.com/v1"
	anthropicVersion = "2023-06-01"

	DefaultAnthropicMaxTokens = 1024
)

// AnthropicClient implements ModelClient for Anthropic Claude.
type AnthropicClient struct {
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ ModelClient = (*AnthropicClient)(nil)

type anthropicCacheControl struct {
	Type string `json:"type"`
}

type anthropicContentBlock struct {
	Type         string                 `json:"type"`
	Text         string                 `json:"text"`
	CacheControl *anthropicCacheControl `json:"cache_control,omitempty"`
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicChatRequest struct {
	Model     string                  `json:"model"`
	MaxTokens int                     `json:"max_tokens"`
	System    []anthropicContentBlock `json:"system,omitempty"`
	Messages  []anthropicMessage      `json:"messages"`
	Stream    bool                    `json:"stream,omitempty"`
}

type anthropicUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
}

type anthropicChatResponse struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Role    string `json:"role"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Usage      anthropicUsage `json:"usage"`
	Error      *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewAnthropicClient creates an Anthropic API client.
func NewAnthropicClient(apiKey string, logger *slog.Logger) *AnthropicClient {
	return &AnthropicClient{
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		logger: logger,
	}
}

func buildAnthropicRequest(req *ModelRequest, stream bool) *anthropicChatRequest {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultAnthropicMaxTokens
	}

	out := &anthropicChatRequest{
		Model:     req.Model,
		MaxTokens: maxTokens,
		Stream:    stream,
	}

	for _, block := range req.System {
		b := anthropicContentBlock{Type: "text", Text: block.Text}
		if block.Cacheable {
			b.CacheControl = &anthropicCacheControl{Type: "ephemeral"}
		}
		out.System = append(out.System, b)
	}

	for _, msg := range req.Messages {
		b := anthropicContentBlock{Type: "text", Text: msg.Text}
		if msg.Cacheable {
			b.CacheControl = &anthropicCacheControl{Type: "ephemeral"}
		}
		out.Messages = append(out.Messages, anthropicMessage{
			Role:    msg.Role,
			Content: []anthropicContentBlock{b},
		})
	}

	return out
}

func (a *AnthropicClient) newHTTPRequest(ctx context.Context, req *ModelRequest, stream bool) (*http.Request, error) {
	body, err := json.Marshal(buildAnthropicRequest(req, stream))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, anthropicBaseURL+"/messages", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	httpReq.Header.Set("content-type", "application/json")
	return httpReq, nil
}

// Complete issues one non-streaming request.
func (a *AnthropicClient) Complete(ctx context.Context, req *ModelRequest) (*ModelResponse, error) {
	httpReq, err := a.newHTTPRequest(ctx, req, false)
	if err != nil {
		return nil, err
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var chatResp anthropicChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if chatResp.Error != nil {
		return nil, fmt.Errorf("API error: %s", chatResp.Error.Message)
	}

	var text strings.Builder
	for _, content := range chatResp.Content {
		if content.Type == "text" {
			text.WriteString(content.Text)
		}
	}

	return &ModelResponse{
		Text: text.String(),
		Usage: pricing.Usage{
			InputTokens:      chatResp.Usage.InputTokens,
			OutputTokens:     chatResp.Usage.OutputTokens,
			CacheWriteTokens: chatResp.Usage.CacheCreationInputTokens,
			CacheReadTokens:  chatResp.Usage.CacheReadInputTokens,
		},
	}, nil
}

// Streaming event payloads. Only the fields we consume are declared.
type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Message struct {
		Usage anthropicUsage `json:"usage"`
	} `json:"message"`
	Usage anthropicUsage `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Stream issues one streaming request and forwards SSE deltas as events.
// Input-side usage arrives on message_start and output tokens on
// message_delta; both are folded into the terminal Done event.
func (a *AnthropicClient) Stream(ctx context.Context, req *ModelRequest) (<-chan StreamEvent, error) {
	httpReq, err := a.newHTTPRequest(ctx, req, true)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("accept", "text/event-stream")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	events := make(chan StreamEvent)
	go func() {
		defer close(events)
		defer func() { _ = resp.Body.Close() }()

		// An abandoned consumer cancels ctx; blocking on a send here
		// would also pin resp.Body open.
		send := func(e StreamEvent) bool {
			select {
			case events <- e:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var usage pricing.Usage
		done := false

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" {
				continue
			}

			var event anthropicStreamEvent
			if err := json.Unmarshal([]byte(payload), &event); err != nil {
				send(StreamEvent{Err: fmt.Errorf("failed to parse stream event: %w", err)})
				return
			}

			switch event.Type {
			case "message_start":
				usage.InputTokens = event.Message.Usage.InputTokens
				usage.CacheWriteTokens = event.Message.Usage.CacheCreationInputTokens
				usage.CacheReadTokens = event.Message.Usage.CacheReadInputTokens
			case "content_block_delta":
				if event.Delta.Type == "text_delta" && event.Delta.Text != "" {
					if !send(StreamEvent{Text: event.Delta.Text}) {
						return
					}
				}
			case "message_delta":
				usage.OutputTokens += event.Usage.OutputTokens
			case "message_stop":
				send(StreamEvent{Done: true, Usage: usage})
				done = true
			case "error":
				msg := "stream error"
				if event.Error != nil {
					msg = event.Error.Message
				}
				send(StreamEvent{Err: fmt.Errorf("API error: %s", msg)})
				return
			}
			if done {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			send(StreamEvent{Err: fmt.Errorf("stream read failed: %w", err)})
			return
		}
		if !done {
			send(StreamEvent{Err: fmt.Errorf("stream ended without message_stop")})
		}
	}()

	return events, nil
}

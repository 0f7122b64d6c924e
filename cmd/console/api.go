package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/jwebster45206/crash-engine/internal/handlers"
	"github.com/jwebster45206/crash-engine/internal/setup"
	"github.com/jwebster45206/crash-engine/pkg/chat"
	"github.com/jwebster45206/crash-engine/pkg/game"
)

// apiClient talks to the crash-engine API, including its SSE generation
// endpoints.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string, client *http.Client) *apiClient {
	return &apiClient{baseURL: baseURL, http: client}
}

func (c *apiClient) healthy() bool {
	resp, err := c.http.Get(c.baseURL + "/health")
	if err != nil {
		return false
	}
	defer func() {
		_ = resp.Body.Close() // Ignore error in defer
	}()
	return resp.StatusCode == http.StatusOK
}

func (c *apiClient) postJSON(path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.http.Post(c.baseURL+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close() // Ignore error in defer
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr handlers.ErrorResponse
		if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func (c *apiClient) createSession() (*handlers.CreateSessionResponse, error) {
	var resp handlers.CreateSessionResponse
	if err := c.postJSON("/v1/games", map[string]string{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) randomSetup() (*setup.Setup, error) {
	resp, err := c.http.Get(c.baseURL + "/v1/setup/random")
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close() // Ignore error in defer
	}()

	var s setup.Setup
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to decode setup: %w", err)
	}
	return &s, nil
}

func (c *apiClient) generateTitle(gameID uint, s setup.Setup) (string, error) {
	var resp map[string]string
	err := c.postJSON(fmt.Sprintf("/v1/games/%d/title", gameID), handlers.TitleRequest{
		Theme:     s.Theme,
		Timeframe: s.Timeframe,
		Details:   s.Details,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp["title"], nil
}

func (c *apiClient) loadGame(saveKey string) (*game.Game, error) {
	var g game.Game
	if err := c.postJSON("/v1/load", handlers.LoadRequest{SaveKey: saveKey}, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// sseEvent is one parsed server-sent event.
type sseEvent struct {
	Event string
	Data  []byte
}

// streamEvent is delivered on the channel returned by the stream helpers.
// Exactly one terminal element arrives: Done (with the done payload) or Err.
type streamEvent struct {
	Text string
	Item *chat.Entry
	Done bool
	Data []byte
	Err  error
}

// openStream issues a request and parses the SSE response in a goroutine.
func (c *apiClient) openStream(method, path string, body any) (<-chan streamEvent, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	events := make(chan streamEvent)
	go func() {
		defer close(events)
		defer func() {
			_ = resp.Body.Close() // Ignore error in defer
		}()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)

		var current sseEvent
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				current.Event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				current.Data = []byte(strings.TrimPrefix(line, "data: "))
			case line == "":
				if current.Event == "" {
					continue
				}
				if done := dispatch(events, current); done {
					return
				}
				current = sseEvent{}
			}
		}
		if err := scanner.Err(); err != nil {
			events <- streamEvent{Err: fmt.Errorf("stream read failed: %w", err)}
			return
		}
		events <- streamEvent{Err: fmt.Errorf("stream ended without terminal event")}
	}()

	return events, nil
}

// dispatch converts one SSE event into a streamEvent. Returns true when the
// stream is finished.
func dispatch(events chan<- streamEvent, ev sseEvent) bool {
	switch ev.Event {
	case "message":
		var msg struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(ev.Data, &msg); err != nil {
			events <- streamEvent{Err: fmt.Errorf("bad message event: %w", err)}
			return true
		}
		events <- streamEvent{Text: msg.Text}
	case "item":
		var entry chat.Entry
		if err := json.Unmarshal(ev.Data, &entry); err != nil {
			events <- streamEvent{Err: fmt.Errorf("bad item event: %w", err)}
			return true
		}
		events <- streamEvent{Item: &entry}
	case "done":
		events <- streamEvent{Done: true, Data: ev.Data}
		return true
	case "error":
		var apiErr handlers.ErrorResponse
		if err := json.Unmarshal(ev.Data, &apiErr); err != nil {
			apiErr.Error = string(ev.Data)
		}
		events <- streamEvent{Err: fmt.Errorf("%s", apiErr.Error)}
		return true
	}
	return false
}

func (c *apiClient) streamCrash(gameID uint) (<-chan streamEvent, error) {
	return c.openStream(http.MethodPost, fmt.Sprintf("/v1/games/%d/crash", gameID), map[string]string{})
}

func (c *apiClient) streamWakeup(gameID uint, crashStory string) (<-chan streamEvent, error) {
	return c.openStream(http.MethodPost, fmt.Sprintf("/v1/games/%d/wakeup", gameID),
		handlers.WakeupRequest{CrashStory: crashStory})
}

func (c *apiClient) streamIntro(gameID uint) (<-chan streamEvent, error) {
	return c.openStream(http.MethodPost, fmt.Sprintf("/v1/games/%d/intro", gameID), nil)
}

func (c *apiClient) streamTurn(gameID uint, userInput, lastAIText string, turn int) (<-chan streamEvent, error) {
	return c.openStream(http.MethodPost, fmt.Sprintf("/v1/games/%d/turns", gameID), handlers.TurnRequest{
		UserInput:  userInput,
		LastAIText: lastAIText,
		Turn:       turn,
	})
}

func (c *apiClient) streamHistory(gameID uint) (<-chan streamEvent, error) {
	return c.openStream(http.MethodGet, fmt.Sprintf("/v1/games/%d/history", gameID), nil)
}

// Package handlers exposes the game engine over HTTP. Synchronous endpoints
// speak JSON; generation endpoints stream Server-Sent Events.
package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// ErrorResponse is the JSON error body for synchronous endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, logger *slog.Logger, status int, message string) {
	writeJSON(w, logger, status, ErrorResponse{Error: message})
}

// sseWriter writes Server-Sent Events, flushing after each one.
type sseWriter struct {
	w      http.ResponseWriter
	logger *slog.Logger
}

// startSSE sets the stream headers and flushes them so the client sees the
// connection open before the first generation chunk arrives.
func startSSE(w http.ResponseWriter, logger *slog.Logger) *sseWriter {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	return &sseWriter{w: w, logger: logger}
}

func (s *sseWriter) send(event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal SSE data: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return fmt.Errorf("failed to write SSE event: %w", err)
	}
	if flusher, ok := s.w.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

// text sends one narrative fragment.
func (s *sseWriter) text(text string) error {
	return s.send("message", map[string]string{"text": text})
}

// done terminates the stream successfully.
func (s *sseWriter) done(data any) {
	if data == nil {
		data = map[string]string{}
	}
	if err := s.send("done", data); err != nil {
		s.logger.Error("Failed to send done event", "error", err)
	}
}

// fail terminates the stream with an error event. By the time a generation
// fails mid-stream the status line is long gone, so the error travels in
// band.
func (s *sseWriter) fail(message string) {
	if err := s.send("error", ErrorResponse{Error: message}); err != nil {
		s.logger.Error("Failed to send error event", "error", err)
	}
}

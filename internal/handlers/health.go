package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/jwebster45206/crash-engine/internal/storage"
)

// HealthResponse reports overall and per-component health.
type HealthResponse struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Service    string            `json:"service"`
	Components map[string]string `json:"components"`
}

// HealthHandler checks the blob and relational stores.
type HealthHandler struct {
	blob   storage.Blob
	games  storage.GameStore
	logger *slog.Logger
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(blob storage.Blob, games storage.GameStore, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{blob: blob, games: games, logger: logger}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.logger.Debug("Health check requested", "remote_addr", r.RemoteAddr)

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	components := make(map[string]string)
	status := "healthy"

	if err := h.blob.Ping(ctx); err != nil {
		h.logger.Warn("Blob store health check failed", "error", err)
		components["blob_store"] = "unhealthy"
		status = "degraded"
	} else {
		components["blob_store"] = "healthy"
	}

	if err := h.games.Ping(ctx); err != nil {
		h.logger.Warn("Game store health check failed", "error", err)
		components["game_store"] = "unhealthy"
		status = "degraded"
	} else {
		components["game_store"] = "healthy"
	}

	statusCode := http.StatusOK
	if status != "healthy" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, h.logger, statusCode, HealthResponse{
		Status:     status,
		Timestamp:  time.Now(),
		Service:    "crash-engine",
		Components: components,
	})
}

// VersionHandler serves the configured game version.
type VersionHandler struct {
	version string
	logger  *slog.Logger
}

// NewVersionHandler creates a new version handler.
func NewVersionHandler(version string, logger *slog.Logger) *VersionHandler {
	return &VersionHandler{version: version, logger: logger}
}

func (h *VersionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, h.logger, http.StatusMethodNotAllowed, "Method not allowed. Only GET is supported.")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]string{"version": h.version})
}

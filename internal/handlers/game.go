package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/jwebster45206/crash-engine/internal/engine"
	"github.com/jwebster45206/crash-engine/internal/setup"
	"github.com/jwebster45206/crash-engine/pkg/chat"
)

// GameHandler serves the session lifecycle under /v1/games: creation, the
// initialization stages, the turn loop, and history replay.
type GameHandler struct {
	engine *engine.Engine
	logger *slog.Logger
}

// NewGameHandler creates a new game handler.
func NewGameHandler(eng *engine.Engine, logger *slog.Logger) *GameHandler {
	return &GameHandler{engine: eng, logger: logger}
}

// ServeHTTP routes game requests.
//
//	POST /v1/games                  create a session
//	POST /v1/games/{id}/title       run the title stage
//	POST /v1/games/{id}/crash       stream the crash scene (SSE)
//	POST /v1/games/{id}/wakeup      populate the world, stream wakeup (SSE)
//	POST /v1/games/{id}/intro       stream the intro (SSE)
//	POST /v1/games/{id}/turns       submit a turn (SSE)
//	GET  /v1/games/{id}/history     replay the full history (SSE)
func (h *GameHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 2 || parts[0] != "v1" || parts[1] != "games" {
		writeError(w, h.logger, http.StatusNotFound, "Not found.")
		return
	}

	if len(parts) == 2 {
		if r.Method != http.MethodPost {
			writeError(w, h.logger, http.StatusMethodNotAllowed, "Method not allowed. Only POST is supported.")
			return
		}
		h.createSession(w, r)
		return
	}

	if len(parts) != 4 {
		writeError(w, h.logger, http.StatusNotFound, "Not found.")
		return
	}

	id, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid game id.")
		return
	}
	gameID := uint(id)

	switch parts[3] {
	case "title":
		h.requirePost(w, r, func() { h.title(w, r, gameID) })
	case "crash":
		h.requirePost(w, r, func() { h.crash(w, r, gameID) })
	case "wakeup":
		h.requirePost(w, r, func() { h.wakeup(w, r, gameID) })
	case "intro":
		h.requirePost(w, r, func() { h.intro(w, r, gameID) })
	case "turns":
		h.requirePost(w, r, func() { h.turn(w, r, gameID) })
	case "history":
		if r.Method != http.MethodGet {
			writeError(w, h.logger, http.StatusMethodNotAllowed, "Method not allowed. Only GET is supported.")
			return
		}
		h.replay(w, r, gameID)
	default:
		writeError(w, h.logger, http.StatusNotFound, "Not found.")
	}
}

func (h *GameHandler) requirePost(w http.ResponseWriter, r *http.Request, next func()) {
	if r.Method != http.MethodPost {
		writeError(w, h.logger, http.StatusMethodNotAllowed, "Method not allowed. Only POST is supported.")
		return
	}
	next()
}

// CreateSessionResponse is returned from POST /v1/games. The save key is the
// player's only way back into the game.
type CreateSessionResponse struct {
	GameID  uint   `json:"game_id"`
	SaveKey string `json:"save_key"`
}

func (h *GameHandler) createSession(w http.ResponseWriter, r *http.Request) {
	g, err := h.engine.CreateSession(r.Context())
	if err != nil {
		h.logger.Error("Failed to create session", "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "Error creating game. Please try again.")
		return
	}
	writeJSON(w, h.logger, http.StatusCreated, CreateSessionResponse{
		GameID:  g.ID,
		SaveKey: g.SaveKey.String(),
	})
}

// TitleRequest carries the scenario seed for the title stage.
type TitleRequest struct {
	Theme     string `json:"theme"`
	Timeframe string `json:"timeframe"`
	Details   string `json:"details"`
}

func (h *GameHandler) title(w http.ResponseWriter, r *http.Request, gameID uint) {
	var req TitleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid request body.")
		return
	}

	title, err := h.engine.GenerateTitle(r.Context(), gameID, setup.Setup{
		Theme:     req.Theme,
		Timeframe: req.Timeframe,
		Details:   req.Details,
	})
	if err != nil {
		h.logger.Error("Failed to generate title", "game_id", gameID, "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "Error initializing game. Please try again.")
		return
	}

	writeJSON(w, h.logger, http.StatusOK, map[string]string{"title": title})
}

func (h *GameHandler) crash(w http.ResponseWriter, r *http.Request, gameID uint) {
	sse := startSSE(w, h.logger)

	story, err := h.engine.GenerateCrash(r.Context(), gameID, sse.text)
	if err != nil {
		h.logger.Error("Failed to generate crash story", "game_id", gameID, "error", err)
		sse.fail("There was a problem initializing the game. Please try again.")
		return
	}
	sse.done(map[string]string{"crash_story": story})
}

// WakeupRequest chains the crash story into the world-population stages.
type WakeupRequest struct {
	CrashStory string `json:"crash_story"`
}

func (h *GameHandler) wakeup(w http.ResponseWriter, r *http.Request, gameID uint) {
	var req WakeupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid request body.")
		return
	}

	sse := startSSE(w, h.logger)
	if err := h.engine.GenerateWorldAndWakeup(r.Context(), gameID, req.CrashStory, sse.text); err != nil {
		h.logger.Error("Failed to generate wakeup", "game_id", gameID, "error", err)
		sse.fail("There was a problem initializing the game. Please try again.")
		return
	}
	sse.done(nil)
}

func (h *GameHandler) intro(w http.ResponseWriter, r *http.Request, gameID uint) {
	sse := startSSE(w, h.logger)
	if err := h.engine.GenerateIntro(r.Context(), gameID, sse.text); err != nil {
		h.logger.Error("Failed to stream intro", "game_id", gameID, "error", err)
		sse.fail("There was a problem initializing the game. Please try again.")
		return
	}
	sse.done(nil)
}

// TurnRequest is one player turn. LastAIText is the client's verbatim copy
// of the previous response; the engine splices it into the prompt in place
// of its summary.
type TurnRequest struct {
	UserInput  string `json:"user_input"`
	LastAIText string `json:"last_ai_text"`
	Turn       int    `json:"turn"`
}

func (h *GameHandler) turn(w http.ResponseWriter, r *http.Request, gameID uint) {
	var req TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid request body.")
		return
	}
	if req.UserInput == "" {
		writeError(w, h.logger, http.StatusBadRequest, "user_input cannot be empty.")
		return
	}
	if req.Turn < 1 {
		writeError(w, h.logger, http.StatusBadRequest, "turn must be a positive number.")
		return
	}

	sse := startSSE(w, h.logger)
	if err := h.engine.SubmitTurn(r.Context(), gameID, req.UserInput, req.LastAIText, req.Turn, sse.text); err != nil {
		h.logger.Error("Failed to submit turn", "game_id", gameID, "turn", req.Turn, "error", err)
		sse.fail("There was a problem - please try again.")
		return
	}
	sse.done(nil)
}

func (h *GameHandler) replay(w http.ResponseWriter, r *http.Request, gameID uint) {
	sse := startSSE(w, h.logger)
	err := h.engine.Replay(r.Context(), gameID, func(entry chat.Entry) error {
		return sse.send("item", entry)
	})
	if err != nil {
		h.logger.Error("Failed to replay history", "game_id", gameID, "error", err)
		sse.fail("There was a problem retrieving your game - please try again.")
		return
	}
	sse.done(nil)
}

// SetupHandler serves GET /v1/setup/random: a randomly drawn scenario seed.
type SetupHandler struct {
	logger *slog.Logger
}

// NewSetupHandler creates a new setup handler.
func NewSetupHandler(logger *slog.Logger) *SetupHandler {
	return &SetupHandler{logger: logger}
}

func (h *SetupHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, h.logger, http.StatusMethodNotAllowed, "Method not allowed. Only GET is supported.")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, setup.RandomSetup())
}

// LoadHandler serves POST /v1/load: game metadata by save key.
type LoadHandler struct {
	engine *engine.Engine
	logger *slog.Logger
}

// NewLoadHandler creates a new load handler.
func NewLoadHandler(eng *engine.Engine, logger *slog.Logger) *LoadHandler {
	return &LoadHandler{engine: eng, logger: logger}
}

// LoadRequest identifies a saved game.
type LoadRequest struct {
	SaveKey string `json:"save_key"`
}

func (h *LoadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, h.logger, http.StatusMethodNotAllowed, "Method not allowed. Only POST is supported.")
		return
	}

	var req LoadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid request body.")
		return
	}

	saveKey, err := uuid.Parse(req.SaveKey)
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid save key.")
		return
	}

	g, err := h.engine.Metadata(r.Context(), saveKey)
	if err != nil {
		h.logger.Error("Failed to load game", "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "There was a problem retrieving your game - please try again.")
		return
	}
	if g == nil {
		writeError(w, h.logger, http.StatusNotFound, "Invalid save key.")
		return
	}

	writeJSON(w, h.logger, http.StatusOK, g)
}

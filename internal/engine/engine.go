// Package engine orchestrates game sessions: the staged initialization
// protocol, the per-turn generation loop with rollback, and history replay.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwebster45206/crash-engine/internal/history"
	"github.com/jwebster45206/crash-engine/internal/services"
	"github.com/jwebster45206/crash-engine/internal/setup"
	"github.com/jwebster45206/crash-engine/internal/storage"
	"github.com/jwebster45206/crash-engine/internal/summary"
	"github.com/jwebster45206/crash-engine/pkg/chat"
	"github.com/jwebster45206/crash-engine/pkg/game"
)

// Emit delivers one streamed text fragment to the caller, typically an SSE
// writer. A non-nil error aborts the stream.
type Emit func(text string) error

// Options tune engine behavior. Zero values get sensible defaults.
type Options struct {
	// SummaryTargetWords is the word budget handed to the summarizer.
	SummaryTargetWords int

	// IntroDelay paces the rune-by-rune intro stream. Set to 0 in tests.
	IntroDelay time.Duration

	// ReplayBudget caps the total pacing time of a full history replay.
	ReplayBudget time.Duration
}

// Engine coordinates the relational store, the history store, the stage
// generators and the summarizer. Turns are serialized per game; concurrent
// submissions for the same game queue on its mutex.
type Engine struct {
	games      storage.GameStore
	history    *history.Store
	gateway    *services.Gateway
	generator  *setup.Generator
	summarizer *summary.Summarizer
	logger     *slog.Logger
	opts       Options

	mu    sync.Mutex
	locks map[uint]*sync.Mutex
}

// New creates an engine.
func New(games storage.GameStore, hist *history.Store, gateway *services.Gateway,
	generator *setup.Generator, summarizer *summary.Summarizer, logger *slog.Logger, opts Options) *Engine {
	if opts.SummaryTargetWords <= 0 {
		opts.SummaryTargetWords = 50
	}
	return &Engine{
		games:      games,
		history:    hist,
		gateway:    gateway,
		generator:  generator,
		summarizer: summarizer,
		logger:     logger,
		opts:       opts,
		locks:      make(map[uint]*sync.Mutex),
	}
}

// gameLock returns the mutex serializing operations for one game.
func (e *Engine) gameLock(gameID uint) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[gameID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[gameID] = lock
	}
	return lock
}

// CreateSession creates an empty game with a fresh save key. The game is in
// its uninitialized state until the title stage runs.
func (e *Engine) CreateSession(ctx context.Context) (*game.Game, error) {
	saveKey := uuid.New()
	g, err := e.games.CreateGame(ctx, saveKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create game: %w", err)
	}
	e.logger.Info("Game created", "game_id", g.ID, "save_key", saveKey)
	return g, nil
}

// Metadata loads a game by its save key. Returns nil when the key is
// unknown.
func (e *Engine) Metadata(ctx context.Context, saveKey uuid.UUID) (*game.Game, error) {
	g, err := e.games.GetGameBySaveKey(ctx, saveKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load game by save key: %w", err)
	}
	return g, nil
}

// Replay streams the full-text history back to the caller, paced so a long
// history still replays within the configured budget.
func (e *Engine) Replay(ctx context.Context, gameID uint, emit func(chat.Entry) error) error {
	entries, err := e.history.ReadAll(ctx, gameID, history.StreamFullText)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}

	var perItem time.Duration
	if len(entries) > 0 && e.opts.ReplayBudget > 0 {
		perItem = e.opts.ReplayBudget / time.Duration(len(entries))
		if perItem > 300*time.Millisecond {
			perItem = 300 * time.Millisecond
		}
	}

	for _, entry := range entries {
		if perItem > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(perItem):
			}
		}
		if err := emit(entry); err != nil {
			return fmt.Errorf("failed to stream history entry: %w", err)
		}
	}
	return nil
}

// GenerateIntro streams the fixed intro block, addressed to the three
// generated characters by first name. A game whose characters cannot be
// loaded still gets an intro with a generic opening. Persisting the intro is
// best-effort: a failure only means a future replay misses it.
func (e *Engine) GenerateIntro(ctx context.Context, gameID uint, emit Emit) error {
	opening := "Some poor souls"
	characters, err := e.games.GetCharacters(ctx, gameID)
	if err != nil || len(characters) != 3 {
		e.logger.Warn("Falling back to generic intro opening", "game_id", gameID, "error", err)
	} else {
		opening = fmt.Sprintf("%s, %s, and %s",
			characters[0].FirstName(), characters[1].FirstName(), characters[2].FirstName())
	}

	intro := fmt.Sprintf(introTemplate, opening)

	introEntry := chat.Entry{Writer: chat.WriterIntro, Text: intro, Turn: chat.TurnSentinel(chat.TurnIntro)}
	if err := e.history.Append(ctx, gameID, history.StreamFullText, introEntry); err != nil {
		e.logger.Error("Failed to persist intro", "game_id", gameID, "error", err)
	}

	for _, r := range intro {
		if e.opts.IntroDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.opts.IntroDelay):
			}
		}
		if err := emit(string(r)); err != nil {
			return fmt.Errorf("failed to stream intro: %w", err)
		}
	}
	return nil
}

const introTemplate = `%s need your help!
They're lost in a strange world, the unwitting and unwilling heroes of a story that they didn't want to be a part of.
Now you - that's right, YOU - need to guide them through that story.

Think of yourself as an angel (or devil), sitting on their shoulders, whispering in their ears.
Each turn, you'll make suggestions and interact with your characters.

Be creative, be bold, be kind, be cruel. Do whatever you like - the world is your oyster!

Keep your save key somewhere safe - it's the only way back into this story.

So - what will you do next?`

// wordCount counts whitespace-separated words, for the running total on the
// game record.
func wordCount(text string) int {
	return len(strings.Fields(text))
}

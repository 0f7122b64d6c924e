package storage

import (
	"context"

	"github.com/google/uuid"
	"github.com/jwebster45206/crash-engine/pkg/game"
)

// HealthChecker defines basic health check capabilities
type HealthChecker interface {
	// Ping tests the service connection
	Ping(ctx context.Context) error
}

// Closer defines cleanup capabilities
type Closer interface {
	// Close closes the service connection
	Close() error
}

// Blob is the byte-level backend for persisted history. Paths are
// slash-separated and relative to the store's root. The history store never
// knows which backend it is talking to.
type Blob interface {
	HealthChecker
	Closer

	// Read returns the contents at path.
	Read(ctx context.Context, path string) ([]byte, error)

	// Write stores data at path, creating parents as needed.
	Write(ctx context.Context, path string, data []byte) error

	// List returns the base names of the files directly under dir,
	// lexically ordered. A missing directory yields an empty list.
	List(ctx context.Context, dir string) ([]string, error)

	// Exists reports whether a file exists at path.
	Exists(ctx context.Context, path string) (bool, error)
}

// GameStore is the relational store for Game records and the entities
// generated during initialization.
type GameStore interface {
	HealthChecker
	Closer

	// CreateGame creates an empty game with the given save key.
	CreateGame(ctx context.Context, saveKey uuid.UUID) (*game.Game, error)

	// GetGame retrieves a game by id. Returns nil if not found.
	GetGame(ctx context.Context, id uint) (*game.Game, error)

	// GetGameBySaveKey retrieves a game by save key. Returns nil if not found.
	GetGameBySaveKey(ctx context.Context, saveKey uuid.UUID) (*game.Game, error)

	// UpdateGame persists the game's mutable fields.
	UpdateGame(ctx context.Context, g *game.Game) error

	// AddLocation creates a location and links it to the game.
	AddLocation(ctx context.Context, gameID uint, loc *game.Location) error

	// AddSkills creates skills and links them to the game.
	AddSkills(ctx context.Context, gameID uint, skills []game.Skill) error

	// AddCharacters creates characters and links them to the game.
	AddCharacters(ctx context.Context, gameID uint, characters []game.Character) error

	// GetCharacters returns the game's characters in creation order.
	GetCharacters(ctx context.Context, gameID uint) ([]game.Character, error)

	// GetSkills returns the game's skills in creation order.
	GetSkills(ctx context.Context, gameID uint) ([]game.Skill, error)
}

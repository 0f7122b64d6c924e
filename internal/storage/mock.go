package storage

import (
	"context"
	"fmt"
	"path"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jwebster45206/crash-engine/pkg/game"
)

// MemBlob is an in-memory Blob implementation for tests.
type MemBlob struct {
	mu    sync.Mutex
	files map[string][]byte

	// FailWrites forces every Write to fail, for rollback tests.
	FailWrites bool
}

var _ Blob = (*MemBlob)(nil)

func NewMemBlob() *MemBlob {
	return &MemBlob{files: make(map[string][]byte)}
}

func (m *MemBlob) Ping(ctx context.Context) error { return nil }
func (m *MemBlob) Close() error                   { return nil }

func (m *MemBlob) Read(ctx context.Context, p string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[p]
	if !ok {
		return nil, fmt.Errorf("not found: %s", p)
	}
	return data, nil
}

func (m *MemBlob) Write(ctx context.Context, p string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return fmt.Errorf("write failed: %s", p)
	}
	m.files[p] = append([]byte(nil), data...)
	return nil
}

func (m *MemBlob) List(ctx context.Context, dir string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dir = path.Clean(dir)
	var names []string
	for p := range m.files {
		if path.Dir(p) == dir {
			names = append(names, path.Base(p))
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemBlob) Exists(ctx context.Context, p string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[p]
	return ok, nil
}

// MockGameStore is an in-memory GameStore for tests. Behavior can be
// overridden per method via the Func fields.
type MockGameStore struct {
	mu     sync.Mutex
	nextID uint
	games  map[uint]*game.Game

	characters map[uint][]game.Character
	skills     map[uint][]game.Skill
	locations  map[uint][]game.Location

	UpdateGameFunc func(ctx context.Context, g *game.Game) error
}

var _ GameStore = (*MockGameStore)(nil)

func NewMockGameStore() *MockGameStore {
	return &MockGameStore{
		nextID:     1,
		games:      make(map[uint]*game.Game),
		characters: make(map[uint][]game.Character),
		skills:     make(map[uint][]game.Skill),
		locations:  make(map[uint][]game.Location),
	}
}

func (m *MockGameStore) Ping(ctx context.Context) error { return nil }
func (m *MockGameStore) Close() error                   { return nil }

func (m *MockGameStore) CreateGame(ctx context.Context, saveKey uuid.UUID) (*game.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := &game.Game{ID: m.nextID, SaveKey: saveKey}
	m.nextID++
	m.games[g.ID] = g
	copy := *g
	return &copy, nil
}

func (m *MockGameStore) GetGame(ctx context.Context, id uint) (*game.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[id]
	if !ok {
		return nil, nil
	}
	copy := *g
	return &copy, nil
}

func (m *MockGameStore) GetGameBySaveKey(ctx context.Context, saveKey uuid.UUID) (*game.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.games {
		if g.SaveKey == saveKey {
			copy := *g
			return &copy, nil
		}
	}
	return nil, nil
}

func (m *MockGameStore) UpdateGame(ctx context.Context, g *game.Game) error {
	if m.UpdateGameFunc != nil {
		return m.UpdateGameFunc(ctx, g)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.games[g.ID]; !ok {
		return fmt.Errorf("game %d not found", g.ID)
	}
	copy := *g
	m.games[g.ID] = &copy
	return nil
}

func (m *MockGameStore) AddLocation(ctx context.Context, gameID uint, loc *game.Location) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	loc.ID = uint(len(m.locations[gameID]) + 1)
	m.locations[gameID] = append(m.locations[gameID], *loc)
	return nil
}

func (m *MockGameStore) AddSkills(ctx context.Context, gameID uint, skills []game.Skill) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skills[gameID] = append(m.skills[gameID], skills...)
	return nil
}

func (m *MockGameStore) AddCharacters(ctx context.Context, gameID uint, characters []game.Character) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.characters[gameID] = append(m.characters[gameID], characters...)
	return nil
}

func (m *MockGameStore) GetCharacters(ctx context.Context, gameID uint) ([]game.Character, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]game.Character(nil), m.characters[gameID]...), nil
}

// LocationsFor exposes the stored locations for assertions.
func (m *MockGameStore) LocationsFor(gameID uint) []game.Location {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]game.Location(nil), m.locations[gameID]...)
}

func (m *MockGameStore) GetSkills(ctx context.Context, gameID uint) ([]game.Skill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]game.Skill(nil), m.skills[gameID]...), nil
}

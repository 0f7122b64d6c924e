package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/jwebster45206/crash-engine/pkg/game"
)

// GormStore is the MySQL-backed relational store for game records.
type GormStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

var _ GameStore = (*GormStore)(nil)

// NewGormStore opens the database and migrates the game tables.
func NewGormStore(dsn string, logger *slog.Logger) (*GormStore, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&game.Game{}, &game.Location{}, &game.Character{}, &game.Skill{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &GormStore{db: db, logger: logger}, nil
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database handle: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) CreateGame(ctx context.Context, saveKey uuid.UUID) (*game.Game, error) {
	g := &game.Game{SaveKey: saveKey}
	if err := s.db.WithContext(ctx).Create(g).Error; err != nil {
		s.logger.Error("Failed to create game", "error", err)
		return nil, fmt.Errorf("failed to create game: %w", err)
	}
	return g, nil
}

func (s *GormStore) GetGame(ctx context.Context, id uint) (*game.Game, error) {
	var g game.Game
	err := s.db.WithContext(ctx).First(&g, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load game %d: %w", id, err)
	}
	return &g, nil
}

func (s *GormStore) GetGameBySaveKey(ctx context.Context, saveKey uuid.UUID) (*game.Game, error) {
	var g game.Game
	err := s.db.WithContext(ctx).Where("save_key = ?", saveKey.String()).First(&g).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load game by save key: %w", err)
	}
	return &g, nil
}

func (s *GormStore) UpdateGame(ctx context.Context, g *game.Game) error {
	if err := s.db.WithContext(ctx).Save(g).Error; err != nil {
		s.logger.Error("Failed to update game", "game_id", g.ID, "error", err)
		return fmt.Errorf("failed to update game %d: %w", g.ID, err)
	}
	return nil
}

func (s *GormStore) AddLocation(ctx context.Context, gameID uint, loc *game.Location) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(loc).Error; err != nil {
			return fmt.Errorf("failed to create location: %w", err)
		}
		g := game.Game{ID: gameID}
		if err := tx.Model(&g).Association("Locations").Append(loc); err != nil {
			return fmt.Errorf("failed to link location to game %d: %w", gameID, err)
		}
		return nil
	})
}

func (s *GormStore) AddSkills(ctx context.Context, gameID uint, skills []game.Skill) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range skills {
			if err := tx.Create(&skills[i]).Error; err != nil {
				return fmt.Errorf("failed to create skill: %w", err)
			}
		}
		g := game.Game{ID: gameID}
		for i := range skills {
			if err := tx.Model(&g).Association("Skills").Append(&skills[i]); err != nil {
				return fmt.Errorf("failed to link skill to game %d: %w", gameID, err)
			}
		}
		return nil
	})
}

func (s *GormStore) AddCharacters(ctx context.Context, gameID uint, characters []game.Character) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range characters {
			if err := tx.Create(&characters[i]).Error; err != nil {
				return fmt.Errorf("failed to create character: %w", err)
			}
		}
		g := game.Game{ID: gameID}
		for i := range characters {
			if err := tx.Model(&g).Association("Characters").Append(&characters[i]); err != nil {
				return fmt.Errorf("failed to link character to game %d: %w", gameID, err)
			}
		}
		return nil
	})
}

func (s *GormStore) GetCharacters(ctx context.Context, gameID uint) ([]game.Character, error) {
	g := game.Game{ID: gameID}
	var characters []game.Character
	err := s.db.WithContext(ctx).Model(&g).Order("id").Association("Characters").Find(&characters)
	if err != nil {
		return nil, fmt.Errorf("failed to load characters for game %d: %w", gameID, err)
	}
	return characters, nil
}

func (s *GormStore) GetSkills(ctx context.Context, gameID uint) ([]game.Skill, error) {
	g := game.Game{ID: gameID}
	var skills []game.Skill
	err := s.db.WithContext(ctx).Model(&g).Order("id").Association("Skills").Find(&skills)
	if err != nil {
		return nil, fmt.Errorf("failed to load skills for game %d: %w", gameID, err)
	}
	return skills, nil
}

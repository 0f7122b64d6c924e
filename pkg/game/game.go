// Package game defines the persisted records for a Crash session: the game
// itself plus the location, skills and characters generated during
// initialization.
package game

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Game is one play session. The title, theme, timeframe and details are set
// once during initialization; turns and cost accumulate for the life of the
// game. Locations, characters and skills are shared tables so an entity could
// in principle be reused across games.
type Game struct {
	ID uint `gorm:"primaryKey" json:"id"`

	// SaveKey is handed to the player at session start and used to load the
	// game later.
	SaveKey uuid.UUID `gorm:"type:char(36);index" json:"save_key"`

	Title           string `gorm:"size:200" json:"title"`
	Theme           string `gorm:"size:1000" json:"theme"`
	Timeframe       string `gorm:"size:1000" json:"timeframe"`
	StartingDetails string `gorm:"size:2000" json:"starting_details"`

	// TotalDollarCost is the accumulated LLM spend for this game.
	TotalDollarCost float64 `json:"total_dollar_cost"`

	Turns     int `json:"turns"`
	WordCount int `json:"word_count"`

	Locations  []Location  `gorm:"many2many:game_locations" json:"locations,omitempty"`
	Characters []Character `gorm:"many2many:game_characters" json:"characters,omitempty"`
	Skills     []Skill     `gorm:"many2many:game_skills" json:"skills,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Location is a place in a game. Only the starting location is generated;
// the story is free to move on from it.
type Location struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	Name        string `gorm:"size:200" json:"name"`
	Description string `gorm:"size:5000" json:"description"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Skill is an ability characters can hold at some proficiency.
type Skill struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	Name        string `gorm:"size:200" json:"name"`
	Description string `gorm:"size:3000" json:"description"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Character is one of the three generated protagonists. Skills maps a
// normalized skill name to a free-text proficiency level.
type Character struct {
	ID                  uint              `gorm:"primaryKey" json:"id"`
	Name                string            `gorm:"size:200" json:"name"`
	History             string            `gorm:"size:3000" json:"history"`
	PhysicalDescription string            `gorm:"size:3000" json:"physical_description"`
	Personality         string            `gorm:"size:3000" json:"personality"`
	Skills              map[string]string `gorm:"serializer:json" json:"skills"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FirstName returns the character's first name, for the intro message.
func (c *Character) FirstName() string {
	fields := strings.Fields(c.Name)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

var titleCaser = cases.Title(language.English)

// NormalizeSkillName cleans a model-generated skill name: trims whitespace,
// replaces underscores and hyphens with spaces, and title-cases each word.
// "fire_starting" becomes "Fire Starting".
func NormalizeSkillName(name string) string {
	name = strings.ReplaceAll(name, "_", " ")
	name = strings.ReplaceAll(name, "-", " ")
	name = strings.TrimSpace(name)
	return titleCaser.String(name)
}

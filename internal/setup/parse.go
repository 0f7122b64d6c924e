package setup

import (
	"strings"

	"github.com/jwebster45206/crash-engine/pkg/game"
)

const (
	minSkills          = 5
	maxSkills          = 10
	expectedCharacters = 3

	fieldSep = "--"
)

// ParsedSkill is one skill parsed from a raw model batch.
type ParsedSkill struct {
	Name        string
	Description string
}

// ParsedCharacter is one character parsed from a raw model batch. Skills
// maps normalized skill name to proficiency level.
type ParsedCharacter struct {
	Name        string
	History     string
	Physical    string
	Personality string
	Skills      map[string]string
}

// ParseSkills parses a raw skills batch: one skill per line, name and
// description separated by "--". Lines that do not split into exactly two
// fields, or whose name is empty after normalization, are dropped. Names are
// normalized to title-cased words. Batch-level
// acceptance is the caller's job; this only extracts what parses.
func ParseSkills(raw string) []ParsedSkill {
	var out []ParsedSkill
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		fields := strings.Split(line, fieldSep)
		if len(fields) != 2 {
			continue
		}

		name := game.NormalizeSkillName(fields[0])
		if name == "" {
			continue
		}

		out = append(out, ParsedSkill{
			Name:        name,
			Description: strings.TrimSpace(fields[1]),
		})
	}
	return out
}

// ParseCharacters parses a raw characters batch: one character per line,
// five "--"-separated fields (name, history, physical description,
// personality, skills). The skills field is a comma-separated list of
// name|level pairs; pairs that do not split cleanly are dropped from that
// character's skill map without failing the character.
func ParseCharacters(raw string) []ParsedCharacter {
	var out []ParsedCharacter
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		fields := strings.Split(line, fieldSep)
		if len(fields) != 5 {
			continue
		}

		skills := make(map[string]string)
		for _, pair := range strings.Split(fields[4], ",") {
			parts := strings.Split(pair, "|")
			if len(parts) != 2 {
				continue
			}
			name := game.NormalizeSkillName(parts[0])
			level := strings.TrimSpace(parts[1])
			if name == "" || level == "" {
				continue
			}
			skills[name] = level
		}

		out = append(out, ParsedCharacter{
			Name:        strings.TrimSpace(fields[0]),
			History:     strings.TrimSpace(fields[1]),
			Physical:    strings.TrimSpace(fields[2]),
			Personality: strings.TrimSpace(fields[3]),
			Skills:      skills,
		})
	}
	return out
}

package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/jwebster45206/crash-engine/internal/history"
	"github.com/jwebster45206/crash-engine/internal/services"
	"github.com/jwebster45206/crash-engine/internal/setup"
	"github.com/jwebster45206/crash-engine/pkg/chat"
	"github.com/jwebster45206/crash-engine/pkg/game"
)

// Synthetic user prompts paired with the crash and wakeup summaries so the
// summary stream alternates writers from the start.
const (
	crashUserPrompt  = "Start the story for me - have them crash land."
	wakeupUserPrompt = "Now tell the story of them waking up in this new, strange place."
)

// Prefixes of the four fixed-order initialization entries.
const (
	locationNamePrefix = "Location name: "
	locationDescPrefix = "Location description: "
	skillsPrefix       = "Skills: "
	charactersPrefix   = "Characters: "
)

// GenerateTitle runs the title stage: it stores the scenario seed on the
// game, generates the title, and accumulates the cost.
func (e *Engine) GenerateTitle(ctx context.Context, gameID uint, s setup.Setup) (string, error) {
	lock := e.gameLock(gameID)
	lock.Lock()
	defer lock.Unlock()

	g, err := e.games.GetGame(ctx, gameID)
	if err != nil {
		return "", fmt.Errorf("failed to load game: %w", err)
	}
	if g == nil {
		return "", fmt.Errorf("game %d not found", gameID)
	}

	title, cost, err := e.generator.Title(ctx, s)
	if err != nil {
		return "", err
	}

	g.Theme = s.Theme
	g.Timeframe = s.Timeframe
	g.StartingDetails = s.Details
	g.Title = title
	g.TotalDollarCost += cost
	if err := e.games.UpdateGame(ctx, g); err != nil {
		return "", fmt.Errorf("failed to save game title: %w", err)
	}

	e.logger.Info("Game title created", "game_id", gameID, "title", title,
		"theme", s.Theme, "timeframe", s.Timeframe, "details", s.Details)
	return title, nil
}

// drain consumes a generation stream, forwarding text chunks through emit
// and returning the concatenated text plus the terminal cost.
func drain(chunks <-chan services.Chunk, emit Emit) (string, float64, error) {
	var sb strings.Builder
	var cost float64
	for chunk := range chunks {
		switch {
		case chunk.Err != nil:
			return "", 0, chunk.Err
		case chunk.Done:
			cost = chunk.Cost
		default:
			sb.WriteString(chunk.Text)
			if emit != nil {
				if err := emit(chunk.Text); err != nil {
					return "", 0, fmt.Errorf("failed to stream chunk: %w", err)
				}
			}
		}
	}
	return sb.String(), cost, nil
}

// persistScene writes a generated narrative to both streams under a sentinel
// turn tag: the verbatim text to full text, and a synthetic user prompt plus
// the summary to summaries.
func (e *Engine) persistScene(ctx context.Context, g *game.Game, text, userPrompt, sentinel string) error {
	if err := e.history.Append(ctx, g.ID, history.StreamFullText,
		chat.AIEntry(text, chat.TurnSentinel(sentinel))); err != nil {
		return err
	}

	summarized, summaryCost, err := e.summarizer.Summarize(ctx, text, e.opts.SummaryTargetWords)
	if err != nil {
		return err
	}

	if err := e.history.Append(ctx, g.ID, history.StreamSummaries,
		chat.UserEntry(userPrompt, chat.TurnSentinel(sentinel))); err != nil {
		return err
	}
	if err := e.history.Append(ctx, g.ID, history.StreamSummaries,
		chat.AIEntry(summarized, chat.TurnSentinel(sentinel))); err != nil {
		return err
	}

	g.TotalDollarCost += summaryCost
	g.WordCount += wordCount(text)
	return e.games.UpdateGame(ctx, g)
}

// GenerateCrash streams the crash scene and persists it with its summary.
// The full scene text is returned so the caller can feed it to the wakeup
// stage without a re-read.
func (e *Engine) GenerateCrash(ctx context.Context, gameID uint, emit Emit) (string, error) {
	lock := e.gameLock(gameID)
	lock.Lock()
	defer lock.Unlock()

	g, err := e.games.GetGame(ctx, gameID)
	if err != nil {
		return "", fmt.Errorf("failed to load game: %w", err)
	}
	if g == nil {
		return "", fmt.Errorf("game %d not found", gameID)
	}

	e.logger.Info("Generating crash story", "game_id", gameID)

	chunks, err := e.generator.Crash(ctx, g.Title, setupOf(g))
	if err != nil {
		return "", fmt.Errorf("failed to start crash generation: %w", err)
	}

	story, cost, err := drain(chunks, emit)
	if err != nil {
		return "", fmt.Errorf("failed to generate crash story: %w", err)
	}
	g.TotalDollarCost += cost

	if err := e.persistScene(ctx, g, story, crashUserPrompt, chat.TurnCrash); err != nil {
		return "", fmt.Errorf("failed to persist crash story: %w", err)
	}

	e.logger.Info("Crash story generated", "game_id", gameID)
	return story, nil
}

// GenerateWorldAndWakeup runs the world-population stages (location, skills,
// characters) and then streams the wakeup scene. Stages whose output is
// already in the initialization stream are skipped, so re-invoking after a
// partial failure resumes instead of duplicating records.
func (e *Engine) GenerateWorldAndWakeup(ctx context.Context, gameID uint, crashStory string, emit Emit) error {
	lock := e.gameLock(gameID)
	lock.Lock()
	defer lock.Unlock()

	g, err := e.games.GetGame(ctx, gameID)
	if err != nil {
		return fmt.Errorf("failed to load game: %w", err)
	}
	if g == nil {
		return fmt.Errorf("game %d not found", gameID)
	}

	init, err := e.history.ReadInitialization(ctx, gameID)
	if err != nil {
		return fmt.Errorf("failed to read initialization state: %w", err)
	}

	s := setupOf(g)

	// Location: two entries, written together.
	var locationDesc string
	if len(init) >= 2 {
		locationDesc = strings.TrimPrefix(init[1].Text, locationDescPrefix)
		e.logger.Info("Skipping location stage, already persisted", "game_id", gameID)
	} else {
		name, desc, cost, err := e.generator.Location(ctx, crashStory, g.Title, s)
		if err != nil {
			return err
		}
		locationDesc = desc

		if err := e.games.AddLocation(ctx, gameID, &game.Location{Name: name, Description: desc}); err != nil {
			return fmt.Errorf("failed to save location: %w", err)
		}
		g.TotalDollarCost += cost
		if err := e.games.UpdateGame(ctx, g); err != nil {
			return fmt.Errorf("failed to save game: %w", err)
		}

		for _, text := range []string{locationNamePrefix + name, locationDescPrefix + desc} {
			entry := chat.AIEntry(text, nil)
			if err := e.history.AppendInitialization(ctx, gameID, entry); err != nil {
				return fmt.Errorf("failed to persist location: %w", err)
			}
			init = append(init, entry)
		}
	}

	// Skills.
	var skillsRaw string
	if len(init) >= 3 {
		skillsRaw = strings.TrimPrefix(init[2].Text, skillsPrefix)
		e.logger.Info("Skipping skills stage, already persisted", "game_id", gameID)
	} else {
		raw, parsed, cost, err := e.generator.Skills(ctx, crashStory, locationDesc, g.Title, s)
		if err != nil {
			return err
		}
		skillsRaw = raw

		skills := make([]game.Skill, 0, len(parsed))
		for _, sk := range parsed {
			skills = append(skills, game.Skill{Name: sk.Name, Description: sk.Description})
		}
		if err := e.games.AddSkills(ctx, gameID, skills); err != nil {
			return fmt.Errorf("failed to save skills: %w", err)
		}
		g.TotalDollarCost += cost
		if err := e.games.UpdateGame(ctx, g); err != nil {
			return fmt.Errorf("failed to save game: %w", err)
		}

		entry := chat.AIEntry(skillsPrefix+raw, nil)
		if err := e.history.AppendInitialization(ctx, gameID, entry); err != nil {
			return fmt.Errorf("failed to persist skills: %w", err)
		}
		init = append(init, entry)
	}

	// Characters.
	var charactersRaw string
	if len(init) >= 4 {
		charactersRaw = strings.TrimPrefix(init[3].Text, charactersPrefix)
		e.logger.Info("Skipping characters stage, already persisted", "game_id", gameID)
	} else {
		raw, parsed, cost, err := e.generator.Characters(ctx, crashStory, locationDesc, skillsRaw, g.Title, s)
		if err != nil {
			return err
		}
		charactersRaw = raw

		characters := make([]game.Character, 0, len(parsed))
		for _, c := range parsed {
			characters = append(characters, game.Character{
				Name:                c.Name,
				History:             c.History,
				PhysicalDescription: c.Physical,
				Personality:         c.Personality,
				Skills:              c.Skills,
			})
		}
		if err := e.games.AddCharacters(ctx, gameID, characters); err != nil {
			return fmt.Errorf("failed to save characters: %w", err)
		}
		g.TotalDollarCost += cost
		if err := e.games.UpdateGame(ctx, g); err != nil {
			return fmt.Errorf("failed to save game: %w", err)
		}

		if err := e.history.AppendInitialization(ctx, gameID,
			chat.AIEntry(charactersPrefix+raw, nil)); err != nil {
			return fmt.Errorf("failed to persist characters: %w", err)
		}
	}

	e.logger.Info("Generating wakeup scene", "game_id", gameID)

	chunks, err := e.generator.Wakeup(ctx, crashStory, locationDesc, skillsRaw, charactersRaw, g.Title, s)
	if err != nil {
		return fmt.Errorf("failed to start wakeup generation: %w", err)
	}

	story, cost, err := drain(chunks, emit)
	if err != nil {
		return fmt.Errorf("failed to generate wakeup story: %w", err)
	}
	g.TotalDollarCost += cost

	if err := e.persistScene(ctx, g, story, wakeupUserPrompt, chat.TurnWakeup); err != nil {
		return fmt.Errorf("failed to persist wakeup story: %w", err)
	}

	e.logger.Info("Wakeup scene generated", "game_id", gameID)
	return nil
}

// setupOf rebuilds the scenario seed from the stored game fields.
func setupOf(g *game.Game) setup.Setup {
	return setup.Setup{
		Theme:     g.Theme,
		Timeframe: g.Timeframe,
		Details:   g.StartingDetails,
	}
}

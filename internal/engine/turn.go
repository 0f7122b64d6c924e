package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jwebster45206/crash-engine/internal/history"
	"github.com/jwebster45206/crash-engine/internal/services"
	"github.com/jwebster45206/crash-engine/internal/summary"
	"github.com/jwebster45206/crash-engine/pkg/chat"
	"github.com/jwebster45206/crash-engine/pkg/game"
)

// turnGuidance is appended to the player's input before it is sent to the
// model. Without the monster clause the model fills every scene with
// creatures.
const turnGuidance = `. Remember to keep it around 150-250 words.
When in doubt, make something surprising and exciting happen!
Avoid creating monsters and scary creatures - we're looking for drama, funny characters, and bizarre twists!`

// mainLoopPreamble closes the system prompt, telling the model how to read
// the mixed summary/full-text history.
const mainLoopPreamble = `Here is the history of the game thus far:
Each of these, except for the last, is a summary of what happened.
The last is the full text. What you output should be more like the full text.

`

// SubmitTurn runs one turn: repair, prompt assembly, streamed generation,
// then summarize-and-persist. Any failure after generation starts rolls the
// turn back so the stored state is as if it never happened. lastAIText is
// the caller's unabridged copy of the previous model response; it replaces
// the trailing summary so the model sees one full-text example.
func (e *Engine) SubmitTurn(ctx context.Context, gameID uint, userInput, lastAIText string, turn int, emit Emit) error {
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

	e.repairStrayUser(ctx, gameID)

	systemPrompt, err := e.buildTurnSystemPrompt(ctx, g)
	if err != nil {
		return err
	}

	msgs, err := e.buildTurnHistory(ctx, gameID, userInput, lastAIText)
	if err != nil {
		return err
	}

	e.logger.Info("Generating turn response", "game_id", gameID, "turn", turn)

	chunks, err := e.gateway.PromptStream(ctx, &services.Request{
		History: msgs,
		Context: services.ContextMainLoop,
		System:  systemPrompt,
		Caching: true,
	})
	if err != nil {
		return fmt.Errorf("failed to start turn generation: %w", err)
	}

	response, cost, err := drain(chunks, emit)
	if err != nil {
		e.rollbackTurn(ctx, g, turn)
		return fmt.Errorf("failed to generate turn response: %w", err)
	}
	g.TotalDollarCost += cost

	if err := e.persistTurn(ctx, g, userInput, response, turn); err != nil {
		e.rollbackTurn(ctx, g, turn)
		return fmt.Errorf("failed to persist turn: %w", err)
	}

	return nil
}

// repairStrayUser strips a trailing user entry from the latest segment of
// each stream. One is left behind when a previous turn died before the model
// responded. Repair failures are logged and ignored; the turn itself may
// still succeed.
func (e *Engine) repairStrayUser(ctx context.Context, gameID uint) {
	for _, stream := range []history.Stream{history.StreamFullText, history.StreamSummaries} {
		entries, err := e.history.ReadLatestSegment(ctx, gameID, stream)
		if err != nil {
			e.logger.Warn("Failed to check stream for stray user entry",
				"game_id", gameID, "stream", stream, "error", err)
			continue
		}
		if len(entries) == 0 || entries[len(entries)-1].Writer != chat.WriterUser {
			continue
		}

		e.logger.Info("Removing stray user entry", "game_id", gameID, "stream", stream)
		if err := e.history.OverwriteLatest(ctx, gameID, stream, entries[:len(entries)-1]); err != nil {
			e.logger.Warn("Failed to remove stray user entry",
				"game_id", gameID, "stream", stream, "error", err)
		}
	}
}

// buildTurnSystemPrompt assembles the per-turn system prompt from the game
// metadata and the four initialization entries.
func (e *Engine) buildTurnSystemPrompt(ctx context.Context, g *game.Game) (string, error) {
	var sb strings.Builder
	sb.WriteString("Here is the title, theme, timeframe, and details of the game:\n")

	if g.Title != "" {
		fmt.Fprintf(&sb, "Title: %s\n", g.Title)
	} else {
		sb.WriteString("There is no specified title.\n")
	}
	if g.Theme != "" {
		fmt.Fprintf(&sb, "Theme: %s\n", g.Theme)
	} else {
		sb.WriteString("There is no specified theme.\n")
	}
	if g.Timeframe != "" {
		fmt.Fprintf(&sb, "Timeframe: %s\n", g.Timeframe)
	} else {
		sb.WriteString("There is no specified timeframe.\n")
	}
	if g.StartingDetails != "" {
		fmt.Fprintf(&sb, "Details: %s\n\n", g.StartingDetails)
	} else {
		sb.WriteString("There are no specified details.\n\n")
	}

	init, err := e.history.ReadInitialization(ctx, g.ID)
	if err != nil {
		return "", fmt.Errorf("failed to read initialization entries: %w", err)
	}
	if len(init) < 4 {
		return "", fmt.Errorf("game %d is not fully initialized: %d of 4 entries", g.ID, len(init))
	}

	sb.WriteString("Here are the location name, description, skills, and characters:\n")
	fmt.Fprintf(&sb, "%s\n", init[0].Text)
	fmt.Fprintf(&sb, "%s\n", init[1].Text)
	sb.WriteString("But remember - they may not be in this location anymore. This is just the location where the story started.\n")
	fmt.Fprintf(&sb, "%s\n", init[2].Text)
	fmt.Fprintf(&sb, "%s\n\n", init[3].Text)

	sb.WriteString(mainLoopPreamble)
	return sb.String(), nil
}

// buildTurnHistory assembles the message list: the summary stream with its
// trailing model entry swapped for the caller's full text, then the
// decorated user input, then sanitized for alternation.
func (e *Engine) buildTurnHistory(ctx context.Context, gameID uint, userInput, lastAIText string) ([]chat.Entry, error) {
	msgs, err := e.history.ReadAll(ctx, gameID, history.StreamSummaries)
	if err != nil {
		return nil, fmt.Errorf("failed to read summaries: %w", err)
	}

	if len(msgs) > 0 && msgs[len(msgs)-1].Writer == chat.WriterAI {
		msgs = msgs[:len(msgs)-1]
	}
	if lastAIText != "" {
		msgs = append(msgs, chat.AIEntry(strings.TrimSpace(lastAIText), nil))
	}

	msgs = append(msgs, chat.UserEntry(userInput+turnGuidance, nil))
	return summary.Sanitize(msgs), nil
}

// persistTurn summarizes the response and writes the turn to both streams,
// then updates the game counters.
func (e *Engine) persistTurn(ctx context.Context, g *game.Game, userInput, response string, turn int) error {
	summarized, summaryCost, err := e.summarizer.Summarize(ctx, response, e.opts.SummaryTargetWords)
	if err != nil {
		return err
	}
	g.TotalDollarCost += summaryCost

	tag := chat.TurnNumber(turn)
	writes := []struct {
		stream history.Stream
		entry  chat.Entry
	}{
		{history.StreamFullText, chat.UserEntry(userInput, tag)},
		{history.StreamSummaries, chat.UserEntry(userInput, tag)},
		{history.StreamFullText, chat.AIEntry(response, tag)},
		{history.StreamSummaries, chat.AIEntry(summarized, tag)},
	}
	for _, w := range writes {
		if err := e.history.Append(ctx, g.ID, w.stream, w.entry); err != nil {
			return err
		}
	}

	g.Turns = turn
	g.WordCount += wordCount(response)
	return e.games.UpdateGame(ctx, g)
}

// rollbackTurn removes every trace of a failed turn and restores the turn
// counter, leaving the game as if the turn was never submitted. The common
// failure is a client disconnect, which cancels the request context, so the
// rollback runs detached from it with its own deadline.
func (e *Engine) rollbackTurn(ctx context.Context, g *game.Game, turn int) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if err := e.history.RemoveTurn(ctx, g.ID, turn); err != nil {
		e.logger.Error("Failed to remove turn during rollback", "game_id", g.ID, "turn", turn, "error", err)
	}

	g.Turns = turn - 1
	if err := e.games.UpdateGame(ctx, g); err != nil {
		e.logger.Error("Failed to restore turn counter during rollback", "game_id", g.ID, "turn", turn, "error", err)
	}

	e.logger.Info("Turn rolled back", "game_id", g.ID, "turn", turn)
}

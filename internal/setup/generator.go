package setup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jwebster45206/crash-engine/internal/services"
	"github.com/jwebster45206/crash-engine/pkg/retry"
)

// ErrTooManyAttempts is returned when a structured stage exhausts its
// regeneration budget without producing a parseable batch.
var ErrTooManyAttempts = errors.New("too many generation attempts")

// maxParseAttempts bounds the parse-validate-regenerate loop for the
// structured stages. Each attempt is one model call.
const maxParseAttempts = 6

const (
	titleMaxTokens = 50
	crashMaxTokens = 800
)

// Generator runs the initialization stages against the prompt gateway.
// Stages are strictly ordered; each prompt embeds the outputs of all the
// stages before it.
type Generator struct {
	gateway    *services.Gateway
	logger     *slog.Logger
	retries    int
	retryDelay time.Duration
}

// NewGenerator creates a stage generator.
func NewGenerator(gateway *services.Gateway, retries int, retryDelay time.Duration, logger *slog.Logger) *Generator {
	return &Generator{
		gateway:    gateway,
		logger:     logger,
		retries:    retries,
		retryDelay: retryDelay,
	}
}

// prompt issues one non-streaming stage call with transient-failure retry.
func (g *Generator) prompt(ctx context.Context, req *services.Request) (string, float64, error) {
	var text string
	var cost float64
	err := retry.Do(ctx, g.retries, g.retryDelay, func() error {
		t, c, err := g.gateway.Prompt(ctx, req)
		if err != nil {
			g.logger.Warn("Stage generation attempt failed", "context", req.Context, "error", err)
			return err
		}
		text = t
		cost = c
		return nil
	})
	return text, cost, err
}

// Title generates the scenario title from the setup seed.
func (g *Generator) Title(ctx context.Context, s Setup) (string, float64, error) {
	title, cost, err := g.prompt(ctx, &services.Request{
		Message:   contextPrompt("", s),
		Context:   services.ContextCreateTitle,
		MaxTokens: titleMaxTokens,
	})
	if err != nil {
		return "", 0, fmt.Errorf("failed to generate title: %w", err)
	}
	return title, cost, nil
}

// Crash generates the opening crash narrative as a stream. The caller
// consumes text chunks and the terminal cost chunk.
func (g *Generator) Crash(ctx context.Context, title string, s Setup) (<-chan services.Chunk, error) {
	return g.gateway.PromptStream(ctx, &services.Request{
		Message:   contextPrompt(titlePhrase(title), s),
		Context:   services.ContextCreateCrash,
		MaxTokens: crashMaxTokens,
	})
}

// Location generates the starting location as two calls, first the name and
// then a description that references it. The returned cost is the sum.
func (g *Generator) Location(ctx context.Context, crashStory, title string, s Setup) (string, string, float64, error) {
	base := titlePhrase(title)
	base = contextPrompt(base, s)
	base += fmt.Sprintf("\n\nHere is the story of the crash:\n\n%s\n\n", crashStory)

	name, nameCost, err := g.prompt(ctx, &services.Request{
		Message: base,
		Context: services.ContextCreateLocationName,
	})
	if err != nil {
		return "", "", 0, fmt.Errorf("failed to generate location name: %w", err)
	}

	desc, descCost, err := g.prompt(ctx, &services.Request{
		Message: base + fmt.Sprintf("The location is named: %s\n", name),
		Context: services.ContextCreateLocationDescription,
	})
	if err != nil {
		return "", "", 0, fmt.Errorf("failed to generate location description: %w", err)
	}

	return name, desc, nameCost + descCost, nil
}

// Skills generates the scenario skill set. The raw model text is parsed into
// typed skills; a batch outside the 5..10 range is discarded and the stage
// re-prompts with the same prompt, up to maxParseAttempts model calls. On
// exhaustion the error wraps ErrTooManyAttempts. The raw text of the
// accepted batch is returned alongside the parsed skills so later stages
// can embed it verbatim.
func (g *Generator) Skills(ctx context.Context, crashStory, locationDescription, title string, s Setup) (string, []ParsedSkill, float64, error) {
	msg := titlePhrase(title)
	msg = contextPrompt(msg, s)
	msg += fmt.Sprintf("\n\nHere is the story of the crash:\n\n%s\n\n", crashStory)
	msg += fmt.Sprintf("Here is the description of the starting location:\n\n%s\n", locationDescription)

	req := &services.Request{
		Message: msg,
		Context: services.ContextCreateSkills,
	}

	var total float64
	for attempt := 1; attempt <= maxParseAttempts; attempt++ {
		raw, cost, err := g.prompt(ctx, req)
		if err != nil {
			return "", nil, total, fmt.Errorf("failed to generate skills: %w", err)
		}
		total += cost

		skills := ParseSkills(raw)
		if len(skills) >= minSkills && len(skills) <= maxSkills {
			return raw, skills, total, nil
		}
		g.logger.Warn("Rejecting skills batch", "attempt", attempt, "parsed", len(skills))
	}

	return "", nil, total, fmt.Errorf("failed to generate a valid skills batch: %w", ErrTooManyAttempts)
}

// Characters generates the cast. The prompt embeds the accepted skills batch
// verbatim so character skill names line up with the scenario skills. A
// batch is accepted only when exactly three characters parse; the same
// bounded regeneration loop as Skills applies.
func (g *Generator) Characters(ctx context.Context, crashStory, locationDescription, skillsRaw, title string, s Setup) (string, []ParsedCharacter, float64, error) {
	msg := titlePhrase(title)
	msg = contextPrompt(msg, s)
	msg += fmt.Sprintf("\n\nHere is the story of the crash:\n\n%s\n\n", crashStory)
	msg += fmt.Sprintf("Here is the description of the starting location:\n\n%s\n\n", locationDescription)
	msg += fmt.Sprintf("Here are the skills available in this scenario:\n\n%s\n", skillsRaw)

	req := &services.Request{
		Message: msg,
		Context: services.ContextCreateCharacters,
	}

	var total float64
	for attempt := 1; attempt <= maxParseAttempts; attempt++ {
		raw, cost, err := g.prompt(ctx, req)
		if err != nil {
			return "", nil, total, fmt.Errorf("failed to generate characters: %w", err)
		}
		total += cost

		characters := ParseCharacters(raw)
		if len(characters) == expectedCharacters {
			return raw, characters, total, nil
		}
		g.logger.Warn("Rejecting characters batch", "attempt", attempt, "parsed", len(characters))
	}

	return "", nil, total, fmt.Errorf("failed to generate a valid characters batch: %w", ErrTooManyAttempts)
}

// Wakeup generates the waking-up scene as a stream. Its prompt chains every
// prior stage output.
func (g *Generator) Wakeup(ctx context.Context, crashStory, locationDescription, skillsRaw, charactersRaw, title string, s Setup) (<-chan services.Chunk, error) {
	msg := titlePhrase(title)
	msg = contextPrompt(msg, s)
	msg += fmt.Sprintf("\n\nHere is the story of the crash:\n\n%s\n\n", crashStory)
	msg += fmt.Sprintf("Here is the description of the starting location:\n\n%s\n\n", locationDescription)
	msg += fmt.Sprintf("Here are the skills available in this scenario:\n\n%s\n\n", skillsRaw)
	msg += fmt.Sprintf("Here are the characters:\n\n%s\n", charactersRaw)

	return g.gateway.PromptStream(ctx, &services.Request{
		Message: msg,
		Context: services.ContextCreateWakeup,
	})
}

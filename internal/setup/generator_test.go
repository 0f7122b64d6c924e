package setup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/crash-engine/internal/services"
	"github.com/jwebster45206/crash-engine/pkg/pricing"
)

const validSkillsBatch = `fire starting--Start fires.
foraging--Find food.
first aid--Patch wounds.
navigation--Find the way.
fishing--Catch fish.`

const validCharactersBatch = `Mara--cook--short--loyal--fishing|7
Tobias--navigator--tall--calculating--navigation|9
Ada--stowaway--small--curious--foraging|6`

func newTestGenerator(t *testing.T, client *services.MockModelClient) *Generator {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gateway, err := services.NewGateway(client, "claude-3-haiku-20240307", services.PromptTable{"main": ""}, logger)
	require.NoError(t, err)
	return NewGenerator(gateway, 3, time.Millisecond, logger)
}

func completeWith(texts ...string) func(ctx context.Context, req *services.ModelRequest) (*services.ModelResponse, error) {
	i := 0
	return func(ctx context.Context, req *services.ModelRequest) (*services.ModelResponse, error) {
		text := texts[len(texts)-1]
		if i < len(texts) {
			text = texts[i]
		}
		i++
		return &services.ModelResponse{Text: text, Usage: pricing.Usage{InputTokens: 100, OutputTokens: 50}}, nil
	}
}

func TestGenerateTitle(t *testing.T) {
	client := services.NewMockModelClient()
	client.CompleteFunc = completeWith("Marooned on Ashfall Reef")

	g := newTestGenerator(t, client)
	title, cost, err := g.Title(context.Background(), Setup{Theme: "desert island survival"})
	require.NoError(t, err)

	assert.Equal(t, "Marooned on Ashfall Reef", title)
	assert.Greater(t, cost, 0.0)

	require.Len(t, client.CompleteCalls, 1)
	req := client.CompleteCalls[0]
	assert.Equal(t, titleMaxTokens, req.MaxTokens)
	assert.Contains(t, req.Messages[0].Text, "The theme is desert island survival.")
	assert.Contains(t, req.Messages[0].Text, "There is no specified timeframe.")
}

func TestGenerateCrashStreams(t *testing.T) {
	client := services.NewMockModelClient()
	client.StreamFunc = services.StreamText("The engines failed over open water.", 10, pricing.Usage{InputTokens: 50, OutputTokens: 200})

	g := newTestGenerator(t, client)
	chunks, err := g.Crash(context.Background(), "Marooned", Setup{Theme: "jungle plane wreck"})
	require.NoError(t, err)

	var sb strings.Builder
	var cost float64
	for chunk := range chunks {
		require.NoError(t, chunk.Err)
		if chunk.Done {
			cost = chunk.Cost
			continue
		}
		sb.WriteString(chunk.Text)
	}

	assert.Equal(t, "The engines failed over open water.", sb.String())
	assert.Greater(t, cost, 0.0)

	require.Len(t, client.StreamCalls, 1)
	req := client.StreamCalls[0]
	assert.Equal(t, crashMaxTokens, req.MaxTokens)
	assert.Contains(t, req.Messages[0].Text, "The title of this scenario is Marooned.")
	assert.Contains(t, req.Messages[0].Text, "Don't include the title in your response")
}

func TestGenerateLocationTwoCalls(t *testing.T) {
	client := services.NewMockModelClient()
	client.CompleteFunc = completeWith("Ashfall Reef", "A black-sand crescent beneath a smoking cone.")

	g := newTestGenerator(t, client)
	name, desc, cost, err := g.Location(context.Background(), "the crash story", "Marooned", Setup{})
	require.NoError(t, err)

	assert.Equal(t, "Ashfall Reef", name)
	assert.Equal(t, "A black-sand crescent beneath a smoking cone.", desc)
	assert.Greater(t, cost, 0.0)

	require.Len(t, client.CompleteCalls, 2)
	assert.Contains(t, client.CompleteCalls[1].Messages[0].Text, "The location is named: Ashfall Reef")
}

func TestGenerateSkillsAcceptsValidBatch(t *testing.T) {
	client := services.NewMockModelClient()
	client.CompleteFunc = completeWith(validSkillsBatch)

	g := newTestGenerator(t, client)
	raw, skills, _, err := g.Skills(context.Background(), "crash", "location", "title", Setup{})
	require.NoError(t, err)

	assert.Equal(t, validSkillsBatch, raw)
	assert.Len(t, skills, 5)
	assert.Equal(t, 1, client.CompleteCallCount())
}

func TestGenerateSkillsRegeneratesUndersizedBatch(t *testing.T) {
	small := "fishing--Catch fish.\nforaging--Find food.\nfirst aid--Patch wounds."
	client := services.NewMockModelClient()
	client.CompleteFunc = completeWith(small, validSkillsBatch)

	g := newTestGenerator(t, client)
	_, skills, _, err := g.Skills(context.Background(), "crash", "location", "title", Setup{})
	require.NoError(t, err)

	assert.Len(t, skills, 5)
	assert.Equal(t, 2, client.CompleteCallCount())
}

func TestGenerateSkillsExhaustsAttempts(t *testing.T) {
	client := services.NewMockModelClient()
	client.CompleteFunc = completeWith("nothing parseable here")

	g := newTestGenerator(t, client)
	_, _, _, err := g.Skills(context.Background(), "crash", "location", "title", Setup{})
	require.Error(t, err)

	assert.True(t, errors.Is(err, ErrTooManyAttempts))
	assert.Equal(t, maxParseAttempts, client.CompleteCallCount())
}

func TestGenerateCharactersAcceptsExactlyThree(t *testing.T) {
	client := services.NewMockModelClient()
	client.CompleteFunc = completeWith(validCharactersBatch)

	g := newTestGenerator(t, client)
	raw, characters, _, err := g.Characters(context.Background(), "crash", "location", validSkillsBatch, "title", Setup{})
	require.NoError(t, err)

	assert.Equal(t, validCharactersBatch, raw)
	assert.Len(t, characters, 3)

	req := client.CompleteCalls[0]
	assert.Contains(t, req.Messages[0].Text, validSkillsBatch)
}

func TestGenerateCharactersRejectsWrongCount(t *testing.T) {
	two := "Mara--cook--short--loyal--fishing|7\nTobias--navigator--tall--calculating--navigation|9"
	four := validCharactersBatch + "\nExtra--spare--average--quiet--fishing|1"

	client := services.NewMockModelClient()
	client.CompleteFunc = completeWith(two, four, validCharactersBatch)

	g := newTestGenerator(t, client)
	_, characters, _, err := g.Characters(context.Background(), "crash", "location", "skills", "title", Setup{})
	require.NoError(t, err)

	assert.Len(t, characters, 3)
	assert.Equal(t, 3, client.CompleteCallCount())
}

func TestGenerateCharactersExhaustsAttempts(t *testing.T) {
	client := services.NewMockModelClient()
	client.CompleteFunc = completeWith("not a character batch")

	g := newTestGenerator(t, client)
	_, _, _, err := g.Characters(context.Background(), "crash", "location", "skills", "title", Setup{})
	require.Error(t, err)

	assert.True(t, errors.Is(err, ErrTooManyAttempts))
	assert.Equal(t, maxParseAttempts, client.CompleteCallCount())
}

func TestStageRetriesTransientFailures(t *testing.T) {
	calls := 0
	client := services.NewMockModelClient()
	client.CompleteFunc = func(ctx context.Context, req *services.ModelRequest) (*services.ModelResponse, error) {
		calls++
		if calls == 1 {
			return nil, fmt.Errorf("model overloaded")
		}
		return &services.ModelResponse{Text: "Marooned", Usage: pricing.Usage{InputTokens: 1, OutputTokens: 1}}, nil
	}

	g := newTestGenerator(t, client)
	title, _, err := g.Title(context.Background(), Setup{})
	require.NoError(t, err)
	assert.Equal(t, "Marooned", title)
	assert.Equal(t, 2, calls)
}

package engine

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

	"github.com/jwebster45206/crash-engine/internal/history"
	"github.com/jwebster45206/crash-engine/internal/services"
	"github.com/jwebster45206/crash-engine/internal/setup"
	"github.com/jwebster45206/crash-engine/internal/storage"
	"github.com/jwebster45206/crash-engine/internal/summary"
	"github.com/jwebster45206/crash-engine/pkg/chat"
	"github.com/jwebster45206/crash-engine/pkg/pricing"
)

const (
	crashText  = "The hull split on the reef and the sea took everything else."
	wakeupText = "They woke on black sand, salt in their mouths and gulls overhead."
	turnText   = "Mara pries open the locked chest while Tobias keeps watch."

	skillsBatch = `fire starting--Start fires.
foraging--Find food.
first aid--Patch wounds.
navigation--Find the way.
fishing--Catch fish.`

	charactersBatch = `Mara Voss--Former ship's cook--Short and wiry--Sharp-tongued--fishing|7
Tobias Hale--Disgraced navigator--Tall with a limp--Calculating--navigation|9
Ada Quill--Stowaway--Small and quick--Curious--foraging|6`
)

var testUsage = pricing.Usage{InputTokens: 100, OutputTokens: 10}

// testPrompts tags each context so the mock client can tell stages apart by
// inspecting the assembled system prompt.
var testPrompts = services.PromptTable{
	"main":                                    "",
	services.ContextCreateTitle:               "[title]",
	services.ContextCreateCrash:               "[crash]",
	services.ContextCreateLocationName:        "[location_name]",
	services.ContextCreateLocationDescription: "[location_description]",
	services.ContextCreateSkills:              "[skills]",
	services.ContextCreateCharacters:          "[characters]",
	services.ContextCreateWakeup:              "[wakeup]",
	services.ContextMainLoop:                  "[main_loop]",
}

func scriptedClient() *services.MockModelClient {
	client := services.NewMockModelClient()

	client.CompleteFunc = func(ctx context.Context, req *services.ModelRequest) (*services.ModelResponse, error) {
		system := req.System[0].Text
		var text string
		switch {
		case strings.Contains(system, "[title]"):
			text = "Marooned on Ashfall Reef"
		case strings.Contains(system, "[location_name]"):
			text = "Ashfall Reef"
		case strings.Contains(system, "[location_description]"):
			text = "A black-sand crescent beneath a smoking cone."
		case strings.Contains(system, "[skills]"):
			text = skillsBatch
		case strings.Contains(system, "[characters]"):
			text = charactersBatch
		case strings.Contains(system, "summarization AI"):
			text = "A short summary of what happened."
		default:
			return nil, fmt.Errorf("unexpected complete call: %q", system)
		}
		return &services.ModelResponse{Text: text, Usage: testUsage}, nil
	}

	client.StreamFunc = func(ctx context.Context, req *services.ModelRequest) (<-chan services.StreamEvent, error) {
		system := req.System[0].Text
		var text string
		switch {
		case strings.Contains(system, "[crash]"):
			text = crashText
		case strings.Contains(system, "[wakeup]"):
			text = wakeupText
		case strings.Contains(system, "[main_loop]"):
			text = turnText
		default:
			return nil, fmt.Errorf("unexpected stream call: %q", system)
		}
		return services.StreamText(text, 8, testUsage)(ctx, req)
	}

	return client
}

type testHarness struct {
	engine  *Engine
	games   *storage.MockGameStore
	blob    *storage.MemBlob
	history *history.Store
	client  *services.MockModelClient
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	client := scriptedClient()
	gateway, err := services.NewGateway(client, "claude-3-haiku-20240307", testPrompts, logger)
	require.NoError(t, err)

	blob := storage.NewMemBlob()
	hist := history.New(blob, logger, 50*1024, 1, time.Millisecond)
	games := storage.NewMockGameStore()
	generator := setup.NewGenerator(gateway, 1, time.Millisecond, logger)
	summarizer := summary.NewSummarizer(gateway, 1, time.Millisecond, logger)

	eng := New(games, hist, gateway, generator, summarizer, logger, Options{SummaryTargetWords: 50})
	return &testHarness{engine: eng, games: games, blob: blob, history: hist, client: client}
}

// initializeGame runs the full initialization protocol and returns the game
// id.
func initializeGame(t *testing.T, h *testHarness) uint {
	t.Helper()
	ctx := context.Background()

	g, err := h.engine.CreateSession(ctx)
	require.NoError(t, err)

	s := setup.Setup{Theme: "desert island survival", Timeframe: "1800s", Details: "shipwreck, mutiny"}
	_, err = h.engine.GenerateTitle(ctx, g.ID, s)
	require.NoError(t, err)

	crash, err := h.engine.GenerateCrash(ctx, g.ID, nil)
	require.NoError(t, err)

	require.NoError(t, h.engine.GenerateWorldAndWakeup(ctx, g.ID, crash, nil))
	return g.ID
}

func collector() (Emit, *strings.Builder) {
	var sb strings.Builder
	return func(text string) error {
		sb.WriteString(text)
		return nil
	}, &sb
}

func TestInitializationEndToEnd(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	g, err := h.engine.CreateSession(ctx)
	require.NoError(t, err)
	require.NotEqual(t, "", g.SaveKey.String())

	s := setup.Setup{Theme: "desert island survival", Timeframe: "1800s", Details: "shipwreck, mutiny"}
	title, err := h.engine.GenerateTitle(ctx, g.ID, s)
	require.NoError(t, err)
	assert.Equal(t, "Marooned on Ashfall Reef", title)

	emit, crashOut := collector()
	crash, err := h.engine.GenerateCrash(ctx, g.ID, emit)
	require.NoError(t, err)
	assert.Equal(t, crashText, crash)
	assert.Equal(t, crashText, crashOut.String())

	emit, wakeupOut := collector()
	require.NoError(t, h.engine.GenerateWorldAndWakeup(ctx, g.ID, crash, emit))
	assert.Equal(t, wakeupText, wakeupOut.String())

	// Relational records.
	assert.Len(t, h.games.LocationsFor(g.ID), 1)
	skills, err := h.games.GetSkills(ctx, g.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(skills), 5)
	assert.LessOrEqual(t, len(skills), 10)
	characters, err := h.games.GetCharacters(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, characters, 3)

	// Initialization stream: four entries in fixed order.
	init, err := h.history.ReadInitialization(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, init, 4)
	assert.Equal(t, "Location name: Ashfall Reef", init[0].Text)
	assert.True(t, strings.HasPrefix(init[1].Text, "Location description: "))
	assert.True(t, strings.HasPrefix(init[2].Text, "Skills: "))
	assert.True(t, strings.HasPrefix(init[3].Text, "Characters: "))

	// Full-text stream holds the verbatim scenes.
	fullText, err := h.history.ReadAll(ctx, g.ID, history.StreamFullText)
	require.NoError(t, err)
	require.Len(t, fullText, 2)
	assert.Equal(t, crashText, fullText[0].Text)
	assert.Equal(t, chat.TurnCrash, fullText[0].Turn.Sentinel)
	assert.Equal(t, wakeupText, fullText[1].Text)
	assert.Equal(t, chat.TurnWakeup, fullText[1].Turn.Sentinel)

	// Summary stream pairs each scene summary with its synthetic prompt.
	summaries, err := h.history.ReadAll(ctx, g.ID, history.StreamSummaries)
	require.NoError(t, err)
	require.Len(t, summaries, 4)
	assert.Equal(t, chat.WriterUser, summaries[0].Writer)
	assert.Equal(t, "Start the story for me - have them crash land.", summaries[0].Text)
	assert.Equal(t, chat.WriterAI, summaries[1].Writer)
	assert.Equal(t, chat.WriterUser, summaries[2].Writer)
	assert.Equal(t, "Now tell the story of them waking up in this new, strange place.", summaries[2].Text)

	// Intro references the three first names.
	emit, introOut := collector()
	require.NoError(t, h.engine.GenerateIntro(ctx, g.ID, emit))
	assert.Contains(t, introOut.String(), "Mara, Tobias, and Ada need your help!")

	// Cost is the sum of every stage's reported cost: title, crash, crash
	// summary, location name, location description, skills, characters,
	// wakeup, wakeup summary.
	perCall, err := pricing.Price("claude-3-haiku-20240307", testUsage, false)
	require.NoError(t, err)
	stored, err := h.games.GetGame(ctx, g.ID)
	require.NoError(t, err)
	assert.InDelta(t, 9*perCall, stored.TotalDollarCost, 1e-12)
	assert.Equal(t, wordCount(crashText)+wordCount(wakeupText), stored.WordCount)
}

func TestWorldAndWakeupSkipsPersistedStages(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	g, err := h.engine.CreateSession(ctx)
	require.NoError(t, err)

	// A previous attempt already persisted the location entries.
	require.NoError(t, h.history.AppendInitialization(ctx, g.ID, chat.AIEntry("Location name: Ashfall Reef", nil)))
	require.NoError(t, h.history.AppendInitialization(ctx, g.ID, chat.AIEntry("Location description: A black-sand crescent.", nil)))

	require.NoError(t, h.engine.GenerateWorldAndWakeup(ctx, g.ID, crashText, nil))

	// The location stage was skipped: no new relational row, no duplicate
	// entries.
	assert.Empty(t, h.games.LocationsFor(g.ID))
	init, err := h.history.ReadInitialization(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, init, 4)
	assert.Equal(t, "Location name: Ashfall Reef", init[0].Text)

	// The remaining stages still ran.
	skills, err := h.games.GetSkills(ctx, g.ID)
	require.NoError(t, err)
	assert.Len(t, skills, 5)
}

func TestSubmitTurn(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	gameID := initializeGame(t, h)

	emit, out := collector()
	err := h.engine.SubmitTurn(ctx, gameID, "Open the locked chest", wakeupText, 1, emit)
	require.NoError(t, err)
	assert.Equal(t, turnText, out.String())

	// The model saw the metadata, the initialization entries, the full-text
	// example, and the decorated input.
	streamReq := h.client.StreamCalls[len(h.client.StreamCalls)-1]
	system := streamReq.System[0].Text
	assert.Contains(t, system, "Title: Marooned on Ashfall Reef")
	assert.Contains(t, system, "Theme: desert island survival")
	assert.Contains(t, system, "Location name: Ashfall Reef")
	assert.Contains(t, system, "The last is the full text.")

	last := streamReq.Messages[len(streamReq.Messages)-1]
	assert.Equal(t, services.RoleUser, last.Role)
	assert.Contains(t, last.Text, "Open the locked chest. Remember to keep it around 150-250 words.")
	penultimate := streamReq.Messages[len(streamReq.Messages)-2]
	assert.Equal(t, services.RoleAssistant, penultimate.Role)
	assert.Equal(t, wakeupText, penultimate.Text)

	// Both streams got the turn, full text verbatim and summaries condensed.
	fullText, err := h.history.ReadAll(ctx, gameID, history.StreamFullText)
	require.NoError(t, err)
	require.Len(t, fullText, 4)
	assert.Equal(t, chat.UserEntry("Open the locked chest", chat.TurnNumber(1)), fullText[2])
	assert.Equal(t, chat.AIEntry(turnText, chat.TurnNumber(1)), fullText[3])

	summaries, err := h.history.ReadAll(ctx, gameID, history.StreamSummaries)
	require.NoError(t, err)
	require.Len(t, summaries, 6)
	assert.Equal(t, "A short summary of what happened.", summaries[5].Text)

	stored, err := h.games.GetGame(ctx, gameID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Turns)
}

func TestSubmitTurnRollsBackOnFailure(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	gameID := initializeGame(t, h)

	// Play five turns.
	for turn := 1; turn <= 5; turn++ {
		require.NoError(t, h.engine.SubmitTurn(ctx, gameID, fmt.Sprintf("turn %d input", turn), turnText, turn, nil))
	}

	// Turn six's summarization fails every time.
	base := h.client.CompleteFunc
	h.client.CompleteFunc = func(ctx context.Context, req *services.ModelRequest) (*services.ModelResponse, error) {
		if strings.Contains(req.System[0].Text, "summarization AI") {
			return nil, errors.New("model overloaded")
		}
		return base(ctx, req)
	}

	err := h.engine.SubmitTurn(ctx, gameID, "turn 6 input", turnText, 6, nil)
	require.Error(t, err)

	// The turn counter is back where it was and no turn-6 entries survive.
	stored, err := h.games.GetGame(ctx, gameID)
	require.NoError(t, err)
	assert.Equal(t, 5, stored.Turns)

	for _, stream := range []history.Stream{history.StreamFullText, history.StreamSummaries} {
		entries, err := h.history.ReadAll(ctx, gameID, stream)
		require.NoError(t, err)
		for _, e := range entries {
			if e.Turn != nil && e.Turn.IsNumber() {
				assert.NotEqual(t, 6, e.Turn.Number, "stream %s kept a turn-6 entry", stream)
			}
		}
	}
}

// respectingBlob fails context-cancelled calls the way a real backend would,
// and can cancel the shared context after a set number of writes.
type respectingBlob struct {
	storage.Blob
	cancel    context.CancelFunc
	armed     bool
	remaining int
}

func (b *respectingBlob) Read(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.Blob.Read(ctx, path)
}

func (b *respectingBlob) Write(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.Blob.Write(ctx, path, data); err != nil {
		return err
	}
	if b.armed {
		b.remaining--
		if b.remaining == 0 {
			b.armed = false
			b.cancel()
		}
	}
	return nil
}

func TestSubmitTurnRollsBackAfterMidPersistDisconnect(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := scriptedClient()
	gateway, err := services.NewGateway(client, "claude-3-haiku-20240307", testPrompts, logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	blob := &respectingBlob{Blob: storage.NewMemBlob(), cancel: cancel}
	hist := history.New(blob, logger, 50*1024, 1, time.Millisecond)
	games := storage.NewMockGameStore()
	generator := setup.NewGenerator(gateway, 1, time.Millisecond, logger)
	summarizer := summary.NewSummarizer(gateway, 1, time.Millisecond, logger)
	eng := New(games, hist, gateway, generator, summarizer, logger, Options{SummaryTargetWords: 50})

	h := &testHarness{engine: eng, games: games, history: hist, client: client}
	gameID := initializeGame(t, h)
	require.NoError(t, eng.SubmitTurn(ctx, gameID, "turn 1 input", turnText, 1, nil))

	// The client disconnects while turn 2 is being persisted: the third of
	// the four entry writes cancels the request context, so the fourth
	// fails and everything already written must be rolled back.
	blob.remaining = 3
	blob.armed = true

	err = eng.SubmitTurn(ctx, gameID, "turn 2 input", turnText, 2, nil)
	require.Error(t, err)

	stored, err := games.GetGame(context.Background(), gameID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Turns)

	for _, stream := range []history.Stream{history.StreamFullText, history.StreamSummaries} {
		entries, err := hist.ReadAll(context.Background(), gameID, stream)
		require.NoError(t, err)
		for _, e := range entries {
			if e.Turn != nil && e.Turn.IsNumber() {
				assert.NotEqual(t, 2, e.Turn.Number, "stream %s kept a turn-2 entry", stream)
			}
		}
	}
}

func TestSubmitTurnRepairsStrayUserEntry(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	gameID := initializeGame(t, h)

	// A crashed turn left a dangling user entry in both streams.
	require.NoError(t, h.history.Append(ctx, gameID, history.StreamFullText, chat.UserEntry("lost input", chat.TurnNumber(1))))
	require.NoError(t, h.history.Append(ctx, gameID, history.StreamSummaries, chat.UserEntry("lost input", chat.TurnNumber(1))))

	require.NoError(t, h.engine.SubmitTurn(ctx, gameID, "fresh input", wakeupText, 1, nil))

	fullText, err := h.history.ReadAll(ctx, gameID, history.StreamFullText)
	require.NoError(t, err)
	for _, e := range fullText {
		assert.NotEqual(t, "lost input", e.Text)
	}
	assert.Equal(t, "fresh input", fullText[2].Text)
}

func TestGenerateIntroFallsBackWithoutCharacters(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	g, err := h.engine.CreateSession(ctx)
	require.NoError(t, err)

	emit, out := collector()
	require.NoError(t, h.engine.GenerateIntro(ctx, g.ID, emit))
	assert.Contains(t, out.String(), "Some poor souls need your help!")
}

func TestMetadataAndReplay(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	gameID := initializeGame(t, h)

	g, err := h.games.GetGame(ctx, gameID)
	require.NoError(t, err)

	loaded, err := h.engine.Metadata(ctx, g.SaveKey)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, gameID, loaded.ID)
	assert.Equal(t, "Marooned on Ashfall Reef", loaded.Title)

	var replayed []chat.Entry
	err = h.engine.Replay(ctx, gameID, func(e chat.Entry) error {
		replayed = append(replayed, e)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, replayed, 2)
	assert.Equal(t, crashText, replayed[0].Text)
	assert.Equal(t, wakeupText, replayed[1].Text)
}

package chat

import (
	"encoding/json"
	"fmt"
	"strconv"
)

const (
	// WriterUser marks text submitted by the player.
	WriterUser = "user"
	// WriterAI marks text generated by the model.
	WriterAI = "ai"
	// WriterIntro marks the fixed intro block shown once after initialization.
	WriterIntro = "intro"
)

// Sentinel turn tags for the non-turn entries written during initialization.
const (
	TurnCrash  = "crash"
	TurnWakeup = "wakeup"
	TurnIntro  = "intro"
)

// TurnTag identifies which turn an entry belongs to. Regular turns carry a
// number; the crash, wakeup and intro entries carry a sentinel string instead.
// On the wire a numeric tag is a JSON number and a sentinel is a JSON string.
type TurnTag struct {
	Number   int
	Sentinel string
}

// TurnNumber returns a numeric turn tag.
func TurnNumber(n int) *TurnTag {
	return &TurnTag{Number: n}
}

// TurnSentinel returns a sentinel turn tag (crash, wakeup, intro).
func TurnSentinel(s string) *TurnTag {
	return &TurnTag{Sentinel: s}
}

// IsNumber reports whether the tag is a numeric turn.
func (t *TurnTag) IsNumber() bool {
	return t != nil && t.Sentinel == ""
}

func (t TurnTag) MarshalJSON() ([]byte, error) {
	if t.Sentinel != "" {
		return json.Marshal(t.Sentinel)
	}
	return json.Marshal(t.Number)
}

func (t *TurnTag) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		// Old saves occasionally carry numeric turns as strings.
		if n, err := strconv.Atoi(s); err == nil {
			t.Number = n
			return nil
		}
		t.Sentinel = s
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid turn tag %s: %w", string(data), err)
	}
	t.Number = n
	return nil
}

// String renders the tag the way it appears on the wire.
func (t *TurnTag) String() string {
	if t == nil {
		return ""
	}
	if t.Sentinel != "" {
		return t.Sentinel
	}
	return strconv.Itoa(t.Number)
}

// Entry is the atomic unit of narrative history: one block of text written by
// the player, the model, or the intro. Entries are stored verbatim in the
// full-text stream and condensed in the summary stream.
type Entry struct {
	Writer string   `json:"writer"`
	Text   string   `json:"text"`
	Turn   *TurnTag `json:"turn,omitempty"`
}

// Validate checks that a deserialized entry is usable.
func (e *Entry) Validate() error {
	switch e.Writer {
	case WriterUser, WriterAI, WriterIntro:
	default:
		return fmt.Errorf("unknown writer %q", e.Writer)
	}
	return nil
}

// UserEntry builds a player entry for the given turn.
func UserEntry(text string, turn *TurnTag) Entry {
	return Entry{Writer: WriterUser, Text: text, Turn: turn}
}

// AIEntry builds a model entry for the given turn.
func AIEntry(text string, turn *TurnTag) Entry {
	return Entry{Writer: WriterAI, Text: text, Turn: turn}
}

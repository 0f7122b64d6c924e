package setup

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSkills(t *testing.T) {
	raw := strings.Join([]string{
		"fire_starting--Start fires from almost nothing.",
		"foraging--Find edible plants and roots.",
		"first-aid--Patch up wounds with what is at hand.",
		"navigation--Find the way without instruments.",
		"fishing--Catch fish with improvised gear.",
		"shelter building--Raise cover against the weather.",
		"rope work--Tie knots that hold.",
	}, "\n")

	skills := ParseSkills(raw)
	require.Len(t, skills, 7)

	assert.Equal(t, "Fire Starting", skills[0].Name)
	assert.Equal(t, "Start fires from almost nothing.", skills[0].Description)
	assert.Equal(t, "First Aid", skills[2].Name)
	assert.Equal(t, "Shelter Building", skills[5].Name)
}

func TestParseSkillsDropsMalformedLines(t *testing.T) {
	raw := strings.Join([]string{
		"fishing--Catch fish.",
		"this line has no separator",
		"too--many--separators",
		"--a description with no skill name",
		"  __  --whitespace and underscores normalize to nothing",
		"",
		"   ",
		"foraging--Find food.",
	}, "\n")

	skills := ParseSkills(raw)
	require.Len(t, skills, 2)
	assert.Equal(t, "Fishing", skills[0].Name)
	assert.Equal(t, "Foraging", skills[1].Name)
}

func TestParseCharacters(t *testing.T) {
	raw := strings.Join([]string{
		"Mara Voss--Former ship's cook--Short and wiry--Sharp-tongued but loyal--fishing|7, first_aid|3",
		"Tobias Hale--Disgraced navigator--Tall with a limp--Quietly calculating--navigation|9, rope work|5",
		"Ada Quill--Stowaway--Small and quick--Endlessly curious--foraging|6, fire-starting|4",
	}, "\n")

	characters := ParseCharacters(raw)
	require.Len(t, characters, 3)

	assert.Equal(t, "Mara Voss", characters[0].Name)
	assert.Equal(t, "Former ship's cook", characters[0].History)
	assert.Equal(t, "Short and wiry", characters[0].Physical)
	assert.Equal(t, "Sharp-tongued but loyal", characters[0].Personality)
	assert.Equal(t, map[string]string{"Fishing": "7", "First Aid": "3"}, characters[0].Skills)

	assert.Equal(t, map[string]string{"Navigation": "9", "Rope Work": "5"}, characters[1].Skills)
	assert.Equal(t, map[string]string{"Foraging": "6", "Fire Starting": "4"}, characters[2].Skills)
}

func TestParseCharactersDropsBadSkillPairs(t *testing.T) {
	raw := "Mara--cook--short--loyal--fishing|7, brokenpair, |, hunting|"

	characters := ParseCharacters(raw)
	require.Len(t, characters, 1)
	assert.Equal(t, map[string]string{"Fishing": "7"}, characters[0].Skills)
}

func TestParseCharactersDropsMalformedEntries(t *testing.T) {
	raw := strings.Join([]string{
		"Mara--cook--short--loyal--fishing|7",
		"only--four--fields--here",
		"way--too--many--fields--skills|1--extra",
	}, "\n")

	characters := ParseCharacters(raw)
	require.Len(t, characters, 1)
	assert.Equal(t, "Mara", characters[0].Name)
}

func TestRandomSetup(t *testing.T) {
	for i := 0; i < 50; i++ {
		s := RandomSetup()
		assert.Contains(t, themePool, s.Theme)
		assert.Contains(t, timeframePool, s.Timeframe)

		details := strings.Split(s.Details, ", ")
		assert.GreaterOrEqual(t, len(details), 1)
		assert.LessOrEqual(t, len(details), 3)

		seen := make(map[string]bool)
		for _, d := range details {
			assert.Contains(t, detailPool, d)
			assert.False(t, seen[d], "detail repeated: %s", d)
			seen[d] = true
		}
	}
}

func TestContextPrompt(t *testing.T) {
	full := contextPrompt("", Setup{Theme: "desert island survival", Timeframe: "1800s", Details: "shipwreck, mutiny"})
	assert.Contains(t, full, "The theme is desert island survival. ")
	assert.Contains(t, full, "The timeframe is 1800s. ")
	assert.Contains(t, full, "The following details will be incorporated into the scenario: shipwreck, mutiny.")

	empty := contextPrompt("", Setup{})
	assert.Contains(t, empty, "There is no specified theme. ")
	assert.Contains(t, empty, "There is no specified timeframe. ")
	assert.NotContains(t, empty, "details")
}

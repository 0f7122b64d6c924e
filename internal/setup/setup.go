// Package setup implements the staged scenario generation that runs before
// the first playable turn: random setup, title, crash story, location,
// skills, characters, and the wakeup scene.
package setup

import (
	"fmt"
	"math/rand"
	"strings"
)

// Setup is the player-chosen or randomly drawn scenario seed.
type Setup struct {
	Theme     string `json:"theme"`
	Timeframe string `json:"timeframe"`
	Details   string `json:"details"`
}

var themePool = []string{
	"desert island survival",
	"arctic expedition gone wrong",
	"jungle plane wreck",
	"derelict space freighter",
	"shipwreck on a volcanic coast",
	"airship downed in the mountains",
	"caravan lost in the dunes",
	"submarine run aground",
}

var timeframePool = []string{
	"1700s",
	"1800s",
	"the roaring twenties",
	"present day",
	"the near future",
	"the distant future",
	"a timeless fantasy age",
}

var detailPool = []string{
	"shipwreck",
	"mutiny",
	"a mysterious map",
	"a stowaway",
	"dwindling supplies",
	"strange lights at night",
	"an old rivalry between survivors",
	"a locked chest",
	"ruins of a lost civilization",
	"unreliable radio contact",
	"a storm on the horizon",
	"an injured companion",
}

// RandomSetup draws a theme, a timeframe, and one to three details. Details
// are sampled without replacement and joined with commas, matching the
// free-text field a player would have typed.
func RandomSetup() Setup {
	n := 1 + rand.Intn(3)
	perm := rand.Perm(len(detailPool))
	details := make([]string, 0, n)
	for _, i := range perm[:n] {
		details = append(details, detailPool[i])
	}

	return Setup{
		Theme:     themePool[rand.Intn(len(themePool))],
		Timeframe: timeframePool[rand.Intn(len(timeframePool))],
		Details:   strings.Join(details, ", "),
	}
}

// contextPrompt appends the scenario seed to a stage prompt. Absent fields
// get an explicit "no specified" phrase so the model never guesses at
// missing structure.
func contextPrompt(prompt string, s Setup) string {
	if s.Theme != "" {
		prompt += fmt.Sprintf(" The theme is %s. ", s.Theme)
	} else {
		prompt += "There is no specified theme. "
	}

	if s.Timeframe != "" {
		prompt += fmt.Sprintf("The timeframe is %s. ", s.Timeframe)
	} else {
		prompt += "There is no specified timeframe. "
	}

	if s.Details != "" {
		prompt += "The following details will be incorporated into the scenario: " + s.Details + "."
	}

	return prompt
}

// titlePhrase references an already-generated title, or states its absence.
// Later stages must reuse the title, never regenerate it.
func titlePhrase(title string) string {
	if title == "" {
		return "There is no specified title. "
	}
	return fmt.Sprintf("The title of this scenario is %s. Don't include the title in your response, please. ", title)
}

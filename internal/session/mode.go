package session

import "github.com/MJE43/zkpoh/internal/puzzle"

// Scores assigned by the fixed scoring policy.
const (
	HumanScore = 2003
	BotScore   = -4328
)

// Labels shown next to a scored attempt.
const (
	LabelHuman = "HUMAN"
	LabelBot   = "BOT"
)

// Mode is either Human or SimulatedBot.
type Mode interface {
	String() string
	isMode()
}

// Human is a person clicking tiles through Toggle and Submit.
type Human struct{}

func (Human) String() string { return "human" }
func (Human) isMode()        {}

// SimulatedBot drives the session from a script. An empty Script selects
// exactly the target tiles.
type SimulatedBot struct {
	Script string
}

func (SimulatedBot) String() string { return "bot" }
func (SimulatedBot) isMode()        {}

// ParseMode maps "human" and "bot" to a Mode.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "human", "":
		return Human{}, true
	case "bot":
		return SimulatedBot{}, true
	}
	return nil, false
}

// Score maps an evaluated attempt to a behavioural score. ok is false when
// the attempt earns no score: an incorrect human submission, which re-arms
// the puzzle instead. A bot always scores BotScore, correct or not.
func Score(m Mode, ev puzzle.Evaluation) (score int, ok bool) {
	switch m.(type) {
	case SimulatedBot:
		return BotScore, true
	default:
		if !ev.Correct {
			return 0, false
		}
		return HumanScore, true
	}
}

// Label returns the display label for a scored mode.
func Label(m Mode) string {
	if _, ok := m.(SimulatedBot); ok {
		return LabelBot
	}
	return LabelHuman
}

package telephone

import (
	"strings"

	"github.com/dtymkiv/patty/internal/game"
)

type Phase string

const (
	PhaseLobby     Phase = "LOBBY"
	PhaseTextInput Phase = "TEXT_INPUT"
	PhaseDrawing   Phase = "DRAWING"
	PhaseGuessing  Phase = "GUESSING"
	PhaseResults   Phase = "RESULTS"
	PhaseGameOver  Phase = "GAME_OVER"
)

type StepType string

const (
	StepText    StepType = "text"
	StepDrawing StepType = "drawing"
)

// Placeholder contents for players who never submitted.
const (
	placeholderNoText  = "(no text entered)"
	placeholderNoGuess = "(no guess)"
	placeholderEmpty   = "(empty)"
)

type Config struct {
	DrawDuration  int    `json:"draw_duration"`
	GuessDuration int    `json:"guess_duration"`
	MaxRounds     int    `json:"max_rounds"` // drawing rounds; 0 = auto (player count)
	HostRole      string `json:"host_role"`
}

func DefaultConfig() Config {
	return Config{
		DrawDuration:  90,
		GuessDuration: 45,
		MaxRounds:     0,
		HostRole:      "player",
	}
}

// Step is one contribution to a chain: a typed phrase or a drawing.
type Step struct {
	Type    StepType      `json:"type"`
	Text    string        `json:"text,omitempty"`
	Drawing []game.Stroke `json:"drawing,omitempty"`
	Author  string        `json:"author"`
}

// Chain is the alternating text/drawing sequence descending from one
// player's original phrase.
type Chain struct {
	Steps          []Step `json:"steps"`
	OriginalAuthor string `json:"originalAuthor"`
}

// Assignment tells one holder what to act on this step. Content fields are
// secret: they travel in targeted messages only and are stripped from
// broadcasts.
type Assignment struct {
	ChainID        string        `json:"chainId"`
	TextToDraw     string        `json:"textToDraw,omitempty"`
	DrawingToGuess []game.Stroke `json:"drawingToGuess,omitempty"`
	StepNumber     int           `json:"stepNumber"`
	StrokeHistory  []game.Stroke `json:"strokeHistory,omitempty"`
}

// State is the authoritative chain-game state. Chains stay out of broadcast
// payloads until RESULTS/GAME_OVER.
type State struct {
	Phase     Phase   `json:"phase"`
	Round     int     `json:"round"`
	MaxRounds int     `json:"maxRounds"` // total steps: drawingRounds*2 - 1
	TimerEnd  float64 `json:"timer_end"`

	Chains      map[string]*Chain `json:"chains,omitempty"`
	Submissions map[string]string `json:"submissions"`
	CurrentStep int               `json:"currentStep"`

	StrokeHistories map[string][]game.Stroke `json:"strokeHistories"`

	// Rotation[step][chainOwner] = holder; a cyclic derangement for step > 0.
	Rotation      []map[string]string `json:"rotation"`
	ActivePlayers []string            `json:"activePlayers"`

	CurrentAssignments map[string]Assignment `json:"currentAssignments"`

	// RESULTS reveal cursor.
	CurrentChainIndex  int `json:"currentChainIndex"`
	CurrentStepInChain int `json:"currentStepInChain"`
}

func newState() State {
	return State{
		Phase:              PhaseLobby,
		Chains:             map[string]*Chain{},
		Submissions:        map[string]string{},
		StrokeHistories:    map[string][]game.Stroke{},
		Rotation:           []map[string]string{},
		ActivePlayers:      []string{},
		CurrentAssignments: map[string]Assignment{},
	}
}

// chainRotation builds the holder table: at step s, player i's chain is held
// by player (i+s) mod n. Every chain visits every player once per cycle and
// nobody holds their own chain at step > 0 until the cycle wraps: at any
// step that is a multiple of n, every owner holds their own chain again.
// Step budgets beyond n-1 accept that wrap.
func chainRotation(players []string, maxRounds int) []map[string]string {
	n := len(players)
	rotation := make([]map[string]string, 0, maxRounds+1)
	for step := 0; step <= maxRounds; step++ {
		stepMap := make(map[string]string, n)
		for i, owner := range players {
			stepMap[owner] = players[(i+step)%n]
		}
		rotation = append(rotation, stepMap)
	}
	return rotation
}

func meaningfulText(s string) bool {
	switch strings.TrimSpace(s) {
	case "", placeholderNoText, placeholderNoGuess, placeholderEmpty:
		return false
	default:
		return true
	}
}

func meaningfulDrawing(strokes []game.Stroke) bool {
	return len(strokes) > 0
}

// lastMeaningfulText walks a chain backward for the latest usable text step.
func (c *Chain) lastMeaningfulText() (string, bool) {
	for i := len(c.Steps) - 1; i >= 0; i-- {
		if c.Steps[i].Type == StepText && meaningfulText(c.Steps[i].Text) {
			return c.Steps[i].Text, true
		}
	}
	return "", false
}

// lastMeaningfulDrawing walks a chain backward for the latest non-empty
// drawing step.
func (c *Chain) lastMeaningfulDrawing() ([]game.Stroke, bool) {
	for i := len(c.Steps) - 1; i >= 0; i-- {
		if c.Steps[i].Type == StepDrawing && meaningfulDrawing(c.Steps[i].Drawing) {
			return c.Steps[i].Drawing, true
		}
	}
	return nil, false
}

// seedText is the chain's original phrase, used as the final fallback.
func (c *Chain) seedText() string {
	if len(c.Steps) > 0 && c.Steps[0].Type == StepText && c.Steps[0].Text != "" {
		return c.Steps[0].Text
	}
	return placeholderNoText
}

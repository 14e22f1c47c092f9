package alligator

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/dtymkiv/patty/internal/game"
)

type Phase string

const (
	PhaseLobby           Phase = "LOBBY"
	PhasePreRound        Phase = "PRE_ROUND"
	PhaseDrawerPreparing Phase = "DRAWER_PREPARING"
	PhaseDrawing         Phase = "DRAWING"
	PhaseGameOver        Phase = "GAME_OVER"
)

type Config struct {
	RoundDuration  int    `json:"round_duration"`
	PointsToWin    int    `json:"points_to_win"`
	BasePoints     int    `json:"base_points"`
	TurnOrder      string `json:"turn_order"`
	HostRole       string `json:"host_role"` // "player" or "spectator"
	WordLanguage   string `json:"word_language"`
	WordDifficulty string `json:"word_difficulty"`
}

func DefaultConfig() Config {
	return Config{
		RoundDuration:  60,
		PointsToWin:    50,
		BasePoints:     10,
		TurnOrder:      "sequence",
		HostRole:       "player",
		WordLanguage:   "English",
		WordDifficulty: "Easy",
	}
}

// TurnResult is the points a player earned this turn and how many seconds
// into the round they earned them.
type TurnResult struct {
	Points int `json:"points"`
	Time   int `json:"time"`
}

// wordSet serializes as a sorted list so snapshots stay JSON-friendly.
type wordSet map[string]struct{}

func (s wordSet) has(w string) bool { _, ok := s[w]; return ok }

func (s wordSet) MarshalJSON() ([]byte, error) {
	words := make([]string, 0, len(s))
	for w := range s {
		words = append(words, w)
	}
	sort.Strings(words)
	return json.Marshal(words)
}

func (s *wordSet) UnmarshalJSON(data []byte) error {
	var words []string
	if err := json.Unmarshal(data, &words); err != nil {
		return err
	}
	*s = make(wordSet, len(words))
	for _, w := range words {
		(*s)[w] = struct{}{}
	}
	return nil
}

// State is the authoritative per-room game state. Word must never reach a
// broadcast payload except after the game ends; censoring happens in
// BroadcastState.
type State struct {
	Round              int                   `json:"round"`
	Drawer             string                `json:"drawer,omitempty"`
	Word               string                `json:"word,omitempty"`
	WordHints          string                `json:"word_hints"`
	Phase              Phase                 `json:"phase"`
	TimerEnd           float64               `json:"timer_end"` // epoch seconds, 0 when no deadline
	CorrectGuessers    []string              `json:"correct_guessers"`
	FirstGuessTimeLeft float64               `json:"first_guess_time_left"`
	FirstGuesser       string                `json:"first_guesser_nickname,omitempty"`
	LastDrawer         string                `json:"last_drawer,omitempty"`
	LastWord           string                `json:"last_word,omitempty"`
	TurnResults        map[string]TurnResult `json:"turn_results"`
	StrokeHistory      []game.Stroke         `json:"stroke_history"`
	UsedWords          wordSet               `json:"used_words"`
	TurnQueue          []string              `json:"turn_queue"`
}

func newState() State {
	return State{
		Phase:           PhaseLobby,
		CorrectGuessers: []string{},
		TurnResults:     map[string]TurnResult{},
		StrokeHistory:   []game.Stroke{},
		UsedWords:       wordSet{},
		TurnQueue:       []string{},
	}
}

// hintsFor masks a word with underscores, keeping spaces visible.
func hintsFor(word string) string {
	var b strings.Builder
	for _, r := range word {
		if r == ' ' {
			b.WriteRune(' ')
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

func (s *State) hasGuessed(nickname string) bool {
	for _, n := range s.CorrectGuessers {
		if n == nickname {
			return true
		}
	}
	return false
}

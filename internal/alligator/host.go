// Package alligator implements the authoritative host for the round-based
// draw-and-guess game: turn progression, word selection, guess scoring,
// stroke history and the censored-state broadcast protocol.
package alligator

import (
	"encoding/json"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/dtymkiv/patty/internal/game"
	"github.com/dtymkiv/patty/internal/protocol"
	"github.com/dtymkiv/patty/internal/registry"
	"github.com/dtymkiv/patty/internal/snapshot"
	"github.com/dtymkiv/patty/internal/wordlist"
	"github.com/dtymkiv/patty/internal/wordnorm"
)

const systemColor = "#10B981"

type Host struct {
	roomCode string
	sender   game.Sender
	timer    game.Timer
	store    snapshot.Store
	words    wordlist.Library
	players  *registry.Registry
	log      *zap.Logger

	clock func() time.Time
	rng   *rand.Rand

	state  State
	config Config
}

func New(roomCode string, players *registry.Registry, words wordlist.Library,
	sender game.Sender, timer game.Timer, store snapshot.Store, log *zap.Logger) *Host {
	return &Host{
		roomCode: roomCode,
		sender:   sender,
		timer:    timer,
		store:    store,
		words:    words,
		players:  players,
		log:      log,
		clock:    time.Now,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		state:    newState(),
		config:   DefaultConfig(),
	}
}

func (h *Host) Type() game.Type { return game.TypeAlligator }

func (h *Host) Phase() string { return string(h.state.Phase) }

// State returns the current state for inspection; callers must not retain
// references across handler invocations.
func (h *Host) State() *State   { return &h.state }
func (h *Host) Config() *Config { return &h.config }

func epoch(t time.Time) float64 { return float64(t.UnixNano()) / float64(time.Second) }

// --- Dispatch ---

func (h *Host) Apply(sender string, msgType string, payload []byte) {
	isHost := false
	if p, ok := h.players.Get(sender); ok {
		isHost = p.IsHost
	}

	switch msgType {
	case protocol.TypeStartGame:
		if isHost {
			h.StartGame()
		}
	case protocol.TypeStartActiveRound:
		if isHost {
			h.StartActiveRound()
		}
	case protocol.TypeResetToLobby:
		if isHost {
			h.ResetToLobby()
		}
	case protocol.TypeConfigUpdate:
		if isHost {
			h.applyConfig(payload)
		}
	case protocol.TypeChat:
		var p protocol.ChatPayload
		if err := json.Unmarshal(payload, &p); err == nil {
			h.HandleChat(sender, p.Text)
		}
	case protocol.TypeToggleReady:
		h.HandleToggleReady(sender)
	case protocol.TypeDrawStroke:
		var stroke game.Stroke
		if err := json.Unmarshal(payload, &stroke); err == nil {
			h.HandleDraw(sender, stroke)
		}
	case protocol.TypeUndoStroke:
		h.HandleUndo(sender)
	case protocol.TypeClearCanvas:
		h.HandleClear(sender)
	}
}

// --- Game flow ---

// StartGame validates preconditions, resets scores, and advances straight
// into the first turn. Validation failures broadcast an ERROR and leave the
// state untouched.
func (h *Host) StartGame() {
	if h.state.Phase != PhaseLobby {
		return
	}
	if h.words.Empty() {
		h.broadcastError("Word sets failed to load. Cannot start game.")
		return
	}
	if len(h.eligible()) < 2 {
		h.broadcastError("Need at least 2 players to start the game.")
		return
	}

	h.state.Phase = PhasePreRound
	h.state.Round = 0
	h.players.ResetScores()
	h.NextTurn()
}

// NextTurn checks the win condition, refills the turn queue when a round
// robin completes, pops the next drawer and selects a word.
func (h *Host) NextTurn() {
	if h.state.Round > 0 {
		for _, score := range h.players.Scores() {
			if score >= h.config.PointsToWin {
				h.endGame()
				return
			}
		}
	}

	if len(h.state.TurnQueue) == 0 {
		h.refillTurnQueue()
	}
	if len(h.state.TurnQueue) == 0 {
		h.endGame()
		return
	}

	h.state.Round++
	h.state.Drawer = h.state.TurnQueue[0]
	h.state.TurnQueue = h.state.TurnQueue[1:]

	if err := h.selectWord(); err != nil {
		h.log.Warn("word selection failed", zap.String("room", h.roomCode), zap.Error(err))
		h.broadcastError(err.Error())
		h.endGame()
		return
	}

	h.state.Phase = PhaseDrawerPreparing
	h.state.TimerEnd = 0
	h.state.CorrectGuessers = []string{}
	h.state.FirstGuessTimeLeft = 0
	h.state.FirstGuesser = ""
	h.state.StrokeHistory = []game.Stroke{}
	// TurnResults carries the previous turn's outcome into DRAWER_PREPARING;
	// it is cleared in StartActiveRound.

	h.BroadcastState()
}

func (h *Host) refillTurnQueue() {
	candidates := h.eligible()
	h.rng.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	h.state.TurnQueue = candidates
}

func (h *Host) selectWord() error {
	words, err := h.words.Words(h.config.WordLanguage, h.config.WordDifficulty)
	if err != nil {
		return err
	}

	available := make([]string, 0, len(words))
	for _, w := range words {
		if !h.state.UsedWords.has(w) {
			available = append(available, w)
		}
	}

	var word string
	if len(available) == 0 {
		h.state.UsedWords = wordSet{}
		word = words[h.rng.Intn(len(words))]
	} else {
		word = available[h.rng.Intn(len(available))]
	}

	h.state.UsedWords[word] = struct{}{}
	h.state.Word = word
	h.state.WordHints = hintsFor(word)
	return nil
}

// StartActiveRound moves DRAWER_PREPARING → DRAWING and arms the round timer.
func (h *Host) StartActiveRound() {
	if h.state.Phase != PhaseDrawerPreparing {
		return
	}

	h.state.Phase = PhaseDrawing
	h.state.TurnResults = map[string]TurnResult{}
	duration := time.Duration(h.config.RoundDuration) * time.Second
	h.state.TimerEnd = epoch(h.clock().Add(duration))

	h.BroadcastState()
	h.timer.Arm(duration)
}

// Tick re-validates the DRAWING deadline and ends the round at most once.
// Spurious or stale fires re-arm for the remaining time instead of acting.
func (h *Host) Tick(now time.Time) {
	if h.state.Phase != PhaseDrawing {
		h.timer.Stop()
		return
	}
	if h.state.TimerEnd <= 0 {
		return
	}
	if remaining := h.state.TimerEnd - epoch(now); remaining > 0 {
		h.timer.Arm(time.Duration(remaining * float64(time.Second)))
		return
	}
	h.EndRound()
}

// EndRound applies the accumulated turn results to scores and immediately
// advances to the next DRAWER_PREPARING; the results ride along so the next
// preparation phase can present them.
func (h *Host) EndRound() {
	h.timer.Stop()

	h.state.LastDrawer = h.state.Drawer
	h.state.LastWord = h.state.Word

	for nick, res := range h.state.TurnResults {
		h.players.AddScore(nick, res.Points)
	}

	h.NextTurn()
}

func (h *Host) endGame() {
	h.timer.Stop()
	h.state.Phase = PhaseGameOver
	h.BroadcastState()
}

// ResetToLobby returns to LOBBY with scores and per-game state cleared but
// players and config preserved.
func (h *Host) ResetToLobby() {
	h.timer.Stop()
	h.state.Phase = PhaseLobby
	h.state.Round = 0
	h.state.Drawer = ""
	h.state.LastDrawer = ""
	h.state.LastWord = ""
	h.state.Word = ""
	h.state.WordHints = ""
	h.state.TimerEnd = 0
	h.state.CorrectGuessers = []string{}
	h.state.FirstGuessTimeLeft = 0
	h.state.FirstGuesser = ""
	h.state.TurnResults = map[string]TurnResult{}
	h.state.StrokeHistory = []game.Stroke{}

	h.players.ResetScores()
	h.players.ResetReady()

	h.BroadcastState()
}

// --- Chat / guessing ---

// HandleChat routes a chat line: outside DRAWING (or from a spectator host,
// the drawer, or someone who already guessed) it is plain chat; otherwise it
// is evaluated as a guess. Wrong guesses are masked so the attempted word
// never leaks to other guessers.
func (h *Host) HandleChat(sender, text string) {
	p, ok := h.players.Get(sender)
	if !ok {
		return
	}

	plain := protocol.ChatPayload{Sender: sender, Text: text, Color: p.Color}

	if p.IsHost && h.config.HostRole == "spectator" {
		h.sender.Broadcast(protocol.TypeChat, plain)
		return
	}
	if h.state.Phase != PhaseDrawing {
		h.sender.Broadcast(protocol.TypeChat, plain)
		return
	}
	if sender == h.state.Drawer || h.state.hasGuessed(sender) {
		h.sender.Broadcast(protocol.TypeChat, plain)
		return
	}

	if wordnorm.Normalize(text) == wordnorm.Normalize(h.state.Word) {
		h.processCorrectGuess(sender)
	} else {
		h.sender.Broadcast(protocol.TypeChat, protocol.ChatPayload{
			Sender: sender, Text: "guessed incorrectly", Color: p.Color,
		})
	}
}

func (h *Host) processCorrectGuess(nickname string) {
	now := epoch(h.clock())
	timeLeft := h.state.TimerEnd - now
	if timeLeft < 0 {
		timeLeft = 0
	}
	duration := float64(h.config.RoundDuration)
	base := h.config.BasePoints

	var points int
	if len(h.state.CorrectGuessers) == 0 {
		h.state.FirstGuessTimeLeft = timeLeft
		h.state.FirstGuesser = nickname
		points = base

		// The drawer is rewarded for how quickly the first guess landed,
		// capped at base points.
		drawerPoints := int(math.Round(timeLeft / (duration * 0.75) * float64(base)))
		if drawerPoints > base {
			drawerPoints = base
		}
		h.state.TurnResults[h.state.Drawer] = TurnResult{
			Points: drawerPoints,
			Time:   int(math.Round(duration - timeLeft)),
		}
	} else if h.state.FirstGuessTimeLeft > 0 {
		points = int(math.Round(timeLeft / h.state.FirstGuessTimeLeft * float64(base)))
	}

	h.state.TurnResults[nickname] = TurnResult{
		Points: points,
		Time:   int(math.Round(duration - timeLeft)),
	}
	h.state.CorrectGuessers = append(h.state.CorrectGuessers, nickname)

	h.sender.Broadcast(protocol.TypeChat, protocol.ChatPayload{
		Sender: "System",
		Text:   nickname + " guessed correctly!",
		Color:  systemColor,
	})
	h.BroadcastState()

	if len(h.state.CorrectGuessers) >= h.eligibleGuesserCount() {
		h.EndRound()
	}
}

func (h *Host) eligibleGuesserCount() int {
	count := 0
	for _, nick := range h.eligible() {
		if nick == h.state.Drawer {
			continue
		}
		count++
	}
	return count
}

func (h *Host) eligible() []string {
	return h.players.Eligible(h.config.HostRole == "spectator")
}

// --- Strokes ---

// HandleDraw appends one stroke and relays it individually for low-latency
// rendering; undo and clear resend the corrected picture instead.
func (h *Host) HandleDraw(sender string, stroke game.Stroke) {
	if h.state.Phase != PhaseDrawing || sender != h.state.Drawer {
		return
	}
	h.state.StrokeHistory = append(h.state.StrokeHistory, stroke)
	h.sender.Broadcast(protocol.TypeDrawStroke, stroke)
	// Persist per stroke so a reconnecting room restores the latest canvas.
	h.Save()
}

// HandleUndo removes every stroke of the most recent gesture (same actionId)
// and rebroadcasts the full history, since removal is not a simple append.
func (h *Host) HandleUndo(sender string) {
	if sender != h.state.Drawer {
		return
	}
	n := len(h.state.StrokeHistory)
	if n == 0 {
		return
	}

	h.state.StrokeHistory = undoLastGesture(h.state.StrokeHistory)
	h.sender.Broadcast(protocol.TypeStrokeHistoryUpdate, protocol.StrokeHistoryPayload{
		History: h.state.StrokeHistory,
	})
	h.Save()
}

func undoLastGesture(history []game.Stroke) []game.Stroke {
	n := len(history)
	if n == 0 {
		return history
	}
	actionID := history[n-1].ActionID
	if actionID == "" {
		return history[:n-1]
	}
	kept := history[:0:0]
	for _, s := range history {
		if s.ActionID != actionID {
			kept = append(kept, s)
		}
	}
	if kept == nil {
		kept = []game.Stroke{}
	}
	return kept
}

func (h *Host) HandleClear(sender string) {
	if sender != h.state.Drawer {
		return
	}
	h.state.StrokeHistory = []game.Stroke{}
	h.sender.Broadcast(protocol.TypeClearCanvas, struct{}{})
	h.Save()
}

// --- Players ---

func (h *Host) HandleToggleReady(nickname string) {
	if h.players.ToggleReady(nickname) {
		h.BroadcastState()
	}
}

func (h *Host) PlayerConnected(nickname string, isHost bool) {
	if _, ok := h.players.Get(nickname); ok {
		h.players.SetConnected(nickname, true)
	} else {
		h.players.AddPlayer(nickname, isHost)
	}
	// BroadcastState resends the drawer secret when the drawer reconnects.
	h.BroadcastState()
}

func (h *Host) PlayerDisconnected(nickname string) {
	h.players.SetConnected(nickname, false)
	h.BroadcastState()
}

func (h *Host) RemovePlayer(nickname string) {
	h.players.RemovePlayer(nickname)
	h.BroadcastState()
}

// --- Config ---

type configUpdatePayload struct {
	Config json.RawMessage `json:"config"`
}

func (h *Host) applyConfig(payload []byte) {
	var p configUpdatePayload
	if err := json.Unmarshal(payload, &p); err != nil || len(p.Config) == 0 {
		return
	}
	// Unmarshal over the current config merges only the provided keys.
	merged := h.config
	if err := json.Unmarshal(p.Config, &merged); err != nil {
		return
	}
	h.SetConfig(merged)
}

func (h *Host) SetConfig(cfg Config) {
	h.config = cfg
	h.sender.Broadcast(protocol.TypeConfigUpdate, map[string]Config{"config": h.config})
	h.Save()
}

// --- Broadcast / censorship ---

type PlayerView struct {
	Nickname            string `json:"nickname"`
	Score               int    `json:"score"`
	Connected           bool   `json:"connected"`
	IsReady             bool   `json:"is_ready"`
	IsHost              bool   `json:"is_host"`
	Color               string `json:"color"`
	HasGuessedCorrectly bool   `json:"has_guessed_correctly"`
	IsSpectator         bool   `json:"is_spectator"`
}

type statePayload struct {
	GameState State          `json:"game_state"`
	Scores    map[string]int `json:"scores"`
	Players   []PlayerView   `json:"players"`
	Config    Config         `json:"config"`
	GameType  string         `json:"gameType"`
}

func (h *Host) playersList() []PlayerView {
	views := []PlayerView{}
	for _, nick := range h.players.Nicknames() {
		p, _ := h.players.Get(nick)
		views = append(views, PlayerView{
			Nickname:            nick,
			Score:               p.Score,
			Connected:           p.Connected,
			IsReady:             p.IsReady,
			IsHost:              p.IsHost,
			Color:               p.Color,
			HasGuessedCorrectly: h.state.hasGuessed(nick),
			IsSpectator:         p.IsHost && h.config.HostRole == "spectator",
		})
	}
	return views
}

// BroadcastState sends the censored snapshot to the room, persists it, makes
// sure the DRAWING timer is still armed, and sends the real word to the
// drawer alone.
func (h *Host) BroadcastState() {
	public := h.state
	if public.Phase != PhaseGameOver {
		public.Word = ""
		// The used-word set contains the current secret (selectWord adds it
		// before the turn starts), so it stays out of broadcasts too; it is
		// only needed in Save snapshots.
		public.UsedWords = nil
	}

	h.sender.Broadcast(protocol.TypeGameStateUpdate, statePayload{
		GameState: public,
		Scores:    h.players.Scores(),
		Players:   h.playersList(),
		Config:    h.config,
		GameType:  string(game.TypeAlligator),
	})

	h.Save()

	// A restore or state copy can leave DRAWING without a live timer; end the
	// round if the deadline already passed, re-arm otherwise.
	if h.state.Phase == PhaseDrawing && h.state.TimerEnd > 0 {
		remaining := h.state.TimerEnd - epoch(h.clock())
		if remaining <= 0 {
			h.EndRound()
			return
		}
		if !h.timer.Running() {
			h.timer.Arm(time.Duration(remaining * float64(time.Second)))
		}
	}

	if h.state.Drawer != "" &&
		(h.state.Phase == PhaseDrawing || h.state.Phase == PhaseDrawerPreparing) {
		h.sender.SendTo(h.state.Drawer, protocol.TypeDrawerSecret, protocol.DrawerSecretPayload{
			Word: h.state.Word,
		})
	}
}

func (h *Host) broadcastError(msg string) {
	h.sender.Broadcast(protocol.TypeError, protocol.ErrorPayload{Message: msg})
}

// --- Persistence ---

type savedState struct {
	Players  map[string]registry.Player `json:"players"`
	State    State                      `json:"state"`
	Config   Config                     `json:"config"`
	GameType string                     `json:"gameType"`
}

func (h *Host) Save() {
	if h.roomCode == "" {
		return
	}
	data, err := json.Marshal(savedState{
		Players:  h.players.Snapshot(),
		State:    h.state,
		Config:   h.config,
		GameType: string(game.TypeAlligator),
	})
	if err != nil {
		h.log.Warn("marshal snapshot", zap.String("room", h.roomCode), zap.Error(err))
		return
	}
	if err := h.store.Save(snapshot.Key(string(game.TypeAlligator), h.roomCode), data); err != nil {
		h.log.Warn("save snapshot", zap.String("room", h.roomCode), zap.Error(err))
	}
}

// Restore loads a previously saved snapshot. A DRAWING snapshot whose
// deadline already elapsed ends the round immediately instead of resuming a
// dead timer.
func (h *Host) Restore() bool {
	if h.roomCode == "" {
		return false
	}
	data, err := h.store.Load(snapshot.Key(string(game.TypeAlligator), h.roomCode))
	if err != nil {
		h.log.Warn("load snapshot", zap.String("room", h.roomCode), zap.Error(err))
		return false
	}
	if data == nil {
		return false
	}

	var saved savedState
	if err := json.Unmarshal(data, &saved); err != nil {
		h.log.Warn("corrupt snapshot", zap.String("room", h.roomCode), zap.Error(err))
		return false
	}

	h.players.Load(saved.Players)
	h.state = saved.State
	h.config = saved.Config
	if h.state.StrokeHistory == nil {
		h.state.StrokeHistory = []game.Stroke{}
	}
	if h.state.UsedWords == nil {
		h.state.UsedWords = wordSet{}
	}
	if h.state.TurnResults == nil {
		h.state.TurnResults = map[string]TurnResult{}
	}

	if h.state.Phase == PhaseDrawing && h.state.TimerEnd > 0 {
		remaining := h.state.TimerEnd - epoch(h.clock())
		if remaining <= 0 {
			h.EndRound()
		} else {
			h.timer.Arm(time.Duration(remaining * float64(time.Second)))
		}
	}
	return true
}


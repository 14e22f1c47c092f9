// Package telephone implements the authoritative host for the chain-relay
// game: one chain per player, alternating write→draw→guess steps, a cyclic
// derangement rotation so content never returns to its author mid-game, and
// step-by-step reveal at the end.
package telephone

import (
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dtymkiv/patty/internal/game"
	"github.com/dtymkiv/patty/internal/protocol"
	"github.com/dtymkiv/patty/internal/registry"
	"github.com/dtymkiv/patty/internal/snapshot"
)

type Host struct {
	roomCode string
	sender   game.Sender
	timer    game.Timer
	store    snapshot.Store
	players  *registry.Registry
	log      *zap.Logger

	clock func() time.Time

	state  State
	config Config
}

func New(roomCode string, players *registry.Registry, sender game.Sender,
	timer game.Timer, store snapshot.Store, log *zap.Logger) *Host {
	return &Host{
		roomCode: roomCode,
		sender:   sender,
		timer:    timer,
		store:    store,
		players:  players,
		log:      log,
		clock:    time.Now,
		state:    newState(),
		config:   DefaultConfig(),
	}
}

func (h *Host) Type() game.Type { return game.TypeTelephone }

func (h *Host) Phase() string { return string(h.state.Phase) }

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
	case protocol.TypeResetToLobby:
		if isHost {
			h.ResetToLobby()
		}
	case protocol.TypeConfigUpdate:
		if isHost {
			h.applyConfig(payload)
		}
	case protocol.TypeNextResultStep:
		if isHost {
			h.NextResultStep()
		}
	case protocol.TypeChat:
		var p protocol.ChatPayload
		if err := json.Unmarshal(payload, &p); err == nil {
			h.HandleChat(sender, p.Text)
		}
	case protocol.TypeToggleReady:
		h.HandleToggleReady(sender)
	case protocol.TypeTextSubmission:
		var p protocol.TextSubmissionPayload
		if err := json.Unmarshal(payload, &p); err == nil {
			h.HandleTextSubmission(sender, p.Text)
		}
	case protocol.TypeGuessSubmission:
		var p protocol.GuessSubmissionPayload
		if err := json.Unmarshal(payload, &p); err == nil {
			h.HandleGuessSubmission(sender, p.Guess)
		}
	case protocol.TypeTelephoneDrawStroke:
		var p protocol.TelephoneStrokePayload
		if err := json.Unmarshal(payload, &p); err == nil {
			h.HandleDrawStroke(sender, p.Stroke)
		}
	case protocol.TypeTelephoneClear:
		h.HandleClearCanvas(sender)
	case protocol.TypeTelephoneUndo:
		h.HandleUndo(sender)
	case protocol.TypeTelephoneStrokeSync:
		var p protocol.TelephoneSyncPayload
		if err := json.Unmarshal(payload, &p); err == nil {
			h.SyncStrokeHistory(sender, p.History)
		}
	case protocol.TypeRequestAssignment:
		h.ResendAssignmentToPlayer(sender)
	}
}

// --- Game flow ---

// StartGame needs at least 3 eligible players, derives the step budget from
// the drawing-round count, seeds one chain per player, builds the rotation
// table and enters TEXT_INPUT.
func (h *Host) StartGame() {
	if h.state.Phase != PhaseLobby {
		return
	}

	active := h.eligible()
	if len(active) < 3 {
		h.broadcastError("Need at least 3 players for Telephone.")
		return
	}

	drawingRounds := len(active)
	if h.config.MaxRounds > 0 && h.config.MaxRounds < drawingRounds {
		drawingRounds = h.config.MaxRounds
	}
	h.state.MaxRounds = drawingRounds*2 - 1

	h.state.Chains = make(map[string]*Chain, len(active))
	for _, nick := range active {
		h.state.Chains[nick] = &Chain{Steps: []Step{}, OriginalAuthor: nick}
	}

	h.state.Rotation = chainRotation(active, h.state.MaxRounds)
	h.state.ActivePlayers = active
	h.state.CurrentStep = 0
	h.state.Round = 1

	h.startTextInputPhase()
}

func (h *Host) startTextInputPhase() {
	h.state.Phase = PhaseTextInput
	h.state.Submissions = map[string]string{}
	h.state.TimerEnd = 0 // no timer: the phase ends when everyone has written

	h.BroadcastState()
}

func (h *Host) endTextInputPhase() {
	h.timer.Stop()

	// Back-fill a placeholder for anyone who never submitted.
	for _, nick := range h.state.ActivePlayers {
		text, ok := h.state.Submissions[nick]
		if !ok || text == "" {
			text = placeholderNoText
		}
		chain := h.state.Chains[nick]
		chain.Steps = append(chain.Steps, Step{Type: StepText, Text: text, Author: nick})
	}

	h.state.CurrentStep = 1
	h.startDrawingPhase()
}

func (h *Host) startDrawingPhase() {
	h.state.Phase = PhaseDrawing
	h.state.Submissions = map[string]string{}
	h.state.StrokeHistories = map[string][]game.Stroke{}
	duration := time.Duration(h.config.DrawDuration) * time.Second
	h.state.TimerEnd = epoch(h.clock().Add(duration))

	h.BroadcastState()
	h.sendDrawingAssignments()
	h.timer.Arm(duration)
}

func (h *Host) sendDrawingAssignments() {
	rotation := h.state.Rotation[h.state.CurrentStep]
	h.state.CurrentAssignments = map[string]Assignment{}

	for owner, holder := range rotation {
		chain := h.state.Chains[owner]

		// Never ask anyone to draw nothing: fall back to the latest usable
		// text, then to the chain's seed phrase.
		text := ""
		if n := len(chain.Steps); n > 0 && chain.Steps[n-1].Type == StepText {
			text = chain.Steps[n-1].Text
		}
		if !meaningfulText(text) {
			if fallback, ok := chain.lastMeaningfulText(); ok {
				text = fallback
			} else {
				text = chain.seedText()
			}
		}

		assignment := Assignment{
			ChainID:    owner,
			TextToDraw: text,
			StepNumber: h.state.CurrentStep,
		}
		h.state.CurrentAssignments[holder] = assignment
		h.sender.SendTo(holder, protocol.TypeDrawAssignment, assignment)
	}
	h.Save()
}

func (h *Host) endDrawingPhase() {
	h.timer.Stop()

	rotation := h.state.Rotation[h.state.CurrentStep]
	for owner, holder := range rotation {
		drawing := h.state.StrokeHistories[holder]
		if drawing == nil {
			drawing = []game.Stroke{}
		}
		chain := h.state.Chains[owner]
		chain.Steps = append(chain.Steps, Step{Type: StepDrawing, Drawing: drawing, Author: holder})
	}

	h.state.CurrentStep++
	if h.state.CurrentStep > h.state.MaxRounds {
		h.showResults()
	} else {
		h.startGuessingPhase()
	}
}

func (h *Host) startGuessingPhase() {
	h.state.Phase = PhaseGuessing
	h.state.Submissions = map[string]string{}
	// Drawings now live in the chains; the working histories are done.
	h.state.StrokeHistories = map[string][]game.Stroke{}
	duration := time.Duration(h.config.GuessDuration) * time.Second
	h.state.TimerEnd = epoch(h.clock().Add(duration))

	h.BroadcastState()
	h.sendGuessingAssignments()
	h.timer.Arm(duration)
}

func (h *Host) sendGuessingAssignments() {
	rotation := h.state.Rotation[h.state.CurrentStep]
	h.state.CurrentAssignments = map[string]Assignment{}

	for owner, holder := range rotation {
		chain := h.state.Chains[owner]

		var drawing []game.Stroke
		if n := len(chain.Steps); n > 0 && chain.Steps[n-1].Type == StepDrawing {
			drawing = chain.Steps[n-1].Drawing
		}
		if !meaningfulDrawing(drawing) {
			if fallback, ok := chain.lastMeaningfulDrawing(); ok {
				drawing = fallback
			} else {
				drawing = []game.Stroke{}
			}
		}

		assignment := Assignment{
			ChainID:        owner,
			DrawingToGuess: drawing,
			StepNumber:     h.state.CurrentStep,
		}
		h.state.CurrentAssignments[holder] = assignment
		h.sender.SendTo(holder, protocol.TypeGuessAssignment, assignment)
	}
	h.Save()
}

func (h *Host) endGuessingPhase() {
	h.timer.Stop()

	rotation := h.state.Rotation[h.state.CurrentStep]
	for owner, holder := range rotation {
		guess, ok := h.state.Submissions[holder]
		if !ok || guess == "" {
			guess = placeholderNoGuess
		}
		chain := h.state.Chains[owner]
		if !meaningfulText(guess) {
			if fallback, okText := chain.lastMeaningfulText(); okText {
				guess = fallback
			} else {
				guess = chain.seedText()
			}
		}
		chain.Steps = append(chain.Steps, Step{Type: StepText, Text: guess, Author: holder})
	}

	h.state.CurrentStep++
	h.state.Round++

	switch {
	case h.state.CurrentStep > h.state.MaxRounds:
		h.showResults()
	case h.state.CurrentStep%2 == 1:
		h.startDrawingPhase()
	default:
		h.startGuessingPhase()
	}
}

func (h *Host) showResults() {
	h.timer.Stop()
	h.state.Phase = PhaseResults
	h.state.CurrentChainIndex = 0
	h.state.CurrentStepInChain = 0
	h.BroadcastState()
}

// NextResultStep advances the reveal cursor across every chain's steps in
// order, then ends the game after the last one.
func (h *Host) NextResultStep() {
	if h.state.Phase != PhaseResults {
		return
	}
	order := h.chainOrder()
	if h.state.CurrentChainIndex >= len(order) {
		h.endGame()
		return
	}
	chain := h.state.Chains[order[h.state.CurrentChainIndex]]

	switch {
	case h.state.CurrentStepInChain < len(chain.Steps)-1:
		h.state.CurrentStepInChain++
	case h.state.CurrentChainIndex < len(order)-1:
		h.state.CurrentChainIndex++
		h.state.CurrentStepInChain = 0
	default:
		h.endGame()
		return
	}

	h.BroadcastState()
}

func (h *Host) chainOrder() []string {
	return h.state.ActivePlayers
}

func (h *Host) endGame() {
	h.timer.Stop()
	h.state.Phase = PhaseGameOver
	h.BroadcastState()
}

func (h *Host) ResetToLobby() {
	h.timer.Stop()
	h.state = newState()
	h.players.ResetReady()
	h.BroadcastState()
}

// --- Tick ---

// Tick ends the timed phase whose deadline has passed; TEXT_INPUT has no
// deadline and RESULTS never expires.
func (h *Host) Tick(now time.Time) {
	if h.state.Phase != PhaseDrawing && h.state.Phase != PhaseGuessing {
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
	if h.state.Phase == PhaseDrawing {
		h.endDrawingPhase()
	} else {
		h.endGuessingPhase()
	}
}

// --- Submissions ---

func (h *Host) HandleTextSubmission(nickname, text string) {
	if h.state.Phase != PhaseTextInput || !h.isActive(nickname) {
		return
	}
	if text = strings.TrimSpace(text); text == "" {
		text = placeholderEmpty
	}
	h.state.Submissions[nickname] = text
	h.BroadcastState()
	h.checkAllSubmitted()
}

func (h *Host) HandleGuessSubmission(nickname, guess string) {
	if h.state.Phase != PhaseGuessing || !h.isActive(nickname) {
		return
	}
	if guess = strings.TrimSpace(guess); guess == "" {
		guess = placeholderEmpty
	}
	h.state.Submissions[nickname] = guess
	h.BroadcastState()
	h.checkAllSubmitted()
}

// checkAllSubmitted ends TEXT_INPUT/GUESSING early once every connected
// active player has submitted. Disconnected players don't block; their
// missing entries are back-filled at phase end. Drawing never ends early —
// a finished sketch is not a submission.
func (h *Host) checkAllSubmitted() {
	expected := 0
	for _, nick := range h.state.ActivePlayers {
		if p, ok := h.players.Get(nick); ok && p.Connected {
			expected++
		}
	}
	if len(h.state.Submissions) < expected {
		return
	}

	switch h.state.Phase {
	case PhaseTextInput:
		h.endTextInputPhase()
	case PhaseGuessing:
		h.endGuessingPhase()
	}
}

// --- Strokes ---

func (h *Host) HandleDrawStroke(nickname string, stroke game.Stroke) {
	if h.state.Phase != PhaseDrawing || !h.isActive(nickname) {
		return
	}
	h.state.StrokeHistories[nickname] = append(h.state.StrokeHistories[nickname], stroke)
	h.Save()
}

// SyncStrokeHistory reconciles against the player's authoritative local
// buffer after pointer release. A shorter incoming history is a stale sync
// and is dropped so it cannot truncate progress.
func (h *Host) SyncStrokeHistory(nickname string, history []game.Stroke) {
	if h.state.Phase != PhaseDrawing || !h.isActive(nickname) {
		return
	}
	if len(history) < len(h.state.StrokeHistories[nickname]) {
		return
	}
	h.state.StrokeHistories[nickname] = append([]game.Stroke(nil), history...)
	h.Save()
}

func (h *Host) HandleClearCanvas(nickname string) {
	if h.state.Phase != PhaseDrawing {
		return
	}
	h.state.StrokeHistories[nickname] = []game.Stroke{}
	h.Save()
}

// HandleUndo removes the holder's most recent gesture (all strokes sharing
// the last actionId) and sends them their corrected history.
func (h *Host) HandleUndo(nickname string) {
	if h.state.Phase != PhaseDrawing {
		return
	}
	history := h.state.StrokeHistories[nickname]
	n := len(history)
	if n == 0 {
		return
	}

	actionID := history[n-1].ActionID
	if actionID == "" {
		history = history[:n-1]
	} else {
		kept := []game.Stroke{}
		for _, s := range history {
			if s.ActionID != actionID {
				kept = append(kept, s)
			}
		}
		history = kept
	}
	h.state.StrokeHistories[nickname] = history

	h.sender.SendTo(nickname, protocol.TypeStrokeHistoryUpdate, protocol.StrokeHistoryPayload{
		History: history,
	})
	h.Save()
}

// --- Chat / players ---

// HandleChat is always plain chat in Telephone; there is no word to guess in
// the open.
func (h *Host) HandleChat(sender, text string) {
	h.sender.Broadcast(protocol.TypeChat, protocol.ChatPayload{
		Sender: sender, Text: text, Color: h.players.Color(sender),
	})
}

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
	h.BroadcastState()
	h.ResendAssignmentToPlayer(nickname)
}

func (h *Host) PlayerDisconnected(nickname string) {
	h.players.SetConnected(nickname, false)
	h.BroadcastState()
	// A dropped player must not wedge a submission-gated phase.
	if h.state.Phase == PhaseTextInput || h.state.Phase == PhaseGuessing {
		h.checkAllSubmitted()
	}
}

func (h *Host) RemovePlayer(nickname string) {
	h.players.RemovePlayer(nickname)
	h.BroadcastState()
}

func (h *Host) isActive(nickname string) bool {
	for _, n := range h.state.ActivePlayers {
		if n == nickname {
			return true
		}
	}
	return false
}

func (h *Host) eligible() []string {
	return h.players.Eligible(h.config.HostRole == "spectator")
}

// --- Assignments resend ---

// ResendAssignments repeats every holder's targeted assignment, used after a
// host-side state restore.
func (h *Host) ResendAssignments() {
	if h.state.Phase != PhaseDrawing && h.state.Phase != PhaseGuessing {
		return
	}
	for holder := range h.state.CurrentAssignments {
		h.ResendAssignmentToPlayer(holder)
	}
}

// ResendAssignmentToPlayer repeats one holder's assignment; during DRAWING
// their stroke history rides along so the canvas can be rebuilt.
func (h *Host) ResendAssignmentToPlayer(nickname string) {
	assignment, ok := h.state.CurrentAssignments[nickname]
	if !ok {
		return
	}
	switch h.state.Phase {
	case PhaseDrawing:
		assignment.StrokeHistory = h.state.StrokeHistories[nickname]
		if assignment.StrokeHistory == nil {
			assignment.StrokeHistory = []game.Stroke{}
		}
		h.sender.SendTo(nickname, protocol.TypeDrawAssignment, assignment)
	case PhaseGuessing:
		h.sender.SendTo(nickname, protocol.TypeGuessAssignment, assignment)
	}
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
	Nickname     string `json:"nickname"`
	Connected    bool   `json:"connected"`
	IsReady      bool   `json:"is_ready"`
	IsHost       bool   `json:"is_host"`
	Color        string `json:"color"`
	IsSpectator  bool   `json:"is_spectator"`
	HasSubmitted bool   `json:"hasSubmitted"`
}

type statePayload struct {
	GameState State        `json:"game_state"`
	Players   []PlayerView `json:"players"`
	Config    Config       `json:"config"`
	GameType  string       `json:"gameType"`
}

func (h *Host) playersList() []PlayerView {
	views := []PlayerView{}
	for _, nick := range h.players.Nicknames() {
		p, _ := h.players.Get(nick)
		_, submitted := h.state.Submissions[nick]
		views = append(views, PlayerView{
			Nickname:     nick,
			Connected:    p.Connected,
			IsReady:      p.IsReady,
			IsHost:       p.IsHost,
			Color:        p.Color,
			IsSpectator:  p.IsHost && h.config.HostRole == "spectator",
			HasSubmitted: submitted,
		})
	}
	return views
}

// BroadcastState sends the censored snapshot: chains only during
// RESULTS/GAME_OVER, and assignment routing without the assigned content.
func (h *Host) BroadcastState() {
	public := h.state
	if public.Phase != PhaseResults && public.Phase != PhaseGameOver {
		public.Chains = nil
	}
	public.CurrentAssignments = censorAssignments(h.state.CurrentAssignments)

	h.sender.Broadcast(protocol.TypeGameStateUpdate, statePayload{
		GameState: public,
		Players:   h.playersList(),
		Config:    h.config,
		GameType:  string(game.TypeTelephone),
	})

	h.Save()
}

// censorAssignments keeps routing (who acts on which chain at which step)
// and strips the secret content; holders get the content via targeted
// messages only.
func censorAssignments(assignments map[string]Assignment) map[string]Assignment {
	out := make(map[string]Assignment, len(assignments))
	for holder, a := range assignments {
		out[holder] = Assignment{ChainID: a.ChainID, StepNumber: a.StepNumber}
	}
	return out
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
		GameType: string(game.TypeTelephone),
	})
	if err != nil {
		h.log.Warn("marshal snapshot", zap.String("room", h.roomCode), zap.Error(err))
		return
	}
	if err := h.store.Save(snapshot.Key(string(game.TypeTelephone), h.roomCode), data); err != nil {
		h.log.Warn("save snapshot", zap.String("room", h.roomCode), zap.Error(err))
	}
}

// Restore loads a saved snapshot; a timed phase whose deadline already
// elapsed is ended immediately rather than resumed.
func (h *Host) Restore() bool {
	if h.roomCode == "" {
		return false
	}
	data, err := h.store.Load(snapshot.Key(string(game.TypeTelephone), h.roomCode))
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
	if h.state.Chains == nil {
		h.state.Chains = map[string]*Chain{}
	}
	if h.state.Submissions == nil {
		h.state.Submissions = map[string]string{}
	}
	if h.state.StrokeHistories == nil {
		h.state.StrokeHistories = map[string][]game.Stroke{}
	}
	if h.state.CurrentAssignments == nil {
		h.state.CurrentAssignments = map[string]Assignment{}
	}

	if h.state.Phase == PhaseDrawing || h.state.Phase == PhaseGuessing {
		remaining := h.state.TimerEnd - epoch(h.clock())
		if remaining <= 0 {
			if h.state.Phase == PhaseDrawing {
				h.endDrawingPhase()
			} else {
				h.endGuessingPhase()
			}
		} else {
			h.timer.Arm(time.Duration(remaining * float64(time.Second)))
			h.ResendAssignments()
		}
	}
	return true
}

package telephone

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dtymkiv/patty/internal/game"
	"github.com/dtymkiv/patty/internal/protocol"
	"github.com/dtymkiv/patty/internal/registry"
	"github.com/dtymkiv/patty/internal/snapshot"
)

type sentMsg struct {
	To      string // empty for broadcasts
	Type    string
	Payload any
}

type fakeSender struct {
	broadcasts []sentMsg
	targeted   []sentMsg
}

func (f *fakeSender) Broadcast(msgType string, payload any) {
	f.broadcasts = append(f.broadcasts, sentMsg{Type: msgType, Payload: payload})
}

func (f *fakeSender) SendTo(nickname, msgType string, payload any) {
	f.targeted = append(f.targeted, sentMsg{To: nickname, Type: msgType, Payload: payload})
}

func (f *fakeSender) lastState(t *testing.T) statePayload {
	t.Helper()
	for i := len(f.broadcasts) - 1; i >= 0; i-- {
		if f.broadcasts[i].Type == protocol.TypeGameStateUpdate {
			return f.broadcasts[i].Payload.(statePayload)
		}
	}
	t.Fatal("no GAME_STATE_UPDATE broadcast")
	return statePayload{}
}

func (f *fakeSender) assignmentFor(nickname, msgType string) (Assignment, bool) {
	for i := len(f.targeted) - 1; i >= 0; i-- {
		m := f.targeted[i]
		if m.To == nickname && m.Type == msgType {
			return m.Payload.(Assignment), true
		}
	}
	return Assignment{}, false
}

type fakeTimer struct {
	armed   []time.Duration
	running bool
}

func (f *fakeTimer) Arm(d time.Duration) {
	f.armed = append(f.armed, d)
	f.running = true
}

func (f *fakeTimer) Stop()         { f.running = false }
func (f *fakeTimer) Running() bool { return f.running }

func newTestHost(nicknames ...string) (*Host, *fakeSender, *registry.Registry, func(time.Time)) {
	sender := &fakeSender{}
	reg := registry.New(rand.New(rand.NewSource(3)))
	h := New("R1", reg, sender, &fakeTimer{}, snapshot.NewMemory(), zap.NewNop())

	now := time.Unix(1_700_000_000, 0)
	h.clock = func() time.Time { return now }

	for i, nick := range nicknames {
		reg.AddPlayer(nick, i == 0)
	}
	return h, sender, reg, func(n time.Time) { now = n }
}

// expire advances the pinned clock past the current phase deadline and ticks.
func expire(h *Host, setNow func(time.Time)) {
	deadline := time.Unix(int64(h.state.TimerEnd)+1, 0)
	setNow(deadline)
	h.Tick(deadline)
}

func TestChainRotation(t *testing.T) {
	players := []string{"a", "b", "c", "d"}
	rotation := chainRotation(players, 3)
	require.Len(t, rotation, 4)

	// Step 0: everyone holds their own chain.
	for _, p := range players {
		assert.Equal(t, p, rotation[0][p])
	}

	// Steps 1..3: nobody holds their own chain, and every chain has exactly
	// one holder.
	for step := 1; step <= 3; step++ {
		holders := map[string]bool{}
		for owner, holder := range rotation[step] {
			assert.NotEqual(t, owner, holder, "step %d", step)
			holders[holder] = true
		}
		assert.Len(t, holders, len(players), "step %d", step)
	}

	assert.Equal(t, "b", rotation[1]["a"])
	assert.Equal(t, "a", rotation[1]["d"])
}

func TestChainRotation_WrapsToOwnersAtCycleBoundary(t *testing.T) {
	players := []string{"a", "b", "c"}
	rotation := chainRotation(players, 5)
	require.Len(t, rotation, 6)

	// n=3: step 3 completes the cycle, so every owner holds their own chain
	// again before it diverges once more.
	for _, p := range players {
		assert.Equal(t, p, rotation[3][p])
	}
	assert.Equal(t, "b", rotation[4]["a"])
	assert.Equal(t, "c", rotation[5]["a"])
}

func TestStartGame_NeedsThreePlayers(t *testing.T) {
	h, sender, _, _ := newTestHost("alice", "bob")

	h.StartGame()

	assert.Equal(t, PhaseLobby, h.state.Phase)
	last := sender.broadcasts[len(sender.broadcasts)-1]
	require.Equal(t, protocol.TypeError, last.Type)
	assert.Equal(t, "Need at least 3 players for Telephone.",
		last.Payload.(protocol.ErrorPayload).Message)
}

func TestStartGame_DerivesStepBudget(t *testing.T) {
	h, _, _, _ := newTestHost("alice", "bob", "carol")

	h.StartGame()

	assert.Equal(t, PhaseTextInput, h.state.Phase)
	assert.Equal(t, 5, h.state.MaxRounds) // 3 drawing rounds → 3*2-1 steps
	assert.Len(t, h.state.Chains, 3)
	assert.Len(t, h.state.Rotation, 6)
	assert.Zero(t, h.state.TimerEnd, "writing is not timed")
}

func TestStartGame_MaxRoundsConfigCapsDrawingRounds(t *testing.T) {
	h, _, _, _ := newTestHost("alice", "bob", "carol", "dave")
	h.config.MaxRounds = 2

	h.StartGame()

	assert.Equal(t, 3, h.state.MaxRounds)
}

func TestFullGame_ChainsAlternateAndComplete(t *testing.T) {
	h, sender, _, setNow := newTestHost("alice", "bob", "carol")
	h.StartGame()

	h.HandleTextSubmission("alice", "a red fox")
	h.HandleTextSubmission("bob", "a big boat")
	assert.Equal(t, PhaseTextInput, h.state.Phase)
	h.HandleTextSubmission("carol", "a dancing robot")

	// All texts in: straight into the first drawing step.
	require.Equal(t, PhaseDrawing, h.state.Phase)
	assert.Equal(t, 1, h.state.CurrentStep)

	// Every holder received a drawing assignment for someone else's chain.
	for _, nick := range []string{"alice", "bob", "carol"} {
		a, ok := sender.assignmentFor(nick, protocol.TypeDrawAssignment)
		require.True(t, ok, "%s has no assignment", nick)
		assert.NotEqual(t, nick, a.ChainID)
		assert.NotEmpty(t, a.TextToDraw)
	}

	h.HandleDrawStroke("alice", game.Stroke{X2: 0.4, ActionID: "g1"})
	expire(h, setNow)

	require.Equal(t, PhaseGuessing, h.state.Phase)
	assert.Equal(t, 2, h.state.CurrentStep)

	h.HandleGuessSubmission("alice", "a fox")
	h.HandleGuessSubmission("bob", "a ship")
	h.HandleGuessSubmission("carol", "a robot")

	require.Equal(t, PhaseDrawing, h.state.Phase)
	assert.Equal(t, 3, h.state.CurrentStep)
	expire(h, setNow)

	require.Equal(t, PhaseGuessing, h.state.Phase)
	h.HandleGuessSubmission("alice", "still a fox")
	h.HandleGuessSubmission("bob", "a sailboat")
	h.HandleGuessSubmission("carol", "robot dancing")

	require.Equal(t, PhaseDrawing, h.state.Phase)
	assert.Equal(t, 5, h.state.CurrentStep)
	expire(h, setNow)

	// Step budget spent: reveal time.
	require.Equal(t, PhaseResults, h.state.Phase)

	for owner, chain := range h.state.Chains {
		require.Len(t, chain.Steps, 6, "chain %s", owner)
		assert.Equal(t, owner, chain.OriginalAuthor)
		for i, step := range chain.Steps {
			want := StepText
			if i%2 == 1 {
				want = StepDrawing
			}
			assert.Equal(t, want, step.Type, "chain %s step %d", owner, i)
		}
		// The seed phrase was written by the chain's owner.
		assert.Equal(t, owner, chain.Steps[0].Author)
	}
}

func TestResultsReveal_WalksEveryStepThenEndsGame(t *testing.T) {
	h, _, _, setNow := newTestHost("alice", "bob", "carol")
	h.StartGame()
	h.HandleTextSubmission("alice", "one")
	h.HandleTextSubmission("bob", "two")
	h.HandleTextSubmission("carol", "three")
	for h.state.Phase != PhaseResults {
		switch h.state.Phase {
		case PhaseDrawing:
			expire(h, setNow)
		case PhaseGuessing:
			h.HandleGuessSubmission("alice", "g")
			h.HandleGuessSubmission("bob", "g")
			h.HandleGuessSubmission("carol", "g")
		}
	}

	// 3 chains x 6 steps: 17 advances stay inside the reveal, the 18th ends
	// the game.
	for i := 0; i < 17; i++ {
		h.NextResultStep()
		require.Equal(t, PhaseResults, h.state.Phase, "advance %d", i)
	}
	h.NextResultStep()
	assert.Equal(t, PhaseGameOver, h.state.Phase)
}

func TestTextInput_DisconnectDoesNotBlockPhase(t *testing.T) {
	h, _, _, _ := newTestHost("alice", "bob", "carol")
	h.StartGame()

	h.HandleTextSubmission("alice", "a red fox")
	h.HandleTextSubmission("bob", "a big boat")
	h.PlayerDisconnected("carol")

	// The two connected players have submitted; carol's missing entry is
	// back-filled with a placeholder.
	require.Equal(t, PhaseDrawing, h.state.Phase)
	assert.Equal(t, placeholderNoText, h.state.Chains["carol"].Steps[0].Text)
	assert.Equal(t, "a red fox", h.state.Chains["alice"].Steps[0].Text)
}

func TestBroadcastState_CensorsChainsAndAssignments(t *testing.T) {
	h, sender, _, _ := newTestHost("alice", "bob", "carol")
	h.StartGame()
	h.HandleTextSubmission("alice", "a red fox")
	h.HandleTextSubmission("bob", "a big boat")
	h.HandleTextSubmission("carol", "a dancing robot")
	require.Equal(t, PhaseDrawing, h.state.Phase)

	h.BroadcastState()
	state := sender.lastState(t)

	assert.Nil(t, state.GameState.Chains, "chains must stay secret until the reveal")
	require.NotEmpty(t, state.GameState.CurrentAssignments)
	for holder, a := range state.GameState.CurrentAssignments {
		assert.Empty(t, a.TextToDraw, "holder %s", holder)
		assert.Empty(t, a.DrawingToGuess, "holder %s", holder)
		assert.NotEmpty(t, a.ChainID, "routing survives censoring")
	}
}

func TestSyncStrokeHistory_DropsStaleShorterSync(t *testing.T) {
	h, _, _, _ := newTestHost("alice", "bob", "carol")
	h.StartGame()
	h.HandleTextSubmission("alice", "x")
	h.HandleTextSubmission("bob", "y")
	h.HandleTextSubmission("carol", "z")
	require.Equal(t, PhaseDrawing, h.state.Phase)

	h.HandleDrawStroke("alice", game.Stroke{X2: 0.1})
	h.HandleDrawStroke("alice", game.Stroke{X2: 0.2})

	h.SyncStrokeHistory("alice", []game.Stroke{{X2: 0.9}})
	assert.Len(t, h.state.StrokeHistories["alice"], 2, "shorter sync is stale")

	full := []game.Stroke{{X2: 0.1}, {X2: 0.2}, {X2: 0.3}}
	h.SyncStrokeHistory("alice", full)
	assert.Equal(t, full, h.state.StrokeHistories["alice"])
}

func TestUndo_RemovesLastGestureAndNotifiesHolder(t *testing.T) {
	h, sender, _, _ := newTestHost("alice", "bob", "carol")
	h.StartGame()
	h.HandleTextSubmission("alice", "x")
	h.HandleTextSubmission("bob", "y")
	h.HandleTextSubmission("carol", "z")
	require.Equal(t, PhaseDrawing, h.state.Phase)

	h.HandleDrawStroke("bob", game.Stroke{X2: 0.1, ActionID: "g1"})
	h.HandleDrawStroke("bob", game.Stroke{X2: 0.2, ActionID: "g1"})
	h.HandleDrawStroke("bob", game.Stroke{X2: 0.3, ActionID: "g2"})

	h.HandleUndo("bob")

	require.Len(t, h.state.StrokeHistories["bob"], 2)
	for _, s := range h.state.StrokeHistories["bob"] {
		assert.Equal(t, "g1", s.ActionID)
	}

	last := sender.targeted[len(sender.targeted)-1]
	assert.Equal(t, "bob", last.To)
	assert.Equal(t, protocol.TypeStrokeHistoryUpdate, last.Type)
}

func TestEmptySubmissionsGetPlaceholders(t *testing.T) {
	h, _, _, _ := newTestHost("alice", "bob", "carol")
	h.StartGame()

	h.HandleTextSubmission("alice", "   ")
	assert.Equal(t, placeholderEmpty, h.state.Submissions["alice"])
}

func TestResendAssignment_AttachesStrokeHistoryDuringDrawing(t *testing.T) {
	h, sender, _, _ := newTestHost("alice", "bob", "carol")
	h.StartGame()
	h.HandleTextSubmission("alice", "x")
	h.HandleTextSubmission("bob", "y")
	h.HandleTextSubmission("carol", "z")
	require.Equal(t, PhaseDrawing, h.state.Phase)

	h.HandleDrawStroke("alice", game.Stroke{X2: 0.5})
	sender.targeted = nil

	h.ResendAssignmentToPlayer("alice")

	a, ok := sender.assignmentFor("alice", protocol.TypeDrawAssignment)
	require.True(t, ok)
	assert.NotEmpty(t, a.TextToDraw)
	assert.Len(t, a.StrokeHistory, 1)
}

func TestRestore_ExpiredDrawingAdvancesPhase(t *testing.T) {
	store := snapshot.NewMemory()
	sender := &fakeSender{}
	reg := registry.New(rand.New(rand.NewSource(3)))
	h := New("R1", reg, sender, &fakeTimer{}, store, zap.NewNop())
	for i, nick := range []string{"alice", "bob", "carol"} {
		reg.AddPlayer(nick, i == 0)
	}
	h.StartGame()
	h.HandleTextSubmission("alice", "x")
	h.HandleTextSubmission("bob", "y")
	h.HandleTextSubmission("carol", "z")
	require.Equal(t, PhaseDrawing, h.state.Phase)

	// Simulate a crash after the deadline passed.
	h.state.TimerEnd = epoch(time.Now().Add(-time.Minute))
	h.Save()

	reg2 := registry.New(rand.New(rand.NewSource(4)))
	h2 := New("R1", reg2, &fakeSender{}, &fakeTimer{}, store, zap.NewNop())

	require.True(t, h2.Restore())
	assert.Equal(t, PhaseGuessing, h2.state.Phase)
	assert.Equal(t, 2, h2.state.CurrentStep)
}

func TestRestore_LiveDrawingResendsAssignments(t *testing.T) {
	store := snapshot.NewMemory()
	reg := registry.New(rand.New(rand.NewSource(3)))
	h := New("R1", reg, &fakeSender{}, &fakeTimer{}, store, zap.NewNop())
	for i, nick := range []string{"alice", "bob", "carol"} {
		reg.AddPlayer(nick, i == 0)
	}
	h.StartGame()
	h.HandleTextSubmission("alice", "x")
	h.HandleTextSubmission("bob", "y")
	h.HandleTextSubmission("carol", "z")
	require.Equal(t, PhaseDrawing, h.state.Phase)

	h.state.TimerEnd = epoch(time.Now().Add(time.Minute))
	h.Save()

	sender2 := &fakeSender{}
	timer2 := &fakeTimer{}
	reg2 := registry.New(rand.New(rand.NewSource(4)))
	h2 := New("R1", reg2, sender2, timer2, store, zap.NewNop())

	require.True(t, h2.Restore())
	assert.Equal(t, PhaseDrawing, h2.state.Phase)
	assert.True(t, timer2.running)
	_, ok := sender2.assignmentFor("alice", protocol.TypeDrawAssignment)
	assert.True(t, ok)
}

func TestResetToLobby_ClearsEverything(t *testing.T) {
	h, _, reg, _ := newTestHost("alice", "bob", "carol")
	h.StartGame()
	h.HandleTextSubmission("alice", "x")

	h.ResetToLobby()

	assert.Equal(t, PhaseLobby, h.state.Phase)
	assert.Empty(t, h.state.Chains)
	assert.Empty(t, h.state.Submissions)
	assert.Equal(t, 3, reg.Len())
}

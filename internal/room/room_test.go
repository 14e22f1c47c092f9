package room

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dtymkiv/patty/internal/game"
	"github.com/dtymkiv/patty/internal/protocol"
	"github.com/dtymkiv/patty/internal/snapshot"
	"github.com/dtymkiv/patty/internal/wordlist"
)

func testDeps() Deps {
	return Deps{
		Store: snapshot.NewMemory(),
		Words: wordlist.Default(),
		Log:   zap.NewNop(),
	}
}

func newMember(nickname string) *Member {
	return &Member{Nickname: nickname, Outbox: make(chan []byte, 32)}
}

// helper: drain frames until one of the wanted type arrives
func expectType(t *testing.T, ch <-chan []byte, msgType string, within time.Duration) protocol.Envelope {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case data, ok := <-ch:
			if !ok {
				t.Fatalf("member outbox closed while waiting for %s", msgType)
			}
			var env protocol.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				t.Fatalf("bad envelope: %v", err)
			}
			if env.Type == msgType {
				return env
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", msgType)
			return protocol.Envelope{} // unreachable
		}
	}
}

func expectPhase(t *testing.T, ch <-chan []byte, phase string, within time.Duration) {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case data, ok := <-ch:
			if !ok {
				t.Fatalf("member outbox closed while waiting for phase %s", phase)
			}
			var env protocol.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				t.Fatalf("bad envelope: %v", err)
			}
			if env.Type != protocol.TypeGameStateUpdate {
				continue
			}
			var payload struct {
				GameState struct {
					Phase string `json:"phase"`
				} `json:"game_state"`
			}
			if err := json.Unmarshal(env.Payload, &payload); err != nil {
				t.Fatalf("bad state payload: %v", err)
			}
			if payload.GameState.Phase == phase {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for phase %s", phase)
		}
	}
}

// helper: drain until the outbox closes, so writer goroutines can exit
func expectClosed(t *testing.T, ch <-chan []byte, within time.Duration) {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("outbox never closed")
		}
	}
}

func frame(m *Member, msgType string, payload string) Frame {
	data := `{"type":"` + msgType + `"`
	if payload != "" {
		data += `,"payload":` + payload
	}
	data += `}`
	return Frame{Member: m, Data: []byte(data)}
}

func TestRoom_HostJoinGetsTokenAndState(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := New(ctx, "ROOM1", "Test Room", game.TypeAlligator, "tok-1", testDeps(), nil)
	defer func() { r.Inbox() <- Shutdown{} }()

	alice := newMember("alice")
	r.Inbox() <- Join{Member: alice, HostToken: "tok-1"}

	env := expectType(t, alice.Outbox, protocol.TypeJoinSuccess, time.Second)
	var success protocol.JoinSuccessPayload
	if err := json.Unmarshal(env.Payload, &success); err != nil {
		t.Fatalf("bad join payload: %v", err)
	}
	if !success.IsHost {
		t.Fatalf("expected host join, got %+v", success)
	}
	if success.HostToken != "tok-1" {
		t.Fatalf("host must get the token back, got %q", success.HostToken)
	}
	if success.RoomCode != "ROOM1" {
		t.Fatalf("want room code ROOM1, got %q", success.RoomCode)
	}

	// The host engine registers the player and broadcasts lobby state.
	expectPhase(t, alice.Outbox, "LOBBY", time.Second)
}

func TestRoom_DuplicateNicknameRejected(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := New(ctx, "ROOM1", "Test Room", game.TypeAlligator, "tok-1", testDeps(), nil)
	defer func() { r.Inbox() <- Shutdown{} }()

	alice := newMember("alice")
	r.Inbox() <- Join{Member: alice, HostToken: "tok-1"}
	_ = expectType(t, alice.Outbox, protocol.TypeJoinSuccess, time.Second)

	imposter := newMember("alice")
	r.Inbox() <- Join{Member: imposter}

	env := expectType(t, imposter.Outbox, protocol.TypeError, time.Second)
	var perr protocol.ErrorPayload
	_ = json.Unmarshal(env.Payload, &perr)
	if perr.Message != "Nickname already taken" {
		t.Fatalf("want nickname-taken error, got %q", perr.Message)
	}
}

func TestRoom_DisconnectAndReconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := New(ctx, "ROOM1", "Test Room", game.TypeAlligator, "tok-1", testDeps(), nil)
	defer func() { r.Inbox() <- Shutdown{} }()

	alice := newMember("alice")
	bob := newMember("bob")
	r.Inbox() <- Join{Member: alice, HostToken: "tok-1"}
	r.Inbox() <- Join{Member: bob}
	_ = expectType(t, bob.Outbox, protocol.TypeJoinSuccess, time.Second)

	// Transport drop: bob keeps his seat, but his outbox is released so the
	// writer goroutine can exit.
	r.Inbox() <- Leave{Member: bob}
	_ = expectType(t, alice.Outbox, protocol.TypePlayerDisconnected, time.Second)
	expectClosed(t, bob.Outbox, time.Second)

	bob2 := newMember("bob")
	r.Inbox() <- Join{Member: bob2}
	_ = expectType(t, bob2.Outbox, protocol.TypeJoinSuccess, time.Second)
	_ = expectType(t, alice.Outbox, protocol.TypePlayerReconnected, time.Second)
}

func TestRoom_MidGameJoinRejected(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := New(ctx, "ROOM1", "Test Room", game.TypeAlligator, "tok-1", testDeps(), nil)
	defer func() { r.Inbox() <- Shutdown{} }()

	alice := newMember("alice")
	bob := newMember("bob")
	r.Inbox() <- Join{Member: alice, HostToken: "tok-1"}
	r.Inbox() <- Join{Member: bob}
	_ = expectType(t, bob.Outbox, protocol.TypeJoinSuccess, time.Second)

	r.Inbox() <- frame(alice, protocol.TypeStartGame, "")
	expectPhase(t, alice.Outbox, "DRAWER_PREPARING", time.Second)

	carol := newMember("carol")
	r.Inbox() <- Join{Member: carol}
	env := expectType(t, carol.Outbox, protocol.TypeError, time.Second)
	var perr protocol.ErrorPayload
	_ = json.Unmarshal(env.Payload, &perr)
	if perr.Message != "Game in progress - cannot join now" {
		t.Fatalf("want mid-game rejection, got %q", perr.Message)
	}

	// A reconnect is still allowed mid-game.
	r.Inbox() <- Leave{Member: bob}
	bob2 := newMember("bob")
	r.Inbox() <- Join{Member: bob2}
	_ = expectType(t, bob2.Outbox, protocol.TypeJoinSuccess, time.Second)
}

func TestRoom_TargetedMessageReachesOnlyTarget(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := New(ctx, "ROOM1", "Test Room", game.TypeTelephone, "tok-1", testDeps(), nil)
	defer func() { r.Inbox() <- Shutdown{} }()

	alice := newMember("alice")
	bob := newMember("bob")
	r.Inbox() <- Join{Member: alice, HostToken: "tok-1"}
	r.Inbox() <- Join{Member: bob}
	_ = expectType(t, bob.Outbox, protocol.TypeJoinSuccess, time.Second)

	r.Inbox() <- Frame{Member: alice, Data: []byte(
		`{"type":"TARGETED_MESSAGE","target":"bob","nested_type":"DRAW_ASSIGNMENT","payload":{"chainId":"x"}}`)}

	env := expectType(t, bob.Outbox, protocol.TypeTargetedMessage, time.Second)
	if env.Target != "bob" || env.NestedType != "DRAW_ASSIGNMENT" {
		t.Fatalf("unexpected targeted envelope: %+v", env)
	}
}

func TestRoom_TargetedMessageFromNonHostIgnored(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := New(ctx, "ROOM1", "Test Room", game.TypeTelephone, "tok-1", testDeps(), nil)
	defer func() { r.Inbox() <- Shutdown{} }()

	alice := newMember("alice")
	bob := newMember("bob")
	r.Inbox() <- Join{Member: alice, HostToken: "tok-1"}
	r.Inbox() <- Join{Member: bob}
	_ = expectType(t, bob.Outbox, protocol.TypeJoinSuccess, time.Second)

	r.Inbox() <- Frame{Member: bob, Data: []byte(
		`{"type":"TARGETED_MESSAGE","target":"alice","nested_type":"DRAW_ASSIGNMENT","payload":{}}`)}

	// Use a view round-trip as a barrier, then check alice never saw it.
	reply := make(chan View, 1)
	r.Inbox() <- GetView{Reply: reply}
	<-reply

	for {
		select {
		case data := <-alice.Outbox:
			var env protocol.Envelope
			_ = json.Unmarshal(data, &env)
			if env.Type == protocol.TypeTargetedMessage {
				t.Fatalf("non-host targeted message was relayed")
			}
		default:
			return
		}
	}
}

func TestRoom_CloseRoomShutsDown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	closed := make(chan string, 1)
	r := New(ctx, "ROOM1", "Test Room", game.TypeAlligator, "tok-1", testDeps(),
		func(code string) { closed <- code })

	alice := newMember("alice")
	bob := newMember("bob")
	r.Inbox() <- Join{Member: alice, HostToken: "tok-1"}
	r.Inbox() <- Join{Member: bob}
	_ = expectType(t, bob.Outbox, protocol.TypeJoinSuccess, time.Second)

	r.Inbox() <- frame(alice, protocol.TypeCloseRoom, "")

	_ = expectType(t, bob.Outbox, protocol.TypeRoomClosed, time.Second)
	select {
	case code := <-closed:
		if code != "ROOM1" {
			t.Fatalf("want onClose(ROOM1), got %q", code)
		}
	case <-time.After(time.Second):
		t.Fatalf("room never invoked onClose")
	}
}

func TestRoom_LeaveRemovesPlayer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := New(ctx, "ROOM1", "Test Room", game.TypeAlligator, "tok-1", testDeps(), nil)
	defer func() { r.Inbox() <- Shutdown{} }()

	alice := newMember("alice")
	bob := newMember("bob")
	r.Inbox() <- Join{Member: alice, HostToken: "tok-1"}
	r.Inbox() <- Join{Member: bob}
	_ = expectType(t, bob.Outbox, protocol.TypeJoinSuccess, time.Second)

	r.Inbox() <- frame(bob, protocol.TypeLeaveRoom, "")
	_ = expectType(t, bob.Outbox, protocol.TypeLeftRoom, time.Second)
	_ = expectType(t, alice.Outbox, protocol.TypePlayerLeft, time.Second)
	expectClosed(t, bob.Outbox, time.Second)

	// The transport-level disconnect that follows an intentional leave must
	// not close the outbox a second time.
	r.Inbox() <- Leave{Member: bob}

	reply := make(chan View, 1)
	r.Inbox() <- GetView{Reply: reply}
	v := <-reply
	if v.Members != 1 {
		t.Fatalf("want 1 member after leave, got %d", v.Members)
	}
}

// Full timer round-trip: a 1-second round set through CONFIG_UPDATE must
// expire on its own and advance the game out of DRAWING.
func TestRoom_RoundTimerFiresAndAdvancesPhase(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := New(ctx, "ROOM1", "Test Room", game.TypeAlligator, "tok-1", testDeps(), nil)
	defer func() { r.Inbox() <- Shutdown{} }()

	alice := newMember("alice")
	bob := newMember("bob")
	r.Inbox() <- Join{Member: alice, HostToken: "tok-1"}
	r.Inbox() <- Join{Member: bob}
	_ = expectType(t, bob.Outbox, protocol.TypeJoinSuccess, time.Second)

	r.Inbox() <- frame(alice, protocol.TypeConfigUpdate, `{"config":{"round_duration":1}}`)
	r.Inbox() <- frame(alice, protocol.TypeStartGame, "")
	expectPhase(t, bob.Outbox, "DRAWER_PREPARING", time.Second)

	r.Inbox() <- frame(alice, protocol.TypeStartActiveRound, "")
	expectPhase(t, bob.Outbox, "DRAWING", time.Second)

	// No guesses: the deadline alone must end the round.
	expectPhase(t, bob.Outbox, "DRAWER_PREPARING", 3*time.Second)
}

// Package room runs one actor goroutine per room: it owns the member table,
// the relay semantics (broadcast, targeted messages, join/leave/reconnect
// bookkeeping) and the single authoritative game Host for the room. All
// state mutation happens inside the actor loop, so neither the hosts nor the
// registry need locks.
package room

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/dtymkiv/patty/internal/alligator"
	"github.com/dtymkiv/patty/internal/game"
	"github.com/dtymkiv/patty/internal/protocol"
	"github.com/dtymkiv/patty/internal/registry"
	"github.com/dtymkiv/patty/internal/snapshot"
	"github.com/dtymkiv/patty/internal/telephone"
	"github.com/dtymkiv/patty/internal/wordlist"
)

const (
	emptyRoomTTL    = 5 * time.Minute
	disconnectedTTL = 5 * time.Minute
	reapInterval    = time.Minute
)

// Member is one connected participant. The transport layer owns the Outbox
// drain; the room only ever does non-blocking sends into it.
type Member struct {
	Nickname string
	Outbox   chan []byte

	isHost bool
	gone   bool // outbox closed; only the actor goroutine touches this
}

type Msg interface{ isRoomMsg() }

type Join struct {
	Member    *Member
	HostToken string
}

// Leave is a transport-level disconnect; the player stays registered so a
// reconnect restores their seat.
type Leave struct{ Member *Member }

type Frame struct {
	Member *Member
	Data   []byte
}

type timerFired struct{ gen uint64 }

type Shutdown struct{}

// GetView reflects internal state without data races; test-only.
type GetView struct{ Reply chan View }

type View struct {
	Members      int
	Disconnected int
	Phase        string
	GameType     game.Type
}

func (Join) isRoomMsg()       {}
func (Leave) isRoomMsg()      {}
func (Frame) isRoomMsg()      {}
func (timerFired) isRoomMsg() {}
func (Shutdown) isRoomMsg()   {}
func (GetView) isRoomMsg()    {}

// Deps carries the shared collaborators a room needs.
type Deps struct {
	Store snapshot.Store
	Words wordlist.Library
	Log   *zap.Logger
}

type Room struct {
	Code string
	Name string

	hostToken string
	gameType  game.Type

	inbox        chan Msg
	members      map[*Member]bool
	disconnected map[string]time.Time
	emptySince   time.Time

	players *registry.Registry
	host    game.Host
	timer   *phaseTimer

	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc

	// onClose is invoked once when the room shuts down (hub removal).
	onClose func(code string)
}

func New(parent context.Context, code, name string, gameType game.Type,
	hostToken string, deps Deps, onClose func(code string)) *Room {
	ctx, cancel := context.WithCancel(parent)

	r := &Room{
		Code:         code,
		Name:         name,
		hostToken:    hostToken,
		gameType:     gameType,
		inbox:        make(chan Msg, 64),
		members:      make(map[*Member]bool),
		disconnected: make(map[string]time.Time),
		players:      registry.New(rand.New(rand.NewSource(time.Now().UnixNano()))),
		log:          deps.Log.With(zap.String("room", code)),
		ctx:          ctx,
		cancel:       cancel,
		onClose:      onClose,
	}
	r.timer = &phaseTimer{inbox: r.inbox, ctx: ctx}

	switch gameType {
	case game.TypeTelephone:
		r.host = telephone.New(code, r.players, r, r.timer, deps.Store, r.log)
	default:
		r.host = alligator.New(code, r.players, deps.Words, r, r.timer, deps.Store, r.log)
	}

	if r.host.Restore() {
		r.log.Info("restored host state", zap.String("phase", r.host.Phase()))
	}

	go r.loop()
	return r
}

func (r *Room) Inbox() chan<- Msg   { return r.inbox }
func (r *Room) GameType() game.Type { return r.gameType }

// MemberCount is read by the HTTP room list; it goes through the actor.
func (r *Room) MemberCount() int {
	reply := make(chan View, 1)
	select {
	case r.inbox <- GetView{Reply: reply}:
	case <-r.ctx.Done():
		return 0
	}
	select {
	case v := <-reply:
		return v.Members
	case <-r.ctx.Done():
		return 0
	}
}

func (r *Room) loop() {
	ticker := time.NewTicker(reapInterval)
	defer func() {
		ticker.Stop()
		r.shutdown()
	}()

	for {
		select {
		case <-r.ctx.Done():
			return

		case <-ticker.C:
			if !r.emptySince.IsZero() && time.Since(r.emptySince) > emptyRoomTTL {
				r.log.Info("closing empty room")
				return
			}
			now := time.Now()
			for nick, since := range r.disconnected {
				if now.Sub(since) > disconnectedTTL {
					delete(r.disconnected, nick)
				}
			}

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Join:
				r.handleJoin(msg)

			case Leave:
				r.handleDisconnect(msg.Member)

			case Frame:
				if !r.handleFrame(msg) {
					return // CLOSE_ROOM
				}

			case timerFired:
				if r.timer.acknowledge(msg.gen) {
					r.host.Tick(time.Now())
				}

			case GetView:
				msg.Reply <- View{
					Members:      len(r.members),
					Disconnected: len(r.disconnected),
					Phase:        r.host.Phase(),
					GameType:     r.gameType,
				}

			case Shutdown:
				return
			}
		}
	}
}

// handleJoin validates a newcomer: host-token match, nickname uniqueness,
// and no mid-game entry unless it is a reconnect.
func (r *Room) handleJoin(msg Join) {
	m := msg.Member
	isHost := msg.HostToken != "" && msg.HostToken == r.hostToken

	existing, known := r.players.Get(m.Nickname)
	reconnecting := known && !existing.Connected

	if r.gameActive() && !isHost && !reconnecting {
		r.sendError(m, "Game in progress - cannot join now")
		return
	}
	if known && existing.Connected && !isHost {
		r.sendError(m, "Nickname already taken")
		return
	}

	m.isHost = isHost
	r.members[m] = true
	r.emptySince = time.Time{}
	delete(r.disconnected, m.Nickname)

	refs := []protocol.PlayerRef{}
	for _, nick := range r.players.Nicknames() {
		p, _ := r.players.Get(nick)
		refs = append(refs, protocol.PlayerRef{Nickname: nick, IsHost: p.IsHost})
	}
	if !known {
		refs = append(refs, protocol.PlayerRef{Nickname: m.Nickname, IsHost: isHost})
	}

	success := protocol.JoinSuccessPayload{
		RoomCode: r.Code,
		Nickname: m.Nickname,
		IsHost:   isHost,
		Players:  refs,
	}
	if isHost {
		success.HostToken = r.hostToken
	}
	r.send(m, protocol.TypeJoinSuccess, success)

	event := protocol.TypePlayerJoined
	if reconnecting {
		event = protocol.TypePlayerReconnected
	}
	r.broadcastExcluding(m, event, protocol.PlayerRef{Nickname: m.Nickname, IsHost: isHost})

	// The host engine registers/reconnects the player and pushes full state
	// (including any targeted secrets) so the newcomer can render.
	r.host.PlayerConnected(m.Nickname, isHost)

	r.log.Info("member joined",
		zap.String("nickname", m.Nickname),
		zap.Bool("is_host", isHost),
		zap.Bool("reconnect", reconnecting))
}

// dropMember closes the member's outbox so their writer goroutine exits.
// Idempotent: a LEAVE_ROOM followed by the transport-level disconnect must
// not close twice.
func (r *Room) dropMember(m *Member) {
	if m.gone {
		return
	}
	m.gone = true
	close(m.Outbox)
}

func (r *Room) handleDisconnect(m *Member) {
	if !r.members[m] {
		// Already removed (left, or the join was rejected); still release
		// the writer.
		r.dropMember(m)
		return
	}
	delete(r.members, m)
	r.dropMember(m)
	r.disconnected[m.Nickname] = time.Now()

	r.broadcast(protocol.TypePlayerDisconnected, protocol.PlayerRef{
		Nickname: m.Nickname, IsHost: m.isHost,
	})
	r.host.PlayerDisconnected(m.Nickname)

	if len(r.members) == 0 {
		r.emptySince = time.Now()
	}
}

// handleFrame routes one inbound envelope; returns false when the room must
// shut down.
func (r *Room) handleFrame(msg Frame) bool {
	var env protocol.Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		r.sendError(msg.Member, "bad json")
		return true
	}

	switch env.Type {
	case protocol.TypeLeaveRoom:
		r.handleLeave(msg.Member)

	case protocol.TypeCloseRoom:
		if msg.Member.isHost {
			r.broadcast(protocol.TypeRoomClosed, struct{}{})
			return false
		}

	case protocol.TypeTargetedMessage:
		// Relay path kept for protocol fidelity: a host client may route a
		// secret to a named member.
		if msg.Member.isHost {
			r.relayTargeted(env)
		}

	default:
		r.host.Apply(msg.Member.Nickname, env.Type, env.Payload)
	}
	return true
}

// handleLeave is an intentional departure: the player is removed outright,
// not parked for reconnection.
func (r *Room) handleLeave(m *Member) {
	if !r.members[m] {
		return
	}
	r.send(m, protocol.TypeLeftRoom, struct{}{})
	delete(r.members, m)
	r.dropMember(m)
	delete(r.disconnected, m.Nickname)

	r.broadcastExcluding(m, protocol.TypePlayerLeft, protocol.PlayerRef{
		Nickname: m.Nickname, IsHost: m.isHost,
	})
	r.host.RemovePlayer(m.Nickname)

	if len(r.members) == 0 {
		r.emptySince = time.Now()
	}
}

func (r *Room) relayTargeted(env protocol.Envelope) {
	data, _ := json.Marshal(env)
	for m := range r.members {
		if m.Nickname == env.Target {
			r.push(m, data)
			return
		}
	}
}

func (r *Room) shutdown() {
	r.timer.Stop()
	for m := range r.members {
		delete(r.members, m)
		r.dropMember(m)
	}
	r.cancel()
	if r.onClose != nil {
		r.onClose(r.Code)
	}
}

// --- game.Sender ---

// Broadcast implements game.Sender; every member receives the envelope.
func (r *Room) Broadcast(msgType string, payload any) {
	env := protocol.Raw(msgType, payload)
	data, _ := json.Marshal(env)
	for m := range r.members {
		r.push(m, data)
	}
}

// SendTo implements game.Sender; exactly one nickname receives the secret,
// wrapped as a TARGETED_MESSAGE like the relay protocol specifies.
func (r *Room) SendTo(nickname, msgType string, payload any) {
	body, _ := json.Marshal(payload)
	data, _ := json.Marshal(protocol.Envelope{
		Type:       protocol.TypeTargetedMessage,
		Target:     nickname,
		NestedType: msgType,
		Payload:    body,
	})
	for m := range r.members {
		if m.Nickname == nickname {
			r.push(m, data)
			return
		}
	}
}

func (r *Room) broadcast(msgType string, payload any) {
	r.Broadcast(msgType, payload)
}

func (r *Room) broadcastExcluding(exclude *Member, msgType string, payload any) {
	env := protocol.Raw(msgType, payload)
	data, _ := json.Marshal(env)
	for m := range r.members {
		if m != exclude {
			r.push(m, data)
		}
	}
}

func (r *Room) send(m *Member, msgType string, payload any) {
	env := protocol.Raw(msgType, payload)
	data, _ := json.Marshal(env)
	r.push(m, data)
}

func (r *Room) sendError(m *Member, text string) {
	r.send(m, protocol.TypeError, protocol.ErrorPayload{Message: text})
}

// push never blocks; a member whose outbox is full misses the frame and
// recovers from the next state broadcast.
func (r *Room) push(m *Member, data []byte) {
	select {
	case m.Outbox <- data:
	default:
	}
}

func (r *Room) gameActive() bool {
	switch r.host.Phase() {
	case "LOBBY", "GAME_OVER":
		return false
	default:
		return true
	}
}

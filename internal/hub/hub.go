// Package hub owns the room table. It is a single actor: creation, lookup
// and removal all funnel through its inbox, so the table needs no lock.
package hub

import (
	"context"
	"crypto/rand"
	"math/big"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dtymkiv/patty/internal/game"
	"github.com/dtymkiv/patty/internal/room"
)

type HubMsg interface{ isHubMsg() }

type CreateRoom struct {
	Name     string
	GameType game.Type

	// Code, when set and free, pins the room code instead of minting one.
	// Re-creating a room under its old code lets the host restore the saved
	// session for it.
	Code string

	Reply chan CreateResult
}

type CreateResult struct {
	Room      *room.Room
	HostToken string
}

type GetRoom struct {
	Code  string
	Reply chan *room.Room
}

type RemoveRoom struct {
	Code string
}

type ListRooms struct {
	Reply chan []RoomInfo
}

type RoomInfo struct {
	Code     string    `json:"code"`
	Name     string    `json:"name"`
	GameType game.Type `json:"game_type"`
	Players  int       `json:"players"`
}

type ShutdownHub struct{}

func (CreateRoom) isHubMsg()  {}
func (GetRoom) isHubMsg()     {}
func (RemoveRoom) isHubMsg()  {}
func (ListRooms) isHubMsg()   {}
func (ShutdownHub) isHubMsg() {}

type Hub struct {
	inbox  chan HubMsg
	rooms  map[string]*room.Room
	deps   room.Deps
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(parent context.Context, deps room.Deps) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:  make(chan HubMsg, 64),
		rooms:  make(map[string]*room.Room),
		deps:   deps,
		log:    deps.Log,
		ctx:    ctx,
		cancel: cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateRoom:
				code := msg.Code
				if _, taken := h.rooms[code]; code == "" || taken {
					code = h.freshCode()
				}
				token := uuid.NewString()
				rm := room.New(h.ctx, code, msg.Name, msg.GameType, token, h.deps,
					h.removeLater)
				h.rooms[code] = rm
				h.log.Info("room created",
					zap.String("room", code),
					zap.String("game_type", string(msg.GameType)))
				msg.Reply <- CreateResult{Room: rm, HostToken: token}

			case GetRoom:
				msg.Reply <- h.rooms[msg.Code] // may be nil

			case RemoveRoom:
				delete(h.rooms, msg.Code)

			case ListRooms:
				infos := make([]RoomInfo, 0, len(h.rooms))
				for _, rm := range h.rooms {
					infos = append(infos, RoomInfo{
						Code:     rm.Code,
						Name:     rm.Name,
						GameType: rm.GameType(),
						Players:  rm.MemberCount(),
					})
				}
				msg.Reply <- infos

			case ShutdownHub:
				for _, rm := range h.rooms {
					rm.Inbox() <- room.Shutdown{}
				}
				clear(h.rooms)
				h.cancel()
				return
			}
		}
	}
}

// removeLater is handed to rooms as their close callback; it runs on the
// room goroutine, so it posts back through the inbox instead of touching
// the table.
func (h *Hub) removeLater(code string) {
	select {
	case h.inbox <- RemoveRoom{Code: code}:
	case <-h.ctx.Done():
	}
}

const codeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func (h *Hub) freshCode() string {
	for {
		code := generateCode(6)
		if _, taken := h.rooms[code]; !taken {
			return code
		}
	}
}

func generateCode(length int) string {
	code := make([]byte, length)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeCharset))))
		if err != nil {
			// crypto/rand does not fail on supported platforms; degrade
			// rather than panic the hub.
			code[i] = codeCharset[0]
			continue
		}
		code[i] = codeCharset[n.Int64()]
	}
	return string(code)
}

// Package ws bridges websocket connections into room actor inboxes. Each
// connection gets a writer goroutine draining its member outbox; the read
// loop posts raw frames to the room for interpretation.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/dtymkiv/patty/internal/hub"
	"github.com/dtymkiv/patty/internal/protocol"
	"github.com/dtymkiv/patty/internal/room"
)

const (
	writeTimeout = 3 * time.Second
	joinTimeout  = 10 * time.Second
)

func Handler(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// In dev ONLY, you can loosen origin checks:
			// OriginPatterns: []string{"http://localhost:*", "http://127.0.0.1:*"},
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		// The first frame must be JOIN_ROOM; everything else is relayed only
		// after the member is seated.
		join, ok := readJoin(r.Context(), conn)
		if !ok {
			writeError(r.Context(), conn, "expected JOIN_ROOM")
			return
		}

		nickname := strings.TrimSpace(join.Nickname)
		if nickname == "" || join.RoomCode == "" {
			writeError(r.Context(), conn, "nickname and room_code are required")
			return
		}

		reply := make(chan *room.Room, 1)
		h.Inbox() <- hub.GetRoom{Code: join.RoomCode, Reply: reply}
		rm := <-reply
		if rm == nil {
			writeError(r.Context(), conn, "Room not found")
			return
		}

		member := &room.Member{
			Nickname: nickname,
			Outbox:   make(chan []byte, 32),
		}
		rm.Inbox() <- room.Join{Member: member, HostToken: join.HostToken}
		defer func() { rm.Inbox() <- room.Leave{Member: member} }()

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for data := range member.Outbox {
				ctx, cancel := context.WithTimeout(writeCtx, writeTimeout)
				_ = conn.Write(ctx, websocket.MessageText, data)
				cancel()
			}
		}()

		log.Debug("websocket connected",
			zap.String("room", join.RoomCode),
			zap.String("nickname", nickname))

		// Reader loop
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				// Treat clean close/going-away as normal:
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					return
				}
				// Otherwise, just exit (room.Leave in defer):
				return
			}
			rm.Inbox() <- room.Frame{Member: member, Data: data}
		}
	}
}

func readJoin(parent context.Context, conn *websocket.Conn) (protocol.JoinRoomPayload, bool) {
	ctx, cancel := context.WithTimeout(parent, joinTimeout)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		return protocol.JoinRoomPayload{}, false
	}

	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type != protocol.TypeJoinRoom {
		return protocol.JoinRoomPayload{}, false
	}

	var join protocol.JoinRoomPayload
	if err := json.Unmarshal(env.Payload, &join); err != nil {
		return protocol.JoinRoomPayload{}, false
	}
	return join, true
}

func writeError(ctx context.Context, conn *websocket.Conn, text string) {
	env := protocol.Raw(protocol.TypeError, protocol.ErrorPayload{Message: text})
	data, _ := json.Marshal(env)
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_ = conn.Write(wctx, websocket.MessageText, data)
}

package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/dtymkiv/patty/internal/game"
	"github.com/dtymkiv/patty/internal/hub"
)

type createRoomRequest struct {
	Name     string `json:"name"`
	GameType string `json:"game_type"`

	// Optional: reclaim a previous room code to restore its saved session.
	Code string `json:"code,omitempty"`
}

type createRoomResponse struct {
	Code      string `json:"code"`
	HostToken string `json:"host_token"`
}

// CreateRoom allocates a room and returns its join code plus the host token
// the creator presents over the websocket to claim host authority.
func CreateRoom(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createRoomRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}

		gt, ok := game.ParseType(req.GameType)
		if !ok {
			http.Error(w, "unknown game_type", http.StatusBadRequest)
			return
		}

		reply := make(chan hub.CreateResult, 1)
		h.Inbox() <- hub.CreateRoom{Name: req.Name, GameType: gt, Code: req.Code, Reply: reply}
		res := <-reply
		if res.Room == nil {
			http.Error(w, "failed to create room", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(createRoomResponse{
			Code:      res.Room.Code,
			HostToken: res.HostToken,
		})
	}
}

func ListRooms(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reply := make(chan []hub.RoomInfo, 1)
		h.Inbox() <- hub.ListRooms{Reply: reply}
		infos := <-reply

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(infos)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

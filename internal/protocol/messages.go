package protocol

import (
	"encoding/json"

	"github.com/dtymkiv/patty/internal/game"
)

// Envelope is the wire format for every relayed message. Target and
// NestedType are set only on TARGETED_MESSAGE frames.
type Envelope struct {
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Target     string          `json:"target,omitempty"`
	NestedType string          `json:"nested_type,omitempty"`
}

// Common message types.
const (
	TypeJoinRoom           = "JOIN_ROOM"
	TypeJoinSuccess        = "JOIN_SUCCESS"
	TypePlayerJoined       = "PLAYER_JOINED"
	TypePlayerLeft         = "PLAYER_LEFT"
	TypePlayerDisconnected = "PLAYER_DISCONNECTED"
	TypePlayerReconnected  = "PLAYER_RECONNECTED"
	TypeChat               = "CHAT"
	TypeToggleReady        = "TOGGLE_READY"
	TypeConfigUpdate       = "CONFIG_UPDATE"
	TypeGameStateUpdate    = "GAME_STATE_UPDATE"
	TypeError              = "ERROR"
	TypeRoomClosed         = "ROOM_CLOSED"
	TypeLeaveRoom          = "LEAVE_ROOM"
	TypeLeftRoom           = "LEFT_ROOM"
	TypeCloseRoom          = "CLOSE_ROOM"
	TypeTargetedMessage    = "TARGETED_MESSAGE"
	TypeResetToLobby       = "RESET_TO_LOBBY"
)

// Alligator message types.
const (
	TypeStartGame           = "START_GAME"
	TypeStartActiveRound    = "START_ACTIVE_ROUND"
	TypeDrawStroke          = "DRAW_STROKE"
	TypeUndoStroke          = "UNDO_STROKE"
	TypeClearCanvas         = "CLEAR_CANVAS"
	TypeStrokeHistoryUpdate = "STROKE_HISTORY_UPDATE"
	TypeDrawerSecret        = "DRAWER_SECRET"
)

// Telephone message types.
const (
	TypeTextSubmission      = "TEXT_SUBMISSION"
	TypeGuessSubmission     = "GUESS_SUBMISSION"
	TypeTelephoneDrawStroke = "TELEPHONE_DRAW_STROKE"
	TypeTelephoneClear      = "TELEPHONE_CLEAR"
	TypeTelephoneUndo       = "TELEPHONE_UNDO"
	TypeTelephoneStrokeSync = "TELEPHONE_STROKE_SYNC"
	TypeRequestAssignment   = "REQUEST_ASSIGNMENT"
	TypeNextResultStep      = "NEXT_RESULT_STEP"
	TypeDrawAssignment      = "DRAW_ASSIGNMENT"
	TypeGuessAssignment     = "GUESS_ASSIGNMENT"
)

type JoinRoomPayload struct {
	RoomCode  string `json:"room_code"`
	Nickname  string `json:"nickname"`
	HostToken string `json:"host_token,omitempty"`
}

type PlayerRef struct {
	Nickname string `json:"nickname"`
	IsHost   bool   `json:"is_host"`
}

type JoinSuccessPayload struct {
	RoomCode  string      `json:"room_code"`
	Nickname  string      `json:"nickname"`
	IsHost    bool        `json:"is_host"`
	HostToken string      `json:"host_token,omitempty"`
	Players   []PlayerRef `json:"players"`
}

type ChatPayload struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
	Color  string `json:"color,omitempty"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type StrokeHistoryPayload struct {
	History []game.Stroke `json:"history"`
}

type DrawerSecretPayload struct {
	Word string `json:"word"`
}

type TextSubmissionPayload struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

type GuessSubmissionPayload struct {
	Sender string `json:"sender"`
	Guess  string `json:"guess"`
}

type TelephoneStrokePayload struct {
	Sender string      `json:"sender"`
	Stroke game.Stroke `json:"stroke"`
}

type TelephoneSenderPayload struct {
	Sender string `json:"sender"`
}

type TelephoneSyncPayload struct {
	Sender  string        `json:"sender"`
	History []game.Stroke `json:"history"`
}

// Raw builds an Envelope with a marshaled payload. Marshal failures cannot
// happen for the payload structs above, so they are swallowed the same way
// the relay swallows them.
func Raw(msgType string, payload any) Envelope {
	data, _ := json.Marshal(payload)
	return Envelope{Type: msgType, Payload: data}
}

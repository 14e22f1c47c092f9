package game

import "time"

// Type discriminates which authoritative state machine a room runs.
type Type string

const (
	TypeAlligator Type = "alligator"
	TypeTelephone Type = "telephone"
)

// ParseType maps a wire/game_type string to a Type.
func ParseType(s string) (Type, bool) {
	switch s {
	case string(TypeAlligator), "":
		return TypeAlligator, true
	case string(TypeTelephone):
		return TypeTelephone, true
	default:
		return "", false
	}
}

// Sender is the transport contract a Host broadcasts through. Broadcast
// reaches every room member; SendTo reaches exactly one nickname (used for
// secret payloads: the word to draw, chain assignments).
type Sender interface {
	Broadcast(msgType string, payload any)
	SendTo(nickname, msgType string, payload any)
}

// Timer is a single-shot phase-expiry timer owned by the room actor. Arming
// replaces any pending fire; a fire is delivered back to the Host via Tick.
type Timer interface {
	Arm(d time.Duration)
	Stop()
	Running() bool
}

// Stroke is one line segment of a pen gesture, in normalized 0..1 canvas
// coordinates. ActionID groups every segment of a continuous
// pointer-down-to-up gesture so undo can revert the whole gesture.
type Stroke struct {
	X1       float64 `json:"x1"`
	Y1       float64 `json:"y1"`
	X2       float64 `json:"x2"`
	Y2       float64 `json:"y2"`
	Color    string  `json:"color,omitempty"`
	ActionID string  `json:"actionId,omitempty"`
	IsEraser bool    `json:"isEraser,omitempty"`
}

// Host is the authoritative game-state machine for one room. Exactly one Host
// exists per room and it is only ever touched from the room actor goroutine,
// so implementations need no locking.
type Host interface {
	Type() Type

	// Phase is the current phase name, used by the relay layer to gate
	// mid-game joins.
	Phase() string

	// Apply dispatches one relayed client action. Actions that arrive in the
	// wrong phase are silently ignored (expected races between delivery and
	// phase transitions).
	Apply(sender string, msgType string, payload []byte)

	// Tick re-validates the current phase deadline and performs the expiry
	// transition at most once. Safe to call spuriously.
	Tick(now time.Time)

	// PlayerConnected / PlayerDisconnected track connectivity without
	// removing the player, so score and position survive a reconnect.
	PlayerConnected(nickname string, isHost bool)
	PlayerDisconnected(nickname string)

	// RemovePlayer drops a player that intentionally left the room.
	RemovePlayer(nickname string)

	// BroadcastState pushes the censored state snapshot to the room and any
	// targeted secrets to their holders.
	BroadcastState()

	// Save persists a snapshot; Restore loads one previously saved for this
	// room, returning false when none exists.
	Save()
	Restore() bool
}

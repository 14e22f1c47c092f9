// Package snapshot persists host-state snapshots keyed by room and game
// type, so the authoritative state machine survives a server restart the way
// the host client survives a reload.
package snapshot

import "fmt"

// Store is a keyed blob store with get/set/remove semantics. Load returns
// (nil, nil) when no snapshot exists for the key.
type Store interface {
	Save(key string, data []byte) error
	Load(key string) ([]byte, error)
	Delete(key string) error
}

// Key builds the per-room, per-game-type snapshot key.
func Key(gameType, roomCode string) string {
	return fmt.Sprintf("%s_state_%s", gameType, roomCode)
}

// Memory is an in-process Store for tests and single-run servers.
type Memory struct {
	items map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{items: make(map[string][]byte)}
}

func (m *Memory) Save(key string, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	m.items[key] = cp
	return nil
}

func (m *Memory) Load(key string) ([]byte, error) {
	data, ok := m.items[key]
	if !ok {
		return nil, nil
	}
	return data, nil
}

func (m *Memory) Delete(key string) error {
	delete(m.items, key)
	return nil
}

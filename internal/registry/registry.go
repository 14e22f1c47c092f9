// Package registry tracks the participants of a room: connectivity, roles,
// scores and a stable color assignment. Both game hosts share one registry.
// Mutating the registry never broadcasts anything; callers decide when the
// room hears about a change.
package registry

import (
	"fmt"
	"math/rand"
	"sort"
)

// palette is assigned first-unused; once exhausted a random color is used.
var palette = []string{
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#FFA07A", "#98D8C8",
	"#F7DC6F", "#BB8FCE", "#85C1E2", "#F8B739", "#52BE80",
	"#E74C3C", "#3498DB", "#9B59B6", "#1ABC9C", "#F39C12",
	"#E67E22", "#34495E", "#16A085", "#27AE60", "#2980B9",
}

const fallbackColor = "#ea5128"

type Player struct {
	Nickname  string `json:"nickname"`
	Connected bool   `json:"connected"`
	Score     int    `json:"score"`
	IsReady   bool   `json:"is_ready"`
	IsHost    bool   `json:"is_host"`
	Color     string `json:"color"`
	ClientID  string `json:"clientId"`
}

type Registry struct {
	players    map[string]*Player
	usedColors map[string]bool
	rng        *rand.Rand
}

func New(rng *rand.Rand) *Registry {
	return &Registry{
		players:    make(map[string]*Player),
		usedColors: make(map[string]bool),
		rng:        rng,
	}
}

// AddPlayer registers a newcomer and assigns a color. No-op if the nickname
// is already present (a reconnect goes through SetConnected instead).
func (r *Registry) AddPlayer(nickname string, isHost bool) {
	if _, ok := r.players[nickname]; ok {
		return
	}
	r.players[nickname] = &Player{
		Nickname:  nickname,
		Connected: true,
		IsHost:    isHost,
		ClientID:  nickname,
	}
	r.assignColor(nickname)
}

// RemovePlayer drops a player entirely and returns their color to the pool.
func (r *Registry) RemovePlayer(nickname string) {
	p, ok := r.players[nickname]
	if !ok {
		return
	}
	r.releaseColor(p.Color)
	delete(r.players, nickname)
}

func (r *Registry) Get(nickname string) (*Player, bool) {
	p, ok := r.players[nickname]
	return p, ok
}

func (r *Registry) SetConnected(nickname string, connected bool) {
	if p, ok := r.players[nickname]; ok {
		p.Connected = connected
	}
}

func (r *Registry) ToggleReady(nickname string) bool {
	p, ok := r.players[nickname]
	if !ok {
		return false
	}
	p.IsReady = !p.IsReady
	return true
}

// ResetScores zeroes every score, as happens at game (re)start.
func (r *Registry) ResetScores() {
	for _, p := range r.players {
		p.Score = 0
	}
}

// ResetReady clears every ready flag, as happens when returning to the lobby.
func (r *Registry) ResetReady() {
	for _, p := range r.players {
		p.IsReady = false
	}
}

func (r *Registry) AddScore(nickname string, points int) {
	if p, ok := r.players[nickname]; ok {
		p.Score += points
	}
}

func (r *Registry) Len() int { return len(r.players) }

// Nicknames returns every registered nickname in stable (sorted) order.
func (r *Registry) Nicknames() []string {
	out := make([]string, 0, len(r.players))
	for nick := range r.players {
		out = append(out, nick)
	}
	sort.Strings(out)
	return out
}

// Eligible returns the nicknames that count for turn queues, guesser totals
// and minimum-player checks: connected, and not a spectator-role host.
func (r *Registry) Eligible(hostIsSpectator bool) []string {
	out := []string{}
	for _, nick := range r.Nicknames() {
		p := r.players[nick]
		if !p.Connected {
			continue
		}
		if p.IsHost && hostIsSpectator {
			continue
		}
		out = append(out, nick)
	}
	return out
}

// Scores returns a nickname→score copy for broadcast payloads.
func (r *Registry) Scores() map[string]int {
	out := make(map[string]int, len(r.players))
	for nick, p := range r.players {
		out[nick] = p.Score
	}
	return out
}

// Snapshot returns owned copies of every player, keyed by nickname, for
// persistence.
func (r *Registry) Snapshot() map[string]Player {
	out := make(map[string]Player, len(r.players))
	for nick, p := range r.players {
		out[nick] = *p
	}
	return out
}

// Load replaces the registry contents from a persisted snapshot and rebuilds
// the used-color set.
func (r *Registry) Load(players map[string]Player) {
	r.players = make(map[string]*Player, len(players))
	r.usedColors = make(map[string]bool)
	for nick, p := range players {
		cp := p
		cp.Nickname = nick
		r.players[nick] = &cp
		if cp.Color != "" && paletteHas(cp.Color) {
			r.usedColors[cp.Color] = true
		}
	}
}

// Color returns a player's color, or the fallback for unknown nicknames.
func (r *Registry) Color(nickname string) string {
	if p, ok := r.players[nickname]; ok && p.Color != "" {
		return p.Color
	}
	return fallbackColor
}

func (r *Registry) assignColor(nickname string) string {
	p := r.players[nickname]
	if p.Color != "" {
		return p.Color
	}
	for _, c := range palette {
		if !r.usedColors[c] {
			r.usedColors[c] = true
			p.Color = c
			return c
		}
	}
	p.Color = fmt.Sprintf("#%06x", r.rng.Intn(0x1000000))
	return p.Color
}

func (r *Registry) releaseColor(color string) {
	if paletteHas(color) {
		delete(r.usedColors, color)
	}
}

func paletteHas(color string) bool {
	for _, c := range palette {
		if c == color {
			return true
		}
	}
	return false
}

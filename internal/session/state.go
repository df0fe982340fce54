package session

import (
	"fmt"
	"time"

	"github.com/yegors/afkfleet/internal/game"
)

// Config identifies one slot
type Config struct {
	Slot     int
	Identity string
	Auth     string
	// Protection overrides Policy.Protection.Enabled for this slot when set
	Protection *bool
}

// Stats are the counters accumulated over a slot's lifetime
type Stats struct {
	ConnectedSince  time.Time     `json:"connected_since"`
	Uptime          time.Duration `json:"uptime"`
	Reconnects      int           `json:"reconnects"`
	AlertsTriggered int           `json:"alerts_triggered"`
	BlocksCleared   int           `json:"blocks_cleared"`
	LobbyEvents     int           `json:"lobby_events"`
	LastDisconnect  time.Time     `json:"last_disconnect"`
}

// Status is a point-in-time view of a slot
type Status struct {
	Slot              int        `json:"slot"`
	Identity          string     `json:"identity"`
	Phase             Phase      `json:"phase"`
	Paused            bool       `json:"paused"`
	ReconnectAttempts int        `json:"reconnect_attempts"`
	InLobby           bool       `json:"in_lobby"`
	ProtectionEnabled bool       `json:"protection_enabled"`
	VitalLevel        *int       `json:"vital_level,omitempty"`
	Position          *game.Vec3 `json:"position,omitempty"`
}

// Result is the outcome of an operator command
type Result struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

func ok(format string, args ...any) Result {
	return Result{OK: true, Message: fmt.Sprintf(format, args...)}
}

func fail(format string, args ...any) Result {
	return Result{OK: false, Message: fmt.Sprintf(format, args...)}
}

// OverrideStore persists per-slot overrides changed at runtime
type OverrideStore interface {
	SetProtection(slot int, enabled bool) error
}

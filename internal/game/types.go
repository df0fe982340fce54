// Package game defines the boundary to the game session client: world types,
// lifecycle events and the Client/Dialer interfaces the supervisors consume.
package game

import (
	"errors"
	"math"
)

var (
	// ErrNotConnected is returned by actions issued without a live connection
	ErrNotConnected = errors.New("game: not connected")
	// ErrNoItem is returned when an action references an item not in the inventory
	ErrNoItem = errors.New("game: item not in inventory")
)

// Vec3 is a world position
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// DistanceTo returns the euclidean distance between two positions
func (v Vec3) DistanceTo(o Vec3) float64 {
	dx, dy, dz := v.X-o.X, v.Y-o.Y, v.Z-o.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Add returns v offset by o
func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

// Item is one inventory stack
type Item struct {
	Name           string `json:"name"`
	Count          int    `json:"count"`
	Slot           int    `json:"slot"`
	DurabilityUsed int    `json:"durability_used,omitempty"`
	MaxDurability  int    `json:"max_durability,omitempty"`
}

// EntityKindPlayer marks entities controlled by another participant
const EntityKindPlayer = "player"

// Entity is a nearby live entity
type Entity struct {
	ID       int    `json:"id"`
	Kind     string `json:"kind"`
	Username string `json:"username,omitempty"`
	Position Vec3   `json:"position"`
}

// IsPlayer reports whether the entity is another controllable actor
func (e Entity) IsPlayer() bool {
	return e.Kind == EntityKindPlayer && e.Username != ""
}

// Block is a located world block
type Block struct {
	Name     string `json:"name"`
	Position Vec3   `json:"position"`
}

// Hand selects where an item is equipped
type Hand string

const (
	HandMain Hand = "hand"
	HandOff  Hand = "off-hand"
)

// Movement and posture control names accepted by SetControlState
const (
	ControlForward = "forward"
	ControlBack    = "back"
	ControlLeft    = "left"
	ControlRight   = "right"
	ControlJump    = "jump"
	ControlSneak   = "sneak"
)

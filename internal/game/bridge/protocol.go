package bridge

import (
	"encoding/json"

	"github.com/yegors/afkfleet/internal/game"
)

// Operations sent to the bridge
const (
	opConnect    = "connect"
	opControl    = "control"
	opEquip      = "equip"
	opConsume    = "consume"
	opChat       = "chat"
	opLook       = "look"
	opFindBlocks = "find_blocks"
	opDig        = "dig"
	opToss       = "toss"
)

// Frame types pushed by the bridge
const (
	frameResponse = "response"
	frameEvent    = "event"
	frameState    = "state"
)

// Lifecycle event names carried in event frames
const (
	eventLogin  = "login"
	eventSpawn  = "spawn"
	eventKicked = "kicked"
	eventError  = "error"
	eventChat   = "chat"
	eventEnd    = "end"
)

type request struct {
	Seq  uint64 `json:"seq"`
	Op   string `json:"op"`
	Args any    `json:"args,omitempty"`
}

// inbound is the union of every frame the bridge sends
type inbound struct {
	Type string `json:"type"`

	// response
	Seq    uint64          `json:"seq,omitempty"`
	OK     bool            `json:"ok,omitempty"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`

	// event
	Event    string     `json:"event,omitempty"`
	Reason   string     `json:"reason,omitempty"`
	Text     string     `json:"text,omitempty"`
	Position *game.Vec3 `json:"position,omitempty"`

	// state
	State *snapshot `json:"state,omitempty"`
}

// snapshot is the cached world view backing the non-blocking accessors
type snapshot struct {
	Username  string        `json:"username"`
	Food      int           `json:"food"`
	Health    float64       `json:"health"`
	Position  game.Vec3     `json:"position"`
	Inventory []game.Item   `json:"inventory"`
	Entities  []game.Entity `json:"entities"`
}

type connectArgs struct {
	Username string `json:"username"`
	Auth     string `json:"auth,omitempty"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Version  string `json:"version,omitempty"`
}

type controlArgs struct {
	Control string `json:"control"`
	State   bool   `json:"state"`
}

type equipArgs struct {
	Slot int       `json:"slot"`
	Name string    `json:"name"`
	Hand game.Hand `json:"hand"`
}

type chatArgs struct {
	Text string `json:"text"`
}

type positionArgs struct {
	Position game.Vec3 `json:"position"`
}

type findBlocksArgs struct {
	Names       []string `json:"names"`
	MaxDistance float64  `json:"max_distance"`
	Limit       int      `json:"limit"`
}

type findBlocksResult struct {
	Blocks []game.Block `json:"blocks"`
}

type tossArgs struct {
	Slot  int    `json:"slot"`
	Name  string `json:"name"`
	Count int    `json:"count"`
}

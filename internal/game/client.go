package game

import "context"

// Client is one live game connection. Accessors return cached state and never
// block; actions may suspend and can fail at any time.
type Client interface {
	Username() string
	Food() int
	Health() float64
	Position() Vec3
	Inventory() []Item
	Entities() []Entity

	SetControlState(ctx context.Context, control string, state bool) error
	Equip(ctx context.Context, item Item, hand Hand) error
	Consume(ctx context.Context) error
	Chat(ctx context.Context, text string) error
	LookAt(ctx context.Context, pos Vec3) error
	FindBlocks(ctx context.Context, names []string, maxDistance float64, limit int) ([]Block, error)
	DigBlock(ctx context.Context, pos Vec3) error
	Toss(ctx context.Context, item Item, count int) error
	Disconnect(reason string)
}

// ConnectOptions identifies the account and server for a connection
type ConnectOptions struct {
	Identity string
	Auth     string
	Host     string
	Port     int
	Version  string
}

// Handler receives lifecycle events in emission order
type Handler func(Event)

// Dialer opens connections. Dial returns immediately; the outcome is reported
// through handler, which is never invoked before Dial returns. Every
// connection handed out ends with exactly one Disconnected event.
type Dialer interface {
	Dial(ctx context.Context, opts ConnectOptions, handler Handler) (Client, error)
}

// FreeSlots returns how many of total inventory slots hold no item
func FreeSlots(items []Item, total int) int {
	used := make(map[int]struct{}, len(items))
	for _, it := range items {
		if it.Count > 0 {
			used[it.Slot] = struct{}{}
		}
	}
	free := total - len(used)
	if free < 0 {
		return 0
	}
	return free
}

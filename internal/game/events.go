package game

import "fmt"

// EventKind tags a lifecycle event variant
type EventKind int

const (
	EventLogin EventKind = iota
	EventSpawn
	EventDisconnected
	EventKicked
	EventErrored
	EventChatLine
)

func (k EventKind) String() string {
	switch k {
	case EventLogin:
		return "login"
	case EventSpawn:
		return "spawn"
	case EventDisconnected:
		return "disconnected"
	case EventKicked:
		return "kicked"
	case EventErrored:
		return "errored"
	case EventChatLine:
		return "chat"
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event is one lifecycle notification from a connection
type Event interface {
	Kind() EventKind
}

// Login is emitted once the connection is authenticated
type Login struct{}

// Spawn is emitted on every spawn or respawn
type Spawn struct {
	Position Vec3
}

// Disconnected is the last event of every connection
type Disconnected struct {
	Reason string
}

// Kicked is emitted when the server removes the session; a Disconnected follows
type Kicked struct {
	Reason string
}

// Errored reports a connection level failure; a Disconnected follows
type Errored struct {
	Err error
}

// ChatLine is one incoming chat or system message
type ChatLine struct {
	Text string
}

func (Login) Kind() EventKind        { return EventLogin }
func (Spawn) Kind() EventKind        { return EventSpawn }
func (Disconnected) Kind() EventKind { return EventDisconnected }
func (Kicked) Kind() EventKind       { return EventKicked }
func (Errored) Kind() EventKind      { return EventErrored }
func (ChatLine) Kind() EventKind     { return EventChatLine }

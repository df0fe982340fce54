// Package notify carries per-slot lifecycle and safety notifications to
// operators without ever blocking the slot that produced them.
package notify

import (
	"fmt"
	"time"
)

// Kind classifies a notification
type Kind string

const (
	KindConnected    Kind = "connected"
	KindDisconnected Kind = "disconnected"
	KindKicked       Kind = "kicked"
	KindFailed       Kind = "failed"
	KindAlert        Kind = "alert"
	KindEmergency    Kind = "emergency"
	KindProtection   Kind = "protection"
	KindLobbyEnter   Kind = "lobby_enter"
	KindLobbyExit    Kind = "lobby_exit"
	KindSustain      Kind = "sustain"
)

// Notification is one operator-facing event for a slot
type Notification struct {
	ID       string    `json:"id"`
	Slot     int       `json:"slot"`
	Identity string    `json:"identity"`
	Kind     Kind      `json:"kind"`
	Message  string    `json:"message"`
	Time     time.Time `json:"time"`
}

func (n Notification) String() string {
	return fmt.Sprintf("[slot %d %s] %s: %s", n.Slot, n.Identity, n.Kind, n.Message)
}

// Notifier accepts notifications. Implementations must not block.
type Notifier interface {
	Notify(n Notification)
}

// Func adapts a function to Notifier
type Func func(n Notification)

func (f Func) Notify(n Notification) { f(n) }

// Discard drops every notification
var Discard Notifier = Func(func(Notification) {})

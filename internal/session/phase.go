package session

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned for phase changes outside the transition table
var ErrInvalidTransition = errors.New("session: invalid phase transition")

// Phase is the connection state of one slot
type Phase int

const (
	Offline Phase = iota
	Connecting
	Online
	Kicked
	Errored
	Failed
)

var phaseNames = map[Phase]string{
	Offline:    "offline",
	Connecting: "connecting",
	Online:     "online",
	Kicked:     "kicked",
	Errored:    "errored",
	Failed:     "failed",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(b []byte) error {
	for _, candidate := range Phases() {
		if candidate.String() == string(b) {
			*p = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", b)
}

// Phases lists every phase in declaration order
func Phases() []Phase {
	return []Phase{Offline, Connecting, Online, Kicked, Errored, Failed}
}

// transitions is the full edge set. Stop bypasses it and forces Offline.
var transitions = map[Phase][]Phase{
	Offline:    {Connecting, Failed},
	Connecting: {Online, Offline, Kicked, Errored},
	Online:     {Offline, Kicked, Errored},
	Kicked:     {Offline, Connecting, Failed},
	Errored:    {Offline, Connecting, Failed},
	Failed:     {Connecting, Offline},
}

// CanTransition reports whether from -> to is an allowed edge
func CanTransition(from, to Phase) bool {
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

func transition(from, to Phase) (Phase, error) {
	if !CanTransition(from, to) {
		return from, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return to, nil
}

package session

import (
	"context"
	"strings"

	"github.com/yegors/afkfleet/internal/game"
	"github.com/yegors/afkfleet/pkg/logger"
)

var moveControls = map[string]string{
	"forward":  game.ControlForward,
	"back":     game.ControlBack,
	"backward": game.ControlBack,
	"left":     game.ControlLeft,
	"right":    game.ControlRight,
}

// ToggleProtection flips protection, or sets it when explicit is non-nil,
// and persists the override
func (s *Supervisor) ToggleProtection(explicit *bool) Result {
	s.mu.Lock()
	enabled := !s.protectionEnabled
	if explicit != nil {
		enabled = *explicit
	}
	s.protectionEnabled = enabled
	s.mu.Unlock()

	state := "disabled"
	if enabled {
		state = "enabled"
	}
	s.logger.Info("Protection toggled", logger.Bool("enabled", enabled))
	if s.overrides != nil {
		if err := s.overrides.SetProtection(s.cfg.Slot, enabled); err != nil {
			s.logger.Error("Failed to persist protection override", logger.Error(err))
			return ok("slot %d protection %s (not saved: %v)", s.cfg.Slot, state, err)
		}
	}
	return ok("slot %d protection %s", s.cfg.Slot, state)
}

// ProtectionEnabled reports the current protection setting
func (s *Supervisor) ProtectionEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.protectionEnabled
}

// SendChat sends a chat line or command as the slot
func (s *Supervisor) SendChat(text string) Result {
	text = strings.TrimSpace(text)
	if text == "" {
		return fail("nothing to say")
	}
	client, ctx, _, live := s.online()
	if !live {
		return fail("slot %d is not online", s.cfg.Slot)
	}
	ctx, cancel := context.WithTimeout(ctx, s.policy.Protection.ActionTimeout)
	defer cancel()
	if err := client.Chat(ctx, text); err != nil {
		return fail("slot %d failed to send chat: %v", s.cfg.Slot, err)
	}
	return ok("slot %d said %q", s.cfg.Slot, text)
}

// Move holds a movement control until the slot has travelled distance
// blocks or the move timeout elapses
func (s *Supervisor) Move(direction string, distance float64) Result {
	control, known := moveControls[strings.ToLower(direction)]
	if !known {
		return fail("unknown direction %q (forward, back, left, right)", direction)
	}
	limit := s.policy.Move.MaxDistance
	if distance <= 0 || distance > limit {
		return fail("distance must be between 0 and %g blocks", limit)
	}
	client, ctx, gen, live := s.online()
	if !live {
		return fail("slot %d is not online", s.cfg.Slot)
	}

	start := client.Position()
	if err := client.SetControlState(ctx, control, true); err != nil {
		return fail("slot %d failed to move: %v", s.cfg.Slot, err)
	}
	moved, reached := s.waitForDisplacement(ctx, client, start, distance)
	if err := client.SetControlState(context.WithoutCancel(ctx), control, false); err != nil {
		s.logger.Debug("Failed to release movement", logger.Error(err))
	}

	s.mu.Lock()
	if s.gen == gen && !s.inLobby {
		s.lastKnown, s.hasLastKnown = client.Position(), true
	}
	s.mu.Unlock()

	if !reached {
		return fail("slot %d moved %.1f of %.1f blocks %s before stopping", s.cfg.Slot, moved, distance, direction)
	}
	return ok("slot %d moved %.1f blocks %s", s.cfg.Slot, moved, direction)
}

func (s *Supervisor) waitForDisplacement(ctx context.Context, client game.Client, start game.Vec3, distance float64) (float64, bool) {
	deadline := s.clock.After(s.policy.Move.Timeout)
	for {
		moved := client.Position().DistanceTo(start)
		if moved >= distance {
			return moved, true
		}
		select {
		case <-ctx.Done():
			return moved, false
		case <-deadline:
			return client.Position().DistanceTo(start), false
		case <-s.clock.After(s.policy.Move.PollInterval):
		}
	}
}

// DropItem tosses up to count of the named item, or everything for "all".
// count <= 0 drops every matching stack.
func (s *Supervisor) DropItem(name string, count int) Result {
	name = strings.TrimSpace(name)
	if name == "" {
		return fail("item name required")
	}
	client, ctx, _, live := s.online()
	if !live {
		return fail("slot %d is not online", s.cfg.Slot)
	}

	all := strings.EqualFold(name, "all")
	var stacks []game.Item
	for _, it := range client.Inventory() {
		if it.Count > 0 && (all || strings.EqualFold(it.Name, name)) {
			stacks = append(stacks, it)
		}
	}
	if len(stacks) == 0 {
		if all {
			return fail("slot %d has an empty inventory", s.cfg.Slot)
		}
		return fail("slot %d has no %s", s.cfg.Slot, name)
	}

	limited := !all && count > 0
	remaining := count
	dropped := 0
	for _, it := range stacks {
		n := it.Count
		if limited {
			n = min(n, remaining)
		}
		actx, cancel := context.WithTimeout(ctx, s.policy.Protection.ActionTimeout)
		err := client.Toss(actx, it, n)
		cancel()
		if err != nil {
			return fail("slot %d dropped %d before failing: %v", s.cfg.Slot, dropped, err)
		}
		dropped += n
		remaining -= n
		if limited && remaining <= 0 {
			break
		}
	}
	return ok("slot %d dropped %d %s", s.cfg.Slot, dropped, name)
}

// Status returns a snapshot of the slot
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Slot:              s.cfg.Slot,
		Identity:          s.cfg.Identity,
		Phase:             s.phase,
		Paused:            s.paused,
		ReconnectAttempts: s.reconnectAttempts,
		InLobby:           s.inLobby,
		ProtectionEnabled: s.protectionEnabled,
	}
	if s.phase == Online && s.client != nil {
		food := s.client.Food()
		pos := s.client.Position()
		st.VitalLevel, st.Position = &food, &pos
	}
	return st
}

// Stats returns the slot counters with uptime including the live connection
func (s *Supervisor) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	if !st.ConnectedSince.IsZero() {
		st.Uptime += s.clock.Now().Sub(st.ConnectedSince)
	}
	return st
}

// RestoreStats seeds the counters from a persisted snapshot
func (s *Supervisor) RestoreStats(st Stats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st.ConnectedSince = s.stats.ConnectedSince
	s.stats = st
}

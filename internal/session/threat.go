package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/yegors/afkfleet/internal/game"
	"github.com/yegors/afkfleet/internal/notify"
	"github.com/yegors/afkfleet/pkg/logger"
)

// threat is one non-whitelisted player near the slot
type threat struct {
	name     string
	distance float64
}

// scanThreats returns nearby players other than self and the whitelist.
// It reads only the immutable policy, so it is safe without mu.
func (s *Supervisor) scanThreats(client game.Client) []threat {
	self := strings.ToLower(client.Username())
	identity := strings.ToLower(s.cfg.Identity)
	pos := client.Position()

	var out []threat
	for _, e := range client.Entities() {
		if !e.IsPlayer() {
			continue
		}
		name := strings.ToLower(e.Username)
		if name == self || name == identity || s.policy.isWhitelisted(name) {
			continue
		}
		out = append(out, threat{name: e.Username, distance: pos.DistanceTo(e.Position)})
	}
	return out
}

// nearestEmergency returns the first threat inside the emergency distance
func (s *Supervisor) nearestEmergency(threats []threat) (threat, bool) {
	for _, t := range threats {
		if t.distance <= s.policy.Threat.EmergencyDistance {
			return t, true
		}
	}
	return threat{}, false
}

func (s *Supervisor) threatTickLocked() {
	if s.phase != Online || s.client == nil || s.inLobby {
		return
	}
	s.arm(&s.threat, s.policy.Threat.ScanInterval, s.threatTickLocked)
	if s.paused {
		return
	}

	threats := s.scanThreats(s.client)
	if t, found := s.nearestEmergency(threats); found {
		s.emergencyLocked(t)
		return
	}

	now := s.clock.Now()
	s.pruneCooldownsLocked(now)
	for _, t := range threats {
		if t.distance > s.policy.Threat.AlertDistance {
			continue
		}
		key := strings.ToLower(t.name)
		if _, cooling := s.cooldowns[key]; cooling {
			continue
		}
		s.cooldowns[key] = now
		s.stats.AlertsTriggered++
		s.logger.Warn("Player nearby", logger.String("player", t.name), logger.Float64("distance", t.distance))
		if s.protectionEnabled {
			s.triggerProtectionLocked()
		}
		s.alertBurstLocked(fmt.Sprintf("%s is %.0f blocks away", t.name, t.distance))
	}
}

// emergencyLocked disconnects the slot. It ignores protectionEnabled.
func (s *Supervisor) emergencyLocked(t threat) {
	msg := fmt.Sprintf("%s is %.0f blocks away, disconnecting", t.name, t.distance)
	s.logger.Warn("Emergency disconnect", logger.String("player", t.name), logger.Float64("distance", t.distance))
	s.notifyLocked(notify.KindEmergency, msg)
	s.stopLocked("emergency: " + t.name + " too close")
}

// pruneCooldownsLocked drops entries whose cooldown has elapsed. An expired
// entry no longer suppresses anything, so removing it keeps the map bounded
// by the players seen within one cooldown window.
func (s *Supervisor) pruneCooldownsLocked(now time.Time) {
	for name, at := range s.cooldowns {
		if now.Sub(at) >= s.policy.Threat.AlertCooldown {
			delete(s.cooldowns, name)
		}
	}
}

// alertBurstLocked sends the first alert now and the rest at the burst
// interval. Pending alerts are dropped once the connection changes.
func (s *Supervisor) alertBurstLocked(msg string) {
	s.notifyLocked(notify.KindAlert, msg)
	gen := s.gen
	for i := 1; i < s.policy.Threat.BurstCount; i++ {
		s.clock.AfterFunc(time.Duration(i)*s.policy.Threat.BurstInterval, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.gen != gen || s.removed {
				return
			}
			s.notifyLocked(notify.KindAlert, msg)
		})
	}
}

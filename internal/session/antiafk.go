package session

import "github.com/yegors/afkfleet/pkg/logger"

// antiAFKTickLocked pulses the configured control once per interval
func (s *Supervisor) antiAFKTickLocked() {
	if s.phase != Online || s.client == nil || s.inLobby {
		return
	}
	s.arm(&s.antiAFK, s.policy.AntiAFK.Interval, s.antiAFKTickLocked)
	if s.paused || s.sustainBusy {
		return
	}

	client, ctx := s.client, s.connCtx
	control := s.policy.AntiAFK.Control
	s.mu.Unlock()
	err := client.SetControlState(ctx, control, true)
	if err == nil {
		err = client.SetControlState(ctx, control, false)
	}
	s.mu.Lock()

	if err != nil {
		s.logger.Debug("Activity pulse failed", logger.Error(err))
	}
}

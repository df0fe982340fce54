package session

import (
	"fmt"

	"github.com/yegors/afkfleet/internal/game"
	"github.com/yegors/afkfleet/internal/notify"
	"github.com/yegors/afkfleet/pkg/logger"
)

func (s *Supervisor) onSpawnLocked(pos game.Vec3) {
	if s.phase != Online || s.client == nil {
		return
	}
	s.evaluatePositionLocked(pos)
}

// onChatLocked checks the position shortly after a teleport notice
func (s *Supervisor) onChatLocked(text string) {
	if s.phase != Online || s.client == nil || !s.policy.Lobby.Enabled {
		return
	}
	if !s.policy.isTeleportNotice(text) {
		return
	}
	s.logger.Debug("Teleport notice", logger.String("text", text))
	if d := s.policy.Lobby.ChatCheckDelay; d > 0 {
		s.arm(&s.chatCheck, d, s.checkPositionLocked)
		return
	}
	s.checkPositionLocked()
}

func (s *Supervisor) checkPositionLocked() {
	if s.phase != Online || s.client == nil {
		return
	}
	s.evaluatePositionLocked(s.client.Position())
}

// evaluatePositionLocked compares pos with the last home position and enters
// or leaves lobby mode. Home only moves while not in lobby mode.
func (s *Supervisor) evaluatePositionLocked(pos game.Vec3) {
	if !s.hasLastKnown {
		s.lastKnown, s.hasLastKnown = pos, true
		return
	}
	lp := s.policy.Lobby
	d := pos.DistanceTo(s.lastKnown)

	if s.inLobby {
		if d <= lp.RecoveryThreshold {
			s.exitLobbyLocked(d)
		}
		return
	}
	if lp.Enabled && d > lp.DisplacementThreshold {
		s.enterLobbyLocked(d)
		return
	}
	s.lastKnown = pos
}

func (s *Supervisor) enterLobbyLocked(distance float64) {
	s.inLobby = true
	s.stats.LobbyEvents++
	s.antiAFK.cancel()
	s.threat.cancel()
	s.logger.Warn("Entered lobby", logger.Float64("displacement", distance))
	s.notifyLocked(notify.KindLobbyEnter, fmt.Sprintf("moved %.0f blocks from home, sending %q", distance, s.policy.Lobby.ReturnCommand))
	s.arm(&s.lobby, s.policy.Lobby.Grace, s.lobbyReturnTickLocked)
}

func (s *Supervisor) exitLobbyLocked(distance float64) {
	s.inLobby = false
	s.lobby.cancel()
	s.logger.Info("Back home", logger.Float64("distance", distance))
	s.notifyLocked(notify.KindLobbyExit, fmt.Sprintf("back within %.0f blocks of home", distance))
	s.armActivityLocked()
}

// lobbyReturnTickLocked sends the return command and re-arms until home
func (s *Supervisor) lobbyReturnTickLocked() {
	if !s.inLobby || s.phase != Online || s.client == nil {
		return
	}
	s.arm(&s.lobby, s.policy.Lobby.RetryInterval, s.lobbyReturnTickLocked)

	client, ctx := s.client, s.connCtx
	cmd := s.policy.Lobby.ReturnCommand
	s.mu.Unlock()
	err := client.Chat(ctx, cmd)
	s.mu.Lock()

	if err != nil {
		s.logger.Warn("Failed to send return command", logger.Error(err))
	}
}

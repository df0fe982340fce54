// Package session implements the per-slot supervisor: the connection state
// machine and the loops it runs while a slot is online.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yegors/afkfleet/internal/clock"
	"github.com/yegors/afkfleet/internal/game"
	"github.com/yegors/afkfleet/internal/notify"
	"github.com/yegors/afkfleet/pkg/logger"
)

// Deps are the collaborators a Supervisor talks to
type Deps struct {
	Dialer    game.Dialer
	Clock     clock.Clock     // defaults to the real clock
	Notifier  notify.Notifier // defaults to notify.Discard
	Overrides OverrideStore   // optional
}

// loop is one slot-owned scheduled task. Cancelling bumps the epoch so a
// callback that already fired but has not yet taken the lock becomes a no-op.
type loop struct {
	timer *clock.Timer
	epoch uint64
}

func (l *loop) cancel() {
	l.epoch++
	l.timer.Stop()
	l.timer = nil
}

func (l *loop) armed() bool { return l.timer != nil }

// Supervisor owns one slot. All state is guarded by mu; event handlers and
// timer callbacks take it, so they are serialized per slot.
type Supervisor struct {
	cfg       Config
	policy    *snapshot
	dialer    game.Dialer
	clock     clock.Clock
	notifier  notify.Notifier
	overrides OverrideStore
	logger    *logger.Logger

	mu                sync.Mutex
	phase             Phase
	paused            bool
	manuallyStopped   bool
	removed           bool
	pendingReconnect  bool
	reconnectAttempts int
	delayOverride     time.Duration
	inLobby           bool
	lastKnown         game.Vec3
	hasLastKnown      bool
	protectionEnabled bool
	cooldowns         map[string]time.Time
	stats             Stats
	sustainTimeouts   int
	sustainBusy       bool
	noFoodReported    bool

	// gen identifies the current connection; events and bursts carrying an
	// older value are ignored
	gen        uint64
	client     game.Client
	connCtx    context.Context
	connCancel context.CancelFunc

	reconnect loop
	antiAFK   loop
	sustain   loop
	threat    loop
	lobby     loop
	chatCheck loop

	protectionRunning atomic.Bool
}

// New creates a stopped supervisor for one slot
func New(cfg Config, policy Policy, deps Deps, log *logger.Logger) (*Supervisor, error) {
	if cfg.Slot <= 0 {
		return nil, fmt.Errorf("invalid slot id %d", cfg.Slot)
	}
	if deps.Dialer == nil {
		return nil, errors.New("dialer is required")
	}
	snap, err := newSnapshot(policy)
	if err != nil {
		return nil, fmt.Errorf("invalid lobby chat pattern: %w", err)
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Discard
	}

	protection := policy.Protection.Enabled
	if cfg.Protection != nil {
		protection = *cfg.Protection
	}

	return &Supervisor{
		cfg:               cfg,
		policy:            snap,
		dialer:            deps.Dialer,
		clock:             deps.Clock,
		notifier:          deps.Notifier,
		overrides:         deps.Overrides,
		logger:            log.Named("session").With(logger.Int("slot", cfg.Slot), logger.String("identity", cfg.Identity)),
		phase:             Offline,
		protectionEnabled: protection,
		cooldowns:         make(map[string]time.Time),
	}, nil
}

func (s *Supervisor) Slot() int        { return s.cfg.Slot }
func (s *Supervisor) Identity() string { return s.cfg.Identity }

// Phase returns the current connection phase
func (s *Supervisor) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Start opens a connection. It returns once the dial is issued; the outcome
// arrives through events. An explicit start clears a Failed slot's attempts.
func (s *Supervisor) Start() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == Failed {
		s.reconnectAttempts = 0
	}
	return s.startLocked()
}

func (s *Supervisor) startLocked() Result {
	if s.removed {
		return fail("slot %d has been removed", s.cfg.Slot)
	}
	if s.phase == Connecting {
		return fail("slot %d is already connecting", s.cfg.Slot)
	}
	if s.client != nil {
		return fail("slot %d is already connected", s.cfg.Slot)
	}
	if err := s.setPhaseLocked(Connecting); err != nil {
		return fail("slot %d cannot start: %v", s.cfg.Slot, err)
	}

	s.manuallyStopped = false
	s.pendingReconnect = false
	s.reconnect.cancel()
	s.gen++
	gen := s.gen

	ctx, cancel := context.WithCancel(context.Background())
	opts := game.ConnectOptions{
		Identity: s.cfg.Identity,
		Auth:     s.cfg.Auth,
		Host:     s.policy.Host,
		Port:     s.policy.Port,
		Version:  s.policy.Version,
	}
	client, err := s.dialer.Dial(ctx, opts, func(ev game.Event) { s.handle(gen, ev) })
	if err != nil {
		cancel()
		s.logger.Warn("Failed to connect", logger.Error(err))
		_ = s.setPhaseLocked(Errored)
		switch {
		case s.manuallyStopped || !s.policy.Reconnect.Enabled:
		case s.paused:
			s.pendingReconnect = true
		default:
			s.scheduleReconnectLocked()
		}
		return fail("slot %d failed to connect: %v", s.cfg.Slot, err)
	}

	s.client, s.connCtx, s.connCancel = client, ctx, cancel
	s.logger.Info("Connecting",
		logger.String("host", s.policy.Host),
		logger.Int("port", s.policy.Port),
		logger.Int("attempt", s.reconnectAttempts))
	return ok("slot %d connecting", s.cfg.Slot)
}

// Stop disconnects the slot and suppresses reconnection. Calling it on a
// stopped slot succeeds and changes nothing.
func (s *Supervisor) Stop() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return fail("slot %d has been removed", s.cfg.Slot)
	}
	idle := s.client == nil && s.phase == Offline && !s.reconnect.armed()
	s.stopLocked("stopped by operator")
	if idle {
		return ok("slot %d is already stopped", s.cfg.Slot)
	}
	return ok("slot %d stopped", s.cfg.Slot)
}

// stopLocked forces Offline and cancels every timer and in-flight action
func (s *Supervisor) stopLocked(reason string) {
	now := s.clock.Now()
	s.manuallyStopped = true
	s.pendingReconnect = false
	s.delayOverride = 0
	s.reconnect.cancel()

	client := s.client
	s.endConnectionLocked(now)
	if client != nil {
		client.Disconnect(reason)
		s.stats.LastDisconnect = now
	}

	if s.phase != Offline {
		s.logger.Info("Stopped", logger.String("from", s.phase.String()), logger.String("reason", reason))
		s.phase = Offline
	}
	if client != nil {
		s.notifyLocked(notify.KindDisconnected, reason)
	}
}

// Restart stops the slot and starts it again after the restart delay
func (s *Supervisor) Restart() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return fail("slot %d has been removed", s.cfg.Slot)
	}
	s.stopLocked("restarting")
	s.reconnectAttempts = 0
	delay := s.policy.Reconnect.RestartDelay
	s.arm(&s.reconnect, delay, func() { s.startLocked() })
	return ok("slot %d restarting in %s", s.cfg.Slot, delay)
}

// Pause suspends idle activity, eating and threat handling without
// cancelling their timers
func (s *Supervisor) Pause() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		return fail("slot %d is already paused", s.cfg.Slot)
	}
	s.paused = true
	s.logger.Info("Paused")
	return ok("slot %d paused", s.cfg.Slot)
}

func (s *Supervisor) Resume() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused {
		return fail("slot %d is not paused", s.cfg.Slot)
	}
	s.paused = false
	s.logger.Info("Resumed")
	if s.pendingReconnect && s.shouldReconnectLocked() {
		s.pendingReconnect = false
		s.scheduleReconnectLocked()
	}
	return ok("slot %d resumed", s.cfg.Slot)
}

// Remove stops the slot for good; every pending callback becomes a no-op
func (s *Supervisor) Remove() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return
	}
	s.stopLocked("slot removed")
	s.removed = true
}

func (s *Supervisor) handle(gen uint64, ev game.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.removed {
		return
	}

	switch e := ev.(type) {
	case game.Login:
		s.onLoginLocked()
	case game.Spawn:
		s.onSpawnLocked(e.Position)
	case game.ChatLine:
		s.onChatLocked(e.Text)
	case game.Kicked:
		s.onKickedLocked(e.Reason)
	case game.Errored:
		s.onErroredLocked(e.Err)
	case game.Disconnected:
		s.onDisconnectedLocked(e.Reason)
	default:
		s.logger.Debug("Ignoring unknown event", logger.String("kind", ev.Kind().String()))
	}
}

func (s *Supervisor) onLoginLocked() {
	if err := s.setPhaseLocked(Online); err != nil {
		return
	}
	if s.reconnectAttempts > 0 {
		s.stats.Reconnects++
	}
	s.reconnectAttempts = 0
	s.stats.ConnectedSince = s.clock.Now()
	s.sustainTimeouts = 0
	s.noFoodReported = false

	s.armActivityLocked()
	if s.policy.Sustain.Enabled {
		s.arm(&s.sustain, s.policy.Sustain.Interval, s.sustainTickLocked)
	}
	s.logger.Info("Logged in")
	s.notifyLocked(notify.KindConnected, "logged in")
}

func (s *Supervisor) onKickedLocked(reason string) {
	if err := s.setPhaseLocked(Kicked); err != nil {
		return
	}
	msg := reason
	if s.policy.isDuplicateSession(reason) {
		s.delayOverride = s.policy.Reconnect.DuplicateSessionDelay
		msg = fmt.Sprintf("%s (duplicate session, next retry in %s)", reason, s.delayOverride)
	}
	s.logger.Warn("Kicked", logger.String("reason", reason))
	s.notifyLocked(notify.KindKicked, msg)
}

func (s *Supervisor) onErroredLocked(err error) {
	if perr := s.setPhaseLocked(Errored); perr != nil {
		return
	}
	s.logger.Warn("Connection error", logger.Error(err))
}

func (s *Supervisor) onDisconnectedLocked(reason string) {
	now := s.clock.Now()
	s.endConnectionLocked(now)
	if s.phase != Offline {
		_ = s.setPhaseLocked(Offline)
	}
	s.stats.LastDisconnect = now
	if reason == "" {
		reason = "connection closed"
	}
	s.logger.Info("Disconnected", logger.String("reason", reason))
	s.notifyLocked(notify.KindDisconnected, reason)

	switch {
	case s.manuallyStopped || !s.policy.Reconnect.Enabled:
	case s.paused:
		s.pendingReconnect = true
	default:
		s.scheduleReconnectLocked()
	}
}

// endConnectionLocked releases the current connection and everything tied to it
func (s *Supervisor) endConnectionLocked(now time.Time) {
	if !s.stats.ConnectedSince.IsZero() {
		s.stats.Uptime += now.Sub(s.stats.ConnectedSince)
		s.stats.ConnectedSince = time.Time{}
	}
	s.antiAFK.cancel()
	s.sustain.cancel()
	s.threat.cancel()
	s.lobby.cancel()
	s.chatCheck.cancel()
	if s.connCancel != nil {
		s.connCancel()
	}
	s.client, s.connCtx, s.connCancel = nil, nil, nil
	s.gen++
	s.inLobby = false
	s.sustainBusy = false
}

func (s *Supervisor) shouldReconnectLocked() bool {
	return s.policy.Reconnect.Enabled && !s.paused && !s.manuallyStopped && !s.removed
}

// scheduleReconnectLocked moves to Failed once attempts are exhausted,
// otherwise arms one start after the flat delay or the one-shot override
func (s *Supervisor) scheduleReconnectLocked() {
	if s.manuallyStopped || s.removed {
		return
	}
	limit := s.policy.Reconnect.MaxAttempts
	if s.reconnectAttempts >= limit {
		if err := s.setPhaseLocked(Failed); err == nil {
			s.logger.Error("Reconnect attempts exhausted", logger.Int("attempts", s.reconnectAttempts))
			s.notifyLocked(notify.KindFailed, fmt.Sprintf("gave up after %d reconnect attempts", s.reconnectAttempts))
		}
		return
	}

	s.reconnectAttempts++
	delay := s.policy.Reconnect.Delay
	if s.delayOverride > 0 {
		delay = s.delayOverride
		s.delayOverride = 0
	}
	s.logger.Info("Scheduling reconnect",
		logger.Int("attempt", s.reconnectAttempts),
		logger.Int("max", limit),
		logger.Duration("delay", delay))
	s.arm(&s.reconnect, delay, s.reconnectTickLocked)
}

func (s *Supervisor) reconnectTickLocked() {
	if s.manuallyStopped {
		return
	}
	if s.paused {
		s.pendingReconnect = true
		return
	}
	s.startLocked()
}

// arm schedules fn on l after d, replacing whatever l had pending. fn runs
// with mu held and may release it around blocking calls.
func (s *Supervisor) arm(l *loop, d time.Duration, fn func()) {
	l.cancel()
	epoch := l.epoch
	l.timer = s.clock.AfterFunc(d, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if l.epoch != epoch || s.removed {
			return
		}
		l.timer = nil
		fn()
	})
}

// armActivityLocked arms idle prevention and threat scanning per policy
func (s *Supervisor) armActivityLocked() {
	if s.policy.AntiAFK.Enabled {
		s.arm(&s.antiAFK, s.policy.AntiAFK.Interval, s.antiAFKTickLocked)
	}
	if s.policy.Threat.Enabled {
		s.arm(&s.threat, s.policy.Threat.ScanInterval, s.threatTickLocked)
	}
}

func (s *Supervisor) setPhaseLocked(to Phase) error {
	next, err := transition(s.phase, to)
	if err != nil {
		s.logger.Warn("Rejected phase change", logger.Error(err))
		return err
	}
	s.logger.Debug("Phase changed", logger.String("from", s.phase.String()), logger.String("to", next.String()))
	s.phase = next
	return nil
}

func (s *Supervisor) notifyLocked(kind notify.Kind, msg string) {
	s.notifier.Notify(notify.Notification{
		Slot:     s.cfg.Slot,
		Identity: s.cfg.Identity,
		Kind:     kind,
		Message:  msg,
		Time:     s.clock.Now(),
	})
}

// online returns the live connection, or ok=false when the slot is not Online
func (s *Supervisor) online() (client game.Client, ctx context.Context, gen uint64, live bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != Online || s.client == nil {
		return nil, nil, 0, false
	}
	return s.client, s.connCtx, s.gen, true
}

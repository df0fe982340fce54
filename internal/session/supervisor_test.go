package session

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/yegors/afkfleet/internal/clock"
	"github.com/yegors/afkfleet/internal/game"
	"github.com/yegors/afkfleet/internal/game/gametest"
	"github.com/yegors/afkfleet/internal/notify"
	"github.com/yegors/afkfleet/pkg/logger"
)

var home = game.Vec3{X: 100, Y: 64, Z: 100}

type harness struct {
	t      *testing.T
	clk    *clock.FakeClock
	dialer *gametest.Dialer
	sup    *Supervisor

	mu    sync.Mutex
	notes []notify.Notification
}

func newHarness(t *testing.T, mutate func(p *Policy)) *harness {
	t.Helper()
	p := DefaultPolicy()
	p.Host = "mc.example.net"
	p.Protection.ActionDelay = 0
	p.Lobby.ChatCheckDelay = 0
	if mutate != nil {
		mutate(&p)
	}
	h := &harness{
		t:      t,
		clk:    clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		dialer: &gametest.Dialer{},
	}
	sup, err := New(Config{Slot: 1, Identity: "afk_one", Auth: "microsoft"}, p, Deps{
		Dialer:   h.dialer,
		Clock:    h.clk,
		Notifier: notify.Func(h.record),
	}, logger.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.sup = sup
	return h
}

func (h *harness) record(n notify.Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.notes = append(h.notes, n)
}

func (h *harness) count(kind notify.Kind) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, note := range h.notes {
		if note.Kind == kind {
			n++
		}
	}
	return n
}

// connect starts the slot and brings it online at home
func (h *harness) connect() *gametest.Client {
	h.t.Helper()
	if r := h.sup.Start(); !r.OK {
		h.t.Fatalf("Start: %s", r.Message)
	}
	c := h.dialer.Last()
	c.SetPosition(home)
	c.Emit(game.Login{})
	c.Emit(game.Spawn{Position: home})
	if got := h.sup.Phase(); got != Online {
		h.t.Fatalf("phase = %s, want online", got)
	}
	return c
}

func (h *harness) wantPhase(want Phase) {
	h.t.Helper()
	if got := h.sup.Phase(); got != want {
		h.t.Fatalf("phase = %s, want %s", got, want)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewValidates(t *testing.T) {
	d := &gametest.Dialer{}
	if _, err := New(Config{Slot: 0}, DefaultPolicy(), Deps{Dialer: d}, logger.NewNop()); err == nil {
		t.Fatal("expected error for slot 0")
	}
	if _, err := New(Config{Slot: 1}, DefaultPolicy(), Deps{}, logger.NewNop()); err == nil {
		t.Fatal("expected error without dialer")
	}
	p := DefaultPolicy()
	p.Lobby.ChatPatterns = []string{"("}
	if _, err := New(Config{Slot: 1}, p, Deps{Dialer: d}, logger.NewNop()); err == nil {
		t.Fatal("expected error for bad pattern")
	}
}

func TestStartConnectsAndLoginGoesOnline(t *testing.T) {
	h := newHarness(t, nil)
	r := h.sup.Start()
	if !r.OK {
		t.Fatalf("Start: %s", r.Message)
	}
	h.wantPhase(Connecting)

	want := []game.ConnectOptions{{Identity: "afk_one", Auth: "microsoft", Host: "mc.example.net", Port: 25565}}
	if diff := cmp.Diff(want, h.dialer.Options()); diff != "" {
		t.Fatalf("dial options mismatch (-want +got):\n%s", diff)
	}

	h.dialer.Last().Emit(game.Login{})
	h.wantPhase(Online)
	if h.count(notify.KindConnected) != 1 {
		t.Fatal("expected a connected notification")
	}
}

func TestStartRejectedWhileConnectingOrConnected(t *testing.T) {
	h := newHarness(t, nil)
	h.sup.Start()
	if r := h.sup.Start(); r.OK || !strings.Contains(r.Message, "already connecting") {
		t.Fatalf("second Start = %+v", r)
	}
	h.dialer.Last().Emit(game.Login{})
	if r := h.sup.Start(); r.OK || !strings.Contains(r.Message, "already connected") {
		t.Fatalf("Start while online = %+v", r)
	}
	if h.dialer.Dials() != 1 {
		t.Fatalf("dials = %d, want 1", h.dialer.Dials())
	}
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	c := h.connect()

	for i := 0; i < 2; i++ {
		if r := h.sup.Stop(); !r.OK {
			t.Fatalf("Stop #%d: %s", i+1, r.Message)
		}
		h.wantPhase(Offline)
	}
	if !c.Closed() {
		t.Fatal("client not disconnected")
	}
	if n := c.Count("disconnect"); n != 1 {
		t.Fatalf("disconnect calls = %d, want 1", n)
	}
}

func TestStopSuppressesReconnect(t *testing.T) {
	h := newHarness(t, nil)
	c := h.connect()
	h.sup.Stop()

	c.Emit(game.Disconnected{Reason: "closed"})
	h.clk.Advance(time.Hour)

	h.wantPhase(Offline)
	if h.dialer.Dials() != 1 {
		t.Fatalf("dials = %d, want 1", h.dialer.Dials())
	}
	if h.clk.PendingCount() != 0 {
		t.Fatalf("pending timers after stop = %d", h.clk.PendingCount())
	}
}

func TestDisconnectSchedulesFlatReconnect(t *testing.T) {
	h := newHarness(t, nil)
	c := h.connect()

	c.Emit(game.Disconnected{Reason: "read timeout"})
	h.wantPhase(Offline)
	if got := h.sup.Status().ReconnectAttempts; got != 1 {
		t.Fatalf("attempts = %d, want 1", got)
	}

	h.clk.Advance(9 * time.Second)
	if h.dialer.Dials() != 1 {
		t.Fatal("reconnected before the delay")
	}
	h.clk.Advance(time.Second)
	if h.dialer.Dials() != 2 {
		t.Fatalf("dials = %d, want 2", h.dialer.Dials())
	}
	h.wantPhase(Connecting)

	h.dialer.Last().Emit(game.Login{})
	h.wantPhase(Online)
	st := h.sup.Status()
	if st.ReconnectAttempts != 0 {
		t.Fatalf("attempts after login = %d, want 0", st.ReconnectAttempts)
	}
	if got := h.sup.Stats().Reconnects; got != 1 {
		t.Fatalf("reconnects stat = %d, want 1", got)
	}
}

func TestReconnectExhaustionEndsInFailed(t *testing.T) {
	h := newHarness(t, func(p *Policy) { p.Reconnect.MaxAttempts = 3 })
	h.sup.Start()

	var attempts []int
	for i := 0; i < 4; i++ {
		h.dialer.Last().Emit(game.Disconnected{Reason: "connection refused"})
		attempts = append(attempts, h.sup.Status().ReconnectAttempts)
		h.clk.Advance(10 * time.Second)
	}

	if diff := cmp.Diff([]int{1, 2, 3, 3}, attempts); diff != "" {
		t.Fatalf("attempts mismatch (-want +got):\n%s", diff)
	}
	h.wantPhase(Failed)
	if h.dialer.Dials() != 4 {
		t.Fatalf("dials = %d, want 4", h.dialer.Dials())
	}
	h.clk.Advance(time.Hour)
	if h.dialer.Dials() != 4 {
		t.Fatal("Failed slot kept reconnecting")
	}
	h.wantPhase(Failed)
	if h.count(notify.KindFailed) != 1 {
		t.Fatalf("failed notifications = %d, want 1", h.count(notify.KindFailed))
	}

	if r := h.sup.Start(); !r.OK {
		t.Fatalf("explicit Start from Failed: %s", r.Message)
	}
	h.wantPhase(Connecting)
	if got := h.sup.Status().ReconnectAttempts; got != 0 {
		t.Fatalf("attempts after explicit start = %d, want 0", got)
	}
}

func TestDuplicateSessionKickDelaysOnce(t *testing.T) {
	h := newHarness(t, nil)
	c := h.connect()

	c.Emit(game.Kicked{Reason: "You logged in from another location"})
	h.wantPhase(Kicked)
	c.Emit(game.Disconnected{Reason: "kicked"})
	h.wantPhase(Offline)

	h.clk.Advance(10 * time.Second)
	if h.dialer.Dials() != 1 {
		t.Fatal("duplicate-session kick used the normal delay")
	}
	h.clk.Advance(55 * time.Second)
	if h.dialer.Dials() != 2 {
		t.Fatalf("dials = %d, want 2 after override delay", h.dialer.Dials())
	}

	h.dialer.Last().Emit(game.Disconnected{})
	h.clk.Advance(10 * time.Second)
	if h.dialer.Dials() != 3 {
		t.Fatal("override was not cleared after one use")
	}
}

func TestOrdinaryKickUsesBaseDelay(t *testing.T) {
	h := newHarness(t, nil)
	c := h.connect()
	c.Emit(game.Kicked{Reason: "Server restarting"})
	c.Emit(game.Disconnected{})
	h.clk.Advance(10 * time.Second)
	if h.dialer.Dials() != 2 {
		t.Fatalf("dials = %d, want 2", h.dialer.Dials())
	}
}

func TestErrorEventThenDisconnectReconnects(t *testing.T) {
	h := newHarness(t, nil)
	c := h.connect()
	c.Emit(game.Errored{Err: errors.New("ECONNRESET")})
	h.wantPhase(Errored)
	c.Emit(game.Disconnected{})
	h.wantPhase(Offline)
	h.clk.Advance(10 * time.Second)
	h.wantPhase(Connecting)
}

func TestDialErrorSchedulesReconnect(t *testing.T) {
	h := newHarness(t, nil)
	h.dialer.Err = errors.New("bridge unavailable")

	if r := h.sup.Start(); r.OK {
		t.Fatal("Start should report the dial failure")
	}
	h.wantPhase(Errored)

	h.dialer.Err = nil
	h.clk.Advance(10 * time.Second)
	h.wantPhase(Connecting)
	if h.dialer.Dials() != 2 {
		t.Fatalf("dials = %d, want 2", h.dialer.Dials())
	}
}

func TestDialErrorWhilePausedRetriesOnResume(t *testing.T) {
	h := newHarness(t, nil)
	h.sup.Pause()
	h.dialer.Err = errors.New("bridge unavailable")

	if r := h.sup.Start(); r.OK {
		t.Fatal("Start should report the dial failure")
	}
	h.wantPhase(Errored)
	h.clk.Advance(time.Hour)
	if h.dialer.Dials() != 1 {
		t.Fatalf("paused slot redialed: dials = %d", h.dialer.Dials())
	}

	h.dialer.Err = nil
	h.sup.Resume()
	h.clk.Advance(10 * time.Second)
	h.wantPhase(Connecting)
	if h.dialer.Dials() != 2 {
		t.Fatalf("dials = %d, want 2", h.dialer.Dials())
	}
}

func TestStaleEventsAreIgnored(t *testing.T) {
	h := newHarness(t, nil)
	old := h.connect()
	h.sup.Stop()
	h.sup.Start()

	old.Emit(game.Login{})
	h.wantPhase(Connecting)
	old.Emit(game.Disconnected{})
	h.wantPhase(Connecting)
}

func TestPausedDisconnectWaitsForResume(t *testing.T) {
	h := newHarness(t, nil)
	c := h.connect()
	h.sup.Pause()

	c.Emit(game.Disconnected{})
	h.clk.Advance(time.Minute)
	if h.dialer.Dials() != 1 {
		t.Fatal("reconnected while paused")
	}

	if r := h.sup.Resume(); !r.OK {
		t.Fatalf("Resume: %s", r.Message)
	}
	h.clk.Advance(10 * time.Second)
	if h.dialer.Dials() != 2 {
		t.Fatalf("dials = %d, want 2 after resume", h.dialer.Dials())
	}
}

func TestPauseResumeResults(t *testing.T) {
	h := newHarness(t, nil)
	if r := h.sup.Resume(); r.OK {
		t.Fatal("Resume on running slot should fail")
	}
	if r := h.sup.Pause(); !r.OK {
		t.Fatalf("Pause: %s", r.Message)
	}
	if r := h.sup.Pause(); r.OK {
		t.Fatal("second Pause should fail")
	}
	if !h.sup.Status().Paused {
		t.Fatal("status not paused")
	}
}

func TestRestartStopsThenStartsAfterDelay(t *testing.T) {
	h := newHarness(t, nil)
	c := h.connect()

	if r := h.sup.Restart(); !r.OK {
		t.Fatalf("Restart: %s", r.Message)
	}
	h.wantPhase(Offline)
	if !c.Closed() {
		t.Fatal("old connection not closed")
	}
	h.clk.Advance(2 * time.Second)
	if h.dialer.Dials() != 1 {
		t.Fatal("restarted before delay")
	}
	h.clk.Advance(time.Second)
	h.wantPhase(Connecting)
	if h.dialer.Dials() != 2 {
		t.Fatalf("dials = %d, want 2", h.dialer.Dials())
	}
}

func TestStopDuringRestartDelayCancelsStart(t *testing.T) {
	h := newHarness(t, nil)
	h.connect()
	h.sup.Restart()
	h.sup.Stop()
	h.clk.Advance(time.Minute)
	if h.dialer.Dials() != 1 {
		t.Fatal("stop did not cancel the pending restart")
	}
}

func TestRemoveCancelsEverything(t *testing.T) {
	h := newHarness(t, nil)
	c := h.connect()
	h.sup.Remove()

	if !c.Closed() {
		t.Fatal("client not disconnected on remove")
	}
	before := len(c.Actions())
	h.clk.Advance(time.Hour)
	if len(c.Actions()) != before {
		t.Fatalf("actions after remove: %v", c.Actions()[before:])
	}
	if r := h.sup.Start(); r.OK {
		t.Fatal("Start on removed slot should fail")
	}
	if h.clk.PendingCount() != 0 {
		t.Fatalf("pending timers = %d", h.clk.PendingCount())
	}
}

func TestUptimeAccumulatesAcrossConnections(t *testing.T) {
	h := newHarness(t, nil)
	c := h.connect()
	h.clk.Advance(10 * time.Minute)
	if got := h.sup.Stats().Uptime; got != 10*time.Minute {
		t.Fatalf("live uptime = %s", got)
	}
	c.Emit(game.Disconnected{})
	h.clk.Advance(10 * time.Second)
	h.dialer.Last().Emit(game.Login{})
	h.clk.Advance(5 * time.Minute)

	st := h.sup.Stats()
	if st.Uptime != 15*time.Minute {
		t.Fatalf("uptime = %s, want 15m", st.Uptime)
	}
	if st.LastDisconnect.IsZero() {
		t.Fatal("last disconnect not recorded")
	}
}

func TestStatusSnapshot(t *testing.T) {
	h := newHarness(t, nil)
	st := h.sup.Status()
	if st.VitalLevel != nil || st.Position != nil {
		t.Fatal("offline status should not carry vitals")
	}

	c := h.connect()
	c.SetFood(17)
	st = h.sup.Status()
	if st.VitalLevel == nil || *st.VitalLevel != 17 {
		t.Fatalf("vital level = %v", st.VitalLevel)
	}
	if st.Position == nil || *st.Position != home {
		t.Fatalf("position = %v", st.Position)
	}
	if st.Phase != Online || st.Identity != "afk_one" || st.Slot != 1 {
		t.Fatalf("status = %+v", st)
	}
}

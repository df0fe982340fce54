package session

import (
	"testing"
	"time"

	"github.com/yegors/afkfleet/internal/game"
	"github.com/yegors/afkfleet/internal/notify"
)

var lobbySpawn = game.Vec3{X: 0.5, Y: 100, Z: 5000}

func (h *harness) activityArmed() bool {
	h.sup.mu.Lock()
	defer h.sup.mu.Unlock()
	return h.sup.antiAFK.armed() && h.sup.threat.armed()
}

func (h *harness) inLobby() bool {
	return h.sup.Status().InLobby
}

func TestLobbyEnterAndRecover(t *testing.T) {
	h := newHarness(t, nil)
	c := h.connect()
	if !h.activityArmed() {
		t.Fatal("activity loops not armed after login")
	}

	c.SetPosition(lobbySpawn)
	c.Emit(game.Spawn{Position: lobbySpawn})
	if !h.inLobby() {
		t.Fatal("displacement did not enter lobby mode")
	}
	h.sup.mu.Lock()
	suspended := !h.sup.antiAFK.armed() && !h.sup.threat.armed()
	h.sup.mu.Unlock()
	if !suspended {
		t.Fatal("idle and threat loops still armed in lobby")
	}

	h.clk.Advance(4 * time.Second)
	if c.Count("chat") != 0 {
		t.Fatal("return command sent before the grace delay")
	}
	h.clk.Advance(time.Second)
	if c.Count("chat") != 1 || c.Actions()[0].Arg != "/home" {
		t.Fatalf("actions = %v, want one /home", c.Actions())
	}
	h.clk.Advance(20 * time.Second)
	if c.Count("chat") != 2 {
		t.Fatalf("chat = %d, want 2 after retry interval", c.Count("chat"))
	}

	back := home.Add(game.Vec3{X: 3, Z: -2})
	c.SetPosition(back)
	c.Emit(game.Spawn{Position: back})
	if h.inLobby() {
		t.Fatal("still in lobby after returning home")
	}
	if !h.activityArmed() {
		t.Fatal("activity loops not re-armed on exit")
	}
	h.clk.Advance(time.Minute)
	if c.Count("chat") != 2 {
		t.Fatal("return loop kept running after exit")
	}

	if got := h.sup.Stats().LobbyEvents; got != 1 {
		t.Fatalf("lobby events = %d, want 1", got)
	}
	if h.count(notify.KindLobbyEnter) != 1 || h.count(notify.KindLobbyExit) != 1 {
		t.Fatal("lobby notifications missing")
	}
}

func TestLobbyHomeNotUpdatedWhileDisplaced(t *testing.T) {
	h := newHarness(t, nil)
	c := h.connect()

	c.Emit(game.Spawn{Position: lobbySpawn})
	elsewhere := lobbySpawn.Add(game.Vec3{X: 400})
	c.Emit(game.Spawn{Position: elsewhere})
	if !h.inLobby() {
		t.Fatal("left lobby on an unrelated spawn")
	}
	h.sup.mu.Lock()
	last := h.sup.lastKnown
	h.sup.mu.Unlock()
	if last != home {
		t.Fatalf("home moved to %v while in lobby", last)
	}
}

func TestSmallSpawnMovesUpdateHome(t *testing.T) {
	h := newHarness(t, nil)
	c := h.connect()
	near := home.Add(game.Vec3{X: 120})
	c.Emit(game.Spawn{Position: near})
	if h.inLobby() {
		t.Fatal("entered lobby below the displacement threshold")
	}
	h.sup.mu.Lock()
	defer h.sup.mu.Unlock()
	if h.sup.lastKnown != near {
		t.Fatalf("home = %v, want %v", h.sup.lastKnown, near)
	}
}

func TestTeleportNoticeConfirmedByPosition(t *testing.T) {
	h := newHarness(t, nil)
	c := h.connect()

	c.Emit(game.ChatLine{Text: "<someone> hello"})
	c.Emit(game.ChatLine{Text: "Teleport request denied"})
	if h.inLobby() {
		t.Fatal("notice without displacement entered lobby")
	}

	c.SetPosition(lobbySpawn)
	c.Emit(game.ChatLine{Text: "Sending you to lobby-2..."})
	if !h.inLobby() {
		t.Fatal("confirmed teleport notice did not enter lobby")
	}

	c.SetPosition(home)
	c.Emit(game.ChatLine{Text: "Teleporting..."})
	if h.inLobby() {
		t.Fatal("notice at home did not exit lobby")
	}
}

func TestTeleportNoticeCheckIsDelayed(t *testing.T) {
	h := newHarness(t, func(p *Policy) { p.Lobby.ChatCheckDelay = 2 * time.Second })
	c := h.connect()

	c.Emit(game.ChatLine{Text: "Teleporting you to spawn"})
	c.SetPosition(lobbySpawn)
	if h.inLobby() {
		t.Fatal("checked before the delay")
	}
	h.clk.Advance(2 * time.Second)
	if !h.inLobby() {
		t.Fatal("delayed check did not enter lobby")
	}
}

func TestLobbyDisabledNeverEnters(t *testing.T) {
	h := newHarness(t, func(p *Policy) { p.Lobby.Enabled = false })
	c := h.connect()
	c.Emit(game.Spawn{Position: lobbySpawn})
	if h.inLobby() {
		t.Fatal("entered lobby while disabled")
	}
}

func TestDisconnectClearsLobbyMode(t *testing.T) {
	h := newHarness(t, nil)
	c := h.connect()
	c.Emit(game.Spawn{Position: lobbySpawn})
	c.Emit(game.Disconnected{})
	if h.inLobby() {
		t.Fatal("lobby mode survived disconnect")
	}
	h.clk.Advance(10 * time.Second)
	if c.Count("chat") != 0 {
		t.Fatal("return loop fired after disconnect")
	}
}

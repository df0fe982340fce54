package session

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yegors/afkfleet/internal/game"
	"github.com/yegors/afkfleet/internal/game/gametest"
	"github.com/yegors/afkfleet/internal/notify"
)

func player(name string, dx float64) game.Entity {
	return game.Entity{ID: len(name), Kind: game.EntityKindPlayer, Username: name, Position: home.Add(game.Vec3{X: dx})}
}

func (h *harness) protectionDone() bool {
	return !h.sup.protectionRunning.Load() && h.sup.Phase() == Offline
}

func TestEmergencyStopsRegardlessOfProtection(t *testing.T) {
	for _, protection := range []bool{false, true} {
		h := newHarness(t, func(p *Policy) { p.Protection.Enabled = protection })
		c := h.connect()
		c.SetEntities(player("griefer", 5))

		h.clk.Advance(time.Second)

		h.wantPhase(Offline)
		if !c.Closed() {
			t.Fatalf("protection=%t: client not disconnected", protection)
		}
		if h.count(notify.KindEmergency) != 1 {
			t.Fatalf("protection=%t: emergency notifications = %d", protection, h.count(notify.KindEmergency))
		}
		if c.Count("dig") != 0 {
			t.Fatalf("protection=%t: emergency should not clear blocks", protection)
		}

		c.Emit(game.Disconnected{})
		h.clk.Advance(time.Hour)
		if h.dialer.Dials() != 1 {
			t.Fatalf("protection=%t: reconnected after emergency stop", protection)
		}
	}
}

func TestWhitelistedPlayersNeverTrigger(t *testing.T) {
	h := newHarness(t, func(p *Policy) {
		p.Threat.Whitelist = []string{"Friend"}
		p.Protection.Enabled = true
	})
	c := h.connect()
	c.SetEntities(player("friend", 1), player("FRIEND", 30), player("afk_one", 0))

	for i := 0; i < 5; i++ {
		h.clk.Advance(time.Second)
	}
	h.wantPhase(Online)
	if n := h.count(notify.KindAlert) + h.count(notify.KindEmergency); n != 0 {
		t.Fatalf("whitelisted or self triggered %d notifications", n)
	}
}

func TestNonPlayerEntitiesIgnored(t *testing.T) {
	h := newHarness(t, nil)
	c := h.connect()
	c.SetEntities(game.Entity{ID: 7, Kind: "zombie", Position: home})
	h.clk.Advance(time.Second)
	h.wantPhase(Online)
}

func TestAlertBurstRespectsCooldown(t *testing.T) {
	h := newHarness(t, nil)
	c := h.connect()
	c.SetEntities(player("stranger", 30))

	h.clk.Advance(time.Second)
	if h.count(notify.KindAlert) != 1 {
		t.Fatalf("alerts after first scan = %d, want 1", h.count(notify.KindAlert))
	}
	for i := 2; i <= 60; i++ {
		h.clk.Advance(time.Second)
	}
	if got := h.count(notify.KindAlert); got != 3 {
		t.Fatalf("alerts inside cooldown = %d, want one burst of 3", got)
	}
	if got := h.sup.Stats().AlertsTriggered; got != 1 {
		t.Fatalf("alerts triggered = %d, want 1", got)
	}

	h.clk.Advance(time.Second)
	if got := h.sup.Stats().AlertsTriggered; got != 2 {
		t.Fatalf("alerts triggered after cooldown = %d, want 2", got)
	}
}

func TestAlertCooldownIsPerIdentity(t *testing.T) {
	h := newHarness(t, func(p *Policy) { p.Threat.BurstCount = 1 })
	c := h.connect()
	c.SetEntities(player("alice", 20), player("bob", 40))
	h.clk.Advance(time.Second)
	if got := h.count(notify.KindAlert); got != 2 {
		t.Fatalf("alerts = %d, want 2", got)
	}
}

func TestAlertBurstDroppedAfterStop(t *testing.T) {
	h := newHarness(t, nil)
	c := h.connect()
	c.SetEntities(player("stranger", 30))
	h.clk.Advance(time.Second)
	h.sup.Stop()
	h.clk.Advance(10 * time.Second)
	if got := h.count(notify.KindAlert); got != 1 {
		t.Fatalf("alerts = %d, want 1", got)
	}
}

func TestCooldownMapIsPruned(t *testing.T) {
	h := newHarness(t, func(p *Policy) { p.Threat.BurstCount = 1 })
	c := h.connect()
	c.SetEntities(player("passerby", 30))
	h.clk.Advance(time.Second)
	c.SetEntities()
	h.clk.Advance(61 * time.Second)

	h.sup.mu.Lock()
	defer h.sup.mu.Unlock()
	if len(h.sup.cooldowns) != 0 {
		t.Fatalf("cooldowns = %v, want empty", h.sup.cooldowns)
	}
}

func protectionClient(c *gametest.Client) {
	c.SetInventory(
		game.Item{Name: "stone_pickaxe", Count: 1, Slot: 0, DurabilityUsed: 100, MaxDurability: 131},
		game.Item{Name: "diamond_pickaxe", Count: 1, Slot: 1, DurabilityUsed: 10, MaxDurability: 1561},
	)
	c.SetBlocks(
		game.Block{Name: "spawner", Position: home.Add(game.Vec3{X: 2})},
		game.Block{Name: "spawner", Position: home.Add(game.Vec3{Z: 3})},
		game.Block{Name: "spawner", Position: home.Add(game.Vec3{X: 1, Y: 1, Z: 1})},
		game.Block{Name: "spawner", Position: home.Add(game.Vec3{X: 40})},
		game.Block{Name: "chest", Position: home.Add(game.Vec3{Y: -1})},
	)
	c.SetEntities(player("stranger", 30))
}

func TestProtectionClearsTargetsThenDisconnects(t *testing.T) {
	h := newHarness(t, func(p *Policy) { p.Protection.Enabled = true })
	c := h.connect()
	protectionClient(c)

	h.clk.Advance(time.Second)
	waitFor(t, "protection to finish", h.protectionDone)

	if got := c.Count("dig"); got != 3 {
		t.Fatalf("digs = %d, want 3", got)
	}
	acts := c.Actions()
	if acts[0].String() != "equip:diamond_pickaxe" {
		t.Fatalf("first action = %s, want the best pickaxe equipped", acts[0])
	}
	if acts[1].String() != "control:sneak=true" {
		t.Fatalf("second action = %s, want crouch", acts[1])
	}
	if !c.Closed() || c.Control(game.ControlSneak) {
		t.Fatal("sequence must release crouch and disconnect")
	}
	if got := h.sup.Stats().BlocksCleared; got != 3 {
		t.Fatalf("blocks cleared = %d, want 3", got)
	}
	if h.count(notify.KindProtection) != 2 {
		t.Fatalf("protection notifications = %d, want start and finish", h.count(notify.KindProtection))
	}
	if len(c.Blocks()) != 2 {
		t.Fatalf("blocks left = %v", c.Blocks())
	}
}

func TestProtectionAbortsOnRenewedEmergency(t *testing.T) {
	h := newHarness(t, func(p *Policy) { p.Protection.Enabled = true })
	c := h.connect()
	protectionClient(c)
	c.OnDig = func(c *gametest.Client, _ game.Vec3) {
		c.SetEntities(player("stranger", 4))
	}

	h.clk.Advance(time.Second)
	waitFor(t, "protection to abort", h.protectionDone)

	if got := c.Count("dig"); got != 1 {
		t.Fatalf("digs = %d, want abort after the first action", got)
	}
	if h.count(notify.KindEmergency) != 1 {
		t.Fatalf("emergency notifications = %d, want 1", h.count(notify.KindEmergency))
	}
	if !c.Closed() {
		t.Fatal("not disconnected")
	}
}

func TestProtectionIsNotReentrant(t *testing.T) {
	h := newHarness(t, func(p *Policy) { p.Protection.Enabled = true })
	c := h.connect()
	protectionClient(c)
	release := make(chan struct{})
	c.OnDig = func(*gametest.Client, game.Vec3) { <-release }

	h.clk.Advance(time.Second)
	waitFor(t, "first dig", func() bool { return c.Count("dig") == 1 })

	var started atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if h.sup.triggerProtection() {
				started.Add(1)
			}
		}()
	}
	wg.Wait()
	if started.Load() != 0 {
		t.Fatalf("%d overlapping sequences started", started.Load())
	}

	close(release)
	waitFor(t, "protection to finish", h.protectionDone)
	if h.count(notify.KindProtection) != 2 {
		t.Fatalf("protection notifications = %d, want one start and one finish", h.count(notify.KindProtection))
	}
}

func TestProtectionStopsWhenInventoryFull(t *testing.T) {
	h := newHarness(t, func(p *Policy) { p.Protection.Enabled = true })
	c := h.connect()
	protectionClient(c)
	items := make([]game.Item, 0, 35)
	for i := 0; i < 35; i++ {
		items = append(items, game.Item{Name: "cobblestone", Count: 64, Slot: i})
	}
	c.SetInventory(items...)

	h.clk.Advance(time.Second)
	waitFor(t, "protection to finish", h.protectionDone)

	if c.Count("find") != 0 || c.Count("dig") != 0 {
		t.Fatalf("acted with a full inventory: %v", c.Actions())
	}
	if !c.Closed() {
		t.Fatal("not disconnected")
	}
}

func TestProtectionDisabledOnlyAlerts(t *testing.T) {
	h := newHarness(t, nil)
	c := h.connect()
	protectionClient(c)
	h.clk.Advance(time.Second)
	h.wantPhase(Online)
	if c.Count("dig") != 0 || h.count(notify.KindProtection) != 0 {
		t.Fatal("protection ran while disabled")
	}
}

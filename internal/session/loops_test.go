package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/yegors/afkfleet/internal/game"
	"github.com/yegors/afkfleet/internal/game/gametest"
	"github.com/yegors/afkfleet/internal/notify"
)

func pulses(c *gametest.Client) int {
	n := 0
	for _, a := range c.Actions() {
		if a.Name == "control" && a.Arg == "jump=true" {
			n++
		}
	}
	return n
}

func TestAntiAFKPulsesJump(t *testing.T) {
	h := newHarness(t, nil)
	c := h.connect()

	h.clk.Advance(29 * time.Second)
	if pulses(c) != 0 {
		t.Fatal("pulsed before the interval")
	}
	h.clk.Advance(time.Second)

	want := []gametest.Action{
		{Name: "control", Arg: "jump=true"},
		{Name: "control", Arg: "jump=false"},
	}
	if diff := cmp.Diff(want, c.Actions()); diff != "" {
		t.Fatalf("actions mismatch (-want +got):\n%s", diff)
	}
	h.clk.Advance(30 * time.Second)
	if pulses(c) != 2 {
		t.Fatalf("pulses = %d, want 2", pulses(c))
	}
}

func TestAntiAFKHoldsWhileEating(t *testing.T) {
	h := newHarness(t, nil)
	c := h.connect()
	c.SetFood(10)
	c.SetInventory(game.Item{Name: "bread", Count: 4, Slot: 36})

	var during int
	eating := false
	c.OnConsume = func(c *gametest.Client) {
		if eating {
			return
		}
		eating = true
		// the activity interval elapses while the bite is in progress
		h.clk.Advance(30 * time.Second)
		during = pulses(c)
	}

	h.clk.Advance(2 * time.Second)
	if !eating {
		t.Fatal("sustain did not eat")
	}
	if during != 0 {
		t.Fatalf("pulsed %d times while eating", during)
	}
	if pulses(c) != 0 {
		t.Fatal("pulse fired right after eating instead of on the next interval")
	}

	h.clk.Advance(30 * time.Second)
	if pulses(c) != 1 {
		t.Fatalf("pulses = %d, want 1", pulses(c))
	}
}

func TestPauseKeepsLoopsTickingWithoutActing(t *testing.T) {
	h := newHarness(t, nil)
	c := h.connect()
	c.SetFood(5)
	c.SetInventory(game.Item{Name: "bread", Count: 4, Slot: 36})
	h.sup.Pause()

	h.clk.Advance(time.Minute)
	if len(c.Actions()) != 0 {
		t.Fatalf("paused slot acted: %v", c.Actions())
	}
	h.sup.mu.Lock()
	armed := h.sup.antiAFK.armed() && h.sup.sustain.armed()
	h.sup.mu.Unlock()
	if !armed {
		t.Fatal("pause cancelled the loops instead of idling them")
	}

	h.sup.Resume()
	h.clk.Advance(2 * time.Second)
	if c.Count("consume") != 1 {
		t.Fatalf("consume calls after resume = %d, want 1", c.Count("consume"))
	}
}

func TestSustainEatsOnceBelowThreshold(t *testing.T) {
	h := newHarness(t, nil)
	c := h.connect()
	c.SetFood(10)
	c.SetInventory(
		game.Item{Name: "diamond_sword", Count: 1, Slot: 36},
		game.Item{Name: "bread", Count: 3, Slot: 37},
	)

	h.clk.Advance(2 * time.Second)

	want := []gametest.Action{
		{Name: "equip", Arg: "bread"},
		{Name: "consume", Arg: "bread"},
	}
	if diff := cmp.Diff(want, c.Actions()); diff != "" {
		t.Fatalf("actions mismatch (-want +got):\n%s", diff)
	}
	if c.Food() != 16 {
		t.Fatalf("food = %d, want 16", c.Food())
	}

	h.clk.Advance(2 * time.Second)
	if c.Count("consume") != 1 {
		t.Fatal("ate again above the threshold")
	}
	h.sup.mu.Lock()
	defer h.sup.mu.Unlock()
	if h.sup.sustainTimeouts != 0 {
		t.Fatalf("timeouts = %d", h.sup.sustainTimeouts)
	}
}

func TestSustainPrefersListedOrder(t *testing.T) {
	h := newHarness(t, func(p *Policy) { p.Sustain.Items = []string{"golden_carrot", "bread"} })
	c := h.connect()
	c.SetFood(3)
	c.SetInventory(
		game.Item{Name: "bread", Count: 3, Slot: 36},
		game.Item{Name: "golden_carrot", Count: 3, Slot: 37},
	)
	h.clk.Advance(2 * time.Second)
	if got := c.Actions()[0]; got.Arg != "golden_carrot" {
		t.Fatalf("equipped %q, want golden_carrot", got.Arg)
	}
}

func TestSustainTimeoutsEscalateAndSuccessResets(t *testing.T) {
	h := newHarness(t, nil)
	c := h.connect()
	c.SetFood(5)
	c.SetInventory(game.Item{Name: "bread", Count: 10, Slot: 36})
	c.ConsumeErr = context.DeadlineExceeded

	timeouts := func() int {
		h.sup.mu.Lock()
		defer h.sup.mu.Unlock()
		return h.sup.sustainTimeouts
	}

	h.clk.Advance(2 * time.Second) // attempt 1
	if c.Count("consume") != 1 || timeouts() != 1 {
		t.Fatalf("after 1st: consume=%d timeouts=%d", c.Count("consume"), timeouts())
	}

	h.clk.Advance(29 * time.Second)
	if c.Count("consume") != 1 {
		t.Fatal("retried before the timeout backoff")
	}
	h.clk.Advance(time.Second)      // attempt 2
	h.clk.Advance(30 * time.Second) // attempt 3, now stuck
	if c.Count("consume") != 3 || timeouts() != 3 {
		t.Fatalf("after 3rd: consume=%d timeouts=%d", c.Count("consume"), timeouts())
	}
	if h.count(notify.KindSustain) != 1 {
		t.Fatalf("sustain notifications = %d, want 1", h.count(notify.KindSustain))
	}

	c.ConsumeErr = nil
	h.clk.Advance(59 * time.Second)
	if c.Count("consume") != 3 {
		t.Fatal("stuck backoff not applied after three timeouts")
	}
	h.clk.Advance(time.Second) // attempt 4 succeeds
	if c.Count("consume") != 4 || timeouts() != 0 {
		t.Fatalf("after success: consume=%d timeouts=%d", c.Count("consume"), timeouts())
	}
	if c.Food() != 11 {
		t.Fatalf("food = %d, want 11", c.Food())
	}
	h.clk.Advance(2 * time.Second) // back on the base interval
	if c.Count("consume") != 5 {
		t.Fatalf("consume = %d, want 5", c.Count("consume"))
	}
}

func TestSustainOtherErrorUsesErrorBackoff(t *testing.T) {
	h := newHarness(t, nil)
	c := h.connect()
	c.SetFood(5)
	c.SetInventory(game.Item{Name: "bread", Count: 10, Slot: 36})
	c.ConsumeErr = errors.New("server rejected use")

	h.clk.Advance(2 * time.Second)
	h.clk.Advance(9 * time.Second)
	if c.Count("consume") != 1 {
		t.Fatal("retried before the error backoff")
	}
	h.clk.Advance(time.Second)
	if c.Count("consume") != 2 {
		t.Fatalf("consume = %d, want 2", c.Count("consume"))
	}
}

func TestSustainWithoutFoodKeepsPolling(t *testing.T) {
	h := newHarness(t, nil)
	c := h.connect()
	c.SetFood(5)

	h.clk.Advance(2 * time.Second)
	if c.Count("equip") != 0 {
		t.Fatal("equipped with no food")
	}
	if h.count(notify.KindSustain) != 1 {
		t.Fatal("missing food not reported")
	}

	c.SetInventory(game.Item{Name: "cooked_beef", Count: 1, Slot: 40})
	h.clk.Advance(2 * time.Second)
	if c.Count("consume") != 1 {
		t.Fatal("did not pick up food once it appeared")
	}
	if h.count(notify.KindSustain) != 1 {
		t.Fatal("missing food reported more than once")
	}
}

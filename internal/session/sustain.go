package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yegors/afkfleet/internal/game"
	"github.com/yegors/afkfleet/internal/notify"
	"github.com/yegors/afkfleet/pkg/logger"
)

// sustainTickLocked eats when food is below the threshold. The next tick is
// armed only after the attempt has finished, so attempts never overlap.
func (s *Supervisor) sustainTickLocked() {
	if s.phase != Online || s.client == nil {
		return
	}
	p := s.policy.Sustain
	if s.paused {
		s.arm(&s.sustain, p.Interval, s.sustainTickLocked)
		return
	}

	client, ctx := s.client, s.connCtx
	before := client.Food()
	if before >= p.Threshold {
		s.arm(&s.sustain, p.Interval, s.sustainTickLocked)
		return
	}

	item, found := s.findFood(client.Inventory())
	if !found {
		if !s.noFoodReported {
			s.noFoodReported = true
			s.logger.Warn("No food in inventory", logger.Int("food", before))
			s.notifyLocked(notify.KindSustain, fmt.Sprintf("food at %d and nothing to eat", before))
		}
		s.arm(&s.sustain, p.Interval, s.sustainTickLocked)
		return
	}
	s.noFoodReported = false

	epoch := s.sustain.epoch
	s.sustainBusy = true
	s.mu.Unlock()
	err := s.eat(ctx, client, item)
	s.mu.Lock()

	if s.sustain.epoch != epoch || s.removed {
		return
	}
	s.sustainBusy = false
	next := s.sustainOutcomeLocked(err, item.Name, before, client.Food())
	s.arm(&s.sustain, next, s.sustainTickLocked)
}

// sustainOutcomeLocked applies the result of one attempt and returns the
// delay until the next tick
func (s *Supervisor) sustainOutcomeLocked(err error, item string, before, after int) time.Duration {
	p := s.policy.Sustain
	switch {
	case err == nil:
		s.sustainTimeouts = 0
		s.logger.Info("Ate", logger.String("item", item), logger.Int("before", before), logger.Int("after", after))
		return p.Interval
	case errors.Is(err, context.DeadlineExceeded):
		s.sustainTimeouts++
		if s.sustainTimeouts >= p.StuckAfter {
			s.logger.Warn("Eating keeps timing out",
				logger.Int("consecutive", s.sustainTimeouts),
				logger.Duration("backoff", p.StuckBackoff))
			if s.sustainTimeouts == p.StuckAfter {
				s.notifyLocked(notify.KindSustain, fmt.Sprintf("eating timed out %d times in a row", s.sustainTimeouts))
			}
			return p.StuckBackoff
		}
		s.logger.Warn("Eating timed out", logger.Int("consecutive", s.sustainTimeouts))
		return p.TimeoutBackoff
	default:
		s.logger.Warn("Failed to eat", logger.String("item", item), logger.Error(err))
		return p.ErrorBackoff
	}
}

func (s *Supervisor) eat(ctx context.Context, client game.Client, item game.Item) error {
	ctx, cancel := context.WithTimeout(ctx, s.policy.Sustain.Timeout)
	defer cancel()
	if err := client.Equip(ctx, item, game.HandMain); err != nil {
		return fmt.Errorf("failed to equip %s: %w", item.Name, err)
	}
	if err := client.Consume(ctx); err != nil {
		return fmt.Errorf("failed to consume %s: %w", item.Name, err)
	}
	return nil
}

// findFood returns the first inventory stack from the food list, honouring
// the list's order
func (s *Supervisor) findFood(items []game.Item) (game.Item, bool) {
	byName := make(map[string]game.Item, len(items))
	for _, it := range items {
		name := strings.ToLower(it.Name)
		if _, ok := s.policy.foods[name]; !ok || it.Count <= 0 {
			continue
		}
		if _, seen := byName[name]; !seen {
			byName[name] = it
		}
	}
	for _, name := range s.policy.Sustain.Items {
		if it, ok := byName[strings.ToLower(name)]; ok {
			return it, true
		}
	}
	return game.Item{}, false
}

package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/yegors/afkfleet/internal/game"
	"github.com/yegors/afkfleet/internal/notify"
	"github.com/yegors/afkfleet/pkg/logger"
)

// triggerProtectionLocked starts the protection sequence unless one is
// already running for this slot. It reports whether a sequence was started.
func (s *Supervisor) triggerProtectionLocked() bool {
	if s.client == nil || s.phase != Online {
		return false
	}
	if !s.protectionRunning.CompareAndSwap(false, true) {
		s.logger.Debug("Protection already running")
		return false
	}
	client, ctx, gen := s.client, s.connCtx, s.gen
	s.notifyLocked(notify.KindProtection, "protection sequence started")
	go s.runProtection(ctx, client, gen)
	return true
}

func (s *Supervisor) triggerProtection() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.triggerProtectionLocked()
}

// runProtection clears target blocks around the slot, then releases the
// crouch and disconnects
func (s *Supervisor) runProtection(ctx context.Context, client game.Client, gen uint64) {
	defer s.protectionRunning.Store(false)

	cleared, reason := s.protectionSequence(ctx, client, gen)
	if err := client.SetControlState(context.WithoutCancel(ctx), game.ControlSneak, false); err != nil {
		s.logger.Debug("Failed to release crouch", logger.Error(err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger.Info("Protection finished", logger.String("reason", reason), logger.Int("cleared", cleared))
	if s.gen != gen {
		return
	}
	s.notifyLocked(notify.KindProtection, fmt.Sprintf("protection finished (%s), cleared %d blocks", reason, cleared))
	s.stopLocked("protection sequence finished")
}

func (s *Supervisor) protectionSequence(ctx context.Context, client game.Client, gen uint64) (int, string) {
	p := s.policy.Protection

	if tool, found := findTool(client.Inventory(), p.ToolKeywords); found {
		if err := s.protectionAction(ctx, func(ctx context.Context) error {
			return client.Equip(ctx, tool, game.HandMain)
		}); err != nil {
			s.logger.Debug("Failed to equip tool", logger.String("tool", tool.Name), logger.Error(err))
		}
	}
	if err := client.SetControlState(ctx, game.ControlSneak, true); err != nil {
		s.logger.Debug("Failed to crouch", logger.Error(err))
	}

	cleared := 0
	for {
		if ctx.Err() != nil {
			return cleared, "cancelled"
		}
		if s.inventoryFull(client) {
			return cleared, "inventory full"
		}

		var blocks []game.Block
		err := s.protectionAction(ctx, func(ctx context.Context) error {
			var err error
			blocks, err = client.FindBlocks(ctx, p.BlockTypes, p.Radius, p.MaxBlocks)
			return err
		})
		if err != nil {
			return cleared, "search failed: " + err.Error()
		}
		if len(blocks) == 0 {
			return cleared, "no targets left"
		}

		progress := false
		for _, b := range blocks {
			if t, found := s.nearestEmergency(s.scanThreats(client)); found {
				s.abortProtection(gen, t)
				return cleared, "emergency"
			}
			if ctx.Err() != nil {
				return cleared, "cancelled"
			}
			if s.inventoryFull(client) {
				return cleared, "inventory full"
			}

			err := s.protectionAction(ctx, func(ctx context.Context) error {
				if err := client.LookAt(ctx, b.Position); err != nil {
					return err
				}
				return client.DigBlock(ctx, b.Position)
			})
			if err != nil {
				s.logger.Debug("Failed to clear block", logger.String("block", b.Name), logger.Error(err))
			} else {
				cleared++
				progress = true
				s.mu.Lock()
				if s.gen == gen {
					s.stats.BlocksCleared++
				}
				s.mu.Unlock()
			}

			if p.ActionDelay > 0 {
				select {
				case <-ctx.Done():
					return cleared, "cancelled"
				case <-s.clock.After(p.ActionDelay):
				}
			}
		}
		if !progress {
			return cleared, "no progress"
		}
	}
}

// abortProtection disconnects immediately on a renewed emergency threat
func (s *Supervisor) abortProtection(gen uint64, t threat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return
	}
	s.emergencyLocked(t)
}

func (s *Supervisor) protectionAction(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.policy.Protection.ActionTimeout)
	defer cancel()
	return fn(ctx)
}

func (s *Supervisor) inventoryFull(client game.Client) bool {
	p := s.policy.Protection
	return game.FreeSlots(client.Inventory(), p.InventorySlots) <= p.ReserveSlots
}

// findTool picks the matching item with the most durability left
func findTool(items []game.Item, keywords []string) (game.Item, bool) {
	var best game.Item
	found := false
	for _, it := range items {
		name := strings.ToLower(it.Name)
		match := false
		for _, kw := range keywords {
			if kw != "" && strings.Contains(name, strings.ToLower(kw)) {
				match = true
				break
			}
		}
		if !match {
			continue
		}
		if !found || remaining(it) > remaining(best) {
			best, found = it, true
		}
	}
	return best, found
}

func remaining(it game.Item) int {
	if it.MaxDurability == 0 {
		return 0
	}
	return it.MaxDurability - it.DurabilityUsed
}

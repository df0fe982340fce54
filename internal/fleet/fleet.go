// Package fleet owns one session supervisor per configured account and
// applies operator actions across them.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/yegors/afkfleet/internal/accounts"
	"github.com/yegors/afkfleet/internal/clock"
	"github.com/yegors/afkfleet/internal/session"
	"github.com/yegors/afkfleet/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// ErrUnknownSlot is returned for slot ids that are not provisioned
var ErrUnknownSlot = errors.New("unknown slot")

// AccountStore is the persistent slot list
type AccountStore interface {
	List() []accounts.Account
	NextSlot() int
	Add(a accounts.Account) error
	Remove(slot int) error
	SetProtection(slot int, enabled bool) error
}

// StatsStore persists per-slot counters across restarts
type StatsStore interface {
	SaveStats(slot int, identity string, st session.Stats) error
	LoadStats(slot int, identity string) (session.Stats, bool, error)
	DeleteStats(slot int) error
}

// Config controls fleet-wide startup and housekeeping
type Config struct {
	AutoStart          bool
	StartStagger       time.Duration
	StatsFlushInterval time.Duration
}

// Fleet is the coordinator for all slots
type Fleet struct {
	cfg      Config
	policy   session.Policy
	accounts AccountStore
	stats    StatsStore // optional
	deps     session.Deps
	clock    clock.Clock
	logger   *logger.Logger

	mu    sync.RWMutex
	slots map[int]*session.Supervisor
	// statsMu orders stats flushes against slot removal
	statsMu sync.Mutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

// New creates a fleet. deps.Overrides is replaced by the account store.
func New(cfg Config, policy session.Policy, accts AccountStore, stats StatsStore, deps session.Deps, log *logger.Logger) (*Fleet, error) {
	if accts == nil {
		return nil, fmt.Errorf("account store is required")
	}
	if deps.Dialer == nil {
		return nil, fmt.Errorf("dialer is required")
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	deps.Overrides = accts

	return &Fleet{
		cfg:      cfg,
		policy:   policy,
		accounts: accts,
		stats:    stats,
		deps:     deps,
		clock:    deps.Clock,
		logger:   log.Named("fleet"),
		slots:    make(map[int]*session.Supervisor),
		stopCh:   make(chan struct{}),
	}, nil
}

// Start provisions a supervisor for every account and, when AutoStart is
// set, starts them spaced by StartStagger
func (f *Fleet) Start(ctx context.Context) error {
	list := f.accounts.List()
	f.logger.Info("Starting fleet",
		logger.Int("slots", len(list)),
		logger.Bool("auto_start", f.cfg.AutoStart))

	sups := make([]*session.Supervisor, 0, len(list))
	for _, a := range list {
		sup, err := f.provision(a)
		if err != nil {
			return err
		}
		sups = append(sups, sup)
	}

	if f.cfg.AutoStart && len(sups) > 0 {
		f.wg.Add(1)
		go f.staggeredStart(ctx, sups)
	}

	if f.stats != nil && f.cfg.StatsFlushInterval > 0 {
		f.wg.Add(1)
		go f.flushLoop(ctx)
	}
	return nil
}

func (f *Fleet) provision(a accounts.Account) (*session.Supervisor, error) {
	sup, err := session.New(session.Config{
		Slot:       a.Slot,
		Identity:   a.Username,
		Auth:       a.Auth,
		Protection: a.Protection,
	}, f.policy, f.deps, f.logger)
	if err != nil {
		return nil, fmt.Errorf("slot %d: %w", a.Slot, err)
	}

	if f.stats != nil {
		st, found, err := f.stats.LoadStats(a.Slot, a.Username)
		if err != nil {
			f.logger.Warn("Failed to restore slot stats",
				logger.Int("slot", a.Slot),
				logger.Error(err))
		} else if found {
			sup.RestoreStats(st)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, dup := f.slots[a.Slot]; dup {
		sup.Remove()
		return nil, fmt.Errorf("slot %d: %w", a.Slot, accounts.ErrSlotExists)
	}
	f.slots[a.Slot] = sup
	return sup, nil
}

func (f *Fleet) staggeredStart(ctx context.Context, sups []*session.Supervisor) {
	defer f.wg.Done()
	for i, sup := range sups {
		if i > 0 && f.cfg.StartStagger > 0 {
			select {
			case <-f.clock.After(f.cfg.StartStagger):
			case <-ctx.Done():
				return
			case <-f.stopCh:
				return
			}
		}
		if r := sup.Start(); !r.OK {
			f.logger.Warn("Slot did not start",
				logger.Int("slot", sup.Slot()),
				logger.String("reason", r.Message))
		}
	}
}

func (f *Fleet) flushLoop(ctx context.Context) {
	defer f.wg.Done()
	for {
		select {
		case <-f.clock.After(f.cfg.StatsFlushInterval):
			if err := f.FlushStats(); err != nil {
				f.logger.Warn("Failed to flush slot stats", logger.Error(err))
			}
		case <-ctx.Done():
			return
		case <-f.stopCh:
			return
		}
	}
}

// FlushStats persists every slot's counters
func (f *Fleet) FlushStats() error {
	if f.stats == nil {
		return nil
	}
	f.statsMu.Lock()
	defer f.statsMu.Unlock()

	var g errgroup.Group
	for _, sup := range f.Slots() {
		g.Go(func() error {
			return f.stats.SaveStats(sup.Slot(), sup.Identity(), sup.Stats())
		})
	}
	return g.Wait()
}

// Stop stops every slot in parallel and flushes stats
func (f *Fleet) Stop() error {
	f.once.Do(func() { close(f.stopCh) })
	f.wg.Wait()

	var g errgroup.Group
	for _, sup := range f.Slots() {
		g.Go(func() error {
			sup.Stop()
			return nil
		})
	}
	_ = g.Wait() // Stop never fails

	err := f.FlushStats()
	f.logger.Info("Fleet stopped")
	return err
}

// Get returns the supervisor for slot
func (f *Fleet) Get(slot int) (*session.Supervisor, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	sup, ok := f.slots[slot]
	if !ok {
		return nil, fmt.Errorf("slot %d: %w", slot, ErrUnknownSlot)
	}
	return sup, nil
}

// Slots returns every supervisor ordered by slot id
func (f *Fleet) Slots() []*session.Supervisor {
	f.mu.RLock()
	out := make([]*session.Supervisor, 0, len(f.slots))
	for _, sup := range f.slots {
		out = append(out, sup)
	}
	f.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Slot() < out[j].Slot() })
	return out
}

// Add provisions a new slot, persists it and optionally starts it. A zero
// slot id picks the next free one.
func (f *Fleet) Add(a accounts.Account, start bool) (*session.Supervisor, error) {
	if a.Slot == 0 {
		a.Slot = f.accounts.NextSlot()
	}
	if err := f.accounts.Add(a); err != nil {
		return nil, err
	}
	sup, err := f.provision(a)
	if err != nil {
		if rerr := f.accounts.Remove(a.Slot); rerr != nil {
			f.logger.Error("Failed to roll back account",
				logger.Int("slot", a.Slot),
				logger.Error(rerr))
		}
		return nil, err
	}
	f.logger.Info("Provisioned slot",
		logger.Int("slot", a.Slot),
		logger.String("identity", a.Username))
	if start {
		sup.Start()
	}
	return sup, nil
}

// Remove stops and forgets a slot
func (f *Fleet) Remove(slot int) error {
	f.statsMu.Lock()
	defer f.statsMu.Unlock()

	f.mu.Lock()
	sup, ok := f.slots[slot]
	delete(f.slots, slot)
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("slot %d: %w", slot, ErrUnknownSlot)
	}

	sup.Remove()
	if err := f.accounts.Remove(slot); err != nil {
		return err
	}
	if f.stats != nil {
		if err := f.stats.DeleteStats(slot); err != nil {
			f.logger.Warn("Failed to delete slot stats", logger.Int("slot", slot), logger.Error(err))
		}
	}
	f.logger.Info("Removed slot", logger.Int("slot", slot))
	return nil
}

// Statuses returns a status for every slot
func (f *Fleet) Statuses() []session.Status {
	sups := f.Slots()
	out := make([]session.Status, 0, len(sups))
	for _, sup := range sups {
		out = append(out, sup.Status())
	}
	return out
}

// Summary counts slots per phase
type Summary struct {
	Total   int            `json:"total"`
	Paused  int            `json:"paused"`
	InLobby int            `json:"in_lobby"`
	ByPhase map[string]int `json:"by_phase"`
}

// Summary aggregates the current statuses
func (f *Fleet) Summary() Summary {
	s := Summary{ByPhase: make(map[string]int)}
	for _, st := range f.Statuses() {
		s.Total++
		s.ByPhase[st.Phase.String()]++
		if st.Paused {
			s.Paused++
		}
		if st.InLobby {
			s.InLobby++
		}
	}
	return s
}

// SlotResult is the outcome of an action on one slot
type SlotResult struct {
	Slot int `json:"slot"`
	session.Result
}

// Each applies fn to every slot, in slot order
func (f *Fleet) Each(fn func(sup *session.Supervisor) session.Result) []SlotResult {
	sups := f.Slots()
	out := make([]SlotResult, 0, len(sups))
	for _, sup := range sups {
		out = append(out, SlotResult{Slot: sup.Slot(), Result: fn(sup)})
	}
	return out
}

// Broadcast sends chat text from every online slot
func (f *Fleet) Broadcast(text string) []SlotResult {
	return f.Each(func(sup *session.Supervisor) session.Result {
		return sup.SendChat(text)
	})
}

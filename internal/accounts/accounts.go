// Package accounts keeps the slot list in a YAML file and persists changes
// made at runtime (provisioning, removal, protection overrides).
package accounts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

var (
	ErrSlotExists  = errors.New("slot already exists")
	ErrSlotUnknown = errors.New("unknown slot")
)

// Account is one slot entry
type Account struct {
	Slot       int    `yaml:"slot" json:"slot"`
	Username   string `yaml:"username" json:"username"`
	Auth       string `yaml:"auth,omitempty" json:"auth,omitempty"` // "microsoft" or "offline"
	Protection *bool  `yaml:"protection,omitempty" json:"protection,omitempty"`
}

// Validate checks a single account entry
func (a Account) Validate() error {
	if a.Slot <= 0 {
		return fmt.Errorf("slot must be positive, got %d", a.Slot)
	}
	if strings.TrimSpace(a.Username) == "" {
		return fmt.Errorf("slot %d: username is required", a.Slot)
	}
	switch a.Auth {
	case "", "microsoft", "offline":
	default:
		return fmt.Errorf("slot %d: unknown auth %q (supported: microsoft, offline)", a.Slot, a.Auth)
	}
	return nil
}

type file struct {
	Accounts []Account `yaml:"accounts"`
}

// Store is the in-memory account list backed by a YAML file
type Store struct {
	mu       sync.Mutex
	path     string
	accounts map[int]Account
}

// Load reads the account file at path. A missing file yields an empty store
// that is created on the first mutation.
func Load(path string) (*Store, error) {
	s := &Store{path: path, accounts: make(map[int]Account)}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read accounts file: %w", err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse accounts file: %w", err)
	}
	for _, a := range f.Accounts {
		if err := a.Validate(); err != nil {
			return nil, err
		}
		if _, dup := s.accounts[a.Slot]; dup {
			return nil, fmt.Errorf("slot %d: %w", a.Slot, ErrSlotExists)
		}
		s.accounts[a.Slot] = a
	}
	return s, nil
}

// List returns all accounts ordered by slot
func (s *Store) List() []Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked()
}

func (s *Store) listLocked() []Account {
	out := make([]Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out
}

// Get returns the account for slot
func (s *Store) Get(slot int) (Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[slot]
	return a, ok
}

// NextSlot returns the smallest unused positive slot id
func (s *Store) NextSlot() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for slot := 1; ; slot++ {
		if _, used := s.accounts[slot]; !used {
			return slot
		}
	}
}

// Add provisions a new slot and saves the file
func (s *Store) Add(a Account) error {
	if err := a.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.accounts[a.Slot]; dup {
		return fmt.Errorf("slot %d: %w", a.Slot, ErrSlotExists)
	}
	s.accounts[a.Slot] = a
	if err := s.saveLocked(); err != nil {
		delete(s.accounts, a.Slot)
		return err
	}
	return nil
}

// Remove deletes a slot and saves the file
func (s *Store) Remove(slot int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[slot]
	if !ok {
		return fmt.Errorf("slot %d: %w", slot, ErrSlotUnknown)
	}
	delete(s.accounts, slot)
	if err := s.saveLocked(); err != nil {
		s.accounts[slot] = a
		return err
	}
	return nil
}

// SetProtection records the protection override for slot and saves the file
func (s *Store) SetProtection(slot int, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[slot]
	if !ok {
		return fmt.Errorf("slot %d: %w", slot, ErrSlotUnknown)
	}
	prev := a.Protection
	a.Protection = &enabled
	s.accounts[slot] = a
	if err := s.saveLocked(); err != nil {
		a.Protection = prev
		s.accounts[slot] = a
		return err
	}
	return nil
}

// Save writes the current list to disk
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

// saveLocked writes to a temp file and renames it over the target
func (s *Store) saveLocked() error {
	data, err := yaml.Marshal(file{Accounts: s.listLocked()})
	if err != nil {
		return fmt.Errorf("failed to encode accounts: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create accounts directory: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write accounts file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace accounts file: %w", err)
	}
	return nil
}

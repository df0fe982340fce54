package accounts

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeAccounts(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadOrdersBySlot(t *testing.T) {
	path := writeAccounts(t, `
accounts:
  - slot: 2
    username: second
    auth: offline
  - slot: 1
    username: first
    protection: true
`)
	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	on := true
	want := []Account{
		{Slot: 1, Username: "first", Protection: &on},
		{Slot: 2, Username: "second", Auth: "offline"},
	}
	if diff := cmp.Diff(want, s.List()); diff != "" {
		t.Fatalf("accounts mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadRejectsInvalidEntries(t *testing.T) {
	tests := map[string]string{
		"duplicate slot": "accounts:\n  - {slot: 1, username: a}\n  - {slot: 1, username: b}\n",
		"zero slot":      "accounts:\n  - {slot: 0, username: a}\n",
		"no username":    "accounts:\n  - {slot: 3}\n",
		"bad auth":       "accounts:\n  - {slot: 3, username: a, auth: mojang}\n",
		"bad yaml":       "accounts: [",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeAccounts(t, body)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestMissingFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "accounts.yaml")
	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(s.List()) != 0 || s.NextSlot() != 1 {
		t.Fatal("expected empty store")
	}

	if err := s.Add(Account{Slot: 1, Username: "fresh"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("file not created: %v", err)
	}
}

func TestMutationsPersist(t *testing.T) {
	path := writeAccounts(t, "accounts:\n  - {slot: 1, username: first}\n")
	s, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Add(Account{Slot: 1, Username: "again"}); !errors.Is(err, ErrSlotExists) {
		t.Fatalf("Add duplicate = %v", err)
	}
	if got := s.NextSlot(); got != 2 {
		t.Fatalf("NextSlot = %d", got)
	}
	if err := s.Add(Account{Slot: 2, Username: "second", Auth: "microsoft"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.SetProtection(1, false); err != nil {
		t.Fatalf("SetProtection: %v", err)
	}
	if err := s.SetProtection(9, true); !errors.Is(err, ErrSlotUnknown) {
		t.Fatalf("SetProtection unknown = %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	off := false
	want := []Account{
		{Slot: 1, Username: "first", Protection: &off},
		{Slot: 2, Username: "second", Auth: "microsoft"},
	}
	if diff := cmp.Diff(want, reloaded.List()); diff != "" {
		t.Fatalf("reloaded mismatch (-want +got):\n%s", diff)
	}

	if err := s.Remove(1); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := s.Remove(1); !errors.Is(err, ErrSlotUnknown) {
		t.Fatalf("Remove twice = %v", err)
	}
	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "first") {
		t.Fatalf("removed account still on disk:\n%s", data)
	}
}

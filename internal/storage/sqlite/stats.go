package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/yegors/afkfleet/internal/session"
)

// SaveStats upserts the counters for one slot
func (d *DB) SaveStats(slot int, identity string, st session.Stats) error {
	// Live connection start is not meaningful across restarts
	st.ConnectedSince = time.Time{}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}
	_, err = d.db.Exec(
		`INSERT INTO slot_stats (slot, identity, stats, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(slot) DO UPDATE SET identity = excluded.identity, stats = excluded.stats, updated_at = excluded.updated_at`,
		slot, identity, string(data), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save stats for slot %d: %w", slot, err)
	}
	return nil
}

// LoadStats returns the stored counters for slot. found is false when the
// slot has none or they belong to a different identity.
func (d *DB) LoadStats(slot int, identity string) (st session.Stats, found bool, err error) {
	var (
		storedIdentity string
		data           string
	)
	err = d.db.QueryRow(`SELECT identity, stats FROM slot_stats WHERE slot = ?`, slot).Scan(&storedIdentity, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return st, false, nil
	}
	if err != nil {
		return st, false, fmt.Errorf("failed to load stats for slot %d: %w", slot, err)
	}
	if storedIdentity != identity {
		return st, false, nil
	}
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		return st, false, fmt.Errorf("failed to decode stats for slot %d: %w", slot, err)
	}
	return st, true, nil
}

// DeleteStats forgets the counters for slot
func (d *DB) DeleteStats(slot int) error {
	if _, err := d.db.Exec(`DELETE FROM slot_stats WHERE slot = ?`, slot); err != nil {
		return fmt.Errorf("failed to delete stats for slot %d: %w", slot, err)
	}
	return nil
}

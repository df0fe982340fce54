package sqlite

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/yegors/afkfleet/internal/notify"
)

// EventStore persists slot notifications. It is a notify.Sink.
type EventStore struct {
	*DB
}

// Events returns the event store backed by d
func (d *DB) Events() *EventStore {
	return &EventStore{DB: d}
}

func (s *EventStore) Name() string { return "sqlite" }

// Deliver records n
func (s *EventStore) Deliver(n notify.Notification) error {
	return s.Record(n)
}

// Record stores one notification
func (s *EventStore) Record(n notify.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Time.IsZero() {
		n.Time = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO session_events (id, slot, identity, kind, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		n.ID, n.Slot, n.Identity, string(n.Kind), n.Message, n.Time.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// ListBySlot returns up to limit events for slot, newest first
func (s *EventStore) ListBySlot(slot, limit int) ([]notify.Notification, error) {
	return s.query(
		`SELECT id, slot, identity, kind, message, created_at FROM session_events
		WHERE slot = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		slot, limit,
	)
}

// ListRecent returns up to limit events across all slots, newest first
func (s *EventStore) ListRecent(limit int) ([]notify.Notification, error) {
	return s.query(
		`SELECT id, slot, identity, kind, message, created_at FROM session_events
		ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
}

// Prune deletes events older than cutoff and returns how many were removed
func (s *EventStore) Prune(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM session_events WHERE created_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned events: %w", err)
	}
	if n > 0 {
		s.logger.Info("Pruned old events", Int("count", int(n)))
	}
	return n, nil
}

func (s *EventStore) query(q string, args ...any) ([]notify.Notification, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []notify.Notification
	for rows.Next() {
		var (
			n    notify.Notification
			kind string
			ms   int64
		)
		if err := rows.Scan(&n.ID, &n.Slot, &n.Identity, &kind, &n.Message, &ms); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		n.Kind = notify.Kind(kind)
		n.Time = time.UnixMilli(ms)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return out, nil
}

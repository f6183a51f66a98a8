package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// OutboxSink appends events to an event_outbox table for a relay to deliver.
// Inserts are idempotent on event id.
type OutboxSink struct {
	db       *sql.DB
	postgres bool
}

// NewOutboxSink creates the outbox table if needed. postgres selects $n
// placeholders; otherwise sqlite-style ? is used.
func NewOutboxSink(ctx context.Context, db *sql.DB, postgres bool) (*OutboxSink, error) {
	s := &OutboxSink{db: db, postgres: postgres}
	query := `
	CREATE TABLE IF NOT EXISTS event_outbox (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		sequence BIGINT NOT NULL,
		event_json TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'PENDING'
	)`
	if _, err := db.ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("migrate event_outbox: %w", err)
	}
	return s, nil
}

// OutboxRecord is one undelivered event.
type OutboxRecord struct {
	ID     string
	Event  Event
	Status string
}

func (s *OutboxSink) Emit(ctx context.Context, evts []Event) error {
	query := `
		INSERT INTO event_outbox (id, name, sequence, event_json, status)
		VALUES (?, ?, ?, ?, 'PENDING')
		ON CONFLICT (id) DO NOTHING
	`
	if s.postgres {
		query = `
		INSERT INTO event_outbox (id, name, sequence, event_json, status)
		VALUES ($1, $2, $3, $4, 'PENDING')
		ON CONFLICT (id) DO NOTHING
	`
	}
	for _, e := range evts {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, query, e.ID, e.Name, int64(e.Sequence), string(data)); err != nil {
			return fmt.Errorf("failed to enqueue event %s: %w", e.ID, err)
		}
	}
	return nil
}

// Pending returns up to limit undelivered events, oldest sequence first.
func (s *OutboxSink) Pending(ctx context.Context, limit int) ([]OutboxRecord, error) {
	query := `SELECT id, event_json, status FROM event_outbox WHERE status = 'PENDING' ORDER BY sequence ASC, id ASC LIMIT ?`
	if s.postgres {
		query = `SELECT id, event_json, status FROM event_outbox WHERE status = 'PENDING' ORDER BY sequence ASC, id ASC LIMIT $1`
	}
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	//nolint:prealloc // result count unknown from SQL query
	var out []OutboxRecord
	for rows.Next() {
		var id, raw, status string
		if err := rows.Scan(&id, &raw, &status); err != nil {
			return nil, err
		}
		var e Event
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("corrupt event JSON in outbox record %s: %w", id, err)
		}
		out = append(out, OutboxRecord{ID: id, Event: e, Status: status})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// MarkDelivered flags an event as handed off.
func (s *OutboxSink) MarkDelivered(ctx context.Context, id string) error {
	query := `UPDATE event_outbox SET status = 'DONE' WHERE id = ?`
	if s.postgres {
		query = `UPDATE event_outbox SET status = 'DONE' WHERE id = $1`
	}
	_, err := s.db.ExecContext(ctx, query, id)
	return err
}

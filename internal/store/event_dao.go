package store

import (
	"context"
	"fmt"
	"time"
)

// EventRow is the persisted shape of an engine.Event, kept free of any
// dependency on the engine package (store is a leaf).
type EventRow struct {
	ID         string
	Timestamp  time.Time
	Origin     string
	Category   string
	Message    string
	DurationMS int64

	// File and Line preserve the triggering call site (spec §4.H: "append-
	// only events are persisted with triggering source file/line preserved
	// by the call site"), captured via runtime.Caller at the recordEvent
	// call site rather than here, so Store stays free of any engine-layer
	// concern.
	File string
	Line int
}

// InsertEvent appends one event row. Events are append-only per spec §4.H.
func (s *Store) InsertEvent(ctx context.Context, e EventRow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO active_directory_event (id, timestamp, origin, category, message, duration_ms, file, line) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp.Format(time.RFC3339Nano), e.Origin, e.Category, e.Message, e.DurationMS, e.File, e.Line)
	if err != nil {
		return fmt.Errorf("store: inserting event: %w", err)
	}

	return nil
}

// LoadEvents returns up to count events starting at offset, newest first —
// the backing query for the `loadEventLog(offset,count)` RPC of spec §6.
func (s *Store) LoadEvents(ctx context.Context, offset, count int) ([]EventRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, origin, category, message, duration_ms, file, line
		   FROM active_directory_event ORDER BY timestamp DESC LIMIT ? OFFSET ?`, count, offset)
	if err != nil {
		return nil, fmt.Errorf("store: loading events: %w", err)
	}
	defer rows.Close()

	var events []EventRow

	for rows.Next() {
		var (
			e  EventRow
			ts string
		)

		if err := rows.Scan(&e.ID, &ts, &e.Origin, &e.Category, &e.Message, &e.DurationMS, &e.File, &e.Line); err != nil {
			return nil, err
		}

		if parsed, parseErr := time.Parse(time.RFC3339Nano, ts); parseErr == nil {
			e.Timestamp = parsed
		}

		events = append(events, e)
	}

	return events, rows.Err()
}

// DeleteAllEvents implements the `deleteEventLog` RPC.
func (s *Store) DeleteAllEvents(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM active_directory_event`); err != nil {
		return fmt.Errorf("store: deleting events: %w", err)
	}

	return nil
}

// PruneEventsOlderThan deletes events older than the cutoff — "events
// older than N days (default 30) are pruned at the start of each sync"
// (spec §3).
func (s *Store) PruneEventsOlderThan(ctx context.Context, cutoff time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM active_directory_event WHERE timestamp < ?`, cutoff.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("store: pruning events: %w", err)
	}

	return nil
}

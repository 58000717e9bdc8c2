package store

import (
	"context"
	"fmt"
	"time"
)

// SyncLogEntry is one append-only record of sync activity. Entries are
// diagnostic only and are never replayed.
type SyncLogEntry struct {
	ID        int64
	Timestamp time.Time
	Action    string
	NoteID    string
	Status    string
	Message   string
}

// LogSync appends an entry to the sync log.
func (s *Store) LogSync(ctx context.Context, action, noteID, status, message string) error {
	query := `
	INSERT INTO sync_log (timestamp, action, note_id, status, message)
	VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.conn.ExecContext(ctx, query,
		time.Now().UTC().Format(time.RFC3339Nano), action, noteID, status, message)
	if err != nil {
		return fmt.Errorf("failed to append sync log: %w", err)
	}
	return nil
}

// ListSyncLog returns the most recent entries, newest first.
// limit <= 0 returns everything.
func (s *Store) ListSyncLog(ctx context.Context, limit int) ([]SyncLogEntry, error) {
	query := "SELECT id, timestamp, action, note_id, status, message FROM sync_log ORDER BY id DESC"
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync log: %w", err)
	}
	defer rows.Close()

	var entries []SyncLogEntry
	for rows.Next() {
		var (
			e  SyncLogEntry
			ts string
		)
		if err := rows.Scan(&e.ID, &ts, &e.Action, &e.NoteID, &e.Status, &e.Message); err != nil {
			return nil, fmt.Errorf("failed to scan sync log entry: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			e.Timestamp = t
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync log: %w", err)
	}
	return entries, nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/keepsync/keepsync/internal/note"
)

// SaveLabel inserts or updates a label. Name uniqueness is enforced by
// the schema; saving an existing name updates that label in place.
func (s *Store) SaveLabel(ctx context.Context, l *note.Label) error {
	if l.Name == "" {
		return fmt.Errorf("label name is required")
	}
	query := `
	INSERT INTO labels (id, name, color, keep_id) VALUES (?, ?, ?, ?)
	ON CONFLICT(name) DO UPDATE SET
		color = excluded.color,
		keep_id = excluded.keep_id
	`
	_, err := s.conn.ExecContext(ctx, query, l.ID, l.Name, l.Color, nullIfEmpty(l.KeepID))
	if err != nil {
		return fmt.Errorf("failed to save label %q: %w", l.Name, err)
	}
	return nil
}

// GetLabel retrieves a label by name. Returns ErrNotFound if missing.
func (s *Store) GetLabel(ctx context.Context, name string) (*note.Label, error) {
	row := s.conn.QueryRowContext(ctx,
		"SELECT id, name, color, keep_id FROM labels WHERE name = ?", name)
	l, err := scanLabel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return l, err
}

// EnsureLabel returns the label with the given name, creating it if it
// does not exist yet.
func (s *Store) EnsureLabel(ctx context.Context, name string) (*note.Label, error) {
	l, err := s.GetLabel(ctx, name)
	if err == nil {
		return l, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	l = note.NewLabel(name)
	if err := s.SaveLabel(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

// ListLabels returns all labels ordered by name.
func (s *Store) ListLabels(ctx context.Context) ([]*note.Label, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT id, name, color, keep_id FROM labels ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list labels: %w", err)
	}
	defer rows.Close()

	var labels []*note.Label
	for rows.Next() {
		l, err := scanLabel(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan label: %w", err)
		}
		labels = append(labels, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating labels: %w", err)
	}
	return labels, nil
}

// DeleteLabel removes a label by id. Idempotent.
func (s *Store) DeleteLabel(ctx context.Context, id string) error {
	if _, err := s.conn.ExecContext(ctx, "DELETE FROM labels WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete label %s: %w", id, err)
	}
	return nil
}

func scanLabel(row rowScanner) (*note.Label, error) {
	var (
		l      note.Label
		keepID sql.NullString
	)
	if err := row.Scan(&l.ID, &l.Name, &l.Color, &keepID); err != nil {
		return nil, err
	}
	l.KeepID = keepID.String
	return &l, nil
}

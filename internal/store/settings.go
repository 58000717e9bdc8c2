package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// SetSetting stores a key/value pair. The value is JSON-encoded, so
// scalars and structures both round-trip.
func (s *Store) SetSetting(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode setting %q: %w", key, err)
	}
	query := `
	INSERT INTO settings (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	if _, err := s.conn.ExecContext(ctx, query, key, string(data)); err != nil {
		return fmt.Errorf("failed to save setting %q: %w", key, err)
	}
	return nil
}

// GetSetting decodes the value stored under key into out.
// Returns ErrNotFound if the key is absent.
func (s *Store) GetSetting(ctx context.Context, key string, out interface{}) error {
	var raw sql.NullString
	err := s.conn.QueryRowContext(ctx,
		"SELECT value FROM settings WHERE key = ?", key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read setting %q: %w", key, err)
	}
	if !raw.Valid {
		return ErrNotFound
	}
	if err := json.Unmarshal([]byte(raw.String), out); err != nil {
		return fmt.Errorf("failed to decode setting %q: %w", key, err)
	}
	return nil
}

// GetSettingString is a convenience for string-valued settings,
// returning the empty string when the key is absent.
func (s *Store) GetSettingString(ctx context.Context, key string) (string, error) {
	var v string
	err := s.GetSetting(ctx, key, &v)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return v, err
}

// DeleteSetting removes a key. Idempotent.
func (s *Store) DeleteSetting(ctx context.Context, key string) error {
	if _, err := s.conn.ExecContext(ctx, "DELETE FROM settings WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete setting %q: %w", key, err)
	}
	return nil
}

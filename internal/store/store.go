// Package store provides the local sqlite repository for notes, labels,
// settings and the sync log.
//
// The store is the single source of truth for both the UI layer and the
// sync engine. It runs embedded SQLite (ncruces/go-sqlite3, no cgo) in
// WAL mode so the background sync goroutine and the UI goroutine can
// read and write concurrently.
//
// Layout:
//   - notes:    full note records, one row per note
//   - labels:   named tags, unique by name
//   - settings: key/value pairs, values JSON-encoded
//   - sync_log: append-only record of sync activity
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/keepsync/keepsync/internal/note"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Store wraps the sqlite connection with note-specific operations.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates a store at the specified path, creating the database and
// schema on first use.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	st, err := store.Open(filepath.Join(home, ".keepsync", "notes.db"))
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	st := &Store{conn: conn, path: path}

	// WAL mode lets the sync goroutine read while the UI writes.
	if _, err := st.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := st.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := st.initSchema(context.Background()); err != nil {
		_ = st.Close()
		return nil, err
	}

	return st, nil
}

// Close closes the connection after checkpointing the WAL.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}

// initSchema creates the tables and indexes. Idempotent.
func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS notes (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		note_type TEXT NOT NULL DEFAULT 'note',
		checklist_items TEXT NOT NULL DEFAULT '[]',
		labels TEXT NOT NULL DEFAULT '[]',
		pinned INTEGER NOT NULL DEFAULT 0,
		archived INTEGER NOT NULL DEFAULT 0,
		trashed INTEGER NOT NULL DEFAULT 0,
		color TEXT NOT NULL DEFAULT '',
		keep_id TEXT,
		sync_status TEXT NOT NULL DEFAULT 'local_only',
		local_modified TEXT,
		remote_modified TEXT,
		content_hash TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS labels (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		color TEXT NOT NULL DEFAULT '',
		keep_id TEXT
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT
	);

	CREATE TABLE IF NOT EXISTS sync_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		action TEXT NOT NULL,
		note_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_notes_keep_id ON notes(keep_id);
	CREATE INDEX IF NOT EXISTS idx_notes_sync_status ON notes(sync_status);
	CREATE INDEX IF NOT EXISTS idx_notes_pinned ON notes(pinned);
	CREATE INDEX IF NOT EXISTS idx_notes_archived ON notes(archived);
	CREATE INDEX IF NOT EXISTS idx_notes_trashed ON notes(trashed);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// SaveNote inserts or updates a note by id.
//
// The content hash and updated-at timestamp are recomputed before the
// write. The upsert is a single statement, so a crash never leaves a
// half-written record. The in-memory note is only stamped after the
// write succeeds.
func (s *Store) SaveNote(ctx context.Context, n *note.Note) error {
	if err := n.Validate(); err != nil {
		return fmt.Errorf("invalid note: %w", err)
	}

	updatedAt := time.Now().UTC()
	hash := n.Hash()

	n.SetLabels(n.Labels)
	itemsJSON, err := json.Marshal(n.ChecklistItems)
	if err != nil {
		return fmt.Errorf("failed to marshal checklist items: %w", err)
	}
	labelsJSON, err := json.Marshal(n.Labels)
	if err != nil {
		return fmt.Errorf("failed to marshal labels: %w", err)
	}

	query := `
	INSERT INTO notes (
		id, title, content, note_type, checklist_items, labels,
		pinned, archived, trashed, color, keep_id, sync_status,
		local_modified, remote_modified, content_hash, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title = excluded.title,
		content = excluded.content,
		note_type = excluded.note_type,
		checklist_items = excluded.checklist_items,
		labels = excluded.labels,
		pinned = excluded.pinned,
		archived = excluded.archived,
		trashed = excluded.trashed,
		color = excluded.color,
		keep_id = excluded.keep_id,
		sync_status = excluded.sync_status,
		local_modified = excluded.local_modified,
		remote_modified = excluded.remote_modified,
		content_hash = excluded.content_hash,
		updated_at = excluded.updated_at
	`

	noteType := n.NoteType
	if noteType == "" {
		noteType = note.TypeNote
	}
	status := n.SyncStatus
	if status == "" {
		status = note.StatusLocalOnly
	}

	_, err = s.conn.ExecContext(ctx, query,
		n.ID,
		n.Title,
		n.Content,
		string(noteType),
		string(itemsJSON),
		string(labelsJSON),
		boolToInt(n.Pinned),
		boolToInt(n.Archived),
		boolToInt(n.Trashed),
		n.Color,
		nullIfEmpty(n.KeepID),
		string(status),
		timeToNullString(n.LocalModified),
		timeToNullString(n.RemoteModified),
		hash,
		n.CreatedAt.UTC().Format(time.RFC3339Nano),
		updatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save note %s: %w", n.ID, err)
	}

	n.ContentHash = hash
	n.UpdatedAt = updatedAt
	return nil
}

// GetNote retrieves a note by id. Returns ErrNotFound if it does not exist.
func (s *Store) GetNote(ctx context.Context, id string) (*note.Note, error) {
	row := s.conn.QueryRowContext(ctx, selectNote+" WHERE id = ?", id)
	n, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return n, err
}

// GetNoteByRemoteID retrieves the note linked to the given remote id.
// Returns ErrNotFound if no local note references it.
func (s *Store) GetNoteByRemoteID(ctx context.Context, keepID string) (*note.Note, error) {
	row := s.conn.QueryRowContext(ctx, selectNote+" WHERE keep_id = ?", keepID)
	n, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return n, err
}

// ListOptions filters ListNotes. The zero value excludes trashed and
// archived notes.
type ListOptions struct {
	IncludeTrashed  bool
	IncludeArchived bool
}

// ListNotes returns notes ordered pinned-first, then most recently
// updated first.
func (s *Store) ListNotes(ctx context.Context, opts ListOptions) ([]*note.Note, error) {
	query := selectNote + " WHERE 1=1"
	if !opts.IncludeTrashed {
		query += " AND trashed = 0"
	}
	if !opts.IncludeArchived {
		query += " AND archived = 0"
	}
	query += orderByPinnedRecent

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	defer rows.Close()
	return scanNotes(rows)
}

// ListByLabel returns non-trashed notes carrying the named label.
func (s *Store) ListByLabel(ctx context.Context, name string) ([]*note.Note, error) {
	query := selectNote + `, json_each(notes.labels)
	WHERE json_each.value = ? AND trashed = 0` + orderByPinnedRecent

	rows, err := s.conn.QueryContext(ctx, query, name)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes by label: %w", err)
	}
	defer rows.Close()
	return scanNotes(rows)
}

// Search returns non-trashed notes whose title or content contains the
// query, case-insensitively.
func (s *Store) Search(ctx context.Context, query string) ([]*note.Note, error) {
	pattern := "%" + escapeLike(query) + "%"
	sqlQuery := selectNote + `
	WHERE (title LIKE ? ESCAPE '\' OR content LIKE ? ESCAPE '\') AND trashed = 0` +
		orderByPinnedRecent

	rows, err := s.conn.QueryContext(ctx, sqlQuery, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to search notes: %w", err)
	}
	defer rows.Close()
	return scanNotes(rows)
}

// ListByStatus returns notes in any of the given sync states.
// Trashed notes are excluded: they are never pushed.
func (s *Store) ListByStatus(ctx context.Context, statuses ...note.SyncStatus) ([]*note.Note, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	query := selectNote + " WHERE trashed = 0 AND sync_status IN ("
	args := make([]interface{}, len(statuses))
	for i, st := range statuses {
		if i > 0 {
			query += ", "
		}
		query += "?"
		args[i] = string(st)
	}
	query += ")" + orderByPinnedRecent

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes by status: %w", err)
	}
	defer rows.Close()
	return scanNotes(rows)
}

// ListLinked returns all notes holding a remote id, including archived
// ones. The sync engine uses this to detect remote deletions.
func (s *Store) ListLinked(ctx context.Context) ([]*note.Note, error) {
	rows, err := s.conn.QueryContext(ctx, selectNote+" WHERE keep_id IS NOT NULL AND keep_id != ''")
	if err != nil {
		return nil, fmt.Errorf("failed to list linked notes: %w", err)
	}
	defer rows.Close()
	return scanNotes(rows)
}

// DeleteNote soft-deletes a note (moves it to trash). With permanent
// set, the record is removed irrevocably.
func (s *Store) DeleteNote(ctx context.Context, id string, permanent bool) error {
	var err error
	if permanent {
		_, err = s.conn.ExecContext(ctx, "DELETE FROM notes WHERE id = ?", id)
	} else {
		_, err = s.conn.ExecContext(ctx,
			"UPDATE notes SET trashed = 1, updated_at = ? WHERE id = ?",
			time.Now().UTC().Format(time.RFC3339Nano), id)
	}
	if err != nil {
		return fmt.Errorf("failed to delete note %s: %w", id, err)
	}
	return nil
}

// RestoreNote clears the trashed flag.
func (s *Store) RestoreNote(ctx context.Context, id string) error {
	_, err := s.conn.ExecContext(ctx,
		"UPDATE notes SET trashed = 0, updated_at = ? WHERE id = ?",
		time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("failed to restore note %s: %w", id, err)
	}
	return nil
}

// MarkEdited stamps the note as locally edited and persists it. Linked
// notes flip to pending_push so the next sync cycle picks them up.
func (s *Store) MarkEdited(ctx context.Context, n *note.Note) error {
	n.MarkEdited(time.Now())
	return s.SaveNote(ctx, n)
}

// NoteCount returns the total number of note records.
func (s *Store) NoteCount(ctx context.Context) (int, error) {
	var count int
	if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM notes").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count notes: %w", err)
	}
	return count, nil
}

const selectNote = `
	SELECT notes.id, title, content, note_type, checklist_items, labels,
	       pinned, archived, trashed, color, keep_id, sync_status,
	       local_modified, remote_modified, content_hash, created_at, updated_at
	FROM notes`

const orderByPinnedRecent = " ORDER BY pinned DESC, updated_at DESC"

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNote(row rowScanner) (*note.Note, error) {
	var (
		n            note.Note
		noteType     string
		itemsJSON    string
		labelsJSON   string
		pinned       int
		archived     int
		trashed      int
		keepID       sql.NullString
		status       string
		localMod     sql.NullString
		remoteMod    sql.NullString
		createdAtStr string
		updatedAtStr string
	)

	err := row.Scan(
		&n.ID, &n.Title, &n.Content, &noteType, &itemsJSON, &labelsJSON,
		&pinned, &archived, &trashed, &n.Color, &keepID, &status,
		&localMod, &remoteMod, &n.ContentHash, &createdAtStr, &updatedAtStr,
	)
	if err != nil {
		return nil, err
	}

	n.NoteType = note.Type(noteType)
	n.Pinned = pinned != 0
	n.Archived = archived != 0
	n.Trashed = trashed != 0
	n.KeepID = keepID.String
	n.SyncStatus = note.SyncStatus(status)
	n.LocalModified = nullStringToTime(localMod)
	n.RemoteModified = nullStringToTime(remoteMod)

	if itemsJSON != "" && itemsJSON != "null" {
		if err := json.Unmarshal([]byte(itemsJSON), &n.ChecklistItems); err != nil {
			return nil, fmt.Errorf("failed to unmarshal checklist items: %w", err)
		}
	}
	if labelsJSON != "" && labelsJSON != "null" {
		if err := json.Unmarshal([]byte(labelsJSON), &n.Labels); err != nil {
			return nil, fmt.Errorf("failed to unmarshal labels: %w", err)
		}
	}

	if t, err := time.Parse(time.RFC3339Nano, createdAtStr); err == nil {
		n.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAtStr); err == nil {
		n.UpdatedAt = t
	}

	return &n, nil
}

func scanNotes(rows *sql.Rows) ([]*note.Note, error) {
	var notes []*note.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notes: %w", err)
	}
	return notes, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}

// Package backupfile implements the file-based cloud store provider.
//
// Notes are kept in a single JSON backup document inside a backing
// directory, typically a folder mirrored by a desktop cloud client
// (Drive, Dropbox and the like). The document uses the same interchange
// format as export/import, so a backup is directly importable.
package backupfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/keepsync/keepsync/internal/note"
	"github.com/keepsync/keepsync/internal/provider"
)

// DocumentName is the backup file name inside the backing directory.
const DocumentName = "notes_backup.json"

func init() {
	provider.Register(provider.NameBackupFile, func() provider.Provider { return New() })
}

// Provider stores notes in a JSON document inside a local directory.
// All file access is serialized through an internal mutex; writes go
// through a temp file plus rename so readers never observe a partial
// document.
type Provider struct {
	mu        sync.Mutex
	root      string
	connected bool
}

// New creates a disconnected file-backup provider.
func New() *Provider {
	return &Provider{}
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return provider.NameBackupFile }

// Connect implements provider.Provider. The credential Container names
// the backing directory, which is created if missing.
func (p *Provider) Connect(_ context.Context, creds provider.Credentials) (bool, string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if creds.Container == "" {
		return false, "backup directory is required"
	}
	abs, err := filepath.Abs(creds.Container)
	if err != nil {
		return false, fmt.Sprintf("cannot resolve backup directory: %v", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return false, fmt.Sprintf("cannot create backup directory: %v", err)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return false, fmt.Sprintf("backup path is not a directory: %s", abs)
	}

	p.root = abs
	p.connected = true
	return true, fmt.Sprintf("connected to backup directory %s", abs)
}

// Disconnect implements provider.Provider.
func (p *Provider) Disconnect(_ context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.root = ""
	p.connected = false
}

// IsConnected implements provider.Provider.
func (p *Provider) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Refresh implements provider.Provider. Reads always hit the document
// on disk, so there is nothing to do.
func (p *Provider) Refresh(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return fmt.Errorf("backupfile: not connected")
	}
	return nil
}

// DocumentPath returns the absolute path of the backup document, or
// empty when disconnected. The scheduler's watcher uses this to react
// to external changes from the cloud client.
func (p *Provider) DocumentPath() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return ""
	}
	return filepath.Join(p.root, DocumentName)
}

// FetchSnapshot implements provider.Provider.
func (p *Provider) FetchSnapshot(_ context.Context) ([]provider.RemoteNote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	doc, err := p.readDocument()
	if err != nil {
		return nil, err
	}

	snapshot := make([]provider.RemoteNote, 0, len(doc.Notes))
	for _, n := range doc.Notes {
		snapshot = append(snapshot, toRemote(n))
	}
	return snapshot, nil
}

// CreateRemote implements provider.Provider.
func (p *Provider) CreateRemote(_ context.Context, n *note.Note) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	doc, err := p.readDocument()
	if err != nil {
		return "", err
	}

	record := recordFromLocal(n)
	record.ID = uuid.NewString()
	doc.Notes = append(doc.Notes, record)

	if err := p.writeDocument(doc); err != nil {
		return "", err
	}
	return record.ID, nil
}

// UpdateRemote implements provider.Provider.
func (p *Provider) UpdateRemote(_ context.Context, remoteID string, n *note.Note) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	doc, err := p.readDocument()
	if err != nil {
		return err
	}

	for i, existing := range doc.Notes {
		if existing.ID == remoteID {
			record := recordFromLocal(n)
			record.ID = remoteID
			record.CreatedAt = existing.CreatedAt
			doc.Notes[i] = record
			return p.writeDocument(doc)
		}
	}
	return fmt.Errorf("backupfile: remote note %s not found", remoteID)
}

// DeleteRemote implements provider.Provider. Idempotent.
func (p *Provider) DeleteRemote(_ context.Context, remoteID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	doc, err := p.readDocument()
	if err != nil {
		return err
	}

	kept := doc.Notes[:0]
	removed := false
	for _, existing := range doc.Notes {
		if existing.ID == remoteID {
			removed = true
			continue
		}
		kept = append(kept, existing)
	}
	if !removed {
		return nil
	}
	doc.Notes = kept
	return p.writeDocument(doc)
}

// readDocument loads the backup document, returning an empty document
// when the file does not exist yet.
func (p *Provider) readDocument() (*note.Document, error) {
	if !p.connected {
		return nil, fmt.Errorf("backupfile: not connected")
	}
	path := filepath.Join(p.root, DocumentName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &note.Document{Version: note.DocumentVersion}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("backupfile: read document: %w", err)
	}
	doc, err := note.ParseDocument(data)
	if err != nil {
		return nil, fmt.Errorf("backupfile: parse document: %w", err)
	}
	return doc, nil
}

// writeDocument persists the document atomically: write to a temp file
// in the same directory, then rename over the target.
func (p *Provider) writeDocument(doc *note.Document) error {
	doc.Version = note.DocumentVersion
	doc.ExportedAt = time.Now().UTC()

	data, err := doc.Marshal()
	if err != nil {
		return fmt.Errorf("backupfile: %w", err)
	}

	tmp, err := os.CreateTemp(p.root, DocumentName+".tmp-*")
	if err != nil {
		return fmt.Errorf("backupfile: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("backupfile: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("backupfile: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(p.root, DocumentName)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("backupfile: replace document: %w", err)
	}
	return nil
}

// toRemote translates a stored note record into the backend-neutral
// form. The record's own id doubles as the remote id.
func toRemote(n *note.Note) provider.RemoteNote {
	return provider.RemoteNote{
		ID:             n.ID,
		Title:          n.Title,
		Content:        n.Content,
		NoteType:       n.NoteType,
		ChecklistItems: n.ChecklistItems,
		Labels:         n.Labels,
		Pinned:         n.Pinned,
		Archived:       n.Archived,
		Trashed:        n.Trashed,
		Color:          n.Color,
		CreatedAt:      n.CreatedAt,
		UpdatedAt:      n.UpdatedAt,
	}
}

// recordFromLocal builds the stored record for a local note. Sync
// metadata stays local; only content, flags and timestamps travel.
func recordFromLocal(n *note.Note) *note.Note {
	return &note.Note{
		ID:             n.ID,
		Title:          n.Title,
		Content:        n.Content,
		NoteType:       n.NoteType,
		ChecklistItems: n.ChecklistItems,
		Labels:         n.Labels,
		Pinned:         n.Pinned,
		Archived:       n.Archived,
		Trashed:        n.Trashed,
		Color:          n.Color,
		SyncStatus:     note.StatusSynced,
		ContentHash:    n.ContentHash,
		CreatedAt:      n.CreatedAt,
		UpdatedAt:      time.Now().UTC(),
	}
}

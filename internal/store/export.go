package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/keepsync/keepsync/internal/note"
)

// Export produces the interchange document for the whole store,
// including trashed and archived notes.
func (s *Store) Export(ctx context.Context) (*note.Document, error) {
	notes, err := s.ListNotes(ctx, ListOptions{IncludeTrashed: true, IncludeArchived: true})
	if err != nil {
		return nil, err
	}
	labels, err := s.ListLabels(ctx)
	if err != nil {
		return nil, err
	}
	return note.NewDocument(notes, labels), nil
}

// Import merges a document into the store. Imported notes receive fresh
// ids, lose any remote link, and start as local-only, so imports never
// collide with existing records and never push over a remote note they
// did not come from. Returns the number of notes imported.
func (s *Store) Import(ctx context.Context, doc *note.Document) (int, error) {
	imported := 0
	now := time.Now().UTC()
	for _, n := range doc.Notes {
		n.ID = uuid.NewString()
		n.Unlink()
		if n.CreatedAt.IsZero() {
			n.CreatedAt = now
		}
		for i := range n.ChecklistItems {
			if n.ChecklistItems[i].ID == "" {
				n.ChecklistItems[i].ID = uuid.NewString()
			}
		}
		if err := s.SaveNote(ctx, n); err != nil {
			return imported, fmt.Errorf("failed to import note %q: %w", n.Title, err)
		}
		imported++
	}
	for _, l := range doc.Labels {
		if l.ID == "" {
			l.ID = uuid.NewString()
		}
		if err := s.SaveLabel(ctx, l); err != nil {
			return imported, fmt.Errorf("failed to import label %q: %w", l.Name, err)
		}
	}
	return imported, nil
}

// Package note provides the data model for locally stored notes.
package note

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type distinguishes plain text notes from checklists.
type Type string

const (
	TypeNote      Type = "note"
	TypeChecklist Type = "checklist"
)

// SyncStatus describes a note's relationship to its remote copy.
//
// Transitions are driven by the sync engine and by local edits:
// a local edit on a linked note moves it to StatusPendingPush, a
// successful pull or push moves it to StatusSynced, divergent local
// and remote changes move it to StatusConflict.
type SyncStatus string

const (
	// StatusLocalOnly marks a note that has never been synced.
	StatusLocalOnly SyncStatus = "local_only"

	// StatusSynced marks a note whose content matches the last known
	// remote state.
	StatusSynced SyncStatus = "synced"

	// StatusPendingPush marks a local change not yet sent to the remote.
	StatusPendingPush SyncStatus = "pending_push"

	// StatusPendingPull marks a detected remote change not yet merged.
	StatusPendingPull SyncStatus = "pending_pull"

	// StatusConflict marks a note where both sides changed since the
	// last common state. Conflicts are never resolved automatically.
	StatusConflict SyncStatus = "conflict"

	// StatusDeletedRemote marks a note whose remote copy vanished.
	// The local copy is retained.
	StatusDeletedRemote SyncStatus = "deleted_remote"

	// StatusError marks a note whose last sync attempt failed.
	StatusError SyncStatus = "error"
)

// ChecklistItem is a single entry in a checklist note. Items are owned
// exclusively by their parent note.
type ChecklistItem struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Checked bool   `json:"checked"`
}

// NewChecklistItem creates an item with a fresh id.
func NewChecklistItem(text string, checked bool) ChecklistItem {
	return ChecklistItem{ID: uuid.NewString(), Text: text, Checked: checked}
}

// Note is a unit of user content plus the sync metadata that drives
// all synchronization decisions.
type Note struct {
	// ===== Identity =====
	ID string `json:"id"`

	// ===== Content =====
	Title          string          `json:"title"`
	Content        string          `json:"content"`
	NoteType       Type            `json:"note_type"`
	ChecklistItems []ChecklistItem `json:"checklist_items,omitempty"`

	// ===== Classification =====
	Labels   []string `json:"labels,omitempty"`
	Pinned   bool     `json:"pinned"`
	Archived bool     `json:"archived"`
	Trashed  bool     `json:"trashed"`
	Color    string   `json:"color,omitempty"`

	// ===== Sync metadata =====
	KeepID         string     `json:"keep_id,omitempty"`
	SyncStatus     SyncStatus `json:"sync_status"`
	LocalModified  *time.Time `json:"local_modified,omitempty"`
	RemoteModified *time.Time `json:"remote_modified,omitempty"`
	ContentHash    string     `json:"content_hash"`

	// ===== Timestamps =====
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates an empty plain note with a fresh id and timestamps.
func New(title, content string) *Note {
	now := time.Now().UTC()
	n := &Note{
		ID:         uuid.NewString(),
		Title:      title,
		Content:    content,
		NoteType:   TypeNote,
		SyncStatus: StatusLocalOnly,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	n.ContentHash = n.Hash()
	return n
}

// Validate checks the note's structural invariants.
func (n *Note) Validate() error {
	if n.ID == "" {
		return fmt.Errorf("id is required")
	}
	switch n.NoteType {
	case TypeNote, TypeChecklist, "":
	default:
		return fmt.Errorf("unknown note type %q", n.NoteType)
	}
	if n.NoteType == TypeChecklist && n.Content != "" {
		return fmt.Errorf("checklist note must not carry body text")
	}
	if n.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	return nil
}

// Linked reports whether the note holds a remote id.
func (n *Note) Linked() bool {
	return n.KeepID != ""
}

// Hash returns the deterministic fingerprint of the note's mutable
// fields: title, body or checklist snapshot, pinned and archived flags.
// It is the cheap signal for "changed since last sync" and must be
// recomputed before every persist.
func (n *Note) Hash() string {
	items := make([]checklistSnapshot, len(n.ChecklistItems))
	for i, it := range n.ChecklistItems {
		items[i] = checklistSnapshot{Text: it.Text, Checked: it.Checked}
	}
	// Marshal of a slice of flat structs cannot fail.
	snapshot, _ := json.Marshal(items)

	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%t|%t", n.Title, n.Content, snapshot, n.Pinned, n.Archived)
	return hex.EncodeToString(h.Sum(nil))
}

// checklistSnapshot is the portion of a checklist item that counts as
// content. Item ids are excluded so regenerated ids do not change the hash.
type checklistSnapshot struct {
	Text    string `json:"text"`
	Checked bool   `json:"checked"`
}

// SetLabels replaces the label set, suppressing duplicates while
// preserving first-seen order.
func (n *Note) SetLabels(labels []string) {
	seen := make(map[string]struct{}, len(labels))
	out := labels[:0:0]
	for _, l := range labels {
		if l == "" {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	n.Labels = out
}

// HasLabel reports whether the note carries the named label.
func (n *Note) HasLabel(name string) bool {
	for _, l := range n.Labels {
		if l == name {
			return true
		}
	}
	return false
}

// MarkEdited stamps the local-modified time and, for linked notes,
// flips the status to pending_push so the next cycle picks it up.
func (n *Note) MarkEdited(now time.Time) {
	t := now.UTC()
	n.LocalModified = &t
	if n.Linked() {
		n.SyncStatus = StatusPendingPush
	}
}

// Unlink clears the remote id and forces the note back to local-only.
func (n *Note) Unlink() {
	n.KeepID = ""
	n.SyncStatus = StatusLocalOnly
	n.RemoteModified = nil
}

// Label is a named tag. Uniqueness is enforced by name; notes reference
// labels by name, not by id.
type Label struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Color  string `json:"color,omitempty"`
	KeepID string `json:"keep_id,omitempty"`
}

// NewLabel creates a label with a fresh id.
func NewLabel(name string) *Label {
	return &Label{ID: uuid.NewString(), Name: name}
}

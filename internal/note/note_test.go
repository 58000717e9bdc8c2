package note

import (
	"testing"
	"time"
)

func TestNewNote(t *testing.T) {
	n := New("Groceries", "milk, eggs")
	if n.ID == "" {
		t.Fatal("expected generated id")
	}
	if n.NoteType != TypeNote {
		t.Errorf("NoteType = %q, want %q", n.NoteType, TypeNote)
	}
	if n.SyncStatus != StatusLocalOnly {
		t.Errorf("SyncStatus = %q, want %q", n.SyncStatus, StatusLocalOnly)
	}
	if n.CreatedAt.IsZero() || n.UpdatedAt.IsZero() {
		t.Error("expected timestamps to be set")
	}
	if err := n.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidateRejectsEmpty(t *testing.T) {
	n := New("", "")
	if err := n.Validate(); err == nil {
		t.Error("expected error for note with no title and no content")
	}

	n = New("", "content only is fine")
	if err := n.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestHashDeterministic(t *testing.T) {
	a := New("Groceries", "milk, eggs")
	b := New("Groceries", "milk, eggs")
	if a.Hash() != b.Hash() {
		t.Error("identical content should hash identically")
	}

	b.Content = "milk, eggs, bread"
	if a.Hash() == b.Hash() {
		t.Error("different content should hash differently")
	}
}

func TestHashIgnoresChecklistItemIDs(t *testing.T) {
	a := New("Today", "")
	a.NoteType = TypeChecklist
	a.ChecklistItems = []ChecklistItem{NewChecklistItem("buy stamps", false)}

	b := New("Today", "")
	b.NoteType = TypeChecklist
	b.ChecklistItems = []ChecklistItem{NewChecklistItem("buy stamps", false)}

	if a.ChecklistItems[0].ID == b.ChecklistItems[0].ID {
		t.Fatal("item ids should differ")
	}
	if a.Hash() != b.Hash() {
		t.Error("item ids must not affect the content hash")
	}

	b.ChecklistItems[0].Checked = true
	if a.Hash() == b.Hash() {
		t.Error("checked state must affect the content hash")
	}
}

func TestHashCoversFlags(t *testing.T) {
	a := New("Trip", "pack bags")
	b := New("Trip", "pack bags")
	b.Pinned = true
	if a.Hash() == b.Hash() {
		t.Error("pinned flag must affect the content hash")
	}
}

func TestSetLabelsDeduplicates(t *testing.T) {
	n := New("Trip", "")
	n.SetLabels([]string{"travel", "work", "travel", "", "work"})
	want := []string{"travel", "work"}
	if len(n.Labels) != len(want) {
		t.Fatalf("Labels = %v, want %v", n.Labels, want)
	}
	for i, l := range want {
		if n.Labels[i] != l {
			t.Errorf("Labels[%d] = %q, want %q", i, n.Labels[i], l)
		}
	}
	if !n.HasLabel("travel") || n.HasLabel("home") {
		t.Error("HasLabel gave wrong answer")
	}
}

func TestMarkEdited(t *testing.T) {
	n := New("Trip", "pack bags")
	now := time.Now().UTC()

	n.MarkEdited(now)
	if n.SyncStatus != StatusLocalOnly {
		t.Errorf("unlinked note SyncStatus = %q, want %q", n.SyncStatus, StatusLocalOnly)
	}
	if n.LocalModified == nil || !n.LocalModified.Equal(now) {
		t.Error("LocalModified not stamped")
	}

	n.KeepID = "rk1"
	n.SyncStatus = StatusSynced
	n.MarkEdited(now)
	if n.SyncStatus != StatusPendingPush {
		t.Errorf("linked note SyncStatus = %q, want %q", n.SyncStatus, StatusPendingPush)
	}
}

func TestUnlink(t *testing.T) {
	n := New("Trip", "pack bags")
	n.KeepID = "rk1"
	n.SyncStatus = StatusSynced
	now := time.Now().UTC()
	n.RemoteModified = &now

	if !n.Linked() {
		t.Fatal("note should be linked")
	}
	n.Unlink()
	if n.Linked() {
		t.Error("note should be unlinked")
	}
	if n.KeepID != "" || n.RemoteModified != nil {
		t.Error("remote metadata should be cleared")
	}
	if n.SyncStatus != StatusLocalOnly {
		t.Errorf("SyncStatus = %q, want %q", n.SyncStatus, StatusLocalOnly)
	}
}

// Package provider defines the uniform interface for remote note backends.
//
// This package abstracts the differences between the Keep-style note
// API, the file-based cloud backup store, and the git-hosted store,
// so the sync engine works against any of them. The design follows a
// strategy pattern with constructor registration and an explicit
// registry object.
//
// # Architecture
//
// The Provider interface defines the capability set the sync engine
// needs:
//   - Connection lifecycle (connect, disconnect, connected check)
//   - Remote refresh (backends that batch server round-trips)
//   - Snapshot fetch and per-note create/update/delete
//
// Each backend translates its native representation into RemoteNote at
// the adapter boundary; no backend-specific types leak past it.
//
// # Usage
//
//	reg, err := provider.NewRegistry()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	p, err := reg.Get(provider.NameKeep)
//	ok, reason := p.Connect(ctx, provider.Credentials{
//	    Account: "user@example.com",
//	    Token:   masterToken,
//	})
//
// # Implementations
//
//   - internal/provider/keep: Keep-style HTTP note API
//   - internal/provider/backupfile: JSON backup document in a directory
//   - internal/provider/githost: one JSON file per note in a hosted git repo
package provider

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/keepsync/keepsync/internal/note"
)

// Well-known provider names.
const (
	NameKeep       = "keep"
	NameBackupFile = "backupfile"
	NameGitHost    = "githost"
)

// Credentials carries the opaque inputs a backend needs to connect.
// Acquisition (interactive login, OAuth, token generation) happens in
// the calling layer; the core only consumes the results.
type Credentials struct {
	// Account is the account identity (e.g. an email address or a
	// git host username).
	Account string

	// Token is the opaque long-lived credential: a master token for
	// the Keep-style API, a personal access token for the git host.
	Token string

	// Container names the remote container where notes live: a
	// repository name for the git host, a backing directory for the
	// file provider.
	Container string

	// Endpoint overrides the backend's default API base URL.
	// Mostly useful for tests.
	Endpoint string
}

// RemoteNote is the backend-neutral form of a note held by a remote
// store. Each provider translates to and from this type at its
// boundary.
type RemoteNote struct {
	// ID is the remote identifier, assigned by the backend.
	ID string

	// Content fields mirror the local model.
	Title          string
	Content        string
	NoteType       note.Type
	ChecklistItems []note.ChecklistItem
	Labels         []string

	// Flags.
	Pinned   bool
	Archived bool
	Trashed  bool
	Color    string

	// Timestamps as reported by the backend.
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Provider is the capability set implemented once per remote backend.
//
// Failure policy: Connect reports failure as (false, reason) and never
// panics across the boundary; per-note operations return errors that
// the sync engine records without aborting the cycle.
type Provider interface {
	// Name returns the provider's registry name.
	Name() string

	// Connect establishes a session using the given credentials.
	// On failure it returns false and a human-readable reason.
	Connect(ctx context.Context, creds Credentials) (bool, string)

	// Disconnect tears down the session. Safe to call when not
	// connected.
	Disconnect(ctx context.Context)

	// IsConnected reports whether a session is established.
	IsConnected() bool

	// Refresh performs the backend's server-side sync round-trip.
	// Backends that batch changes (the Keep-style API) require this
	// before reads are current and again after writes to commit them;
	// for other backends it is cheap or a no-op.
	Refresh(ctx context.Context) error

	// FetchSnapshot returns the complete current set of remote notes.
	FetchSnapshot(ctx context.Context) ([]RemoteNote, error)

	// CreateRemote creates the note remotely and returns the assigned
	// remote id.
	CreateRemote(ctx context.Context, n *note.Note) (string, error)

	// UpdateRemote overwrites the remote copy identified by remoteID.
	UpdateRemote(ctx context.Context, remoteID string, n *note.Note) error

	// DeleteRemote removes the remote copy. Idempotent: deleting a
	// missing note is not an error.
	DeleteRemote(ctx context.Context, remoteID string) error
}

// ToLocal converts a remote note into a fresh local note. The local id
// is newly generated; the remote id and timestamps are carried over and
// the note starts in the synced state.
func (r *RemoteNote) ToLocal() *note.Note {
	now := time.Now().UTC()
	created := r.CreatedAt
	if created.IsZero() {
		created = now
	}
	n := &note.Note{
		ID:             uuid.NewString(),
		Title:          r.Title,
		Content:        r.Content,
		NoteType:       r.NoteType,
		ChecklistItems: r.ChecklistItems,
		Pinned:         r.Pinned,
		Archived:       r.Archived,
		Trashed:        r.Trashed,
		Color:          r.Color,
		KeepID:         r.ID,
		SyncStatus:     note.StatusSynced,
		CreatedAt:      created,
		UpdatedAt:      now,
	}
	if n.NoteType == "" {
		n.NoteType = note.TypeNote
	}
	n.SetLabels(r.Labels)
	updated := r.UpdatedAt
	n.RemoteModified = &updated
	n.ContentHash = n.Hash()
	return n
}

// ApplyTo overwrites an existing local note's content and flags from
// the remote copy, preserving the local id and creation time.
func (r *RemoteNote) ApplyTo(n *note.Note) {
	n.Title = r.Title
	n.Content = r.Content
	if r.NoteType != "" {
		n.NoteType = r.NoteType
	}
	n.ChecklistItems = r.ChecklistItems
	n.SetLabels(r.Labels)
	n.Pinned = r.Pinned
	n.Archived = r.Archived
	n.Trashed = r.Trashed
	n.Color = r.Color
	n.KeepID = r.ID
	updated := r.UpdatedAt
	n.RemoteModified = &updated
}

// FromLocal builds the backend-neutral form of a local note for
// create/update calls.
func FromLocal(n *note.Note) RemoteNote {
	r := RemoteNote{
		ID:             n.KeepID,
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
		UpdatedAt:      time.Now().UTC(),
	}
	return r
}

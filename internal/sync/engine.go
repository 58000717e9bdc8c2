package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"

	"github.com/keepsync/keepsync/internal/note"
	"github.com/keepsync/keepsync/internal/provider"
	"github.com/keepsync/keepsync/internal/store"
)

// Settings keys the engine maintains.
const (
	SettingActiveProvider = "active_provider"

	lastSyncPrefix    = "last_sync."
	credentialsPrefix = "credentials."
)

// Stats counts what one sync cycle did.
type Stats struct {
	Pulled    int
	Pushed    int
	Conflicts int
	Deleted   int
	Errors    int
}

func (s Stats) String() string {
	return fmt.Sprintf("pulled=%d pushed=%d conflicts=%d deleted=%d errors=%d",
		s.Pulled, s.Pushed, s.Conflicts, s.Deleted, s.Errors)
}

// Result reports the outcome of a Sync call.
type Result struct {
	Skipped    bool
	SkipReason string
	Stats      Stats
}

// Engine drives sync cycles between a local store and one provider.
type Engine struct {
	store    *store.Store
	provider provider.Provider
	logger   *log.Logger
	notifier *Notifier

	syncing atomic.Bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger overrides the default stderr logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithNotifier supplies a shared notifier instead of a private one.
func WithNotifier(n *Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// New creates an engine for the given store and provider.
func New(st *store.Store, p provider.Provider, opts ...Option) *Engine {
	e := &Engine{
		store:    st,
		provider: p,
		logger:   log.New(os.Stderr, "[sync] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.notifier == nil {
		e.notifier = &Notifier{logger: e.logger}
	}
	return e
}

// Notifier returns the engine's event notifier.
func (e *Engine) Notifier() *Notifier { return e.notifier }

// Provider returns the provider this engine syncs against.
func (e *Engine) Provider() provider.Provider { return e.provider }

// Connect establishes the provider session and, on success, persists
// the credentials and records the provider as active.
func (e *Engine) Connect(ctx context.Context, creds provider.Credentials) error {
	name := e.provider.Name()
	ok, msg := e.provider.Connect(ctx, creds)
	if !ok {
		e.notifier.Publish(Event{Type: EventError, Provider: name, Message: msg})
		return fmt.Errorf("connect %s: %s", name, msg)
	}

	if err := e.store.SetSetting(ctx, credentialsPrefix+name, creds); err != nil {
		return fmt.Errorf("persist credentials: %w", err)
	}
	if err := e.store.SetSetting(ctx, SettingActiveProvider, name); err != nil {
		return fmt.Errorf("persist active provider: %w", err)
	}

	e.logger.Printf("%s", msg)
	e.notifier.Publish(Event{Type: EventConnected, Provider: name, Message: msg})
	return nil
}

// Reconnect restores a session from credentials persisted by an
// earlier Connect.
func (e *Engine) Reconnect(ctx context.Context) error {
	name := e.provider.Name()
	var creds provider.Credentials
	if err := e.store.GetSetting(ctx, credentialsPrefix+name, &creds); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no stored credentials for %s", name)
		}
		return err
	}
	ok, msg := e.provider.Connect(ctx, creds)
	if !ok {
		e.notifier.Publish(Event{Type: EventError, Provider: name, Message: msg})
		return fmt.Errorf("connect %s: %s", name, msg)
	}
	e.notifier.Publish(Event{Type: EventConnected, Provider: name, Message: msg})
	return nil
}

// Disconnect ends the provider session and forgets the stored
// credentials. Notes keep their remote links; use Unlink to sever.
func (e *Engine) Disconnect(ctx context.Context) error {
	name := e.provider.Name()
	e.provider.Disconnect(ctx)
	if err := e.store.DeleteSetting(ctx, credentialsPrefix+name); err != nil {
		return fmt.Errorf("forget credentials: %w", err)
	}
	e.notifier.Publish(Event{Type: EventDisconnected, Provider: name})
	return nil
}

// Sync runs one full cycle. If a cycle is already running, or the
// provider is not connected, the call returns immediately with a
// skipped result instead of queueing or failing.
func (e *Engine) Sync(ctx context.Context) (*Result, error) {
	if !e.syncing.CompareAndSwap(false, true) {
		return &Result{Skipped: true, SkipReason: "sync already in progress"}, nil
	}
	defer e.syncing.Store(false)

	name := e.provider.Name()
	if !e.provider.IsConnected() {
		return &Result{Skipped: true, SkipReason: fmt.Sprintf("provider %s is not connected", name)}, nil
	}

	e.notifier.Publish(Event{Type: EventSyncing, Provider: name})

	res := &Result{}
	if err := e.runCycle(ctx, &res.Stats); err != nil {
		e.logger.Printf("sync failed: %v", err)
		_ = e.store.LogSync(ctx, "sync", "", "error", err.Error())
		e.notifier.Publish(Event{Type: EventError, Provider: name, Message: err.Error()})
		return nil, err
	}

	now := time.Now().UTC()
	if err := e.store.SetSetting(ctx, lastSyncPrefix+name, now); err != nil {
		e.logger.Printf("record last sync: %v", err)
	}

	status := "ok"
	if res.Stats.Errors > 0 {
		status = "partial"
	}
	_ = e.store.LogSync(ctx, "sync", "", status, res.Stats.String())
	e.logger.Printf("sync complete: %s", res.Stats)
	e.notifier.Publish(Event{
		Type:     EventSynced,
		Provider: name,
		Message:  res.Stats.String(),
		Stats:    &res.Stats,
	})
	return res, nil
}

func (e *Engine) runCycle(ctx context.Context, stats *Stats) error {
	if err := e.provider.Refresh(ctx); err != nil {
		return fmt.Errorf("refresh: %w", err)
	}

	snapshot, err := e.provider.FetchSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("fetch snapshot: %w", err)
	}

	e.pull(ctx, snapshot, stats)

	if err := e.markDeleted(ctx, snapshot, stats); err != nil {
		return err
	}

	if err := e.push(ctx, stats); err != nil {
		return err
	}

	// Second refresh flushes pushed changes on the remote side.
	if err := e.provider.Refresh(ctx); err != nil {
		return fmt.Errorf("refresh after push: %w", err)
	}
	return nil
}

// pull merges the remote snapshot into the store. Per-note failures
// are counted and logged, never fatal.
func (e *Engine) pull(ctx context.Context, snapshot []provider.RemoteNote, stats *Stats) {
	for i := range snapshot {
		r := &snapshot[i]
		if err := e.pullNote(ctx, r, stats); err != nil {
			stats.Errors++
			e.logger.Printf("pull %s: %v", r.ID, err)
			_ = e.store.LogSync(ctx, "pull", r.ID, "error", err.Error())
		}
	}
}

func (e *Engine) pullNote(ctx context.Context, r *provider.RemoteNote, stats *Stats) error {
	local, err := e.store.GetNoteByRemoteID(ctx, r.ID)
	if errors.Is(err, store.ErrNotFound) {
		n := r.ToLocal()
		if err := e.store.SaveNote(ctx, n); err != nil {
			return err
		}
		stats.Pulled++
		_ = e.store.LogSync(ctx, "pull", n.ID, "ok", "created from remote")
		return nil
	}
	if err != nil {
		return err
	}

	// A note already in conflict stays untouched until the user
	// resolves it.
	if local.SyncStatus == note.StatusConflict {
		return nil
	}

	// Equal timestamps mean nothing changed remotely; the local copy
	// wins by staying put.
	if local.RemoteModified != nil && !r.UpdatedAt.After(*local.RemoteModified) {
		return nil
	}

	if localDirty(local) {
		local.SyncStatus = note.StatusConflict
		if err := e.store.SaveNote(ctx, local); err != nil {
			return err
		}
		stats.Conflicts++
		e.logger.Printf("conflict on %q (%s): edited locally and remotely", local.Title, local.ID)
		_ = e.store.LogSync(ctx, "pull", local.ID, "conflict", "edited locally and remotely")
		return nil
	}

	r.ApplyTo(local)
	local.SyncStatus = note.StatusSynced
	if err := e.store.SaveNote(ctx, local); err != nil {
		return err
	}
	stats.Pulled++
	return nil
}

// localDirty reports whether the note changed locally since the last
// successful sync.
func localDirty(n *note.Note) bool {
	if n.SyncStatus == note.StatusPendingPush {
		return true
	}
	if n.LocalModified == nil {
		return false
	}
	return n.RemoteModified == nil || n.LocalModified.After(*n.RemoteModified)
}

// markDeleted flags previously-synced notes that vanished from the
// remote snapshot. The note and its remote id are kept so the user can
// decide whether to re-push or discard. Only notes in the synced state
// make the transition: a note with local edits pending stays in the
// push set so the edit is never silently dropped.
func (e *Engine) markDeleted(ctx context.Context, snapshot []provider.RemoteNote, stats *Stats) error {
	remoteIDs := make(map[string]struct{}, len(snapshot))
	for _, r := range snapshot {
		remoteIDs[r.ID] = struct{}{}
	}

	linked, err := e.store.ListLinked(ctx)
	if err != nil {
		return fmt.Errorf("list linked notes: %w", err)
	}
	for _, n := range linked {
		if _, ok := remoteIDs[n.KeepID]; ok {
			continue
		}
		if n.SyncStatus != note.StatusSynced {
			continue
		}
		n.SyncStatus = note.StatusDeletedRemote
		if err := e.store.SaveNote(ctx, n); err != nil {
			stats.Errors++
			e.logger.Printf("mark deleted %s: %v", n.ID, err)
			continue
		}
		stats.Deleted++
		_ = e.store.LogSync(ctx, "pull", n.ID, "deleted_remote", "missing from remote snapshot")
	}
	return nil
}

// push sends unsynced local notes to the provider. Conflicted and
// trashed notes are never pushed.
func (e *Engine) push(ctx context.Context, stats *Stats) error {
	pending, err := e.store.ListByStatus(ctx, note.StatusLocalOnly, note.StatusPendingPush)
	if err != nil {
		return fmt.Errorf("list pending notes: %w", err)
	}

	for _, n := range pending {
		if err := e.pushNote(ctx, n); err != nil {
			stats.Errors++
			e.logger.Printf("push %s: %v", n.ID, err)
			_ = e.store.LogSync(ctx, "push", n.ID, "error", err.Error())
			continue
		}
		stats.Pushed++
		_ = e.store.LogSync(ctx, "push", n.ID, "ok", "")
	}
	return nil
}

func (e *Engine) pushNote(ctx context.Context, n *note.Note) error {
	if n.Linked() {
		if err := e.provider.UpdateRemote(ctx, n.KeepID, n); err != nil {
			return err
		}
	} else {
		remoteID, err := e.provider.CreateRemote(ctx, n)
		if err != nil {
			return err
		}
		n.KeepID = remoteID
	}

	now := time.Now().UTC()
	n.RemoteModified = &now
	n.SyncStatus = note.StatusSynced
	return e.store.SaveNote(ctx, n)
}

// Unlink severs a note from its remote copy, optionally deleting the
// remote copy first. The local note survives either way.
func (e *Engine) Unlink(ctx context.Context, noteID string, deleteRemote bool) error {
	n, err := e.store.GetNote(ctx, noteID)
	if err != nil {
		return err
	}
	if deleteRemote && n.Linked() {
		if !e.provider.IsConnected() {
			return fmt.Errorf("provider %s is not connected", e.provider.Name())
		}
		if err := e.provider.DeleteRemote(ctx, n.KeepID); err != nil {
			return fmt.Errorf("delete remote copy: %w", err)
		}
	}
	n.Unlink()
	if err := e.store.SaveNote(ctx, n); err != nil {
		return err
	}
	return e.store.LogSync(ctx, "unlink", n.ID, "ok", "")
}

// ResolveConflict settles a conflicted note. With keepLocal the local
// content is queued for push; otherwise the next pull overwrites it
// with the remote copy.
func (e *Engine) ResolveConflict(ctx context.Context, noteID string, keepLocal bool) error {
	n, err := e.store.GetNote(ctx, noteID)
	if err != nil {
		return err
	}
	if n.SyncStatus != note.StatusConflict {
		return fmt.Errorf("note %s is not in conflict", noteID)
	}
	if keepLocal {
		// Stamping the remote side as seen keeps the next pull from
		// re-flagging the conflict before the push goes out.
		now := time.Now().UTC()
		n.SyncStatus = note.StatusPendingPush
		n.RemoteModified = &now
	} else {
		n.SyncStatus = note.StatusPendingPull
		n.LocalModified = nil
		n.RemoteModified = nil
	}
	if err := e.store.SaveNote(ctx, n); err != nil {
		return err
	}
	choice := "keep remote"
	if keepLocal {
		choice = "keep local"
	}
	return e.store.LogSync(ctx, "resolve", n.ID, "ok", choice)
}

// LastSync returns when this engine's provider last completed a cycle,
// or the zero time if it never has.
func (e *Engine) LastSync(ctx context.Context) (time.Time, error) {
	var t time.Time
	err := e.store.GetSetting(ctx, lastSyncPrefix+e.provider.Name(), &t)
	if errors.Is(err, store.ErrNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}

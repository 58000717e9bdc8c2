package sync

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	stdsync "sync"
	"testing"
	"time"

	"github.com/keepsync/keepsync/internal/note"
	"github.com/keepsync/keepsync/internal/provider"
	"github.com/keepsync/keepsync/internal/store"
)

// fakeProvider is an in-memory backend for engine tests.
type fakeProvider struct {
	mu        stdsync.Mutex
	connected bool
	notes     map[string]provider.RemoteNote
	nextID    int
	refreshes int

	failCreate   bool
	failCreateOn string // fail creates for this title only
	blockFetch   chan struct{}
	fetchStarted chan struct{}
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{notes: make(map[string]provider.RemoteNote)}
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Connect(_ context.Context, _ provider.Credentials) (bool, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return true, "connected to fake"
}

func (f *fakeProvider) Disconnect(_ context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

func (f *fakeProvider) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeProvider) Refresh(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return nil
}

func (f *fakeProvider) FetchSnapshot(_ context.Context) ([]provider.RemoteNote, error) {
	if f.fetchStarted != nil {
		close(f.fetchStarted)
		f.fetchStarted = nil
	}
	if f.blockFetch != nil {
		<-f.blockFetch
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]provider.RemoteNote, 0, len(f.notes))
	for _, r := range f.notes {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeProvider) CreateRemote(_ context.Context, n *note.Note) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate || (f.failCreateOn != "" && n.Title == f.failCreateOn) {
		return "", fmt.Errorf("create rejected")
	}
	f.nextID++
	id := fmt.Sprintf("rk%d", f.nextID)
	f.notes[id] = remoteFromLocal(id, n)
	return id, nil
}

func (f *fakeProvider) UpdateRemote(_ context.Context, remoteID string, n *note.Note) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.notes[remoteID]; !ok {
		return fmt.Errorf("remote %s not found", remoteID)
	}
	f.notes[remoteID] = remoteFromLocal(remoteID, n)
	return nil
}

func (f *fakeProvider) DeleteRemote(_ context.Context, remoteID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.notes, remoteID)
	return nil
}

// putRemote seeds a remote note directly, bypassing the provider API.
func (f *fakeProvider) putRemote(id, title, content string, updated time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes[id] = provider.RemoteNote{
		ID:        id,
		Title:     title,
		Content:   content,
		NoteType:  note.TypeNote,
		CreatedAt: updated,
		UpdatedAt: updated,
	}
}

func (f *fakeProvider) getRemote(id string) (provider.RemoteNote, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.notes[id]
	return r, ok
}

func remoteFromLocal(id string, n *note.Note) provider.RemoteNote {
	r := provider.FromLocal(n)
	r.ID = id
	r.UpdatedAt = time.Now().UTC()
	return r
}

func newTestEngine(t *testing.T) (*Engine, *store.Store, *fakeProvider) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "notes.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	fake := newFakeProvider()
	engine := New(st, fake, WithLogger(log.New(io.Discard, "", 0)))
	if err := engine.Connect(context.Background(), provider.Credentials{}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return engine, st, fake
}

func mustSync(t *testing.T, e *Engine) Stats {
	t.Helper()
	res, err := e.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.Skipped {
		t.Fatalf("Sync skipped: %s", res.SkipReason)
	}
	return res.Stats
}

func TestSyncPushesNewLocalNote(t *testing.T) {
	engine, st, fake := newTestEngine(t)
	ctx := context.Background()

	n := note.New("Groceries", "milk, eggs")
	if err := st.SaveNote(ctx, n); err != nil {
		t.Fatalf("SaveNote: %v", err)
	}

	stats := mustSync(t, engine)
	if stats.Pushed != 1 {
		t.Errorf("Pushed = %d, want 1", stats.Pushed)
	}

	got, err := st.GetNote(ctx, n.ID)
	if err != nil {
		t.Fatalf("GetNote: %v", err)
	}
	if !got.Linked() {
		t.Fatal("note should be linked after push")
	}
	if got.SyncStatus != note.StatusSynced {
		t.Errorf("SyncStatus = %q, want %q", got.SyncStatus, note.StatusSynced)
	}

	r, ok := fake.getRemote(got.KeepID)
	if !ok {
		t.Fatalf("remote %s missing", got.KeepID)
	}
	if r.Title != "Groceries" || r.Content != "milk, eggs" {
		t.Errorf("remote copy is %q/%q", r.Title, r.Content)
	}
}

func TestSyncPullsRemoteOnlyNote(t *testing.T) {
	engine, st, fake := newTestEngine(t)
	ctx := context.Background()

	updated := time.Date(2026, 1, 1, 0, 1, 40, 0, time.UTC)
	fake.putRemote("rk1", "Trip", "pack bags", updated)

	stats := mustSync(t, engine)
	if stats.Pulled != 1 {
		t.Errorf("Pulled = %d, want 1", stats.Pulled)
	}

	got, err := st.GetNoteByRemoteID(ctx, "rk1")
	if err != nil {
		t.Fatalf("GetNoteByRemoteID: %v", err)
	}
	if got.Title != "Trip" || got.Content != "pack bags" {
		t.Errorf("pulled %q/%q", got.Title, got.Content)
	}
	if got.SyncStatus != note.StatusSynced {
		t.Errorf("SyncStatus = %q", got.SyncStatus)
	}
	if got.RemoteModified == nil || !got.RemoteModified.Equal(updated) {
		t.Error("RemoteModified should record the remote timestamp")
	}
}

func TestSyncOverwritesWithNewerRemote(t *testing.T) {
	engine, st, fake := newTestEngine(t)
	ctx := context.Background()

	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fake.putRemote("rk1", "Trip", "pack bags", t1)
	mustSync(t, engine)

	t2 := t1.Add(time.Hour)
	fake.putRemote("rk1", "Trip", "pack bags, print tickets", t2)
	stats := mustSync(t, engine)
	if stats.Pulled != 1 {
		t.Errorf("Pulled = %d, want 1", stats.Pulled)
	}

	got, err := st.GetNoteByRemoteID(ctx, "rk1")
	if err != nil {
		t.Fatalf("GetNoteByRemoteID: %v", err)
	}
	if got.Content != "pack bags, print tickets" {
		t.Errorf("Content = %q, want remote content", got.Content)
	}
	if got.SyncStatus != note.StatusSynced {
		t.Errorf("SyncStatus = %q", got.SyncStatus)
	}
}

func TestSyncLeavesEqualTimestampsAlone(t *testing.T) {
	engine, st, fake := newTestEngine(t)
	ctx := context.Background()

	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fake.putRemote("rk1", "Trip", "pack bags", t1)
	mustSync(t, engine)

	// Same timestamp, different content: the local copy wins by
	// staying put.
	fake.putRemote("rk1", "Trip", "tampered", t1)
	stats := mustSync(t, engine)
	if stats.Pulled != 0 || stats.Conflicts != 0 {
		t.Errorf("stats = %+v, want no pulls and no conflicts", stats)
	}

	got, err := st.GetNoteByRemoteID(ctx, "rk1")
	if err != nil {
		t.Fatalf("GetNoteByRemoteID: %v", err)
	}
	if got.Content != "pack bags" {
		t.Errorf("Content = %q, want local content preserved", got.Content)
	}
}

func TestSyncFlagsConflict(t *testing.T) {
	engine, st, fake := newTestEngine(t)
	ctx := context.Background()

	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fake.putRemote("rk2", "Trip", "pack bags", t1)
	mustSync(t, engine)

	// Edit locally...
	local, err := st.GetNoteByRemoteID(ctx, "rk2")
	if err != nil {
		t.Fatalf("GetNoteByRemoteID: %v", err)
	}
	local.Content = "pack bags, local edit"
	if err := st.MarkEdited(ctx, local); err != nil {
		t.Fatalf("MarkEdited: %v", err)
	}

	// ...and remotely.
	fake.putRemote("rk2", "Trip", "pack bags, remote edit", t1.Add(time.Hour))

	stats := mustSync(t, engine)
	if stats.Conflicts != 1 {
		t.Errorf("Conflicts = %d, want 1", stats.Conflicts)
	}

	got, err := st.GetNoteByRemoteID(ctx, "rk2")
	if err != nil {
		t.Fatalf("GetNoteByRemoteID: %v", err)
	}
	if got.SyncStatus != note.StatusConflict {
		t.Errorf("SyncStatus = %q, want %q", got.SyncStatus, note.StatusConflict)
	}
	if got.Content != "pack bags, local edit" {
		t.Errorf("Content = %q, local content must survive a conflict", got.Content)
	}

	// Conflicted notes are never pushed.
	r, _ := fake.getRemote("rk2")
	if r.Content != "pack bags, remote edit" {
		t.Errorf("remote content = %q, conflict must not be pushed", r.Content)
	}

	// And they stay put on the next cycle until resolved.
	stats = mustSync(t, engine)
	if stats.Conflicts != 0 || stats.Pulled != 0 {
		t.Errorf("second cycle stats = %+v, want conflict left alone", stats)
	}
}

func TestSyncMarksDeletedRemote(t *testing.T) {
	engine, st, fake := newTestEngine(t)
	ctx := context.Background()

	fake.putRemote("rk1", "Trip", "pack bags", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	mustSync(t, engine)

	// The remote copy vanishes outside a sync.
	_ = fake.DeleteRemote(ctx, "rk1")

	stats := mustSync(t, engine)
	if stats.Deleted != 1 {
		t.Errorf("Deleted = %d, want 1", stats.Deleted)
	}

	got, err := st.GetNoteByRemoteID(ctx, "rk1")
	if err != nil {
		t.Fatalf("GetNoteByRemoteID: %v", err)
	}
	if got.SyncStatus != note.StatusDeletedRemote {
		t.Errorf("SyncStatus = %q, want %q", got.SyncStatus, note.StatusDeletedRemote)
	}
	if got.KeepID != "rk1" {
		t.Error("remote id must be retained until unlinked")
	}

	// Stable on the next cycle.
	stats = mustSync(t, engine)
	if stats.Deleted != 0 {
		t.Errorf("second cycle Deleted = %d, want 0", stats.Deleted)
	}
}

func TestSyncIdempotent(t *testing.T) {
	engine, st, fake := newTestEngine(t)
	ctx := context.Background()

	fake.putRemote("rk1", "Trip", "pack bags", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if err := st.SaveNote(ctx, note.New("Groceries", "milk, eggs")); err != nil {
		t.Fatalf("SaveNote: %v", err)
	}

	first := mustSync(t, engine)
	if first.Pulled != 1 || first.Pushed != 1 {
		t.Fatalf("first cycle stats = %+v", first)
	}

	second := mustSync(t, engine)
	if second != (Stats{}) {
		t.Errorf("second cycle stats = %+v, want all zero", second)
	}
}

func TestSyncSkipsWhenAlreadyRunning(t *testing.T) {
	engine, _, fake := newTestEngine(t)
	ctx := context.Background()

	fake.blockFetch = make(chan struct{})
	fake.fetchStarted = make(chan struct{})
	started := fake.fetchStarted

	done := make(chan error, 1)
	go func() {
		_, err := engine.Sync(ctx)
		done <- err
	}()
	<-started

	res, err := engine.Sync(ctx)
	if err != nil {
		t.Fatalf("second Sync: %v", err)
	}
	if !res.Skipped {
		t.Error("overlapping sync should be skipped")
	}

	close(fake.blockFetch)
	if err := <-done; err != nil {
		t.Fatalf("first Sync: %v", err)
	}

	// The guard is released after the cycle finishes.
	res, err = engine.Sync(ctx)
	if err != nil {
		t.Fatalf("third Sync: %v", err)
	}
	if res.Skipped {
		t.Error("sync after completion should run")
	}
}

func TestSyncToleratesPerNoteErrors(t *testing.T) {
	engine, st, fake := newTestEngine(t)
	ctx := context.Background()

	bad := note.New("Doomed", "x")
	good := note.New("Groceries", "milk, eggs")
	if err := st.SaveNote(ctx, bad); err != nil {
		t.Fatalf("SaveNote: %v", err)
	}
	if err := st.SaveNote(ctx, good); err != nil {
		t.Fatalf("SaveNote: %v", err)
	}
	fake.failCreateOn = "Doomed"

	stats := mustSync(t, engine)
	if stats.Errors != 1 {
		t.Errorf("Errors = %d, want 1", stats.Errors)
	}
	if stats.Pushed != 1 {
		t.Errorf("Pushed = %d, want 1 (failure must not abort the cycle)", stats.Pushed)
	}

	gotGood, err := st.GetNote(ctx, good.ID)
	if err != nil {
		t.Fatalf("GetNote: %v", err)
	}
	if !gotGood.Linked() {
		t.Error("unaffected note should still be pushed")
	}
	gotBad, err := st.GetNote(ctx, bad.ID)
	if err != nil {
		t.Fatalf("GetNote: %v", err)
	}
	if gotBad.Linked() {
		t.Error("failed note must stay unlinked for retry")
	}
}

func TestSyncRecordsLastSync(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	before, err := engine.LastSync(ctx)
	if err != nil {
		t.Fatalf("LastSync: %v", err)
	}
	if !before.IsZero() {
		t.Errorf("LastSync before first cycle = %v, want zero", before)
	}

	mustSync(t, engine)

	after, err := engine.LastSync(ctx)
	if err != nil {
		t.Fatalf("LastSync: %v", err)
	}
	if after.IsZero() {
		t.Error("LastSync should be recorded after a cycle")
	}
}

func TestUnlink(t *testing.T) {
	engine, st, fake := newTestEngine(t)
	ctx := context.Background()

	n := note.New("Trip", "pack bags")
	if err := st.SaveNote(ctx, n); err != nil {
		t.Fatalf("SaveNote: %v", err)
	}
	mustSync(t, engine)

	got, err := st.GetNote(ctx, n.ID)
	if err != nil {
		t.Fatalf("GetNote: %v", err)
	}
	remoteID := got.KeepID

	if err := engine.Unlink(ctx, n.ID, true); err != nil {
		t.Fatalf("Unlink: %v", err)
	}
	got, err = st.GetNote(ctx, n.ID)
	if err != nil {
		t.Fatalf("GetNote: %v", err)
	}
	if got.Linked() || got.SyncStatus != note.StatusLocalOnly {
		t.Errorf("after unlink: linked=%v status=%q", got.Linked(), got.SyncStatus)
	}
	if _, ok := fake.getRemote(remoteID); ok {
		t.Error("remote copy should be deleted")
	}
}

func TestResolveConflictKeepLocal(t *testing.T) {
	engine, st, fake := newTestEngine(t)
	ctx := context.Background()

	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fake.putRemote("rk2", "Trip", "pack bags", t1)
	mustSync(t, engine)

	local, _ := st.GetNoteByRemoteID(ctx, "rk2")
	local.Content = "local wins"
	if err := st.MarkEdited(ctx, local); err != nil {
		t.Fatalf("MarkEdited: %v", err)
	}
	fake.putRemote("rk2", "Trip", "remote wins", t1.Add(time.Hour))
	mustSync(t, engine)

	if err := engine.ResolveConflict(ctx, local.ID, true); err != nil {
		t.Fatalf("ResolveConflict: %v", err)
	}
	stats := mustSync(t, engine)
	if stats.Pushed != 1 || stats.Conflicts != 0 {
		t.Errorf("stats after resolve = %+v", stats)
	}

	r, _ := fake.getRemote("rk2")
	if r.Content != "local wins" {
		t.Errorf("remote content = %q, want local content pushed", r.Content)
	}
}

func TestResolveConflictKeepRemote(t *testing.T) {
	engine, st, fake := newTestEngine(t)
	ctx := context.Background()

	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fake.putRemote("rk2", "Trip", "pack bags", t1)
	mustSync(t, engine)

	local, _ := st.GetNoteByRemoteID(ctx, "rk2")
	local.Content = "local edit"
	if err := st.MarkEdited(ctx, local); err != nil {
		t.Fatalf("MarkEdited: %v", err)
	}
	fake.putRemote("rk2", "Trip", "remote wins", t1.Add(time.Hour))
	mustSync(t, engine)

	if err := engine.ResolveConflict(ctx, local.ID, false); err != nil {
		t.Fatalf("ResolveConflict: %v", err)
	}
	mustSync(t, engine)

	got, _ := st.GetNoteByRemoteID(ctx, "rk2")
	if got.Content != "remote wins" {
		t.Errorf("Content = %q, want remote content pulled", got.Content)
	}
	if got.SyncStatus != note.StatusSynced {
		t.Errorf("SyncStatus = %q", got.SyncStatus)
	}
}

func TestResolveConflictRejectsNonConflict(t *testing.T) {
	engine, st, _ := newTestEngine(t)
	ctx := context.Background()

	n := note.New("Trip", "x")
	if err := st.SaveNote(ctx, n); err != nil {
		t.Fatalf("SaveNote: %v", err)
	}
	if err := engine.ResolveConflict(ctx, n.ID, true); err == nil {
		t.Error("expected error for note not in conflict")
	}
}

func TestSyncSkipsWhenDisconnected(t *testing.T) {
	engine, _, fake := newTestEngine(t)
	ctx := context.Background()

	fake.Disconnect(ctx)
	res, err := engine.Sync(ctx)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if !res.Skipped {
		t.Fatal("sync on a disconnected provider should be skipped, not fail")
	}
	if res.SkipReason == "" {
		t.Error("skip reason should name the cause")
	}

	// The guard is released, so a sync after reconnecting runs.
	fake.Connect(ctx, provider.Credentials{})
	res, err = engine.Sync(ctx)
	if err != nil {
		t.Fatalf("Sync after reconnect: %v", err)
	}
	if res.Skipped {
		t.Error("sync after reconnect should run")
	}
}

func TestSyncKeepsPendingPushWhenRemoteVanishes(t *testing.T) {
	engine, st, fake := newTestEngine(t)
	ctx := context.Background()

	fake.putRemote("rk1", "Trip", "pack bags", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	mustSync(t, engine)

	// Edit locally, then lose the remote copy before the next cycle.
	local, err := st.GetNoteByRemoteID(ctx, "rk1")
	if err != nil {
		t.Fatalf("GetNoteByRemoteID: %v", err)
	}
	local.Content = "pack bags, local edit"
	if err := st.MarkEdited(ctx, local); err != nil {
		t.Fatalf("MarkEdited: %v", err)
	}
	_ = fake.DeleteRemote(ctx, "rk1")

	stats := mustSync(t, engine)
	if stats.Deleted != 0 {
		t.Errorf("Deleted = %d, want 0 (edited note must stay in the push set)", stats.Deleted)
	}

	got, err := st.GetNoteByRemoteID(ctx, "rk1")
	if err != nil {
		t.Fatalf("GetNoteByRemoteID: %v", err)
	}
	if got.SyncStatus == note.StatusDeletedRemote {
		t.Fatal("note with a pending local edit must not become deleted_remote")
	}
	if got.SyncStatus != note.StatusPendingPush {
		t.Errorf("SyncStatus = %q, want %q for retry", got.SyncStatus, note.StatusPendingPush)
	}
	if got.Content != "pack bags, local edit" {
		t.Errorf("Content = %q, local edit must survive", got.Content)
	}
}

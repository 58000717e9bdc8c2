package githost

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/keepsync/keepsync/internal/note"
	"github.com/keepsync/keepsync/internal/provider"
)

// fakeGitServer emulates the contents API of a git host.
type fakeGitServer struct {
	mu       sync.Mutex
	files    map[string]fakeFile // path -> file
	nextSHA  int
	token    string
	owner    string
	repo     string
	failPath string // GETs for this path answer 500
}

type fakeFile struct {
	content string // base64
	sha     string
}

func newFakeGitServer() *fakeGitServer {
	return &fakeGitServer{
		files: make(map[string]fakeFile),
		token: "pat-1",
		owner: "alice",
		repo:  "notes",
	}
}

func (f *fakeGitServer) newSHA() string {
	f.nextSHA++
	return fmt.Sprintf("sha%d", f.nextSHA)
}

func (f *fakeGitServer) handler() http.Handler {
	prefix := fmt.Sprintf("/repos/%s/%s", f.owner, f.repo)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+f.token {
			http.Error(w, "bad token", http.StatusUnauthorized)
			return
		}
		if !strings.HasPrefix(r.URL.Path, prefix) {
			http.Error(w, "no such repo", http.StatusNotFound)
			return
		}
		rest := strings.TrimPrefix(r.URL.Path, prefix)

		if rest == "" || rest == "/" {
			_ = json.NewEncoder(w).Encode(map[string]string{"full_name": f.owner + "/" + f.repo})
			return
		}
		if !strings.HasPrefix(rest, "/contents/") {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		path := strings.TrimPrefix(rest, "/contents/")

		f.mu.Lock()
		defer f.mu.Unlock()

		switch r.Method {
		case http.MethodGet:
			if f.failPath != "" && path == f.failPath {
				http.Error(w, "boom", http.StatusInternalServerError)
				return
			}
			if file, ok := f.files[path]; ok {
				_ = json.NewEncoder(w).Encode(map[string]string{
					"content": file.content, "encoding": "base64", "sha": file.sha,
				})
				return
			}
			// Directory listing.
			var listing []map[string]string
			dir := path + "/"
			for p, file := range f.files {
				if strings.HasPrefix(p, dir) {
					listing = append(listing, map[string]string{
						"name": strings.TrimPrefix(p, dir), "path": p, "type": "file", "sha": file.sha,
					})
				}
			}
			if listing == nil {
				http.Error(w, "not found", http.StatusNotFound)
				return
			}
			_ = json.NewEncoder(w).Encode(listing)

		case http.MethodPut:
			var body struct {
				Message string `json:"message"`
				Content string `json:"content"`
				SHA     string `json:"sha"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			existing, exists := f.files[path]
			if exists && body.SHA != existing.sha {
				http.Error(w, "sha mismatch", http.StatusConflict)
				return
			}
			if !exists && body.SHA != "" {
				http.Error(w, "sha for new file", http.StatusConflict)
				return
			}
			file := fakeFile{content: body.Content, sha: f.newSHA()}
			f.files[path] = file
			_ = json.NewEncoder(w).Encode(map[string]any{
				"content": map[string]string{"sha": file.sha},
			})

		case http.MethodDelete:
			var body struct {
				SHA string `json:"sha"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			existing, exists := f.files[path]
			if !exists {
				http.Error(w, "not found", http.StatusNotFound)
				return
			}
			if body.SHA != existing.sha {
				http.Error(w, "sha mismatch", http.StatusConflict)
				return
			}
			delete(f.files, path)
			w.WriteHeader(http.StatusOK)

		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
}

func newConnected(t *testing.T) (*Provider, *fakeGitServer) {
	t.Helper()
	fake := newFakeGitServer()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	p := New()
	ok, msg := p.Connect(context.Background(), provider.Credentials{
		Account:   fake.owner,
		Container: fake.repo,
		Token:     fake.token,
		Endpoint:  srv.URL,
	})
	if !ok {
		t.Fatalf("Connect: %s", msg)
	}
	return p, fake
}

func TestConnectValidation(t *testing.T) {
	p := New()
	if ok, _ := p.Connect(context.Background(), provider.Credentials{Token: "t"}); ok {
		t.Error("connect without owner/repo should fail")
	}
	if ok, _ := p.Connect(context.Background(), provider.Credentials{Account: "a", Container: "r"}); ok {
		t.Error("connect without token should fail")
	}
}

func TestConnectUnknownRepo(t *testing.T) {
	fake := newFakeGitServer()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	p := New()
	ok, msg := p.Connect(context.Background(), provider.Credentials{
		Account:   "alice",
		Container: "other-repo",
		Token:     fake.token,
		Endpoint:  srv.URL,
	})
	if ok {
		t.Fatal("unknown repo should be rejected")
	}
	if !strings.Contains(msg, "not found") {
		t.Errorf("msg = %q", msg)
	}
}

func TestConnectBadToken(t *testing.T) {
	fake := newFakeGitServer()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	p := New()
	ok, msg := p.Connect(context.Background(), provider.Credentials{
		Account:   fake.owner,
		Container: fake.repo,
		Token:     "wrong",
		Endpoint:  srv.URL,
	})
	if ok {
		t.Fatal("bad token should be rejected")
	}
	if !strings.Contains(msg, "token") {
		t.Errorf("msg = %q", msg)
	}
}

func TestCreateFetchUpdateDelete(t *testing.T) {
	p, fake := newConnected(t)
	ctx := context.Background()

	n := note.New("Groceries", "milk, eggs")
	id, err := p.CreateRemote(ctx, n)
	if err != nil {
		t.Fatalf("CreateRemote: %v", err)
	}

	fake.mu.Lock()
	_, stored := fake.files[notesDir+"/"+id+".json"]
	fake.mu.Unlock()
	if !stored {
		t.Fatal("note file not created in repository")
	}

	snapshot, err := p.FetchSnapshot(ctx)
	if err != nil {
		t.Fatalf("FetchSnapshot: %v", err)
	}
	if len(snapshot) != 1 || snapshot[0].ID != id {
		t.Fatalf("snapshot = %+v", snapshot)
	}
	if snapshot[0].Content != "milk, eggs" {
		t.Errorf("Content = %q", snapshot[0].Content)
	}

	n.Content = "milk, eggs, bread"
	if err := p.UpdateRemote(ctx, id, n); err != nil {
		t.Fatalf("UpdateRemote: %v", err)
	}
	if err := p.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	snapshot, _ = p.FetchSnapshot(ctx)
	if snapshot[0].Content != "milk, eggs, bread" {
		t.Errorf("Content = %q after update", snapshot[0].Content)
	}

	if err := p.DeleteRemote(ctx, id); err != nil {
		t.Fatalf("DeleteRemote: %v", err)
	}
	// Deleting a missing note is fine.
	if err := p.DeleteRemote(ctx, id); err != nil {
		t.Errorf("second DeleteRemote: %v", err)
	}

	snapshot, err = p.FetchSnapshot(ctx)
	if err != nil {
		t.Fatalf("FetchSnapshot: %v", err)
	}
	if len(snapshot) != 0 {
		t.Errorf("snapshot has %d notes after delete", len(snapshot))
	}
}

func TestSnapshotSkipsUnreadableFile(t *testing.T) {
	p, fake := newConnected(t)
	ctx := context.Background()

	goodID, err := p.CreateRemote(ctx, note.New("Groceries", "milk, eggs"))
	if err != nil {
		t.Fatalf("CreateRemote: %v", err)
	}
	badID, err := p.CreateRemote(ctx, note.New("Trip", "pack bags"))
	if err != nil {
		t.Fatalf("CreateRemote: %v", err)
	}

	fake.mu.Lock()
	fake.failPath = notesDir + "/" + badID + ".json"
	fake.mu.Unlock()

	snapshot, err := p.FetchSnapshot(ctx)
	if err != nil {
		t.Fatalf("one unreadable file must not fail the snapshot: %v", err)
	}
	if len(snapshot) != 1 || snapshot[0].ID != goodID {
		t.Fatalf("snapshot = %+v, want only the readable note", snapshot)
	}

	// Once the file is readable again it reappears.
	fake.mu.Lock()
	fake.failPath = ""
	fake.mu.Unlock()
	snapshot, err = p.FetchSnapshot(ctx)
	if err != nil {
		t.Fatalf("FetchSnapshot: %v", err)
	}
	if len(snapshot) != 2 {
		t.Errorf("snapshot has %d notes after recovery, want 2", len(snapshot))
	}
}

func TestSnapshotEmptyRepo(t *testing.T) {
	p, _ := newConnected(t)
	snapshot, err := p.FetchSnapshot(context.Background())
	if err != nil {
		t.Fatalf("FetchSnapshot: %v", err)
	}
	if len(snapshot) != 0 {
		t.Errorf("snapshot has %d notes, want 0", len(snapshot))
	}
}

func TestStoredFileFormat(t *testing.T) {
	p, fake := newConnected(t)
	ctx := context.Background()

	n := note.New("Trip", "pack bags")
	n.SetLabels([]string{"travel"})
	id, err := p.CreateRemote(ctx, n)
	if err != nil {
		t.Fatalf("CreateRemote: %v", err)
	}

	fake.mu.Lock()
	file := fake.files[notesDir+"/"+id+".json"]
	fake.mu.Unlock()

	raw, err := base64.StdEncoding.DecodeString(file.content)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	var nf noteFile
	if err := json.Unmarshal(raw, &nf); err != nil {
		t.Fatalf("stored file is not valid JSON: %v", err)
	}
	if nf.ID != id || nf.Title != "Trip" || len(nf.Labels) != 1 {
		t.Errorf("stored file = %+v", nf)
	}
}

func TestUpdateAfterExternalChange(t *testing.T) {
	p, fake := newConnected(t)
	ctx := context.Background()

	n := note.New("Trip", "pack bags")
	id, err := p.CreateRemote(ctx, n)
	if err != nil {
		t.Fatalf("CreateRemote: %v", err)
	}

	// Another client rewrites the file, changing its sha. After a
	// refresh the provider re-resolves the sha and the update lands.
	path := notesDir + "/" + id + ".json"
	fake.mu.Lock()
	file := fake.files[path]
	file.sha = fake.newSHA()
	fake.files[path] = file
	fake.mu.Unlock()

	if err := p.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	n.Content = "pack bags, print tickets"
	if err := p.UpdateRemote(ctx, id, n); err != nil {
		t.Fatalf("UpdateRemote after external change: %v", err)
	}
}

// Package githost implements the git-hosted store provider.
//
// Notes live as individual JSON files under notes/ in a hosted git
// repository, manipulated through a GitHub-style contents API. Every
// write is a commit, so the repository history doubles as a change log
// for the whole note collection.
package githost

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/keepsync/keepsync/internal/note"
	"github.com/keepsync/keepsync/internal/provider"
)

const (
	defaultBaseURL = "https://api.github.com"
	notesDir       = "notes"
	requestTimeout = 30 * time.Second
)

func init() {
	provider.Register(provider.NameGitHost, func() provider.Provider { return New() })
}

// Provider stores notes in a hosted git repository via its contents
// API. The Account credential is the repository owner, Container the
// repository name and Token a personal access token.
type Provider struct {
	client  *http.Client
	logger  *log.Logger
	baseURL string
	owner   string
	repo    string
	token   string

	mu   sync.Mutex
	shas map[string]string // path -> blob sha, required for update and delete
}

// New creates a disconnected git-host provider.
func New() *Provider {
	return &Provider{
		client: &http.Client{Timeout: requestTimeout},
		logger: log.New(os.Stderr, "[githost] ", log.LstdFlags),
		shas:   make(map[string]string),
	}
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return provider.NameGitHost }

// Connect implements provider.Provider. Verifies the repository exists
// and is reachable with the given token.
func (p *Provider) Connect(ctx context.Context, creds provider.Credentials) (bool, string) {
	if creds.Account == "" || creds.Container == "" {
		return false, "repository owner and name are required"
	}
	if creds.Token == "" {
		return false, "access token is required"
	}
	p.baseURL = defaultBaseURL
	if creds.Endpoint != "" {
		p.baseURL = strings.TrimRight(creds.Endpoint, "/")
	}
	p.owner = creds.Account
	p.repo = creds.Container

	req, err := p.newRequest(ctx, http.MethodGet, p.repoPath(""), nil)
	if err != nil {
		return false, fmt.Sprintf("git host request failed: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+creds.Token)
	resp, err := p.client.Do(req)
	if err != nil {
		return false, fmt.Sprintf("git host unreachable: %v", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return false, fmt.Sprintf("repository %s/%s not found", p.owner, p.repo)
	case http.StatusUnauthorized, http.StatusForbidden:
		return false, "access token rejected"
	default:
		return false, fmt.Sprintf("git host returned http %d", resp.StatusCode)
	}

	p.token = creds.Token
	return true, fmt.Sprintf("connected to %s/%s", p.owner, p.repo)
}

// Disconnect implements provider.Provider.
func (p *Provider) Disconnect(_ context.Context) {
	p.token = ""
	p.mu.Lock()
	p.shas = make(map[string]string)
	p.mu.Unlock()
}

// IsConnected implements provider.Provider.
func (p *Provider) IsConnected() bool { return p.token != "" }

// Refresh implements provider.Provider. Drops the cached blob shas so
// the next snapshot re-reads them from the repository.
func (p *Provider) Refresh(_ context.Context) error {
	if p.token == "" {
		return fmt.Errorf("githost: not connected")
	}
	p.mu.Lock()
	p.shas = make(map[string]string)
	p.mu.Unlock()
	return nil
}

// FetchSnapshot implements provider.Provider. Lists notes/ and fetches
// every JSON file in it.
func (p *Provider) FetchSnapshot(ctx context.Context) ([]provider.RemoteNote, error) {
	if p.token == "" {
		return nil, fmt.Errorf("githost: not connected")
	}

	var listing []struct {
		Name string `json:"name"`
		Path string `json:"path"`
		Type string `json:"type"`
		SHA  string `json:"sha"`
	}
	err := p.do(ctx, http.MethodGet, p.contentsPath(notesDir), nil, &listing)
	if isNotFound(err) {
		// No notes directory yet: empty collection.
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("githost: list notes: %w", err)
	}

	var snapshot []provider.RemoteNote
	for _, entry := range listing {
		if entry.Type != "file" || !strings.HasSuffix(entry.Name, ".json") {
			continue
		}
		r, sha, err := p.fetchNoteFile(ctx, entry.Path)
		if err != nil {
			// One bad file must not cost the rest of the snapshot.
			// The note reappears in a later cycle once readable.
			p.logger.Printf("skipping %s: %v", entry.Path, err)
			continue
		}
		p.rememberSHA(entry.Path, sha)
		snapshot = append(snapshot, r)
	}
	return snapshot, nil
}

// CreateRemote implements provider.Provider.
func (p *Provider) CreateRemote(ctx context.Context, n *note.Note) (string, error) {
	if p.token == "" {
		return "", fmt.Errorf("githost: not connected")
	}
	remoteID := uuid.NewString()
	path := notePath(remoteID)
	body := putRequest{
		Message: fmt.Sprintf("Add note %q", n.Title),
		Content: encodeNote(remoteID, n),
	}
	var resp putResponse
	if err := p.do(ctx, http.MethodPut, p.contentsPath(path), body, &resp); err != nil {
		return "", fmt.Errorf("githost: create note: %w", err)
	}
	p.rememberSHA(path, resp.Content.SHA)
	return remoteID, nil
}

// UpdateRemote implements provider.Provider.
func (p *Provider) UpdateRemote(ctx context.Context, remoteID string, n *note.Note) error {
	if p.token == "" {
		return fmt.Errorf("githost: not connected")
	}
	path := notePath(remoteID)
	sha, err := p.blobSHA(ctx, path)
	if err != nil {
		return fmt.Errorf("githost: update note %s: %w", remoteID, err)
	}
	body := putRequest{
		Message: fmt.Sprintf("Update note %q", n.Title),
		Content: encodeNote(remoteID, n),
		SHA:     sha,
	}
	var resp putResponse
	if err := p.do(ctx, http.MethodPut, p.contentsPath(path), body, &resp); err != nil {
		return fmt.Errorf("githost: update note %s: %w", remoteID, err)
	}
	p.rememberSHA(path, resp.Content.SHA)
	return nil
}

// DeleteRemote implements provider.Provider. A file already gone is
// not an error.
func (p *Provider) DeleteRemote(ctx context.Context, remoteID string) error {
	if p.token == "" {
		return fmt.Errorf("githost: not connected")
	}
	path := notePath(remoteID)
	sha, err := p.blobSHA(ctx, path)
	if isNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("githost: delete note %s: %w", remoteID, err)
	}
	body := struct {
		Message string `json:"message"`
		SHA     string `json:"sha"`
	}{Message: "Delete note " + remoteID, SHA: sha}
	err = p.do(ctx, http.MethodDelete, p.contentsPath(path), body, nil)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("githost: delete note %s: %w", remoteID, err)
	}
	p.forgetSHA(path)
	return nil
}

// fetchNoteFile reads and decodes one note file, returning its blob sha
// alongside the note.
func (p *Provider) fetchNoteFile(ctx context.Context, path string) (provider.RemoteNote, string, error) {
	var file struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
		SHA      string `json:"sha"`
	}
	if err := p.do(ctx, http.MethodGet, p.contentsPath(path), nil, &file); err != nil {
		return provider.RemoteNote{}, "", err
	}
	raw := file.Content
	if file.Encoding == "base64" || file.Encoding == "" {
		decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(raw, "\n", ""))
		if err != nil {
			return provider.RemoteNote{}, "", fmt.Errorf("decode content: %w", err)
		}
		raw = string(decoded)
	}
	var nf noteFile
	if err := json.Unmarshal([]byte(raw), &nf); err != nil {
		return provider.RemoteNote{}, "", fmt.Errorf("parse note file: %w", err)
	}
	return nf.toRemote(), file.SHA, nil
}

// blobSHA resolves the blob sha for path, preferring the cache filled
// during the last snapshot.
func (p *Provider) blobSHA(ctx context.Context, path string) (string, error) {
	p.mu.Lock()
	sha, ok := p.shas[path]
	p.mu.Unlock()
	if ok {
		return sha, nil
	}
	var file struct {
		SHA string `json:"sha"`
	}
	if err := p.do(ctx, http.MethodGet, p.contentsPath(path), nil, &file); err != nil {
		return "", err
	}
	p.rememberSHA(path, file.SHA)
	return file.SHA, nil
}

func (p *Provider) rememberSHA(path, sha string) {
	if sha == "" {
		return
	}
	p.mu.Lock()
	p.shas[path] = sha
	p.mu.Unlock()
}

func (p *Provider) forgetSHA(path string) {
	p.mu.Lock()
	delete(p.shas, path)
	p.mu.Unlock()
}

func (p *Provider) repoPath(suffix string) string {
	return fmt.Sprintf("/repos/%s/%s%s", p.owner, p.repo, suffix)
}

func (p *Provider) contentsPath(path string) string {
	return p.repoPath("/contents/" + path)
}

func (p *Provider) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	return req, nil
}

func (p *Provider) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := p.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &apiError{status: resp.StatusCode, body: strings.TrimSpace(string(data))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type apiError struct {
	status int
	body   string
}

func (e *apiError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("http %d", e.status)
	}
	return fmt.Sprintf("http %d: %s", e.status, e.body)
}

func isNotFound(err error) bool {
	var api *apiError
	return errors.As(err, &api) && api.status == http.StatusNotFound
}

type putRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	SHA     string `json:"sha,omitempty"`
}

type putResponse struct {
	Content struct {
		SHA string `json:"sha"`
	} `json:"content"`
}

func notePath(remoteID string) string {
	return notesDir + "/" + remoteID + ".json"
}

// noteFile is the JSON document stored per note in the repository.
type noteFile struct {
	ID             string               `json:"id"`
	Title          string               `json:"title"`
	Content        string               `json:"content"`
	NoteType       note.Type            `json:"note_type"`
	ChecklistItems []note.ChecklistItem `json:"checklist_items,omitempty"`
	Labels         []string             `json:"labels,omitempty"`
	Pinned         bool                 `json:"pinned"`
	Archived       bool                 `json:"archived"`
	Trashed        bool                 `json:"trashed"`
	Color          string               `json:"color,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

func (f noteFile) toRemote() provider.RemoteNote {
	return provider.RemoteNote{
		ID:             f.ID,
		Title:          f.Title,
		Content:        f.Content,
		NoteType:       f.NoteType,
		ChecklistItems: f.ChecklistItems,
		Labels:         f.Labels,
		Pinned:         f.Pinned,
		Archived:       f.Archived,
		Trashed:        f.Trashed,
		Color:          f.Color,
		CreatedAt:      f.CreatedAt,
		UpdatedAt:      f.UpdatedAt,
	}
}

// encodeNote serializes a local note into the stored file format and
// base64-encodes it for the contents API.
func encodeNote(remoteID string, n *note.Note) string {
	f := noteFile{
		ID:             remoteID,
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
	data, _ := json.MarshalIndent(f, "", "  ")
	return base64.StdEncoding.EncodeToString(data)
}

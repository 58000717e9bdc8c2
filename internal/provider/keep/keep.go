// Package keep implements the Keep-style HTTP note provider.
//
// The remote service keeps a server-side working set per session.
// Reads are only as fresh as the last sync call, so the engine calls
// Refresh before pulling and again after pushing, mirroring how the
// upstream service expects clients to behave.
package keep

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/keepsync/keepsync/internal/note"
	"github.com/keepsync/keepsync/internal/provider"
)

const requestTimeout = 30 * time.Second

func init() {
	provider.Register(provider.NameKeep, func() provider.Provider { return New() })
}

// Provider talks to a Keep-style note API over HTTP. Authentication
// uses an account email plus a long-lived master token exchanged for a
// session token on connect.
type Provider struct {
	client  *http.Client
	baseURL string
	session string
}

// New creates a disconnected Keep provider.
func New() *Provider {
	return &Provider{
		client: &http.Client{Timeout: requestTimeout},
	}
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return provider.NameKeep }

// Connect implements provider.Provider. The Endpoint credential names
// the API base URL; Account and Token carry the email and master token.
func (p *Provider) Connect(ctx context.Context, creds provider.Credentials) (bool, string) {
	if creds.Endpoint == "" {
		return false, "keep endpoint is not configured"
	}
	if creds.Account == "" || creds.Token == "" {
		return false, "keep email and master token are required"
	}
	p.baseURL = strings.TrimRight(creds.Endpoint, "/")

	body := struct {
		Email       string `json:"email"`
		MasterToken string `json:"master_token"`
	}{Email: creds.Account, MasterToken: creds.Token}

	var resp struct {
		SessionToken string `json:"session_token"`
	}
	if err := p.do(ctx, http.MethodPost, "/v1/session", body, &resp); err != nil {
		return false, fmt.Sprintf("keep login failed: %v", err)
	}
	if resp.SessionToken == "" {
		return false, "keep login failed: empty session token"
	}

	p.session = resp.SessionToken
	return true, fmt.Sprintf("connected to keep as %s", creds.Account)
}

// Disconnect implements provider.Provider.
func (p *Provider) Disconnect(_ context.Context) {
	p.session = ""
}

// IsConnected implements provider.Provider.
func (p *Provider) IsConnected() bool { return p.session != "" }

// Refresh implements provider.Provider. Tells the service to reconcile
// its working set so the next fetch sees current state.
func (p *Provider) Refresh(ctx context.Context) error {
	if p.session == "" {
		return fmt.Errorf("keep: not connected")
	}
	if err := p.do(ctx, http.MethodPost, "/v1/sync", nil, nil); err != nil {
		return fmt.Errorf("keep: refresh: %w", err)
	}
	return nil
}

// FetchSnapshot implements provider.Provider.
func (p *Provider) FetchSnapshot(ctx context.Context) ([]provider.RemoteNote, error) {
	if p.session == "" {
		return nil, fmt.Errorf("keep: not connected")
	}
	var resp struct {
		Notes []wireNote `json:"notes"`
	}
	if err := p.do(ctx, http.MethodGet, "/v1/notes", nil, &resp); err != nil {
		return nil, fmt.Errorf("keep: fetch notes: %w", err)
	}
	snapshot := make([]provider.RemoteNote, 0, len(resp.Notes))
	for _, w := range resp.Notes {
		snapshot = append(snapshot, w.toRemote())
	}
	return snapshot, nil
}

// CreateRemote implements provider.Provider.
func (p *Provider) CreateRemote(ctx context.Context, n *note.Note) (string, error) {
	if p.session == "" {
		return "", fmt.Errorf("keep: not connected")
	}
	var created wireNote
	if err := p.do(ctx, http.MethodPost, "/v1/notes", wireFromLocal(n), &created); err != nil {
		return "", fmt.Errorf("keep: create note: %w", err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("keep: create note: service returned no id")
	}
	return created.ID, nil
}

// UpdateRemote implements provider.Provider.
func (p *Provider) UpdateRemote(ctx context.Context, remoteID string, n *note.Note) error {
	if p.session == "" {
		return fmt.Errorf("keep: not connected")
	}
	path := "/v1/notes/" + remoteID
	if err := p.do(ctx, http.MethodPatch, path, wireFromLocal(n), nil); err != nil {
		return fmt.Errorf("keep: update note %s: %w", remoteID, err)
	}
	return nil
}

// DeleteRemote implements provider.Provider. A missing note is not an
// error; the outcome is the same.
func (p *Provider) DeleteRemote(ctx context.Context, remoteID string) error {
	if p.session == "" {
		return fmt.Errorf("keep: not connected")
	}
	err := p.do(ctx, http.MethodDelete, "/v1/notes/"+remoteID, nil, nil)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("keep: delete note %s: %w", remoteID, err)
	}
	return nil
}

// do sends one API request. A nil in skips the request body, a nil out
// discards the response body.
func (p *Provider) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if p.session != "" {
		req.Header.Set("Authorization", "Bearer "+p.session)
	}

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

// wireNote is the service's JSON representation of a note.
type wireNote struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Text      string     `json:"text"`
	Type      string     `json:"type"`
	ListItems []wireItem `json:"list_items,omitempty"`
	Labels    []string   `json:"labels,omitempty"`
	Pinned    bool       `json:"pinned"`
	Archived  bool       `json:"archived"`
	Trashed   bool       `json:"trashed"`
	Color     string     `json:"color,omitempty"`
	Created   time.Time  `json:"created"`
	Updated   time.Time  `json:"updated"`
}

type wireItem struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Checked bool   `json:"checked"`
}

func (w wireNote) toRemote() provider.RemoteNote {
	r := provider.RemoteNote{
		ID:        w.ID,
		Title:     w.Title,
		Content:   w.Text,
		NoteType:  note.TypeNote,
		Labels:    w.Labels,
		Pinned:    w.Pinned,
		Archived:  w.Archived,
		Trashed:   w.Trashed,
		Color:     w.Color,
		CreatedAt: w.Created,
		UpdatedAt: w.Updated,
	}
	if w.Type == "list" || len(w.ListItems) > 0 {
		r.NoteType = note.TypeChecklist
		r.ChecklistItems = make([]note.ChecklistItem, 0, len(w.ListItems))
		for _, item := range w.ListItems {
			r.ChecklistItems = append(r.ChecklistItems, note.ChecklistItem{
				ID:      item.ID,
				Text:    item.Text,
				Checked: item.Checked,
			})
		}
	}
	return r
}

func wireFromLocal(n *note.Note) wireNote {
	w := wireNote{
		Title:    n.Title,
		Text:     n.Content,
		Type:     "note",
		Labels:   n.Labels,
		Pinned:   n.Pinned,
		Archived: n.Archived,
		Trashed:  n.Trashed,
		Color:    n.Color,
		Created:  n.CreatedAt,
		Updated:  n.UpdatedAt,
	}
	if n.NoteType == note.TypeChecklist {
		w.Type = "list"
		w.ListItems = make([]wireItem, 0, len(n.ChecklistItems))
		for _, item := range n.ChecklistItems {
			w.ListItems = append(w.ListItems, wireItem{
				ID:      item.ID,
				Text:    item.Text,
				Checked: item.Checked,
			})
		}
	}
	return w
}

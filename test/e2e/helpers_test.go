package e2e_test

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alexjbarnes/keep-sync/internal/reconcile"
	"github.com/alexjbarnes/keep-sync/internal/remote"
	"github.com/alexjbarnes/keep-sync/internal/state"
	"github.com/alexjbarnes/keep-sync/internal/vault"
	"github.com/stretchr/testify/require"
)

const testToken = "e2e-test-token"

type wireItem struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Checked bool   `json:"checked"`
	Sort    int    `json:"sort"`
}

type wireNote struct {
	ID       string     `json:"id"`
	Kind     string     `json:"kind"`
	Title    string     `json:"title"`
	Text     string     `json:"text,omitempty"`
	Items    []wireItem `json:"items,omitempty"`
	Color    string     `json:"color"`
	Pinned   bool       `json:"pinned"`
	Archived bool       `json:"archived"`
	Trashed  bool       `json:"trashed"`
	Labels   []string   `json:"labels,omitempty"`
	Created  string     `json:"created"`
	Updated  string     `json:"updated"`
}

type createReq struct {
	Ref      string     `json:"ref"`
	Kind     string     `json:"kind"`
	Title    string     `json:"title"`
	Text     string     `json:"text"`
	Items    []wireItem `json:"items"`
	Color    string     `json:"color"`
	Pinned   bool       `json:"pinned"`
	Archived bool       `json:"archived"`
	Trashed  bool       `json:"trashed"`
	Labels   []string   `json:"labels"`
}

type updateReq struct {
	ID           string   `json:"id"`
	Title        *string  `json:"title"`
	Text         *string  `json:"text"`
	Color        *string  `json:"color"`
	Pinned       *bool    `json:"pinned"`
	Archived     *bool    `json:"archived"`
	Trashed      *bool    `json:"trashed"`
	AddLabels    []string `json:"addLabels"`
	RemoveLabels []string `json:"removeLabels"`
}

// noteService is an in-memory note store speaking the HTTP JSON API the
// remote client uses. Its clock starts a day in the past and advances a
// minute per mutation.
type noteService struct {
	mu        sync.Mutex
	notes     map[string]*wireNote
	clock     time.Time
	seq       int
	mutations []string
}

func newNoteService() *noteService {
	return &noteService{
		notes: make(map[string]*wireNote),
		clock: time.Now().UTC().Add(-24 * time.Hour).Truncate(time.Second),
	}
}

func (s *noteService) tick() string {
	s.clock = s.clock.Add(time.Minute)
	return s.clock.Format(time.RFC3339)
}

func (s *noteService) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s%d", prefix, s.seq)
}

// seed adds a note as if it had been created on another device.
func (s *noteService) seed(n wireNote) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.tick()
	n.Created, n.Updated = ts, ts

	if n.Color == "" {
		n.Color = "WHITE"
	}

	for i := range n.Items {
		n.Items[i].ID = s.nextID("i")
		n.Items[i].Sort = i
	}

	s.notes[n.ID] = &n
}

func (s *noteService) get(id string) wireNote {
	s.mu.Lock()
	defer s.mu.Unlock()

	return *s.notes[id]
}

func (s *noteService) byTitle(title string) (wireNote, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range s.notes {
		if n.Title == title {
			return *n, true
		}
	}

	return wireNote{}, false
}

func (s *noteService) mutationLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.mutations...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": map[string]string{"message": msg}})
}

func (s *noteService) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/notes", s.handleList)
	mux.HandleFunc("POST /v1/notes:commit", s.handleCommit)
	mux.HandleFunc("POST /v1/notes/{id}/items:clear", s.handleClear)
	mux.HandleFunc("POST /v1/notes/{id}/items", s.handleAddItems)
	mux.HandleFunc("DELETE /v1/notes/{id}/items/{item}", s.handleDeleteItem)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+testToken {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		mux.ServeHTTP(w, r)
	})
}

func (s *noteService) handleList(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]wireNote, 0, len(s.notes))
	for _, n := range s.notes {
		out = append(out, *n)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	writeJSON(w, http.StatusOK, map[string]any{
		"notes":  out,
		"full":   true,
		"cursor": fmt.Sprintf("c%d", s.seq),
	})
}

func (s *noteService) handleCommit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Creates []createReq `json:"creates"`
		Updates []updateReq `json:"updates"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	type created struct {
		Ref  string   `json:"ref"`
		Note wireNote `json:"note"`
	}

	var (
		createdOut []created
		updatedOut []wireNote
	)

	for _, c := range req.Creates {
		ts := s.tick()
		n := &wireNote{
			ID:       s.nextID("r"),
			Kind:     c.Kind,
			Title:    c.Title,
			Text:     c.Text,
			Color:    c.Color,
			Pinned:   c.Pinned,
			Archived: c.Archived,
			Trashed:  c.Trashed,
			Labels:   c.Labels,
			Created:  ts,
			Updated:  ts,
		}
		for i, it := range c.Items {
			n.Items = append(n.Items, wireItem{ID: s.nextID("i"), Text: it.Text, Checked: it.Checked, Sort: i})
		}

		s.notes[n.ID] = n
		s.mutations = append(s.mutations, "create "+n.Title)
		createdOut = append(createdOut, created{Ref: c.Ref, Note: *n})
	}

	for _, u := range req.Updates {
		n, ok := s.notes[u.ID]
		if !ok {
			continue
		}

		applyUpdate(n, u)
		n.Updated = s.tick()
		s.mutations = append(s.mutations, "update "+n.ID)
		updatedOut = append(updatedOut, *n)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"created": createdOut,
		"updated": updatedOut,
	})
}

func applyUpdate(n *wireNote, u updateReq) {
	if u.Title != nil {
		n.Title = *u.Title
	}

	if u.Text != nil {
		n.Text = *u.Text
	}

	if u.Color != nil {
		n.Color = *u.Color
	}

	if u.Pinned != nil {
		n.Pinned = *u.Pinned
	}

	if u.Archived != nil {
		n.Archived = *u.Archived
	}

	if u.Trashed != nil {
		n.Trashed = *u.Trashed
	}

	remove := make(map[string]bool, len(u.RemoveLabels))
	for _, l := range u.RemoveLabels {
		remove[strings.ToLower(l)] = true
	}

	var labels []string
	for _, l := range n.Labels {
		if !remove[strings.ToLower(l)] {
			labels = append(labels, l)
		}
	}

	n.Labels = append(labels, u.AddLabels...)
}

func (s *noteService) note(w http.ResponseWriter, r *http.Request) (*wireNote, bool) {
	n, ok := s.notes[r.PathValue("id")]
	if !ok {
		writeError(w, http.StatusNotFound, "no such note")
	}

	return n, ok
}

func (s *noteService) handleClear(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.note(w, r)
	if !ok {
		return
	}

	n.Items = nil
	n.Updated = s.tick()
	s.mutations = append(s.mutations, "clear "+n.ID)
	writeJSON(w, http.StatusOK, map[string]any{})
}

func (s *noteService) handleAddItems(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Items []wireItem `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.note(w, r)
	if !ok {
		return
	}

	for _, it := range req.Items {
		n.Items = append(n.Items, wireItem{ID: s.nextID("i"), Text: it.Text, Checked: it.Checked, Sort: len(n.Items)})
	}

	n.Updated = s.tick()
	s.mutations = append(s.mutations, "add_items "+n.ID)
	writeJSON(w, http.StatusOK, map[string]any{})
}

func (s *noteService) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.note(w, r)
	if !ok {
		return
	}

	item := r.PathValue("item")
	kept := n.Items[:0]
	for _, it := range n.Items {
		if it.ID != item {
			kept = append(kept, it)
		}
	}

	n.Items = kept
	n.Updated = s.tick()
	s.mutations = append(s.mutations, "delete_item "+n.ID)
	writeJSON(w, http.StatusOK, map[string]any{})
}

// harness holds the full stack: the HTTP note service, a mirror
// directory and a state database.
type harness struct {
	t       *testing.T
	service *noteService
	server  *httptest.Server
	dir     string
	vault   *vault.Vault
	state   *state.State
	out     strings.Builder
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	svc := newNoteService()
	srv := httptest.NewServer(svc.handler())
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	v, err := vault.New(dir)
	require.NoError(t, err)

	st, err := state.LoadAt(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	return &harness{t: t, service: svc, server: srv, dir: dir, vault: v, state: st}
}

func (h *harness) engine(token string, opts reconcile.Options) *reconcile.Engine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return reconcile.New(reconcile.Config{
		Vault:              h.vault,
		Store:              remote.NewClient(h.server.URL, token, h.server.Client(), logger),
		Cache:              h.state,
		History:            h.state,
		Options:            opts,
		Workers:            2,
		ListRewriteTimeout: 5 * time.Second,
		Out:                &h.out,
		Logger:             logger,
	})
}

// sync runs an automatic sync and fails the test on any error.
func (h *harness) sync() *reconcile.Result {
	h.t.Helper()

	res, err := h.engine(testToken, reconcile.Options{Automatic: true}).Run(h.t.Context())
	require.NoError(h.t, err, h.out.String())

	return res
}

func (h *harness) read(rel string) string {
	h.t.Helper()

	data, err := os.ReadFile(filepath.Join(h.dir, filepath.FromSlash(rel)))
	require.NoError(h.t, err)

	return string(data)
}

// edit rewrites a mirror file and marks it modified now.
func (h *harness) edit(rel, old, replacement string) {
	h.t.Helper()

	content := h.read(rel)
	require.Contains(h.t, content, old)

	abs := filepath.Join(h.dir, filepath.FromSlash(rel))
	require.NoError(h.t, os.WriteFile(abs, []byte(strings.Replace(content, old, replacement, 1)), 0o644))

	now := time.Now()
	require.NoError(h.t, os.Chtimes(abs, now, now))
}

func (h *harness) write(rel, content string) {
	h.t.Helper()

	abs := filepath.Join(h.dir, filepath.FromSlash(rel))
	require.NoError(h.t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(h.t, os.WriteFile(abs, []byte(content), 0o644))
}

// seedDefaults adds a text note, a list note and an archived note.
func (h *harness) seedDefaults() {
	h.service.seed(wireNote{ID: "n1", Kind: "text", Title: "Trip Plans", Text: "Book flights.", Labels: []string{"travel"}})
	h.service.seed(wireNote{ID: "n2", Kind: "list", Title: "Groceries", Items: []wireItem{
		{Text: "milk"},
		{Text: "eggs", Checked: true},
	}})
	h.service.seed(wireNote{ID: "n3", Kind: "text", Title: "Old Idea", Text: "Maybe later.", Archived: true})
}

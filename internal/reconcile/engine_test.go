package reconcile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	kserrors "github.com/alexjbarnes/keep-sync/internal/errors"
	"github.com/alexjbarnes/keep-sync/internal/notes"
	"github.com/alexjbarnes/keep-sync/internal/remote"
	"github.com/alexjbarnes/keep-sync/internal/state"
	"github.com/alexjbarnes/keep-sync/internal/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory note service. Every mutation advances its
// clock by a minute, starting from t0.
type fakeStore struct {
	mu         sync.Mutex
	notes      map[string]*notes.Record
	clock      time.Time
	seq        int
	incomplete bool
	mutations  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{notes: make(map[string]*notes.Record), clock: t0}
}

func (s *fakeStore) tick() *time.Time {
	s.clock = s.clock.Add(time.Minute)
	t := s.clock

	return &t
}

func (s *fakeStore) finalize(rec *notes.Record) {
	rec.Fields = notes.FieldsAll
	rec.Partition = rec.TargetPartition()
	rec.Fingerprint = notes.Fingerprint(rec)
}

// seed adds a note as if it had been created remotely.
func (s *fakeStore) seed(rec notes.Record) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	rec.ID = fmt.Sprintf("r%d", s.seq)
	rec.Created = s.tick()
	rec.Updated = rec.Created

	if rec.Color == "" {
		rec.Color = notes.ColorWhite
	}

	s.finalize(&rec)
	s.notes[rec.ID] = &rec

	return rec.ID
}

// edit changes a note as if from another client. fn may override the
// new updated time.
func (s *fakeStore) edit(id string, fn func(*notes.Record)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.notes[id]
	rec.Updated = s.tick()
	fn(rec)
	s.finalize(rec)
}

func (s *fakeStore) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.notes, id)
}

func (s *fakeStore) get(id string) notes.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	return *s.notes[id]
}

func (s *fakeStore) byTitle(title string) []notes.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []notes.Record

	for _, rec := range s.notes {
		if rec.Title == title {
			out = append(out, *rec)
		}
	}

	return out
}

func (s *fakeStore) mutationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.mutations
}

func (s *fakeStore) ListNotes(_ context.Context, _ string) (*remote.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := &remote.Listing{Cursor: "c", Full: true, Complete: !s.incomplete}
	for _, rec := range s.notes {
		l.Notes = append(l.Notes, *rec)
	}

	return l, nil
}

func (s *fakeStore) Commit(_ context.Context, b *remote.Batch) (*remote.CommitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := &remote.CommitResult{
		Created: make(map[string]notes.Record),
		Updated: make(map[string]notes.Record),
	}

	for _, c := range b.Creates {
		s.mutations++
		s.seq++

		rec := c.Record
		rec.ID = fmt.Sprintf("r%d", s.seq)
		rec.Created = s.tick()
		rec.Updated = rec.Created

		for i := range rec.Items {
			rec.Items[i].ID = fmt.Sprintf("%s-i%d", rec.ID, i)
		}

		s.finalize(&rec)
		s.notes[rec.ID] = &rec
		res.Created[c.Ref] = rec
	}

	for _, u := range b.Updates {
		s.mutations++

		rec, ok := s.notes[u.ID]
		if !ok {
			res.Failed = append(res.Failed, remote.CommitFailure{ID: u.ID, Error: "not found"})
			continue
		}

		applyUpdate(rec, u)
		rec.Updated = s.tick()
		s.finalize(rec)
		res.Updated[u.ID] = *rec
	}

	return res, nil
}

func applyUpdate(rec *notes.Record, u remote.Update) {
	if u.Title != nil {
		rec.Title = *u.Title
	}

	if u.Text != nil {
		rec.Body = *u.Text
	}

	if u.Color != nil {
		rec.Color = *u.Color
	}

	if u.Pinned != nil {
		rec.Pinned = *u.Pinned
	}

	if u.Archived != nil {
		rec.Archived = *u.Archived
	}

	if u.Trashed != nil {
		rec.Trashed = *u.Trashed
	}

	labels := notes.NormalizeLabels(append(rec.Labels, u.AddLabels...))
	kept := labels[:0]

	for _, l := range labels {
		removed := false

		for _, r := range u.RemoveLabels {
			if notes.NormalizeLabel(r) == l {
				removed = true
			}
		}

		if !removed {
			kept = append(kept, l)
		}
	}

	rec.Labels = kept
}

func (s *fakeStore) ClearItems(_ context.Context, noteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mutations++
	s.notes[noteID].Items = nil

	return nil
}

func (s *fakeStore) DeleteItem(_ context.Context, noteID, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mutations++

	return errors.New("not supported")
}

func (s *fakeStore) AddItems(_ context.Context, noteID string, items []notes.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mutations++

	rec := s.notes[noteID]
	for _, it := range items {
		it.ID = fmt.Sprintf("%s-i%d", noteID, len(rec.Items))
		rec.Items = append(rec.Items, it)
	}

	return nil
}

type harness struct {
	t     *testing.T
	store *fakeStore
	vault *vault.Vault
	out   bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	return &harness{t: t, store: newFakeStore(), vault: mirror(t, t0, nil)}
}

func (h *harness) engine(opts Options, mod ...func(*Config)) *Engine {
	cfg := Config{
		Vault:   h.vault,
		Store:   h.store,
		Options: opts,
		Workers: 2,
		Out:     &h.out,
		Logger:  discardLogger(),
	}

	for _, m := range mod {
		m(&cfg)
	}

	return New(cfg)
}

func (h *harness) run(opts Options, mod ...func(*Config)) *Result {
	h.t.Helper()

	res, err := h.engine(opts, mod...).Run(context.Background())
	require.NoError(h.t, err)

	return res
}

// write creates or replaces a local file with a modification time after
// anything the fake store has produced.
func (h *harness) write(p, content string) {
	h.t.Helper()
	require.NoError(h.t, h.vault.WriteFile(p, []byte(content), time.Now()))
}

// editLocal changes a local file's document and marks it newer than the
// remote copy.
func (h *harness) editLocal(p string, fn func(doc *vault.Document)) {
	h.t.Helper()

	doc, _, err := h.vault.Load(p)
	require.NoError(h.t, err)

	fn(doc)
	require.NoError(h.t, h.vault.Save(p, doc, time.Now()))
}

func allSkipped(t *testing.T, res *Result) {
	t.Helper()

	for _, e := range res.Plan {
		assert.Equal(t, "skip", e.Action, "%s %s %s", e.Pass, e.Path, e.Title)
	}
}

var automatic = Options{Automatic: true}

func TestEngine_PullThenIdempotent(t *testing.T) {
	h := newHarness(t)
	h.store.seed(notes.Record{Title: "Trip", Body: "pack #bags", Labels: []string{"Travel Plans"}})
	h.store.seed(notes.Record{Title: "Shop", Kind: notes.KindList, Items: []notes.Item{{ID: "a", Text: "milk"}, {ID: "b", Text: "eggs", Checked: true}}})
	h.store.seed(notes.Record{Title: "Old", Body: "archived", Archived: true})
	h.store.seed(notes.Record{Title: "Gone", Body: "bye", Trashed: true})
	h.store.seed(notes.Record{})

	res := h.run(automatic)
	assert.Equal(t, 4, res.Summary.Get(PullCreatedLocal))
	assert.Equal(t, 1, res.Summary.Get(PullSkippedEmpty))

	for _, p := range []string{"Trip.md", "Shop.md", "Archived/Old.md", "Trashed/Gone.md"} {
		assert.True(t, h.vault.Exists(p), p)
	}

	data, err := h.vault.ReadFile("Shop.md")
	require.NoError(t, err)
	assert.Contains(t, string(data), "- [ ] milk\n- [x] eggs")

	before := h.store.mutationCount()

	again := h.run(automatic)
	allSkipped(t, again)
	assert.Equal(t, before, h.store.mutationCount())
	assert.Equal(t, 0, again.Summary.Get(PullUpdatedLocal))
	assert.Equal(t, 4, again.Summary.Get(PushSkippedNoChange))
}

func TestEngine_PushCreatesAndStampsIdentity(t *testing.T) {
	h := newHarness(t)
	h.write("Idea.md", "# Idea\nwrite a \\#tagged thing\n")
	h.write("Shop.md", "- [ ] milk\n- [x] eggs\n")

	res := h.run(automatic)
	assert.Equal(t, 2, res.Summary.Get(PushCreatedRemote))

	created := h.store.byTitle("Idea")
	require.Len(t, created, 1)
	assert.Equal(t, "write a #tagged thing", created[0].Body)

	list := h.store.byTitle("Shop")
	require.Len(t, list, 1)
	assert.Equal(t, notes.KindList, list[0].Kind)
	require.Len(t, list[0].Items, 2)
	assert.True(t, list[0].Items[1].Checked)

	_, rec, err := h.vault.Load("Idea.md")
	require.NoError(t, err)
	assert.Equal(t, created[0].ID, rec.ID)

	before := h.store.mutationCount()
	allSkipped(t, h.run(automatic))
	assert.Equal(t, before, h.store.mutationCount())
}

func TestEngine_TimestampOnlyChangeIsNoop(t *testing.T) {
	h := newHarness(t)
	h.store.seed(notes.Record{Title: "Trip", Body: "pack bags"})
	h.run(automatic)

	data, err := h.vault.ReadFile("Trip.md")
	require.NoError(t, err)
	h.write("Trip.md", string(data))

	before := h.store.mutationCount()
	res := h.run(automatic)

	assert.Equal(t, before, h.store.mutationCount())
	assert.Equal(t, 1, res.Summary.Get(PushSkippedNoMaterialChange))
	assert.Empty(t, res.Conflicts)
}

func TestEngine_LocalEditPushed(t *testing.T) {
	h := newHarness(t)
	id := h.store.seed(notes.Record{Title: "Trip", Body: "pack bags"})
	h.run(automatic)

	h.editLocal("Trip.md", func(doc *vault.Document) { doc.Body = "pack all the bags\n" })

	res := h.run(automatic)
	assert.Equal(t, 1, res.Summary.Get(PushUpdatedRemote))
	assert.Equal(t, "pack all the bags", h.store.get(id).Body)

	before := h.store.mutationCount()
	allSkipped(t, h.run(automatic))
	assert.Equal(t, before, h.store.mutationCount())
}

func TestEngine_RemoteEditPulled(t *testing.T) {
	h := newHarness(t)
	id := h.store.seed(notes.Record{Title: "Trip", Body: "pack bags"})
	h.run(automatic)

	h.store.edit(id, func(r *notes.Record) { r.Title = "Trip to Rome"; r.Body = "pack shoes" })

	res := h.run(automatic)
	assert.Equal(t, 1, res.Summary.Get(PullUpdatedLocal))
	assert.False(t, h.vault.Exists("Trip.md"))

	_, rec, err := h.vault.Load("Trip to Rome.md")
	require.NoError(t, err)
	assert.Equal(t, "pack shoes", rec.Body)
}

func TestEngine_ListEditRewritesItems(t *testing.T) {
	h := newHarness(t)
	id := h.store.seed(notes.Record{Title: "Shop", Kind: notes.KindList, Items: []notes.Item{{ID: "a", Text: "milk"}}})
	h.run(automatic)

	h.editLocal("Shop.md", func(doc *vault.Document) { doc.Body = "- [x] milk\n- [ ] bread\n" })

	h.run(automatic)

	got := h.store.get(id)
	assert.Equal(t, []string{"- [x] milk", "- [ ] bread"}, notes.ItemLines(got.Items))

	before := h.store.mutationCount()
	allSkipped(t, h.run(automatic))
	assert.Equal(t, before, h.store.mutationCount())
}

func TestEngine_IncompleteListingNeverDeletes(t *testing.T) {
	h := newHarness(t)
	id := h.store.seed(notes.Record{Title: "Trip", Body: "pack bags"})
	h.run(automatic)

	h.store.remove(id)
	h.store.incomplete = true

	_, err := h.engine(automatic).Run(context.Background())
	require.ErrorIs(t, err, kserrors.ErrIndexing)
	require.ErrorIs(t, err, kserrors.ErrIncompleteListing)
	assert.True(t, h.vault.Exists("Trip.md"))
}

func TestEngine_RemoteDeletionRemovesOrphans(t *testing.T) {
	h := newHarness(t)
	keep := h.store.seed(notes.Record{Title: "Photo", Body: "look", Attachments: []string{"photo.png"}})
	gone := h.store.seed(notes.Record{Title: "Trip", Body: "pack bags"})
	h.run(automatic)

	h.write("Attachments/photo.png", "png")
	h.write("Attachments/stray.png", "png")
	h.store.remove(gone)

	res := h.run(automatic)
	assert.Equal(t, 1, res.Summary.Get(PullDeletedLocalOrphan))
	assert.Equal(t, 1, res.Summary.Get(PullDeletedOrphanedAttachments))
	assert.False(t, h.vault.Exists("Trip.md"))
	assert.True(t, h.vault.Exists("Photo.md"))
	assert.True(t, h.vault.Exists("Attachments/photo.png"))
	assert.False(t, h.vault.Exists("Attachments/stray.png"))
	assert.Equal(t, "Photo", h.store.get(keep).Title)
}

func TestEngine_DuplicateTitleNotCreated(t *testing.T) {
	h := newHarness(t)
	h.store.seed(notes.Record{Title: "Grocery List", Body: "milk"})
	h.run(automatic)

	h.write("groceries copy.md", "---\ntitle: grocery  list\n---\nmilk\n")
	h.write("Groceries.md", "# Groceries\nbread\n")

	res := h.run(automatic)
	assert.Equal(t, 1, res.Summary.Get(PushSkippedPotentialDuplicate))
	assert.Equal(t, 1, res.Summary.Get(PushCreatedRemote))
	assert.Len(t, h.store.byTitle("Grocery List"), 1)
	assert.Len(t, h.store.byTitle("grocery  list"), 0)
	assert.Len(t, h.store.byTitle("Groceries"), 1)
}

func TestEngine_SameTitleCreatedOncePerRun(t *testing.T) {
	h := newHarness(t)
	h.write("Packing.md", "---\ntitle: Packing\n---\npassport\n")
	h.write("packing copy.md", "---\ntitle: packing\n---\ncharger\n")

	res := h.run(automatic)
	assert.Equal(t, 1, res.Summary.Get(PushCreatedRemote))
	assert.Equal(t, 1, res.Summary.Get(PushSkippedPotentialDuplicate))
	assert.Len(t, append(h.store.byTitle("Packing"), h.store.byTitle("packing")...), 1)

	var warned bool
	for _, e := range res.Plan {
		if e.Skip == string(SkipDuplicate) {
			warned = true
			assert.Contains(t, e.Warning, "in this run")
		}
	}
	assert.True(t, warned)
}

func TestEngine_RemoteItemWhitespaceRoundTrips(t *testing.T) {
	h := newHarness(t)
	h.store.seed(notes.Record{Title: "Shop", Kind: notes.KindList, Items: []notes.Item{
		{ID: "a", Text: " milk  "},
		{ID: "b", Text: "two\nlines", Checked: true},
		{ID: "c", Text: "crlf \r\n end"},
	}})

	first, err := h.engine(automatic).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, first.Conflicts)
	assert.Equal(t, 1, first.Summary.Get(PullCreatedLocal))

	data, err := h.vault.ReadFile("Shop.md")
	require.NoError(t, err)
	assert.Contains(t, string(data), "- [ ] milk\n- [x] two lines\n- [ ] crlf end")

	before := h.store.mutationCount()

	again := h.run(automatic)
	allSkipped(t, again)
	assert.Empty(t, again.Conflicts)
	assert.Equal(t, before, h.store.mutationCount())
}

func TestEngine_ConflictHaltsAutomaticRun(t *testing.T) {
	h := newHarness(t)
	id := h.store.seed(notes.Record{Title: "Trip", Body: "pack bags"})
	h.run(automatic)

	h.editLocal("Trip.md", func(doc *vault.Document) { doc.Body = "local edit\n" })
	h.store.edit(id, func(r *notes.Record) {
		r.Body = "remote edit"
		r.Updated = at(time.Now().Add(time.Hour))
	})

	h.write("New.md", "# New\nnote\n")

	opts := Options{Automatic: true, SkipPull: true}

	res, err := h.engine(opts).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, kserrors.ErrConflict)
	assert.True(t, IsConflict(err))

	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, []string{"Trip.md"}, ce.Notes)
	assert.Equal(t, 1, res.Summary.Get(PushConflicts))

	// Everything else still went through.
	assert.Len(t, h.store.byTitle("New"), 1)
	assert.Equal(t, "remote edit", h.store.get(id).Body)

	opts.ForcePush = true
	h.run(opts)
	assert.Equal(t, "local edit", h.store.get(id).Body)
}

func TestEngine_PartitionFollowsState(t *testing.T) {
	h := newHarness(t)
	id := h.store.seed(notes.Record{Title: "Trip", Body: "pack bags"})
	h.run(automatic)

	h.store.edit(id, func(r *notes.Record) { r.Archived = true })

	res := h.run(automatic)
	assert.Equal(t, 1, res.Summary.Get(PullMovedLocal))
	assert.False(t, h.vault.Exists("Trip.md"))
	assert.True(t, h.vault.Exists("Archived/Trip.md"))

	h.editLocal("Archived/Trip.md", func(doc *vault.Document) {
		require.NoError(t, doc.Set(vault.KeyTrashed, true))
	})

	res = h.run(automatic)
	assert.Equal(t, 1, res.Summary.Get(PushTrashedRemote))
	assert.True(t, h.store.get(id).Trashed)
	assert.False(t, h.vault.Exists("Archived/Trip.md"))
	assert.True(t, h.vault.Exists("Trashed/Trip.md"))

	before := h.store.mutationCount()
	allSkipped(t, h.run(automatic))
	assert.Equal(t, before, h.store.mutationCount())
}

func TestEngine_DryRunChangesNothing(t *testing.T) {
	h := newHarness(t)
	h.store.seed(notes.Record{Title: "Trip", Body: "pack bags"})
	h.write("Idea.md", "# Idea\nthing\n")

	res := h.run(Options{DryRun: true})

	assert.Equal(t, 0, h.store.mutationCount())
	assert.False(t, h.vault.Exists("Trip.md"))

	_, rec, err := h.vault.Load("Idea.md")
	require.NoError(t, err)
	assert.False(t, rec.HasIdentity())

	assert.Equal(t, 1, res.Summary.Get(PullCreatedLocal))
	assert.Equal(t, 1, res.Summary.Get(PushCreatedRemote))
	assert.Contains(t, h.out.String(), "update_local")
	assert.Contains(t, h.out.String(), "create_remote")
}

func TestEngine_CherryPickTakesRemote(t *testing.T) {
	h := newHarness(t)
	id := h.store.seed(notes.Record{Title: "Trip", Body: "pack bags"})
	h.run(automatic)

	h.editLocal("Trip.md", func(doc *vault.Document) { doc.Body = "local edit\n" })
	h.store.edit(id, func(r *notes.Record) { r.Body = "remote edit" })

	prompts := 0
	resolver := ResolverFunc(func(_ context.Context, local, rrec *notes.Record, _ Detection) (Choice, error) {
		prompts++
		assert.Equal(t, "local edit", local.Body)
		assert.Equal(t, "remote edit", rrec.Body)

		return ChoiceRemote, nil
	})

	res := h.run(Options{CherryPick: true, SkipPull: true}, func(c *Config) { c.Resolver = resolver })
	assert.Equal(t, 1, prompts)
	assert.Equal(t, 1, res.Summary.Get(PushCherryPickRemoteChosen))

	_, rec, err := h.vault.Load("Trip.md")
	require.NoError(t, err)
	assert.Equal(t, "remote edit", rec.Body)
}

func TestEngine_DeclinedPushCommitsNothing(t *testing.T) {
	h := newHarness(t)
	h.write("Idea.md", "# Idea\nthing\n")

	asked := 0
	confirm := ConfirmerFunc(func(_ context.Context, b *remote.Batch, rewrites int) (bool, error) {
		asked++
		assert.Len(t, b.Creates, 1)
		assert.Equal(t, 0, rewrites)

		return false, nil
	})

	res := h.run(Options{}, func(c *Config) { c.Confirmer = confirm })
	assert.Equal(t, 1, asked)
	assert.Equal(t, 1, res.Summary.Get(PushDeclined))
	assert.Equal(t, 0, h.store.mutationCount())

	h.run(Options{Yes: true}, func(c *Config) { c.Confirmer = confirm })
	assert.Equal(t, 1, asked)
	assert.Len(t, h.store.byTitle("Idea"), 1)
}

func TestEngine_SyncLogNote(t *testing.T) {
	h := newHarness(t)
	h.store.seed(notes.Record{Title: "Trip", Body: "pack bags"})

	withLog := func(c *Config) { c.SyncLogNote = true }

	h.run(automatic, withLog)

	logs := h.store.byTitle(remote.SyncLogTitle)
	require.Len(t, logs, 1)
	assert.True(t, logs[0].Pinned)
	assert.Equal(t, []string{syncLogLabel}, logs[0].Labels)
	assert.Contains(t, logs[0].Body, PullCreatedLocal+": 1")
	assert.True(t, h.vault.Exists(vault.SyncLogFile))
	assert.False(t, h.vault.Exists("Sync Log.md"))

	h.run(automatic, withLog)

	logs = h.store.byTitle(remote.SyncLogTitle)
	require.Len(t, logs, 1)
	assert.Equal(t, 2, strings.Count(logs[0].Body, "\n## ")+1)
}

func TestEngine_RecordsRunHistory(t *testing.T) {
	st, err := state.LoadAt(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	h := newHarness(t)
	h.store.seed(notes.Record{Title: "Trip", Body: "pack bags"})

	withState := func(c *Config) {
		c.History = st
		c.Cache = st
	}

	res := h.run(automatic, withState)
	h.run(Options{Automatic: true, DryRun: true}, withState)

	runs, err := st.Runs(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.True(t, runs[0].DryRun)
	assert.Equal(t, res.RunID, runs[1].ID)
	assert.Equal(t, 1, runs[1].Counters[PullCreatedLocal])
	assert.Empty(t, runs[1].Error)

	snap, err := st.LoadSnapshot()
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Len(t, snap.Notes, 1)
}

func TestEngine_UnreadableFileReportedAndSkipped(t *testing.T) {
	h := newHarness(t)
	h.write("Broken.md", "---\nid: r1\nno closing delimiter\n")

	res := h.run(automatic)
	require.Len(t, res.ParseFailures, 1)
	assert.Equal(t, 1, res.Summary.Get(LocalParseFailures))
	assert.Equal(t, 0, h.store.mutationCount())
	assert.True(t, h.vault.Exists("Broken.md"))
	assert.Contains(t, h.out.String(), "Broken.md")
}

func TestSyncLogText_KeepsNewestEntries(t *testing.T) {
	res := &Result{RunID: "run", Summary: NewSummary()}
	res.Summary.Inc(PullCreatedLocal)

	var previous string
	for i := 0; i < maxSyncLogEntries+5; i++ {
		previous = syncLogText(res, t0.Add(time.Duration(i)*time.Minute), previous)
	}

	assert.Equal(t, maxSyncLogEntries, strings.Count("\n"+previous, "\n## "))
	assert.True(t, strings.HasPrefix(previous, "## "+vault.FormatTime(t0.Add(time.Duration(maxSyncLogEntries+4)*time.Minute))))
}

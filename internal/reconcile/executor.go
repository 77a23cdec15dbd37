package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	kserrors "github.com/alexjbarnes/keep-sync/internal/errors"
	"github.com/alexjbarnes/keep-sync/internal/notes"
	"github.com/alexjbarnes/keep-sync/internal/remote"
	"github.com/alexjbarnes/keep-sync/internal/vault"
)

const (
	// DefaultListRewriteTimeout is the wall-clock budget for replacing
	// the items of one list note.
	DefaultListRewriteTimeout = 15 * time.Second

	// MaxListItems caps the items written to one list note.
	MaxListItems = 1000

	// MaxItemLength caps the runes of one item's text.
	MaxItemLength = 1000
)

// listRewrite is a pending clear-and-rebuild of one list note's items.
type listRewrite struct {
	noteID   string
	path     string
	existing []notes.Item
	items    []notes.Item
}

// pendingUpdate ties a staged update back to the local file that gets
// the new timestamp.
type pendingUpdate struct {
	path   string
	action Action
}

// Executor applies decisions. Local changes are written at once; remote
// changes are staged and sent by Flush.
type Executor struct {
	vault       *vault.Vault
	store       remote.Store
	summary     *Summary
	logger      *slog.Logger
	listTimeout time.Duration
	now         func() time.Time

	batch    remote.Batch
	rewrites []listRewrite
	created  map[string]string
	updated  map[string]pendingUpdate
	// rewriteFailed holds notes whose items could not be replaced.
	rewriteFailed map[string]bool
}

// NewExecutor creates an executor. listTimeout <= 0 uses
// DefaultListRewriteTimeout.
func NewExecutor(v *vault.Vault, store remote.Store, summary *Summary, listTimeout time.Duration, logger *slog.Logger) *Executor {
	if listTimeout <= 0 {
		listTimeout = DefaultListRewriteTimeout
	}

	return &Executor{
		vault:         v,
		store:         store,
		summary:       summary,
		logger:        logger,
		listTimeout:   listTimeout,
		now:           time.Now,
		created:       make(map[string]string),
		updated:       make(map[string]pendingUpdate),
		rewriteFailed: make(map[string]bool),
	}
}

// Batch returns the staged remote changes.
func (e *Executor) Batch() *remote.Batch {
	return &e.batch
}

// Rewrites returns the number of pending list rewrites.
func (e *Executor) Rewrites() int {
	return len(e.rewrites)
}

// Pending reports how many remote changes are waiting for Flush.
func (e *Executor) Pending() int {
	return e.batch.Len() + len(e.rewrites)
}

// UpdateLocal renders rec into the mirror. An existing local file keeps
// its unknown header keys and is moved to where rec belongs. Returns the
// path written.
func (e *Executor) UpdateLocal(rec, local *notes.Record) (string, error) {
	var (
		existing *vault.Document
		self     string
	)

	if local != nil {
		self = local.Path

		doc, _, err := e.vault.Load(local.Path)
		if err != nil {
			return "", err
		}

		existing = doc
	}

	data, err := vault.Render(rec, existing)
	if err != nil {
		return "", fmt.Errorf("rendering note %s: %w", rec.ID, err)
	}

	target, err := e.vault.FreePath(vault.IdealPath(rec.TargetPartition(), rec.Title, rec.ID), self)
	if err != nil {
		if local == nil {
			return "", err
		}

		e.logger.Error("executor: keeping note at its current path",
			slog.String("path", self),
			slog.String("error", err.Error()),
		)

		target = self
	}

	if local != nil && target != self {
		if err := e.vault.Rename(self, target); err != nil {
			return "", fmt.Errorf("moving %s to %s: %w", self, target, err)
		}
	}

	var mtime time.Time
	if rec.Updated != nil {
		mtime = *rec.Updated
	}

	if err := e.vault.WriteFile(target, data, mtime); err != nil {
		return "", err
	}

	e.logger.Debug("executor: wrote local note",
		slog.String("id", rec.ID),
		slog.String("path", target),
	)

	return target, nil
}

// MoveLocal relocates a local file to partition p, named after title.
// Returns the new path, which equals the old one when nothing moved.
func (e *Executor) MoveLocal(local *notes.Record, p notes.Partition, title string) (string, error) {
	target, err := e.vault.FreePath(vault.IdealPath(p, title, local.ID), local.Path)
	if err != nil {
		return "", err
	}

	if target == local.Path {
		return target, nil
	}

	if err := e.vault.Rename(local.Path, target); err != nil {
		return "", fmt.Errorf("moving %s to %s: %w", local.Path, target, err)
	}

	e.logger.Debug("executor: moved local note",
		slog.String("from", local.Path),
		slog.String("to", target),
	)

	return target, nil
}

// DeleteLocal removes a local note file.
func (e *Executor) DeleteLocal(path string) error {
	return e.vault.DeleteFile(path)
}

// StageCreate stages a remote create for a local note without identity.
func (e *Executor) StageCreate(local *notes.Record) string {
	rec := notes.Record{
		Kind:     local.Kind,
		Title:    PushTitle(local),
		Color:    colorOf(local),
		Pinned:   local.Pinned,
		Archived: local.Archived,
		Trashed:  local.Trashed,
		Labels:   notes.NormalizeLabels(local.Labels),
	}

	if local.Kind == notes.KindList {
		rec.Items = e.prepareItems(local.Path, local.Items)
	} else {
		rec.Body = pushBody(local.Body)

		if vault.HasChecklist(local.Body) {
			e.logger.Debug("executor: mixed checklist content created as a text note",
				slog.String("path", local.Path),
			)
		}
	}

	ref := e.batch.AddCreate(rec)
	e.created[ref] = local.Path

	return ref
}

// StageUpdate stages the fields of local that differ from rec. List
// items that differ are queued for a rewrite.
func (e *Executor) StageUpdate(local, rec *notes.Record, d Decision) {
	det := d.Detection
	fp := det.Has(notes.ReasonFingerprint)

	u := remote.Update{ID: rec.ID}

	if det.Has(notes.ReasonTitle) || (fp && local.Fields.Has(notes.FieldTitle)) {
		u.Title = remote.Ptr(PushTitle(local))
	}

	if det.Has(notes.ReasonBody) || fp {
		switch {
		case rec.Kind == notes.KindList:
			e.rewrites = append(e.rewrites, listRewrite{
				noteID:   rec.ID,
				path:     local.Path,
				existing: rec.Items,
				items:    local.Items,
			})

			// The commit result then carries the note's timestamp from
			// after the rewrite.
			if u.Title == nil {
				u.Title = remote.Ptr(rec.Title)
			}
		case local.Kind == notes.KindList:
			u.Text = remote.Ptr(strings.Join(notes.ItemLines(local.Items), "\n"))
		default:
			u.Text = remote.Ptr(pushBody(local.Body))
		}
	}

	if det.Has(notes.ReasonColor) {
		u.Color = remote.Ptr(colorOf(local))
	}

	if det.Has(notes.ReasonPinned) {
		u.Pinned = remote.Ptr(local.Pinned)
	}

	if det.Has(notes.ReasonArchived) {
		u.Archived = remote.Ptr(local.Archived)
	}

	if det.Has(notes.ReasonTrashed) {
		u.Trashed = remote.Ptr(local.Trashed)
	}

	if det.Has(notes.ReasonLabels) {
		u.AddLabels, u.RemoveLabels = labelDelta(local.Labels, rec.Labels)
	}

	if u.Empty() {
		return
	}

	e.batch.AddUpdate(u)
	e.updated[rec.ID] = pendingUpdate{path: local.Path, action: d.Action}
}

// labelDelta returns the normalized labels to add and remove to turn
// have into want.
func labelDelta(want, have []string) (add, remove []string) {
	w, h := notes.NormalizeLabels(want), notes.NormalizeLabels(have)

	inHave := make(map[string]bool, len(h))
	for _, l := range h {
		inHave[l] = true
	}

	inWant := make(map[string]bool, len(w))
	for _, l := range w {
		inWant[l] = true

		if !inHave[l] {
			add = append(add, l)
		}
	}

	for _, l := range h {
		if !inWant[l] {
			remove = append(remove, l)
		}
	}

	return add, remove
}

// pushBody is local text as the remote store receives it.
func pushBody(body string) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	body = strings.ReplaceAll(body, "\r", "\n")

	return strings.TrimSpace(notes.UnescapeHashtags(body))
}

// prepareItems caps and sanitizes items for submission.
func (e *Executor) prepareItems(path string, items []notes.Item) []notes.Item {
	if len(items) > MaxListItems {
		e.logger.Warn("executor: dropping list items over the limit",
			slog.String("path", path),
			slog.Int("items", len(items)),
			slog.Int("limit", MaxListItems),
		)

		items = items[:MaxListItems]
	}

	out := make([]notes.Item, 0, len(items))

	for _, it := range items {
		text := notes.NormalizeItemText(it.Text)
		if utf8.RuneCountInString(text) > MaxItemLength {
			text = strings.TrimSpace(string([]rune(text)[:MaxItemLength]))
		}

		if text == "" {
			continue
		}

		out = append(out, notes.Item{Text: text, Checked: it.Checked})
	}

	return out
}

// Flush runs the pending list rewrites, commits the batch and writes the
// results back into the local files. Only a failed commit is returned;
// per-note failures are counted.
func (e *Executor) Flush(ctx context.Context) error {
	for _, rw := range e.rewrites {
		if err := e.rewriteList(ctx, rw); err != nil {
			e.rewriteFailed[rw.noteID] = true

			if errors.Is(err, kserrors.ErrListRewriteTimeout) {
				e.summary.Inc(PushListRewriteTimeouts)
			} else {
				e.summary.Inc(PushErrorsApply)
			}

			e.logger.Warn("executor: list items not replaced",
				slog.String("path", rw.path),
				slog.String("id", rw.noteID),
				slog.String("error", err.Error()),
			)

			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}

	if e.batch.Len() == 0 {
		return nil
	}

	res, err := e.store.Commit(ctx, &e.batch)
	if err != nil {
		e.summary.Add(PushErrorsCommit, e.batch.Len())
		return fmt.Errorf("committing %d remote changes: %w", e.batch.Len(), err)
	}

	failed := make(map[string]bool, len(res.Failed))

	for _, f := range res.Failed {
		key := f.Ref
		if key == "" {
			key = f.ID
		}

		failed[key] = true

		e.summary.Inc(PushErrorsCommit)
		e.logger.Error("executor: remote change rejected",
			slog.String("ref", f.Ref),
			slog.String("id", f.ID),
			slog.String("error", f.Error),
		)
	}

	e.writeBackCreated(res, failed)
	e.writeBackUpdated(res, failed)

	return nil
}

func (e *Executor) writeBackCreated(res *remote.CommitResult, failed map[string]bool) {
	for _, ref := range sortedKeys(e.created) {
		path := e.created[ref]

		if failed[ref] {
			continue
		}

		rec, ok := res.Created[ref]
		if !ok || rec.ID == "" {
			e.summary.Inc(PushErrorsCommit)
			e.logger.Error("executor: create missing from commit result", slog.String("path", path))

			continue
		}

		e.summary.Inc(PushCreatedRemote)

		if err := e.stamp(path, func(doc *vault.Document) error { return vault.StampCreated(doc, &rec) }, rec.Updated); err != nil {
			e.summary.Inc(PushErrorsLocalIDUpdate)
			e.logger.Error("executor: writing new id into local note failed",
				slog.String("path", path),
				slog.String("id", rec.ID),
				slog.String("error", err.Error()),
			)

			continue
		}

		e.logger.Info("executor: created remote note",
			slog.String("path", path),
			slog.String("id", rec.ID),
		)
	}
}

func (e *Executor) writeBackUpdated(res *remote.CommitResult, failed map[string]bool) {
	ids := make([]string, 0, len(e.updated))
	for id := range e.updated {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	for _, id := range ids {
		p := e.updated[id]

		if failed[id] {
			continue
		}

		if p.action == ActionTrashRemote {
			e.summary.Inc(PushTrashedRemote)
		} else {
			e.summary.Inc(PushUpdatedRemote)
		}

		rec, ok := res.Updated[id]
		if !ok || rec.Updated == nil {
			continue
		}

		// A note whose items were not replaced gets a fresh mtime, so it
		// stays newer than the remote and is pushed again next run.
		mtime := rec.Updated
		if e.rewriteFailed[id] {
			now := e.now().UTC()
			mtime = &now
		}

		err := e.stamp(p.path, func(doc *vault.Document) error { return vault.StampUpdated(doc, rec.Updated) }, mtime)
		if err != nil {
			e.summary.Inc(PushErrorsLocalIDUpdate)
			e.logger.Error("executor: writing remote timestamp into local note failed",
				slog.String("path", p.path),
				slog.String("error", err.Error()),
			)
		}
	}
}

// stamp applies fn to the header of a local file and saves it with
// mtime.
func (e *Executor) stamp(path string, fn func(*vault.Document) error, mtime *time.Time) error {
	doc, _, err := e.vault.Load(path)
	if err != nil {
		return err
	}

	if err := fn(doc); err != nil {
		return err
	}

	var t time.Time
	if mtime != nil {
		t = *mtime
	}

	return e.vault.Save(path, doc, t)
}

// rewriteList replaces a list note's items on a supervised goroutine.
// On budget expiry the goroutine is abandoned and an error wrapping
// ErrListRewriteTimeout is returned.
func (e *Executor) rewriteList(ctx context.Context, rw listRewrite) error {
	items := e.prepareItems(rw.path, rw.items)

	rctx, cancel := context.WithTimeout(ctx, e.listTimeout)
	defer cancel()

	done := make(chan error, 1)

	go func() {
		done <- e.replaceItems(rctx, rw.noteID, rw.existing, items)
	}()

	select {
	case err := <-done:
		if err == nil || rctx.Err() == nil {
			return err
		}
	case <-rctx.Done():
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	return fmt.Errorf("%w: note %s after %s", kserrors.ErrListRewriteTimeout, rw.noteID, e.listTimeout)
}

// replaceItems clears a list and adds items. A failed clear falls back
// to deleting the existing items one at a time, best effort. Nothing more
// is sent once ctx is done.
func (e *Executor) replaceItems(ctx context.Context, noteID string, existing, items []notes.Item) error {
	if err := e.store.ClearItems(ctx, noteID); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		e.logger.Warn("executor: clearing list failed, deleting items one by one",
			slog.String("id", noteID),
			slog.String("error", err.Error()),
		)

		for _, it := range existing {
			if it.ID == "" {
				continue
			}

			if err := e.store.DeleteItem(ctx, noteID, it.ID); err != nil {
				e.logger.Warn("executor: deleting list item failed",
					slog.String("id", noteID),
					slog.String("item", it.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	if len(items) == 0 {
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := e.store.AddItems(ctx, noteID, items); err != nil {
		return fmt.Errorf("%w: adding items to %s: %w", kserrors.ErrExecution, noteID, err)
	}

	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

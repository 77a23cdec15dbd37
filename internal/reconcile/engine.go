package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	kserrors "github.com/alexjbarnes/keep-sync/internal/errors"
	"github.com/alexjbarnes/keep-sync/internal/notes"
	"github.com/alexjbarnes/keep-sync/internal/remote"
	"github.com/alexjbarnes/keep-sync/internal/state"
	"github.com/alexjbarnes/keep-sync/internal/vault"
	"github.com/google/uuid"
)

const (
	// syncLogLabel marks the run summary note remotely.
	syncLogLabel = "sync_log"

	// maxSyncLogEntries bounds how many run summaries the note keeps.
	maxSyncLogEntries = 20

	// similarTitleHints is how many fuzzy title matches are logged for a
	// new note.
	similarTitleHints = 3
)

// ConflictError reports material conflicts that automatic mode refused
// to resolve. It matches ErrConflict.
type ConflictError struct {
	Notes []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%d unresolved conflict(s): %s", len(e.Notes), strings.Join(e.Notes, ", "))
}

// Is reports whether target is ErrConflict.
func (e *ConflictError) Is(target error) bool {
	return target == kserrors.ErrConflict
}

// RunHistory records finished runs.
type RunHistory interface {
	AddRun(run state.Run) error
}

// Config holds an Engine's collaborators and run mode.
type Config struct {
	Vault     *vault.Vault
	Filter    *vault.Filter
	Store     remote.Store
	Cache     remote.SnapshotCache
	History   RunHistory
	Resolver  Resolver
	Confirmer Confirmer
	Options   Options

	// Workers bounds parallel parsing of local files.
	Workers            int
	ListRewriteTimeout time.Duration
	// SyncLogNote enables the run summary note.
	SyncLogNote bool

	// Out receives the per-note action log. Nil discards it.
	Out    io.Writer
	Logger *slog.Logger
}

// PlanEntry is one decision of a run, as reported to the user.
type PlanEntry struct {
	Pass    string   `json:"pass"`
	Path    string   `json:"path,omitempty"`
	ID      string   `json:"id,omitempty"`
	Title   string   `json:"title"`
	Action  string   `json:"action"`
	Skip    string   `json:"skip,omitempty"`
	Reasons []string `json:"reasons,omitempty"`
	Warning string   `json:"warning,omitempty"`
}

// Result is what a run did.
type Result struct {
	RunID         string
	Summary       *Summary
	Plan          []PlanEntry
	Conflicts     []string
	ParseFailures []vault.ParseFailure
}

// Engine runs one reconciliation pass per Run call.
type Engine struct {
	cfg    Config
	local  *vault.Indexer
	remote *remote.Indexer
	out    io.Writer
	logger *slog.Logger
	now    func() time.Time
}

// New creates an engine from cfg.
func New(cfg Config) *Engine {
	if cfg.Options.TogglePolicy == "" {
		cfg.Options.TogglePolicy = TogglePush
	}

	out := cfg.Out
	if out == nil {
		out = io.Discard
	}

	return &Engine{
		cfg:    cfg,
		local:  vault.NewIndexer(cfg.Vault, cfg.Filter, cfg.Workers, cfg.Logger),
		remote: remote.NewIndexer(cfg.Store, cfg.Cache, cfg.Logger),
		out:    out,
		logger: cfg.Logger,
		now:    time.Now,
	}
}

// Run executes the sequence:
//  1. Index the remote store, then the local mirror
//  2. Pull pass: bring remote changes into the mirror, delete orphans
//  3. Push pass: decide every local note, stage remote changes
//  4. Confirm, rewrite lists, commit, write results back
//  5. Update the sync log note and record the run
//
// An indexing failure returns before anything is written. In automatic
// mode unresolved conflicts are returned as a ConflictError after
// everything else was done.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	started := e.now().UTC()
	res := &Result{RunID: uuid.NewString(), Summary: NewSummary()}

	err := e.run(ctx, res)

	e.record(res, started, err)

	return res, err
}

func (e *Engine) run(ctx context.Context, res *Result) error {
	opts := e.cfg.Options

	ridx, err := e.remote.Index(ctx, opts.FullSync)
	if err != nil {
		return err
	}

	lidx, err := e.local.Index(ctx)
	if err != nil {
		return err
	}

	e.noteParseFailures(lidx, res)

	exec := NewExecutor(e.cfg.Vault, e.cfg.Store, res.Summary, e.cfg.ListRewriteTimeout, e.logger)

	if !opts.SkipPull {
		lidx, err = e.pull(ctx, ridx, lidx, exec, res)
		if err != nil {
			return err
		}
	}

	if !opts.SkipPush {
		if err := e.push(ctx, ridx, lidx, exec, res); err != nil {
			return err
		}

		if !opts.DryRun {
			if err := e.flush(ctx, exec, res); err != nil {
				return err
			}
		}
	}

	if !opts.DryRun && e.cfg.SyncLogNote {
		e.writeSyncLog(ctx, ridx, res)
	}

	if n := res.Summary.Errors(); n > 0 {
		e.logger.Warn("engine: some notes failed",
			slog.String("failed", fmt.Sprintf("%d of %d notes failed", n, len(ridx.Records)+len(lidx.Unidentified))),
		)
	}

	if len(res.Conflicts) > 0 {
		return &ConflictError{Notes: res.Conflicts}
	}

	return nil
}

func (e *Engine) noteParseFailures(lidx *vault.IndexResult, res *Result) {
	res.ParseFailures = append(res.ParseFailures, lidx.Failed...)
	res.Summary.Add(LocalParseFailures, len(lidx.Failed))

	for _, f := range lidx.Failed {
		fmt.Fprintf(e.out, "%-20s %s (%v)\n", "skip_unreadable", f.Path, f.Err)
	}
}

// pull runs the pull pass and returns the local index as it stands after
// it.
func (e *Engine) pull(ctx context.Context, ridx *remote.Index, lidx *vault.IndexResult, exec *Executor, res *Result) (*vault.IndexResult, error) {
	opts := e.cfg.Options
	sum := res.Summary
	failed := make(map[string]bool)

	for i := range ridx.Records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rrec := &ridx.Records[i]
		local, _ := lidx.Lookup(rrec.ID)

		d := DecidePull(local, rrec, opts)
		e.report(res, "pull", local, rrec, d)

		if !opts.DryRun {
			if err := e.applyPull(exec, local, rrec, d); err != nil {
				failed[rrec.ID] = true
				sum.Inc(PullErrors)
				e.logger.Error("engine: pulling note failed",
					slog.String("id", rrec.ID),
					slog.String("title", rrec.Title),
					slog.String("error", err.Error()),
				)

				continue
			}
		}

		countPull(sum, local, d)
	}

	var orphans []*notes.Record

	for i := range lidx.Records {
		local := &lidx.Records[i]
		if !local.HasIdentity() {
			continue
		}

		if _, ok := ridx.Lookup(local.ID); ok {
			continue
		}

		if ridx.SyncLog != nil && ridx.SyncLog.ID == local.ID {
			continue
		}

		d := DecidePull(local, nil, opts)
		e.report(res, "pull", local, nil, d)

		if d.Action == ActionDeleteLocalOrphan {
			orphans = append(orphans, local)
		}
	}

	if opts.DryRun {
		sum.Add(PullDeletedLocalOrphan, len(orphans))
		return lidx, nil
	}

	orph := NewOrphans(e.cfg.Vault, e.logger)

	deleted, errs := orph.DeleteNotes(orphans, failed)
	sum.Add(PullDeletedLocalOrphan, deleted)
	sum.Add(PullErrors, errs)

	// The push pass sees the mirror as the pull left it.
	after, err := e.local.Index(ctx)
	if err != nil {
		return nil, err
	}

	if len(after.Failed) > 0 {
		e.logger.Warn("engine: keeping attachments, some notes could not be read",
			slog.Int("unreadable", len(after.Failed)),
		)

		return after, nil
	}

	n, err := orph.DeleteAttachments(after.Records, remoteWithLog(ridx))
	if err != nil {
		e.logger.Error("engine: attachment cleanup failed", slog.String("error", err.Error()))
	}

	sum.Add(PullDeletedOrphanedAttachments, n)

	return after, nil
}

func (e *Engine) applyPull(exec *Executor, local, rrec *notes.Record, d Decision) error {
	switch d.Action {
	case ActionUpdateLocal:
		_, err := exec.UpdateLocal(rrec, local)
		return err
	case ActionMoveLocal:
		_, err := exec.MoveLocal(local, d.Partition, displayTitle(local, rrec))
		return err
	case ActionDeleteLocalOrphan:
		// Deleted together with the other orphans after the pass.
		return nil
	default:
		return nil
	}
}

func countPull(sum *Summary, local *notes.Record, d Decision) {
	switch d.Action {
	case ActionUpdateLocal:
		if local == nil {
			sum.Inc(PullCreatedLocal)
		} else {
			sum.Inc(PullUpdatedLocal)
		}

		if d.Move {
			sum.Inc(PullMovedLocal)
		}
	case ActionMoveLocal:
		sum.Inc(PullMovedLocal)
	case ActionSkip:
		if d.Skip == SkipEmpty {
			sum.Inc(PullSkippedEmpty)
		} else {
			sum.Inc(PullSkippedNoChange)
		}
	}
}

func (e *Engine) push(ctx context.Context, ridx *remote.Index, lidx *vault.IndexResult, exec *Executor, res *Result) error {
	opts := e.cfg.Options
	sum := res.Summary

	titled := make([]*notes.Record, 0, len(ridx.Records)+1)
	for i := range ridx.Records {
		titled = append(titled, &ridx.Records[i])
	}

	if ridx.SyncLog != nil {
		titled = append(titled, ridx.SyncLog)
	}

	titles := NewTitleIndex(titled)

	for i := range lidx.Records {
		if err := ctx.Err(); err != nil {
			return err
		}

		local := &lidx.Records[i]

		var rrec *notes.Record
		if local.HasIdentity() {
			rrec, _ = ridx.Lookup(local.ID)
		}

		d, err := DecidePush(ctx, PushInput{Local: local, Remote: rrec, Titles: titles}, opts, e.cfg.Resolver)
		if err != nil {
			return err
		}

		if d.Action == ActionCreateRemote {
			if similar := titles.Similar(PushTitle(local), similarTitleHints); len(similar) > 0 {
				e.logger.Debug("engine: new note has similar remote titles",
					slog.String("path", local.Path),
					slog.String("similar", strings.Join(similar, "; ")),
				)
			}
		}

		e.report(res, "push", local, rrec, d)

		if d.Action == ActionConflict {
			res.Conflicts = append(res.Conflicts, local.Path)
			sum.Inc(PushConflicts)

			continue
		}

		if !opts.DryRun {
			if err := e.applyPush(exec, local, rrec, d); err != nil {
				sum.Inc(PushErrorsApply)
				e.logger.Error("engine: pushing note failed",
					slog.String("path", local.Path),
					slog.String("error", err.Error()),
				)

				continue
			}
		}

		if d.Action == ActionCreateRemote && d.Partition != notes.PartitionTrashed {
			titles.Add(&notes.Record{Title: PushTitle(local), Path: local.Path})
		}

		countPush(sum, d, opts.DryRun)
	}

	return nil
}

func (e *Engine) applyPush(exec *Executor, local, rrec *notes.Record, d Decision) error {
	switch d.Action {
	case ActionCreateRemote, ActionUpdateRemote, ActionTrashRemote:
		staged := *local

		if local.Partition != d.Partition {
			title := PushTitle(local)
			if rrec != nil && !local.Fields.Has(notes.FieldTitle) {
				title = rrec.Title
			}

			p, err := exec.MoveLocal(local, d.Partition, title)
			if err != nil {
				return err
			}

			staged.Path = p
			staged.Partition = d.Partition
		}

		if d.Action == ActionCreateRemote {
			exec.StageCreate(&staged)
		} else {
			exec.StageUpdate(&staged, rrec, d)
		}

		return nil
	case ActionUpdateLocal:
		_, err := exec.UpdateLocal(rrec, local)
		return err
	default:
		return nil
	}
}

func countPush(sum *Summary, d Decision, dryRun bool) {
	if d.Prompted {
		switch {
		case d.Skip == SkipPromptDryRun:
			sum.Inc(PushCherryPickDryRunPrompts)
		case d.Choice == ChoiceLocal:
			sum.Inc(PushCherryPickLocalChosen)
		case d.Choice == ChoiceRemote:
			sum.Inc(PushCherryPickRemoteChosen)
		default:
			sum.Inc(PushCherryPickUserSkipped)
		}
	}

	switch d.Action {
	case ActionCreateRemote:
		// Counted after the commit unless nothing is committed.
		if dryRun {
			sum.Inc(PushCreatedRemote)
		}
	case ActionUpdateRemote:
		if dryRun {
			sum.Inc(PushUpdatedRemote)
		}
	case ActionTrashRemote:
		if dryRun {
			sum.Inc(PushTrashedRemote)
		}
	case ActionSkip:
		switch d.Skip {
		case SkipNoChange:
			sum.Inc(PushSkippedNoChange)
		case SkipNoMaterialChange:
			sum.Inc(PushSkippedNoMaterialChange)
		case SkipRemoteNewer:
			sum.Inc(PushSkippedConflictRemoteNewer)
		case SkipToggleHeld:
			sum.Inc(PushSkippedToggleHeld)
		case SkipDeletedRemotely:
			sum.Inc(PushSkippedDeletedRemotely)
		case SkipDuplicate:
			sum.Inc(PushSkippedPotentialDuplicate)
		}
	}
}

func (e *Engine) flush(ctx context.Context, exec *Executor, res *Result) error {
	pending := exec.Pending()
	if pending == 0 {
		return nil
	}

	opts := e.cfg.Options
	if !opts.Yes && !opts.Automatic && !opts.ForcePush && e.cfg.Confirmer != nil {
		ok, err := e.cfg.Confirmer.Confirm(ctx, exec.Batch(), exec.Rewrites())
		if err != nil {
			return fmt.Errorf("confirming remote changes: %w", err)
		}

		if !ok {
			res.Summary.Add(PushDeclined, pending)
			e.logger.Info("engine: remote changes declined", slog.Int("changes", pending))

			return nil
		}
	}

	return exec.Flush(ctx)
}

// report logs a decision and appends it to the plan. Dry runs print
// every decision; other runs print only what changes something or
// carries a warning.
func (e *Engine) report(res *Result, pass string, local, rrec *notes.Record, d Decision) {
	entry := PlanEntry{
		Pass:    pass,
		Action:  d.Action.String(),
		Skip:    string(d.Skip),
		Warning: d.Warning,
	}

	if local != nil {
		entry.Path = local.Path
		entry.ID = local.ID
		entry.Title = PushTitle(local)
	}

	if rrec != nil {
		entry.ID = rrec.ID
		if local == nil {
			entry.Title = rrec.Title
		}
	}

	for _, r := range d.Detection.Reasons {
		entry.Reasons = append(entry.Reasons, string(r))
	}

	res.Plan = append(res.Plan, entry)

	if d.Warning != "" {
		e.logger.Warn("engine: decision warning",
			slog.String("action", entry.Action),
			slog.String("warning", d.Warning),
		)
	}

	if !e.cfg.Options.DryRun && d.Action == ActionSkip && d.Warning == "" {
		return
	}

	name := entry.Path
	if name == "" {
		name = entry.Title
	}

	detail := ""

	switch {
	case entry.Skip != "":
		detail = " (" + entry.Skip + ")"
	case len(entry.Reasons) > 0:
		detail = " (" + strings.Join(entry.Reasons, ", ") + ")"
	}

	fmt.Fprintf(e.out, "%-20s %s%s\n", entry.Action, name, detail)
}

// writeSyncLog records the run summary in the remote sync log note and
// its mirror copy. Failures are logged only.
func (e *Engine) writeSyncLog(ctx context.Context, ridx *remote.Index, res *Result) {
	var previous string
	if ridx.SyncLog != nil {
		previous = ridx.SyncLog.Body
	}

	text := syncLogText(res, e.now().UTC(), previous)

	var b remote.Batch

	if ridx.SyncLog != nil {
		b.AddUpdate(remote.Update{ID: ridx.SyncLog.ID, Text: remote.Ptr(text), Pinned: remote.Ptr(true)})
	} else {
		b.AddCreate(notes.Record{
			Title:  remote.SyncLogTitle,
			Body:   text,
			Color:  notes.ColorWhite,
			Pinned: true,
			Labels: []string{syncLogLabel},
		})
	}

	if _, err := e.cfg.Store.Commit(ctx, &b); err != nil {
		e.logger.Warn("engine: updating sync log note failed", slog.String("error", err.Error()))
	}

	mirror := "# " + remote.SyncLogTitle + "\n\n" + text + "\n"
	if err := e.cfg.Vault.WriteFile(vault.SyncLogFile, []byte(mirror), time.Time{}); err != nil {
		e.logger.Warn("engine: writing sync log file failed", slog.String("error", err.Error()))
	}
}

// syncLogText prepends this run's entry to the previous log, keeping the
// newest maxSyncLogEntries entries.
func syncLogText(res *Result, now time.Time, previous string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## %s\n", vault.FormatTime(now))
	fmt.Fprintf(&b, "run %s\n", res.RunID)

	for _, name := range res.Summary.Names() {
		fmt.Fprintf(&b, "%s: %d\n", name, res.Summary.Get(name))
	}

	if len(res.Conflicts) > 0 {
		fmt.Fprintf(&b, "conflicts: %s\n", strings.Join(res.Conflicts, ", "))
	}

	entries := []string{strings.TrimSpace(b.String())}

	for _, old := range strings.Split("\n"+strings.TrimSpace(previous), "\n## ") {
		old = strings.TrimSpace(old)
		if old == "" {
			continue
		}

		if len(entries) == maxSyncLogEntries {
			break
		}

		entries = append(entries, "## "+strings.TrimPrefix(old, "## "))
	}

	return strings.Join(entries, "\n\n")
}

func (e *Engine) record(res *Result, started time.Time, runErr error) {
	if e.cfg.History == nil {
		return
	}

	run := state.Run{
		ID:         res.RunID,
		StartedAt:  started,
		FinishedAt: e.now().UTC(),
		DryRun:     e.cfg.Options.DryRun,
		Counters:   res.Summary.Counts(),
		Conflicts:  res.Conflicts,
	}

	if runErr != nil {
		run.Error = runErr.Error()
	}

	if err := e.cfg.History.AddRun(run); err != nil {
		e.logger.Warn("engine: recording run failed", slog.String("error", err.Error()))
	}
}

// displayTitle picks the title a local file is named after.
func displayTitle(local, rrec *notes.Record) string {
	if local != nil && local.Fields.Has(notes.FieldTitle) {
		return local.Title
	}

	if rrec != nil {
		return rrec.Title
	}

	if local != nil {
		return PushTitle(local)
	}

	return ""
}

func remoteWithLog(ridx *remote.Index) []notes.Record {
	if ridx.SyncLog == nil {
		return ridx.Records
	}

	out := make([]notes.Record, 0, len(ridx.Records)+1)
	out = append(out, ridx.Records...)

	return append(out, *ridx.SyncLog)
}

// IsConflict reports whether err is an unresolved conflict.
func IsConflict(err error) bool {
	return errors.Is(err, kserrors.ErrConflict)
}

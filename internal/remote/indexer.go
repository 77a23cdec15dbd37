package remote

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	kserrors "github.com/alexjbarnes/keep-sync/internal/errors"
	"github.com/alexjbarnes/keep-sync/internal/notes"
	"github.com/alexjbarnes/keep-sync/internal/state"
)

// SyncLogTitle is the title of the note that receives run summaries. It
// never takes part in reconciliation.
const SyncLogTitle = "Sync Log"

// SnapshotCache persists the remote snapshot between runs.
type SnapshotCache interface {
	LoadSnapshot() (*state.Snapshot, error)
	SaveSnapshot(*state.Snapshot) error
}

// Index is the remote replica for one pass.
type Index struct {
	// Records holds every reconcilable note, sorted by ID.
	Records []notes.Record
	ByID    map[string]*notes.Record
	// SyncLog is the run summary note, if one exists.
	SyncLog *notes.Record
	Cursor  string
}

// Lookup returns the note with id, if any.
func (ix *Index) Lookup(id string) (*notes.Record, bool) {
	rec, ok := ix.ByID[id]
	return rec, ok
}

// Indexer lists the remote store and merges the result into the cached
// snapshot.
type Indexer struct {
	store  Store
	cache  SnapshotCache
	logger *slog.Logger
	now    func() time.Time
}

// NewIndexer creates an indexer. cache may be nil, in which case every
// run lists the full note set.
func NewIndexer(store Store, cache SnapshotCache, logger *slog.Logger) *Indexer {
	return &Indexer{store: store, cache: cache, logger: logger, now: time.Now}
}

// Index fetches the remote replica. With full set, the cached snapshot is
// ignored. A failed or incomplete listing returns an error wrapping
// ErrIndexing and nothing else.
func (ix *Indexer) Index(ctx context.Context, full bool) (*Index, error) {
	var snap *state.Snapshot

	if ix.cache != nil && !full {
		cached, err := ix.cache.LoadSnapshot()
		if err != nil {
			ix.logger.Warn("remote: ignoring unreadable snapshot cache",
				slog.String("error", err.Error()),
			)
		} else {
			snap = cached
		}
	}

	cursor := ""
	if snap != nil {
		cursor = snap.Cursor
	}

	listing, err := ix.store.ListNotes(ctx, cursor)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", kserrors.ErrIndexing, err)
	}

	if !listing.Complete {
		return nil, fmt.Errorf("%w: %w", kserrors.ErrIndexing, kserrors.ErrIncompleteListing)
	}

	merged := make(map[string]notes.Record)
	if snap != nil && !listing.Full {
		for id, rec := range snap.Notes {
			merged[id] = rec
		}
	}

	for _, id := range listing.Deleted {
		delete(merged, id)
	}

	for _, rec := range listing.Notes {
		if rec.ID == "" {
			continue
		}

		merged[rec.ID] = rec
	}

	if ix.cache != nil {
		err := ix.cache.SaveSnapshot(&state.Snapshot{
			Cursor:  listing.Cursor,
			SavedAt: ix.now().UTC(),
			Notes:   merged,
		})
		if err != nil {
			ix.logger.Warn("remote: saving snapshot cache failed",
				slog.String("error", err.Error()),
			)
		}
	}

	idx := &Index{
		Records: make([]notes.Record, 0, len(merged)),
		ByID:    make(map[string]*notes.Record, len(merged)),
		Cursor:  listing.Cursor,
	}

	ids := make([]string, 0, len(merged))
	for id := range merged {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	for _, id := range ids {
		rec := merged[id]

		if IsSyncLog(&rec) {
			if idx.SyncLog == nil {
				r := rec
				idx.SyncLog = &r
			}

			continue
		}

		idx.Records = append(idx.Records, rec)
	}

	for i := range idx.Records {
		idx.ByID[idx.Records[i].ID] = &idx.Records[i]
	}

	ix.logger.Debug("remote: indexed",
		slog.Int("notes", len(idx.Records)),
		slog.Bool("delta", snap != nil && !listing.Full),
	)

	return idx, nil
}

// IsSyncLog reports whether rec is the run summary note.
func IsSyncLog(rec *notes.Record) bool {
	return !rec.Trashed && notes.NormalizeTitle(rec.Title) == SyncLogTitle
}

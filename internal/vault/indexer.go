package vault

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	kserrors "github.com/alexjbarnes/keep-sync/internal/errors"
	"github.com/alexjbarnes/keep-sync/internal/notes"
	"golang.org/x/sync/errgroup"
)

// defaultIndexWorkers bounds concurrent file parsing when no limit is set.
const defaultIndexWorkers = 8

// ParseFailure is a note file that could not be turned into a record.
type ParseFailure struct {
	Path string
	Err  error
}

// IndexResult is a snapshot of the local mirror for one pass.
type IndexResult struct {
	// Records holds every parsed note, sorted by path.
	Records []notes.Record
	// ByID maps remote identity to the record that owns it.
	ByID map[string]*notes.Record
	// Unidentified holds records with no identity, candidates for create.
	Unidentified []*notes.Record
	Failed       []ParseFailure
}

// Lookup returns the record owning id, if any.
func (r *IndexResult) Lookup(id string) (*notes.Record, bool) {
	rec, ok := r.ByID[id]
	return rec, ok
}

// Indexer builds an IndexResult from a Vault.
type Indexer struct {
	vault   *Vault
	filter  *Filter
	workers int
	logger  *slog.Logger
}

// NewIndexer creates an indexer. A nil filter admits every note file;
// workers <= 0 uses a default.
func NewIndexer(v *Vault, filter *Filter, workers int, logger *slog.Logger) *Indexer {
	if filter == nil {
		filter = &Filter{}
	}

	if workers <= 0 {
		workers = defaultIndexWorkers
	}

	return &Indexer{vault: v, filter: filter, workers: workers, logger: logger}
}

// Index walks the mirror and parses every note file in parallel.
func (ix *Indexer) Index(ctx context.Context) (*IndexResult, error) {
	paths, err := ix.walk()
	if err != nil {
		return nil, err
	}

	type parsed struct {
		rec notes.Record
		err error
	}

	results := make([]parsed, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.workers)

	for i, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			_, rec, err := ix.vault.Load(p)
			results[i] = parsed{rec: rec, err: err}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("indexing mirror: %w", err)
	}

	res := &IndexResult{
		Records: make([]notes.Record, 0, len(paths)),
		ByID:    make(map[string]*notes.Record),
	}

	for i, r := range results {
		if r.err != nil {
			ix.logger.Warn("index: skipping unreadable note",
				slog.String("path", paths[i]),
				slog.String("error", r.err.Error()),
			)
			res.Failed = append(res.Failed, ParseFailure{Path: paths[i], Err: r.err})

			continue
		}

		res.Records = append(res.Records, r.rec)
	}

	// Pointers are taken after Records stops growing.
	kept := res.Records[:0]
	owners := make(map[string]bool)

	for _, rec := range res.Records {
		if rec.HasIdentity() {
			if owners[rec.ID] {
				ix.logger.Warn("index: note id claimed by more than one file",
					slog.String("id", rec.ID),
					slog.String("path", rec.Path),
				)
				res.Failed = append(res.Failed, ParseFailure{
					Path: rec.Path,
					Err:  fmt.Errorf("%w: %s", kserrors.ErrDuplicateIdentity, rec.ID),
				})

				continue
			}

			owners[rec.ID] = true
		}

		kept = append(kept, rec)
	}

	res.Records = kept

	for i := range res.Records {
		rec := &res.Records[i]
		if rec.HasIdentity() {
			res.ByID[rec.ID] = rec
		} else {
			res.Unidentified = append(res.Unidentified, rec)
		}
	}

	ix.logger.Debug("index: local mirror indexed",
		slog.Int("notes", len(res.Records)),
		slog.Int("new", len(res.Unidentified)),
		slog.Int("failed", len(res.Failed)),
	)

	return res, nil
}

// walk returns the note files under the mirror root, sorted.
func (ix *Indexer) walk() ([]string, error) {
	root := ix.vault.Dir()

	var paths []string

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}

		rel = normalizePath(filepath.ToSlash(rel))
		if rel == "." || rel == "" {
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}

		if d.IsDir() {
			if !ix.filter.AllowDir(rel) {
				return filepath.SkipDir
			}

			return nil
		}

		if ix.filter.AllowFile(rel) {
			paths = append(paths, rel)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking mirror: %w", err)
	}

	sort.Strings(paths)

	return paths, nil
}

// Load reads and decodes one note file. The returned document can be
// modified and written back with Save.
func (v *Vault) Load(relPath string) (*Document, notes.Record, error) {
	data, err := v.ReadFile(relPath)
	if err != nil {
		return nil, notes.Record{}, fmt.Errorf("reading %s: %w", relPath, err)
	}

	info, err := v.Stat(relPath)
	if err != nil {
		return nil, notes.Record{}, fmt.Errorf("stat %s: %w", relPath, err)
	}

	doc, err := ParseDocument(data)
	if err != nil {
		return nil, notes.Record{}, fmt.Errorf("parsing %s: %w", relPath, err)
	}

	return doc, DecodeRecord(relPath, doc, info.ModTime()), nil
}

// Save writes a document back to relPath. A non-zero mtime is applied
// to the file.
func (v *Vault) Save(relPath string, doc *Document, mtime time.Time) error {
	data, err := doc.Bytes()
	if err != nil {
		return err
	}

	return v.WriteFile(relPath, data, mtime)
}

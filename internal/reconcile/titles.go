package reconcile

import (
	"github.com/alexjbarnes/keep-sync/internal/notes"
	"github.com/sahilm/fuzzy"
)

// TitleIndex answers near-duplicate title lookups against the remote
// note set and the creates staged so far. Trashed notes are not indexed.
type TitleIndex struct {
	byKey  map[string]*notes.Record
	titles []string
}

// NewTitleIndex indexes every non-trashed record with a title.
func NewTitleIndex(records []*notes.Record) *TitleIndex {
	t := &TitleIndex{byKey: make(map[string]*notes.Record, len(records))}

	for _, rec := range records {
		if rec == nil || rec.Trashed {
			continue
		}

		t.Add(rec)
	}

	return t
}

// Add indexes rec. The first record for a key wins.
func (t *TitleIndex) Add(rec *notes.Record) {
	key := notes.TitleKey(rec.Title)
	if key == "" {
		return
	}

	if _, ok := t.byKey[key]; !ok {
		t.byKey[key] = rec
	}

	t.titles = append(t.titles, rec.Title)
}

// Duplicate returns the record whose title is a near-duplicate of title,
// or nil.
func (t *TitleIndex) Duplicate(title string) *notes.Record {
	key := notes.TitleKey(title)
	if key == "" {
		return nil
	}

	return t.byKey[key]
}

// Similar returns up to limit remote titles that fuzzily match title,
// best first. Used for hints only.
func (t *TitleIndex) Similar(title string, limit int) []string {
	title = notes.NormalizeTitle(title)
	if title == "" || len(t.titles) == 0 {
		return nil
	}

	matches := fuzzy.Find(title, t.titles)

	var out []string

	for _, m := range matches {
		if len(out) == limit {
			break
		}

		out = append(out, t.titles[m.Index])
	}

	return out
}

// Package remote is the note service side of the sync: the Store
// capability the engine mutates through, its HTTP implementation, and
// the indexer that turns a listing into comparable records.
package remote

//go:generate mockgen -destination=mock_store.go -package=remote github.com/alexjbarnes/keep-sync/internal/remote Store

import (
	"context"

	"github.com/alexjbarnes/keep-sync/internal/notes"
	"github.com/google/uuid"
)

// Store is the remote note service as the engine sees it.
type Store interface {
	// ListNotes returns every note changed since cursor, or the full set
	// when cursor is empty. Implementations page internally.
	ListNotes(ctx context.Context, cursor string) (*Listing, error)
	// Commit applies staged creates and updates in one request.
	Commit(ctx context.Context, batch *Batch) (*CommitResult, error)
	// ClearItems removes every checklist item from a list note.
	ClearItems(ctx context.Context, noteID string) error
	// DeleteItem removes one checklist item.
	DeleteItem(ctx context.Context, noteID, itemID string) error
	// AddItems appends checklist items in order.
	AddItems(ctx context.Context, noteID string, items []notes.Item) error
}

// Listing is the result of one ListNotes call.
type Listing struct {
	Notes   []notes.Record
	Deleted []string
	Cursor  string
	// Full is set when the listing is the whole note set rather than a
	// delta against the cursor.
	Full bool
	// Complete is set only when every page was received.
	Complete bool
}

// Create stages a new note. Ref correlates the created note in the
// commit result.
type Create struct {
	Ref    string
	Record notes.Record
}

// Update stages field changes to an existing note. Nil fields are left
// alone.
type Update struct {
	ID           string
	Title        *string
	Text         *string
	Color        *notes.Color
	Pinned       *bool
	Archived     *bool
	Trashed      *bool
	AddLabels    []string
	RemoveLabels []string
}

// Empty reports whether the update carries no field change.
func (u *Update) Empty() bool {
	return u.Title == nil && u.Text == nil && u.Color == nil &&
		u.Pinned == nil && u.Archived == nil && u.Trashed == nil &&
		len(u.AddLabels) == 0 && len(u.RemoveLabels) == 0
}

// Batch collects staged remote mutations for a single flush.
type Batch struct {
	Creates []Create
	Updates []Update
}

// AddCreate stages rec for creation and returns its reference.
func (b *Batch) AddCreate(rec notes.Record) string {
	ref := uuid.NewString()
	b.Creates = append(b.Creates, Create{Ref: ref, Record: rec})

	return ref
}

// AddUpdate stages u unless it is empty.
func (b *Batch) AddUpdate(u Update) {
	if u.Empty() {
		return
	}

	b.Updates = append(b.Updates, u)
}

// Len returns the number of staged mutations.
func (b *Batch) Len() int {
	return len(b.Creates) + len(b.Updates)
}

// CommitResult reports what the store did with a batch.
type CommitResult struct {
	// Created maps a create reference to the note as stored.
	Created map[string]notes.Record
	// Updated maps a note ID to the note as stored after the update.
	Updated map[string]notes.Record
	Failed  []CommitFailure
}

// CommitFailure is one staged mutation the store rejected.
type CommitFailure struct {
	Ref   string
	ID    string
	Error string
}

// Ptr returns a pointer to v, for building Updates.
func Ptr[T any](v T) *T {
	return &v
}

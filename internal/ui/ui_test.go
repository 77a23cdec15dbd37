package ui

import (
	"testing"
	"time"

	"github.com/alexjbarnes/keep-sync/internal/notes"
	"github.com/alexjbarnes/keep-sync/internal/reconcile"
	"github.com/alexjbarnes/keep-sync/internal/remote"
	"github.com/alexjbarnes/keep-sync/internal/state"
	"github.com/stretchr/testify/assert"
)

func TestBodyDiff(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		local  string
		want   string
	}{
		{
			name:   "equal",
			remote: "a\nb",
			local:  "a\nb",
			want:   "",
		},
		{
			name:   "changed line",
			remote: "pack bags\nbook hotel\n",
			local:  "pack bags\nbook flights\n",
			want:   "  pack bags\n- book hotel\n+ book flights\n",
		},
		{
			name:   "added line",
			remote: "one\n",
			local:  "one\ntwo\n",
			want:   "  one\n+ two\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BodyDiff(tt.remote, tt.local))
		})
	}
}

func TestContents_ListComparesItems(t *testing.T) {
	local := &notes.Record{Body: "- [ ] milk\nprose", Items: []notes.Item{{Text: "milk"}}}
	rec := &notes.Record{Kind: notes.KindList, Items: []notes.Item{{ID: "i", Text: "milk", Checked: true}}}

	l, r := contents(local, rec)
	assert.Equal(t, "- [ ] milk", l)
	assert.Equal(t, "- [x] milk", r)
}

func TestDescribeBatch(t *testing.T) {
	var b remote.Batch
	b.AddCreate(notes.Record{Title: "Trip"})
	b.AddUpdate(remote.Update{ID: "n1", Text: remote.Ptr("x"), AddLabels: []string{"travel"}})

	got := DescribeBatch(&b, 2)
	assert.Contains(t, got, "1 note(s) to create, 1 to update, 2 list(s) to rewrite")
	assert.Contains(t, got, "create  Trip")
	assert.Contains(t, got, "update  n1 (text, labels)")
}

func TestSummaryTable(t *testing.T) {
	assert.Equal(t, "nothing to do\n", SummaryTable(reconcile.NewSummary()))

	s := reconcile.NewSummary()
	s.Add(reconcile.PullCreatedLocal, 3)

	got := SummaryTable(s)
	assert.Contains(t, got, reconcile.PullCreatedLocal)
	assert.Contains(t, got, "3")
}

func TestRunsTable(t *testing.T) {
	assert.Equal(t, "no runs recorded\n", RunsTable(nil))

	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	got := RunsTable([]state.Run{
		{
			StartedAt:  start,
			FinishedAt: start.Add(1500 * time.Millisecond),
			DryRun:     true,
			Counters:   map[string]int{reconcile.PullCreatedLocal: 2, reconcile.PushErrorsCommit: 1},
		},
		{
			StartedAt:  start,
			FinishedAt: start,
			Conflicts:  []string{"Trip.md"},
		},
	})

	assert.Contains(t, got, "dry run")
	assert.Contains(t, got, "1.5s")
	assert.Contains(t, got, "1 conflict(s)")
}

func TestConflictList(t *testing.T) {
	assert.Empty(t, ConflictList(nil))
	assert.Contains(t, ConflictList([]string{"Trip.md"}), "  Trip.md\n")
}

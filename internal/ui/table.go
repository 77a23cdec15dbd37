package ui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alexjbarnes/keep-sync/internal/reconcile"
	"github.com/alexjbarnes/keep-sync/internal/state"
	"github.com/alexjbarnes/keep-sync/internal/vault"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	errorStyle  = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("1"))
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}

			return cellStyle
		})
}

// SummaryTable renders the non-zero counters of a run.
func SummaryTable(s *reconcile.Summary) string {
	names := s.Names()
	if len(names) == 0 {
		return "nothing to do\n"
	}

	t := newTable("counter", "count")

	for _, name := range names {
		t.Row(name, strconv.Itoa(s.Get(name)))
	}

	return t.String() + "\n"
}

// ConflictList renders the notes an automatic run refused to resolve.
func ConflictList(paths []string) string {
	if len(paths) == 0 {
		return ""
	}

	var b strings.Builder

	b.WriteString(errorStyle.Render(fmt.Sprintf("%d conflict(s) need --cherryPick or --forcePush:", len(paths))))
	b.WriteString("\n")

	for _, p := range paths {
		b.WriteString("  " + p + "\n")
	}

	return b.String()
}

// RunsTable renders recorded runs, newest first.
func RunsTable(runs []state.Run) string {
	if len(runs) == 0 {
		return "no runs recorded\n"
	}

	t := newTable("started", "took", "mode", "changes", "errors", "result")

	for _, r := range runs {
		mode := "sync"
		if r.DryRun {
			mode = "dry run"
		}

		result := "ok"

		switch {
		case len(r.Conflicts) > 0:
			result = fmt.Sprintf("%d conflict(s)", len(r.Conflicts))
		case r.Error != "":
			result = r.Error
		}

		t.Row(
			vault.FormatTime(r.StartedAt),
			r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String(),
			mode,
			strconv.Itoa(changes(r.Counters)),
			strconv.Itoa(errorCount(r.Counters)),
			result,
		)
	}

	return t.String() + "\n"
}

var changeCounters = []string{
	reconcile.PullCreatedLocal,
	reconcile.PullUpdatedLocal,
	reconcile.PullMovedLocal,
	reconcile.PullDeletedLocalOrphan,
	reconcile.PushCreatedRemote,
	reconcile.PushUpdatedRemote,
	reconcile.PushTrashedRemote,
}

var errorCounters = []string{
	reconcile.PullErrors,
	reconcile.PushErrorsApply,
	reconcile.PushErrorsLocalIDUpdate,
	reconcile.PushErrorsCommit,
}

func changes(counts map[string]int) int {
	return sum(counts, changeCounters)
}

func errorCount(counts map[string]int) int {
	return sum(counts, errorCounters)
}

func sum(counts map[string]int, names []string) int {
	n := 0
	for _, name := range names {
		n += counts[name]
	}

	return n
}

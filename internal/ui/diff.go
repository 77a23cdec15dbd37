// Package ui holds the terminal surface of keep-sync: the cherry-pick
// prompt, the push confirmation, the token prompt and the tables printed
// after a run.
package ui

import (
	"strings"

	"github.com/alexjbarnes/keep-sync/internal/notes"
	"github.com/charmbracelet/lipgloss"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// diffCleanupThreshold is the diff count above which semantic cleanup is
// applied to make the output readable.
const diffCleanupThreshold = 2

var (
	removedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	addedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
)

// BodyDiff renders a line diff from the remote content to the local
// content. Removed lines are prefixed "- ", added lines "+ ", unchanged
// lines two spaces. Returns "" when both are equal.
func BodyDiff(remote, local string) string {
	if remote == local {
		return ""
	}

	dmp := diffmatchpatch.New()

	a, b, lines := dmp.DiffLinesToChars(remote, local)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lines)

	if len(diffs) > diffCleanupThreshold {
		diffs = dmp.DiffCleanupSemantic(diffs)
	}

	var out strings.Builder

	for _, d := range diffs {
		prefix := "  "

		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "- "
		case diffmatchpatch.DiffInsert:
			prefix = "+ "
		}

		for _, line := range strings.Split(strings.TrimSuffix(d.Text, "\n"), "\n") {
			out.WriteString(prefix + line + "\n")
		}
	}

	return out.String()
}

// Colorize styles the lines of a BodyDiff for a terminal.
func Colorize(diff string) string {
	lines := strings.Split(strings.TrimSuffix(diff, "\n"), "\n")

	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "- "):
			lines[i] = removedStyle.Render(line)
		case strings.HasPrefix(line, "+ "):
			lines[i] = addedStyle.Render(line)
		}
	}

	return strings.Join(lines, "\n")
}

// contents returns both sides in the form the detector compares them.
// Against a list note only the local checklist items count.
func contents(local, remote *notes.Record) (l, r string) {
	r = notes.ContentKey(remote)

	if remote.Kind == notes.KindList {
		return strings.Join(notes.ItemLines(local.Items), "\n"), r
	}

	return notes.ContentKey(local), r
}

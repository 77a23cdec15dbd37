package ui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/alexjbarnes/keep-sync/internal/notes"
	"github.com/alexjbarnes/keep-sync/internal/reconcile"
	"github.com/alexjbarnes/keep-sync/internal/remote"
	"github.com/alexjbarnes/keep-sync/internal/vault"
	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
)

// Prompter asks the operator through huh forms. It satisfies
// reconcile.Resolver and reconcile.Confirmer.
type Prompter struct {
	in         io.Reader
	out        io.Writer
	accessible bool
}

// NewPrompter creates a prompter reading from in and drawing on out.
// Accessible mode replaces the interactive widgets with plain line
// prompts, for terminals that cannot render them.
func NewPrompter(in io.Reader, out io.Writer, accessible bool) *Prompter {
	return &Prompter{in: in, out: out, accessible: accessible}
}

// IsTerminal reports whether f is an interactive terminal.
func IsTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (p *Prompter) run(ctx context.Context, field huh.Field) error {
	err := huh.NewForm(huh.NewGroup(field)).
		WithInput(p.in).
		WithOutput(p.out).
		WithAccessible(p.accessible).
		RunWithContext(ctx)
	if errors.Is(err, huh.ErrUserAborted) {
		return fmt.Errorf("prompt aborted: %w", err)
	}

	return err
}

// Resolve shows how a note differs on both sides and asks which one
// wins.
func (p *Prompter) Resolve(ctx context.Context, local, rec *notes.Record, det reconcile.Detection) (reconcile.Choice, error) {
	reasons := make([]string, 0, len(det.Reasons))
	for _, r := range det.Reasons {
		reasons = append(reasons, string(r))
	}

	fmt.Fprintf(p.out, "\n%s differs from remote note %s (%s)\n", local.Path, rec.ID, strings.Join(reasons, ", "))
	fmt.Fprintf(p.out, "  local  updated %s\n", formatTime(local.Updated))
	fmt.Fprintf(p.out, "  remote updated %s\n", formatTime(rec.Updated))

	if notes.NormalizeTitle(local.Title) != notes.NormalizeTitle(rec.Title) && local.Fields.Has(notes.FieldTitle) {
		fmt.Fprintf(p.out, "  title: %q -> %q\n", rec.Title, local.Title)
	}

	l, r := contents(local, rec)
	if diff := BodyDiff(r, l); diff != "" {
		fmt.Fprintln(p.out, Colorize(diff))
	}

	choice := reconcile.ChoiceSkip

	sel := huh.NewSelect[reconcile.Choice]().
		Title("Which version should win?").
		Options(
			huh.NewOption("Keep local (push to remote)", reconcile.ChoiceLocal),
			huh.NewOption("Take remote (overwrite local file)", reconcile.ChoiceRemote),
			huh.NewOption("Skip this note", reconcile.ChoiceSkip),
		).
		Value(&choice)

	if err := p.run(ctx, sel); err != nil {
		return reconcile.ChoiceSkip, err
	}

	return choice, nil
}

// Confirm lists the staged remote changes and asks whether to send them.
func (p *Prompter) Confirm(ctx context.Context, batch *remote.Batch, rewrites int) (bool, error) {
	fmt.Fprint(p.out, DescribeBatch(batch, rewrites))

	ok := false

	confirm := huh.NewConfirm().
		Title("Send these changes to the remote store?").
		Affirmative("Push").
		Negative("Cancel").
		Value(&ok)

	if err := p.run(ctx, confirm); err != nil {
		return false, err
	}

	return ok, nil
}

// Token asks for an API token without echoing it.
func (p *Prompter) Token(ctx context.Context) (string, error) {
	var token string

	input := huh.NewInput().
		Title("API token").
		EchoMode(huh.EchoModePassword).
		Validate(func(s string) error {
			if strings.TrimSpace(s) == "" {
				return errors.New("token cannot be empty")
			}

			return nil
		}).
		Value(&token)

	if err := p.run(ctx, input); err != nil {
		return "", err
	}

	return strings.TrimSpace(token), nil
}

// DescribeBatch summarizes staged remote changes, one line per change.
func DescribeBatch(batch *remote.Batch, rewrites int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "\n%d note(s) to create, %d to update, %d list(s) to rewrite\n",
		len(batch.Creates), len(batch.Updates), rewrites)

	for _, c := range batch.Creates {
		fmt.Fprintf(&b, "  create  %s\n", c.Record.Title)
	}

	for _, u := range batch.Updates {
		fmt.Fprintf(&b, "  update  %s (%s)\n", u.ID, strings.Join(updatedFields(u), ", "))
	}

	return b.String()
}

func updatedFields(u remote.Update) []string {
	var fields []string

	set := []struct {
		name string
		ok   bool
	}{
		{"title", u.Title != nil},
		{"text", u.Text != nil},
		{"color", u.Color != nil},
		{"pinned", u.Pinned != nil},
		{"archived", u.Archived != nil},
		{"trashed", u.Trashed != nil},
		{"labels", len(u.AddLabels) > 0 || len(u.RemoveLabels) > 0},
	}

	for _, f := range set {
		if f.ok {
			fields = append(fields, f.name)
		}
	}

	return fields
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "unknown"
	}

	return vault.FormatTime(*t)
}

package reconcile

import (
	"context"

	"github.com/alexjbarnes/keep-sync/internal/notes"
	"github.com/alexjbarnes/keep-sync/internal/remote"
)

// Choice is an operator's answer to a cherry-pick prompt.
type Choice int

const (
	ChoiceSkip Choice = iota
	ChoiceLocal
	ChoiceRemote
)

func (c Choice) String() string {
	switch c {
	case ChoiceLocal:
		return "local"
	case ChoiceRemote:
		return "remote"
	default:
		return "skip"
	}
}

// Resolver settles a material difference interactively.
type Resolver interface {
	Resolve(ctx context.Context, local, remote *notes.Record, det Detection) (Choice, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, local, remote *notes.Record, det Detection) (Choice, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context, local, remote *notes.Record, det Detection) (Choice, error) {
	return f(ctx, local, remote, det)
}

// Confirmer approves the staged remote changes before they are flushed.
type Confirmer interface {
	Confirm(ctx context.Context, batch *remote.Batch, rewrites int) (bool, error)
}

// ConfirmerFunc adapts a function to Confirmer.
type ConfirmerFunc func(ctx context.Context, batch *remote.Batch, rewrites int) (bool, error)

// Confirm calls f.
func (f ConfirmerFunc) Confirm(ctx context.Context, batch *remote.Batch, rewrites int) (bool, error) {
	return f(ctx, batch, rewrites)
}

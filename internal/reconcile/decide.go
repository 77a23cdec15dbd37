package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/alexjbarnes/keep-sync/internal/notes"
	"github.com/alexjbarnes/keep-sync/internal/vault"
)

// Action is the outcome of deciding one note. The executor performs I/O
// based on it.
type Action int

const (
	// ActionSkip means nothing is written on either side.
	ActionSkip Action = iota

	// ActionCreateRemote means the local note has no identity and is
	// created remotely, then stamped with the new ID.
	ActionCreateRemote

	// ActionUpdateRemote means local field changes are pushed.
	ActionUpdateRemote

	// ActionUpdateLocal means the remote note is rendered into the local
	// file, creating it if needed.
	ActionUpdateLocal

	// ActionMoveLocal means the local file is only relocated to the
	// partition its state implies.
	ActionMoveLocal

	// ActionDeleteLocalOrphan means the remote note is gone and the local
	// file is removed.
	ActionDeleteLocalOrphan

	// ActionTrashRemote is an update whose only effect is trashing the
	// remote note.
	ActionTrashRemote

	// ActionConflict means the difference cannot be resolved without an
	// operator. Automatic runs fail after finishing everything else.
	ActionConflict
)

var actionNames = map[Action]string{
	ActionSkip:              "skip",
	ActionCreateRemote:      "create_remote",
	ActionUpdateRemote:      "update_remote",
	ActionUpdateLocal:       "update_local",
	ActionMoveLocal:         "move_local",
	ActionDeleteLocalOrphan: "delete_local_orphan",
	ActionTrashRemote:       "trash_remote",
	ActionConflict:          "conflict",
}

func (a Action) String() string {
	if s, ok := actionNames[a]; ok {
		return s
	}

	return fmt.Sprintf("action(%d)", int(a))
}

// SkipReason qualifies an ActionSkip.
type SkipReason string

const (
	SkipNone             SkipReason = ""
	SkipEmpty            SkipReason = "empty"
	SkipNoChange         SkipReason = "no_change"
	SkipNoMaterialChange SkipReason = "no_material_change"
	SkipRemoteNewer      SkipReason = "remote_newer"
	SkipDeletedRemotely  SkipReason = "deleted_remotely"
	SkipDuplicate        SkipReason = "potential_duplicate"
	SkipUserChoice       SkipReason = "user_choice"
	SkipPromptDryRun     SkipReason = "dry_run_prompt"
	SkipToggleHeld       SkipReason = "toggle_held"
)

// TogglePolicy controls how a difference that consists only of an
// archive or trash toggle is resolved.
type TogglePolicy string

const (
	// TogglePush treats toggles like any other material edit.
	TogglePush TogglePolicy = "push"
	// ToggleConflict never pushes a bare toggle automatically.
	ToggleConflict TogglePolicy = "conflict"
)

// Options selects the run mode.
type Options struct {
	Automatic          bool
	CherryPick         bool
	ForcePush          bool
	ForcePullOverwrite bool
	DryRun             bool
	SkipPull           bool
	SkipPush           bool
	FullSync           bool
	// Yes skips the confirmation before remote changes are flushed.
	Yes          bool
	TogglePolicy TogglePolicy
}

// Decision is the classified outcome for one note.
type Decision struct {
	Action Action
	Skip   SkipReason
	// Partition is the target partition for local writes and moves.
	Partition notes.Partition
	// Move is set on pull decisions whose local file must be relocated.
	Move      bool
	Detection Detection
	// Choice is the cherry-pick answer that produced the decision, if
	// any.
	Choice   Choice
	Prompted bool
	Warning  string
}

// DecidePull classifies a note in the pull pass. remote may be nil when
// the local note's identity was not in the remote listing.
func DecidePull(local, remote *notes.Record, opts Options) Decision {
	// Step 1: remote exists.
	if remote != nil {
		if remote.IsEmpty() {
			return Decision{Action: ActionSkip, Skip: SkipEmpty}
		}

		det := Detect(local, remote)

		if pullWins(local, remote, opts) {
			return Decision{
				Action:    ActionUpdateLocal,
				Partition: remote.TargetPartition(),
				Move:      local != nil && local.Partition != remote.TargetPartition(),
				Detection: det,
			}
		}

		// Local keeps its state; its file still has to sit where that
		// state says.
		if target := local.TargetPartition(); local.Partition != target {
			return Decision{
				Action:    ActionMoveLocal,
				Partition: target,
				Move:      true,
				Detection: det,
			}
		}

		// A newer local edit is left to the push pass.
		return Decision{Action: ActionSkip, Skip: SkipNoChange, Detection: det}
	}

	// Step 2: identity known locally, gone remotely.
	if local != nil && local.HasIdentity() {
		return Decision{Action: ActionDeleteLocalOrphan}
	}

	return Decision{Action: ActionSkip, Skip: SkipNoChange}
}

// pullWins reports whether the remote record should overwrite the local
// file.
func pullWins(local, remote *notes.Record, opts Options) bool {
	if local == nil || opts.ForcePullOverwrite {
		return true
	}

	if local.Updated != nil && remote.Updated != nil {
		return remote.Updated.After(*local.Updated)
	}

	return comparableFingerprint(local, remote) != fingerprintOf(remote)
}

// PushInput is one local note and what the remote side knows about it.
type PushInput struct {
	Local  *notes.Record
	Remote *notes.Record
	// Titles is consulted for the duplicate guard on create.
	Titles *TitleIndex
}

// DecidePush classifies a local note in the push pass. The resolver is
// only called in cherry-pick mode outside a dry run; an error from it
// aborts the run.
func DecidePush(ctx context.Context, in PushInput, opts Options, resolver Resolver) (Decision, error) {
	local, remote := in.Local, in.Remote

	// Step 3 and 4: new local note, guarded against near-duplicates.
	if !local.HasIdentity() {
		title := PushTitle(local)

		if in.Titles != nil {
			if dup := in.Titles.Duplicate(title); dup != nil {
				warning := fmt.Sprintf("remote note %s already has the title %q", dup.ID, dup.Title)
				if dup.ID == "" {
					warning = fmt.Sprintf("%s is created with the title %q in this run", dup.Path, dup.Title)
				}

				return Decision{
					Action:  ActionSkip,
					Skip:    SkipDuplicate,
					Warning: warning,
				}, nil
			}
		}

		return Decision{Action: ActionCreateRemote, Partition: local.TargetPartition()}, nil
	}

	// Step 2, push side: remote deleted it. The pull pass owns deletion.
	if remote == nil {
		return Decision{Action: ActionSkip, Skip: SkipDeletedRemotely}, nil
	}

	det := Detect(local, remote)

	// Step 5: identical.
	if !det.Different {
		return Decision{Action: ActionSkip, Skip: SkipNoChange, Detection: det}, nil
	}

	// Step 6: timestamp drift only.
	if !det.Material {
		return Decision{Action: ActionSkip, Skip: SkipNoMaterialChange, Detection: det}, nil
	}

	// Step 7: material difference.
	held := opts.TogglePolicy == ToggleConflict && toggleOnly(det)
	push := Decision{Action: updateAction(local, remote, det), Partition: local.TargetPartition(), Detection: det}

	switch {
	case opts.Automatic:
		if opts.ForcePush {
			return push, nil
		}

		if !held && localNewer(local, remote, true) {
			return push, nil
		}

		return Decision{
			Action:    ActionConflict,
			Detection: det,
			Warning:   conflictWarning(local, remote, held),
		}, nil

	case opts.CherryPick:
		if opts.DryRun {
			return Decision{Action: ActionSkip, Skip: SkipPromptDryRun, Detection: det, Prompted: true}, nil
		}

		if resolver == nil {
			return Decision{}, fmt.Errorf("cherry-pick needs a resolver for %s", local.Path)
		}

		choice, err := resolver.Resolve(ctx, local, remote, det)
		if err != nil {
			return Decision{}, fmt.Errorf("resolving %s: %w", local.Path, err)
		}

		switch choice {
		case ChoiceLocal:
			push.Choice, push.Prompted = choice, true
			return push, nil
		case ChoiceRemote:
			return Decision{
				Action:    ActionUpdateLocal,
				Partition: remote.TargetPartition(),
				Move:      local.Partition != remote.TargetPartition(),
				Detection: det,
				Choice:    choice,
				Prompted:  true,
			}, nil
		default:
			return Decision{Action: ActionSkip, Skip: SkipUserChoice, Detection: det, Choice: ChoiceSkip, Prompted: true}, nil
		}

	case opts.ForcePush:
		return push, nil
	}

	if held {
		return Decision{
			Action:    ActionSkip,
			Skip:      SkipToggleHeld,
			Detection: det,
			Warning:   conflictWarning(local, remote, true),
		}, nil
	}

	if localNewer(local, remote, false) {
		return push, nil
	}

	return Decision{
		Action:    ActionSkip,
		Skip:      SkipRemoteNewer,
		Detection: det,
		Warning:   conflictWarning(local, remote, false),
	}, nil
}

// localNewer compares updated timestamps. A local time with no remote
// time wins. With strict unset, a tie favors local.
func localNewer(local, remote *notes.Record, strict bool) bool {
	if local.Updated == nil {
		return false
	}

	if remote.Updated == nil {
		return true
	}

	if strict {
		return local.Updated.After(*remote.Updated)
	}

	return !local.Updated.Before(*remote.Updated)
}

// toggleOnly reports whether every material reason is an archive or
// trash toggle.
func toggleOnly(det Detection) bool {
	material := det.MaterialReasons()
	if len(material) == 0 {
		return false
	}

	for _, r := range material {
		if r != notes.ReasonArchived && r != notes.ReasonTrashed {
			return false
		}
	}

	return true
}

// updateAction narrows a push to ActionTrashRemote when trashing is the
// whole change.
func updateAction(local, remote *notes.Record, det Detection) Action {
	if toggleOnly(det) && local.Trashed && !remote.Trashed {
		return ActionTrashRemote
	}

	return ActionUpdateRemote
}

func conflictWarning(local, remote *notes.Record, held bool) string {
	if held {
		return fmt.Sprintf("%s: archive/trash state differs from remote note %s; not pushed", local.Path, remote.ID)
	}

	return fmt.Sprintf("%s: remote note %s changed at %s, local at %s; remote kept",
		local.Path, remote.ID, formatTime(remote.Updated), formatTime(local.Updated))
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "unknown"
	}

	return vault.FormatTime(*t)
}

// PushTitle is the title a local note is created with: the header or H1
// title, else the filename stem.
func PushTitle(local *notes.Record) string {
	if t := notes.NormalizeTitle(local.Title); t != "" {
		return t
	}

	return local.Stem()
}

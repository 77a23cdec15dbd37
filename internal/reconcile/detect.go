// Package reconcile is the reconciliation engine: change detection, the
// per-note decision procedure, action execution against both replicas,
// orphan cleanup and the run orchestration tying them together.
package reconcile

import (
	"strings"

	"github.com/alexjbarnes/keep-sync/internal/notes"
)

// Detection is the comparison of one local and one remote record.
type Detection struct {
	Different bool
	Reasons   []notes.Reason
	// Material is set when any reason reflects a real edit rather than
	// timestamp drift.
	Material bool
}

// Has reports whether r is among the reasons.
func (d Detection) Has(r notes.Reason) bool {
	for _, x := range d.Reasons {
		if x == r {
			return true
		}
	}

	return false
}

// MaterialReasons returns the reasons that count as edits.
func (d Detection) MaterialReasons() []notes.Reason {
	var out []notes.Reason

	for _, r := range d.Reasons {
		if r.Material() {
			out = append(out, r)
		}
	}

	return out
}

// Detect compares a local and a remote record. Local metadata fields
// that were absent from the header are not compared. When only one side
// is given the records are different and the difference is material.
func Detect(local, remote *notes.Record) Detection {
	if local == nil || remote == nil {
		if local == nil && remote == nil {
			return Detection{}
		}

		return Detection{Different: true, Material: true}
	}

	var reasons []notes.Reason

	if local.Fields.Has(notes.FieldTitle) && notes.NormalizeTitle(local.Title) != notes.NormalizeTitle(remote.Title) {
		reasons = append(reasons, notes.ReasonTitle)
	}

	if localContentKey(local, remote) != notes.ContentKey(remote) {
		reasons = append(reasons, notes.ReasonBody)
	}

	if local.Fields.Has(notes.FieldColor) && colorOf(local) != colorOf(remote) {
		reasons = append(reasons, notes.ReasonColor)
	}

	if local.Fields.Has(notes.FieldPinned) && local.Pinned != remote.Pinned {
		reasons = append(reasons, notes.ReasonPinned)
	}

	if local.Fields.Has(notes.FieldArchived) && local.Archived != remote.Archived {
		reasons = append(reasons, notes.ReasonArchived)
	}

	if local.Fields.Has(notes.FieldTrashed) && local.Trashed != remote.Trashed {
		reasons = append(reasons, notes.ReasonTrashed)
	}

	if local.Fields.Has(notes.FieldLabels) && !notes.LabelsEqual(local.Labels, remote.Labels) {
		reasons = append(reasons, notes.ReasonLabels)
	}

	fieldsDiffer := len(reasons) > 0

	switch lu, ru := local.Updated, remote.Updated; {
	case lu != nil && ru != nil:
		if lu.After(*ru) {
			reasons = append(reasons, notes.ReasonLocalNewer)
		}
	case lu != nil && ru == nil:
		if !fieldsDiffer {
			reasons = append(reasons, notes.ReasonLocalTimestampOnly)
		}
	case lu == nil && ru == nil:
		if !fieldsDiffer && comparableFingerprint(local, remote) != fingerprintOf(remote) {
			reasons = append(reasons, notes.ReasonFingerprint)
		}
	}

	d := Detection{Different: len(reasons) > 0, Reasons: reasons}

	for _, r := range reasons {
		if r.Material() {
			d.Material = true
			break
		}
	}

	return d
}

// localContentKey is the local content in the shape of the remote note.
// Against a list note only the checklist items of the file count.
func localContentKey(local, remote *notes.Record) string {
	if remote.Kind == notes.KindList {
		return strings.Join(notes.ItemLines(local.Items), "\n")
	}

	return notes.ContentKey(local)
}

// comparableFingerprint hashes the local record in the shape of the
// remote one, borrowing the remote title when the file did not state one.
func comparableFingerprint(local, remote *notes.Record) string {
	tmp := *local

	if !local.Fields.Has(notes.FieldTitle) {
		tmp.Title = remote.Title
	}

	if remote.Kind == notes.KindList {
		tmp.Kind = notes.KindList
	}

	return notes.Fingerprint(&tmp)
}

func fingerprintOf(r *notes.Record) string {
	if r.Fingerprint != "" {
		return r.Fingerprint
	}

	return notes.Fingerprint(r)
}

func colorOf(r *notes.Record) notes.Color {
	if r.Color == "" {
		return notes.ColorWhite
	}

	return r.Color
}

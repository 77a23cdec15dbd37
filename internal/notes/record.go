// Package notes holds the record shape shared by the local mirror and the
// remote store, plus the normalization rules that make records from both
// replicas comparable.
package notes

import (
	"strings"
	"time"
)

// Kind distinguishes free-text notes from checklist notes.
type Kind int

const (
	KindText Kind = iota
	KindList
)

func (k Kind) String() string {
	if k == KindList {
		return "list"
	}

	return "text"
}

// Color is a note color by its enum name.
type Color string

const (
	ColorWhite    Color = "WHITE"
	ColorRed      Color = "RED"
	ColorOrange   Color = "ORANGE"
	ColorYellow   Color = "YELLOW"
	ColorGreen    Color = "GREEN"
	ColorTeal     Color = "TEAL"
	ColorBlue     Color = "BLUE"
	ColorCerulean Color = "CERULEAN"
	ColorPurple   Color = "PURPLE"
	ColorPink     Color = "PINK"
	ColorBrown    Color = "BROWN"
	ColorGray     Color = "GRAY"
)

var knownColors = map[Color]bool{
	ColorWhite: true, ColorRed: true, ColorOrange: true, ColorYellow: true,
	ColorGreen: true, ColorTeal: true, ColorBlue: true, ColorCerulean: true,
	ColorPurple: true, ColorPink: true, ColorBrown: true, ColorGray: true,
}

// ParseColor maps a case-insensitive color name to a Color. Empty input
// is the default color. Unknown names return false.
func ParseColor(s string) (Color, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return ColorWhite, true
	}

	c := Color(s)
	if !knownColors[c] {
		return ColorWhite, false
	}

	return c, true
}

// Partition is one of the three local storage locations.
type Partition int

const (
	PartitionActive Partition = iota
	PartitionArchived
	PartitionTrashed
)

const (
	ArchivedDir    = "Archived"
	TrashedDir     = "Trashed"
	AttachmentsDir = "Attachments"
)

func (p Partition) String() string {
	switch p {
	case PartitionArchived:
		return "archived"
	case PartitionTrashed:
		return "trashed"
	default:
		return "active"
	}
}

// Dir returns the mirror-relative directory for the partition. The
// active partition is the mirror root.
func (p Partition) Dir() string {
	switch p {
	case PartitionArchived:
		return ArchivedDir
	case PartitionTrashed:
		return TrashedDir
	default:
		return ""
	}
}

// PartitionFor places a note by its state. Trashed dominates archived.
func PartitionFor(archived, trashed bool) Partition {
	if trashed {
		return PartitionTrashed
	}

	if archived {
		return PartitionArchived
	}

	return PartitionActive
}

// PartitionOfPath reports which partition a mirror-relative path lives
// in, judged by its first path segment.
func PartitionOfPath(relPath string) Partition {
	first, _, found := strings.Cut(relPath, "/")
	if !found {
		return PartitionActive
	}

	switch first {
	case ArchivedDir:
		return PartitionArchived
	case TrashedDir:
		return PartitionTrashed
	default:
		return PartitionActive
	}
}

// Item is one checklist entry. ID is assigned by the remote store and is
// not preserved across a list rewrite.
type Item struct {
	ID      string `json:"id,omitempty"`
	Text    string `json:"text"`
	Checked bool   `json:"checked"`
}

// Record is a note from either replica in comparable form.
type Record struct {
	ID    string
	Kind  Kind
	Title string
	Body  string
	Items []Item

	Color    Color
	Pinned   bool
	Archived bool
	Trashed  bool
	Labels   []string

	Created   *time.Time
	Updated   *time.Time
	Edited    *time.Time
	TrashedAt *time.Time

	Attachments []string

	// Fields marks which metadata fields were actually present. Remote
	// records carry FieldsAll; local records carry the header keys found.
	Fields Field

	// Local replica only.
	Path          string
	Partition     Partition
	HeaderUpdated *time.Time

	Fingerprint string
}

// Field is a bit set of metadata fields present on a record.
type Field uint8

const (
	FieldTitle Field = 1 << iota
	FieldColor
	FieldPinned
	FieldArchived
	FieldTrashed
	FieldLabels

	FieldsAll = FieldTitle | FieldColor | FieldPinned | FieldArchived | FieldTrashed | FieldLabels
)

// Has reports whether every field in f is set.
func (f Field) Has(g Field) bool {
	return f&g == g
}

// HasIdentity reports whether the record is known to the remote store.
func (r *Record) HasIdentity() bool {
	return r.ID != ""
}

// TargetPartition is where the record belongs given its state.
func (r *Record) TargetPartition() Partition {
	return PartitionFor(r.Archived, r.Trashed)
}

// IsEmpty reports whether the note carries nothing worth mirroring.
func (r *Record) IsEmpty() bool {
	return strings.TrimSpace(r.Title) == "" &&
		strings.TrimSpace(r.Body) == "" &&
		len(r.Items) == 0 &&
		len(r.Attachments) == 0
}

// Stem returns the filename of Path without directory or extension.
func (r *Record) Stem() string {
	name := r.Path
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}

	return strings.TrimSuffix(name, ".md")
}

// Reason tags one way in which a local and remote record differ.
type Reason string

const (
	ReasonTitle    Reason = "title"
	ReasonBody     Reason = "body"
	ReasonColor    Reason = "color"
	ReasonPinned   Reason = "pinned"
	ReasonArchived Reason = "archived"
	ReasonTrashed  Reason = "trashed"
	ReasonLabels   Reason = "labels"

	// ReasonFingerprint is used only when neither side has an updated
	// timestamp and the content fingerprints differ.
	ReasonFingerprint Reason = "fingerprint"

	ReasonLocalNewer         Reason = "localNewer"
	ReasonLocalTimestampOnly Reason = "localTimestampOnly"
)

// Material reports whether the reason reflects a real edit rather than
// timestamp drift.
func (r Reason) Material() bool {
	return r != ReasonLocalNewer && r != ReasonLocalTimestampOnly
}

// TimePtr returns a pointer to t in UTC, or nil for the zero time.
func TimePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}

	u := t.UTC()

	return &u
}

package vault

import (
	"fmt"
	"strings"
	"time"

	"github.com/alexjbarnes/keep-sync/internal/notes"
)

// DecodeRecord builds a local record from a parsed note file. Header keys
// that are absent leave the matching field unset; archived and trashed
// fall back to the partition the file lives in.
func DecodeRecord(relPath string, doc *Document, mtime time.Time) notes.Record {
	rec := notes.Record{
		Path:      relPath,
		Partition: notes.PartitionOfPath(relPath),
		Color:     notes.ColorWhite,
	}

	if id, ok := doc.String(KeyID); ok {
		rec.ID = strings.TrimSpace(id)
	}

	title, hasTitle := doc.String(KeyTitle)
	if hasTitle {
		rec.Title = notes.NormalizeTitle(title)
		rec.Fields |= notes.FieldTitle
	}

	if s, ok := doc.String(KeyColor); ok {
		if c, known := notes.ParseColor(s); known {
			rec.Color = c
			rec.Fields |= notes.FieldColor
		}
	}

	if b, ok := doc.Bool(KeyPinned); ok {
		rec.Pinned = b
		rec.Fields |= notes.FieldPinned
	}

	if b, ok := doc.Bool(KeyArchived); ok {
		rec.Archived = b
	} else {
		rec.Archived = rec.Partition == notes.PartitionArchived
	}

	if b, ok := doc.Bool(KeyTrashed); ok {
		rec.Trashed = b
	} else {
		rec.Trashed = rec.Partition == notes.PartitionTrashed
	}

	rec.Fields |= notes.FieldArchived | notes.FieldTrashed

	tags, ok := doc.Strings(KeyTags)
	if !ok {
		tags, ok = doc.Strings(keyLabels)
	}

	if ok {
		rec.Labels = notes.NormalizeLabels(tags)
		rec.Fields |= notes.FieldLabels
	}

	rec.Created, _ = doc.Time(KeyCreated)
	rec.HeaderUpdated, _ = doc.Time(KeyUpdated)
	rec.Edited, _ = doc.Time(KeyEdited)
	rec.TrashedAt, _ = doc.Time(KeyTrashedAt)
	rec.Updated = laterOf(rec.HeaderUpdated, notes.TimePtr(mtime))

	content := ParseContent(doc.Body, !hasTitle)
	if content.Title != "" {
		rec.Title = notes.NormalizeTitle(content.Title)
		rec.Fields |= notes.FieldTitle
	}

	rec.Body = content.Body
	rec.Items = content.Items
	rec.Attachments = content.Attachments

	if content.IsList {
		rec.Kind = notes.KindList
	}

	rec.Fingerprint = notes.Fingerprint(&rec)

	return rec
}

// laterOf returns the later of two optional times.
func laterOf(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.After(*a):
		return b
	default:
		return a
	}
}

// Render produces the file content for a remote record. Unknown header
// keys from existing are kept.
func Render(rec *notes.Record, existing *Document) ([]byte, error) {
	doc := existing
	if doc == nil || !doc.HasHeader() {
		doc = NewDocument("")
	}

	if err := setMetadata(doc, rec); err != nil {
		return nil, err
	}

	doc.Body = renderBody(rec)

	return doc.Bytes()
}

func setMetadata(doc *Document, rec *notes.Record) error {
	labels := make([]string, 0, len(rec.Labels))
	for _, l := range rec.Labels {
		labels = append(labels, notes.TagForHeader(l))
	}

	color := rec.Color
	if color == "" {
		color = notes.ColorWhite
	}

	fields := []struct {
		key   string
		value any
	}{
		{KeyID, rec.ID},
		{KeyTitle, rec.Title},
		{KeyColor, string(color)},
		{KeyPinned, rec.Pinned},
		{KeyArchived, rec.Archived},
		{KeyTrashed, rec.Trashed},
		{KeyTags, labels},
	}

	for _, f := range fields {
		if err := doc.Set(f.key, f.value); err != nil {
			return err
		}
	}

	times := []struct {
		key string
		t   *time.Time
	}{
		{KeyCreated, rec.Created},
		{KeyUpdated, rec.Updated},
		{KeyEdited, rec.Edited},
		{KeyTrashedAt, rec.TrashedAt},
	}

	for _, tm := range times {
		if err := doc.SetTime(tm.key, tm.t); err != nil {
			return err
		}
	}

	return nil
}

func renderBody(rec *notes.Record) string {
	var b strings.Builder

	if rec.Kind == notes.KindList {
		b.WriteString(strings.Join(notes.ItemLines(rec.Items), "\n"))
	} else {
		b.WriteString(notes.EscapeHashtags(strings.TrimRight(rec.Body, "\n")))
	}

	if len(rec.Attachments) > 0 {
		b.WriteString("\n\n" + AttachmentsHeading + "\n")

		for _, name := range rec.Attachments {
			fmt.Fprintf(&b, "- ![[%s/%s]]\n", notes.AttachmentsDir, name)
		}

		return b.String()
	}

	b.WriteString("\n")

	return b.String()
}

// StampCreated writes the identity and metadata assigned by a remote
// create into an existing local file's header. The body is left alone
// except that an H1 which supplied the title is dropped, since the title
// now lives in the header.
func StampCreated(doc *Document, rec *notes.Record) error {
	if _, hasTitle := doc.String(KeyTitle); !hasTitle {
		if lifted, rest := LiftTitle(doc.Body); lifted != "" &&
			notes.NormalizeTitle(lifted) == notes.NormalizeTitle(rec.Title) {
			doc.Body = strings.TrimLeft(rest, "\n")
		}
	}

	labels := make([]string, 0, len(rec.Labels))
	for _, l := range rec.Labels {
		labels = append(labels, notes.TagForHeader(l))
	}

	color := rec.Color
	if color == "" {
		color = notes.ColorWhite
	}

	fields := []struct {
		key   string
		value any
	}{
		{KeyID, rec.ID},
		{KeyTitle, rec.Title},
		{KeyColor, string(color)},
		{KeyTags, labels},
	}

	for _, f := range fields {
		if err := doc.Set(f.key, f.value); err != nil {
			return err
		}
	}

	if err := doc.SetTime(KeyCreated, rec.Created); err != nil {
		return err
	}

	return doc.SetTime(KeyUpdated, rec.Updated)
}

// StampUpdated records the remote modification time after a push.
func StampUpdated(doc *Document, updated *time.Time) error {
	if updated == nil {
		return nil
	}

	return doc.SetTime(KeyUpdated, updated)
}

package vault

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	kserrors "github.com/alexjbarnes/keep-sync/internal/errors"
	"gopkg.in/yaml.v3"
)

// Header keys written by the renderer.
const (
	KeyID        = "id"
	KeyTitle     = "title"
	KeyColor     = "color"
	KeyPinned    = "pinned"
	KeyArchived  = "archived"
	KeyTrashed   = "trashed"
	KeyTags      = "tags"
	KeyCreated   = "created"
	KeyUpdated   = "updated"
	KeyEdited    = "edited"
	KeyTrashedAt = "trashed_at"

	// keyLabels is accepted on read as an alias of tags.
	keyLabels = "labels"
)

const headerDelim = "---"

// Document is a note file split into its YAML header and body. The header
// is kept as a yaml.Node so keys the engine does not know survive a
// rewrite, and so an absent key can be told apart from an empty one.
type Document struct {
	header *yaml.Node
	Body   string
}

// ParseDocument splits a note file. A file that does not start with a
// "---" line has no header. A header that never closes or is not a
// mapping is a parse error.
func ParseDocument(data []byte) (*Document, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	text := string(data)

	first, rest, found := strings.Cut(text, "\n")
	if strings.TrimSpace(first) != headerDelim {
		return &Document{Body: text}, nil
	}

	if !found {
		return nil, fmt.Errorf("%w: header not closed", kserrors.ErrParse)
	}

	var (
		headerLines []string
		body        string
		closed      bool
	)

	lines := strings.SplitAfter(rest, "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) == headerDelim {
			body = strings.Join(lines[i+1:], "")
			closed = true

			break
		}

		headerLines = append(headerLines, line)
	}

	if !closed {
		return nil, fmt.Errorf("%w: header not closed", kserrors.ErrParse)
	}

	mapping := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}

	block := strings.Join(headerLines, "")
	if strings.TrimSpace(block) != "" {
		var root yaml.Node
		if err := yaml.Unmarshal([]byte(block), &root); err != nil {
			return nil, fmt.Errorf("%w: %v", kserrors.ErrParse, err)
		}

		if len(root.Content) == 1 {
			switch root.Content[0].Kind {
			case yaml.MappingNode:
				mapping = root.Content[0]
			default:
				return nil, fmt.Errorf("%w: header is not a mapping", kserrors.ErrParse)
			}
		}
	}

	return &Document{header: mapping, Body: body}, nil
}

// NewDocument returns a document with an empty header.
func NewDocument(body string) *Document {
	return &Document{
		header: &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"},
		Body:   body,
	}
}

// HasHeader reports whether the file carried a header block.
func (d *Document) HasHeader() bool {
	return d.header != nil
}

// lookup returns the value node for key, or nil when absent or null.
func (d *Document) lookup(key string) *yaml.Node {
	if d.header == nil {
		return nil
	}

	for i := 0; i+1 < len(d.header.Content); i += 2 {
		if d.header.Content[i].Value == key {
			v := d.header.Content[i+1]
			if v.Kind == yaml.ScalarNode && v.Tag == "!!null" {
				return nil
			}

			return v
		}
	}

	return nil
}

// Has reports whether key is present with a non-null value.
func (d *Document) Has(key string) bool {
	return d.lookup(key) != nil
}

// String returns a scalar value as written.
func (d *Document) String(key string) (string, bool) {
	n := d.lookup(key)
	if n == nil || n.Kind != yaml.ScalarNode {
		return "", false
	}

	return n.Value, true
}

// Bool returns a boolean value. Values that are present but do not
// decode as a boolean are reported as unset.
func (d *Document) Bool(key string) (bool, bool) {
	n := d.lookup(key)
	if n == nil {
		return false, false
	}

	var b bool
	if err := n.Decode(&b); err != nil {
		return false, false
	}

	return b, true
}

// Strings returns a sequence value. A single scalar is read as a one
// element list.
func (d *Document) Strings(key string) ([]string, bool) {
	n := d.lookup(key)
	if n == nil {
		return nil, false
	}

	switch n.Kind {
	case yaml.ScalarNode:
		if strings.TrimSpace(n.Value) == "" {
			return []string{}, true
		}

		return []string{n.Value}, true
	case yaml.SequenceNode:
		out := make([]string, 0, len(n.Content))
		for _, c := range n.Content {
			if c.Kind == yaml.ScalarNode && c.Value != "" {
				out = append(out, c.Value)
			}
		}

		return out, true
	default:
		return nil, false
	}
}

// Time returns a timestamp value in UTC. The second result reports
// presence; a present but unparseable value returns nil, true.
func (d *Document) Time(key string) (*time.Time, bool) {
	s, ok := d.String(key)
	if !ok {
		return nil, false
	}

	t, err := ParseTime(s)
	if err != nil {
		return nil, true
	}

	return &t, true
}

// Set replaces or appends key with value.
func (d *Document) Set(key string, value any) error {
	if d.header == nil {
		d.header = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	}

	var vn yaml.Node
	if err := vn.Encode(value); err != nil {
		return fmt.Errorf("encoding header %s: %w", key, err)
	}

	for i := 0; i+1 < len(d.header.Content); i += 2 {
		if d.header.Content[i].Value == key {
			d.header.Content[i+1] = &vn
			return nil
		}
	}

	d.header.Content = append(d.header.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		&vn,
	)

	return nil
}

// Delete removes key if present.
func (d *Document) Delete(key string) {
	if d.header == nil {
		return
	}

	for i := 0; i+1 < len(d.header.Content); i += 2 {
		if d.header.Content[i].Value == key {
			d.header.Content = append(d.header.Content[:i], d.header.Content[i+2:]...)
			return
		}
	}
}

// SetTime writes t in RFC 3339 with nanoseconds, or removes the key when
// t is nil. Full precision keeps a mirrored timestamp equal to the remote
// one on the next pass.
func (d *Document) SetTime(key string, t *time.Time) error {
	if t == nil {
		d.Delete(key)
		return nil
	}

	return d.Set(key, FormatTime(*t))
}

// Bytes renders the document back to file content.
func (d *Document) Bytes() ([]byte, error) {
	if d.header == nil {
		return []byte(d.Body), nil
	}

	var buf bytes.Buffer

	buf.WriteString(headerDelim + "\n")

	if len(d.header.Content) > 0 {
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)

		if err := enc.Encode(d.header); err != nil {
			return nil, fmt.Errorf("encoding header: %w", err)
		}

		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("encoding header: %w", err)
		}
	}

	buf.WriteString(headerDelim + "\n")
	buf.WriteString(d.Body)

	return buf.Bytes(), nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTime reads a header timestamp. Values without a zone are UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)

	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// FormatTime writes a timestamp the way ParseTime reads it back exactly.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

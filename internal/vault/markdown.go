package vault

import (
	"regexp"
	"strings"

	"github.com/alexjbarnes/keep-sync/internal/notes"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// AttachmentsHeading starts the trailing section that lists attachment
// embeds. Everything from it onward is not part of the note body.
const AttachmentsHeading = "## Attachments"

var (
	taskLine        = regexp.MustCompile(`^\s*[-*+]\s+\[([ xX])\]\s?(.*)$`)
	taskMarker      = regexp.MustCompile(`^\[[ xX]\]\s?`)
	attachmentEmbed = regexp.MustCompile(`!\[\[` + notes.AttachmentsDir + `/([^\]|]+)(?:\|[^\]]*)?\]\]`)
	h1Line          = regexp.MustCompile(`^#\s+(.+?)\s*#*\s*$`)
)

var taskParser = goldmark.New(goldmark.WithExtensions(extension.TaskList)).Parser()

// Content is a note body split into its parts.
type Content struct {
	// Title is the H1 heading lifted from the top of the body, if any.
	Title string
	Body  string
	Items []notes.Item
	// IsList is true when the body consists only of checklist lines.
	IsList      bool
	Attachments []string
}

// SplitAttachments separates the body from a trailing attachments section
// and returns the attachment filenames it references.
func SplitAttachments(body string) (string, []string) {
	lines := strings.Split(body, "\n")

	for i, line := range lines {
		if strings.TrimSpace(line) != AttachmentsHeading {
			continue
		}

		section := strings.Join(lines[i+1:], "\n")

		var names []string
		for _, m := range attachmentEmbed.FindAllStringSubmatch(section, -1) {
			names = append(names, strings.TrimSpace(m[1]))
		}

		return strings.Join(lines[:i], "\n"), names
	}

	return body, nil
}

// LiftTitle removes a leading H1 heading from body and returns its text.
// Blank lines before the heading are allowed.
func LiftTitle(body string) (string, string) {
	lines := strings.Split(body, "\n")

	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}

		m := h1Line.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			return "", body
		}

		return strings.TrimSpace(m[1]), strings.Join(lines[i+1:], "\n")
	}

	return "", body
}

// ParseContent parses a note body. When liftTitle is set a leading H1
// becomes the title.
func ParseContent(body string, liftTitle bool) Content {
	var c Content

	body, c.Attachments = SplitAttachments(body)

	if liftTitle {
		c.Title, body = LiftTitle(body)
	}

	c.Body = body
	c.Items = ExtractItems(body)
	c.IsList = isListBody(body, len(c.Items))

	return c
}

// ExtractItems returns the GFM task list items in document order. Task
// syntax inside code blocks is ignored.
func ExtractItems(body string) []notes.Item {
	source := []byte(body)
	doc := taskParser.Parse(text.NewReader(source))

	var items []notes.Item

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		box, ok := n.(*extast.TaskCheckBox)
		if !ok {
			return ast.WalkContinue, nil
		}

		block := box.Parent()
		if block == nil {
			return ast.WalkContinue, nil
		}

		items = append(items, notes.Item{
			Text:    itemText(block, source),
			Checked: box.IsChecked,
		})

		return ast.WalkSkipChildren, nil
	})

	return items
}

// itemText joins the raw lines of a task's text block and drops the
// checkbox marker.
func itemText(block ast.Node, source []byte) string {
	lines := block.Lines()
	parts := make([]string, 0, lines.Len())

	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		parts = append(parts, string(seg.Value(source)))
	}

	joined := notes.NormalizeItemText(strings.Join(parts, "\n"))

	return notes.UnescapeHashtags(strings.TrimSpace(taskMarker.ReplaceAllString(joined, "")))
}

// isListBody reports whether every non-blank line of body is a checklist
// line and at least one task item was found.
func isListBody(body string, itemCount int) bool {
	if itemCount == 0 {
		return false
	}

	for _, line := range strings.Split(body, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}

		if !taskLine.MatchString(line) {
			return false
		}
	}

	return true
}

// HasChecklist reports whether body contains any checklist line. Used on
// create, where any checklist content makes a list note.
func HasChecklist(body string) bool {
	for _, line := range strings.Split(body, "\n") {
		if taskLine.MatchString(line) {
			return true
		}
	}

	return false
}

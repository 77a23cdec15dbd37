package notes

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var (
	hashtagPattern        = regexp.MustCompile(`(?m)(^|\s)#([^\s#])`)
	escapedHashtagPattern = regexp.MustCompile(`\\#([^\s#])`)

	titleFolder = cases.Fold()
)

// EscapeHashtags prefixes inline hashtags with a backslash so markdown
// editors do not treat them as tags. Headings are left alone.
func EscapeHashtags(text string) string {
	return hashtagPattern.ReplaceAllString(text, `$1\#$2`)
}

// UnescapeHashtags reverses EscapeHashtags.
func UnescapeHashtags(text string) string {
	return escapedHashtagPattern.ReplaceAllString(text, `#$1`)
}

// NormalizeTitle collapses whitespace runs (including newlines and tabs)
// to single spaces and trims the result.
func NormalizeTitle(title string) string {
	return strings.Join(strings.Fields(title), " ")
}

// TitleKey folds a title for near-duplicate comparison: NFC, case-folded,
// whitespace-collapsed.
func TitleKey(title string) string {
	return titleFolder.String(norm.NFC.String(NormalizeTitle(title)))
}

// NormalizeBody puts note text into the form both replicas are compared
// in: LF line endings, blank lines dropped, trailing whitespace removed
// per line, hashtags unescaped, outer whitespace trimmed.
func NormalizeBody(body string) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	body = strings.ReplaceAll(body, "\r", "\n")

	lines := strings.Split(body, "\n")
	kept := lines[:0]

	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}

		kept = append(kept, strings.TrimRight(line, " \t"))
	}

	return strings.TrimSpace(UnescapeHashtags(strings.Join(kept, "\n")))
}

// NormalizeLabel maps a label as written in a header (spaces stored as
// underscores) or as named remotely to its comparison form.
func NormalizeLabel(label string) string {
	return strings.ToLower(strings.TrimSpace(strings.ReplaceAll(label, "_", " ")))
}

// NormalizeLabels returns the sorted, de-duplicated comparison form of a
// label set. Empty labels are dropped.
func NormalizeLabels(labels []string) []string {
	seen := make(map[string]bool, len(labels))
	out := make([]string, 0, len(labels))

	for _, l := range labels {
		n := NormalizeLabel(l)
		if n == "" || seen[n] {
			continue
		}

		seen[n] = true
		out = append(out, n)
	}

	sort.Strings(out)

	return out
}

// LabelsEqual compares two label sets in normalized form.
func LabelsEqual(a, b []string) bool {
	na, nb := NormalizeLabels(a), NormalizeLabels(b)
	if len(na) != len(nb) {
		return false
	}

	for i := range na {
		if na[i] != nb[i] {
			return false
		}
	}

	return true
}

// TagForHeader converts a label name into the header tag form.
func TagForHeader(label string) string {
	return strings.ReplaceAll(strings.TrimSpace(label), " ", "_")
}

// NormalizeItemText trims checklist item text and folds embedded line
// breaks into single spaces, since a task line holds one line of text.
func NormalizeItemText(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")

	parts := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			parts = append(parts, line)
		}
	}

	return strings.Join(parts, " ")
}

// ItemLines renders checklist items in list order as markdown task lines.
func ItemLines(items []Item) []string {
	lines := make([]string, 0, len(items))

	for _, it := range items {
		mark := "[ ]"
		if it.Checked {
			mark = "[x]"
		}

		lines = append(lines, "- "+mark+" "+NormalizeItemText(it.Text))
	}

	return lines
}

// ContentKey is the comparable content of a record: item lines for list
// notes, the normalized body for text notes.
func ContentKey(r *Record) string {
	if r.Kind == KindList {
		return strings.Join(ItemLines(r.Items), "\n")
	}

	return NormalizeBody(r.Body)
}

// Fingerprint hashes the normalized title and content of a record.
func Fingerprint(r *Record) string {
	h := sha256.New()
	h.Write([]byte(NormalizeTitle(r.Title)))
	h.Write([]byte{0})
	h.Write([]byte(ContentKey(r)))

	return hex.EncodeToString(h.Sum(nil))
}

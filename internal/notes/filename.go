package notes

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// maxFilenameRunes caps the stem of a generated filename.
const maxFilenameRunes = 90

var (
	forbiddenFilenameChars = regexp.MustCompile(`[<>:"\\|?*]`)
	controlChars           = regexp.MustCompile(`[\x00-\x1f\x7f]`)
	whitespaceRun          = regexp.MustCompile(`\s+`)
)

var reservedNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// SanitizeFilename derives a portable markdown filename from a note title.
// Titles that sanitize to nothing fall back to an ID-based name.
func SanitizeFilename(title, id string) string {
	name := norm.NFC.String(title)
	if strings.TrimSpace(name) == "" {
		name = "Untitled_" + id
	}

	name = strings.ReplaceAll(name, "/", "_")
	name = forbiddenFilenameChars.ReplaceAllString(name, "")
	name = controlChars.ReplaceAllString(name, "")
	name = strings.TrimSpace(whitespaceRun.ReplaceAllString(name, " "))

	if r := []rune(name); len(r) > maxFilenameRunes {
		name = string(r[:maxFilenameRunes])
	}

	name = strings.TrimRight(name, ". ")

	base, _, _ := strings.Cut(name, ".")
	if reservedNames[strings.ToUpper(base)] {
		name = "_" + name
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = "Note_" + id
	}

	return name + ".md"
}

package vault

import (
	"fmt"
	"path"
	"strings"

	"github.com/alexjbarnes/keep-sync/internal/notes"
	"github.com/bmatcuk/doublestar/v4"
)

// Filter decides which mirror paths take part in indexing. Hidden entries,
// the attachments directory and the sync log file are always excluded;
// user globs exclude more.
type Filter struct {
	ignore []string
}

// NewFilter validates the ignore globs. Patterns use doublestar syntax
// and match mirror-relative slash paths, e.g. "drafts/**" or "**/*.tmp.md".
func NewFilter(ignore []string) (*Filter, error) {
	f := &Filter{}

	for _, p := range ignore {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}

		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid ignore pattern %q", p)
		}

		f.ignore = append(f.ignore, p)
	}

	return f, nil
}

// AllowDir reports whether the walker should descend into a directory.
func (f *Filter) AllowDir(relPath string) bool {
	relPath = normalizePath(relPath)
	if relPath == "" {
		return true
	}

	if isHidden(relPath) || relPath == notes.AttachmentsDir {
		return false
	}

	return !f.ignored(relPath)
}

// AllowFile reports whether a file is a note the indexer should read.
func (f *Filter) AllowFile(relPath string) bool {
	relPath = normalizePath(relPath)

	if isHidden(relPath) || relPath == SyncLogFile {
		return false
	}

	if !strings.EqualFold(path.Ext(relPath), ".md") {
		return false
	}

	return !f.ignored(relPath)
}

func (f *Filter) ignored(relPath string) bool {
	for _, p := range f.ignore {
		if ok, _ := doublestar.Match(p, relPath); ok {
			return true
		}
	}

	return false
}

func isHidden(relPath string) bool {
	return strings.HasPrefix(path.Base(relPath), ".")
}

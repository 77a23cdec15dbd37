// Package vault is the local replica: a directory of markdown notes split
// into active, Archived/ and Trashed/ partitions plus an Attachments/
// directory. It reads, writes, moves and indexes note files.
package vault

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alexjbarnes/keep-sync/internal/notes"
	"golang.org/x/text/unicode/norm"
)

const (
	// vaultDirPerm is the permission mode for directories created inside
	// the mirror.
	vaultDirPerm = fs.FileMode(0o755)

	// vaultFilePerm is the permission mode for note files.
	vaultFilePerm = fs.FileMode(0o644)

	// maxCollisionSuffix bounds the _N suffixes tried when a target
	// filename is taken.
	maxCollisionSuffix = 20
)

// mtimeMin and mtimeMax clamp remote timestamps applied as file mtimes.
var (
	mtimeMin = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	mtimeMax = time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)
)

// SyncLogFile is the mirror copy of the sync log note. It never takes
// part in reconciliation.
const SyncLogFile = "_Sync_Log.md"

// Vault provides serialized filesystem operations on the mirror root.
// Writes take an exclusive lock; reads take a shared lock so they never
// observe a partial write.
type Vault struct {
	dir string
	mu  sync.RWMutex
}

// New creates a Vault rooted at dir, creating the partition directories
// if they do not exist. dir must be absolute.
func New(dir string) (*Vault, error) {
	if dir == "" {
		return nil, fmt.Errorf("vault directory must not be empty")
	}

	for _, sub := range []string{"", notes.ArchivedDir, notes.TrashedDir, notes.AttachmentsDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), vaultDirPerm); err != nil {
			return nil, fmt.Errorf("creating vault directory %s: %w", filepath.Join(dir, sub), err)
		}
	}

	return &Vault{dir: dir}, nil
}

// Dir returns the root directory of the mirror.
func (v *Vault) Dir() string {
	return v.dir
}

// ReadFile reads a file by mirror-relative path.
func (v *Vault) ReadFile(relPath string) ([]byte, error) {
	absPath, err := v.resolve(relPath)
	if err != nil {
		return nil, err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	return os.ReadFile(absPath) //nolint:gosec // G304: absPath validated by Vault.resolve
}

// WriteFile atomically replaces a file by relative path, creating parent
// directories as needed. A non-zero mtime is applied after the write so
// the file carries the remote modification time.
func (v *Vault) WriteFile(relPath string, data []byte, mtime time.Time) error {
	absPath, err := v.resolve(relPath)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if err := writeFileAtomic(absPath, data, vaultFilePerm); err != nil {
		return fmt.Errorf("writing %s: %w", relPath, err)
	}

	if !mtime.IsZero() {
		mtime = clampMtime(mtime)
		if err := os.Chtimes(absPath, mtime, mtime); err != nil {
			return fmt.Errorf("setting mtime for %s: %w", relPath, err)
		}
	}

	return nil
}

// DeleteFile removes a file by relative path. Missing files are not an
// error.
func (v *Vault) DeleteFile(relPath string) error {
	absPath, err := v.resolve(relPath)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	err = os.Remove(absPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", relPath, err)
	}

	return nil
}

// Rename moves a file within the mirror, creating the destination's
// parent directory.
func (v *Vault) Rename(oldRel, newRel string) error {
	oldAbs, err := v.resolve(oldRel)
	if err != nil {
		return err
	}

	newAbs, err := v.resolve(newRel)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(newAbs), vaultDirPerm); err != nil {
		return fmt.Errorf("creating directory for %s: %w", newRel, err)
	}

	return os.Rename(oldAbs, newAbs)
}

// Stat returns file info for a relative path.
func (v *Vault) Stat(relPath string) (os.FileInfo, error) {
	absPath, err := v.resolve(relPath)
	if err != nil {
		return nil, err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	return os.Stat(absPath)
}

// Exists reports whether a relative path exists.
func (v *Vault) Exists(relPath string) bool {
	_, err := v.Stat(relPath)
	return err == nil
}

// IdealPath is where a note with the given title and id belongs in a
// partition, before collision handling.
func IdealPath(p notes.Partition, title, id string) string {
	return path.Join(p.Dir(), notes.SanitizeFilename(title, id))
}

// FreePath returns want if it is unused or is self, otherwise the first
// free "<stem>_N.md" variant. Returns an error after maxCollisionSuffix
// attempts.
func (v *Vault) FreePath(want, self string) (string, error) {
	if want == self || !v.Exists(want) {
		return want, nil
	}

	dir, file := path.Split(want)
	stem := strings.TrimSuffix(file, ".md")

	for n := 1; n <= maxCollisionSuffix; n++ {
		candidate := dir + stem + "_" + strconv.Itoa(n) + ".md"
		if candidate == self || !v.Exists(candidate) {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("no free filename for %s after %d attempts", want, maxCollisionSuffix)
}

// Attachments lists the filenames directly inside Attachments/.
func (v *Vault) Attachments() ([]string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	entries, err := os.ReadDir(filepath.Join(v.dir, notes.AttachmentsDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("listing attachments: %w", err)
	}

	var names []string

	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}

		names = append(names, normalizePath(e.Name()))
	}

	return names, nil
}

// resolve converts a relative path to an absolute path within the mirror,
// rejecting traversal through ".." segments or symlinks.
func (v *Vault) resolve(relPath string) (string, error) {
	if relPath == "" {
		return "", fmt.Errorf("empty path")
	}

	if strings.ContainsRune(relPath, 0) {
		return "", fmt.Errorf("path contains null byte: %q", relPath)
	}

	relPath = strings.ReplaceAll(relPath, "\\", "/")

	for _, seg := range strings.Split(relPath, "/") {
		if seg == ".." {
			return "", fmt.Errorf("path contains ..: %q", relPath)
		}
	}

	absPath := filepath.Join(v.dir, relPath)
	if !strings.HasPrefix(absPath, v.dir+string(os.PathSeparator)) {
		return "", fmt.Errorf("path traversal blocked: %q resolves outside vault dir", relPath)
	}

	realPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			parentReal, pErr := filepath.EvalSymlinks(filepath.Dir(absPath))
			if pErr != nil {
				return absPath, nil //nolint:nilerr // parent will be created on write
			}

			if parentReal != v.realDir() && !strings.HasPrefix(parentReal+string(os.PathSeparator), v.realDir()+string(os.PathSeparator)) {
				return "", fmt.Errorf("symlink traversal blocked: parent of %q resolves to %q outside vault", relPath, parentReal)
			}

			return absPath, nil
		}

		return "", fmt.Errorf("resolving symlinks for %q: %w", relPath, err)
	}

	if realPath != v.realDir() && !strings.HasPrefix(realPath, v.realDir()+string(os.PathSeparator)) {
		return "", fmt.Errorf("symlink traversal blocked: %q resolves to %q outside vault dir", relPath, realPath)
	}

	return absPath, nil
}

// realDir is the mirror root with symlinks resolved, so roots living
// under a symlinked temp directory still compare correctly.
func (v *Vault) realDir() string {
	real, err := filepath.EvalSymlinks(v.dir)
	if err != nil {
		return v.dir
	}

	return real
}

// clampMtime restricts a timestamp to [2000, 2100).
func clampMtime(t time.Time) time.Time {
	if t.Before(mtimeMin) {
		return mtimeMin
	}

	if t.After(mtimeMax) {
		return mtimeMax
	}

	return t
}

// normalizePath converts OS separators to forward slashes, trims slashes
// and applies Unicode NFC so paths from the walker and from generated
// filenames compare equal.
func normalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.Trim(p, "/")

	return norm.NFC.String(p)
}

// writeFileAtomic writes via a temp file in the same directory and
// renames it into place.
func writeFileAtomic(absPath string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(absPath)
	if err := os.MkdirAll(dir, vaultDirPerm); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".keep-sync-*")
	if err != nil {
		return err
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return err
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return err
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, absPath); err != nil {
		os.Remove(tmpName)
		return err
	}

	return nil
}

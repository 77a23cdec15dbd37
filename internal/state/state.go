// Package state is the local cache artifact: a bbolt database holding the
// last remote snapshot, the listing cursor, the cached API token and a
// short history of sync runs. Every piece of it is optional; a missing
// database only makes the next run a full resync.
package state

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/alexjbarnes/keep-sync/internal/notes"
	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory (~/.keep-sync/).
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database
	// lock. A second process on the same database fails after this.
	stateOpenTimeout = 5 * time.Second

	// maxRuns is how many run records are kept.
	maxRuns = 50
)

var (
	appBucket      = []byte("app")
	snapshotBucket = []byte("snapshot")
	notesBucket    = []byte("notes")
	runsBucket     = []byte("runs")

	tokenKey   = []byte("token")
	cursorKey  = []byte("cursor")
	savedAtKey = []byte("saved_at")
)

// Snapshot is the remote note set as of the last successful listing.
type Snapshot struct {
	Cursor  string
	SavedAt time.Time
	Notes   map[string]notes.Record
}

// Run is a finished sync run.
type Run struct {
	ID         string         `json:"id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	DryRun     bool           `json:"dry_run"`
	Counters   map[string]int `json:"counters"`
	Error      string         `json:"error,omitempty"`
	Conflicts  []string       `json:"conflicts,omitempty"`
}

// State wraps a bbolt database for all persistent application state.
type State struct {
	db *bolt.DB
}

// Load opens the state database at ~/.keep-sync/state.db, creating it if
// it does not exist.
func Load() (*State, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}

	return LoadAt(path)
}

// LoadAt opens a state database at the given path, creating it if it
// does not exist. Useful for tests that need an isolated database.
func LoadAt(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{appBucket, snapshotBucket, notesBucket, runsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &State{db: db}, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// Token returns the cached API token, or empty string.
func (s *State) Token() string {
	var token string

	_ = s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(appBucket).Get(tokenKey); v != nil {
			token = string(v)
		}

		return nil
	})

	return token
}

// SetToken persists the API token. An empty token removes it.
func (s *State) SetToken(token string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(appBucket)
		if token == "" {
			return b.Delete(tokenKey)
		}

		return b.Put(tokenKey, []byte(token))
	})
}

// LoadSnapshot returns the cached remote snapshot, or nil when no
// snapshot has been saved.
func (s *State) LoadSnapshot() (*Snapshot, error) {
	var snap *Snapshot

	err := s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(snapshotBucket)

		savedAt := meta.Get(savedAtKey)
		if savedAt == nil {
			return nil
		}

		snap = &Snapshot{
			Cursor: string(meta.Get(cursorKey)),
			Notes:  make(map[string]notes.Record),
		}

		if err := snap.SavedAt.UnmarshalText(savedAt); err != nil {
			return fmt.Errorf("decoding snapshot time: %w", err)
		}

		return tx.Bucket(notesBucket).ForEach(func(k, v []byte) error {
			var rec notes.Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decoding snapshot note %s: %w", k, err)
			}

			snap.Notes[string(k)] = rec

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return snap, nil
}

// SaveSnapshot replaces the cached snapshot in one transaction.
func (s *State) SaveSnapshot(snap *Snapshot) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(notesBucket); err != nil {
			return err
		}

		b, err := tx.CreateBucket(notesBucket)
		if err != nil {
			return err
		}

		for id, rec := range snap.Notes {
			data, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("encoding snapshot note %s: %w", id, err)
			}

			if err := b.Put([]byte(id), data); err != nil {
				return err
			}
		}

		savedAt := snap.SavedAt
		if savedAt.IsZero() {
			savedAt = time.Now().UTC()
		}

		ts, err := savedAt.MarshalText()
		if err != nil {
			return err
		}

		meta := tx.Bucket(snapshotBucket)
		if err := meta.Put(cursorKey, []byte(snap.Cursor)); err != nil {
			return err
		}

		return meta.Put(savedAtKey, ts)
	})
}

// ClearSnapshot discards the cached snapshot so the next run lists the
// full note set.
func (s *State) ClearSnapshot() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(notesBucket); err != nil {
			return err
		}

		if _, err := tx.CreateBucket(notesBucket); err != nil {
			return err
		}

		if err := tx.DeleteBucket(snapshotBucket); err != nil {
			return err
		}

		_, err := tx.CreateBucket(snapshotBucket)

		return err
	})
}

// AddRun appends a run record, trimming the history to the newest
// maxRuns entries.
func (s *State) AddRun(run Run) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(runsBucket)

		seq, err := b.NextSequence()
		if err != nil {
			return err
		}

		data, err := json.Marshal(run)
		if err != nil {
			return fmt.Errorf("encoding run: %w", err)
		}

		if err := b.Put(seqKey(seq), data); err != nil {
			return err
		}

		var keys [][]byte

		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}

		for i := 0; i < len(keys)-maxRuns; i++ {
			if err := b.Delete(keys[i]); err != nil {
				return err
			}
		}

		return nil
	})
}

// Runs returns up to limit run records, newest first.
func (s *State) Runs(limit int) ([]Run, error) {
	var runs []Run

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(runsBucket).Cursor()

		for k, v := c.Last(); k != nil && (limit <= 0 || len(runs) < limit); k, v = c.Prev() {
			var r Run
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("decoding run: %w", err)
			}

			runs = append(runs, r)
		}

		return nil
	})

	return runs, err
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)

	return k
}

// DefaultPath is ~/.keep-sync/state.db.
func DefaultPath() (string, error) {
	dir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}

	return filepath.Join(dir, ".keep-sync", "state.db"), nil
}

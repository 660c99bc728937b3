// Package snapshot implements the rollback snapshot store: an
// in-memory capture of pre-apply file content used to restore a workspace
// when an applyTransaction fails. Snapshots are process-local and are not
// required to survive a crash.
package snapshot

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forgeware/codeforge/internal/model"
)

// FileReader reads base content the way the apply engine does: editor
// buffer first, disk otherwise. It's the same dependency the apply engine
// uses for base capture, passed in here so createSnapshot reads exactly
// what rollback must restore.
type FileReader interface {
	// ReadBase returns content and whether it came from a dirty editor
	// buffer, or existed=false if the file does not exist on disk and has
	// no open buffer.
	ReadBase(uri string) (content string, isDirty bool, existed bool, err error)
}

// Store holds at most one live snapshot per id and enforces a total byte
// ceiling across all files captured in a single createSnapshot call.
type Store struct {
	mu sync.Mutex
	maxBytes int64 // 0 means unlimited
	live map[string]*model.Snapshot
	reader FileReader
}

func NewStore(reader FileReader, maxBytes int64) *Store {
	return &Store{
		reader: reader,
		maxBytes: maxBytes,
		live: make(map[string]*model.Snapshot),
	}
}

func (s *Store) IsEnabled() bool { return s.maxBytes >= 0 }

// CreateSnapshot captures the pre-apply content of every path. If the total
// captured size would exceed the configured ceiling, it returns a Snapshot
// with Skipped=true and does not retain any partial capture — the caller
// (apply engine) then relies on the VCS stash fallback.
func (s *Store) CreateSnapshot(paths []string) (*model.Snapshot, error) {
	snap := &model.Snapshot{
		ID: uuid.NewString(),
		CreatedAt: time.Now(),
	}

	var total int64
	files := make([]model.SnapshotFile, 0, len(paths))
	for _, p := range paths {
		content, dirty, existed, err := s.reader.ReadBase(p)
		if err != nil {
			return nil, err
		}
		if existed {
			total += int64(len(content))
		}
		if s.maxBytes > 0 && total > s.maxBytes {
			snap.Skipped = true
			snap.Files = nil
			return snap, nil
		}
		files = append(files, model.SnapshotFile{
			URI: p,
			ContentBeforeApply: content,
			Existed: existed,
			WasDirty: dirty,
		})
	}

	snap.Files = files

	s.mu.Lock()
	s.live[snap.ID] = snap
	s.mu.Unlock()

	return snap, nil
}

// Get returns a previously created, not-yet-discarded snapshot.
func (s *Store) Get(id string) (*model.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.live[id]
	return snap, ok
}

// Discard drops a snapshot after a successful apply; its content is no
// longer needed.
func (s *Store) Discard(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.live, id)
}

// FileWriter restores pre-apply content to disk (and the editor buffer, if
// one is open) during rollback.
type FileWriter interface {
	RestoreFile(uri, content string, existed, wasDirty bool) error
}

// RestoreSnapshot writes every captured file's pre-apply content back,
// continuing past individual failures so a single bad restore doesn't
// abandon the rest of the rollback; the first error encountered (if any)
// is returned after all files have been attempted.
func (s *Store) RestoreSnapshot(id string, writer FileWriter) error {
	snap, ok := s.Get(id)
	if !ok || snap.Skipped {
		return errSnapshotUnavailable
	}

	var firstErr error
	for _, f := range snap.Files {
		if err := writer.RestoreFile(f.URI, f.ContentBeforeApply, f.Existed, f.WasDirty); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

type snapshotError string

func (e snapshotError) Error() string { return string(e) }

var errSnapshotUnavailable = snapshotError("snapshot: no live, unskipped snapshot for this id")

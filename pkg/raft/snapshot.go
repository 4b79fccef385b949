package raft

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// SnapshotStatus is the lifecycle state of a Snapshot.
type SnapshotStatus int

const (
	SnapshotPending SnapshotStatus = iota
	SnapshotPersisted
	SnapshotComplete
	SnapshotDeleted
)

func (s SnapshotStatus) String() string {
	switch s {
	case SnapshotPending:
		return "pending"
	case SnapshotPersisted:
		return "persisted"
	case SnapshotComplete:
		return "complete"
	case SnapshotDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Snapshot is a content-addressed, chunk-written snapshot identified by
// (SnapshotID, Index). Its bytes live in a staging file until Complete
// renames it, making the transition to the canonical on-disk name atomic.
type Snapshot struct {
	mu sync.Mutex

	SnapshotID string
	Index      uint64
	Status     SnapshotStatus

	dir       string
	stagePath string
	finalPath string
	stage     *os.File
}

func snapshotFinalPath(dir, id string, index uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%020d.snap", id, index))
}

func snapshotStagePath(dir, id string, index uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%020d.snap.tmp", id, index))
}

// parseSnapshotFilename recovers (id, index) from a completed snapshot's
// on-disk name of the form "<id>-<20-digit index>.snap".
func parseSnapshotFilename(name string) (string, uint64, bool) {
	const suffix = ".snap"
	if len(name) < len(suffix)+21 || name[len(name)-len(suffix):] != suffix {
		return "", 0, false
	}
	base := name[:len(name)-len(suffix)]
	sep := len(base) - 20
	if sep < 1 || base[sep-1] != '-' {
		return "", 0, false
	}
	var index uint64
	if _, err := fmt.Sscanf(base[sep:], "%020d", &index); err != nil {
		return "", 0, false
	}
	return base[:sep-1], index, true
}

// SnapshotWriter is a scoped handle for appending bytes to a pending
// snapshot. It holds no file descriptor of its own: Close is a no-op, and
// the staging file stays open on the Snapshot until Complete, Close or
// Delete.
type SnapshotWriter struct {
	snap *Snapshot
}

// Write appends data to the staging file.
func (w *SnapshotWriter) Write(data []byte) (int, error) {
	w.snap.mu.Lock()
	defer w.snap.mu.Unlock()
	return w.snap.stage.Write(data)
}

// Close releases the writer. It does not make the bytes visible; call
// Persist/Complete on the Snapshot for that.
func (w *SnapshotWriter) Close() error {
	return nil
}

// Writer returns a scoped SnapshotWriter. It takes no serializer argument:
// callers write already-serialized bytes, either a full state-machine
// snapshot from the executor or one chunk of a network install.
func (s *Snapshot) Writer() (*SnapshotWriter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Status != SnapshotPending {
		return nil, fmt.Errorf("snapshot %s/%d is not pending (status=%s)", s.SnapshotID, s.Index, s.Status)
	}
	return &SnapshotWriter{snap: s}, nil
}

// Persist fsyncs the staged bytes to disk. The snapshot remains invisible to
// readers until Complete.
func (s *Snapshot) Persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.stage.Sync(); err != nil {
		return fmt.Errorf("sync snapshot stage %s: %w", s.stagePath, err)
	}
	s.Status = SnapshotPersisted
	return nil
}

// Complete atomically renames the staged file to its canonical name,
// marking it as the current snapshot for its SnapshotID.
func (s *Snapshot) Complete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.stage.Close(); err != nil {
		return err
	}
	if err := os.Rename(s.stagePath, s.finalPath); err != nil {
		return fmt.Errorf("complete snapshot %s: %w", s.finalPath, err)
	}
	s.Status = SnapshotComplete
	return nil
}

// Close releases resources without completing the snapshot.
func (s *Snapshot) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage != nil {
		return s.stage.Close()
	}
	return nil
}

// Delete closes and removes the snapshot's files, marking it deleted.
func (s *Snapshot) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage != nil {
		s.stage.Close()
	}
	os.Remove(s.stagePath)
	os.Remove(s.finalPath)
	s.Status = SnapshotDeleted
	return nil
}

// Open returns a reader over the completed snapshot's bytes.
func (s *Snapshot) Open() (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Status != SnapshotComplete {
		return nil, fmt.Errorf("snapshot %s/%d is not complete", s.SnapshotID, s.Index)
	}
	return os.Open(s.finalPath)
}

// SnapshotStore manages the complete snapshot visible per SnapshotID. It
// creates pending snapshots but does not track them; in-flight installs are
// tracked by PendingSnapshotTable.
type SnapshotStore struct {
	mu       sync.Mutex
	dir      string
	complete map[string]*Snapshot // SnapshotID -> latest complete snapshot
}

// OpenSnapshotStore opens (or creates) the snapshot directory and indexes
// any already-complete snapshot files found there.
func OpenSnapshotStore(dir string) (*SnapshotStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir %s: %w", dir, err)
	}
	store := &SnapshotStore{dir: dir, complete: make(map[string]*Snapshot)}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		id, index, ok := parseSnapshotFilename(e.Name())
		if !ok {
			continue
		}
		existing, has := store.complete[id]
		if has && existing.Index >= index {
			continue
		}
		store.complete[id] = &Snapshot{
			SnapshotID: id,
			Index:      index,
			Status:     SnapshotComplete,
			dir:        dir,
			finalPath:  filepath.Join(dir, e.Name()),
		}
	}
	return store, nil
}

// CreateSnapshot begins a new pending snapshot for (id, index), staging its
// bytes in a temp file so Complete can atomically rename it into place.
func (st *SnapshotStore) CreateSnapshot(id string, index uint64) (*Snapshot, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	stagePath := snapshotStagePath(st.dir, id, index)
	f, err := os.OpenFile(stagePath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create snapshot stage %s: %w", stagePath, err)
	}

	s := &Snapshot{
		SnapshotID: id,
		Index:      index,
		Status:     SnapshotPending,
		dir:        st.dir,
		stagePath:  stagePath,
		finalPath:  snapshotFinalPath(st.dir, id, index),
		stage:      f,
	}
	return s, nil
}

// Complete registers snap as the canonical complete snapshot for its id,
// superseding (and marking deletable) any prior complete snapshot at a
// lower index.
func (st *SnapshotStore) Complete(snap *Snapshot) {
	st.mu.Lock()
	defer st.mu.Unlock()

	prior, ok := st.complete[snap.SnapshotID]
	st.complete[snap.SnapshotID] = snap
	if ok && prior.Index < snap.Index {
		go prior.Delete()
	}
}

// GetSnapshot returns the current complete snapshot for id, if any.
func (st *SnapshotStore) GetSnapshot(id string) (*Snapshot, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.complete[id]
	return s, ok
}

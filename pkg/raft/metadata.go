package raft

import (
	"encoding/binary"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var metaBucket = []byte("meta")

const (
	metaKeyCurrentTerm = "currentTerm"
	metaKeyVotedFor    = "votedFor"
)

// MetadataStore durably persists currentTerm and votedFor, the two fields
// that must survive a crash for Raft's election safety to hold. It is
// backed by a single-file bbolt database so the write-to-temp+rename
// durability the rest of the core does by hand is instead a transactional
// guarantee from the store itself.
type MetadataStore struct {
	db *bolt.DB
}

// OpenMetadataStore opens (or creates) the metadata database under dir.
func OpenMetadataStore(dir string) (*MetadataStore, error) {
	path := filepath.Join(dir, "meta.db")
	db, err := bolt.Open(path, 0o644, nil)
	if err != nil {
		return nil, fmt.Errorf("open metadata store %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(metaBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &MetadataStore{db: db}, nil
}

// Close closes the underlying database file.
func (m *MetadataStore) Close() error {
	return m.db.Close()
}

// Load reads the persisted (currentTerm, votedFor) pair. An empty votedFor
// means no vote has been recorded for the persisted term.
func (m *MetadataStore) Load() (currentTerm uint64, votedFor NodeID, err error) {
	err = m.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(metaBucket)
		if v := b.Get([]byte(metaKeyCurrentTerm)); v != nil {
			currentTerm = binary.BigEndian.Uint64(v)
		}
		if v := b.Get([]byte(metaKeyVotedFor)); v != nil {
			votedFor = NodeID(v)
		}
		return nil
	})
	return currentTerm, votedFor, err
}

// Save atomically persists both fields in a single transaction.
func (m *MetadataStore) Save(currentTerm uint64, votedFor NodeID) error {
	return m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(metaBucket)
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], currentTerm)
		if err := b.Put([]byte(metaKeyCurrentTerm), buf[:]); err != nil {
			return err
		}
		return b.Put([]byte(metaKeyVotedFor), []byte(votedFor))
	})
}

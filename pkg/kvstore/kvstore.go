// Package kvstore provides a minimal deterministic key/value StateMachine
// used to exercise the replication core end to end.
package kvstore

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/quorumkv/raft/pkg/raft"
)

var errNoKeyProvided = errors.New("no key provided for Get")

// CmdKind discriminates a KVStore command's operation.
type CmdKind int

const (
	// CmdSet sets a key/value pair.
	CmdSet CmdKind = iota
	// CmdDelete deletes a key/value pair.
	CmdDelete
)

// Cmd is the gob-encoded payload carried by a raft.Entry with kind
// EntryCommand against this state machine.
type Cmd struct {
	Kind  CmdKind
	Key   string
	Value string
}

// EncodeCmd gob-encodes cmd for use as an Entry payload.
func EncodeCmd(cmd Cmd) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(cmd); err != nil {
		return nil, fmt.Errorf("encode kvstore cmd: %w", err)
	}
	return buf.Bytes(), nil
}

// KVStore is a concurrency-safe, deterministic key/value StateMachine
// implementing raft.StateMachine.
type KVStore struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewKVStore creates an empty store.
func NewKVStore() *KVStore {
	return &KVStore{data: make(map[string]string)}
}

// Apply implements raft.StateMachine. It is the only path that mutates
// state, and it is a pure function of the decoded command.
func (store *KVStore) Apply(entry raft.Entry) (interface{}, error) {
	var cmd Cmd
	if err := gob.NewDecoder(bytes.NewReader(entry.Payload)).Decode(&cmd); err != nil {
		return nil, fmt.Errorf("decode kvstore cmd: %w", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	switch cmd.Kind {
	case CmdSet:
		store.data[cmd.Key] = cmd.Value
		return cmd.Value, nil
	case CmdDelete:
		delete(store.data, cmd.Key)
		return nil, nil
	default:
		return nil, fmt.Errorf("unexpected kvstore cmd kind %d", cmd.Kind)
	}
}

// Query implements raft.StateMachine's read path: bytes is a raw key, and
// the result is its current value.
func (store *KVStore) Query(key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, errNoKeyProvided
	}

	store.mu.RLock()
	defer store.mu.RUnlock()

	if v, ok := store.data[string(key)]; ok {
		return []byte(v), nil
	}
	return nil, fmt.Errorf("key %q does not exist", key)
}

// Serialize implements raft.StateMachine's snapshot path.
func (store *KVStore) Serialize(w io.Writer) error {
	store.mu.RLock()
	defer store.mu.RUnlock()
	return json.NewEncoder(w).Encode(store.data)
}

// Deserialize implements raft.StateMachine's snapshot-restore path.
func (store *KVStore) Deserialize(r io.Reader) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	return json.NewDecoder(r).Decode(&store.data)
}

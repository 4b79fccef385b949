package kvstore

import (
	"bytes"
	"testing"

	"github.com/quorumkv/raft/pkg/raft"
	"github.com/stretchr/testify/require"
)

func applySet(t *testing.T, store *KVStore, key, value string) {
	t.Helper()
	payload, err := EncodeCmd(Cmd{Kind: CmdSet, Key: key, Value: value})
	require.NoError(t, err)
	_, err = store.Apply(raft.Entry{Term: 1, Kind: raft.EntryCommand, Payload: payload})
	require.NoError(t, err)
}

func TestKVStoreApplySetThenQuery(t *testing.T) {
	store := NewKVStore()
	applySet(t, store, "a", "1")

	val, err := store.Query([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, "1", string(val))
}

func TestKVStoreApplyDeleteRemovesKey(t *testing.T) {
	store := NewKVStore()
	applySet(t, store, "a", "1")

	payload, err := EncodeCmd(Cmd{Kind: CmdDelete, Key: "a"})
	require.NoError(t, err)
	_, err = store.Apply(raft.Entry{Term: 1, Kind: raft.EntryCommand, Payload: payload})
	require.NoError(t, err)

	_, err = store.Query([]byte("a"))
	require.Error(t, err)
}

func TestKVStoreQueryMissingKeyErrors(t *testing.T) {
	store := NewKVStore()
	_, err := store.Query([]byte("missing"))
	require.Error(t, err)
}

func TestKVStoreQueryEmptyKeyErrors(t *testing.T) {
	store := NewKVStore()
	_, err := store.Query(nil)
	require.ErrorIs(t, err, errNoKeyProvided)
}

func TestKVStoreSnapshotRoundTrip(t *testing.T) {
	store := NewKVStore()
	applySet(t, store, "a", "1")
	applySet(t, store, "b", "2")

	var buf bytes.Buffer
	require.NoError(t, store.Serialize(&buf))

	restored := NewKVStore()
	require.NoError(t, restored.Deserialize(&buf))

	val, err := restored.Query([]byte("b"))
	require.NoError(t, err)
	require.Equal(t, "2", string(val))
}

func TestKVStoreApplyRejectsMalformedPayload(t *testing.T) {
	store := NewKVStore()
	_, err := store.Apply(raft.Entry{Term: 1, Kind: raft.EntryCommand, Payload: []byte("not-gob")})
	require.Error(t, err)
}

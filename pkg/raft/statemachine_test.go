package raft

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingStateMachine struct {
	applied []Entry
	state   []byte
	failing bool
}

func (sm *recordingStateMachine) Apply(e Entry) (interface{}, error) {
	if sm.failing {
		return nil, errors.New("boom")
	}
	sm.applied = append(sm.applied, e)
	return len(sm.applied), nil
}

func (sm *recordingStateMachine) Query(key []byte) ([]byte, error) {
	return sm.state, nil
}

func (sm *recordingStateMachine) Serialize(w io.Writer) error {
	_, err := w.Write(sm.state)
	return err
}

func (sm *recordingStateMachine) Deserialize(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	sm.state = data
	return nil
}

func TestExecutorAppliesInOrderAndTracksLastApplied(t *testing.T) {
	sm := &recordingStateMachine{}
	exec := NewExecutor(sm, 0)

	exec.Apply(IndexedEntry{Index: 1, Term: 1, Entry: Entry{Term: 1, Kind: EntryCommand}})
	exec.Apply(IndexedEntry{Index: 2, Term: 1, Entry: Entry{Term: 1, Kind: EntryCommand}})

	require.EqualValues(t, 2, exec.LastApplied())
	require.Len(t, sm.applied, 2)
}

func TestExecutorNoOpAndConfigurationSkipStateMachine(t *testing.T) {
	sm := &recordingStateMachine{}
	exec := NewExecutor(sm, 0)

	exec.Apply(IndexedEntry{Index: 1, Term: 1, Entry: Entry{Term: 1, Kind: EntryNoOp}})
	exec.Apply(IndexedEntry{Index: 2, Term: 1, Entry: Entry{Term: 1, Kind: EntryConfiguration}})

	require.EqualValues(t, 2, exec.LastApplied())
	require.Empty(t, sm.applied)
}

func TestExecutorAwaitResolvesOnApply(t *testing.T) {
	sm := &recordingStateMachine{}
	exec := NewExecutor(sm, 0)

	f := exec.Await(1)
	go exec.Apply(IndexedEntry{Index: 1, Term: 1, Entry: Entry{Term: 1, Kind: EntryCommand}})

	result := f.Wait()
	require.EqualValues(t, 1, result.Index)
	require.Nil(t, result.Err)
}

func TestExecutorAwaitPastIndexResolvesImmediately(t *testing.T) {
	sm := &recordingStateMachine{}
	exec := NewExecutor(sm, 5)

	f := exec.Await(3)
	result := f.Wait()
	require.EqualValues(t, 3, result.Index)
}

func TestExecutorApplyFailurePropagatesAsApplicationError(t *testing.T) {
	sm := &recordingStateMachine{failing: true}
	exec := NewExecutor(sm, 0)

	result := exec.Apply(IndexedEntry{Index: 1, Term: 1, Entry: Entry{Term: 1, Kind: EntryCommand}})
	require.NotNil(t, result.Err)
	require.Equal(t, ErrApplicationError, result.Err.Kind)
}

func TestExecutorApplyAllPanicsOnMissingEntry(t *testing.T) {
	sm := &recordingStateMachine{}
	exec := NewExecutor(sm, 0)
	log := &fakeLogReader{entries: map[uint64]IndexedEntry{
		1: {Index: 1, Term: 1, Entry: Entry{Term: 1, Kind: EntryCommand}},
	}}

	require.Panics(t, func() { exec.ApplyAll(log, 2) })
}

func TestExecutorSnapshotRoundTrip(t *testing.T) {
	sm := &recordingStateMachine{state: []byte("committed-state")}
	exec := NewExecutor(sm, 10)

	var buf bytes.Buffer
	require.NoError(t, exec.TakeSnapshot(&buf))

	restored := &recordingStateMachine{}
	restoredExec := NewExecutor(restored, 0)
	require.NoError(t, restoredExec.RestoreSnapshot(&buf, 10))

	require.Equal(t, "committed-state", string(restored.state))
	require.EqualValues(t, 10, restoredExec.LastApplied())
}

type fakeLogReader struct {
	entries map[uint64]IndexedEntry
}

func (f *fakeLogReader) Get(index uint64) (IndexedEntry, bool) {
	ie, ok := f.entries[index]
	return ie, ok
}

func (f *fakeLogReader) LastIndex() uint64 {
	var max uint64
	for idx := range f.entries {
		if idx > max {
			max = idx
		}
	}
	return max
}

func (f *fakeLogReader) FirstIndex() uint64 { return 1 }

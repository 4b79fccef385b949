package raft

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := OpenLog(t.TempDir(), 4, 1<<20)
	require.NoError(t, err)
	return l
}

func TestLogAppendAssignsSequentialIndex(t *testing.T) {
	l := openTestLog(t)
	l.Lock()
	defer l.Unlock()

	first, err := l.Append(Entry{Term: 1, Kind: EntryCommand})
	require.NoError(t, err)
	require.EqualValues(t, 1, first.Index)

	second, err := l.Append(Entry{Term: 1, Kind: EntryCommand})
	require.NoError(t, err)
	require.EqualValues(t, 2, second.Index)
	require.EqualValues(t, 2, l.LastIndex())
}

func TestLogAppendAtIsIdempotentOnMatchingTerm(t *testing.T) {
	l := openTestLog(t)
	l.Lock()
	defer l.Unlock()

	ie, err := l.Append(Entry{Term: 1, Kind: EntryCommand})
	require.NoError(t, err)

	// Re-appending the same (index, term) must be a no-op, not an error.
	require.NoError(t, l.AppendAt(ie))
	require.EqualValues(t, 1, l.LastIndex())
}

func TestLogAppendAtTruncatesConflictingTail(t *testing.T) {
	l := openTestLog(t)
	l.Lock()
	defer l.Unlock()

	_, err := l.Append(Entry{Term: 1, Kind: EntryCommand})
	require.NoError(t, err)
	_, err = l.Append(Entry{Term: 1, Kind: EntryCommand})
	require.NoError(t, err)

	// A leader of term 2 asserts a different entry at index 2.
	conflicting := IndexedEntry{Index: 2, Term: 2, Entry: Entry{Term: 2, Kind: EntryCommand}}
	require.NoError(t, l.AppendAt(conflicting))

	got, ok := l.Get(2)
	require.True(t, ok)
	require.EqualValues(t, 2, got.Term)
	require.EqualValues(t, 2, l.LastIndex())
}

func TestLogAppendAtRejectsGap(t *testing.T) {
	l := openTestLog(t)
	l.Lock()
	defer l.Unlock()

	err := l.AppendAt(IndexedEntry{Index: 5, Term: 1, Entry: Entry{Term: 1}})
	require.Error(t, err)
}

func TestLogTruncateEmptiesFromIndex(t *testing.T) {
	l := openTestLog(t)
	l.Lock()
	for i := 0; i < 3; i++ {
		_, err := l.Append(Entry{Term: 1, Kind: EntryCommand})
		require.NoError(t, err)
	}
	l.Unlock()

	require.NoError(t, l.Truncate(1))
	require.EqualValues(t, 1, l.LastIndex())
	_, ok := l.Get(2)
	require.False(t, ok)
}

func TestLogReopenReplaysSegments(t *testing.T) {
	dir := t.TempDir()
	l, err := OpenLog(dir, 2, 1<<20)
	require.NoError(t, err)

	l.Lock()
	for i := 0; i < 5; i++ {
		_, err := l.Append(Entry{Term: 1, Kind: EntryCommand, Payload: []byte("x")})
		require.NoError(t, err)
	}
	l.Unlock()

	reopened, err := OpenLog(dir, 2, 1<<20)
	require.NoError(t, err)
	require.EqualValues(t, 5, reopened.LastIndex())
	entry, ok := reopened.Get(3)
	require.True(t, ok)
	require.Equal(t, []byte("x"), entry.Entry.Payload)
}

func TestLogCompactPrefixDropsCoveredEntries(t *testing.T) {
	l := openTestLog(t)
	l.Lock()
	for i := 0; i < 6; i++ {
		_, err := l.Append(Entry{Term: 1, Kind: EntryCommand})
		require.NoError(t, err)
	}
	l.Unlock()

	require.NoError(t, l.CompactPrefix(4))
	require.EqualValues(t, 5, l.FirstIndex())
	require.EqualValues(t, 6, l.LastIndex())
	_, ok := l.Get(4)
	require.False(t, ok)
	kept, ok := l.Get(5)
	require.True(t, ok)
	require.EqualValues(t, 5, kept.Index)
}

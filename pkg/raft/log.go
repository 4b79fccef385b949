package raft

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// LogWriter is the exclusive-access side of the Log Store: append and
// truncate. Callers must Lock/Unlock around a sequence of writes that must
// be observed atomically by readers.
type LogWriter interface {
	Lock()
	Unlock()
	Append(entry Entry) (IndexedEntry, error)
	AppendAt(ie IndexedEntry) error
	Truncate(index uint64) error
	LastIndex() uint64
}

// LogReader is the shared-access side of the Log Store.
type LogReader interface {
	Get(index uint64) (IndexedEntry, bool)
	LastIndex() uint64
	FirstIndex() uint64
}

// Log is a segmented, append-only, indexed entry log. It keeps a flattened
// in-memory mirror of every entry for O(1) Get/LastIndex, backed by segment
// files under dir for durability.
type Log struct {
	mu  sync.RWMutex
	wmu sync.Mutex

	dir        string
	maxEntries int
	maxBytes   int64

	entries    []IndexedEntry // entries[i] has Index == firstIndex+i
	firstIndex uint64

	segments []*segment
	active   *segment
}

// OpenLog opens (or creates) the segmented log under dir, replaying every
// segment file in order to rebuild the in-memory entry mirror.
func OpenLog(dir string, maxEntries int, maxBytes int64) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir %s: %w", dir, err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "*.log"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)

	l := &Log{dir: dir, maxEntries: maxEntries, maxBytes: maxBytes, firstIndex: 1}

	for _, path := range matches {
		seg, entries, err := openSegment(path)
		if err != nil {
			return nil, err
		}
		l.segments = append(l.segments, seg)
		l.entries = append(l.entries, entries...)
	}

	if len(l.segments) == 0 {
		seg, err := createSegment(dir, 1, maxEntries, maxBytes)
		if err != nil {
			return nil, err
		}
		l.segments = append(l.segments, seg)
	}
	l.active = l.segments[len(l.segments)-1]

	if len(l.entries) > 0 {
		l.firstIndex = l.entries[0].Index
	}
	return l, nil
}

// Lock/Unlock expose the single-writer lock required by the Log Store
// contract; readers (Get, LastIndex, FirstIndex) use the RWMutex directly
// and never block on this lock being held across a whole request.
func (l *Log) Lock()   { l.wmu.Lock() }
func (l *Log) Unlock() { l.wmu.Unlock() }

// LastIndex returns the highest index in the log, or firstIndex-1 (commonly
// 0) if the log is empty.
func (l *Log) LastIndex() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastIndexLocked()
}

func (l *Log) lastIndexLocked() uint64 {
	if len(l.entries) == 0 {
		if l.firstIndex == 0 {
			return 0
		}
		return l.firstIndex - 1
	}
	return l.entries[len(l.entries)-1].Index
}

// FirstIndex returns the lowest index retained in the log.
func (l *Log) FirstIndex() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.firstIndex
}

// Get returns the entry at index, if present.
func (l *Log) Get(index uint64) (IndexedEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.getLocked(index)
}

func (l *Log) getLocked(index uint64) (IndexedEntry, bool) {
	if len(l.entries) == 0 || index < l.firstIndex {
		return IndexedEntry{}, false
	}
	pos := int(index - l.firstIndex)
	if pos >= len(l.entries) {
		return IndexedEntry{}, false
	}
	return l.entries[pos], true
}

// Append assigns the next index to entry and appends it. The caller must
// hold the writer lock.
func (l *Log) Append(entry Entry) (IndexedEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ie := IndexedEntry{
		Index: l.lastIndexLocked() + 1,
		Term:  entry.Term,
		Entry: entry,
		Size:  len(entry.Payload),
	}
	if err := l.appendLocked(ie); err != nil {
		return IndexedEntry{}, err
	}
	return ie, nil
}

// AppendAt appends an entry at its own Index, honoring the Log Matching
// truncation rule: if an entry already exists at this index with a
// different term, the tail is truncated first; if it exists with the same
// term, this is a durable no-op.
func (l *Log) AppendAt(ie IndexedEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if existing, ok := l.getLocked(ie.Index); ok {
		if existing.Term == ie.Term {
			return nil
		}
		if err := l.truncateLocked(ie.Index - 1); err != nil {
			return err
		}
	} else if ie.Index != l.lastIndexLocked()+1 {
		return fmt.Errorf("append gap: log at %d, entry at %d", l.lastIndexLocked(), ie.Index)
	}
	return l.appendLocked(ie)
}

func (l *Log) appendLocked(ie IndexedEntry) error {
	if l.active.full() {
		if err := l.rollLocked(); err != nil {
			return err
		}
	}
	if err := l.active.appendEntry(ie); err != nil {
		return err
	}
	l.entries = append(l.entries, ie)
	if l.firstIndex == 0 {
		l.firstIndex = ie.Index
	}
	return nil
}

func (l *Log) rollLocked() error {
	next := l.lastIndexLocked() + 1
	seg, err := createSegment(l.dir, next, l.maxEntries, l.maxBytes)
	if err != nil {
		return err
	}
	l.segments = append(l.segments, seg)
	l.active = seg
	return nil
}

// Truncate discards every entry with index > index. truncate(0) empties the
// log entirely.
func (l *Log) Truncate(index uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.truncateLocked(index)
}

// CompactPrefix discards every entry with index <= upTo, on the understanding
// that a snapshot covering those entries has already been durably taken.
// Every existing segment file is removed and the surviving entries (if any)
// are rewritten into one new segment starting at upTo+1.
func (l *Log) CompactPrefix(upTo uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if upTo < l.firstIndex {
		return nil
	}
	last := l.lastIndexLocked()
	if upTo >= last {
		upTo = last
	}

	var keep []IndexedEntry
	if upTo < last {
		keep = append([]IndexedEntry{}, l.entries[upTo-l.firstIndex+1:]...)
	}

	for _, seg := range l.segments {
		seg.close()
		os.Remove(seg.path)
	}

	next := upTo + 1
	seg, err := createSegment(l.dir, next, l.maxEntries, l.maxBytes)
	if err != nil {
		return fmt.Errorf("compact: recreate active segment: %w", err)
	}
	for _, ie := range keep {
		if err := seg.appendEntry(ie); err != nil {
			return fmt.Errorf("compact: rewrite retained entry %d: %w", ie.Index, err)
		}
	}

	l.segments = []*segment{seg}
	l.active = seg
	l.entries = keep
	l.firstIndex = next
	return nil
}

func (l *Log) truncateLocked(index uint64) error {
	if index >= l.lastIndexLocked() {
		return nil
	}

	var keep []IndexedEntry
	if index >= l.firstIndex {
		keep = append([]IndexedEntry{}, l.entries[:index-l.firstIndex+1]...)
	}

	for _, seg := range l.segments[1:] {
		seg.close()
		os.Remove(seg.path)
	}
	l.segments = l.segments[:1]
	l.active = l.segments[0]

	if err := l.active.truncateToCount(len(keep), keep); err != nil {
		return err
	}
	l.entries = keep
	if len(keep) == 0 {
		l.firstIndex = index + 1
	}
	return nil
}

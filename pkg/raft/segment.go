package raft

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// segmentHeader is written once at the start of every segment file.
type segmentHeader struct {
	FirstIndex uint64
	MaxEntries int
	MaxBytes   int64
}

// segment is one append-only file backing a contiguous range of the log.
// Entries are length-prefixed gob records following a fixed header.
type segment struct {
	path       string
	firstIndex uint64
	maxEntries int
	maxBytes   int64
	size       int64
	count      int
	file       *os.File
}

func segmentPath(dir string, firstIndex uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%020d.log", firstIndex))
}

// createSegment creates a new segment file starting at firstIndex and writes
// its header.
func createSegment(dir string, firstIndex uint64, maxEntries int, maxBytes int64) (*segment, error) {
	path := segmentPath(dir, firstIndex)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create segment %s: %w", path, err)
	}
	hdr := segmentHeader{FirstIndex: firstIndex, MaxEntries: maxEntries, MaxBytes: maxBytes}
	enc := gob.NewEncoder(f)
	if err := enc.Encode(hdr); err != nil {
		f.Close()
		return nil, fmt.Errorf("write segment header %s: %w", path, err)
	}
	off, err := f.Seek(0, os.SEEK_CUR)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &segment{
		path:       path,
		firstIndex: firstIndex,
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		size:       off,
		file:       f,
	}, nil
}

// openSegment reopens an existing segment file and replays it, returning the
// segment plus the entries it contains in index order.
func openSegment(path string) (*segment, []IndexedEntry, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open segment %s: %w", path, err)
	}

	r := bufio.NewReader(f)
	var hdr segmentHeader
	if err := gob.NewDecoder(r).Decode(&hdr); err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("read segment header %s: %w", path, err)
	}

	s := &segment{
		path:       path,
		firstIndex: hdr.FirstIndex,
		maxEntries: hdr.MaxEntries,
		maxBytes:   hdr.MaxBytes,
		file:       f,
	}

	var entries []IndexedEntry
	for {
		var length uint32
		if err := binary.Read(r, binary.BigEndian, &length); err != nil {
			break
		}
		buf := make([]byte, length)
		if _, err := io.ReadFull(r, buf); err != nil {
			break
		}
		var ie IndexedEntry
		if err := gobDecode(buf, &ie); err != nil {
			break
		}
		entries = append(entries, ie)
		s.count++
		s.size += int64(4 + len(buf))
	}

	off, err := f.Seek(0, os.SEEK_END)
	if err == nil {
		s.size = off
	}
	return s, entries, nil
}

// appendEntry writes a single length-prefixed record and fsyncs it before
// returning, so lastIndex() is never ahead of durable state.
func (s *segment) appendEntry(ie IndexedEntry) error {
	buf, err := gobEncode(ie)
	if err != nil {
		return fmt.Errorf("encode entry %d: %w", ie.Index, err)
	}

	if _, err := s.file.Seek(0, os.SEEK_END); err != nil {
		return err
	}
	if err := binary.Write(s.file, binary.BigEndian, uint32(len(buf))); err != nil {
		return err
	}
	if _, err := s.file.Write(buf); err != nil {
		return err
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("sync segment %s: %w", s.path, err)
	}

	s.size += int64(4 + len(buf))
	s.count++
	return nil
}

// truncateToCount rewrites the segment to keep only its first n entries.
// Used when a truncate() lands in the middle of this segment.
func (s *segment) truncateToCount(n int, entries []IndexedEntry) error {
	if err := s.file.Truncate(0); err != nil {
		return err
	}
	if _, err := s.file.Seek(0, os.SEEK_SET); err != nil {
		return err
	}
	hdr := segmentHeader{FirstIndex: s.firstIndex, MaxEntries: s.maxEntries, MaxBytes: s.maxBytes}
	if err := gob.NewEncoder(s.file).Encode(hdr); err != nil {
		return err
	}
	s.count = 0
	s.size, _ = s.file.Seek(0, os.SEEK_CUR)
	for _, ie := range entries[:n] {
		if err := s.appendEntry(ie); err != nil {
			return err
		}
	}
	return s.file.Sync()
}

func (s *segment) full() bool {
	return (s.maxEntries > 0 && s.count >= s.maxEntries) ||
		(s.maxBytes > 0 && s.size >= s.maxBytes)
}

func (s *segment) close() error {
	return s.file.Close()
}

func gobEncode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gobDecode(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

package sharedlog

import (
	"bytes"
	"fmt"
	"os"

	"github.com/tidwall/wal"
)

// WALOptions configures a WALStore.
type WALOptions struct {
	Dir string
	// Truncate discards any existing segments on open.
	Truncate bool
	// Fsync syncs every append to disk; otherwise writes are flushed to
	// the OS only.
	Fsync bool
	// RemoveOnClose deletes the segment directory when closed.
	RemoveOnClose bool
}

// WALStore keeps the stream as a segmented write-ahead log with one
// entry per append.  ReadAll concatenates entries in index order.
type WALStore struct {
	opts WALOptions
	log  *wal.Log
	next uint64
	size int64
}

// OpenWAL opens (or creates) the segment directory opts.Dir.
func OpenWAL(opts WALOptions) (*WALStore, error) {
	if opts.Truncate {
		if err := os.RemoveAll(opts.Dir); err != nil {
			return nil, fmt.Errorf("truncate %s: %w", opts.Dir, err)
		}
	}

	s := &WALStore{opts: opts, next: 1}
	log, err := wal.Open(opts.Dir, s.walOptions())
	if err != nil {
		return nil, fmt.Errorf("wal.Open: %w", err)
	}
	s.log = log
	if err := s.replay(); err != nil {
		log.Close()
		return nil, err
	}
	return s, nil
}

func (s *WALStore) replay() error {
	empty, err := s.log.IsEmpty()
	if err != nil {
		return fmt.Errorf("wal.IsEmpty: %w", err)
	}
	if empty {
		return nil
	}

	err = s.each(func(_ uint64, data []byte) {
		s.size += int64(len(data))
	})
	if err != nil {
		return err
	}
	last, err := s.log.LastIndex()
	if err != nil {
		return fmt.Errorf("wal.LastIndex: %w", err)
	}
	s.next = last + 1
	return nil
}

func (s *WALStore) each(fn func(idx uint64, data []byte)) error {
	first, err := s.log.FirstIndex()
	if err != nil {
		return fmt.Errorf("wal.FirstIndex: %w", err)
	}
	last, err := s.log.LastIndex()
	if err != nil {
		return fmt.Errorf("wal.LastIndex: %w", err)
	}
	if first == 0 {
		return nil
	}
	for idx := first; idx <= last; idx++ {
		data, err := s.log.Read(idx)
		if err != nil {
			return fmt.Errorf("wal.Read(%d): %w", idx, err)
		}
		fn(idx, data)
	}
	return nil
}

func (s *WALStore) Append(p []byte) error {
	if err := s.log.Write(s.next, p); err != nil {
		return fmt.Errorf("wal.Write(%d): %w", s.next, err)
	}
	s.next++
	s.size += int64(len(p))
	return nil
}

func (s *WALStore) ReadAll() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(int(s.size))
	err := s.each(func(_ uint64, data []byte) {
		buf.Write(data)
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Truncate drops trailing entries until the stream is size bytes long.
// size must fall on an entry boundary.  Cutting back to nothing
// recreates the segment directory, as the log cannot drop its first
// entry from the back.
func (s *WALStore) Truncate(size int64) error {
	if size == s.size {
		return nil
	}
	if size < 0 || size > s.size {
		return fmt.Errorf("truncate to %d: out of range 0-%d", size, s.size)
	}
	if size == 0 {
		return s.reset()
	}

	var (
		total int64
		keep  uint64
		found bool
	)
	err := s.each(func(idx uint64, data []byte) {
		if found {
			return
		}
		if total+int64(len(data)) > size {
			keep, found = idx-1, true
			return
		}
		total += int64(len(data))
	})
	if err != nil {
		return err
	}
	if !found || total != size || keep == 0 {
		return fmt.Errorf("truncate to %d: not an entry boundary", size)
	}
	if err := s.log.TruncateBack(keep); err != nil {
		return fmt.Errorf("wal.TruncateBack(%d): %w", keep, err)
	}
	s.next = keep + 1
	s.size = size
	return nil
}

func (s *WALStore) reset() error {
	if err := s.log.Close(); err != nil {
		return fmt.Errorf("wal.Close: %w", err)
	}
	if err := os.RemoveAll(s.opts.Dir); err != nil {
		return fmt.Errorf("truncate %s: %w", s.opts.Dir, err)
	}
	log, err := wal.Open(s.opts.Dir, s.walOptions())
	if err != nil {
		return fmt.Errorf("wal.Open: %w", err)
	}
	s.log, s.next, s.size = log, 1, 0
	return nil
}

func (s *WALStore) walOptions() *wal.Options {
	o := *wal.DefaultOptions
	o.NoSync = !s.opts.Fsync
	return &o
}

func (s *WALStore) Size() (int64, error) { return s.size, nil }

func (s *WALStore) Location() string { return s.opts.Dir }

func (s *WALStore) Close() error {
	if err := s.log.Close(); err != nil {
		return fmt.Errorf("wal.Close: %w", err)
	}
	if s.opts.RemoveOnClose {
		if err := os.RemoveAll(s.opts.Dir); err != nil {
			return fmt.Errorf("remove %s: %w", s.opts.Dir, err)
		}
	}
	return nil
}

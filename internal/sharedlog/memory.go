package sharedlog

import (
	"bytes"
	"fmt"

	errs "logsock/internal/errors"
)

// MemoryStore keeps the stream in process memory.  Content does not
// survive a restart.
type MemoryStore struct {
	buf    bytes.Buffer
	closed bool
}

// NewMemoryStore returns an empty in-memory store, optionally seeded
// with initial content.
func NewMemoryStore(initial []byte) *MemoryStore {
	s := &MemoryStore{}
	s.buf.Write(initial)
	return s
}

func (s *MemoryStore) Append(p []byte) error {
	if s.closed {
		return errs.ErrLogClosed
	}
	s.buf.Write(p)
	return nil
}

func (s *MemoryStore) ReadAll() ([]byte, error) {
	if s.closed {
		return nil, errs.ErrLogClosed
	}
	return bytes.Clone(s.buf.Bytes()), nil
}

func (s *MemoryStore) Truncate(size int64) error {
	if size < 0 || size > int64(s.buf.Len()) {
		return fmt.Errorf("truncate to %d: out of range 0-%d", size, s.buf.Len())
	}
	s.buf.Truncate(int(size))
	return nil
}

func (s *MemoryStore) Size() (int64, error) { return int64(s.buf.Len()), nil }

func (s *MemoryStore) Location() string { return "" }

func (s *MemoryStore) Close() error {
	s.closed = true
	return nil
}

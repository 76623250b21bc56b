// Package sharedlog implements the single append-only byte stream that
// every session and the timestamp task write to and read from.
//
// A Log owns one exclusive lock.  Append and ReadAll each hold it for
// their whole duration, so a read never observes a partial append and
// two appends never interleave.  The backing Store is therefore only
// ever called from one goroutine at a time.  A failed append is cut
// back off the store before the lock is released.
package sharedlog

import (
	"fmt"
	"sync"

	errs "logsock/internal/errors"
	"logsock/internal/metrics"
)

// Store is an unsynchronised backing store for a Log.
type Store interface {
	// Append writes p at the end of the stream and flushes it before
	// returning.
	Append(p []byte) error
	// ReadAll returns the whole stream from the beginning.
	ReadAll() ([]byte, error)
	// Size returns the current stream length in bytes.
	Size() (int64, error)
	// Truncate cuts the stream back to size bytes.  Used to discard
	// whatever a failed Append left behind.
	Truncate(size int64) error
	// Location names the store in error messages ("" if none).
	Location() string
	// Close releases the store.
	Close() error
}

// Log is the mutual-exclusion-guarded shared log.
type Log struct {
	mu      sync.Mutex
	store   Store
	size    int64
	closed  bool
	metrics *metrics.Collector
}

// New wraps store in a Log.  The current store size seeds the size
// gauge; m may be nil.
func New(store Store, m *metrics.Collector) (*Log, error) {
	size, err := store.Size()
	if err != nil {
		return nil, errs.ReadFailure("stat", store.Location(), err)
	}
	m.LogSize(size)
	return &Log{store: store, size: size, metrics: m}, nil
}

// Append adds data verbatim to the end of the log and returns once it
// is flushed.  Failures are *errors.LogError of kind ErrWriteFailure.
func (l *Log) Append(data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return errs.WriteFailure("append", l.store.Location(), errs.ErrLogClosed)
	}
	if len(data) == 0 {
		return nil
	}
	if err := l.store.Append(data); err != nil {
		l.metrics.LogFailure("append", err.Error())
		if terr := l.store.Truncate(l.size); terr != nil {
			// The tail may now hold a partial packet; at least track it.
			l.resync()
			err = errs.Join(err, fmt.Errorf("rollback to %d bytes: %w", l.size, terr))
		}
		return errs.WriteFailure("append", l.store.Location(), err)
	}
	l.size += int64(len(data))
	l.metrics.LogSize(l.size)
	return nil
}

// ReadAll returns the full content of the log as of the moment the
// lock was acquired.  Failures are *errors.LogError of kind
// ErrReadFailure.
func (l *Log) ReadAll() ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, errs.ReadFailure("read", l.store.Location(), errs.ErrLogClosed)
	}
	data, err := l.store.ReadAll()
	if err != nil {
		l.metrics.LogFailure("read", err.Error())
		return nil, errs.ReadFailure("read", l.store.Location(), err)
	}
	return data, nil
}

// Size returns the log length as tracked by the Log.
func (l *Log) Size() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

// Location names the underlying store ("" for memory).
func (l *Log) Location() string { return l.store.Location() }

// Close releases the store.  Later calls are no-ops.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	return l.store.Close()
}

// resync re-reads the size after a failed append could not be rolled
// back.
func (l *Log) resync() {
	if n, err := l.store.Size(); err == nil {
		l.size = n
		l.metrics.LogSize(n)
	}
}

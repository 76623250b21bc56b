package sharedlog

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	errs "logsock/internal/errors"
	"logsock/internal/metrics"
)

// failingStore rejects appends and reads on demand.
type failingStore struct {
	MemoryStore
	failAppend   bool
	failRead     bool
	failTruncate bool
	partial      []byte // written before failing
}

func (s *failingStore) Truncate(size int64) error {
	if s.failTruncate {
		return errors.New("read-only filesystem")
	}
	return s.MemoryStore.Truncate(size)
}

func (s *failingStore) Append(p []byte) error {
	if s.failAppend {
		s.MemoryStore.Append(s.partial) //nolint:errcheck
		return errs.ErrShortWrite
	}
	return s.MemoryStore.Append(p)
}

func (s *failingStore) ReadAll() ([]byte, error) {
	if s.failRead {
		return nil, errors.New("disk gone")
	}
	return s.MemoryStore.ReadAll()
}

func newMemoryLog(t *testing.T) *Log {
	t.Helper()
	l, err := New(NewMemoryStore(nil), nil)
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func TestLog_RoundTrip(t *testing.T) {
	l := newMemoryLog(t)

	if err := l.Append([]byte("hello\n")); err != nil {
		t.Fatalf("append: %v", err)
	}
	got, err := l.ReadAll()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "hello\n" {
		t.Errorf("ReadAll() = %q, want %q", got, "hello\n")
	}
	if l.Size() != 6 {
		t.Errorf("Size() = %d, want 6", l.Size())
	}
}

func TestLog_ReadAllIdempotent(t *testing.T) {
	l := newMemoryLog(t)
	l.Append([]byte("one\n"))   //nolint:errcheck
	l.Append([]byte("partial")) //nolint:errcheck

	first, err := l.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	second, err := l.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("reads differ: %q vs %q", first, second)
	}
}

func TestLog_EmptyAppendIsNoop(t *testing.T) {
	l := newMemoryLog(t)
	if err := l.Append(nil); err != nil {
		t.Fatal(err)
	}
	if l.Size() != 0 {
		t.Errorf("Size() = %d, want 0", l.Size())
	}
}

func TestLog_ConcurrentAppendsNeverInterleave(t *testing.T) {
	l := newMemoryLog(t)

	const writers = 16
	const perWriter = 50
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			line := []byte(fmt.Sprintf("writer-%02d:%s\n", w, strings.Repeat("x", 200)))
			for i := 0; i < perWriter; i++ {
				if err := l.Append(line); err != nil {
					t.Errorf("append: %v", err)
					return
				}
				if _, err := l.ReadAll(); err != nil {
					t.Errorf("read: %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	data, _ := l.ReadAll()
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	if len(lines) != writers*perWriter {
		t.Fatalf("lines = %d, want %d", len(lines), writers*perWriter)
	}
	for i, line := range lines {
		if len(line) != len("writer-00:")+200 || !strings.HasPrefix(line, "writer-") {
			t.Fatalf("line %d corrupted: %q", i, line)
		}
	}
}

func TestLog_WriteFailureRollsBackPartialAppend(t *testing.T) {
	m := metrics.New()
	store := &failingStore{partial: []byte("ab")}
	l, err := New(store, m)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Append([]byte("kept\n")); err != nil {
		t.Fatal(err)
	}

	store.failAppend = true
	err = l.Append([]byte("abcdef\n"))
	if !errors.Is(err, errs.ErrWriteFailure) {
		t.Fatalf("err = %v, want ErrWriteFailure", err)
	}
	if !errors.Is(err, errs.ErrShortWrite) {
		t.Errorf("err = %v, should wrap ErrShortWrite", err)
	}
	if m.ErrorCount() != 1 {
		t.Errorf("errors = %d, want 1", m.ErrorCount())
	}

	got, err := l.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "kept\n" {
		t.Errorf("ReadAll() = %q, want content from before the failed append", got)
	}
	if l.Size() != 5 {
		t.Errorf("Size() = %d, want 5", l.Size())
	}

	// The next append starts on a clean boundary.
	store.failAppend = false
	if err := l.Append([]byte("next\n")); err != nil {
		t.Fatal(err)
	}
	if got, _ := l.ReadAll(); string(got) != "kept\nnext\n" {
		t.Errorf("ReadAll() = %q", got)
	}
}

func TestLog_WriteFailureWithoutRollback(t *testing.T) {
	store := &failingStore{failAppend: true, failTruncate: true, partial: []byte("ab")}
	l, err := New(store, nil)
	if err != nil {
		t.Fatal(err)
	}

	err = l.Append([]byte("abcdef\n"))
	if !errors.Is(err, errs.ErrWriteFailure) {
		t.Fatalf("err = %v, want ErrWriteFailure", err)
	}
	if !strings.Contains(err.Error(), "rollback") {
		t.Errorf("err = %v, should mention the failed rollback", err)
	}
	if l.Size() != 2 {
		t.Errorf("Size() = %d, want 2 after resync", l.Size())
	}
}

func TestMemoryStore_Truncate(t *testing.T) {
	s := NewMemoryStore([]byte("abcdef"))
	if err := s.Truncate(3); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.ReadAll(); string(got) != "abc" {
		t.Errorf("ReadAll() = %q, want %q", got, "abc")
	}
	if err := s.Truncate(10); err == nil {
		t.Error("truncating past the end should fail")
	}
}

func TestLog_ReadFailure(t *testing.T) {
	l, err := New(&failingStore{failRead: true}, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = l.ReadAll()
	if !errors.Is(err, errs.ErrReadFailure) {
		t.Fatalf("err = %v, want ErrReadFailure", err)
	}
}

func TestLog_Closed(t *testing.T) {
	l := newMemoryLog(t)
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	if err := l.Append([]byte("x\n")); !errors.Is(err, errs.ErrLogClosed) || !errors.Is(err, errs.ErrWriteFailure) {
		t.Errorf("append after close: %v", err)
	}
	if _, err := l.ReadAll(); !errors.Is(err, errs.ErrLogClosed) || !errors.Is(err, errs.ErrReadFailure) {
		t.Errorf("read after close: %v", err)
	}
}

func TestLog_SeedsSizeFromStore(t *testing.T) {
	m := metrics.New()
	l, err := New(NewMemoryStore([]byte("previous run\n")), m)
	if err != nil {
		t.Fatal(err)
	}
	if l.Size() != 13 {
		t.Errorf("Size() = %d, want 13", l.Size())
	}
	if m.Snapshot().LogBytes != 13 {
		t.Errorf("gauge = %d, want 13", m.Snapshot().LogBytes)
	}
}

package sharedlog

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	errs "logsock/internal/errors"
)

// FileOptions configures a FileStore.
type FileOptions struct {
	Path string
	// KeepOpen holds one handle for the store's lifetime; otherwise the
	// file is reopened for every operation.
	KeepOpen bool
	// Truncate empties the file on open instead of preserving content.
	Truncate bool
	// Fsync calls fsync after every append.
	Fsync bool
	// RemoveOnClose deletes the file when the store is closed.
	RemoveOnClose bool
}

// FileStore is a plain append-only file.
type FileStore struct {
	opts FileOptions
	f    *os.File // nil unless KeepOpen
}

const fileMode fs.FileMode = 0o644

// OpenFile creates (if absent) and opens the file at opts.Path.
func OpenFile(opts FileOptions) (*FileStore, error) {
	if opts.Path == "" {
		return nil, errors.New("file store: empty path")
	}
	if dir := filepath.Dir(opts.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	flags := os.O_RDWR | os.O_CREATE | os.O_APPEND
	if opts.Truncate {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(opts.Path, flags, fileMode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", opts.Path, err)
	}

	s := &FileStore{opts: opts}
	if opts.KeepOpen {
		s.f = f
		return s, nil
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close %s: %w", opts.Path, err)
	}
	return s, nil
}

func (s *FileStore) Append(p []byte) error {
	f := s.f
	if f == nil {
		var err error
		f, err = os.OpenFile(s.opts.Path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, fileMode)
		if err != nil {
			return fmt.Errorf("open: %w", err)
		}
	}

	n, err := f.Write(p)
	if err == nil && n != len(p) {
		err = errs.ErrShortWrite
	}
	if err != nil {
		if s.f == nil {
			f.Close()
		}
		return fmt.Errorf("write %d of %d bytes: %w", n, len(p), err)
	}

	if s.opts.Fsync {
		if err := f.Sync(); err != nil {
			if s.f == nil {
				f.Close()
			}
			return fmt.Errorf("flush: %w", err)
		}
	}
	if s.f == nil {
		if err := f.Close(); err != nil {
			return fmt.Errorf("flush: %w", err)
		}
	}
	return nil
}

func (s *FileStore) ReadAll() ([]byte, error) {
	if s.f == nil {
		data, err := os.ReadFile(s.opts.Path)
		if err != nil {
			return nil, fmt.Errorf("read: %w", err)
		}
		return data, nil
	}

	info, err := s.f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat: %w", err)
	}
	data := make([]byte, info.Size())
	if _, err := io.ReadFull(io.NewSectionReader(s.f, 0, info.Size()), data); err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	return data, nil
}

func (s *FileStore) Size() (int64, error) {
	var (
		info os.FileInfo
		err  error
	)
	if s.f != nil {
		info, err = s.f.Stat()
	} else {
		info, err = os.Stat(s.opts.Path)
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Truncate cuts the file back to size bytes.  Appends keep going to
// the new end because the file is opened O_APPEND.
func (s *FileStore) Truncate(size int64) error {
	var err error
	if s.f != nil {
		err = s.f.Truncate(size)
	} else {
		err = os.Truncate(s.opts.Path, size)
	}
	if err != nil {
		return fmt.Errorf("truncate: %w", err)
	}
	if s.opts.Fsync && s.f != nil {
		if err := s.f.Sync(); err != nil {
			return fmt.Errorf("flush: %w", err)
		}
	}
	return nil
}

func (s *FileStore) Location() string { return s.opts.Path }

func (s *FileStore) Close() error {
	var closeErr error
	if s.f != nil {
		closeErr = s.f.Close()
		s.f = nil
	}
	if s.opts.RemoveOnClose {
		if err := os.Remove(s.opts.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return errors.Join(closeErr, fmt.Errorf("remove %s: %w", s.opts.Path, err))
		}
	}
	return closeErr
}

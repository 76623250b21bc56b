// Package errors provides domain-specific error types for logsock.
//
// These types carry structured context (operation, path or address,
// retryability) so that each component can decide at its own boundary
// whether a failure ends a session, skips a timer tick, or stops the
// accept loop.
package errors

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// ── Sentinel errors ──────────────────────────────────────────────────

var (
	// ErrWriteFailure is the kind of every failed append.
	ErrWriteFailure = errors.New("log write failure")
	// ErrReadFailure is the kind of every failed full-log read.
	ErrReadFailure = errors.New("log read failure")

	ErrLogClosed  = errors.New("log is closed")
	ErrShortWrite = errors.New("short write")
)

// ── Structured error types ───────────────────────────────────────────

// LogError reports a failed operation against the shared log.  Kind is
// either ErrWriteFailure or ErrReadFailure, so callers can test with
// errors.Is(err, ErrWriteFailure).
type LogError struct {
	Kind error  // ErrWriteFailure or ErrReadFailure
	Op   string // "append", "flush", "read", "open", ...
	Path string // backing store location, if any
	Err  error
}

func (e *LogError) Error() string {
	s := e.Kind.Error() + ": " + e.Op
	if e.Path != "" {
		s += " " + e.Path
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *LogError) Unwrap() error { return e.Err }

// Is matches the error's kind sentinel in addition to the wrapped chain.
func (e *LogError) Is(target error) bool { return target == e.Kind }

// NetworkError represents a failure in a network operation.
type NetworkError struct {
	Op        string // operation: "listen", "accept", "read", "write"
	Addr      string // network address involved
	Err       error  // underlying error
	Retryable bool   // whether the caller should retry
}

func (e *NetworkError) Error() string {
	s := fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
	if e.Retryable {
		s += " (retryable)"
	}
	return s
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ConfigError represents an invalid configuration value.
type ConfigError struct {
	Field   string      // config field name
	Value   interface{} // the invalid value (nil if missing)
	Message string      // human-readable explanation
	Hint    string      // suggestion for the user (optional)
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config: --%s", e.Field)
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	msg += ": " + e.Message
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

// ── Constructors ─────────────────────────────────────────────────────

// WriteFailure wraps err as a failed append.
func WriteFailure(op, path string, err error) *LogError {
	return &LogError{Kind: ErrWriteFailure, Op: op, Path: path, Err: err}
}

// ReadFailure wraps err as a failed full-log read.
func ReadFailure(op, path string, err error) *LogError {
	return &LogError{Kind: ErrReadFailure, Op: op, Path: path, Err: err}
}

// Wrap creates a NetworkError, automatically detecting retryability
// from the underlying error.
func Wrap(op, addr string, err error) *NetworkError {
	return &NetworkError{
		Op:        op,
		Addr:      addr,
		Err:       err,
		Retryable: IsTransient(err),
	}
}

// ── Classification helpers ───────────────────────────────────────────

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne.Retryable
	}
	return IsTransient(err)
}

// IsTransient reports whether err is an interrupted or momentarily
// unavailable operation that should simply be attempted again.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) ||
		errors.Is(err, unix.ECONNABORTED) || errors.Is(err, unix.EMFILE) ||
		errors.Is(err, unix.ENFILE) {
		return true
	}
	// Deadline expiry is a timeout, not a retry hint.
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Temporary() //nolint:staticcheck // Temporary is deprecated but still useful
	}
	return false
}

// IsAddrInUse reports whether a bind failed because the address is taken.
func IsAddrInUse(err error) bool {
	return errors.Is(err, unix.EADDRINUSE)
}

// IsPeerClosed reports whether err means the remote side went away.
func IsPeerClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, unix.ECONNRESET) ||
		errors.Is(err, unix.EPIPE)
}

// IsTimeout reports whether err is a deadline expiry.
func IsTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	// EAGAIN reports Timeout() == true but is retried, not timed out.
	if IsTransient(err) {
		return false
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// IsHarmless returns true for errors that are expected during shutdown.
func IsHarmless(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	return false
}

// ── Re-exports for convenience ───────────────────────────────────────

// As is [errors.As].
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Is is [errors.Is].
func Is(err, target error) bool { return errors.Is(err, target) }

// New is [errors.New].
func New(text string) error { return errors.New(text) }

// Unwrap is [errors.Unwrap].
func Unwrap(err error) error { return errors.Unwrap(err) }

// Join is [errors.Join].
func Join(errs ...error) error { return errors.Join(errs...) }

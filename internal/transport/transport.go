// Package transport opens the server's listening socket.  It owns the
// socket-level concerns the protocol layers above do not care about:
// address reuse and retrying a bind while the port is still held.
package transport

import (
	"context"
	"fmt"
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	errs "logsock/internal/errors"
	"logsock/internal/retry"
	"logsock/util"
)

// ListenOptions tunes Listen.
type ListenOptions struct {
	// ReuseAddr sets SO_REUSEADDR so a restart can bind while old
	// connections linger in TIME_WAIT.
	ReuseAddr bool
	// BindAttempts bounds how often an address-in-use bind is retried
	// (1 = no retry).
	BindAttempts int
	Logger       *util.Logger
}

// Listen binds a TCP listener on address.  An address-in-use failure is
// retried with backoff; any other failure is returned at once.
func Listen(ctx context.Context, address string, opts ListenOptions) (net.Listener, error) {
	lc := net.ListenConfig{}
	if opts.ReuseAddr {
		lc.Control = reuseAddr
	}

	attempts := opts.BindAttempts
	if attempts < 1 {
		attempts = 1
	}
	bo := retry.BindBackoff(attempts)
	bo.OnRetry = func(attempt int, err error, wait time.Duration) {
		if opts.Logger != nil {
			opts.Logger.Warn("bind %s (attempt %d): %v; retrying in %s", address, attempt, err, wait)
		}
	}

	var ln net.Listener
	err := bo.Do(ctx, func(int) error {
		var err error
		ln, err = lc.Listen(ctx, "tcp", address)
		if err != nil && !errs.IsAddrInUse(err) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		return nil, &errs.NetworkError{Op: "listen", Addr: address, Err: err}
	}
	return ln, nil
}

func reuseAddr(_, _ string, c syscall.RawConn) error {
	var serr error
	err := c.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	if serr != nil {
		return fmt.Errorf("setsockopt SO_REUSEADDR: %w", serr)
	}
	return nil
}

package core

import (
	"context"
	"net"
	"sync/atomic"

	errs "logsock/internal/errors"
	"logsock/internal/metrics"
	"logsock/internal/retry"
	"logsock/internal/session"
	"logsock/util"
)

// Dispatcher accepts connections and runs one session per connection
// in its own goroutine.
type Dispatcher struct {
	Listener net.Listener
	Sessions *ActiveSessionSet
	Factory  *session.Factory
	Logger   *util.Logger
	Metrics  *metrics.Collector

	nextID atomic.Uint64
}

// Run accepts until ctx is done (returns nil) or the listener fails
// for good (returns a *errors.NetworkError with Op "accept").  Transient
// accept errors are retried with a short backoff.  Sessions already
// running are left alone either way; they observe ctx themselves.
func (d *Dispatcher) Run(ctx context.Context) error {
	// Closing the listener is what unblocks a pending Accept.
	stop := context.AfterFunc(ctx, func() { d.Listener.Close() })
	defer stop()

	addr := d.Listener.Addr().String()
	backoff := retry.AcceptBackoff()
	failures := 0

	for {
		conn, err := d.Listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			d.Metrics.AcceptFailure(err.Error())
			if !errs.IsRetryable(err) {
				return errs.Wrap("accept", addr, err)
			}
			failures++
			wait := backoff.Wait(failures)
			d.Logger.Warn("accept: %v; retrying in %s", err, wait)
			if retry.Sleep(ctx, wait) != nil {
				return nil
			}
			continue
		}
		failures = 0
		d.spawn(ctx, conn)
	}
}

func (d *Dispatcher) spawn(ctx context.Context, conn net.Conn) {
	s := d.Factory.New(d.nextID.Add(1), conn)
	remote := conn.RemoteAddr().String()

	d.Sessions.Add(s)
	d.Metrics.SessionOpened()
	d.Logger.Info("Accepted connection from %s", remote)

	go func() {
		defer d.Sessions.Done(s.ID)
		defer d.Metrics.SessionClosed()

		if err := s.Run(ctx); err != nil {
			d.Logger.Error("session %d (%s): %v", s.ID, remote, err)
		}
		d.Logger.Info("Closed connection from %s", remote)
	}()
}

package core

import (
	"context"
	"net"
	"sync"
	"time"

	"logsock/config"
	errs "logsock/internal/errors"
	"logsock/internal/metrics"
	"logsock/internal/session"
	"logsock/internal/sharedlog"
	"logsock/internal/timer"
	"logsock/internal/transport"
	"logsock/util"
)

// Server runs a logsock instance from bind to log close.  It is the
// only owner of the shared log: sessions and the timestamp task borrow
// it, and Run closes it after both have stopped.
type Server struct {
	Config        *config.Config
	Log           *sharedlog.Log
	Logger        *util.Logger
	Metrics       *metrics.Collector
	MetricsServer *metrics.Server // nil when --metrics-addr is empty

	// Tick overrides the timestamp ticker.  Tests only.
	Tick <-chan time.Time

	Sessions *ActiveSessionSet

	readyOnce sync.Once
	ready     chan struct{}
	addr      net.Addr
}

func (s *Server) init() {
	s.readyOnce.Do(func() {
		s.ready = make(chan struct{})
		if s.Sessions == nil {
			s.Sessions = NewActiveSessionSet()
		}
	})
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} {
	s.init()
	return s.ready
}

// Addr returns the bound listen address.  Valid after Ready.
func (s *Server) Addr() net.Addr { return s.addr }

// Run binds, serves until ctx is cancelled or accepting fails for good,
// then shuts down in order:
//
//	listener → timestamp task → sessions → metrics server → shared log
//
// A bind failure is returned before anything else starts.  The log is
// closed on every path.
func (s *Server) Run(ctx context.Context) (err error) {
	s.init()
	cfg := s.Config

	defer func() {
		if cerr := s.Log.Close(); cerr != nil {
			s.Logger.Error("closing log: %v", cerr)
			err = errs.Join(err, cerr)
		}
	}()

	ln, err := transport.Listen(ctx, cfg.Address(), transport.ListenOptions{
		ReuseAddr:    true,
		BindAttempts: cfg.BindAttempts,
		Logger:       s.Logger,
	})
	if err != nil {
		return err
	}
	defer ln.Close()

	if s.MetricsServer != nil {
		if err := s.MetricsServer.Start(); err != nil {
			return errs.Wrap("listen", cfg.MetricsAddr, err)
		}
		defer s.MetricsServer.Stop()
	}

	s.addr = ln.Addr()
	s.Logger.Info("listening on %s (log: %s)", s.addr, s.describeLog())
	close(s.ready)

	// Sessions see runCtx so a fatal accept error also winds them down.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	task := &timer.Task{
		Log:      s.Log,
		Interval: cfg.TimestampInterval,
		Logger:   s.Logger,
		Metrics:  s.Metrics,
		Tick:     s.Tick,
	}
	timerDone := make(chan struct{})
	go func() {
		defer close(timerDone)
		task.Run(runCtx)
	}()

	d := &Dispatcher{
		Listener: ln,
		Sessions: s.Sessions,
		Factory: &session.Factory{
			Log:         s.Log,
			Logger:      s.Logger,
			Metrics:     s.Metrics,
			IdleTimeout: cfg.IdleTimeout,
		},
		Logger:  s.Logger,
		Metrics: s.Metrics,
	}
	err = d.Run(runCtx)
	if err != nil {
		s.Logger.Error("%v; shutting down", err)
	} else {
		s.Logger.Info("Caught signal, exiting")
	}

	cancel()
	ln.Close() //nolint:errcheck
	<-timerDone

	s.drain()
	return err
}

// drain waits for every session to finish.  With a drain timeout the
// stragglers are aborted once it expires.
func (s *Server) drain() {
	n := s.Sessions.Len()
	if n == 0 {
		return
	}
	s.Logger.Verbose("waiting for %d session(s)", n)

	wait := context.Background()
	if t := s.Config.DrainTimeout; t > 0 {
		var cancel context.CancelFunc
		wait, cancel = context.WithTimeout(wait, t)
		defer cancel()
	}
	if s.Sessions.Wait(wait) == nil {
		return
	}

	left := s.Sessions.Snapshot()
	s.Logger.Warn("drain timeout after %s; aborting %d session(s)", s.Config.DrainTimeout, len(left))
	for _, sess := range left {
		sess.Abort()
	}
	s.Sessions.Wait(context.Background()) //nolint:errcheck
}

func (s *Server) describeLog() string {
	if loc := s.Log.Location(); loc != "" {
		return s.Config.Backend + " " + loc
	}
	return s.Config.Backend
}

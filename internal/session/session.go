// Package session implements the per-connection protocol: bytes are
// framed on '\n', every packet is appended to the shared log, and the
// whole log is written back to the client after each append.
//
// A session moves through
//
//	Receiving → (FramingComplete → Replying → Receiving)* → Closing → Done
//
// and is owned by exactly one goroutine for its whole life.
package session

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	errs "logsock/internal/errors"
	"logsock/internal/metrics"
	"logsock/util"
)

// Log is the shared log as seen by a session.
type Log interface {
	Append(data []byte) error
	ReadAll() ([]byte, error)
}

// State is a step of the session state machine.
type State int

const (
	Receiving State = iota
	FramingComplete
	Replying
	Closing
	Done
)

func (s State) String() string {
	switch s {
	case Receiving:
		return "receiving"
	case FramingComplete:
		return "framing-complete"
	case Replying:
		return "replying"
	case Closing:
		return "closing"
	case Done:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Session is the state of one client connection.
type Session struct {
	ID          uint64
	Conn        net.Conn
	Log         Log
	Logger      *util.Logger
	Metrics     *metrics.Collector
	IdleTimeout time.Duration // 0 = wait forever for input

	buf   []byte // received bytes not yet consumed into a packet
	state State

	// dmu orders read-deadline updates against shutdown so an idle
	// deadline can never push back an expired shutdown deadline.
	dmu      sync.Mutex
	stopping bool
}

// Factory builds sessions that share one log and one set of
// collaborators.
type Factory struct {
	Log         Log
	Logger      *util.Logger
	Metrics     *metrics.Collector
	IdleTimeout time.Duration
}

// New returns a session for conn in the Receiving state.
func (f *Factory) New(id uint64, conn net.Conn) *Session {
	return &Session{
		ID:          id,
		Conn:        conn,
		Log:         f.Log,
		Logger:      f.Logger,
		Metrics:     f.Metrics,
		IdleTimeout: f.IdleTimeout,
	}
}

// State returns the current state.  Only meaningful from the goroutine
// running the session or after Run has returned.
func (s *Session) State() State { return s.state }

// Buffered returns the bytes waiting for a terminating newline.
func (s *Session) Buffered() []byte { return s.buf }

// Run drives the session until the peer closes, an error ends it, or
// ctx is cancelled.  On cancellation the pending receive is interrupted
// and the session still flushes any incomplete packet before closing.
// The returned error explains an abnormal end; a peer close, an idle
// timeout or a shutdown returns nil.
func (s *Session) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, s.interrupt)
	defer stop()
	defer s.closing()

	chunk := util.GetChunk()
	defer util.PutChunk(chunk)

	for {
		s.setState(Receiving)
		s.armIdleDeadline()

		n, rerr := s.Conn.Read(*chunk)
		if n > 0 {
			s.Metrics.BytesReceived(int64(n))
			s.buf = append(s.buf, (*chunk)[:n]...)
			if err := s.drain(); err != nil {
				return err
			}
		}

		switch {
		case rerr == nil:
		case errs.IsTransient(rerr):
			s.Logger.Debug("session %d: retrying receive: %v", s.ID, rerr)
		case errs.IsPeerClosed(rerr):
			s.Logger.Debug("session %d: peer closed", s.ID)
			return nil
		case errs.IsTimeout(rerr) && s.isStopping():
			s.Logger.Debug("session %d: interrupted by shutdown", s.ID)
			return nil
		case errs.IsTimeout(rerr):
			s.Logger.Verbose("session %d: idle for %s, closing", s.ID, s.IdleTimeout)
			return nil
		case errs.IsHarmless(rerr) && s.isStopping():
			s.Logger.Debug("session %d: aborted by shutdown", s.ID)
			return nil
		default:
			return errs.Wrap("read", s.remote(), rerr)
		}
	}
}

// drain frames and processes every complete packet in the buffer,
// leaving only a trailing incomplete packet behind.
func (s *Session) drain() error {
	for {
		i := bytes.IndexByte(s.buf, '\n')
		if i < 0 {
			return nil
		}
		s.setState(FramingComplete)
		if err := s.process(s.buf[:i+1], metrics.PacketComplete); err != nil {
			// The failed packet is not retried, not even on close.
			s.buf = nil
			return err
		}
		s.buf = append(s.buf[:0], s.buf[i+1:]...)
	}
}

// process appends one packet and replies with the full log.
func (s *Session) process(packet []byte, kind string) error {
	if err := s.Log.Append(packet); err != nil {
		return err
	}
	s.Metrics.Appended(metrics.SourceSession)
	s.Metrics.Packet(kind)

	s.setState(Replying)
	content, err := s.Log.ReadAll()
	if err != nil {
		return err
	}
	n, err := util.WriteFull(s.Conn, content)
	s.Metrics.BytesSent(int64(n))
	if err != nil {
		return errs.Wrap("write", s.remote(), err)
	}
	s.Logger.Debug("session %d: appended %d bytes, replied %d", s.ID, len(packet), n)
	return nil
}

// closing flushes an incomplete trailing packet (best effort), shuts
// the connection down in both directions and closes it.
func (s *Session) closing() {
	s.setState(Closing)

	if len(s.buf) > 0 {
		if err := s.process(s.buf, metrics.PacketIncomplete); err != nil {
			s.Logger.Warn("session %d: incomplete packet: %v", s.ID, err)
		}
	}
	s.buf = nil

	if tc, ok := s.Conn.(*net.TCPConn); ok {
		tc.CloseWrite() //nolint:errcheck
		tc.CloseRead()  //nolint:errcheck
	}
	if err := s.Conn.Close(); err != nil && !errs.IsHarmless(err) {
		s.Logger.Debug("session %d: close: %v", s.ID, err)
	}
	s.setState(Done)
}

// Abort closes the connection underneath a running session, unblocking
// any pending read or write.  Used only when a drain deadline expires.
func (s *Session) Abort() {
	s.interrupt()
	s.Conn.Close() //nolint:errcheck
}

func (s *Session) interrupt() {
	s.dmu.Lock()
	defer s.dmu.Unlock()
	s.stopping = true
	s.Conn.SetReadDeadline(time.Now()) //nolint:errcheck
}

func (s *Session) isStopping() bool {
	s.dmu.Lock()
	defer s.dmu.Unlock()
	return s.stopping
}

func (s *Session) armIdleDeadline() {
	if s.IdleTimeout <= 0 {
		return
	}
	s.dmu.Lock()
	defer s.dmu.Unlock()
	if !s.stopping {
		s.Conn.SetReadDeadline(time.Now().Add(s.IdleTimeout)) //nolint:errcheck
	}
}

func (s *Session) setState(st State) {
	if s.state != st {
		s.Logger.Debug("session %d: %s → %s", s.ID, s.state, st)
	}
	s.state = st
}

func (s *Session) remote() string {
	if a := s.Conn.RemoteAddr(); a != nil {
		return a.String()
	}
	return ""
}

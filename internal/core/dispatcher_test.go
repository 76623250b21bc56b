package core

import (
	"context"
	"io"
	"net"
	"sync"
	"syscall"
	"testing"
	"time"

	errs "logsock/internal/errors"
	"logsock/internal/metrics"
	"logsock/internal/session"
	"logsock/internal/sharedlog"
	"logsock/util"
)

// scriptedListener returns the queued errors from Accept, then blocks
// until closed.
type scriptedListener struct {
	mu     sync.Mutex
	errs   []error
	closed chan struct{}
	once   sync.Once
}

func newScriptedListener(e ...error) *scriptedListener {
	return &scriptedListener{errs: e, closed: make(chan struct{})}
}

func (l *scriptedListener) Accept() (net.Conn, error) {
	l.mu.Lock()
	if len(l.errs) > 0 {
		err := l.errs[0]
		l.errs = l.errs[1:]
		l.mu.Unlock()
		return nil, err
	}
	l.mu.Unlock()
	<-l.closed
	return nil, net.ErrClosed
}

func (l *scriptedListener) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

func (l *scriptedListener) Addr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9000}
}

func newTestDispatcher(ln net.Listener, m *metrics.Collector) *Dispatcher {
	log, _ := sharedlog.New(sharedlog.NewMemoryStore(nil), m)
	logger := util.NewLogger(0)
	return &Dispatcher{
		Listener: ln,
		Sessions: NewActiveSessionSet(),
		Factory:  &session.Factory{Log: log, Logger: logger, Metrics: m},
		Logger:   logger,
		Metrics:  m,
	}
}

func TestDispatcher_FatalAcceptError(t *testing.T) {
	ln := newScriptedListener(syscall.EBADF)
	d := newTestDispatcher(ln, metrics.New())

	err := d.Run(context.Background())
	var ne *errs.NetworkError
	if !errs.As(err, &ne) || ne.Op != "accept" {
		t.Fatalf("Run = %v, want accept NetworkError", err)
	}
}

func TestDispatcher_RetriesTransientAcceptErrors(t *testing.T) {
	m := metrics.New()
	ln := newScriptedListener(syscall.ECONNABORTED, syscall.EMFILE)
	d := newTestDispatcher(ln, m)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for m.ErrorCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("only %d accept failures seen", m.ErrorCount())
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run after cancel = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestDispatcher_ServesConnections(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	m := metrics.New()
	d := newTestDispatcher(ln, m)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	conn, err := net.DialTimeout("tcp", ln.Addr().String(), 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.Write([]byte("hello\n")) //nolint:errcheck

	buf := make([]byte, 6)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if string(buf) != "hello\n" {
		t.Errorf("reply = %q", buf)
	}
	if m.TotalSessions() != 1 {
		t.Errorf("TotalSessions = %d, want 1", m.TotalSessions())
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run = %v", err)
	}
	wctx, wcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer wcancel()
	if err := d.Sessions.Wait(wctx); err != nil {
		t.Fatalf("sessions did not drain: %v", err)
	}
}

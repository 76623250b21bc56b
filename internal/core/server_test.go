package core

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"logsock/config"
	errs "logsock/internal/errors"
	"logsock/internal/metrics"
	"logsock/util"
)

type harness struct {
	srv    *Server
	tick   chan time.Time
	cancel context.CancelFunc
	done   chan error
}

// startServer builds and runs a server on a loopback port.  mutate may
// adjust the configuration before Build.
func startServer(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()

	port, err := util.FindFreePort()
	require.NoError(t, err)

	cfg := config.Default()
	cfg.BindAddress = "127.0.0.1"
	cfg.Port = port
	cfg.Backend = config.BackendMemory
	cfg.TimestampInterval = time.Hour
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	srv, err := Build(cfg, util.NewLogger(0))
	require.NoError(t, err)

	h := &harness{srv: srv, tick: make(chan time.Time), done: make(chan error, 1)}
	srv.Tick = h.tick

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- srv.Run(ctx) }()

	select {
	case <-srv.Ready():
	case err := <-h.done:
		t.Fatalf("server exited before ready: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server not ready")
	}
	t.Cleanup(func() { h.stop(t) })
	return h
}

func (h *harness) stop(t *testing.T) error {
	t.Helper()
	h.cancel()
	select {
	case err, ok := <-h.done:
		if !ok {
			return nil
		}
		close(h.done)
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
		return nil
	}
}

func (h *harness) dial(t *testing.T) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", h.srv.Addr().String(), 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// exchange sends packet and reads a reply of exactly len(want) bytes.
func exchange(t *testing.T, conn net.Conn, packet, want string) {
	t.Helper()
	_, err := conn.Write([]byte(packet))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	got := make([]byte, len(want))
	_, err = io.ReadFull(conn, got)
	require.NoError(t, err)
	require.Equal(t, want, string(got))
}

func TestServer_HelloRoundTrip(t *testing.T) {
	h := startServer(t, nil)
	conn := h.dial(t)
	exchange(t, conn, "hello\n", "hello\n")
}

func TestServer_InterleavedClients(t *testing.T) {
	h := startServer(t, nil)
	a := h.dial(t)
	b := h.dial(t)

	exchange(t, a, "one\n", "one\n")
	exchange(t, b, "two\n", "one\ntwo\n")
	exchange(t, a, "three\n", "one\ntwo\nthree\n")
}

func TestServer_RepliesExtendEachOther(t *testing.T) {
	h := startServer(t, nil)
	conn := h.dial(t)

	var log string
	for i := 0; i < 5; i++ {
		packet := fmt.Sprintf("packet %d\n", i)
		log += packet
		exchange(t, conn, packet, log)
	}
}

func TestServer_ConcurrentClientsKeepPacketsIntact(t *testing.T) {
	h := startServer(t, nil)
	const perClient = 25

	var wg sync.WaitGroup
	for _, name := range []string{"alpha", "bravo"} {
		conn := h.dial(t)
		wg.Add(1)
		go func(name string, conn net.Conn) {
			defer wg.Done()
			buf := make([]byte, 64*1024)
			for i := 0; i < perClient; i++ {
				packet := fmt.Sprintf("%s-%02d-%s\n", name, i, strings.Repeat(name[:1], 40))
				if _, err := conn.Write([]byte(packet)); err != nil {
					t.Error(err)
					return
				}
				// The reply is the full log; read until it contains our packet.
				var reply string
				conn.SetReadDeadline(time.Now().Add(5 * time.Second)) //nolint:errcheck
				for !strings.Contains(reply, packet) {
					n, err := conn.Read(buf)
					if err != nil {
						t.Error(err)
						return
					}
					reply += string(buf[:n])
				}
			}
		}(name, conn)
	}
	wg.Wait()

	data, err := h.srv.Log.ReadAll()
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, lines, 2*perClient)
	for _, line := range lines {
		require.Regexp(t, `^(alpha-\d\d-a{40}|bravo-\d\d-b{40})$`, line)
	}
}

func TestServer_IncompletePacketOnPeerClose(t *testing.T) {
	h := startServer(t, nil)
	conn := h.dial(t)

	_, err := conn.Write([]byte("tail"))
	require.NoError(t, err)
	require.NoError(t, conn.(*net.TCPConn).CloseWrite())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	reply, err := io.ReadAll(conn)
	require.NoError(t, err)
	require.Equal(t, "tail", string(reply))

	data, err := h.srv.Log.ReadAll()
	require.NoError(t, err)
	require.Equal(t, "tail", string(data), "no synthetic newline")
}

func TestServer_ShutdownFlushesPartialPacket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "socketdata")
	h := startServer(t, func(c *config.Config) {
		c.Backend = config.BackendFile
		c.DataFile = path
	})
	conn := h.dial(t)

	_, err := conn.Write([]byte("partial"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return h.srv.Metrics.Snapshot().BytesIn == int64(len("partial"))
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, h.stop(t))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "partial", string(data))
	require.Equal(t, int64(1), h.srv.Metrics.Packets(metrics.PacketIncomplete))
}

func TestServer_TimerAppendsUntilShutdown(t *testing.T) {
	h := startServer(t, nil)

	h.tick <- time.Now()
	require.Eventually(t, func() bool {
		return h.srv.Metrics.Appends(metrics.SourceTimer) == 1
	}, 2*time.Second, 5*time.Millisecond)

	data, err := h.srv.Log.ReadAll()
	require.NoError(t, err)
	require.Regexp(t, `^timestamp:\w{3}, \d{2} \w{3} \d{4} \d{2}:\d{2}:\d{2} [+-]\d{4}\n$`, string(data))

	require.NoError(t, h.stop(t))

	select {
	case h.tick <- time.Now():
		t.Fatal("timestamp task still running after shutdown")
	case <-time.After(50 * time.Millisecond):
	}
	require.Equal(t, int64(1), h.srv.Metrics.Appends(metrics.SourceTimer))
}

func TestServer_ClosesLogOnShutdown(t *testing.T) {
	h := startServer(t, nil)
	require.NoError(t, h.stop(t))

	err := h.srv.Log.Append([]byte("late\n"))
	require.ErrorIs(t, err, errs.ErrLogClosed)
}

func TestServer_BindFailureIsFatal(t *testing.T) {
	holder, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer holder.Close()

	cfg := config.Default()
	cfg.BindAddress = "127.0.0.1"
	cfg.Port = holder.Addr().(*net.TCPAddr).Port
	cfg.Backend = config.BackendMemory
	cfg.BindAttempts = 1

	srv, err := Build(cfg, util.NewLogger(0))
	require.NoError(t, err)

	err = srv.Run(context.Background())
	require.Error(t, err)
	require.True(t, errs.IsAddrInUse(err), "got %v", err)

	// The log is released even when nothing else started.
	require.ErrorIs(t, srv.Log.Append([]byte("x")), errs.ErrLogClosed)
}

func TestServer_DrainTimeoutAbortsStragglers(t *testing.T) {
	h := startServer(t, func(c *config.Config) {
		c.DrainTimeout = 50 * time.Millisecond
	})
	conn := h.dial(t)
	exchange(t, conn, "x\n", "x\n")

	require.NoError(t, h.stop(t))
	require.Equal(t, 0, h.srv.Sessions.Len())
}

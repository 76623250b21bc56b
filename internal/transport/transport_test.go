package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	errs "logsock/internal/errors"
	"logsock/util"
)

func TestListen_Accepts(t *testing.T) {
	ln, err := Listen(context.Background(), "127.0.0.1:0", ListenOptions{ReuseAddr: true})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte("hello from server\n")) //nolint:errcheck
	}()

	conn, err := net.DialTimeout("tcp", ln.Addr().String(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	got, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "hello from server\n" {
		t.Errorf("got %q", got)
	}
}

func TestListen_RetriesWhileAddressInUse(t *testing.T) {
	holder, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := holder.Addr().String()

	// Release the port while Listen is backing off.
	go func() {
		time.Sleep(150 * time.Millisecond)
		holder.Close()
	}()

	ln, err := Listen(context.Background(), addr, ListenOptions{BindAttempts: 10, Logger: util.NewLogger(0)})
	if err != nil {
		t.Fatalf("listen after release: %v", err)
	}
	ln.Close()
}

func TestListen_GivesUp(t *testing.T) {
	holder, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer holder.Close()

	_, err = Listen(context.Background(), holder.Addr().String(), ListenOptions{BindAttempts: 2})
	if err == nil {
		t.Fatal("expected bind failure")
	}
	var ne *errs.NetworkError
	if !errors.As(err, &ne) || ne.Op != "listen" {
		t.Errorf("err = %v, want listen NetworkError", err)
	}
	if !errs.IsAddrInUse(err) {
		t.Errorf("err = %v, want address in use", err)
	}
}

func TestListen_BadAddressIsPermanent(t *testing.T) {
	start := time.Now()
	_, err := Listen(context.Background(), "not-an-address", ListenOptions{BindAttempts: 50})
	if err == nil {
		t.Fatal("expected error")
	}
	if time.Since(start) > time.Second {
		t.Errorf("permanent failure should not be retried (took %v)", time.Since(start))
	}
}

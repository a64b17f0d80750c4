package testserver

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"
)

func startServer(t *testing.T, opts Options) *Server {
	t.Helper()
	s, err := Start(opts)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTCPEcho(t *testing.T) {
	s := startServer(t, Options{Echo: true, NoUDP: true})

	conn, err := net.Dial("tcp", s.TCPAddr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("PING")); err != nil {
		t.Fatalf("write: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4)
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf) != "PING" {
		t.Errorf("expected echo PING, got %q", buf)
	}

	if got := s.Stream(); !bytes.Equal(got, []byte("PING")) {
		t.Errorf("expected stream PING, got %q", got)
	}
	if s.Connections() != 1 {
		t.Errorf("expected 1 connection, got %d", s.Connections())
	}
}

func TestUDPRecordsDatagrams(t *testing.T) {
	s := startServer(t, Options{NoTCP: true})
	if s.TCPAddr() != "" || s.TCPPort() != 0 {
		t.Errorf("TCP should be disabled")
	}

	conn, err := net.Dial("udp", s.UDPAddr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	for _, msg := range []string{"a", "bb", "ccc"} {
		if _, err := conn.Write([]byte(msg)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.WaitBytes(ctx, 6); err != nil {
		t.Fatal(err)
	}

	if s.Received() != 3 {
		t.Errorf("expected 3 datagrams, got %d", s.Received())
	}
	payloads := s.Payloads()
	if len(payloads) != 3 || string(payloads[2]) != "ccc" {
		t.Errorf("unexpected payloads %q", payloads)
	}
	if len(s.Stream()) != 0 {
		t.Errorf("UDP datagrams should not join the TCP stream")
	}
}

func TestUDPEcho(t *testing.T) {
	s := startServer(t, Options{Echo: true, NoTCP: true})

	conn, err := net.Dial("udp", s.UDPAddr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.Write([]byte("hello"))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Errorf("expected hello, got %q", buf[:n])
	}
}

func TestWaitBytesTimeout(t *testing.T) {
	s := startServer(t, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := s.WaitBytes(ctx, 1); err == nil {
		t.Error("expected timeout error")
	}
}

func TestCloseIsIdempotentAndDropsConnections(t *testing.T) {
	s, err := Start(Options{})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	conn, err := net.Dial("tcp", s.TCPAddr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Make sure the connection is tracked before closing.
	conn.Write([]byte("x"))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.WaitBytes(ctx, 1); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		s.Close()
		s.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on a live connection")
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Read(make([]byte, 1)); err == nil {
		t.Error("expected the server side to be closed")
	}
}

func TestStartRejectsNoTransports(t *testing.T) {
	if _, err := Start(Options{NoTCP: true, NoUDP: true}); err == nil {
		t.Error("expected error")
	}
}

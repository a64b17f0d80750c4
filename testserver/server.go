// Package testserver provides loopback TCP and UDP targets for fuzzing runs.
// Each target records what it receives and can echo it back.
package testserver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// maxKept bounds the number of payloads retained for inspection.
const maxKept = 4096

// Options configures a Server.
type Options struct {
	Host    string // default 127.0.0.1
	TCPPort int    // 0 picks a free port
	UDPPort int
	Echo    bool // write every payload back to its sender
	NoTCP   bool
	NoUDP   bool
}

// Server is a TCP and UDP recording target.
type Server struct {
	tcp  net.Listener
	udp  *net.UDPConn
	echo bool

	mu       sync.Mutex
	payloads [][]byte
	stream   bytes.Buffer
	conns    map[net.Conn]struct{}

	received    atomic.Int64
	bytes       atomic.Int64
	connections atomic.Int64

	wg        sync.WaitGroup
	closeOnce sync.Once
	closed    chan struct{}
}

// Start opens the listeners and begins serving.
func Start(opts Options) (*Server, error) {
	if opts.Host == "" {
		opts.Host = "127.0.0.1"
	}
	if opts.NoTCP && opts.NoUDP {
		return nil, errors.New("testserver: both transports disabled")
	}

	s := &Server{
		echo:   opts.Echo,
		conns:  make(map[net.Conn]struct{}),
		closed: make(chan struct{}),
	}

	if !opts.NoTCP {
		ln, err := net.Listen("tcp", net.JoinHostPort(opts.Host, fmt.Sprint(opts.TCPPort)))
		if err != nil {
			return nil, fmt.Errorf("listen tcp: %w", err)
		}
		s.tcp = ln
	}
	if !opts.NoUDP {
		addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(opts.Host, fmt.Sprint(opts.UDPPort)))
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("resolve udp: %w", err)
		}
		conn, err := net.ListenUDP("udp", addr)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("listen udp: %w", err)
		}
		s.udp = conn
	}

	if s.tcp != nil {
		s.wg.Add(1)
		go s.acceptLoop()
	}
	if s.udp != nil {
		s.wg.Add(1)
		go s.udpLoop()
	}
	return s, nil
}

// TCPAddr returns the TCP listen address, or "" when TCP is disabled.
func (s *Server) TCPAddr() string {
	if s.tcp == nil {
		return ""
	}
	return s.tcp.Addr().String()
}

// UDPAddr returns the UDP listen address, or "" when UDP is disabled.
func (s *Server) UDPAddr() string {
	if s.udp == nil {
		return ""
	}
	return s.udp.LocalAddr().String()
}

// TCPPort returns the bound TCP port.
func (s *Server) TCPPort() int {
	if s.tcp == nil {
		return 0
	}
	return s.tcp.Addr().(*net.TCPAddr).Port
}

// UDPPort returns the bound UDP port.
func (s *Server) UDPPort() int {
	if s.udp == nil {
		return 0
	}
	return s.udp.LocalAddr().(*net.UDPAddr).Port
}

// Received returns the number of reads (TCP) and datagrams (UDP) recorded.
func (s *Server) Received() int64 {
	return s.received.Load()
}

// Bytes returns the total number of bytes recorded.
func (s *Server) Bytes() int64 {
	return s.bytes.Load()
}

// Connections returns the number of accepted TCP connections.
func (s *Server) Connections() int64 {
	return s.connections.Load()
}

// Payloads returns a copy of the recorded payloads in arrival order.
func (s *Server) Payloads() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.payloads))
	for i, p := range s.payloads {
		out[i] = append([]byte(nil), p...)
	}
	return out
}

// Stream returns every TCP byte received, concatenated in arrival order.
func (s *Server) Stream() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.stream.Bytes()...)
}

// WaitBytes blocks until at least n bytes have been recorded or ctx is done.
func (s *Server) WaitBytes(ctx context.Context, n int64) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for s.bytes.Load() < n {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %d bytes (have %d): %w", n, s.bytes.Load(), ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

// Close stops both listeners, closes live connections and waits for the
// serving goroutines.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.tcp != nil {
			s.tcp.Close()
		}
		if s.udp != nil {
			s.udp.Close()
		}
		s.mu.Lock()
		for c := range s.conns {
			c.Close()
		}
		s.mu.Unlock()
	})
	s.wg.Wait()
	return nil
}

func (s *Server) record(data []byte, stream bool) {
	s.received.Add(1)
	s.bytes.Add(int64(len(data)))

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.payloads) < maxKept {
		s.payloads = append(s.payloads, append([]byte(nil), data...))
	}
	if stream {
		s.stream.Write(data)
	}
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.tcp.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}
		if !s.track(conn) {
			conn.Close()
			return
		}
		s.connections.Add(1)
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.closed:
		return false
	default:
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			s.record(buf[:n], true)
			if s.echo {
				if _, werr := conn.Write(buf[:n]); werr != nil {
					return
				}
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *Server) udpLoop() {
	defer s.wg.Done()
	buf := make([]byte, 65535)
	for {
		n, addr, err := s.udp.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}
		s.record(buf[:n], false)
		if s.echo {
			s.udp.WriteToUDP(buf[:n], addr)
		}
	}
}

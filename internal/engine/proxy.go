package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"strconv"
	"sync"
	"time"

	"faultline/internal/anomaly"
	"faultline/internal/config"
	"faultline/internal/ratelimit"

	"golang.org/x/sync/errgroup"
)

// Relay directions.
const (
	DirectionCS = "cs" // client to server
	DirectionSC = "sc" // server to client
)

const (
	udpBufferSize = 65535
	acceptBackoff = 10 * time.Millisecond
)

// ProxyEngine is a mutating relay. TCP connections are relayed pairwise with
// both directions transformed; UDP datagrams are forwarded with at most one
// reply returned per datagram.
type ProxyEngine struct {
	*lifecycle
	env      Env
	injector *anomaly.Injector
	dialer   *net.Dialer
	addr     net.Addr
	target   *net.UDPAddr

	mu      sync.Mutex
	conns   map[net.Conn]struct{}
	closing bool
	wg      sync.WaitGroup
}

// NewProxy creates a proxy engine.
func NewProxy(env Env) *ProxyEngine {
	env = env.withDefaults()
	return &ProxyEngine{
		lifecycle: newLifecycle(string(config.EngineProxy), env),
		env:       env,
		injector:  anomaly.NewInjector(anomaly.ProxyParams, rand.NewSource(env.Seed)),
		conns:     make(map[net.Conn]struct{}),
	}
}

// Start binds the listener and launches the relay. A bind failure is
// returned and leaves the engine stopped.
func (e *ProxyEngine) Start(ctx context.Context) error {
	ctx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	cfg := e.env.Config
	opts := cfg.Options.Proxy
	log := e.env.Logger
	bind := net.JoinHostPort(opts.BindHost, strconv.Itoa(opts.BindPort))

	b := probeBinding(cfg.Interface, log)
	e.dialer = b.dialer(cfg.Transport, sendTimeout)

	if cfg.Transport == config.TransportUDP {
		target, err := net.ResolveUDPAddr("udp", cfg.Addr())
		if err != nil {
			err = fmt.Errorf("resolve proxy target %s: %w", cfg.Addr(), err)
			e.abort(err)
			return err
		}
		e.target = target

		in, err := net.ListenPacket("udp", bind)
		if err != nil {
			err = fmt.Errorf("proxy listen udp %s: %w", bind, err)
			e.abort(err)
			return err
		}
		out, err := b.listenConfig().ListenPacket(ctx, "udp", outboundBind(b))
		if err != nil {
			in.Close()
			err = fmt.Errorf("proxy outbound socket: %w", err)
			e.abort(err)
			return err
		}
		e.addr = in.LocalAddr()
		log.Info("engine started", "engine", "proxy", "transport", "udp", "listen", e.addr.String(), "target", cfg.Addr())
		e.run(ctx, func(ctx context.Context) error {
			return e.serveUDP(ctx, in.(*net.UDPConn), out.(*net.UDPConn))
		})
		return nil
	}

	ln, err := net.Listen("tcp", bind)
	if err != nil {
		err = fmt.Errorf("proxy listen tcp %s: %w", bind, err)
		e.abort(err)
		return err
	}
	e.addr = ln.Addr()
	log.Info("engine started", "engine", "proxy", "transport", "tcp", "listen", e.addr.String(), "target", cfg.Addr())
	e.run(ctx, func(ctx context.Context) error {
		return e.serveTCP(ctx, ln)
	})
	return nil
}

// Addr returns the bound listen address once Start has succeeded.
func (e *ProxyEngine) Addr() net.Addr {
	return e.addr
}

func outboundBind(b binding) string {
	if b.localIP != nil {
		return net.JoinHostPort(b.localIP.String(), "0")
	}
	return ":0"
}

// serveTCP accepts until ctx is done, then closes the listener and every
// live connection and waits for the relays.
func (e *ProxyEngine) serveTCP(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		ln.Close()
		e.closeAll()
	})
	defer stop()
	defer func() {
		ln.Close()
		e.closeAll()
		e.wg.Wait()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("proxy listener closed: %w", err)
			}
			e.env.Logger.Warn("accept failed", "error", err)
			if err := ratelimit.Sleep(ctx, acceptBackoff); err != nil {
				return err
			}
			continue
		}
		if !e.track(conn) {
			conn.Close()
			return ctx.Err()
		}
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			defer e.untrack(conn)
			e.relayTCP(ctx, conn)
		}()
	}
}

func (e *ProxyEngine) track(c net.Conn) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closing {
		return false
	}
	e.conns[c] = struct{}{}
	return true
}

func (e *ProxyEngine) untrack(c net.Conn) {
	e.mu.Lock()
	delete(e.conns, c)
	e.mu.Unlock()
	c.Close()
}

func (e *ProxyEngine) closeAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closing = true
	for c := range e.conns {
		c.Close()
	}
}

// Connections returns the number of sockets currently being relayed,
// counting both sides of each pair.
func (e *ProxyEngine) Connections() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.conns)
}

// relayTCP dials the target for one client and pumps both directions. The
// first pump to finish closes both sockets.
func (e *ProxyEngine) relayTCP(ctx context.Context, client net.Conn) {
	cfg := e.env.Config
	log := e.env.Logger.With("client", client.RemoteAddr().String())

	upstream, err := e.dialer.DialContext(ctx, "tcp", cfg.Addr())
	if err != nil {
		if ctx.Err() == nil {
			e.env.Counters.Failed()
			log.Warn("connect to target failed", "target", cfg.Addr(), "error", err)
		}
		return
	}
	if !e.track(upstream) {
		upstream.Close()
		return
	}
	defer e.untrack(upstream)

	var once sync.Once
	closeBoth := func() {
		once.Do(func() {
			client.Close()
			upstream.Close()
		})
	}

	clientHost, clientPort := splitAddr(client.RemoteAddr())
	var g errgroup.Group
	g.Go(func() error {
		defer closeBoth()
		return e.pump(ctx, client, upstream, DirectionCS, cfg.TargetHost, cfg.TargetPort)
	})
	g.Go(func() error {
		defer closeBoth()
		return e.pump(ctx, upstream, client, DirectionSC, clientHost, clientPort)
	})
	if err := g.Wait(); err != nil {
		log.Debug("relay ended", "error", err)
	}
}

// pump copies src to dst in readLimit chunks, transforming and recording
// each one. End of stream and a socket closed by the other pump are clean
// exits.
func (e *ProxyEngine) pump(ctx context.Context, src, dst net.Conn, dir, host string, port int) error {
	throttle := ratelimit.NewThrottle(e.env.throttle(config.EngineProxy))
	buf := make([]byte, readLimit)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			out, cat := e.injector.Inject(buf[:n], e.env.Config.AnomalyProfile)
			if _, werr := dst.Write(out); werr != nil {
				if !closedByUs(ctx, werr) {
					e.env.Counters.Failed()
					e.env.Logger.Warn("relay write failed", "direction", dir, "error", werr)
				}
				return fmt.Errorf("%s write: %w", dir, werr)
			}
			e.forwarded(out, cat, dir, host, port, config.TransportTCP)
			if werr := throttle.Wait(ctx); werr != nil {
				return werr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || closedByUs(ctx, err) {
				return nil
			}
			e.env.Counters.Failed()
			e.env.Logger.Warn("relay read failed", "direction", dir, "error", err)
			return fmt.Errorf("%s read: %w", dir, err)
		}
	}
}

func closedByUs(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, net.ErrClosed)
}

// serveUDP forwards each inbound datagram to the target, then waits up to
// the reply window for one response to return to the last client. Replies
// arriving after their window are discarded before the next forward.
func (e *ProxyEngine) serveUDP(ctx context.Context, in, out *net.UDPConn) error {
	cfg := e.env.Config
	stop := context.AfterFunc(ctx, func() {
		in.Close()
		out.Close()
	})
	defer stop()
	defer in.Close()
	defer out.Close()

	window := time.Duration(cfg.Options.Proxy.UDPReplyWindowMS) * time.Millisecond
	if window <= 0 {
		window = config.DefaultUDPReplyWindowMS * time.Millisecond
	}
	throttle := ratelimit.NewThrottle(e.env.throttle(config.EngineProxy))
	buf := make([]byte, udpBufferSize)
	reply := make([]byte, udpBufferSize)
	missed := false

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, client, err := in.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("proxy socket closed: %w", err)
			}
			e.env.Logger.Debug("udp receive failed", "error", err)
			continue
		}

		if missed {
			drain(out, reply)
		}

		data, cat := e.injector.Inject(buf[:n], cfg.AnomalyProfile)
		if _, err := out.WriteToUDP(data, e.target); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.env.Counters.Failed()
			e.env.Logger.Warn("udp forward failed", "error", err)
			continue
		}
		e.forwarded(data, cat, DirectionCS, cfg.TargetHost, cfg.TargetPort, config.TransportUDP)

		out.SetReadDeadline(time.Now().Add(window))
		m, err := e.readReply(out, reply)
		missed = err != nil
		if err == nil {
			resp, rcat := e.injector.Inject(reply[:m], cfg.AnomalyProfile)
			if _, err := in.WriteToUDP(resp, client); err != nil {
				e.env.Counters.Failed()
				e.env.Logger.Warn("udp reply failed", "client", client.String(), "error", err)
			} else {
				e.forwarded(resp, rcat, DirectionSC, client.IP.String(), client.Port, config.TransportUDP)
			}
		}

		if err := throttle.Wait(ctx); err != nil {
			return err
		}
	}
}

// readReply returns the next datagram from the target. Datagrams from any
// other source are dropped until the read deadline passes.
func (e *ProxyEngine) readReply(conn *net.UDPConn, buf []byte) (int, error) {
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			return 0, err
		}
		if from.IP.Equal(e.target.IP) && from.Port == e.target.Port {
			return n, nil
		}
		e.env.Logger.Debug("udp datagram from unexpected source dropped", "from", from.String())
	}
}

// drain discards replies that arrived after their window closed.
func drain(conn *net.UDPConn, buf []byte) {
	conn.SetReadDeadline(time.Now().Add(time.Millisecond))
	for {
		if _, _, err := conn.ReadFromUDP(buf); err != nil {
			return
		}
	}
}

func (e *ProxyEngine) forwarded(data []byte, cat anomaly.Category, dir, host string, port int, transport string) {
	e.env.Counters.Sent(len(data))
	if cat != "" {
		e.env.Counters.Injected(cat)
	}
	e.env.Recorder.WriteRaw(data, host, port, transport)
	e.env.Logger.Debug("relayed", "direction", dir, "len", len(data), "anomaly", string(cat))
}

func splitAddr(a net.Addr) (string, int) {
	switch addr := a.(type) {
	case *net.TCPAddr:
		return addr.IP.String(), addr.Port
	case *net.UDPAddr:
		return addr.IP.String(), addr.Port
	}
	host, port, err := net.SplitHostPort(a.String())
	if err != nil {
		return a.String(), 0
	}
	p, _ := strconv.Atoi(port)
	return host, p
}

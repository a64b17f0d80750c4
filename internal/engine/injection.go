package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"time"

	"faultline/internal/anomaly"
	"faultline/internal/capture"
	"faultline/internal/config"
	"faultline/internal/ratelimit"
)

const (
	resolveTimeout = 2 * time.Second
	ephemeralPort  = 49152 // first port of the dynamic range
)

// PacketSender puts a serialized IPv4 packet on the wire.
type PacketSender interface {
	SendIPv4(packet []byte) error
	Close() error
}

// InjectionEngine crafts IPv4 packets around index-derived payloads and
// injects them on a raw socket. The full Ethernet frame is recorded.
type InjectionEngine struct {
	*lifecycle
	env      Env
	injector *anomaly.Injector
	rng      *rand.Rand // loop goroutine only

	srcMAC net.HardwareAddr
	srcIP  net.IP
	dstIP  net.IP
}

// NewInjection creates a packet injection engine.
func NewInjection(env Env) *InjectionEngine {
	env = env.withDefaults()
	return &InjectionEngine{
		lifecycle: newLifecycle(string(config.EngineInjection), env),
		env:       env,
		injector:  anomaly.NewInjector(anomaly.InjectionParams, rand.NewSource(env.Seed)),
		rng:       rand.New(rand.NewSource(env.Seed + 1)),
	}
}

// Start launches the injection loop. An IPv6 target fails here. The raw
// socket is opened lazily so a missing privilege shows up as per-packet
// errors, not a failed start.
func (e *InjectionEngine) Start(ctx context.Context) error {
	ctx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	cfg := e.env.Config
	log := e.env.Logger

	if ip := net.ParseIP(cfg.TargetHost); ip != nil && ip.To4() == nil {
		err := fmt.Errorf("packet injection needs an IPv4 target, got %s", cfg.TargetHost)
		e.abort(err)
		return err
	}

	b := probeBinding(cfg.Interface, log)
	sender := e.env.Sender
	if sender == nil {
		sender = newRawSender(cfg.Interface, b)
	}
	if cfg.Interface != "" {
		if ifi, err := net.InterfaceByName(cfg.Interface); err == nil {
			e.srcMAC = ifi.HardwareAddr
		}
		e.srcIP = interfaceIPv4(cfg.Interface)
	}

	throttle := ratelimit.NewThrottle(e.env.throttle(config.EngineInjection))
	log.Info("engine started", "engine", "packet-injection", "target", cfg.Addr(),
		"transport", cfg.Transport, "interface", cfg.Interface)
	e.run(ctx, func(ctx context.Context) error {
		defer sender.Close()
		return e.loop(ctx, sender, throttle)
	})
	return nil
}

func (e *InjectionEngine) loop(ctx context.Context, sender PacketSender, throttle *ratelimit.Throttle) error {
	cfg := e.env.Config
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		payload, cat := e.injector.Inject(injectionPayload(i), cfg.AnomalyProfile)
		frame, err := e.frame(ctx, payload)
		if err == nil {
			err = sender.SendIPv4(frame[capture.EthernetHeaderLen:])
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.env.Counters.Failed()
			e.env.Logger.Warn("packet injection failed", "error", err)
			if err := ratelimit.Sleep(ctx, errorBackoff); err != nil {
				return err
			}
			continue
		}

		e.env.Counters.Sent(len(payload))
		if cat != "" {
			e.env.Counters.Injected(cat)
		}
		e.env.Recorder.WritePacket(frame)
		e.env.Logger.Debug("packet injected", "transport", cfg.Transport, "len", len(payload), "anomaly", string(cat))

		if err := throttle.Wait(ctx); err != nil {
			return err
		}
	}
}

// frame builds the Ethernet/IPv4/L4 frame for payload. Addresses are
// resolved on first use and cached.
func (e *InjectionEngine) frame(ctx context.Context, payload []byte) ([]byte, error) {
	cfg := e.env.Config
	if e.dstIP == nil {
		dst, err := resolveIPv4(ctx, cfg.TargetHost)
		if err != nil {
			return nil, err
		}
		e.dstIP = dst
	}
	if e.srcIP == nil {
		e.srcIP = routeSource(e.dstIP, cfg.TargetPort)
	}

	return capture.Frame{
		SrcMAC:    e.srcMAC,
		SrcIP:     e.srcIP,
		DstIP:     e.dstIP,
		SrcPort:   ephemeralPort + e.rng.Intn(65536-ephemeralPort),
		DstPort:   cfg.TargetPort,
		Transport: cfg.Transport,
		Seq:       e.rng.Uint32(),
		Payload:   payload,
	}.Build()
}

// injectionPayload is ("HELLO-" + byte(i%256)) repeated 1+i%4 times.
func injectionPayload(i int) []byte {
	unit := append([]byte("HELLO-"), byte(i%256))
	return bytes.Repeat(unit, 1+i%4)
}

func resolveIPv4(ctx context.Context, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		if ip4 := ip.To4(); ip4 != nil {
			return ip4, nil
		}
		return nil, fmt.Errorf("packet injection needs an IPv4 target, got %s", host)
	}
	ctx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip4", host)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}
	if len(ips) == 0 {
		return nil, errors.New("resolve " + host + ": no IPv4 address")
	}
	return ips[0].To4(), nil
}

// routeSource returns the local address the kernel would use towards dst.
// A UDP dial sends nothing.
func routeSource(dst net.IP, port int) net.IP {
	conn, err := net.Dial("udp4", net.JoinHostPort(dst.String(), fmt.Sprint(port)))
	if err != nil {
		return nil
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.To4()
	}
	return nil
}

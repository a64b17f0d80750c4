// Package capture records run traffic as evidence in pcap files.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Snaplen is the maximum number of bytes stored per record.
const Snaplen = 65536

// synthSrcPort is the source port of synthesized records.
const synthSrcPort = 49152

// Recorder receives every packet a run sends or relays.
type Recorder interface {
	WritePacket(frame []byte)
	WriteRaw(payload []byte, host string, port int, transport string)
	Close() error
}

// Discard is a Recorder that drops everything. Runs fall back to it when
// their capture file cannot be opened.
var Discard Recorder = discard{}

type discard struct{}

func (discard) WritePacket([]byte)                   {}
func (discard) WriteRaw([]byte, string, int, string) {}
func (discard) Close() error                         { return nil }

// ErrPassiveUnsupported is returned by StartPassive where no live capture
// backend exists.
var ErrPassiveUnsupported = errors.New("passive capture not supported on this platform")

// Path returns the capture file location for a run under runsDir.
func Path(runsDir, runID string) string {
	return filepath.Join(runsDir, runID, "pcaps", runID+".pcap")
}

// Writer appends Ethernet records to a pcap file. Safe for concurrent use;
// writes after Close are dropped.
type Writer struct {
	path   string
	iface  string
	logger *slog.Logger

	mu     sync.Mutex
	f      *os.File
	w      *pcapgo.Writer
	closed bool
	warned bool

	srcMAC  net.HardwareAddr
	srcIPv4 net.IP
	srcIPv6 net.IP

	resolved sync.Map // host -> net.IP
	count    atomic.Int64
	stop     context.CancelFunc
}

// Open opens path for appending, creating it and its directory if needed.
// A file header is written only when the file is empty. iface names the
// interface whose addresses are used as the source of synthesized records
// and for passive capture; it may be empty.
func Open(path, iface string, logger *slog.Logger) (*Writer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating capture directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening capture file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat capture file: %w", err)
	}

	w := &Writer{
		path:   path,
		iface:  iface,
		logger: logger,
		f:      f,
		w:      pcapgo.NewWriter(f),
	}
	if info.Size() == 0 {
		if err := w.w.WriteFileHeader(Snaplen, layers.LinkTypeEthernet); err != nil {
			f.Close()
			return nil, fmt.Errorf("writing pcap header: %w", err)
		}
	}
	w.lookupInterface()
	return w, nil
}

func (w *Writer) lookupInterface() {
	if w.iface == "" {
		return
	}
	ifi, err := net.InterfaceByName(w.iface)
	if err != nil {
		return
	}
	w.srcMAC = ifi.HardwareAddr
	addrs, err := ifi.Addrs()
	if err != nil {
		return
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if v4 := ipnet.IP.To4(); v4 != nil {
			if w.srcIPv4 == nil {
				w.srcIPv4 = v4
			}
		} else if w.srcIPv6 == nil {
			w.srcIPv6 = ipnet.IP
		}
	}
}

// Path returns the file being written.
func (w *Writer) Path() string {
	return w.path
}

// Count returns the number of records written so far.
func (w *Writer) Count() int64 {
	return w.count.Load()
}

// WritePacket records an Ethernet frame. Frames longer than Snaplen are
// truncated; an empty frame is replaced by a bare raw record.
func (w *Writer) WritePacket(frame []byte) {
	if len(frame) == 0 {
		frame = RawFrame(nil)
	}
	w.write(gopacket.CaptureInfo{Timestamp: time.Now(), Length: len(frame)}, frame)
}

// WriteRaw synthesizes an Ethernet/IP/L4 frame around payload addressed to
// host:port and records it. If the frame cannot be built, payload is
// recorded as a bare raw frame instead.
func (w *Writer) WriteRaw(payload []byte, host string, port int, transport string) {
	dst := w.resolve(host)
	if dst == nil {
		w.WritePacket(RawFrame(payload))
		return
	}
	src := w.srcIPv4
	if dst.To4() == nil {
		src = w.srcIPv6
	}
	frame, err := Frame{
		SrcMAC:    w.srcMAC,
		SrcIP:     src,
		DstIP:     dst,
		SrcPort:   synthSrcPort,
		DstPort:   port,
		Transport: transport,
		Payload:   payload,
	}.Build()
	if err != nil {
		w.WritePacket(RawFrame(payload))
		return
	}
	w.WritePacket(frame)
}

func (w *Writer) resolve(host string) net.IP {
	if ip := net.ParseIP(host); ip != nil {
		return ip
	}
	if v, ok := w.resolved.Load(host); ok {
		return v.(net.IP)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil || len(ips) == 0 {
		return nil
	}
	ip := ips[0]
	for _, cand := range ips {
		if cand.To4() != nil {
			ip = cand
			break
		}
	}
	w.resolved.Store(host, ip)
	return ip
}

func (w *Writer) write(ci gopacket.CaptureInfo, data []byte) {
	if len(data) > Snaplen {
		data = data[:Snaplen]
	}
	ci.CaptureLength = len(data)
	if ci.Length < ci.CaptureLength {
		ci.Length = ci.CaptureLength
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if err := w.w.WritePacket(ci, data); err != nil {
		if !w.warned {
			w.warned = true
			w.logger.Warn("capture write failed", "path", w.path, "error", err)
		}
		return
	}
	w.count.Add(1)
}

// StartPassive copies every frame seen on the writer's interface into the
// capture file until ctx is done or the writer is closed. It returns an
// error if the live handle cannot be opened; read failures afterwards are
// logged and end the capture.
func (w *Writer) StartPassive(ctx context.Context) error {
	if w.iface == "" {
		return fmt.Errorf("passive capture needs an interface")
	}
	src, err := openLive(w.iface)
	if err != nil {
		return fmt.Errorf("opening %s for capture: %w", w.iface, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		cancel()
		src.Close()
		return nil
	}
	w.stop = cancel
	w.mu.Unlock()

	// A blocked read only returns once the next frame arrives after Close.
	go func() {
		<-ctx.Done()
		src.Close()
	}()

	go func() {
		w.logger.Info("passive capture started", "interface", w.iface)
		for {
			data, ci, err := src.ReadPacketData()
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				w.logger.Warn("passive capture stopped", "interface", w.iface, "error", err)
				cancel()
				return
			}
			w.write(ci, data)
		}
	}()
	return nil
}

// Close stops passive capture and closes the file. Safe to call repeatedly.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if w.stop != nil {
		w.stop()
	}
	return w.f.Close()
}

// liveSource is the subset of a live capture handle the writer uses.
type liveSource interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	Close()
}

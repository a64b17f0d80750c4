package engine

import (
	"context"
	"fmt"
	"net"
	"sync"

	"golang.org/x/net/ipv4"
)

// rawSender injects IPv4 packets through one ip4:<proto> raw socket per
// protocol, opened on first use. Opening needs CAP_NET_RAW.
type rawSender struct {
	lc      *net.ListenConfig
	ifIndex int

	mu    sync.Mutex
	conns map[int]*ipv4.RawConn
}

func newRawSender(iface string, b binding) *rawSender {
	s := &rawSender{lc: b.listenConfig(), conns: make(map[int]*ipv4.RawConn)}
	if iface != "" {
		if ifi, err := net.InterfaceByName(iface); err == nil {
			s.ifIndex = ifi.Index
		}
	}
	return s
}

func (s *rawSender) conn(proto int) (*ipv4.RawConn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conns[proto]; ok {
		return c, nil
	}
	pc, err := s.lc.ListenPacket(context.Background(), fmt.Sprintf("ip4:%d", proto), "0.0.0.0")
	if err != nil {
		return nil, fmt.Errorf("open raw socket: %w", err)
	}
	rc, err := ipv4.NewRawConn(pc)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("open raw socket: %w", err)
	}
	s.conns[proto] = rc
	return rc, nil
}

// SendIPv4 writes packet, header included, steering it to the bound
// interface when one is known.
func (s *rawSender) SendIPv4(packet []byte) error {
	h, err := ipv4.ParseHeader(packet)
	if err != nil {
		return fmt.Errorf("parse packet: %w", err)
	}
	end := h.TotalLen
	if end < h.Len || end > len(packet) {
		end = len(packet)
	}

	rc, err := s.conn(h.Protocol)
	if err != nil {
		return err
	}
	var cm *ipv4.ControlMessage
	if s.ifIndex > 0 {
		cm = &ipv4.ControlMessage{IfIndex: s.ifIndex}
	}
	if err := rc.WriteTo(h, packet[h.Len:end], cm); err != nil {
		return fmt.Errorf("inject to %s: %w", h.Dst, err)
	}
	return nil
}

func (s *rawSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for proto, c := range s.conns {
		c.Close()
		delete(s.conns, proto)
	}
	return nil
}

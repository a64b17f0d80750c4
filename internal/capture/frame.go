package capture

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// EtherTypeRaw tags fallback frames whose payload could not be framed as IP.
// 0x88B5 is reserved for local experimental use.
const EtherTypeRaw = 0x88B5

// EthernetHeaderLen is the size of the link header Build emits.
const EthernetHeaderLen = 14

// Frame describes a synthesized Ethernet/IP/L4 packet.
type Frame struct {
	SrcMAC, DstMAC   net.HardwareAddr
	SrcIP, DstIP     net.IP
	SrcPort, DstPort int
	Transport        string // "tcp" or "udp"
	Seq              uint32
	Payload          []byte
}

// Build serializes f with lengths and checksums filled in. TCP segments
// carry PSH|ACK. The address family follows DstIP; SrcIP defaults to the
// unspecified address of that family.
func (f Frame) Build() ([]byte, error) {
	if f.DstIP == nil {
		return nil, fmt.Errorf("frame has no destination address")
	}
	if f.DstPort < 0 || f.DstPort > 65535 || f.SrcPort < 0 || f.SrcPort > 65535 {
		return nil, fmt.Errorf("port out of range")
	}

	eth := &layers.Ethernet{SrcMAC: f.SrcMAC, DstMAC: f.DstMAC}
	if eth.SrcMAC == nil {
		eth.SrcMAC = make(net.HardwareAddr, 6)
	}
	if eth.DstMAC == nil {
		eth.DstMAC = make(net.HardwareAddr, 6)
	}

	proto := layers.IPProtocolTCP
	if f.Transport == "udp" {
		proto = layers.IPProtocolUDP
	}

	var network gopacket.NetworkLayer
	var netLayer gopacket.SerializableLayer
	maxPayload := Snaplen - EthernetHeaderLen
	if dst4 := f.DstIP.To4(); dst4 != nil {
		src := net.IPv4zero.To4()
		if s := f.SrcIP.To4(); s != nil {
			src = s
		}
		ip := &layers.IPv4{
			Version:  4,
			TTL:      64,
			Flags:    layers.IPv4DontFragment,
			Protocol: proto,
			SrcIP:    src,
			DstIP:    dst4,
		}
		eth.EthernetType = layers.EthernetTypeIPv4
		network, netLayer = ip, ip
		maxPayload -= 20
	} else {
		src := net.IPv6unspecified
		if f.SrcIP != nil && f.SrcIP.To4() == nil {
			src = f.SrcIP
		}
		ip := &layers.IPv6{
			Version:    6,
			HopLimit:   64,
			NextHeader: proto,
			SrcIP:      src,
			DstIP:      f.DstIP.To16(),
		}
		eth.EthernetType = layers.EthernetTypeIPv6
		network, netLayer = ip, ip
		maxPayload -= 40
	}

	var l4 gopacket.SerializableLayer
	switch proto {
	case layers.IPProtocolUDP:
		udp := &layers.UDP{SrcPort: layers.UDPPort(f.SrcPort), DstPort: layers.UDPPort(f.DstPort)}
		if err := udp.SetNetworkLayerForChecksum(network); err != nil {
			return nil, err
		}
		l4 = udp
		maxPayload -= 8
	default:
		tcp := &layers.TCP{
			SrcPort: layers.TCPPort(f.SrcPort),
			DstPort: layers.TCPPort(f.DstPort),
			Seq:     f.Seq,
			PSH:     true,
			ACK:     true,
			Window:  65535,
		}
		if err := tcp.SetNetworkLayerForChecksum(network); err != nil {
			return nil, err
		}
		l4 = tcp
		maxPayload -= 20
	}

	payload := f.Payload
	if len(payload) > maxPayload {
		payload = payload[:maxPayload]
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, netLayer, l4, gopacket.Payload(payload)); err != nil {
		return nil, fmt.Errorf("serializing frame: %w", err)
	}
	return buf.Bytes(), nil
}

// RawFrame wraps payload in a bare Ethernet header tagged EtherTypeRaw,
// truncated to fit the snap length.
func RawFrame(payload []byte) []byte {
	if len(payload) > Snaplen-EthernetHeaderLen {
		payload = payload[:Snaplen-EthernetHeaderLen]
	}
	frame := make([]byte, EthernetHeaderLen+len(payload))
	binary.BigEndian.PutUint16(frame[12:14], EtherTypeRaw)
	copy(frame[EthernetHeaderLen:], payload)
	return frame
}

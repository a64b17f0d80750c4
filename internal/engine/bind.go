package engine

import (
	"context"
	"log/slog"
	"net"
	"syscall"
	"time"
)

type controlFunc func(network, address string, c syscall.RawConn) error

// binding ties outgoing sockets to the run's interface. It is probed once at
// engine start: device binding first, then the interface's IPv4 as source
// address, then nothing.
type binding struct {
	iface   string
	control controlFunc
	localIP net.IP
}

func probeBinding(iface string, logger *slog.Logger) binding {
	if iface == "" {
		return binding{}
	}
	b := binding{iface: iface}

	if control := bindToDevice(iface); control != nil {
		lc := net.ListenConfig{Control: control}
		pc, err := lc.ListenPacket(context.Background(), "udp", ":0")
		if err == nil {
			pc.Close()
			b.control = control
			logger.Debug("bound to device", "interface", iface)
			return b
		}
		logger.Debug("device binding unavailable", "interface", iface, "error", err)
	}

	if ip := interfaceIPv4(iface); ip != nil {
		b.localIP = ip
		logger.Info("binding by source address", "interface", iface, "ip", ip.String())
		return b
	}

	logger.Warn("cannot bind to interface, using default route", "interface", iface)
	return b
}

// dialer returns a dialer honouring the binding.
func (b binding) dialer(network string, timeout time.Duration) *net.Dialer {
	d := &net.Dialer{Timeout: timeout, Control: b.control}
	if b.localIP != nil {
		switch network {
		case "tcp":
			d.LocalAddr = &net.TCPAddr{IP: b.localIP}
		case "udp":
			d.LocalAddr = &net.UDPAddr{IP: b.localIP}
		}
	}
	return d
}

func (b binding) listenConfig() *net.ListenConfig {
	return &net.ListenConfig{Control: b.control}
}

// interfaceIPv4 returns the first IPv4 address of the named interface.
func interfaceIPv4(name string) net.IP {
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return nil
	}
	addrs, err := ifi.Addrs()
	if err != nil {
		return nil
	}
	for _, a := range addrs {
		if ipn, ok := a.(*net.IPNet); ok {
			if ip4 := ipn.IP.To4(); ip4 != nil {
				return ip4
			}
		}
	}
	return nil
}

package engine

import (
	"context"
	"fmt"
	"net"
	"time"

	"faultline/internal/config"
)

// transmitter delivers one payload per call. TCP opens a fresh connection,
// writes, makes one bounded read attempt and closes; UDP sends one datagram.
type transmitter struct {
	network string
	addr    string
	dialer  *net.Dialer
	timeout time.Duration
}

func newTransmitter(cfg config.RunConfig, b binding) *transmitter {
	return &transmitter{
		network: cfg.Transport,
		addr:    cfg.Addr(),
		dialer:  b.dialer(cfg.Transport, sendTimeout),
		timeout: sendTimeout,
	}
}

func (t *transmitter) send(ctx context.Context, payload []byte) error {
	conn, err := t.dialer.DialContext(ctx, t.network, t.addr)
	if err != nil {
		return fmt.Errorf("dial %s %s: %w", t.network, t.addr, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	conn.SetDeadline(time.Now().Add(t.timeout))
	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("write %s %s: %w", t.network, t.addr, err)
	}

	if t.network == config.TransportTCP {
		// Best effort; the reply is discarded and a read error is not a failure.
		buf := make([]byte, readLimit)
		conn.Read(buf)
	}
	return nil
}

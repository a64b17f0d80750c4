//go:build linux

package engine

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// bindToDevice returns a socket control that sets SO_BINDTODEVICE.
func bindToDevice(iface string) controlFunc {
	return func(_, _ string, c syscall.RawConn) error {
		var setErr error
		err := c.Control(func(fd uintptr) {
			setErr = unix.BindToDevice(int(fd), iface)
		})
		if err != nil {
			return err
		}
		return setErr
	}
}

//go:build linux

package capture

import "github.com/google/gopacket/pcapgo"

func openLive(iface string) (liveSource, error) {
	h, err := pcapgo.NewEthernetHandle(iface)
	if err != nil {
		return nil, err
	}
	return h, nil
}

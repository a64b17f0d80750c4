//go:build !linux

package capture

func openLive(string) (liveSource, error) {
	return nil, ErrPassiveUnsupported
}

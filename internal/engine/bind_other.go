//go:build !linux

package engine

// bindToDevice is unavailable off Linux; callers fall back to source-address
// binding.
func bindToDevice(string) controlFunc {
	return nil
}

// Package seeds cycles through seed files to produce base payloads for
// the mutation loops.
package seeds

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// Mode defines how seed files are selected during iteration.
type Mode string

const (
	// ModeSequential iterates through files in order, wrapping around.
	ModeSequential Mode = "sequential"
	// ModeRandom selects a random file for each iteration.
	ModeRandom Mode = "random"
)

// DefaultPayload is used when no seed is configured or a read fails.
var DefaultPayload = []byte("PING")

// Valid reports whether m is a known mode. The empty mode is valid.
func (m Mode) Valid() bool {
	switch m {
	case "", ModeSequential, ModeRandom:
		return true
	}
	return false
}

// Source hands out seed payloads. Files are re-read on every call so edits
// made while a run is active are picked up.
type Source struct {
	paths   []string
	mode    Mode
	counter atomic.Uint64
	mu      sync.Mutex
	rng     *rand.Rand
}

// NewSource creates a source over paths. A nil src seeds from the wall clock.
func NewSource(paths []string, mode Mode, src rand.Source) *Source {
	if mode == "" {
		mode = ModeSequential
	}
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &Source{
		paths: append([]string(nil), paths...),
		mode:  mode,
		rng:   rand.New(src),
	}
}

// Len returns the number of seed files.
func (s *Source) Len() int {
	return len(s.paths)
}

// Next returns the next seed payload and the file it came from. The path is
// empty when DefaultPayload is returned. err reports a failed read; the
// payload is DefaultPayload in that case.
func (s *Source) Next() ([]byte, string, error) {
	if len(s.paths) == 0 {
		return clone(DefaultPayload), "", nil
	}

	var idx int
	switch s.mode {
	case ModeRandom:
		s.mu.Lock()
		idx = s.rng.Intn(len(s.paths))
		s.mu.Unlock()
	default: // ModeSequential
		n := s.counter.Add(1) - 1
		idx = int(n % uint64(len(s.paths)))
	}

	path := s.paths[idx]
	data, err := os.ReadFile(path)
	if err != nil {
		return clone(DefaultPayload), "", fmt.Errorf("reading seed %s: %w", path, err)
	}
	return data, path, nil
}

// Resolve makes relative seed paths absolute against baseDir, the directory
// of the config file that named them.
func Resolve(paths []string, baseDir string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		if !filepath.IsAbs(p) && baseDir != "" {
			p = filepath.Join(baseDir, p)
		}
		out[i] = p
	}
	return out
}

// Check returns an error naming the first seed file that cannot be read.
func Check(paths []string) error {
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return fmt.Errorf("seed file %s: %w", p, err)
		}
		if info.IsDir() {
			return fmt.Errorf("seed file %s is a directory", p)
		}
	}
	return nil
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}

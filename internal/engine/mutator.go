package engine

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// MutatorEnv names an external mutator binary, checked after the explicit
// path option.
const MutatorEnv = "FAULTLINE_MUTATOR"

const mutateTimeout = 2 * time.Second

// Mutator runs an external mutation tool (radamsa or anything with the same
// stdin to stdout contract) once per payload.
type Mutator struct {
	path    string
	timeout time.Duration
}

// FindMutator probes, in order, the explicit path, $FAULTLINE_MUTATOR,
// ./vendor/bin/radamsa and radamsa on PATH. ok is false when none is an
// executable file.
func FindMutator(explicit string) (m *Mutator, ok bool) {
	candidates := []string{
		explicit,
		os.Getenv(MutatorEnv),
		filepath.Join("vendor", "bin", "radamsa"),
	}
	for _, c := range candidates {
		if c != "" && isExecutable(c) {
			return &Mutator{path: c, timeout: mutateTimeout}, true
		}
	}
	if p, err := exec.LookPath("radamsa"); err == nil {
		return &Mutator{path: p, timeout: mutateTimeout}, true
	}
	return nil, false
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular() && info.Mode().Perm()&0o111 != 0
}

// Path returns the mutator binary.
func (m *Mutator) Path() string {
	return m.path
}

// Mutate feeds data to the tool and returns its output. The process is
// killed when ctx is done or the per-call timeout passes.
func (m *Mutator) Mutate(ctx context.Context, data []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, m.path)
	cmd.Stdin = bytes.NewReader(data)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := bytes.TrimSpace(stderr.Bytes()); len(msg) > 0 {
			return nil, fmt.Errorf("mutator %s: %w: %s", m.path, err, msg)
		}
		return nil, fmt.Errorf("mutator %s: %w", m.path, err)
	}
	return stdout.Bytes(), nil
}

package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"faultline/internal/anomaly"
	"faultline/internal/config"
	"faultline/testserver"

	"github.com/stretchr/testify/require"
)

type testCounters struct {
	sent   atomic.Int64
	bytes  atomic.Int64
	failed atomic.Int64

	mu   sync.Mutex
	cats map[anomaly.Category]int
}

func (c *testCounters) Sent(n int) {
	c.sent.Add(1)
	c.bytes.Add(int64(n))
}

func (c *testCounters) Failed() { c.failed.Add(1) }

func (c *testCounters) Injected(cat anomaly.Category) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cats == nil {
		c.cats = make(map[anomaly.Category]int)
	}
	c.cats[cat]++
}

func (c *testCounters) injected(cat anomaly.Category) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cats[cat]
}

type rawRecord struct {
	payload   []byte
	host      string
	port      int
	transport string
}

type memRecorder struct {
	mu      sync.Mutex
	raw     []rawRecord
	packets [][]byte
}

func (r *memRecorder) WritePacket(frame []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.packets = append(r.packets, append([]byte(nil), frame...))
}

func (r *memRecorder) WriteRaw(payload []byte, host string, port int, transport string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.raw = append(r.raw, rawRecord{append([]byte(nil), payload...), host, port, transport})
}

func (r *memRecorder) Close() error { return nil }

func (r *memRecorder) raws() []rawRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]rawRecord(nil), r.raw...)
}

func (r *memRecorder) frames() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.packets...)
}

func intPtr(v int) *int { return &v }

// baseConfig targets 127.0.0.1:port with no throttle and no duration limit.
func baseConfig(transport string, port int) config.RunConfig {
	return config.RunConfig{
		TargetHost:      "127.0.0.1",
		TargetPort:      port,
		Transport:       transport,
		DurationSeconds: intPtr(0),
		ThrottleMS:      intPtr(0),
	}
}

func startTarget(t *testing.T, opts testserver.Options) *testserver.Server {
	t.Helper()
	s, err := testserver.Start(opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// startEngine starts e and stops it when the test ends.
func startEngine(t *testing.T, e Engine) {
	t.Helper()
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(e.Stop)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, timeout, 5*time.Millisecond, msg)
}

func waitDone(t *testing.T, e Engine, timeout time.Duration) {
	t.Helper()
	select {
	case <-e.Done():
	case <-time.After(timeout):
		t.Fatalf("engine did not finish within %v", timeout)
	}
}

package run

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"faultline/internal/config"
	"faultline/internal/engine"
	"faultline/internal/events"
	"faultline/internal/metrics"

	"github.com/stretchr/testify/require"
)

// stubEngine is a controllable engine.Engine.
type stubEngine struct {
	gate       chan struct{} // Start blocks until closed, if set
	startErr   error
	startPanic bool
	loopErr    error
	stopDelay  time.Duration
	sendEvery  time.Duration

	env   engine.Env
	once  sync.Once
	done  chan struct{}
	stops atomic.Int32

	mu    sync.Mutex
	state engine.State
	err   error
}

func newStub() *stubEngine {
	return &stubEngine{done: make(chan struct{})}
}

func (s *stubEngine) Start(ctx context.Context) error {
	if s.gate != nil {
		<-s.gate
	}
	if s.startPanic {
		panic("stub exploded")
	}
	if s.startErr != nil {
		s.finish(s.startErr)
		return s.startErr
	}
	s.mu.Lock()
	s.state = engine.StateRunning
	s.mu.Unlock()

	go func() {
		if s.loopErr != nil {
			s.finish(s.loopErr)
			return
		}
		if s.sendEvery > 0 {
			ticker := time.NewTicker(s.sendEvery)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					s.finish(nil)
					return
				case <-ticker.C:
					s.env.Counters.Sent(4)
				}
			}
		}
		<-ctx.Done()
		s.finish(nil)
	}()
	return nil
}

func (s *stubEngine) finish(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.state = engine.StateStopped
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *stubEngine) Stop() {
	s.stops.Add(1)
	if s.stopDelay > 0 {
		time.Sleep(s.stopDelay)
	}
	s.finish(nil)
}

func (s *stubEngine) State() engine.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *stubEngine) Done() <-chan struct{} { return s.done }

func (s *stubEngine) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// stubFactory hands out engines by target port. Ports without an entry get
// a fresh idle stub.
type stubFactory struct {
	mu      sync.Mutex
	byPort  map[int]*stubEngine
	created []*stubEngine
}

func (f *stubFactory) build(kind config.EngineKind, env engine.Env) (engine.Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.byPort[env.Config.TargetPort]
	if !ok {
		e = newStub()
	}
	e.env = env
	f.created = append(f.created, e)
	return e, nil
}

func newTestManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	base := []Option{
		WithRunsDir(t.TempDir()),
		WithHeartbeatInterval(20 * time.Millisecond),
	}
	m := NewManager(append(base, opts...)...)
	t.Cleanup(func() { m.StopAll() })
	return m
}

func intPtr(v int) *int { return &v }

func localConfig(port int) config.RunConfig {
	return config.RunConfig{
		TargetHost:      "127.0.0.1",
		TargetPort:      port,
		Transport:       config.TransportUDP,
		Engine:          config.EngineMutation,
		DurationSeconds: intPtr(0),
	}
}

func waitDone(t *testing.T, m *Manager, id string, timeout time.Duration) {
	t.Helper()
	done := m.Done(id)
	require.NotNil(t, done, "unknown run %s", id)
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatalf("run %s did not finish within %v", id, timeout)
	}
}

// nextEvent returns the first event of type want, skipping others.
func nextEvent(t *testing.T, sub *events.Subscription, want events.Type, timeout time.Duration) events.Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-sub.C:
			require.True(t, ok, "subscription closed")
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event within %v", want, timeout)
		}
	}
}

var errLoop = errors.New("loop broke")

// counterValue reads a counter from the metrics registry by its label
// values, in declaration order.
func counterValue(t *testing.T, mx *metrics.Metrics, name string, labels ...string) float64 {
	t.Helper()
	families, err := mx.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, metric := range mf.GetMetric() {
			pairs := metric.GetLabel()
			if len(pairs) != len(labels) {
				continue
			}
			for i, p := range pairs {
				if p.GetValue() != labels[i] {
					continue next
				}
			}
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}

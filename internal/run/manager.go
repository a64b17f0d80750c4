// Package run owns the lifecycle of fuzzing runs: it validates a
// configuration, lays out the run's artifacts on disk, starts the engine and
// supervises it until the run ends.
package run

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"faultline/internal/capture"
	"faultline/internal/config"
	"faultline/internal/engine"
	"faultline/internal/events"
	"faultline/internal/metrics"
	"faultline/internal/runlog"

	"github.com/google/uuid"
)

const (
	ToolName = "faultline"
	Version  = "0.4.0"

	DefaultRunsDir           = "runs"
	DefaultHeartbeatInterval = time.Second
	DefaultStopTimeout       = 10 * time.Second
)

// ErrUnknownRun is returned for an id the manager has no record of, in
// memory or on disk.
var ErrUnknownRun = errors.New("unknown run")

// Manager starts, tracks and stops runs. Runs are independent: a failing
// engine only ends its own run.
type Manager struct {
	runsDir     string
	logger      *slog.Logger
	level       slog.Leveler
	metrics     *metrics.Metrics
	bus         *events.Bus
	factory     engine.Factory
	heartbeat   time.Duration
	stopTimeout time.Duration

	mu   sync.RWMutex
	runs map[string]*run
}

// NewManager creates a Manager with the given options.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		runsDir:     DefaultRunsDir,
		level:       slog.LevelInfo,
		heartbeat:   DefaultHeartbeatInterval,
		stopTimeout: DefaultStopTimeout,
		runs:        make(map[string]*run),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if m.bus == nil {
		m.bus = events.NewBus(events.DefaultBuffer)
	}
	if m.factory == nil {
		m.factory = engine.New
	}
	return m
}

// RunsDir returns the directory runs are written under.
func (m *Manager) RunsDir() string {
	return m.runsDir
}

// StartRun validates cfg and launches a run. A *config.ConfigError is
// returned before anything is created.
func (m *Manager) StartRun(cfg config.RunConfig) (string, error) {
	cfg, err := cfg.Normalize()
	if err != nil {
		return "", err
	}
	return m.start(cfg)
}

// StartPlan launches one run per port and instance. Every configuration is
// validated before the first run starts. If a later run cannot be started
// the runs already launched are stopped.
func (m *Manager) StartPlan(cfg config.RunConfig, ports []int, instances int) ([]string, error) {
	if len(ports) == 0 {
		return nil, &config.ConfigError{Field: "ports", Reason: "no ports given"}
	}
	if err := config.ValidateInstances(instances); err != nil {
		return nil, err
	}

	// The plan supplies the ports, so a target may name the host alone.
	if cfg.Target != "" {
		if host, _, err := net.SplitHostPort(cfg.Target); err == nil {
			cfg.TargetHost = host
		} else {
			cfg.TargetHost = cfg.Target
		}
		cfg.Target = ""
	}
	planned := make([]config.RunConfig, 0, len(ports))
	for _, port := range ports {
		c := cfg
		c.TargetPort = port
		c, err := c.Normalize()
		if err != nil {
			return nil, err
		}
		planned = append(planned, c)
	}

	ids := make([]string, 0, len(planned)*instances)
	for _, c := range planned {
		for i := 0; i < instances; i++ {
			id, err := m.start(c)
			if err != nil {
				for _, started := range ids {
					m.StopRun(started)
				}
				return nil, fmt.Errorf("starting run for port %d: %w", c.TargetPort, err)
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *Manager) start(cfg config.RunConfig) (string, error) {
	id := uuid.NewString()
	dir := filepath.Join(m.runsDir, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating run directory: %w", err)
	}

	started := time.Now()
	if err := writeJSON(filepath.Join(dir, "config.json"), cfg); err != nil {
		os.RemoveAll(dir)
		return "", err
	}
	if err := writeJSON(filepath.Join(dir, "tool.json"), toolInfo{
		ToolName: ToolName,
		Version:  Version,
		Engine:   string(cfg.Engine),
		Started:  started,
	}); err != nil {
		os.RemoveAll(dir)
		return "", err
	}

	logger, closer, err := runlog.Open(dir, id, m.logger.Handler(), m.level)
	if err != nil {
		logger = m.logger.With("run_id", id)
		logger.Warn("run log unavailable", "error", err)
	}

	r := &run{
		id:        id,
		dir:       dir,
		cfg:       cfg,
		started:   started,
		logger:    logger,
		logCloser: closer,
		done:      make(chan struct{}),
		running:   true,
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())

	path := capture.Path(m.runsDir, id)
	w, err := capture.Open(path, cfg.Interface, logger)
	if err != nil {
		logger.Warn("capture disabled", "path", path, "error", err)
		r.recorder = capture.Discard
	} else {
		r.recorder = w
		r.capture = path
		if cfg.Passive() {
			if err := w.StartPassive(r.ctx); err != nil {
				logger.Warn("passive capture disabled", "interface", cfg.Interface, "error", err)
			}
		}
	}

	eng, err := m.factory(cfg.Engine, engine.Env{
		Config: cfg.Clone(),
		Counters: runCounters{
			r:         r,
			metrics:   m.metrics,
			engine:    string(cfg.Engine),
			transport: cfg.Transport,
		},
		Recorder: r.recorder,
		Logger:   logger,
	})
	if err != nil {
		r.cancel()
		r.recorder.Close()
		if closer != nil {
			closer.Close()
		}
		os.RemoveAll(dir)
		return "", err
	}
	r.engine = eng

	m.mu.Lock()
	m.runs[id] = r
	m.mu.Unlock()

	m.metrics.RunStarted(string(cfg.Engine), cfg.Transport)
	logger.Info("run started", "engine", cfg.Engine, "target", cfg.Addr(), "transport", cfg.Transport,
		"interface", cfg.Interface, "duration_seconds", cfg.Duration())

	go m.supervise(r)
	return id, nil
}

// supervise drives r from engine start to teardown.
func (m *Manager) supervise(r *run) {
	defer close(r.done)
	defer m.teardown(r)
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("run supervisor panicked", "panic", p, "stack", string(debug.Stack()))
			m.fatal(r, fmt.Sprintf("panic: %v", p))
		}
	}()

	if err := r.engine.Start(r.ctx); err != nil {
		r.logger.Error("engine failed to start", "error", err)
		m.fatal(r, err.Error())
		return
	}

	var deadline <-chan time.Time
	if d := r.cfg.Duration(); d > 0 {
		timer := time.NewTimer(time.Duration(d) * time.Second)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(m.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-deadline:
			r.logger.Info("run duration reached")
			return
		case <-r.engine.Done():
			if err := r.engine.Err(); err != nil {
				r.logger.Error("engine failed", "error", err)
				m.fatal(r, err.Error())
			}
			return
		case <-ticker.C:
			m.bus.Publish(r.id, events.Heartbeat(r.sent.Load(), r.errors.Load()))
		}
	}
}

func (m *Manager) fatal(r *run, msg string) {
	r.fail(msg)
	m.bus.Publish(r.id, events.Error(msg))
}

func (m *Manager) teardown(r *run) {
	r.cancel()
	r.engine.Stop()
	if err := r.recorder.Close(); err != nil {
		r.logger.Warn("closing capture", "error", err)
	}
	r.markFinished()
	r.logger.Info("run finished", "sent", r.sent.Load(), "errors", r.errors.Load(), "capture", r.capture)
	if r.logCloser != nil {
		r.logCloser.Close()
	}
	m.bus.Publish(r.id, events.Finished(r.capture))
	m.metrics.RunFinished(string(r.cfg.Engine), r.failed())
}

// StopRun ends a run and waits for its teardown, up to the stop timeout.
// Unknown or finished runs are ignored.
func (m *Manager) StopRun(id string) {
	r, ok := m.lookup(id)
	if !ok {
		return
	}
	r.cancel()
	select {
	case <-r.done:
	case <-time.After(m.stopTimeout):
		m.logger.Warn("run did not stop in time", "run_id", id, "timeout", m.stopTimeout)
	}
}

// StopAll stops every tracked run and returns their ids.
func (m *Manager) StopAll() []string {
	m.mu.RLock()
	ids := make([]string, 0, len(m.runs))
	for id := range m.runs {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			m.StopRun(id)
		}(id)
	}
	wg.Wait()
	sort.Strings(ids)
	return ids
}

// Status returns a snapshot of every tracked run keyed by id.
func (m *Manager) Status() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Status, len(m.runs))
	for id, r := range m.runs {
		out[id] = r.status()
	}
	return out
}

// CapturePath returns the capture file of a run. It reports false for an
// unknown run or one whose capture could not be opened.
func (m *Manager) CapturePath(id string) (string, bool) {
	r, ok := m.lookup(id)
	if !ok || r.capture == "" {
		return "", false
	}
	return r.capture, true
}

// Done returns a channel closed once the run has torn down, or nil for an
// unknown id.
func (m *Manager) Done(id string) <-chan struct{} {
	r, ok := m.lookup(id)
	if !ok {
		return nil
	}
	return r.done
}

// Subscribe registers an observer for the run's events.
func (m *Manager) Subscribe(id string) *events.Subscription {
	return m.bus.Subscribe(id)
}

// Unsubscribe removes an observer registered with Subscribe.
func (m *Manager) Unsubscribe(id string, sub *events.Subscription) {
	m.bus.Unsubscribe(id, sub)
}

// DeleteRun stops the run if it is tracked, then removes it and its
// artifacts.
func (m *Manager) DeleteRun(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid run id %q: %w", id, err)
	}

	m.StopRun(id)
	m.mu.Lock()
	_, tracked := m.runs[id]
	delete(m.runs, id)
	m.mu.Unlock()

	dir := filepath.Join(m.runsDir, id)
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, os.ErrNotExist) && !tracked {
			return fmt.Errorf("run %s: %w", id, ErrUnknownRun)
		}
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("stat run directory: %w", err)
		}
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing run directory: %w", err)
	}
	m.logger.Info("run deleted", "run_id", id)
	return nil
}

func (m *Manager) lookup(id string) (*run, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	return r, ok
}

type toolInfo struct {
	ToolName string    `json:"tool_name"`
	Version  string    `json:"version"`
	Engine   string    `json:"engine"`
	Started  time.Time `json:"started"`
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return nil
}

package run

import (
	"log/slog"
	"time"

	"faultline/internal/engine"
	"faultline/internal/events"
	"faultline/internal/metrics"
)

// Option configures a Manager.
type Option func(*Manager)

// WithRunsDir sets the directory that holds one subdirectory per run.
func WithRunsDir(dir string) Option {
	return func(m *Manager) {
		m.runsDir = dir
	}
}

// WithLogger sets the handler every run logger also writes to.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithLogLevel sets the minimum level written to run.log files.
func WithLogLevel(level slog.Leveler) Option {
	return func(m *Manager) {
		m.level = level
	}
}

// WithMetrics enables Prometheus accounting. A nil Metrics disables it.
func WithMetrics(mx *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mx
	}
}

// WithBus sets the event bus runs publish to.
func WithBus(bus *events.Bus) Option {
	return func(m *Manager) {
		m.bus = bus
	}
}

// WithHeartbeatInterval sets how often a running run publishes its counters.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.heartbeat = d
		}
	}
}

// WithStopTimeout bounds how long StopRun waits for a run to tear down.
func WithStopTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.stopTimeout = d
		}
	}
}

// WithEngineFactory replaces engine.New.
func WithEngineFactory(f engine.Factory) Option {
	return func(m *Manager) {
		m.factory = f
	}
}

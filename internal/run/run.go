package run

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"faultline/internal/anomaly"
	"faultline/internal/capture"
	"faultline/internal/config"
	"faultline/internal/engine"
	"faultline/internal/metrics"
)

// Status is a snapshot of one run.
type Status struct {
	Config   config.RunConfig `json:"config"`
	Sent     int64            `json:"sent"`
	Errors   int64            `json:"errors"`
	Capture  string           `json:"capture,omitempty"`
	Started  time.Time        `json:"started"`
	Finished time.Time        `json:"finished,omitzero"`
	Running  bool             `json:"running"`
	Err      string           `json:"error,omitempty"`
}

// run is the manager's record of one fuzzing run.
type run struct {
	id      string
	dir     string
	cfg     config.RunConfig
	capture string
	started time.Time

	logger    *slog.Logger
	logCloser io.Closer
	recorder  capture.Recorder
	engine    engine.Engine

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	sent   atomic.Int64
	errors atomic.Int64

	mu       sync.Mutex
	finished time.Time
	running  bool
	err      string
}

// status copies the config so callers cannot reach the arrays the engine
// reads.
func (r *run) status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Status{
		Config:   r.cfg.Clone(),
		Sent:     r.sent.Load(),
		Errors:   r.errors.Load(),
		Capture:  r.capture,
		Started:  r.started,
		Finished: r.finished,
		Running:  r.running,
		Err:      r.err,
	}
}

func (r *run) fail(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err == "" {
		r.err = msg
	}
}

func (r *run) failed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err != ""
}

func (r *run) markFinished() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = false
	r.finished = time.Now()
}

// runCounters feeds an engine's accounting into the run and the metrics.
type runCounters struct {
	r         *run
	metrics   *metrics.Metrics
	engine    string
	transport string
}

func (c runCounters) Sent(n int) {
	c.r.sent.Add(1)
	c.metrics.Sent(c.engine, c.transport, n)
}

func (c runCounters) Failed() {
	c.r.errors.Add(1)
	c.metrics.Error(c.engine, c.transport)
}

func (c runCounters) Injected(cat anomaly.Category) {
	c.metrics.Anomaly(c.engine, string(cat))
}

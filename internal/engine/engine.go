// Package engine implements the traffic strategies a run can drive: external
// or fallback mutation, grammar fuzzing, raw packet injection and a mutating
// relay. Every strategy shares the same lifecycle and reports through
// Counters and a capture.Recorder.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"faultline/internal/anomaly"
	"faultline/internal/capture"
	"faultline/internal/config"
)

// State is the lifecycle position of an engine.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

var (
	// ErrAlreadyStarted is returned by Start on an engine that is running.
	ErrAlreadyStarted = errors.New("engine already started")
	// ErrStopped is returned by Start on an engine that has been stopped.
	ErrStopped = errors.New("engine stopped")
)

// Engine drives one run's traffic.
//
// Start is non-blocking: listeners are bound before it returns, then the loop
// runs on its own goroutine until ctx is done or Stop is called. Stop waits
// for the loop up to the stop timeout. Done is closed once the loop has
// exited and Err reports a fatal loop error or recovered panic.
type Engine interface {
	Start(ctx context.Context) error
	Stop()
	State() State
	Done() <-chan struct{}
	Err() error
}

// Counters receives per-send accounting from an engine. Implementations must
// be safe for concurrent use; the proxy reports from several goroutines.
type Counters interface {
	Sent(n int)
	Failed()
	Injected(cat anomaly.Category)
}

type nopCounters struct{}

func (nopCounters) Sent(int)                  {}
func (nopCounters) Failed()                   {}
func (nopCounters) Injected(anomaly.Category) {}

const (
	// DefaultStopTimeout bounds Stop.
	DefaultStopTimeout = 5 * time.Second

	sendTimeout  = 3 * time.Second
	readLimit    = 4096
	errorBackoff = 500 * time.Millisecond
)

// Env carries what an engine needs from its run.
type Env struct {
	Config      config.RunConfig
	Counters    Counters
	Recorder    capture.Recorder
	Logger      *slog.Logger
	Seed        int64 // 0 seeds from the clock
	StopTimeout time.Duration
	Sender      PacketSender // packet-injection only; nil opens a raw socket
}

func (e Env) withDefaults() Env {
	if e.Counters == nil {
		e.Counters = nopCounters{}
	}
	if e.Recorder == nil {
		e.Recorder = capture.Discard
	}
	if e.Logger == nil {
		e.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if e.StopTimeout <= 0 {
		e.StopTimeout = DefaultStopTimeout
	}
	if e.Seed == 0 {
		e.Seed = time.Now().UnixNano()
	}
	return e
}

// throttle returns the configured pacing for kind.
func (e Env) throttle(kind config.EngineKind) time.Duration {
	return time.Duration(e.Config.Throttle(DefaultThrottle(kind))) * time.Millisecond
}

// DefaultThrottle returns the pacing, in milliseconds, used when a run does
// not set one.
func DefaultThrottle(kind config.EngineKind) int {
	switch kind {
	case config.EngineMutation:
		return 5
	case config.EngineGrammar, config.EngineInjection:
		return 10
	}
	return 0
}

// Factory builds an engine. run.Manager takes one so tests can substitute
// their own engines.
type Factory func(kind config.EngineKind, env Env) (Engine, error)

// New builds the engine for kind. An unknown kind is a *config.ConfigError.
func New(kind config.EngineKind, env Env) (Engine, error) {
	env = env.withDefaults()
	switch kind {
	case config.EngineMutation:
		return NewMutation(env), nil
	case config.EngineGrammar:
		return NewGrammar(env), nil
	case config.EngineInjection:
		return NewInjection(env), nil
	case config.EngineProxy:
		return NewProxy(env), nil
	}
	return nil, &config.ConfigError{Field: "engine", Reason: fmt.Sprintf("unknown engine %q", kind)}
}

// Describe returns a one-line summary of kind for listings.
func Describe(kind config.EngineKind) string {
	switch kind {
	case config.EngineMutation:
		return "seed files through an external mutator (or a built-in fallback), one send per payload"
	case config.EngineGrammar:
		return "structural template fuzzing over TCP, mutation loop otherwise"
	case config.EngineInjection:
		return "crafted IPv4 packets on a raw socket"
	case config.EngineProxy:
		return "mutating relay between clients and the target"
	}
	return ""
}

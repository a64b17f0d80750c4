package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// lifecycle is the Idle → Running → Stopping → Stopped state machine shared
// by every engine. Engines embed it and provide Start.
type lifecycle struct {
	name    string
	logger  *slog.Logger
	timeout time.Duration

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	err    error

	done      chan struct{}
	closeDone sync.Once
}

func newLifecycle(name string, env Env) *lifecycle {
	return &lifecycle{
		name:    name,
		logger:  env.Logger,
		timeout: env.StopTimeout,
		done:    make(chan struct{}),
	}
}

// begin moves Idle to Running and derives the loop context.
func (l *lifecycle) begin(parent context.Context) (context.Context, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.state {
	case StateIdle:
	case StateStopped:
		return nil, ErrStopped
	default:
		return nil, ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(parent)
	l.cancel = cancel
	l.state = StateRunning
	return ctx, nil
}

// abort ends a start that failed before the loop was launched.
func (l *lifecycle) abort(err error) {
	l.mu.Lock()
	if l.cancel != nil {
		l.cancel()
	}
	l.state = StateStopped
	l.err = err
	l.mu.Unlock()
	l.closeDone.Do(func() { close(l.done) })
}

// run launches loop on its own goroutine. A panic is recovered and becomes
// the engine's error.
func (l *lifecycle) run(ctx context.Context, loop func(context.Context) error) {
	go func() {
		var err error
		defer func() { l.finish(err) }()
		defer l.recoverPanic(&err)
		err = loop(ctx)
	}()
}

func (l *lifecycle) recoverPanic(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%s engine panic: %v", l.name, r)
		l.logger.Error("engine panic",
			"engine", l.name,
			"panic", fmt.Sprint(r),
			"stack", string(debug.Stack()))
	}
}

func (l *lifecycle) finish(err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}
	l.mu.Lock()
	l.err = err
	l.state = StateStopped
	if l.cancel != nil {
		l.cancel()
	}
	l.mu.Unlock()
	l.closeDone.Do(func() { close(l.done) })
}

// Stop cancels the loop and waits for it up to the stop timeout. Exceeding
// the timeout is logged, not returned. Stopping an idle engine moves it
// straight to Stopped.
func (l *lifecycle) Stop() {
	l.mu.Lock()
	switch l.state {
	case StateIdle:
		l.state = StateStopped
		l.mu.Unlock()
		l.closeDone.Do(func() { close(l.done) })
		return
	case StateRunning:
		l.state = StateStopping
		l.cancel()
	}
	l.mu.Unlock()

	timer := time.NewTimer(l.timeout)
	defer timer.Stop()
	select {
	case <-l.done:
	case <-timer.C:
		l.logger.Warn("engine did not stop in time", "engine", l.name, "timeout", l.timeout)
	}
}

// State returns the current lifecycle state.
func (l *lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Done is closed once the loop has exited.
func (l *lifecycle) Done() <-chan struct{} {
	return l.done
}

// Err returns the fatal loop error, if any, once Done is closed.
func (l *lifecycle) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

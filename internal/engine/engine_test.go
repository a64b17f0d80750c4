package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"faultline/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_BuildsEveryKind(t *testing.T) {
	env := Env{Config: baseConfig(config.TransportTCP, 9)}

	tests := []struct {
		kind config.EngineKind
		want any
	}{
		{config.EngineMutation, &MutationEngine{}},
		{config.EngineGrammar, &GrammarEngine{}},
		{config.EngineInjection, &InjectionEngine{}},
		{config.EngineProxy, &ProxyEngine{}},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			e, err := New(tt.kind, env)
			require.NoError(t, err)
			assert.IsType(t, tt.want, e)
			assert.Equal(t, StateIdle, e.State())
			assert.NotEmpty(t, Describe(tt.kind))
		})
	}
}

func TestNew_UnknownKindIsConfigError(t *testing.T) {
	e, err := New("radamsa", Env{})
	assert.Nil(t, e)
	require.Error(t, err)
	assert.True(t, config.IsConfigError(err))
	assert.Contains(t, err.Error(), "radamsa")
}

func TestDefaultThrottle(t *testing.T) {
	assert.Equal(t, 5, DefaultThrottle(config.EngineMutation))
	assert.Equal(t, 10, DefaultThrottle(config.EngineGrammar))
	assert.Equal(t, 10, DefaultThrottle(config.EngineInjection))
	assert.Equal(t, 0, DefaultThrottle(config.EngineProxy))
}

func TestEnv_ThrottleOverride(t *testing.T) {
	env := Env{Config: config.RunConfig{}}
	assert.Equal(t, 5*time.Millisecond, env.throttle(config.EngineMutation))

	env.Config.ThrottleMS = intPtr(100)
	assert.Equal(t, 100*time.Millisecond, env.throttle(config.EngineMutation))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "stopping", StateStopping.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "state(9)", State(9).String())
}

// funcEngine drives an arbitrary loop through the shared lifecycle.
type funcEngine struct {
	*lifecycle
	loop func(ctx context.Context) error
}

func newFuncEngine(timeout time.Duration, loop func(ctx context.Context) error) *funcEngine {
	env := Env{StopTimeout: timeout}.withDefaults()
	return &funcEngine{lifecycle: newLifecycle("test", env), loop: loop}
}

func (f *funcEngine) Start(ctx context.Context) error {
	ctx, err := f.begin(ctx)
	if err != nil {
		return err
	}
	f.run(ctx, f.loop)
	return nil
}

func blockUntilDone(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestLifecycle_StartStop(t *testing.T) {
	e := newFuncEngine(time.Second, blockUntilDone)

	require.NoError(t, e.Start(context.Background()))
	assert.Equal(t, StateRunning, e.State())
	assert.ErrorIs(t, e.Start(context.Background()), ErrAlreadyStarted)

	e.Stop()
	assert.Equal(t, StateStopped, e.State())
	assert.NoError(t, e.Err(), "cancellation is a clean exit")
	waitDone(t, e, time.Second)

	e.Stop()
	assert.ErrorIs(t, e.Start(context.Background()), ErrStopped)
}

func TestLifecycle_StopIdle(t *testing.T) {
	e := newFuncEngine(time.Second, blockUntilDone)
	e.Stop()
	assert.Equal(t, StateStopped, e.State())
	waitDone(t, e, time.Second)
	assert.ErrorIs(t, e.Start(context.Background()), ErrStopped)
}

func TestLifecycle_ParentCancelEndsLoop(t *testing.T) {
	e := newFuncEngine(time.Second, blockUntilDone)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, e.Start(ctx))

	cancel()
	waitDone(t, e, time.Second)
	assert.Equal(t, StateStopped, e.State())
	assert.NoError(t, e.Err())
}

func TestLifecycle_LoopErrorIsReported(t *testing.T) {
	boom := errors.New("boom")
	e := newFuncEngine(time.Second, func(context.Context) error { return boom })
	require.NoError(t, e.Start(context.Background()))

	waitDone(t, e, time.Second)
	assert.ErrorIs(t, e.Err(), boom)
	assert.Equal(t, StateStopped, e.State())
}

func TestLifecycle_PanicIsRecovered(t *testing.T) {
	e := newFuncEngine(time.Second, func(context.Context) error { panic("kaboom") })
	require.NoError(t, e.Start(context.Background()))

	waitDone(t, e, time.Second)
	require.Error(t, e.Err())
	assert.Contains(t, e.Err().Error(), "kaboom")
}

func TestLifecycle_StopTimeoutIsBounded(t *testing.T) {
	release := make(chan struct{})
	e := newFuncEngine(50*time.Millisecond, func(context.Context) error {
		<-release
		return nil
	})
	require.NoError(t, e.Start(context.Background()))

	start := time.Now()
	e.Stop()
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
	assert.Equal(t, StateStopping, e.State())

	close(release)
	waitDone(t, e, time.Second)
	assert.Equal(t, StateStopped, e.State())
}

func TestLifecycle_AbortClosesDone(t *testing.T) {
	e := newFuncEngine(time.Second, blockUntilDone)
	_, err := e.begin(context.Background())
	require.NoError(t, err)

	bindErr := errors.New("address in use")
	e.abort(bindErr)
	waitDone(t, e, time.Second)
	assert.ErrorIs(t, e.Err(), bindErr)
	assert.Equal(t, StateStopped, e.State())
}

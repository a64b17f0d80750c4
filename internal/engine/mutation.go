package engine

import (
	"context"
	"math/rand"
	"sync/atomic"

	"faultline/internal/anomaly"
	"faultline/internal/config"
	"faultline/internal/ratelimit"
	"faultline/internal/seeds"
)

// MutationEngine cycles seed payloads through an external mutator, or the
// built-in fallback when none is installed, and sends each result.
type MutationEngine struct {
	*lifecycle
	env      Env
	seeds    *seeds.Source
	injector *anomaly.Injector

	mutator       *Mutator
	mutatorFailed atomic.Bool
}

// NewMutation creates a mutation engine.
func NewMutation(env Env) *MutationEngine {
	env = env.withDefaults()
	cfg := env.Config
	return &MutationEngine{
		lifecycle: newLifecycle(string(config.EngineMutation), env),
		env:       env,
		seeds:     seeds.NewSource(cfg.SeedFiles, cfg.SeedMode, rand.NewSource(env.Seed+1)),
		injector:  anomaly.NewInjector(anomaly.MutationParams, rand.NewSource(env.Seed)),
	}
}

// Start probes for a mutator and the interface binding, then launches the
// send loop.
func (e *MutationEngine) Start(ctx context.Context) error {
	ctx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	cfg := e.env.Config
	log := e.env.Logger

	if m, ok := FindMutator(cfg.Options.Mutation.MutatorPath); ok {
		e.mutator = m
		log.Info("using external mutator", "path", m.Path())
	} else {
		log.Warn("no external mutator found, using fallback mutation")
	}

	loop := &sendLoop{
		name:     string(config.EngineMutation),
		env:      e.env,
		injector: e.injector,
		tx:       newTransmitter(cfg, probeBinding(cfg.Interface, log)),
		throttle: ratelimit.NewThrottle(e.env.throttle(config.EngineMutation)),
		next:     e.payload,
	}
	log.Info("engine started", "engine", loop.name, "target", cfg.Addr(), "transport", cfg.Transport,
		"seeds", e.seeds.Len(), "throttle", loop.throttle.Interval())
	e.run(ctx, loop.run)
	return nil
}

// Mutator returns the external mutator chosen at Start, or nil when the
// fallback is in use.
func (e *MutationEngine) Mutator() *Mutator {
	return e.mutator
}

func (e *MutationEngine) payload(ctx context.Context, i int) []byte {
	data, _, err := e.seeds.Next()
	if err != nil {
		e.env.Logger.Warn("seed unreadable, using default payload", "error", err)
	}
	if e.mutator != nil {
		out, err := e.mutator.Mutate(ctx, data)
		if err == nil {
			return out
		}
		if e.mutatorFailed.CompareAndSwap(false, true) {
			e.env.Logger.Warn("external mutator failed, falling back for this payload", "error", err)
		}
	}
	return fallbackMutation(data, i)
}

// fallbackMutation appends an index-derived byte and i%8 zero bytes.
func fallbackMutation(data []byte, i int) []byte {
	out := make([]byte, 0, len(data)+1+i%8)
	out = append(out, data...)
	out = append(out, byte(i%256))
	return append(out, make([]byte, i%8)...)
}

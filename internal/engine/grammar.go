package engine

import (
	"context"
	"math/rand"
	"time"

	"faultline/internal/anomaly"
	"faultline/internal/config"
	"faultline/internal/grammar"
	"faultline/internal/ratelimit"
)

// GrammarMode is the code path a grammar engine settled on at Start.
type GrammarMode string

const (
	GrammarSession  GrammarMode = "session"
	GrammarFallback GrammarMode = "fallback"
)

// GrammarEngine fuzzes a structural template over TCP. Over UDP, or when the
// configured template is unknown, it runs the mutation send loop with a
// length-sweeping fallback payload instead. The choice is made once at Start.
type GrammarEngine struct {
	*lifecycle
	env      Env
	injector *anomaly.Injector
	mode     GrammarMode
	session  *grammar.Session
}

// NewGrammar creates a grammar engine.
func NewGrammar(env Env) *GrammarEngine {
	env = env.withDefaults()
	return &GrammarEngine{
		lifecycle: newLifecycle(string(config.EngineGrammar), env),
		env:       env,
		injector:  anomaly.NewInjector(anomaly.GrammarParams, rand.NewSource(env.Seed)),
	}
}

// Start picks the session or fallback path and launches it.
func (e *GrammarEngine) Start(ctx context.Context) error {
	ctx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	cfg := e.env.Config
	log := e.env.Logger

	tx := newTransmitter(cfg, probeBinding(cfg.Interface, log))
	throttle := ratelimit.NewThrottle(e.env.throttle(config.EngineGrammar))

	tmpl, lookupErr := grammar.Lookup(cfg.Options.Grammar.Template)
	switch {
	case lookupErr != nil:
		log.Warn("grammar template unavailable, using fallback fuzzer", "error", lookupErr)
	case cfg.Transport != config.TransportTCP:
		log.Warn("grammar fuzzing needs tcp, using fallback fuzzer", "transport", cfg.Transport)
	default:
		e.mode = GrammarSession
		e.session = grammar.NewSession(tmpl)
		log.Info("engine started", "engine", "grammar", "mode", e.mode, "template", tmpl.Name,
			"cases", tmpl.Cases(), "target", cfg.Addr())
		e.run(ctx, func(ctx context.Context) error {
			return e.runSession(ctx, tx, throttle)
		})
		return nil
	}

	e.mode = GrammarFallback
	loop := &sendLoop{
		name:     "grammar-fallback",
		env:      e.env,
		injector: e.injector,
		tx:       tx,
		throttle: throttle,
		next:     func(_ context.Context, i int) []byte { return grammarFallbackPayload(i) },
	}
	log.Info("engine started", "engine", "grammar", "mode", e.mode, "target", cfg.Addr(), "transport", cfg.Transport)
	e.run(ctx, loop.run)
	return nil
}

// Mode reports the path chosen at Start; empty before Start.
func (e *GrammarEngine) Mode() GrammarMode {
	return e.mode
}

// runSession sends template cases until the run's duration elapses or ctx
// is cancelled. Each case counts as one send.
func (e *GrammarEngine) runSession(ctx context.Context, tx *transmitter, throttle *ratelimit.Throttle) error {
	if d := e.env.Config.Duration(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(d)*time.Second)
		defer cancel()
	}
	loop := &sendLoop{
		name:     "grammar",
		env:      e.env,
		injector: e.injector,
		tx:       tx,
		throttle: throttle,
		next:     func(context.Context, int) []byte { return e.session.Next().Data },
	}
	return loop.run(ctx)
}

// grammarFallbackPayload is (i%1500)+1 'A' bytes followed by byte(i%256).
func grammarFallbackPayload(i int) []byte {
	n := i%1500 + 1
	out := make([]byte, n+1)
	for j := 0; j < n; j++ {
		out[j] = 'A'
	}
	out[n] = byte(i % 256)
	return out
}

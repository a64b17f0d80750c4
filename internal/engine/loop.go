package engine

import (
	"context"

	"faultline/internal/anomaly"
	"faultline/internal/ratelimit"
)

// sendLoop is the iterate, inject, transmit, record cycle shared by the
// mutation engine and the grammar fallback.
type sendLoop struct {
	name     string
	env      Env
	injector *anomaly.Injector
	tx       *transmitter
	throttle *ratelimit.Throttle
	next     func(ctx context.Context, i int) []byte
}

func (l *sendLoop) run(ctx context.Context) error {
	cfg := l.env.Config
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		payload, cat := l.injector.Inject(l.next(ctx, i), cfg.AnomalyProfile)
		if err := l.tx.send(ctx, payload); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.env.Counters.Failed()
			l.env.Logger.Warn("send failed", "engine", l.name, "transport", cfg.Transport, "error", err)
			if err := ratelimit.Sleep(ctx, errorBackoff); err != nil {
				return err
			}
			continue
		}

		l.sent(payload, cat)
		if err := l.throttle.Wait(ctx); err != nil {
			return err
		}
	}
}

func (l *sendLoop) sent(payload []byte, cat anomaly.Category) {
	cfg := l.env.Config
	l.env.Counters.Sent(len(payload))
	if cat != "" {
		l.env.Counters.Injected(cat)
	}
	l.env.Recorder.WriteRaw(payload, cfg.TargetHost, cfg.TargetPort, cfg.Transport)
	l.env.Logger.Debug("sent", "engine", l.name, "transport", cfg.Transport, "len", len(payload), "anomaly", string(cat))
}

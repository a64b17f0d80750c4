// Package metrics exposes run and traffic counters for Prometheus scraping.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors on a private registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	runsStarted  *prometheus.CounterVec
	runsFinished *prometheus.CounterVec
	runsActive   *prometheus.GaugeVec
	sentTotal    *prometheus.CounterVec
	errorsTotal  *prometheus.CounterVec
	anomalies    *prometheus.CounterVec
	payloadBytes *prometheus.HistogramVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "faultline_runs_started_total",
				Help: "Runs launched",
			},
			[]string{"engine", "transport"},
		),
		runsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "faultline_runs_finished_total",
				Help: "Runs torn down, by outcome (ok or error)",
			},
			[]string{"engine", "outcome"},
		),
		runsActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "faultline_runs_active",
				Help: "Runs currently supervised",
			},
			[]string{"engine"},
		),
		sentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "faultline_sent_total",
				Help: "Payloads sent or relayed",
			},
			[]string{"engine", "transport"},
		),
		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "faultline_errors_total",
				Help: "Send, relay and injection failures",
			},
			[]string{"engine", "transport"},
		),
		anomalies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "faultline_anomalies_total",
				Help: "Anomaly transforms applied, by category",
			},
			[]string{"engine", "category"},
		),
		payloadBytes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "faultline_payload_bytes",
				Help:    "Size of payloads on the wire",
				Buckets: prometheus.ExponentialBuckets(16, 4, 7),
			},
			[]string{"engine"},
		),
	}
	m.registry.MustRegister(
		m.runsStarted,
		m.runsFinished,
		m.runsActive,
		m.sentTotal,
		m.errorsTotal,
		m.anomalies,
		m.payloadBytes,
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RunStarted(engine, transport string) {
	if m == nil {
		return
	}
	m.runsStarted.WithLabelValues(engine, transport).Inc()
	m.runsActive.WithLabelValues(engine).Inc()
}

// RunFinished records a teardown. failed marks runs that ended on an engine fault.
func (m *Metrics) RunFinished(engine string, failed bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	m.runsFinished.WithLabelValues(engine, outcome).Inc()
	m.runsActive.WithLabelValues(engine).Dec()
}

func (m *Metrics) Sent(engine, transport string, size int) {
	if m == nil {
		return
	}
	m.sentTotal.WithLabelValues(engine, transport).Inc()
	m.payloadBytes.WithLabelValues(engine).Observe(float64(size))
}

func (m *Metrics) Error(engine, transport string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(engine, transport).Inc()
}

func (m *Metrics) Anomaly(engine, category string) {
	if m == nil || category == "" {
		return
	}
	m.anomalies.WithLabelValues(engine, category).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

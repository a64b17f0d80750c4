package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"faultline/internal/config"
	"faultline/internal/events"
	"faultline/internal/metrics"
	"faultline/internal/progress"
	"faultline/internal/report"
	"faultline/internal/run"

	"github.com/spf13/cobra"
)

// startFunc launches the runs of a campaign on m.
type startFunc func(m *run.Manager) ([]string, error)

// runCampaign starts runs, follows them until they end or the process is
// interrupted, then prints the summary and checks thresholds.
func runCampaign(cmd *cobra.Command, cfg *config.Config, f *runFlags, start startFunc) error {
	if f.output != "text" && f.output != "json" {
		return fmt.Errorf("invalid output format %q (want text or json)", f.output)
	}
	level, err := parseLevel(f.logLevel)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Console output stays at warn so it does not fight the progress line;
	// run.log files get the requested level.
	console := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))

	var mx *metrics.Metrics
	if cfg.Metrics.Listen != "" {
		mx = metrics.New()
		go func() {
			if err := mx.Serve(ctx, cfg.Metrics.Listen); err != nil {
				console.Error("metrics endpoint failed", "listen", cfg.Metrics.Listen, "error", err)
			}
		}()
	}

	mgr := run.NewManager(
		run.WithRunsDir(cfg.RunsDir),
		run.WithLogger(console),
		run.WithLogLevel(level),
		run.WithMetrics(mx),
	)

	ids, err := start(mgr)
	if err != nil {
		return err
	}

	coll := report.NewCollector()
	prog := progress.NewProgress(coll, f.quiet || f.output == "json")
	prog.SetOutput(cmd.ErrOrStderr())
	for _, id := range ids {
		st := mgr.Status()[id]
		prog.Printf("Run %s started: %s %s -> %s, duration %ds",
			id, st.Config.Engine, st.Config.Transport, st.Config.Addr(), st.Config.Duration())
	}

	var wg sync.WaitGroup
	subs := make(map[string]*events.Subscription, len(ids))
	for _, id := range ids {
		sub := mgr.Subscribe(id)
		subs[id] = sub
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ev := range sub.C {
				coll.Report(ev)
				if ev.Type == events.TypeError {
					prog.Printf("Run %s: %s", ev.RunID, ev.Message)
				}
			}
		}()
	}

	prog.Start()
	interrupted := waitRuns(ctx, mgr, ids)
	if interrupted {
		prog.Print("Received interrupt signal, stopping runs...")
		mgr.StopAll()
	}
	prog.Stop()

	for id, sub := range subs {
		mgr.Unsubscribe(id, sub)
	}
	wg.Wait()
	coll.Close()

	summary := report.Compute(results(mgr, coll, ids), coll.Duration())

	var thresholdResults *report.ThresholdResults
	if cfg.Thresholds != nil {
		thresholdResults = cfg.Thresholds.Check(summary)
	}

	out := cmd.OutOrStdout()
	if f.output == "json" {
		report.FormatJSON(out, summary, thresholdResults)
	} else {
		report.FormatText(out, summary, thresholdResults)
	}

	if interrupted {
		return nil
	}
	if thresholdResults != nil && !thresholdResults.Passed {
		return errThresholdFailed
	}
	return nil
}

// waitRuns blocks until every run has finished or ctx is done. It reports
// whether ctx ended first.
func waitRuns(ctx context.Context, mgr *run.Manager, ids []string) bool {
	for _, id := range ids {
		done := mgr.Done(id)
		if done == nil {
			continue
		}
		select {
		case <-done:
		case <-ctx.Done():
			return true
		}
	}
	return false
}

// results merges the manager's final counters with the error messages the
// collector saw on the event stream.
func results(mgr *run.Manager, coll *report.Collector, ids []string) []report.RunResult {
	status := mgr.Status()
	out := make([]report.RunResult, 0, len(ids))
	for _, id := range ids {
		st, ok := status[id]
		if !ok {
			continue
		}
		r := report.RunResult{
			ID:        id,
			Engine:    string(st.Config.Engine),
			Transport: st.Config.Transport,
			Target:    st.Config.Addr(),
			Sent:      st.Sent,
			Errors:    st.Errors,
			Capture:   st.Capture,
		}
		if !st.Finished.IsZero() {
			r.Duration = st.Finished.Sub(st.Started)
		}
		if tally, ok := coll.Tally(id); ok {
			r.Failures = tally.Messages
		}
		if len(r.Failures) == 0 && st.Err != "" {
			r.Failures = []string{st.Err}
		}
		out = append(out, r)
	}
	return out
}

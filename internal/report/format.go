package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// FormatText writes the summary in human-readable format.
func FormatText(w io.Writer, s *Summary, thresholds *ThresholdResults) {
	if len(s.Runs) == 0 {
		fmt.Fprintln(w, "No runs recorded")
		return
	}

	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Faultline - Campaign Results")
	fmt.Fprintln(w, "==============================")
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "Duration:     %v\n", s.TestDuration.Round(time.Millisecond))
	fmt.Fprintf(w, "Runs:         %d\n", len(s.Runs))
	fmt.Fprintf(w, "Sent:         %s\n", formatNumber(s.TotalSent))
	fmt.Fprintf(w, "Errors:       %s (%.1f%%)\n", formatNumber(s.TotalErrors), s.ErrorRate)
	fmt.Fprintf(w, "Sends/sec:    %.1f\n", s.SendsPerSec)
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "By Run:")
	for _, r := range s.Runs {
		fmt.Fprintf(w, "  %s  %-16s %-4s %-21s sent=%s errors=%s\n",
			shortID(r.ID), r.Engine, r.Transport, r.Target,
			formatNumber(r.Sent), formatNumber(r.Errors))
		if r.Capture != "" {
			fmt.Fprintf(w, "      capture: %s\n", r.Capture)
		}
		for _, f := range r.Failures {
			fmt.Fprintf(w, "      error: %s\n", f)
		}
	}

	if thresholds != nil && len(thresholds.Results) > 0 {
		fmt.Fprintln(w, "")
		fmt.Fprintln(w, "Thresholds:")
		for _, result := range thresholds.Results {
			symbol := "✓"
			if !result.Passed {
				symbol = "✗"
			}
			fmt.Fprintf(w, "  %s %s %s (actual: %s)\n",
				symbol, result.Name, result.Threshold, result.Actual)
		}
	}
}

// FormatJSON writes the summary in JSON format.
func FormatJSON(w io.Writer, s *Summary, thresholds *ThresholdResults) {
	output := struct {
		Duration    string            `json:"duration"`
		TotalSent   int64             `json:"totalSent"`
		TotalErrors int64             `json:"totalErrors"`
		ErrorRate   float64           `json:"errorRate"`
		SendsPerSec float64           `json:"sendsPerSec"`
		Runs        []jsonRunResult   `json:"runs"`
		Thresholds  *ThresholdResults `json:"thresholds,omitempty"`
	}{
		Duration:    s.TestDuration.Round(time.Millisecond).String(),
		TotalSent:   s.TotalSent,
		TotalErrors: s.TotalErrors,
		ErrorRate:   s.ErrorRate,
		SendsPerSec: s.SendsPerSec,
		Runs:        make([]jsonRunResult, 0, len(s.Runs)),
		Thresholds:  thresholds,
	}

	for _, r := range s.Runs {
		output.Runs = append(output.Runs, jsonRunResult{
			RunResult: r,
			Duration:  r.Duration.Round(time.Millisecond).String(),
		})
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(output) // stdout errors are unrecoverable
}

type jsonRunResult struct {
	RunResult
	Duration string `json:"duration"`
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%d,%03d", n/1000, n%1000)
	}
	return fmt.Sprintf("%d,%03d,%03d", n/1000000, (n/1000)%1000, n%1000)
}

package report

import (
	"sort"
	"time"
)

// RunResult is the final state of one run.
type RunResult struct {
	ID        string        `json:"id"`
	Engine    string        `json:"engine"`
	Transport string        `json:"transport"`
	Target    string        `json:"target"`
	Sent      int64         `json:"sent"`
	Errors    int64         `json:"errors"`
	Duration  time.Duration `json:"-"`
	Capture   string        `json:"capture,omitempty"`
	Failures  []string      `json:"failures,omitempty"`
}

// Summary aggregates a campaign of one or more runs.
type Summary struct {
	Runs         []RunResult
	TotalSent    int64
	TotalErrors  int64
	ErrorRate    float64 // percent of attempts that failed
	SendsPerSec  float64
	TestDuration time.Duration
}

// Compute builds a Summary. Pure function, no side effects. Runs are sorted
// by id for stable output.
func Compute(runs []RunResult, testDuration time.Duration) *Summary {
	s := &Summary{
		Runs:         append([]RunResult(nil), runs...),
		TestDuration: testDuration,
	}
	sort.Slice(s.Runs, func(i, j int) bool { return s.Runs[i].ID < s.Runs[j].ID })

	for _, r := range s.Runs {
		s.TotalSent += r.Sent
		s.TotalErrors += r.Errors
	}

	if attempts := s.TotalSent + s.TotalErrors; attempts > 0 {
		s.ErrorRate = float64(s.TotalErrors) / float64(attempts) * 100
	}
	if testDuration > 0 {
		s.SendsPerSec = float64(s.TotalSent) / testDuration.Seconds()
	}
	return s
}

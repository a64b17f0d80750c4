package report

import (
	"fmt"
	"strconv"
	"strings"
)

// Thresholds defines pass/fail criteria for a campaign.
type Thresholds struct {
	ErrorRate string `yaml:"error_rate"` // e.g. "5%"; fails when the rate reaches it
	MinSent   int64  `yaml:"min_sent"`
}

// ThresholdResult represents the outcome of a single threshold check.
type ThresholdResult struct {
	Name      string `json:"name"`
	Passed    bool   `json:"passed"`
	Threshold string `json:"threshold"`
	Actual    string `json:"actual"`
}

// ThresholdResults contains all threshold check results.
type ThresholdResults struct {
	Passed  bool              `json:"passed"`
	Results []ThresholdResult `json:"results"`
}

// Validate reports malformed threshold values.
func (t *Thresholds) Validate() error {
	if t == nil {
		return nil
	}
	if t.ErrorRate != "" {
		if _, err := parsePercentage(t.ErrorRate); err != nil {
			return err
		}
	}
	if t.MinSent < 0 {
		return fmt.Errorf("min_sent must not be negative")
	}
	return nil
}

// Check evaluates all thresholds against a summary.
func (t *Thresholds) Check(s *Summary) *ThresholdResults {
	if t == nil {
		return &ThresholdResults{Passed: true, Results: nil}
	}

	results := &ThresholdResults{
		Passed:  true,
		Results: make([]ThresholdResult, 0),
	}

	if t.ErrorRate != "" {
		results.checkErrorRate(t.ErrorRate, s)
	}

	if t.MinSent > 0 {
		passed := s.TotalSent >= t.MinSent
		if !passed {
			results.Passed = false
		}
		results.Results = append(results.Results, ThresholdResult{
			Name:      "sent.min",
			Passed:    passed,
			Threshold: strconv.FormatInt(t.MinSent, 10),
			Actual:    strconv.FormatInt(s.TotalSent, 10),
		})
	}

	return results
}

func (r *ThresholdResults) checkErrorRate(threshold string, s *Summary) {
	thresholdRate, err := parsePercentage(threshold)
	if err != nil {
		return
	}

	passed := s.ErrorRate < thresholdRate
	if !passed {
		r.Passed = false
	}

	r.Results = append(r.Results, ThresholdResult{
		Name:      "errors.rate",
		Passed:    passed,
		Threshold: threshold,
		Actual:    fmt.Sprintf("%.2f%%", s.ErrorRate),
	})
}

func parsePercentage(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if !strings.HasSuffix(s, "%") {
		return 0, fmt.Errorf("invalid percentage format: %s", s)
	}
	s = strings.TrimSuffix(s, "%")
	return strconv.ParseFloat(s, 64)
}

// Violations returns only the failed threshold results.
func (r *ThresholdResults) Violations() []ThresholdResult {
	violations := make([]ThresholdResult, 0)
	for _, result := range r.Results {
		if !result.Passed {
			violations = append(violations, result)
		}
	}
	return violations
}

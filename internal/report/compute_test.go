package report

import (
	"testing"
	"time"
)

func TestCompute_Empty(t *testing.T) {
	s := Compute(nil, 10*time.Second)

	if s.TotalSent != 0 || s.TotalErrors != 0 {
		t.Errorf("expected zero totals, got %d/%d", s.TotalSent, s.TotalErrors)
	}
	if s.ErrorRate != 0 {
		t.Errorf("expected 0 error rate, got %f", s.ErrorRate)
	}
	if s.TestDuration != 10*time.Second {
		t.Errorf("expected 10s duration, got %v", s.TestDuration)
	}
}

func TestCompute_Totals(t *testing.T) {
	runs := []RunResult{
		{ID: "b", Sent: 70, Errors: 5},
		{ID: "a", Sent: 20, Errors: 5},
	}

	s := Compute(runs, 2*time.Second)

	if s.TotalSent != 90 {
		t.Errorf("TotalSent = %d, want 90", s.TotalSent)
	}
	if s.TotalErrors != 10 {
		t.Errorf("TotalErrors = %d, want 10", s.TotalErrors)
	}
	if s.ErrorRate != 10.0 {
		t.Errorf("ErrorRate = %f, want 10", s.ErrorRate)
	}
	if s.SendsPerSec != 45.0 {
		t.Errorf("SendsPerSec = %f, want 45", s.SendsPerSec)
	}
	if s.Runs[0].ID != "a" {
		t.Errorf("runs not sorted: %v", s.Runs)
	}
	if runs[0].ID != "b" {
		t.Error("Compute modified its input")
	}
}

package report_test

import (
	"fmt"
	"time"

	"faultline/internal/events"
	"faultline/internal/report"
)

func ExampleNewCollector() {
	c := report.NewCollector()

	// Events normally arrive from a run subscription
	hb := events.Heartbeat(42, 3)
	hb.RunID = "run-1"
	c.Report(hb)
	c.Close()

	tally, _ := c.Tally("run-1")
	fmt.Printf("sent=%d errors=%d\n", tally.Sent, tally.Errors)
	// Output: sent=42 errors=3
}

func ExampleCompute() {
	s := report.Compute([]report.RunResult{
		{ID: "a", Sent: 90, Errors: 10},
	}, time.Second)

	fmt.Printf("Sent: %d, Error rate: %.0f%%\n", s.TotalSent, s.ErrorRate)
	// Output: Sent: 90, Error rate: 10%
}

// Package progress renders a one-line live status of a campaign on stderr.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"faultline/internal/report"
)

type Progress struct {
	startTime time.Time
	collector *report.Collector
	ticker    *time.Ticker
	stopCh    chan struct{}
	stopped   atomic.Bool
	quiet     bool
	output    io.Writer
	mu        sync.Mutex
}

func NewProgress(c *report.Collector, quiet bool) *Progress {
	return &Progress{
		collector: c,
		quiet:     quiet,
		output:    os.Stderr,
	}
}

func (p *Progress) SetOutput(w io.Writer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.output = w
}

func (p *Progress) Start() {
	if p.quiet {
		return
	}
	p.startTime = time.Now()
	p.stopCh = make(chan struct{})
	p.ticker = time.NewTicker(1 * time.Second)
	go p.run()
}

func (p *Progress) run() {
	for {
		select {
		case <-p.stopCh:
			return
		case <-p.ticker.C:
			p.printProgress()
		}
	}
}

func (p *Progress) printProgress() {
	elapsed := time.Since(p.startTime)
	p.mu.Lock()
	fmt.Fprint(p.output, Line(p.collector.Totals(), elapsed))
	p.mu.Unlock()
}

// Line formats the status line for totals after elapsed. It starts with a
// carriage return and clears the rest of the terminal line.
func Line(t report.Totals, elapsed time.Duration) string {
	elapsed = elapsed.Round(time.Second)
	mins := int(elapsed.Minutes())
	secs := int(elapsed.Seconds()) % 60
	rate := 0.0
	if elapsed > 0 {
		rate = float64(t.Sent) / elapsed.Seconds()
	}
	errorRate := 0.0
	if attempts := t.Sent + t.Errors; attempts > 0 {
		errorRate = float64(t.Errors) / float64(attempts) * 100
	}
	return fmt.Sprintf("\r\033[K[%02d:%02d] Runs: %d active | Sent: %d | Rate: %.1f/s | Errors: %d (%.1f%%)",
		mins, secs, t.Runs-t.Finished, t.Sent, rate, t.Errors, errorRate)
}

func (p *Progress) Stop() {
	if p.quiet || p.stopped.Swap(true) {
		return
	}
	if p.ticker != nil {
		p.ticker.Stop()
	}
	if p.stopCh != nil {
		close(p.stopCh)
	}
	p.mu.Lock()
	fmt.Fprintf(p.output, "\r\033[K")
	p.mu.Unlock()
}

func (p *Progress) Print(message string) {
	if p.quiet {
		return
	}
	p.mu.Lock()
	fmt.Fprintf(p.output, "\r\033[K%s\n", message)
	p.mu.Unlock()
}

func (p *Progress) Printf(format string, args ...any) {
	if p.quiet {
		return
	}
	p.mu.Lock()
	fmt.Fprintf(p.output, "\r\033[K"+format+"\n", args...)
	p.mu.Unlock()
}

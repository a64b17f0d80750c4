// Package report aggregates run events and renders end-of-campaign results.
package report

import (
	"sync"
	"sync/atomic"
	"time"

	"faultline/internal/events"
)

// Tally is what the collector learned about one run from its events.
type Tally struct {
	Sent       int64
	Errors     int64
	Heartbeats int
	Messages   []string // error event messages, in arrival order
	Capture    string
	Finished   bool
}

// Collector folds events from any number of runs into per-run tallies.
type Collector struct {
	tallies   map[string]*Tally
	ch        chan events.Event
	done      chan struct{}
	dropped   atomic.Int64
	mu        sync.Mutex
	startTime time.Time
	endTime   time.Time
}

// NewCollector creates a new Collector and starts its collection goroutine.
func NewCollector() *Collector {
	c := &Collector{
		tallies:   make(map[string]*Tally),
		ch:        make(chan events.Event, 1000),
		done:      make(chan struct{}),
		startTime: time.Now(),
	}
	go c.collect()
	return c
}

func (c *Collector) collect() {
	for ev := range c.ch {
		c.mu.Lock()
		c.apply(ev)
		c.mu.Unlock()
	}
	close(c.done)
}

func (c *Collector) apply(ev events.Event) {
	t, ok := c.tallies[ev.RunID]
	if !ok {
		t = &Tally{}
		c.tallies[ev.RunID] = t
	}
	switch ev.Type {
	case events.TypeHeartbeat:
		t.Heartbeats++
		t.Sent = ev.Sent
		t.Errors = ev.Errors
	case events.TypeError:
		t.Messages = append(t.Messages, ev.Message)
	case events.TypeFinished:
		t.Finished = true
		t.Capture = ev.Capture
	}
}

// Report sends an event to the collector. Never blocks; events that do not
// fit the buffer are counted as dropped.
func (c *Collector) Report(ev events.Event) {
	select {
	case c.ch <- ev:
	default:
		c.dropped.Add(1)
	}
}

// Close stops accepting events and waits for queued ones to be applied.
func (c *Collector) Close() {
	c.endTime = time.Now()
	close(c.ch)
	<-c.done
}

// Tally returns a copy of the tally for runID.
func (c *Collector) Tally(runID string) (Tally, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tallies[runID]
	if !ok {
		return Tally{}, false
	}
	cp := *t
	cp.Messages = append([]string(nil), t.Messages...)
	return cp, true
}

// DroppedEvents returns the number of events that did not fit the buffer.
func (c *Collector) DroppedEvents() int64 {
	return c.dropped.Load()
}

// Duration returns the collection duration.
// If the collector is closed, returns the duration from start to end.
// If still running, returns the duration from start to now.
func (c *Collector) Duration() time.Duration {
	if !c.endTime.IsZero() {
		return c.endTime.Sub(c.startTime)
	}
	return time.Since(c.startTime)
}

// Totals is the sum of the latest tallies of every run seen so far.
type Totals struct {
	Runs     int
	Finished int
	Sent     int64
	Errors   int64
}

// Totals sums the current tallies.
func (c *Collector) Totals() Totals {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out Totals
	for _, t := range c.tallies {
		out.Runs++
		if t.Finished {
			out.Finished++
		}
		out.Sent += t.Sent
		out.Errors += t.Errors
	}
	return out
}

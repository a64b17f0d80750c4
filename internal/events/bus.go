// Package events multicasts run progress notifications to observers.
package events

import (
	"sync"
	"time"
)

// Type identifies an event.
type Type string

const (
	TypeHeartbeat Type = "heartbeat"
	TypeError     Type = "error"
	TypeFinished  Type = "finished"
	TypeInfo      Type = "info"
)

// Event is a single notification about a run. Only the fields relevant to
// Type are set.
type Event struct {
	Type    Type      `json:"type"`
	RunID   string    `json:"run_id"`
	Time    time.Time `json:"time"`
	Sent    int64     `json:"sent,omitempty"`
	Errors  int64     `json:"errors,omitempty"`
	Message string    `json:"message,omitempty"`
	Capture string    `json:"capture,omitempty"`
}

func Heartbeat(sent, errors int64) Event {
	return Event{Type: TypeHeartbeat, Time: time.Now(), Sent: sent, Errors: errors}
}

func Error(msg string) Event {
	return Event{Type: TypeError, Time: time.Now(), Message: msg}
}

func Finished(capture string) Event {
	return Event{Type: TypeFinished, Time: time.Now(), Capture: capture}
}

func Info(msg string) Event {
	return Event{Type: TypeInfo, Time: time.Now(), Message: msg}
}

// DefaultBuffer is the per-subscriber queue depth.
const DefaultBuffer = 64

// Subscription is one observer's queue for a run.
type Subscription struct {
	C  <-chan Event
	ch chan Event
}

// Bus holds, per run id, the set of subscriber queues.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
}

// NewBus creates a Bus whose subscriber queues hold buffer events.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// Subscribe registers a new queue for runID.
func (b *Bus) Subscribe(runID string) *Subscription {
	ch := make(chan Event, b.buffer)
	sub := &Subscription{C: ch, ch: ch}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[runID] == nil {
		b.subs[runID] = make(map[*Subscription]struct{})
	}
	b.subs[runID][sub] = struct{}{}
	return sub
}

// Unsubscribe removes sub and closes its channel. No-op if absent.
func (b *Bus) Unsubscribe(runID string, sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[runID]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	close(sub.ch)
	if len(set) == 0 {
		delete(b.subs, runID)
	}
}

// Publish delivers ev to every subscriber of runID. A subscriber whose queue
// is full misses the event; Publish never blocks.
func (b *Bus) Publish(runID string, ev Event) {
	ev.RunID = runID
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs[runID] {
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

// Subscribers returns the number of queues registered for runID.
func (b *Bus) Subscribers(runID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[runID])
}

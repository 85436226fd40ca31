package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const DefaultMaxEvents = 10000

// RotationEvent records one acquire/rotate decision. Failed decisions
// (no eligible resource) are recorded too, with Success=false; probe
// results never append events, they only mutate resource health.
type RotationEvent struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	PoolID     string    `json:"poolId"`
	PreviousID string    `json:"previousResourceId"`
	NewID      string    `json:"newResourceId"`
	Strategy   string    `json:"strategy"`
	Reason     string    `json:"reason"`
	Success    bool      `json:"success"`
	LatencyMs  int64     `json:"latencyMs,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Sink receives every appended event, e.g. for mirroring into redis.
// Sink errors are the sink's problem, not the log's.
type Sink interface {
	Append(ev RotationEvent) error
}

// Log is the bounded in-memory rotation history. Oldest entries are
// evicted first once the cap is reached. Sink writes go through a
// buffered forwarder goroutine, so a slow sink never stalls Append and
// the acquire path behind it.
type Log struct {
	mu     sync.Mutex
	events []RotationEvent
	max    int
	sink   Sink
	sinkCh chan RotationEvent
}

func NewLog(max int) *Log {
	if max <= 0 {
		max = DefaultMaxEvents
	}
	return &Log{
		events: make([]RotationEvent, 0, max),
		max:    max,
	}
}

func (l *Log) SetSink(s Sink) {
	l.mu.Lock()
	l.sink = s
	if l.sinkCh == nil {
		l.sinkCh = make(chan RotationEvent, 256)
		go l.forwardToSink()
	}
	l.mu.Unlock()
}

func (l *Log) forwardToSink() {
	for ev := range l.sinkCh {
		l.mu.Lock()
		sink := l.sink
		l.mu.Unlock()
		if sink != nil {
			_ = sink.Append(ev)
		}
	}
}

func (l *Log) Append(ev RotationEvent) RotationEvent {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	l.mu.Lock()
	if len(l.events) >= l.max {
		copy(l.events, l.events[1:])
		l.events = l.events[:len(l.events)-1]
	}
	l.events = append(l.events, ev)
	sinkCh := l.sinkCh
	l.mu.Unlock()

	if sinkCh != nil {
		select {
		case sinkCh <- ev:
		default:
			// sink is far behind; the in-memory log stays authoritative
		}
	}
	return ev
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// Recent returns up to n most recent events, newest first.
func (l *Log) Recent(n int) []RotationEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return newestFirst(l.events, n)
}

// ByPool returns up to n most recent events for one pool, newest first.
func (l *Log) ByPool(poolID string, n int) []RotationEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	matched := make([]RotationEvent, 0, n)
	for i := len(l.events) - 1; i >= 0 && len(matched) < n; i-- {
		if l.events[i].PoolID == poolID {
			matched = append(matched, l.events[i])
		}
	}
	return matched
}

func newestFirst(events []RotationEvent, n int) []RotationEvent {
	if n <= 0 || n > len(events) {
		n = len(events)
	}
	out := make([]RotationEvent, 0, n)
	for i := len(events) - 1; i >= len(events)-n; i-- {
		out = append(out, events[i])
	}
	return out
}

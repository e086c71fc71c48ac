package passes

import (
	"sync"
	"sync/atomic"

	"github.com/banshee-data/split.report/internal/monitoring"
	"github.com/banshee-data/split.report/internal/rssi"
)

// EventKind identifies what an Event reports.
type EventKind string

const (
	EventTransition EventKind = "transition" // a pass changed state
	EventSample     EventKind = "sample"     // a sample was accepted into a pass
	EventFinalized  EventKind = "finalized"  // a pass reached a terminal state
)

// Event is published by the tracker for every transition, every accepted
// sample and every finalized pass. Record is a copy taken after the change.
type Event struct {
	Kind        EventKind         `json:"kind"`
	BeaconID    int               `json:"beacon_id"`
	PassID      int64             `json:"pass_id"`
	From        State             `json:"from,omitempty"`
	To          State             `json:"to,omitempty"`
	TimestampMs int64             `json:"timestamp_ms"`
	Record      PassRecord        `json:"record"`
	Sample      *rssi.Sample      `json:"sample,omitempty"`
	Kalman      *rssi.KalmanState `json:"kalman,omitempty"`
	Cause       string            `json:"cause,omitempty"`
}

// Sink receives tracker events. Publish must not block.
type Sink interface {
	Publish(e Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(e Event)

// Publish calls f(e).
func (f SinkFunc) Publish(e Event) { f(e) }

type discard struct{}

func (discard) Publish(Event) {}

// Queue is a single-consumer event buffer. Publish never blocks. Sample
// events are dropped and counted once size events are waiting; transition
// and finalized events are always kept, so a pass is never lost to a
// backlog of samples. Events are delivered in publish order.
type Queue struct {
	mu       sync.Mutex
	pending  []Event
	buffered int // accepted but not yet received
	size     int
	closed   bool

	wake    chan struct{}
	out     chan Event
	dropped atomic.Uint64
	metrics *monitoring.Metrics
}

// NewQueue returns a queue holding up to size sample events.
func NewQueue(size int) *Queue {
	if size < 1 {
		size = 1
	}
	q := &Queue{
		size: size,
		wake: make(chan struct{}, 1),
		out:  make(chan Event),
	}
	go q.pump()
	return q
}

// SetMetrics attaches collectors for dropped events.
func (q *Queue) SetMetrics(m *monitoring.Metrics) {
	q.metrics = m
}

// Publish implements Sink.
func (q *Queue) Publish(e Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	if e.Kind == EventSample && q.buffered >= q.size {
		q.mu.Unlock()
		n := q.dropped.Add(1)
		q.metrics.IncDropped()
		if n == 1 || n%100 == 0 {
			monitoring.Logf("[passes] event queue full, dropped %d sample events (last: beacon=%d pass=%d)", n, e.BeaconID, e.PassID)
		}
		return
	}
	q.pending = append(q.pending, e)
	q.buffered++
	q.mu.Unlock()
	q.signal()
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// pump hands pending events to the consumer one at a time and closes the
// output once the queue is closed and drained.
func (q *Queue) pump() {
	defer close(q.out)
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}
			<-q.wake
			continue
		}
		e := q.pending[0]
		q.pending[0] = Event{}
		q.pending = q.pending[1:]
		q.mu.Unlock()

		q.out <- e

		q.mu.Lock()
		q.buffered--
		q.mu.Unlock()
	}
}

// Events returns the receive side of the queue. It is closed once Close has
// been called and every accepted event has been received.
func (q *Queue) Events() <-chan Event {
	return q.out
}

// Dropped returns the number of sample events discarded because the queue
// was full.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

// Len returns the number of accepted events not yet received.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.buffered
}

// Close stops accepting events. Buffered events can still be drained.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.signal()
}

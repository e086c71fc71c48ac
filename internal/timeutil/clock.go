// Package timeutil abstracts wall-clock access so the loss sweep, the
// recorder retries and the uploader can be driven by a manual clock in tests.
package timeutil

import (
	"sync"
	"time"
)

// Clock is the subset of the time package used by periodic workers.
type Clock interface {
	Now() time.Time
	// NowMs returns Unix milliseconds, the unit of every pass timestamp.
	NowMs() int64
	NewTicker(d time.Duration) Ticker
	// After delivers the time once, d from now.
	After(d time.Duration) <-chan time.Time
}

// Ticker is the part of time.Ticker the workers use.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// RealClock implements Clock with the time package.
type RealClock struct{}

func (RealClock) Now() time.Time                         { return time.Now() }
func (RealClock) NowMs() int64                           { return time.Now().UnixMilli() }
func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (RealClock) NewTicker(d time.Duration) Ticker {
	return stdTicker{t: time.NewTicker(d)}
}

type stdTicker struct{ t *time.Ticker }

func (s stdTicker) C() <-chan time.Time { return s.t.C }
func (s stdTicker) Stop()               { s.t.Stop() }

// MockClock only moves when Set or Advance is called. Advance fires every
// ticker and timer whose deadline it crosses, once each.
type MockClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*MockTicker
}

// NewMockClock returns a MockClock reading t.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *MockClock) NowMs() int64 { return c.Now().UnixMilli() }

// Set jumps to t. Nothing fires.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Advance moves the clock by d and fires what came due. Spent timers are
// forgotten.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	live := c.timers[:0]
	var due []*MockTicker
	for _, t := range c.timers {
		if t.done() {
			continue
		}
		live = append(live, t)
		due = append(due, t)
	}
	c.timers = live
	c.mu.Unlock()

	for _, t := range due {
		t.fire(now)
	}
}

func (c *MockClock) NewTicker(d time.Duration) Ticker {
	return c.add(d, true)
}

func (c *MockClock) After(d time.Duration) <-chan time.Time {
	return c.add(d, false).ch
}

func (c *MockClock) add(d time.Duration, repeat bool) *MockTicker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &MockTicker{
		ch:     make(chan time.Time, 1),
		every:  d,
		due:    c.now.Add(d),
		repeat: repeat,
	}
	c.timers = append(c.timers, t)
	return t
}

// MockTicker backs both MockClock tickers and After timers.
type MockTicker struct {
	mu      sync.Mutex
	ch      chan time.Time
	every   time.Duration
	due     time.Time
	repeat  bool
	stopped bool
}

func (t *MockTicker) C() <-chan time.Time { return t.ch }

func (t *MockTicker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *MockTicker) done() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// fire sends at most one tick. A full channel swallows the tick, as with
// time.Ticker.
func (t *MockTicker) fire(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || now.Before(t.due) {
		return
	}
	select {
	case t.ch <- now:
	default:
	}
	if !t.repeat {
		t.stopped = true
		return
	}
	t.due = now.Add(t.every)
}

package passes

import (
	"context"
	"sync"
	"time"

	"github.com/banshee-data/split.report/internal/monitoring"
	"github.com/banshee-data/split.report/internal/timeutil"
)

// LossSweeper runs Tracker.Sweep periodically so that passes whose beacon
// went silent are finalized even though no further samples arrive.
type LossSweeper struct {
	tracker  *Tracker
	clock    timeutil.Clock
	Interval time.Duration

	mu            sync.RWMutex
	enabled       bool
	manualTrigger chan struct{}

	runCount       int64
	lastRunAt      time.Time
	lastFinalized  int
	totalFinalized int64
}

// SweepStatus is the externally visible state of the sweeper.
type SweepStatus struct {
	Enabled        bool      `json:"enabled"`
	IntervalMs     int64     `json:"interval_ms"`
	RunCount       int64     `json:"run_count"`
	LastRunAt      time.Time `json:"last_run_at"`
	LastFinalized  int       `json:"last_finalized"`
	TotalFinalized int64     `json:"total_finalized"`
	OpenPasses     int       `json:"open_passes"`
}

// NewLossSweeper creates a sweeper ticking every loss timeout of the
// tracker's config. A nil clock uses wall time.
func NewLossSweeper(tracker *Tracker, clock timeutil.Clock) *LossSweeper {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &LossSweeper{
		tracker:  tracker,
		clock:    clock,
		Interval: time.Duration(tracker.Config().LossTimeoutMs) * time.Millisecond,
		enabled:  true,
		// Buffered channel of size 1 to coalesce multiple rapid trigger requests.
		manualTrigger: make(chan struct{}, 1),
	}
}

// IsEnabled returns whether periodic sweeps run.
func (s *LossSweeper) IsEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled
}

// SetEnabled turns periodic sweeps on or off.
func (s *LossSweeper) SetEnabled(enabled bool) {
	s.mu.Lock()
	s.enabled = enabled
	s.mu.Unlock()
}

// Trigger requests an immediate sweep. It never blocks.
func (s *LossSweeper) Trigger() {
	select {
	case s.manualTrigger <- struct{}{}:
	default:
		monitoring.Logf("[sweep] manual trigger skipped (already pending)")
	}
}

// RunOnce sweeps at the clock's current time and returns the finalized
// passes.
func (s *LossSweeper) RunOnce() []PassRecord {
	now := s.clock.Now()
	finalized := s.tracker.Sweep(now.UnixMilli())

	s.mu.Lock()
	s.runCount++
	s.lastRunAt = now
	s.lastFinalized = len(finalized)
	s.totalFinalized += int64(len(finalized))
	s.mu.Unlock()

	if len(finalized) > 0 {
		monitoring.Logf("[sweep] finalized %d silent passes", len(finalized))
	}
	return finalized
}

// Status returns a snapshot of the sweeper.
func (s *LossSweeper) Status() SweepStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SweepStatus{
		Enabled:        s.enabled,
		IntervalMs:     s.Interval.Milliseconds(),
		RunCount:       s.runCount,
		LastRunAt:      s.lastRunAt,
		LastFinalized:  s.lastFinalized,
		TotalFinalized: s.totalFinalized,
		OpenPasses:     len(s.tracker.OpenPasses()),
	}
}

// Run sweeps on every tick while enabled and on every manual trigger until
// ctx is cancelled.
func (s *LossSweeper) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.Interval)
	defer ticker.Stop()
	monitoring.Logf("[sweep] loop started: enabled=%t interval=%s", s.IsEnabled(), s.Interval)

	for {
		select {
		case <-ticker.C():
			if s.IsEnabled() {
				s.RunOnce()
			}
		case <-s.manualTrigger:
			s.RunOnce()
		case <-ctx.Done():
			monitoring.Logf("[sweep] loop terminated")
			return ctx.Err()
		}
	}
}

package passes

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/split.report/internal/monitoring"
	"github.com/banshee-data/split.report/internal/rssi"
)

// Finalization causes reported on EventFinalized.
const (
	CauseEngine = "engine" // the state machine logged the pass
	CauseLoss   = "loss"   // the loss sweep finalized a silent pass
	CauseManual = "manual" // ClosePass
)

// DebugCollector receives the engine diagnostics after every step.
type DebugCollector interface {
	RecordStep(beaconID int, passID int64, state State, d Diagnostics)
}

// Update is the result of processing one sample.
type Update struct {
	Record      PassRecord   `json:"record"`
	Transitions []Transition `json:"transitions,omitempty"`
	Finalized   bool         `json:"finalized"`
	Diagnostics Diagnostics  `json:"diagnostics"`
}

// beaconState is everything the tracker keeps for one beacon. The record is
// the current pass, which may already be closed; the filters and the sample
// buffer exist only while it is open.
type beaconState struct {
	mu       sync.Mutex
	record   *PassRecord
	engine   Engine
	smoother *rssi.Smoother
	kalman   *rssi.Kalman
	samples  []rssi.Sample
}

func (bs *beaconState) open() bool {
	return bs.record != nil && bs.record.Open()
}

// Tracker owns the open pass of every beacon. Samples for different
// beacons are processed in parallel; samples and sweeps for the same beacon
// are serialised by a per-beacon lock.
type Tracker struct {
	cfg Config

	mu      sync.RWMutex
	beacons map[int]*beaconState

	nextPassID atomic.Int64
	openCount  atomic.Int64

	sink    Sink
	metrics *monitoring.Metrics
	debug   DebugCollector
}

// NewTracker creates a tracker publishing to sink. A nil sink discards
// events.
func NewTracker(cfg Config, sink Sink) *Tracker {
	if sink == nil {
		sink = discard{}
	}
	t := &Tracker{
		cfg:     cfg.normalized(),
		beacons: make(map[int]*beaconState),
		sink:    sink,
	}
	t.nextPassID.Store(1)
	return t
}

// Config returns the effective configuration.
func (t *Tracker) Config() Config { return t.cfg }

// SetMetrics attaches Prometheus collectors.
func (t *Tracker) SetMetrics(m *monitoring.Metrics) { t.metrics = m }

// SetDebugCollector attaches a diagnostics receiver.
func (t *Tracker) SetDebugCollector(d DebugCollector) { t.debug = d }

// SetNextPassID sets the id given to the next opened pass. Use it after
// loading history so ids keep increasing across restarts.
func (t *Tracker) SetNextPassID(id int64) {
	if id < 1 {
		id = 1
	}
	t.nextPassID.Store(id)
}

func (t *Tracker) beacon(id int) *beaconState {
	t.mu.RLock()
	bs, ok := t.beacons[id]
	t.mu.RUnlock()
	if ok {
		return bs
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if bs, ok = t.beacons[id]; !ok {
		bs = &beaconState{}
		t.beacons[id] = bs
	}
	return bs
}

func (t *Tracker) lookup(id int) (*beaconState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	bs, ok := t.beacons[id]
	return bs, ok
}

func (t *Tracker) all() []*beaconState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*beaconState, 0, len(t.beacons))
	for _, bs := range t.beacons {
		out = append(out, bs)
	}
	return out
}

// openLocked starts a new pass with fresh filters and engine.
func (t *Tracker) openLocked(bs *beaconState, beaconID int, nowMs int64) error {
	eng, err := NewEngine(t.cfg)
	if err != nil {
		return err
	}
	bs.record = &PassRecord{
		BeaconID:    beaconID,
		PassID:      t.nextPassID.Add(1) - 1,
		Engine:      t.cfg.Engine,
		State:       FirstSample,
		EntryTimeMs: nowMs,
		LastSeenMs:  nowMs,
	}
	bs.engine = eng
	bs.smoother = rssi.NewSmoother(t.cfg.EmaAlpha)
	bs.kalman = rssi.NewKalman(beaconID, t.cfg.KalmanQ, t.cfg.KalmanR, t.cfg.KalmanInitialP)
	bs.samples = nil
	t.metrics.SetOpenPasses(int(t.openCount.Add(1)))
	monitoring.Logf("[passes] beacon %d opened pass %d (%s)", beaconID, bs.record.PassID, t.cfg.Engine)
	return nil
}

// OpenPass explicitly opens a pass for a beacon.
func (t *Tracker) OpenPass(beaconID int, nowMs int64) (PassRecord, error) {
	if beaconID <= 0 {
		return PassRecord{}, ErrInvalidBeacon
	}
	bs := t.beacon(beaconID)
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if bs.open() {
		return PassRecord{}, fmt.Errorf("%w: beacon %d pass %d", ErrPassAlreadyOpen, beaconID, bs.record.PassID)
	}
	if err := t.openLocked(bs, beaconID, nowMs); err != nil {
		return PassRecord{}, err
	}
	return *bs.record, nil
}

// Process feeds one sample into the beacon's open pass, opening a new pass
// if the previous one is closed.
func (t *Tracker) Process(s rssi.Sample) (Update, error) {
	if s.BeaconID <= 0 {
		t.metrics.IncRejected("invalid_beacon")
		return Update{}, ErrInvalidBeacon
	}
	bs := t.beacon(s.BeaconID)
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if bs.open() && s.TimestampMs < bs.record.LastSeenMs {
		t.metrics.IncRejected("out_of_order")
		return Update{}, fmt.Errorf("%w: beacon %d ts %d < %d", ErrOutOfOrder, s.BeaconID, s.TimestampMs, bs.record.LastSeenMs)
	}
	if !bs.open() {
		if err := t.openLocked(bs, s.BeaconID, s.TimestampMs); err != nil {
			return Update{}, err
		}
	}

	rec := bs.record
	rec.SampleCount++
	rec.LastSeenMs = s.TimestampMs
	bs.samples = append(bs.samples, s)

	smoothed := bs.smoother.Smooth(float64(s.RSSI))
	estimate := bs.kalman.Update(float32(smoothed))
	rec.EstimatedRSSI = estimate

	moves := bs.engine.Step(rec, Reading{Sample: s, Smoothed: smoothed, Estimate: estimate})
	diag := bs.engine.Diagnostics()
	t.metrics.IncSample(string(rec.Engine))
	if t.debug != nil {
		t.debug.RecordStep(s.BeaconID, rec.PassID, rec.State, diag)
	}

	sample := s
	kst := bs.kalman.State()
	events := []Event{{
		Kind:        EventSample,
		BeaconID:    s.BeaconID,
		PassID:      rec.PassID,
		TimestampMs: s.TimestampMs,
		Record:      *rec,
		Sample:      &sample,
		Kalman:      &kst,
	}}
	events = t.appendTransitions(events, rec, moves)

	finalized := false
	if rec.State.Terminal() {
		events = append(events, t.finalizeLocked(bs, CauseEngine))
		finalized = true
	}
	t.publish(events)

	return Update{
		Record:      *rec,
		Transitions: moves,
		Finalized:   finalized,
		Diagnostics: diag,
	}, nil
}

func (t *Tracker) appendTransitions(events []Event, rec *PassRecord, moves []Transition) []Event {
	for _, m := range moves {
		t.metrics.IncTransition(string(m.From), string(m.To))
		monitoring.Logf("[passes] beacon %d pass %d %s -> %s at %d", rec.BeaconID, rec.PassID, m.From, m.To, m.TimestampMs)
		events = append(events, Event{
			Kind:        EventTransition,
			BeaconID:    rec.BeaconID,
			PassID:      rec.PassID,
			From:        m.From,
			To:          m.To,
			TimestampMs: m.TimestampMs,
			Record:      *rec,
		})
	}
	return events
}

// finalizeLocked refines the peak of a terminal pass and releases its
// filters and samples.
func (t *Tracker) finalizeLocked(bs *beaconState, cause string) Event {
	rec := bs.record
	if rec.State == Logged {
		if peak, ok := rssi.RefinePeak(bs.samples, t.cfg.EmaAlpha); ok {
			rec.PeakTimeMs = peak.TimeMs
			rec.PeakRSSI = peak.RSSI
			rec.PeakRefined = true
		}
	}
	bs.engine = nil
	bs.smoother = nil
	bs.kalman = nil
	bs.samples = nil

	t.metrics.SetOpenPasses(int(t.openCount.Add(-1)))
	t.metrics.IncFinalized(string(rec.State), cause)
	monitoring.Logf("[passes] beacon %d pass %d finalized %s (cause=%s samples=%d peak=%d refined=%t)",
		rec.BeaconID, rec.PassID, rec.State, cause, rec.SampleCount, rec.PeakTimeMs, rec.PeakRefined)

	return Event{
		Kind:        EventFinalized,
		BeaconID:    rec.BeaconID,
		PassID:      rec.PassID,
		To:          rec.State,
		TimestampMs: rec.ExitTimeMs,
		Record:      *rec,
		Cause:       cause,
	}
}

func (t *Tracker) publish(events []Event) {
	for _, e := range events {
		t.sink.Publish(e)
	}
}

// closeLocked moves an open pass to a terminal state and finalizes it.
func (t *Tracker) closeLocked(bs *beaconState, to State, nowMs int64, cause string) PassRecord {
	rec := bs.record
	st := &stepper{rec: rec, now: nowMs}
	st.move(to)
	rec.ExitTimeMs = nowMs
	events := t.appendTransitions(nil, rec, st.moves)
	events = append(events, t.finalizeLocked(bs, cause))
	t.publish(events)
	return *rec
}

// ClosePass logs the open pass of a beacon immediately.
func (t *Tracker) ClosePass(beaconID int, nowMs int64) (PassRecord, error) {
	if beaconID <= 0 {
		return PassRecord{}, ErrInvalidBeacon
	}
	bs, ok := t.lookup(beaconID)
	if !ok {
		return PassRecord{}, fmt.Errorf("%w: beacon %d", ErrNoOpenPass, beaconID)
	}
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if !bs.open() {
		return PassRecord{}, fmt.Errorf("%w: beacon %d", ErrNoOpenPass, beaconID)
	}
	return t.closeLocked(bs, Logged, nowMs, CauseManual), nil
}

// Snapshot returns a copy of the open pass of a beacon.
func (t *Tracker) Snapshot(beaconID int) (PassRecord, error) {
	if beaconID <= 0 {
		return PassRecord{}, ErrInvalidBeacon
	}
	bs, ok := t.lookup(beaconID)
	if !ok {
		return PassRecord{}, fmt.Errorf("%w: beacon %d", ErrNoOpenPass, beaconID)
	}
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if !bs.open() {
		return PassRecord{}, fmt.Errorf("%w: beacon %d", ErrNoOpenPass, beaconID)
	}
	return *bs.record, nil
}

// OpenPasses returns copies of all open passes ordered by beacon id.
func (t *Tracker) OpenPasses() []PassRecord {
	var out []PassRecord
	for _, bs := range t.all() {
		bs.mu.Lock()
		if bs.open() {
			out = append(out, *bs.record)
		}
		bs.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BeaconID < out[j].BeaconID })
	return out
}

// CurrentEstimate returns the live Kalman estimate of a beacon with an open
// pass.
func (t *Tracker) CurrentEstimate(beaconID int) (float32, bool) {
	bs, ok := t.lookup(beaconID)
	if !ok {
		return 0, false
	}
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if !bs.open() || bs.kalman == nil {
		return 0, false
	}
	return bs.kalman.Estimate()
}

// Diagnostics returns the last engine diagnostics of a beacon with an open
// pass.
func (t *Tracker) Diagnostics(beaconID int) (Diagnostics, bool) {
	bs, ok := t.lookup(beaconID)
	if !ok {
		return Diagnostics{}, false
	}
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if !bs.open() || bs.engine == nil {
		return Diagnostics{}, false
	}
	return bs.engine.Diagnostics(), true
}

// Restore warm-starts an open pass loaded from storage. The stored samples
// are replayed to rebuild the conditioner and regression window; the stored
// Kalman state, when present, replaces the replayed one.
func (t *Tracker) Restore(rec PassRecord, kalman *rssi.KalmanState, samples []rssi.Sample) error {
	if rec.BeaconID <= 0 {
		return ErrInvalidBeacon
	}
	if !rec.Open() {
		return fmt.Errorf("%w: beacon %d pass %d is %s", ErrPassClosed, rec.BeaconID, rec.PassID, rec.State)
	}
	bs := t.beacon(rec.BeaconID)
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if bs.open() {
		return fmt.Errorf("%w: beacon %d pass %d", ErrPassAlreadyOpen, rec.BeaconID, bs.record.PassID)
	}

	cfg := t.cfg
	if rec.Engine != "" {
		cfg.Engine = rec.Engine
	}
	eng, err := NewEngine(cfg)
	if err != nil {
		return err
	}
	smoother := rssi.NewSmoother(t.cfg.EmaAlpha)
	k := rssi.NewKalman(rec.BeaconID, t.cfg.KalmanQ, t.cfg.KalmanR, t.cfg.KalmanInitialP)

	scratch := PassRecord{BeaconID: rec.BeaconID, PassID: rec.PassID, Engine: eng.Kind(), State: FirstSample}
	for _, s := range samples {
		scratch.SampleCount++
		scratch.LastSeenMs = s.TimestampMs
		smoothed := smoother.Smooth(float64(s.RSSI))
		est := k.Update(float32(smoothed))
		eng.Step(&scratch, Reading{Sample: s, Smoothed: smoothed, Estimate: est})
	}
	if kalman != nil {
		k = rssi.RestoreKalman(*kalman)
	}

	r := rec
	r.Engine = eng.Kind()
	eng.Resume(r)
	bs.record = &r
	bs.engine = eng
	bs.smoother = smoother
	bs.kalman = k
	bs.samples = append([]rssi.Sample(nil), samples...)

	for {
		next := t.nextPassID.Load()
		if rec.PassID < next || t.nextPassID.CompareAndSwap(next, rec.PassID+1) {
			break
		}
	}
	t.metrics.SetOpenPasses(int(t.openCount.Add(1)))
	monitoring.Logf("[passes] beacon %d restored pass %d in %s with %d samples", rec.BeaconID, rec.PassID, rec.State, len(samples))
	return nil
}

// Sweep finalizes open passes that have been silent for at least the loss
// timeout. Passes with a recorded peak are LOGGED; peakless passes are
// TIMED_OUT or left open depending on the loss policy.
func (t *Tracker) Sweep(nowMs int64) []PassRecord {
	t.metrics.IncSweep()
	var out []PassRecord
	for _, bs := range t.all() {
		bs.mu.Lock()
		if bs.open() && nowMs-bs.record.LastSeenMs >= t.cfg.LossTimeoutMs {
			switch {
			case bs.record.HasPeak():
				out = append(out, t.closeLocked(bs, Logged, nowMs, CauseLoss))
			case t.cfg.LossPolicy == LossTimeOutPeakless:
				out = append(out, t.closeLocked(bs, TimedOut, nowMs, CauseLoss))
			}
		}
		bs.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BeaconID < out[j].BeaconID })
	return out
}

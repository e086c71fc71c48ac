package db

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/banshee-data/split.report/internal/monitoring"
	"github.com/banshee-data/split.report/internal/passes"
	"github.com/banshee-data/split.report/internal/rssi"
	"github.com/banshee-data/split.report/internal/timeutil"
)

func init() {
	monitoring.SetLogger(nil)
}

var passRSSI = []int32{-95, -91, -87, -83, -79, -76, -72, -68, -64, -60, -64, -67, -70, -74, -78, -81, -84, -88, -92, -95}

func passSamples(beaconID int) []rssi.Sample {
	out := make([]rssi.Sample, len(passRSSI))
	for i, r := range passRSSI {
		out[i] = rssi.Sample{BeaconID: beaconID, TimestampMs: 1000 + int64(i)*200, RSSI: r}
	}
	return out
}

// record runs samples through tracker, closes the queue and drains every
// event through rec.
func record(t *testing.T, rec *Recorder, tracker *passes.Tracker, q *passes.Queue, samples []rssi.Sample) {
	t.Helper()
	for _, s := range samples {
		if _, err := tracker.Process(s); err != nil {
			t.Fatalf("Process(%+v): %v", s, err)
		}
	}
	q.Close()
	if err := rec.Run(context.Background(), q.Events()); err != nil {
		t.Fatalf("Recorder.Run returned %v", err)
	}
}

func TestRecorderPersistsPass(t *testing.T) {
	db := setupTestDB(t)
	q := passes.NewQueue(1024)
	tracker := passes.NewTracker(passes.DefaultConfig(), q)

	rec := NewRecorder(db, true)
	var mu sync.Mutex
	var finalized []passes.PassRecord
	rec.OnFinalized(func(r passes.PassRecord) {
		mu.Lock()
		defer mu.Unlock()
		finalized = append(finalized, r)
	})

	record(t, rec, tracker, q, passSamples(7)[:19])

	if len(finalized) != 1 {
		t.Fatalf("finalized callbacks = %d, want 1", len(finalized))
	}
	got, err := db.PassByID(finalized[0].PassID)
	if err != nil {
		t.Fatalf("PassByID failed: %v", err)
	}
	if got.State != passes.Logged || got.PeakTimeMs != 2800 || got.ExitTimeMs != 4600 || !got.PeakRefined {
		t.Errorf("stored pass = %+v, want LOGGED peak 2800 exit 4600 refined", got)
	}

	samples, err := db.SamplesForPass(got.PassID)
	if err != nil {
		t.Fatalf("SamplesForPass failed: %v", err)
	}
	if len(samples) != 19 {
		t.Errorf("stored samples = %d, want 19", len(samples))
	}

	states, err := db.KalmanStates()
	if err != nil {
		t.Fatalf("KalmanStates failed: %v", err)
	}
	if _, ok := states[7]; ok {
		t.Error("kalman state should be removed once the pass is finalized")
	}

	st := rec.Status()
	if !st.IsHealthy || st.EventsWritten == 0 || st.Batches == 0 {
		t.Errorf("unexpected recorder status %+v", st)
	}
}

func TestRecorderPrunesSamplesWhenNotRetained(t *testing.T) {
	db := setupTestDB(t)
	q := passes.NewQueue(1024)
	tracker := passes.NewTracker(passes.DefaultConfig(), q)

	rec := NewRecorder(db, false)
	record(t, rec, tracker, q, passSamples(7)[:19])

	counts, err := db.SampleCounts()
	if err != nil {
		t.Fatalf("SampleCounts failed: %v", err)
	}
	if len(counts) != 0 {
		t.Errorf("expected samples pruned, got counts %v", counts)
	}
}

func TestRecorderKeepsOpenPassState(t *testing.T) {
	db := setupTestDB(t)
	q := passes.NewQueue(1024)
	tracker := passes.NewTracker(passes.DefaultConfig(), q)

	record(t, NewRecorder(db, true), tracker, q, passSamples(3)[:8])

	open, err := db.OpenPasses()
	if err != nil {
		t.Fatalf("OpenPasses failed: %v", err)
	}
	if len(open) != 1 || open[0].BeaconID != 3 || open[0].SampleCount != 8 {
		t.Fatalf("OpenPasses = %+v, want one pass of beacon 3 with 8 samples", open)
	}
	states, err := db.KalmanStates()
	if err != nil {
		t.Fatalf("KalmanStates failed: %v", err)
	}
	if st, ok := states[3]; !ok || !st.Initialized {
		t.Errorf("expected initialised kalman state for beacon 3, got %+v", states)
	}
}

func TestRecorderStopsOnCancel(t *testing.T) {
	db := setupTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	events := make(chan passes.Event)
	if err := NewRecorder(db, true).Run(ctx, events); err != context.Canceled {
		t.Errorf("Run err = %v, want context.Canceled", err)
	}
}

// failCommits makes the first n commits of rec fail as a locked database
// would.
func failCommits(rec *Recorder, n int) {
	rec.commit = func(tx *sql.Tx) error {
		if n > 0 {
			n--
			return errors.New("database is locked")
		}
		return tx.Commit()
	}
}

// processAll runs samples through tracker and returns the last update.
func processAll(t *testing.T, tracker *passes.Tracker, samples []rssi.Sample) passes.Update {
	t.Helper()
	var last passes.Update
	for _, s := range samples {
		up, err := tracker.Process(s)
		if err != nil {
			t.Fatalf("Process(%+v): %v", s, err)
		}
		last = up
	}
	return last
}

func TestRecorderRetriesFailedCommit(t *testing.T) {
	db := setupTestDB(t)
	q := passes.NewQueue(1024)
	tracker := passes.NewTracker(passes.DefaultConfig(), q)
	final := processAll(t, tracker, passSamples(7)[:19])
	if !final.Finalized {
		t.Fatalf("pass not finalized: %+v", final.Record)
	}
	q.Close()

	clock := timeutil.NewMockClock(time.Unix(0, 0))
	rec := NewRecorder(db, true)
	rec.Clock = clock
	failCommits(rec, 1)

	done := make(chan error, 1)
	go func() { done <- rec.Run(context.Background(), q.Events()) }()
	deadline := time.After(5 * time.Second)
wait:
	for {
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("Run returned %v", err)
			}
			break wait
		case <-time.After(5 * time.Millisecond):
			clock.Advance(time.Second)
		case <-deadline:
			t.Fatal("recorder did not drain the queue")
		}
	}

	got, err := db.PassByID(final.Record.PassID)
	if err != nil {
		t.Fatalf("PassByID failed: %v", err)
	}
	if got.State != passes.Logged || got.ExitTimeMs != 4600 {
		t.Errorf("stored pass = %+v, want LOGGED exit 4600", got)
	}
	samples, err := db.SamplesForPass(got.PassID)
	if err != nil {
		t.Fatalf("SamplesForPass failed: %v", err)
	}
	if len(samples) != 19 {
		t.Errorf("stored samples = %d, want 19", len(samples))
	}
	if st := rec.Status(); !st.IsHealthy {
		t.Errorf("status after recovery = %+v", st)
	}
}

func TestRecorderCarriesPassEventsWhenRetriesRunOut(t *testing.T) {
	db := setupTestDB(t)
	q := passes.NewQueue(1024)
	tracker := passes.NewTracker(passes.DefaultConfig(), q)
	final := processAll(t, tracker, passSamples(7)[:19])
	q.Close()
	var batch []passes.Event
	for e := range q.Events() {
		batch = append(batch, e)
	}

	rec := NewRecorder(db, true)
	rec.RetryAttempts = 1
	failCommits(rec, 1)

	carry := rec.flushOrCarry(context.Background(), batch)
	if len(carry) != 5 {
		t.Fatalf("carried %d events, want 4 transitions and 1 finalized", len(carry))
	}
	for _, e := range carry {
		if e.Kind == passes.EventSample {
			t.Fatalf("sample event carried: %+v", e)
		}
	}
	if st := rec.Status(); st.IsHealthy || st.LastError == "" {
		t.Errorf("status after failure = %+v", st)
	}

	if err := rec.Flush(context.Background(), carry); err != nil {
		t.Fatalf("Flush of carried events failed: %v", err)
	}
	got, err := db.PassByID(final.Record.PassID)
	if err != nil {
		t.Fatalf("PassByID failed: %v", err)
	}
	if got.State != passes.Logged || got.PeakTimeMs != 2800 {
		t.Errorf("stored pass = %+v, want LOGGED peak 2800", got)
	}
}

func TestWarmStart(t *testing.T) {
	db := setupTestDB(t)
	samples := passSamples(8)

	// Record the first twelve samples, as before a restart.
	q1 := passes.NewQueue(1024)
	tr1 := passes.NewTracker(passes.DefaultConfig(), q1)
	tr1.SetNextPassID(41)
	record(t, NewRecorder(db, true), tr1, q1, samples[:12])
	before, err := tr1.Snapshot(8)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	tr2 := passes.NewTracker(passes.DefaultConfig(), nil)
	n, err := db.WarmStart(tr2)
	if err != nil {
		t.Fatalf("WarmStart failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("WarmStart restored %d passes, want 1", n)
	}
	after, err := tr2.Snapshot(8)
	if err != nil {
		t.Fatalf("Snapshot after warm start failed: %v", err)
	}
	if after != before {
		t.Errorf("restored record %+v, want %+v", after, before)
	}

	var last passes.Update
	for _, s := range samples[12:19] {
		if last, err = tr2.Process(s); err != nil {
			t.Fatalf("Process failed: %v", err)
		}
	}
	if !last.Finalized || last.Record.PeakTimeMs != 2800 || last.Record.ExitTimeMs != 4600 {
		t.Errorf("warm-started pass finished as %+v", last.Record)
	}

	next, err := tr2.OpenPass(99, 0)
	if err != nil {
		t.Fatalf("OpenPass failed: %v", err)
	}
	if next.PassID != 42 {
		t.Errorf("next pass id = %d, want 42", next.PassID)
	}
}

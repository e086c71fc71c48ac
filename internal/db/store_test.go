package db

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/split.report/internal/passes"
	"github.com/banshee-data/split.report/internal/rssi"
)

func testPass(id int64, beacon int, state passes.State, entry int64) passes.PassRecord {
	return passes.PassRecord{
		BeaconID:      beacon,
		PassID:        id,
		Engine:        passes.EngineTCA,
		State:         state,
		EntryTimeMs:   entry,
		EstimatedRSSI: -71.25,
		PeakRSSI:      -69.5,
		LowestRSSI:    -95,
		SampleCount:   3,
		LastSeenMs:    entry + 400,
	}
}

func TestUpsertPassRoundTrip(t *testing.T) {
	db := setupTestDB(t)

	rec := testPass(1, 7, passes.Here, 1000)
	rec.HereTimeMs = 2000
	rec.PeakTimeMs = 2000
	if err := db.UpsertPass(rec); err != nil {
		t.Fatalf("UpsertPass failed: %v", err)
	}

	rec.State = passes.Logged
	rec.PeakTimeMs = 2800
	rec.ExitTimeMs = 4600
	rec.PeakRefined = true
	rec.SampleCount = 19
	if err := db.UpsertPass(rec); err != nil {
		t.Fatalf("second UpsertPass failed: %v", err)
	}

	got, err := db.PassByID(1)
	if err != nil {
		t.Fatalf("PassByID failed: %v", err)
	}
	if diff := cmp.Diff(rec, got); diff != "" {
		t.Errorf("stored pass differs (-want +got):\n%s", diff)
	}

	if _, err := db.PassByID(99); !errors.Is(err, ErrNotFound) {
		t.Errorf("PassByID(99) err = %v, want ErrNotFound", err)
	}
}

func TestPassQueries(t *testing.T) {
	db := setupTestDB(t)

	logged := testPass(1, 1, passes.Logged, 1000)
	logged.ExitTimeMs = 5000
	timedOut := testPass(2, 2, passes.TimedOut, 2000)
	timedOut.ExitTimeMs = 6000
	open := testPass(3, 3, passes.Approaching, 3000)
	lateLogged := testPass(4, 4, passes.Logged, 4000)
	lateLogged.ExitTimeMs = 9000

	for _, rec := range []passes.PassRecord{logged, timedOut, open, lateLogged} {
		if err := db.UpsertPass(rec); err != nil {
			t.Fatalf("UpsertPass(%d) failed: %v", rec.PassID, err)
		}
	}

	openPasses, err := db.OpenPasses()
	if err != nil {
		t.Fatalf("OpenPasses failed: %v", err)
	}
	if len(openPasses) != 1 || openPasses[0].PassID != 3 {
		t.Errorf("OpenPasses = %+v, want only pass 3", openPasses)
	}

	recent, err := db.RecentPasses(2)
	if err != nil {
		t.Fatalf("RecentPasses failed: %v", err)
	}
	if len(recent) != 2 || recent[0].PassID != 4 || recent[1].PassID != 3 {
		t.Errorf("RecentPasses(2) ids = %v, want [4 3]", passIDs(recent))
	}

	finalized, err := db.FinalizedPasses(6000)
	if err != nil {
		t.Fatalf("FinalizedPasses failed: %v", err)
	}
	if len(finalized) != 1 || finalized[0].PassID != 4 {
		t.Errorf("FinalizedPasses(6000) ids = %v, want [4]", passIDs(finalized))
	}

	maxID, err := db.MaxPassID()
	if err != nil {
		t.Fatalf("MaxPassID failed: %v", err)
	}
	if maxID != 4 {
		t.Errorf("MaxPassID = %d, want 4", maxID)
	}
}

func passIDs(recs []passes.PassRecord) []int64 {
	ids := make([]int64, len(recs))
	for i, r := range recs {
		ids[i] = r.PassID
	}
	return ids
}

func TestMaxPassIDEmpty(t *testing.T) {
	db := setupTestDB(t)
	id, err := db.MaxPassID()
	if err != nil {
		t.Fatalf("MaxPassID failed: %v", err)
	}
	if id != 0 {
		t.Errorf("MaxPassID on empty table = %d, want 0", id)
	}
}

func TestSamples(t *testing.T) {
	db := setupTestDB(t)

	if err := db.UpsertPass(testPass(5, 9, passes.Approaching, 1000)); err != nil {
		t.Fatalf("UpsertPass failed: %v", err)
	}
	want := []rssi.Sample{
		{BeaconID: 9, TimestampMs: 1000, RSSI: -90},
		{BeaconID: 9, TimestampMs: 1200, RSSI: -85},
		{BeaconID: 9, TimestampMs: 1400, RSSI: -80},
	}
	// Insert out of order; reads come back sorted by timestamp
	for _, i := range []int{2, 0, 1} {
		if err := db.InsertSample(5, want[i]); err != nil {
			t.Fatalf("InsertSample failed: %v", err)
		}
	}

	got, err := db.SamplesForPass(5)
	if err != nil {
		t.Fatalf("SamplesForPass failed: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("samples differ (-want +got):\n%s", diff)
	}

	counts, err := db.SampleCounts()
	if err != nil {
		t.Fatalf("SampleCounts failed: %v", err)
	}
	if counts[5] != 3 {
		t.Errorf("SampleCounts[5] = %d, want 3", counts[5])
	}

	n, err := db.PruneSamples(5)
	if err != nil {
		t.Fatalf("PruneSamples failed: %v", err)
	}
	if n != 3 {
		t.Errorf("PruneSamples removed %d rows, want 3", n)
	}
	if got, _ := db.SamplesForPass(5); len(got) != 0 {
		t.Errorf("expected no samples after prune, got %d", len(got))
	}
}

func TestInsertSampleRequiresPass(t *testing.T) {
	db := setupTestDB(t)
	err := db.InsertSample(404, rssi.Sample{BeaconID: 1, TimestampMs: 1, RSSI: -70})
	if err == nil {
		t.Error("expected foreign key error inserting a sample for a missing pass")
	}
}

func TestKalmanStates(t *testing.T) {
	db := setupTestDB(t)

	st := rssi.KalmanState{BeaconID: 3, Q: 0.001, R: 0.1, P: 0.0123, X: -72.5, Initialized: true}
	if err := db.SaveKalmanState(st); err != nil {
		t.Fatalf("SaveKalmanState failed: %v", err)
	}
	st.X = -70.25
	if err := db.SaveKalmanState(st); err != nil {
		t.Fatalf("second SaveKalmanState failed: %v", err)
	}
	if err := db.SaveKalmanState(rssi.KalmanState{BeaconID: 4, Q: 0.001, R: 0.1, P: 0.05}); err != nil {
		t.Fatalf("SaveKalmanState failed: %v", err)
	}

	states, err := db.KalmanStates()
	if err != nil {
		t.Fatalf("KalmanStates failed: %v", err)
	}
	if diff := cmp.Diff(st, states[3]); diff != "" {
		t.Errorf("kalman state differs (-want +got):\n%s", diff)
	}
	if len(states) != 2 || states[4].Initialized {
		t.Errorf("unexpected states: %+v", states)
	}

	if err := db.DeleteKalmanState(3); err != nil {
		t.Fatalf("DeleteKalmanState failed: %v", err)
	}
	states, _ = db.KalmanStates()
	if _, ok := states[3]; ok {
		t.Error("beacon 3 state should be deleted")
	}
}

func TestRaceContext(t *testing.T) {
	db := setupTestDB(t)

	if _, err := db.LatestRaceContext(); !errors.Is(err, ErrNotFound) {
		t.Errorf("LatestRaceContext on empty table err = %v, want ErrNotFound", err)
	}

	first := &RaceContext{EventName: "Spring Classic", RaceName: "10K", RaceID: 11}
	if err := db.SetRaceContext(first); err != nil {
		t.Fatalf("SetRaceContext failed: %v", err)
	}
	second := &RaceContext{
		EventName:         "Spring Classic",
		RaceName:          "10K",
		RaceID:            11,
		GunTimeMs:         1_700_000_000_000,
		SplitAssignmentID: 3,
		SplitName:         "5K",
		AuthToken:         "secret",
		BaseURL:           "https://timing.example.com",
		CreatedAtMs:       1_700_000_000_500,
	}
	if err := db.SetRaceContext(second); err != nil {
		t.Fatalf("SetRaceContext failed: %v", err)
	}
	if second.ID <= first.ID {
		t.Errorf("expected increasing ids, got %d then %d", first.ID, second.ID)
	}

	got, err := db.LatestRaceContext()
	if err != nil {
		t.Fatalf("LatestRaceContext failed: %v", err)
	}
	if diff := cmp.Diff(*second, got); diff != "" {
		t.Errorf("race context differs (-want +got):\n%s", diff)
	}
	if !got.HasGunTime() {
		t.Error("HasGunTime() = false, want true")
	}
}

func TestRacers(t *testing.T) {
	db := setupTestDB(t)

	if err := db.UpsertRacer(Racer{ID: 7, Name: "Ada"}); err != nil {
		t.Fatalf("UpsertRacer failed: %v", err)
	}
	if err := db.UpsertRacer(Racer{ID: 7, Name: "Ada L.", SplitAssignmentID: 3}); err != nil {
		t.Fatalf("UpsertRacer rename failed: %v", err)
	}
	if err := db.UpsertRacer(Racer{ID: 0, Name: "nobody"}); err == nil {
		t.Error("expected error for racer id 0")
	}

	racers, err := db.Racers()
	if err != nil {
		t.Fatalf("Racers failed: %v", err)
	}
	want := map[int]Racer{7: {ID: 7, Name: "Ada L.", SplitAssignmentID: 3}}
	if diff := cmp.Diff(want, racers); diff != "" {
		t.Errorf("racers differ (-want +got):\n%s", diff)
	}
}

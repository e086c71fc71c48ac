package export

import (
	"github.com/google/uuid"

	"github.com/banshee-data/split.report/internal/db"
	"github.com/banshee-data/split.report/internal/passes"
)

// UploadPayload is the JSON body posted to the split server.
type UploadPayload struct {
	RaceID    int64     `json:"race_id"`
	GunTime   int64     `json:"gun_time"`
	BatchID   string    `json:"batch_id"`
	SplitData SplitData `json:"split_data"`
}

// SplitData groups the racers seen at one split assignment.
type SplitData struct {
	ID     int64         `json:"id"`
	Racers []RacerResult `json:"racers"`
}

// RacerResult is one pass as the split server sees it. Times are unix ms.
type RacerResult struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	EntryTime  int64  `json:"entry_time"`
	PeakTime   int64  `json:"peak_time"`
	ExitTime   int64  `json:"exit_time"`
	ArriveTime int64  `json:"arrive_time"`
	SplitMs    *int64 `json:"split_ms,omitempty"`
	NumSamples int    `json:"num_samples"`
}

// SplitMs returns the elapsed race time at the pass peak. It is only
// defined once the gun has gone and the pass has a peak.
func SplitMs(race db.RaceContext, rec passes.PassRecord) (int64, bool) {
	if !race.HasGunTime() || !rec.HasPeak() {
		return 0, false
	}
	return rec.PeakTimeMs - race.GunTimeMs, true
}

// BuildUploadPayload assembles the upload body. Each call gets a fresh
// batch id so the server can drop replays of the same attempt.
func BuildUploadPayload(race db.RaceContext, records []passes.PassRecord, racers map[int]db.Racer, sampleCounts map[int64]int) UploadPayload {
	out := UploadPayload{
		RaceID:  race.RaceID,
		GunTime: race.GunTimeMs,
		BatchID: uuid.NewString(),
		SplitData: SplitData{
			ID:     race.SplitAssignmentID,
			Racers: make([]RacerResult, 0, len(records)),
		},
	}
	for _, rec := range records {
		r := RacerResult{
			ID:         rec.BeaconID,
			Name:       racerName(racers, rec.BeaconID, race.SplitAssignmentID),
			EntryTime:  rec.EntryTimeMs,
			PeakTime:   rec.PeakTimeMs,
			ExitTime:   rec.ExitTimeMs,
			ArriveTime: rec.HereTimeMs,
			NumSamples: sampleCounts[rec.PassID],
		}
		if split, ok := SplitMs(race, rec); ok {
			r.SplitMs = &split
		}
		out.SplitData.Racers = append(out.SplitData.Racers, r)
	}
	return out
}

// racerName looks a beacon up, ignoring racers registered to a different
// split assignment.
func racerName(racers map[int]db.Racer, beaconID int, splitID int64) string {
	r, ok := racers[beaconID]
	if !ok {
		return ""
	}
	if r.SplitAssignmentID != 0 && splitID != 0 && r.SplitAssignmentID != splitID {
		return ""
	}
	return r.Name
}

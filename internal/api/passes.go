package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/banshee-data/split.report/internal/db"
	"github.com/banshee-data/split.report/internal/export"
	"github.com/banshee-data/split.report/internal/httputil"
	"github.com/banshee-data/split.report/internal/passes"
	"github.com/banshee-data/split.report/internal/security"
	"github.com/banshee-data/split.report/internal/units"
)

// listPasses handles GET /api/passes?limit=N, newest first.
func (s *Server) listPasses(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit", 100)
	if !ok {
		httputil.BadRequest(w, "invalid 'limit' parameter")
		return
	}
	recs, err := s.DB.RecentPasses(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to list passes: %v", err))
		return
	}
	if recs == nil {
		recs = []passes.PassRecord{}
	}
	writeJSON(w, recs)
}

// listOpenPasses handles GET /api/passes/open from the live tracker.
func (s *Server) listOpenPasses(w http.ResponseWriter, r *http.Request) {
	if s.Tracker == nil {
		unavailable(w, "tracker")
		return
	}
	recs := s.Tracker.OpenPasses()
	if recs == nil {
		recs = []passes.PassRecord{}
	}
	writeJSON(w, recs)
}

// passView is a stored pass with its split against the current race.
type passView struct {
	passes.PassRecord
	RacerName   string `json:"racer_name,omitempty"`
	SplitMs     *int64 `json:"split_ms,omitempty"`
	SplitText   string `json:"split,omitempty"`
	SampleCount int    `json:"stored_samples"`
}

func (s *Server) showPass(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.PathInt64(r, "id")
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	rec, err := s.DB.PassByID(id)
	if errors.Is(err, db.ErrNotFound) {
		httputil.NotFound(w, fmt.Sprintf("pass %d not found", id))
		return
	}
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}

	view := passView{PassRecord: rec}
	if race, err := s.DB.LatestRaceContext(); err == nil {
		if split, ok := export.SplitMs(race, rec); ok {
			view.SplitMs = &split
			view.SplitText = units.FormatSplit(split)
		}
	}
	if racers, err := s.DB.Racers(); err == nil {
		view.RacerName = racers[rec.BeaconID].Name
	}
	if samples, err := s.DB.SamplesForPass(id); err == nil {
		view.SampleCount = len(samples)
	}
	writeJSON(w, view)
}

// listPassSamples handles GET /api/passes/{id}/samples. ?format=csv
// downloads them instead.
func (s *Server) listPassSamples(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.PathInt64(r, "id")
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	samples, err := s.DB.SamplesForPass(id)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}

	switch r.URL.Query().Get("format") {
	case "", "json":
		if samples == nil {
			writeJSON(w, []any{})
			return
		}
		writeJSON(w, samples)
	case "csv":
		name := security.ExportFilename("samples", "pass_"+strconv.FormatInt(id, 10), "csv")
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
		if err := export.SamplesCSV(w, id, samples); err != nil {
			httputil.InternalServerError(w, err.Error())
		}
	default:
		httputil.BadRequest(w, "format must be json or csv")
	}
}

// estimateView is the live state of one beacon.
type estimateView struct {
	BeaconID    int                `json:"beacon_id"`
	Estimate    float32            `json:"estimate_dbm"`
	Pass        passes.PassRecord  `json:"pass"`
	Diagnostics passes.Diagnostics `json:"diagnostics"`
	Speed       float64            `json:"speed"`
	SpeedUnits  string             `json:"speed_units"`
	Pace        string             `json:"pace,omitempty"`
}

// showEstimate handles GET /api/beacons/{id}/estimate?units=mph.
func (s *Server) showEstimate(w http.ResponseWriter, r *http.Request) {
	if s.Tracker == nil {
		unavailable(w, "tracker")
		return
	}
	id, err := httputil.PathInt64(r, "id")
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	speedUnits := s.Units
	if u := r.URL.Query().Get("units"); u != "" {
		if !units.IsValid(u) {
			httputil.BadRequest(w, "units must be one of "+units.GetValidUnitsString())
			return
		}
		speedUnits = u
	}

	beacon := int(id)
	est, ok := s.Tracker.CurrentEstimate(beacon)
	if !ok {
		httputil.NotFound(w, fmt.Sprintf("beacon %d has no open pass", beacon))
		return
	}
	view := estimateView{BeaconID: beacon, Estimate: est, SpeedUnits: speedUnits}
	if rec, err := s.Tracker.Snapshot(beacon); err == nil {
		view.Pass = rec
	}
	if d, ok := s.Tracker.Diagnostics(beacon); ok {
		view.Diagnostics = d
		view.Speed = units.ConvertSpeed(d.Speed, speedUnits)
		paceUnit := units.MinPerKm
		if speedUnits == units.MPH {
			paceUnit = units.MinPerMile
		}
		if secs, ok := units.Pace(d.Speed, paceUnit); ok {
			view.Pace = units.FormatPace(secs) + " " + paceUnit
		}
	}
	writeJSON(w, view)
}

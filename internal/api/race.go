package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/banshee-data/split.report/internal/db"
	"github.com/banshee-data/split.report/internal/httputil"
)

// RaceRequest is the body of POST /api/race. The auth token is write-only.
type RaceRequest struct {
	EventName         string `json:"event_name"`
	RaceName          string `json:"race_name"`
	RaceID            int64  `json:"race_id"`
	GunTimeMs         int64  `json:"gun_time_ms"`
	SplitAssignmentID int64  `json:"split_assignment_id"`
	SplitName         string `json:"split_name"`
	AuthToken         string `json:"auth_token"`
	BaseURL           string `json:"base_url"`
}

type raceView struct {
	db.RaceContext
	HasToken bool `json:"has_token"`
}

func (s *Server) showRace(w http.ResponseWriter, r *http.Request) {
	race, err := s.DB.LatestRaceContext()
	if errors.Is(err, db.ErrNotFound) {
		httputil.NotFound(w, "no race configured")
		return
	}
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	writeJSON(w, raceView{RaceContext: race, HasToken: race.AuthToken != ""})
}

// setRace handles POST /api/race. Omitted fields are not carried over from
// the previous context except the auth token, which is kept when blank.
func (s *Server) setRace(w http.ResponseWriter, r *http.Request) {
	var req RaceRequest
	if err := httputil.DecodeJSONBody(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if req.GunTimeMs < 0 || req.RaceID < 0 || req.SplitAssignmentID < 0 {
		httputil.BadRequest(w, "ids and gun time must not be negative")
		return
	}

	token := req.AuthToken
	if token == "" {
		if prev, err := s.DB.LatestRaceContext(); err == nil {
			token = prev.AuthToken
		}
	}
	race := db.RaceContext{
		EventName:         req.EventName,
		RaceName:          req.RaceName,
		RaceID:            req.RaceID,
		GunTimeMs:         req.GunTimeMs,
		SplitAssignmentID: req.SplitAssignmentID,
		SplitName:         req.SplitName,
		AuthToken:         token,
		BaseURL:           req.BaseURL,
	}
	if err := s.DB.SetRaceContext(&race); err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, raceView{RaceContext: race, HasToken: token != ""})
}

func (s *Server) listRacers(w http.ResponseWriter, r *http.Request) {
	racers, err := s.DB.Racers()
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	writeJSON(w, racers)
}

// saveRacers handles POST /api/racers with a JSON array of racers.
func (s *Server) saveRacers(w http.ResponseWriter, r *http.Request) {
	var racers []db.Racer
	if err := httputil.DecodeJSONBody(r, &racers); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	for _, racer := range racers {
		if racer.ID <= 0 {
			httputil.BadRequest(w, fmt.Sprintf("invalid racer id %d", racer.ID))
			return
		}
	}
	for _, racer := range racers {
		if err := s.DB.UpsertRacer(racer); err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
	}
	writeJSON(w, map[string]int{"saved": len(racers)})
}

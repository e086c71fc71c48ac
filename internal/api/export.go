package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/banshee-data/split.report/internal/db"
	"github.com/banshee-data/split.report/internal/export"
	"github.com/banshee-data/split.report/internal/httputil"
	"github.com/banshee-data/split.report/internal/security"
)

// exportSplits handles GET /api/export/splits.csv. Passes are those logged
// since the gun, or since ?since= (unix ms) when given.
func (s *Server) exportSplits(w http.ResponseWriter, r *http.Request) {
	race, err := s.DB.LatestRaceContext()
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		httputil.InternalServerError(w, err.Error())
		return
	}
	since, ok := queryInt64(r, "since", race.GunTimeMs)
	if !ok {
		httputil.BadRequest(w, "invalid 'since' parameter")
		return
	}
	recs, err := s.DB.FinalizedPasses(since)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	racers, err := s.DB.Racers()
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}

	name := security.ExportFilename("splits", race.RaceName, "csv")
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if err := export.SplitsCSV(w, recs, racers); err != nil {
		httputil.InternalServerError(w, err.Error())
	}
}

// upload handles POST /api/upload, a synchronous upload attempt.
func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	if s.Uploader == nil {
		unavailable(w, "uploader")
		return
	}
	n, err := s.Uploader.Upload(r.Context())
	switch {
	case err == nil:
		writeJSON(w, map[string]any{"sent": n, "status": s.Uploader.Status()})
	case errors.Is(err, export.ErrNoRaceContext), errors.Is(err, export.ErrMissingToken), errors.Is(err, export.ErrNoEndpoint):
		httputil.WriteJSONError(w, http.StatusConflict, err.Error())
	default:
		httputil.WriteJSONError(w, http.StatusBadGateway, err.Error())
	}
}

func (s *Server) showUploadStatus(w http.ResponseWriter, r *http.Request) {
	if s.Uploader == nil {
		unavailable(w, "uploader")
		return
	}
	writeJSON(w, s.Uploader.Status())
}

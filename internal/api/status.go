package api

import (
	"net/http"

	"github.com/banshee-data/split.report/internal/db"
	"github.com/banshee-data/split.report/internal/httputil"
	"github.com/banshee-data/split.report/internal/passes"
)

type sweepRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) showSweep(w http.ResponseWriter, r *http.Request) {
	if s.Sweeper == nil {
		unavailable(w, "sweeper")
		return
	}
	writeJSON(w, s.Sweeper.Status())
}

// configureSweep handles POST /api/sweep {"enabled": bool}.
func (s *Server) configureSweep(w http.ResponseWriter, r *http.Request) {
	if s.Sweeper == nil {
		unavailable(w, "sweeper")
		return
	}
	var req sweepRequest
	if err := httputil.DecodeJSONBody(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if req.Enabled == nil {
		httputil.BadRequest(w, "missing 'enabled'")
		return
	}
	s.Sweeper.SetEnabled(*req.Enabled)
	writeJSON(w, s.Sweeper.Status())
}

// triggerSweep handles POST /api/sweep/trigger. The sweep runs inline and
// the finalized passes are returned.
func (s *Server) triggerSweep(w http.ResponseWriter, r *http.Request) {
	if s.Sweeper == nil {
		unavailable(w, "sweeper")
		return
	}
	finalized := s.Sweeper.RunOnce()
	if finalized == nil {
		finalized = []passes.PassRecord{}
	}
	writeJSON(w, map[string]any{"finalized": finalized, "status": s.Sweeper.Status()})
}

// showStatus handles GET /api/status with whatever components are wired.
func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{}
	if s.Tracker != nil {
		out["open_passes"] = len(s.Tracker.OpenPasses())
		out["engine"] = s.Tracker.Config().Engine
	}
	if s.DB != nil {
		if st, err := s.DB.MigrationStatus(db.MigrationsFS()); err == nil {
			out["schema"] = st
		}
	}
	if s.Recorder != nil {
		out["recorder"] = s.Recorder.Status()
	}
	if s.Ingestor != nil {
		out["ingest"] = s.Ingestor.Stats()
		if s.Ingestor.State != nil {
			out["device"] = s.Ingestor.State.Snapshot()
		}
	}
	if s.Mux != nil {
		out["receiver"] = s.Mux.Stats()
	}
	if s.Sweeper != nil {
		out["sweep"] = s.Sweeper.Status()
	}
	if s.Uploader != nil {
		out["upload"] = s.Uploader.Status()
	}
	if s.Queue != nil {
		out["queue"] = map[string]any{"buffered": s.Queue.Len(), "dropped": s.Queue.Dropped()}
	}
	writeJSON(w, out)
}

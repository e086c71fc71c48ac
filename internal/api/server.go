// Package api serves the split timing HTTP API: recorded and live passes,
// race setup, exports and operational status.
package api

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/split.report/internal/db"
	"github.com/banshee-data/split.report/internal/export"
	"github.com/banshee-data/split.report/internal/monitoring"
	"github.com/banshee-data/split.report/internal/passes"
	"github.com/banshee-data/split.report/internal/serialmux"
	"github.com/banshee-data/split.report/internal/units"
	"github.com/banshee-data/split.report/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Server holds the components the handlers read from. Only DB and Tracker
// are required; routes backed by a nil component answer 503.
type Server struct {
	DB       *db.DB
	Tracker  *passes.Tracker
	Sweeper  *passes.LossSweeper
	Recorder *db.Recorder
	Ingestor *serialmux.Ingestor
	Uploader *export.Uploader
	Queue    *passes.Queue
	Metrics  *monitoring.Metrics
	Mux      serialmux.SerialMuxInterface

	// Units is the default speed unit for estimates; ?units= overrides it.
	Units string
}

// NewServer returns a server over the store and the live tracker.
func NewServer(store *db.DB, tracker *passes.Tracker, speedUnits string) *Server {
	if !units.IsValid(speedUnits) {
		speedUnits = units.MPS
	}
	return &Server{DB: store, Tracker: tracker, Units: speedUnits}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux registers every route on a new mux.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	s.AttachRoutes(mux)
	return mux
}

// AttachRoutes registers every route on mux.
func (s *Server) AttachRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/passes", s.listPasses)
	mux.HandleFunc("GET /api/passes/open", s.listOpenPasses)
	mux.HandleFunc("GET /api/passes/{id}", s.showPass)
	mux.HandleFunc("GET /api/passes/{id}/samples", s.listPassSamples)
	mux.HandleFunc("GET /api/beacons/{id}/estimate", s.showEstimate)

	mux.HandleFunc("GET /api/race", s.showRace)
	mux.HandleFunc("POST /api/race", s.setRace)
	mux.HandleFunc("GET /api/racers", s.listRacers)
	mux.HandleFunc("POST /api/racers", s.saveRacers)

	mux.HandleFunc("GET /api/export/splits.csv", s.exportSplits)
	mux.HandleFunc("POST /api/upload", s.upload)
	mux.HandleFunc("GET /api/upload", s.showUploadStatus)

	mux.HandleFunc("GET /api/sweep", s.showSweep)
	mux.HandleFunc("POST /api/sweep", s.configureSweep)
	mux.HandleFunc("POST /api/sweep/trigger", s.triggerSweep)

	mux.HandleFunc("GET /api/receiver/ports", s.listReceiverPorts)
	mux.HandleFunc("POST /api/receiver/command", s.sendReceiverCommand)

	mux.HandleFunc("GET /api/status", s.showStatus)
	mux.HandleFunc("GET /api/version", s.showVersion)
	mux.HandleFunc("GET /debug/passes/chart", s.passChart)

	if s.Metrics != nil {
		mux.Handle("GET /metrics", s.Metrics.Handler())
	}
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, version.Current())
}

package api

import (
	"net/http"
	"strconv"

	"github.com/banshee-data/split.report/internal/httputil"
)

func writeJSON(w http.ResponseWriter, v any) {
	httputil.WriteJSONOK(w, v)
}

func unavailable(w http.ResponseWriter, what string) {
	httputil.WriteJSONError(w, http.StatusServiceUnavailable, what+" is not running")
}

// queryInt parses an optional positive integer query parameter.
func queryInt(r *http.Request, name string, def int) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// queryInt64 parses an optional non-negative int64 query parameter.
func queryInt64(r *http.Request, name string, def int64) (int64, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, true
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

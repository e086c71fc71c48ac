package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/split.report/internal/db"
	"github.com/banshee-data/split.report/internal/httputil"
	"github.com/banshee-data/split.report/internal/passplot"
	"github.com/banshee-data/split.report/internal/rssi"
)

// passChart handles GET /debug/passes/chart?pass_id=N: raw RSSI against the
// forward and zero-phase EMA, with the recorded peak marked.
func (s *Server) passChart(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.URL.Query().Get("pass_id"), 10, 64)
	if err != nil || id <= 0 {
		httputil.BadRequest(w, "missing or invalid 'pass_id' parameter")
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
	samples, err := s.DB.SamplesForPass(id)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if len(samples) == 0 {
		httputil.NotFound(w, fmt.Sprintf("pass %d has no stored samples", id))
		return
	}

	alpha := rssi.DefaultAlpha
	if s.Tracker != nil {
		alpha = s.Tracker.Config().EmaAlpha
	}
	series := passplot.BuildSeries(samples, alpha)

	labels := make([]string, len(series.Seconds))
	for i, sec := range series.Seconds {
		labels[i] = strconv.FormatFloat(sec, 'f', 1, 64)
	}
	toLine := func(values []float64) []opts.LineData {
		out := make([]opts.LineData, len(values))
		for i, v := range values {
			out[i] = opts.LineData{Value: v}
		}
		return out
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: fmt.Sprintf("Pass %d", id), Width: "1000px", Height: "520px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("Pass %d, beacon %d", rec.PassID, rec.BeaconID),
			Subtitle: fmt.Sprintf("state=%s samples=%d alpha=%.2f", rec.State, len(samples), alpha),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "s", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "RSSI (dBm)", Scale: opts.Bool(true)}),
	)
	line.SetXAxis(labels).
		AddSeries("raw", toLine(series.Raw), charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(true)})).
		AddSeries("forward EMA", toLine(series.Forward)).
		AddSeries("zero-phase", toLine(series.ZeroPhase), peakMarker(rec.PeakTimeMs, series, labels))

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

// peakMarker marks the sample at peakMs on the zero-phase series, or
// nothing when the pass has no peak.
func peakMarker(peakMs int64, series passplot.Series, labels []string) charts.SeriesOpts {
	if peakMs <= 0 {
		return func(*charts.SingleSeries) {}
	}
	for i, sec := range series.Seconds {
		if series.StartMs+int64(sec*1000+0.5) == peakMs {
			return charts.WithMarkPointNameCoordItemOpts(opts.MarkPointNameCoordItem{
				Name:       "peak",
				Coordinate: []interface{}{labels[i], series.ZeroPhase[i]},
				Symbol:     "pin",
			})
		}
	}
	return func(*charts.SingleSeries) {}
}

// Package passplot renders the RSSI trace of a single pass.
package passplot

import (
	"errors"
	"fmt"
	"image/color"
	"path/filepath"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/split.report/internal/rssi"
)

// ErrNoSamples is returned when there is nothing to draw.
var ErrNoSamples = errors.New("no samples to plot")

// Series is the trace of a pass: raw samples and both smoothings, indexed
// by seconds since the first sample.
type Series struct {
	StartMs   int64
	Seconds   []float64
	Raw       []float64
	Forward   []float64
	ZeroPhase []float64
}

// BuildSeries smooths samples with alpha. Samples must be in timestamp order.
func BuildSeries(samples []rssi.Sample, alpha float64) Series {
	if len(samples) == 0 {
		return Series{}
	}
	s := Series{
		StartMs: samples[0].TimestampMs,
		Seconds: make([]float64, len(samples)),
		Raw:     make([]float64, len(samples)),
	}
	for i, smp := range samples {
		s.Seconds[i] = float64(smp.TimestampMs-s.StartMs) / 1000
		s.Raw[i] = float64(smp.RSSI)
	}
	s.Forward = rssi.ForwardEMA(s.Raw, alpha)
	s.ZeroPhase = rssi.ZeroPhase(s.Raw, alpha)
	return s
}

func (s Series) xys(values []float64) plotter.XYs {
	pts := make(plotter.XYs, len(values))
	for i, v := range values {
		pts[i] = plotter.XY{X: s.Seconds[i], Y: v}
	}
	return pts
}

// Plot builds the chart. A non-nil peak is marked on the zero-phase curve.
func Plot(title string, samples []rssi.Sample, alpha float64, peak *rssi.Peak) (*plot.Plot, error) {
	if len(samples) == 0 {
		return nil, ErrNoSamples
	}
	s := BuildSeries(samples, alpha)

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Time since first sample (s)"
	p.Y.Label.Text = "RSSI (dBm)"
	p.Add(plotter.NewGrid())

	raw, err := plotter.NewScatter(s.xys(s.Raw))
	if err != nil {
		return nil, fmt.Errorf("failed to create raw series: %w", err)
	}
	raw.GlyphStyle.Color = color.RGBA{R: 150, G: 150, B: 150, A: 255}
	raw.GlyphStyle.Radius = vg.Points(2)
	p.Add(raw)
	p.Legend.Add("raw", raw)

	fwd, err := plotter.NewLine(s.xys(s.Forward))
	if err != nil {
		return nil, fmt.Errorf("failed to create forward series: %w", err)
	}
	fwd.Width = vg.Points(1)
	fwd.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	fwd.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(fwd)
	p.Legend.Add(fmt.Sprintf("forward EMA (a=%.2f)", alpha), fwd)

	zp, err := plotter.NewLine(s.xys(s.ZeroPhase))
	if err != nil {
		return nil, fmt.Errorf("failed to create zero-phase series: %w", err)
	}
	zp.Width = vg.Points(1.5)
	zp.Color = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	p.Add(zp)
	p.Legend.Add("zero-phase", zp)

	if peak != nil {
		mark, err := plotter.NewScatter(plotter.XYs{{
			X: float64(peak.TimeMs-s.StartMs) / 1000,
			Y: float64(peak.RSSI),
		}})
		if err != nil {
			return nil, fmt.Errorf("failed to create peak marker: %w", err)
		}
		mark.GlyphStyle.Shape = draw.CrossGlyph{}
		mark.GlyphStyle.Radius = vg.Points(6)
		mark.GlyphStyle.Color = color.Black
		p.Add(mark)
		p.Legend.Add("peak", mark)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// WritePassPNG renders samples to a PNG file at path.
func WritePassPNG(path, title string, samples []rssi.Sample, alpha float64, peak *rssi.Peak) error {
	if !strings.EqualFold(filepath.Ext(path), ".png") {
		return fmt.Errorf("plot path %q must have .png extension", path)
	}
	p, err := Plot(title, samples, alpha, peak)
	if err != nil {
		return err
	}
	if err := p.Save(10*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}

// Package tca estimates the time of closest approach of a beacon from a
// short window of distance observations.
//
// The estimator fits log10(distance) against time relative to the newest
// observation with ordinary least squares. A negative slope means the
// beacon is approaching; the crossing time of a distance threshold is the
// time at which the fitted line reaches log10(threshold), measured in
// seconds from the newest observation (positive: in the future).
package tca

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Window bounds.
const (
	MinWindowSize = 6
	MinMinPoints  = 5
)

// Slope tolerances on log10(m)/s.
const (
	degenerateSlope = 1e-9
	trendSlope      = 1e-6
)

type point struct {
	t float64 // seconds
	d float64 // meters
}

// Estimator holds the sliding regression window for one beacon. It is not
// safe for concurrent use.
type Estimator struct {
	windowSize int
	minPoints  int
	points     []point
}

// New returns an estimator. windowSize is raised to at least MinWindowSize and
// minPoints is kept within [MinMinPoints, windowSize-2].
func New(windowSize, minPoints int) *Estimator {
	w := max(MinWindowSize, windowSize)
	m := max(MinMinPoints, min(w-2, minPoints))
	return &Estimator{
		windowSize: w,
		minPoints:  m,
		points:     make([]point, 0, w),
	}
}

// WindowSize returns the effective window capacity.
func (e *Estimator) WindowSize() int { return e.windowSize }

// MinPoints returns the number of points needed before Fit is ready.
func (e *Estimator) MinPoints() int { return e.minPoints }

// Len returns the number of points in the window.
func (e *Estimator) Len() int { return len(e.points) }

// Push appends an observation, evicting the oldest beyond the window size.
func (e *Estimator) Push(timeSec, distance float64) {
	if len(e.points) == e.windowSize {
		copy(e.points, e.points[1:])
		e.points = e.points[:len(e.points)-1]
	}
	e.points = append(e.points, point{t: timeSec, d: distance})
}

// Reset empties the window.
func (e *Estimator) Reset() {
	e.points = e.points[:0]
}

// Fit is the result of a regression over the window.
type Fit struct {
	Intercept float64 // log10(m) at the newest observation
	Slope     float64 // log10(m) per second
	Points    int
}

// Fit regresses log10(distance) on time relative to the newest point. It
// reports false when fewer than MinPoints finite points are available or
// the result is not finite.
func (e *Estimator) Fit() (Fit, bool) {
	if len(e.points) < e.minPoints {
		return Fit{}, false
	}
	tNewest := e.points[len(e.points)-1].t

	xs := make([]float64, 0, len(e.points))
	ys := make([]float64, 0, len(e.points))
	for _, p := range e.points {
		if p.d <= 0 || !isFinite(p.d) || !isFinite(p.t) {
			continue
		}
		x := p.t - tNewest
		y := math.Log10(p.d)
		if !isFinite(x) || !isFinite(y) {
			continue
		}
		xs = append(xs, x)
		ys = append(ys, y)
	}
	if len(xs) < e.minPoints {
		return Fit{}, false
	}

	alpha, beta := stat.LinearRegression(xs, ys, nil, false)
	if !isFinite(alpha) || !isFinite(beta) {
		return Fit{}, false
	}
	return Fit{Intercept: alpha, Slope: beta, Points: len(xs)}, true
}

// CrossingTime returns the seconds from the newest observation until the
// fitted distance equals thresholdMeters. Negative values lie in the past.
// A flat fit has no crossing.
func (f Fit) CrossingTime(thresholdMeters float64) (float64, bool) {
	if math.Abs(f.Slope) <= degenerateSlope || thresholdMeters <= 0 {
		return 0, false
	}
	tc := (math.Log10(thresholdMeters) - f.Intercept) / f.Slope
	if !isFinite(tc) {
		return 0, false
	}
	return tc, true
}

// Approaching reports a clearly decreasing distance.
func (f Fit) Approaching() bool { return f.Slope < -trendSlope }

// Receding reports a clearly increasing distance.
func (f Fit) Receding() bool { return f.Slope > trendSlope }

// Speed converts the slope to an instantaneous radial speed in m/s at the
// given distance: d/dt 10^(a+bt) = b ln(10) d.
func (f Fit) Speed(distanceNow float64) float64 {
	return math.Abs(f.Slope) * math.Ln10 * distanceNow
}

// SpeedBand is the plausible range of runner speeds in m/s.
type SpeedBand struct {
	Min float64
	Max float64
}

// SpeedBandForPace derives the band from a race distance and the fastest and
// slowest expected finish times.
func SpeedBandForPace(distanceMeters, fastestMinutes, slowestMinutes float64) SpeedBand {
	if distanceMeters <= 0 || fastestMinutes <= 0 || slowestMinutes < fastestMinutes {
		return DefaultSpeedBand()
	}
	return SpeedBand{
		Min: distanceMeters / (slowestMinutes * 60),
		Max: distanceMeters / (fastestMinutes * 60),
	}
}

// DefaultSpeedBand covers a 5 km run finished in 16 to 26 minutes.
func DefaultSpeedBand() SpeedBand {
	return SpeedBand{Min: 5000.0 / (26 * 60), Max: 5000.0 / (16 * 60)}
}

// Clamp maps v into the band. Non-finite speeds become Min.
func (b SpeedBand) Clamp(v float64) float64 {
	if !isFinite(v) {
		return b.Min
	}
	if v < b.Min {
		return b.Min
	}
	if v > b.Max {
		return b.Max
	}
	return v
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

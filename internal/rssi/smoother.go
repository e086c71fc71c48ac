package rssi

import "math"

// DefaultAlpha is the EMA weight used when a caller supplies an unusable alpha.
const DefaultAlpha = 0.3

// Smoother is a first-order exponential moving average over raw RSSI.
// It is not safe for concurrent use; the tracker owns one per beacon.
type Smoother struct {
	alpha  float64
	value  float64
	primed bool
}

// NewSmoother returns a smoother with alpha clamped into (0, 1].
func NewSmoother(alpha float64) *Smoother {
	return &Smoother{alpha: clampAlpha(alpha)}
}

func clampAlpha(alpha float64) float64 {
	if math.IsNaN(alpha) || math.IsInf(alpha, 0) || alpha <= 0 {
		return DefaultAlpha
	}
	if alpha > 1 {
		return 1
	}
	return alpha
}

// Alpha returns the effective weight.
func (s *Smoother) Alpha() float64 { return s.alpha }

// Smooth folds raw into the average and returns the new value. The first
// call returns raw unchanged.
func (s *Smoother) Smooth(raw float64) float64 {
	if !s.primed {
		s.value = raw
		s.primed = true
		return raw
	}
	s.value = s.alpha*raw + (1-s.alpha)*s.value
	return s.value
}

// Value returns the current average and whether any sample has been seen.
func (s *Smoother) Value() (float64, bool) {
	return s.value, s.primed
}

// Reset forgets all history.
func (s *Smoother) Reset() {
	s.value = 0
	s.primed = false
}

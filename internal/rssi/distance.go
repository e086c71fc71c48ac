package rssi

import "math"

// Distance clamp limits in meters. Readings implying distances outside this
// range are not physically meaningful for a single receiver at a timing line.
const (
	MinDistanceMeters = 0.30
	MaxDistanceMeters = 80.0

	defaultPathLossExponent = 2.0
)

// Distance converts an RSSI reading to meters with the log-distance path
// loss model d = 10^((tx - rssi) / (10 n)), where tx is the calibrated power
// at one meter and n the path loss exponent.
func Distance(rssiDbm, txAt1mDbm, pathLossExponent float64) float64 {
	n := pathLossExponent
	if n <= 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		n = defaultPathLossExponent
	}
	d := math.Pow(10, (txAt1mDbm-rssiDbm)/(10*n))
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return MaxDistanceMeters
	}
	return clampDistance(d)
}

func clampDistance(d float64) float64 {
	if d < MinDistanceMeters {
		return MinDistanceMeters
	}
	if d > MaxDistanceMeters {
		return MaxDistanceMeters
	}
	return d
}

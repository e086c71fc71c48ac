package rssi

// Peak is the refined time and value of closest approach.
type Peak struct {
	TimeMs int64   `json:"time_ms"`
	RSSI   float32 `json:"rssi"`
}

// minPeakSamples is the smallest pass the refiner will look at.
const minPeakSamples = 3

// ForwardEMA returns the causal EMA of values, seeded with the first value.
func ForwardEMA(values []float64, alpha float64) []float64 {
	if len(values) == 0 {
		return nil
	}
	a := clampAlpha(alpha)
	out := make([]float64, len(values))
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = a*values[i] + (1-a)*out[i-1]
	}
	return out
}

// ZeroPhase runs the EMA forward over values and then backward over the
// forward series, seeded at its last element. The two passes cancel the lag
// a single causal EMA introduces.
func ZeroPhase(values []float64, alpha float64) []float64 {
	fwd := ForwardEMA(values, alpha)
	n := len(fwd)
	if n == 0 {
		return nil
	}
	a := clampAlpha(alpha)
	out := make([]float64, n)
	out[n-1] = fwd[n-1]
	for i := n - 2; i >= 0; i-- {
		out[i] = a*fwd[i] + (1-a)*out[i+1]
	}
	return out
}

// RefinePeak returns the timestamp and value of the maximum of the
// zero-phase smoothed RSSI of samples, which must be in timestamp order.
// The first strict maximum wins. Fewer than three samples yield false.
func RefinePeak(samples []Sample, alpha float64) (Peak, bool) {
	if len(samples) < minPeakSamples {
		return Peak{}, false
	}
	raw := make([]float64, len(samples))
	for i, s := range samples {
		raw[i] = float64(s.RSSI)
	}
	smoothed := ZeroPhase(raw, alpha)

	best := 0
	for i := 1; i < len(smoothed); i++ {
		if smoothed[i] > smoothed[best] {
			best = i
		}
	}
	return Peak{
		TimeMs: samples[best].TimestampMs,
		RSSI:   float32(smoothed[best]),
	}, true
}

// Package rssi holds the per-beacon signal primitives: the raw scan sample,
// the EMA conditioner, the log-distance model, the scalar Kalman smoother
// and the zero-phase peak refiner.
package rssi

import "fmt"

// Sample is a single advertisement seen by the receiver.
type Sample struct {
	BeaconID    int   `json:"beacon_id"`
	TimestampMs int64 `json:"timestamp_ms"`
	RSSI        int32 `json:"rssi"`
}

func (s Sample) String() string {
	return fmt.Sprintf("beacon=%d rssi=%d ts=%d", s.BeaconID, s.RSSI, s.TimestampMs)
}

// Filter decides whether a sample should reach the tracker.
type Filter interface {
	Accept(s Sample) bool
}

// FilterFunc adapts a plain function to Filter.
type FilterFunc func(s Sample) bool

// Accept calls f(s).
func (f FilterFunc) Accept(s Sample) bool { return f(s) }

// BoundsFilter rejects readings outside [Min, Max] dBm. Receivers report
// spurious values at both ends (0 dBm and below the noise floor).
type BoundsFilter struct {
	Min int32
	Max int32
}

// DefaultBoundsFilter returns the [-105, -25] dBm window.
func DefaultBoundsFilter() BoundsFilter {
	return BoundsFilter{Min: -105, Max: -25}
}

// Accept reports whether s.RSSI lies within the bounds.
func (b BoundsFilter) Accept(s Sample) bool {
	return s.RSSI >= b.Min && s.RSSI <= b.Max
}

// Chain accepts a sample only if every filter accepts it.
type Chain []Filter

// Accept runs the filters in order and stops at the first rejection.
func (c Chain) Accept(s Sample) bool {
	for _, f := range c {
		if !f.Accept(s) {
			return false
		}
	}
	return true
}

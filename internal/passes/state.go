// Package passes turns per-beacon RSSI samples into pass records: one record
// per approach-to-departure cycle of a beacon past the timing line.
package passes

import "fmt"

// State is the lifecycle state of a pass.
type State string

const (
	FirstSample State = "FIRST_SAMPLE" // Pass opened, nothing decided yet
	TooFar      State = "TOO_FAR"      // Beacon visible but outside the approach radius
	Approaching State = "APPROACHING"  // Inside the approach radius
	Here        State = "HERE"         // At the timing line
	Logged      State = "LOGGED"       // Passed, split recorded
	TimedOut    State = "TIMED_OUT"    // Lost without a usable peak
)

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == Logged || s == TimedOut
}

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case FirstSample, TooFar, Approaching, Here, Logged, TimedOut:
		return true
	}
	return false
}

// ParseState converts a stored state name.
func ParseState(v string) (State, error) {
	s := State(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown pass state %q", v)
	}
	return s, nil
}

// EngineKind selects the pass state machine.
type EngineKind string

const (
	EngineTCA             EngineKind = "tca"
	EngineThresholdKalman EngineKind = "threshold_kalman"
)

// ParseEngineKind converts a configured engine name.
func ParseEngineKind(v string) (EngineKind, error) {
	switch k := EngineKind(v); k {
	case EngineTCA, EngineThresholdKalman:
		return k, nil
	}
	return "", fmt.Errorf("unknown engine %q", v)
}

// LossPolicy decides what the loss sweep does with passes that went silent
// before a peak was recorded.
type LossPolicy string

const (
	LossRequirePeak     LossPolicy = "require_peak"      // leave peakless passes open
	LossTimeOutPeakless LossPolicy = "time_out_peakless" // move them to TIMED_OUT
)

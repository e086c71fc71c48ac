package rssi

import "math"

// Default Kalman noise parameters, tuned for 1 Hz-ish BLE advertisements.
const (
	DefaultKalmanQ        float32 = 0.001
	DefaultKalmanR        float32 = 0.1
	DefaultKalmanInitialP float32 = 0.05
)

// KalmanState is the persisted form of a per-beacon scalar Kalman filter.
type KalmanState struct {
	BeaconID    int     `json:"beacon_id"`
	Q           float32 `json:"q"`
	R           float32 `json:"r"`
	P           float32 `json:"p"`
	X           float32 `json:"x"`
	Initialized bool    `json:"initialized"`
}

// Kalman is a constant-level 1-D Kalman filter over RSSI.
type Kalman struct {
	state KalmanState
}

// NewKalman creates an uninitialised filter for a beacon.
func NewKalman(beaconID int, q, r, p0 float32) *Kalman {
	return &Kalman{state: KalmanState{
		BeaconID: beaconID,
		Q:        q,
		R:        r,
		P:        p0,
	}}
}

// RestoreKalman resumes a filter from persisted state.
func RestoreKalman(st KalmanState) *Kalman {
	return &Kalman{state: st}
}

// Update folds in one measurement and returns the new estimate. The first
// measurement initialises the filter and is returned unchanged. Non-finite
// measurements leave the filter untouched.
func (k *Kalman) Update(measurement float32) float32 {
	m := float64(measurement)
	if math.IsNaN(m) || math.IsInf(m, 0) {
		return k.state.X
	}
	st := &k.state
	if !st.Initialized {
		st.X = measurement
		st.Initialized = true
		return st.X
	}

	// predict
	st.P += st.Q

	// update
	denom := st.P + st.R
	if denom == 0 {
		return st.X
	}
	gain := st.P / denom
	st.X += gain * (measurement - st.X)
	st.P = (1 - gain) * st.P
	return st.X
}

// State returns a copy of the filter state for persistence.
func (k *Kalman) State() KalmanState {
	return k.state
}

// Estimate returns the current estimate and whether the filter has seen a
// measurement.
func (k *Kalman) Estimate() (float32, bool) {
	return k.state.X, k.state.Initialized
}

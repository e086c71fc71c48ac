package passes

import (
	"fmt"

	"github.com/banshee-data/split.report/internal/rssi"
)

// Reading is one accepted sample together with its conditioned values.
type Reading struct {
	Sample   rssi.Sample
	Smoothed float64 // EMA of the raw RSSI
	Estimate float32 // Kalman estimate fed with the smoothed value
}

// Diagnostics exposes the internals of the last engine step.
type Diagnostics struct {
	TimestampMs  int64   `json:"timestamp_ms"`
	Smoothed     float64 `json:"smoothed"`
	Estimate     float32 `json:"estimate"`
	Distance     float64 `json:"distance_m,omitempty"`
	Ready        bool    `json:"ready"`
	Slope        float64 `json:"slope,omitempty"`
	Intercept    float64 `json:"intercept,omitempty"`
	TCross       float64 `json:"t_cross_sec,omitempty"`
	HasTCross    bool    `json:"has_t_cross"`
	Speed        float64 `json:"speed_mps,omitempty"`
	HereEnterMs  int64   `json:"here_enter_ms,omitempty"`
	ForceLogAtMs int64   `json:"force_log_at_ms,omitempty"`
	Exit         string  `json:"exit,omitempty"` // rule that logged the pass on this step
}

// Rules by which the TCA engine leaves HERE.
const (
	ExitReceded  = "receded"  // crossed at least ThresholdSec ago
	ExitDwell    = "dwell"    // behind the line after HereMinDwellSec in HERE
	ExitBehind   = "behind"   // at least EarlyRecedeBehindSec behind the line
	ExitDeadline = "deadline" // forced log time reached
)

// Engine is a pass state machine. An engine instance serves exactly one
// pass; the tracker creates a fresh one whenever a pass opens.
type Engine interface {
	Kind() EngineKind
	// Step advances rec with one reading and returns the transitions made.
	// Terminal records are left untouched.
	Step(rec *PassRecord, in Reading) []Transition
	// Resume aligns internal state with a record restored from storage.
	Resume(rec PassRecord)
	Diagnostics() Diagnostics
}

// NewEngine returns the engine selected by cfg.Engine.
func NewEngine(cfg Config) (Engine, error) {
	cfg = cfg.normalized()
	switch cfg.Engine {
	case EngineTCA:
		return NewTCAEngine(cfg), nil
	case EngineThresholdKalman:
		return NewThresholdEngine(cfg), nil
	}
	return nil, fmt.Errorf("unknown engine %q", cfg.Engine)
}

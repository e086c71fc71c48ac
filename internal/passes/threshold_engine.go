package passes

// ThresholdEngine is the fixed-threshold state machine over the Kalman
// estimate. It needs no regression window and reacts on the first sample,
// at the cost of depending on a per-venue calibration of the thresholds.
type ThresholdEngine struct {
	cfg  Config
	diag Diagnostics
}

// NewThresholdEngine returns an engine for one pass.
func NewThresholdEngine(cfg Config) *ThresholdEngine {
	return &ThresholdEngine{cfg: cfg.normalized()}
}

// Kind implements Engine.
func (e *ThresholdEngine) Kind() EngineKind { return EngineThresholdKalman }

// Diagnostics implements Engine.
func (e *ThresholdEngine) Diagnostics() Diagnostics { return e.diag }

// Resume implements Engine. All state lives in the record.
func (e *ThresholdEngine) Resume(PassRecord) {}

// Step implements Engine.
func (e *ThresholdEngine) Step(rec *PassRecord, in Reading) []Transition {
	if rec.State.Terminal() {
		return nil
	}
	now := in.Sample.TimestampMs
	est := in.Estimate
	st := &stepper{rec: rec, now: now}
	e.diag = Diagnostics{
		TimestampMs: now,
		Smoothed:    in.Smoothed,
		Estimate:    est,
		Ready:       true,
	}

	rec.trackLowest(est)

	visible := float64(est) >= e.cfg.ApproachingThresholdDbm
	switch rec.State {
	case FirstSample, TooFar:
		if visible {
			st.move(Approaching)
		} else {
			st.move(TooFar)
		}
	case Approaching:
		if !visible {
			st.move(TooFar)
		}
	}

	if visible {
		switch {
		case rec.PeakTimeMs == 0 || est > rec.PeakRSSI:
			rec.PeakRSSI = est
			rec.PeakTimeMs = now
			rec.BelowPeakCount = 0
		case est < rec.PeakRSSI:
			rec.BelowPeakCount++
		default:
			rec.BelowPeakCount = 0
		}
	}

	arrived := float64(est) >= e.cfg.ArrivedThresholdDbm
	switch rec.State {
	case Approaching:
		if arrived || int(rec.BelowPeakCount) >= e.cfg.SamplesBelowPeakForHere {
			st.move(Here)
			if rec.HereTimeMs == 0 {
				rec.HereTimeMs = now
			}
		}
	case Here:
		if !arrived {
			st.move(Logged)
			rec.ExitTimeMs = now
		}
	}
	return st.moves
}

package passes

import (
	"math"

	"github.com/banshee-data/split.report/internal/rssi"
	"github.com/banshee-data/split.report/internal/tca"
)

// TCAEngine decides HERE and LOGGED from the predicted time at which the
// beacon crosses the here radius. A forced deadline derived from the
// runner's speed guarantees that a pass in HERE is eventually logged even
// when the regression never shows a clean recession.
type TCAEngine struct {
	cfg Config
	est *tca.Estimator

	hereEnterMs  int64
	forceLogAtMs int64
	bestRSSI     float64
	bestTsMs     int64
	hasBest      bool

	diag Diagnostics
}

// NewTCAEngine returns an engine for one pass.
func NewTCAEngine(cfg Config) *TCAEngine {
	cfg = cfg.normalized()
	return &TCAEngine{
		cfg: cfg,
		est: tca.New(cfg.WindowSize, cfg.MinPoints),
	}
}

// Kind implements Engine.
func (e *TCAEngine) Kind() EngineKind { return EngineTCA }

// Diagnostics implements Engine.
func (e *TCAEngine) Diagnostics() Diagnostics { return e.diag }

// Resume implements Engine. The best HERE reading comes only from replayed
// samples: rec.PeakRSSI is the maximum over the whole pass and need not
// belong to the reading at rec.PeakTimeMs.
func (e *TCAEngine) Resume(rec PassRecord) {
	if rec.State != Here {
		return
	}
	if e.hereEnterMs == 0 {
		e.hereEnterMs = rec.HereTimeMs
	}
	if e.forceLogAtMs == 0 && e.hereEnterMs > 0 {
		e.refreshDeadline(e.cfg.SpeedBand.Min)
	}
}

// Step implements Engine.
func (e *TCAEngine) Step(rec *PassRecord, in Reading) []Transition {
	if rec.State.Terminal() {
		return nil
	}
	now := in.Sample.TimestampMs
	level := in.Smoothed
	st := &stepper{rec: rec, now: now}

	if rec.SampleCount <= 1 || float32(level) > rec.PeakRSSI {
		rec.PeakRSSI = float32(level)
	}
	rec.trackLowest(float32(level))

	d := rssi.Distance(level, e.cfg.TxPowerAt1mDbm, e.cfg.PathLossExponent)
	e.est.Push(float64(now)/1000.0, d)
	e.diag = Diagnostics{
		TimestampMs: now,
		Smoothed:    level,
		Estimate:    in.Estimate,
		Distance:    d,
	}
	defer func() {
		e.diag.HereEnterMs = e.hereEnterMs
		e.diag.ForceLogAtMs = e.forceLogAtMs
	}()

	// Distance gating runs first and also applies while the fit is not ready.
	if d <= e.cfg.ApproachMeters {
		if rec.State == FirstSample || rec.State == TooFar {
			st.move(Approaching)
		}
	} else if rec.State != Here {
		st.move(TooFar)
	}

	fit, ok := e.est.Fit()
	if !ok {
		if rec.State == Here {
			e.trackBest(rec, level, now)
			if e.deadlinePassed(now) {
				e.logged(st, ExitDeadline)
			}
		}
		return st.moves
	}

	tCross, hasCross := fit.CrossingTime(e.cfg.HereMeters)
	speed := e.cfg.SpeedBand.Clamp(fit.Speed(d))
	e.diag.Ready = true
	e.diag.Slope = fit.Slope
	e.diag.Intercept = fit.Intercept
	e.diag.TCross = tCross
	e.diag.HasTCross = hasCross
	e.diag.Speed = speed

	switch rec.State {
	case FirstSample, TooFar, Approaching:
		crossingSoon := hasCross && tCross >= 0 && tCross <= e.cfg.ThresholdSec
		closeEnough := d <= e.cfg.HereMeters*e.cfg.HereEnterBand
		if fit.Approaching() && (crossingSoon || closeEnough) {
			st.move(Here)
			e.hereEnterMs = now
			e.bestRSSI = level
			e.bestTsMs = now
			e.hasBest = true
			rec.PeakTimeMs = now
			if rec.HereTimeMs == 0 {
				rec.HereTimeMs = now
			}
			e.refreshDeadline(speed)
		}
	case Here:
		if rule := e.receded(fit, tCross, hasCross, now); rule != "" {
			e.logged(st, rule)
			return st.moves
		}
		e.trackBest(rec, level, now)
		e.refreshDeadline(speed)
		if e.deadlinePassed(now) {
			e.logged(st, ExitDeadline)
		}
	}
	return st.moves
}

// receded returns the rule for a standard or early exit from HERE, or ""
// while the pass should stay in HERE.
func (e *TCAEngine) receded(fit tca.Fit, tCross float64, hasCross bool, now int64) string {
	if !hasCross || !fit.Receding() || tCross >= 0 {
		return ""
	}
	if tCross <= -e.cfg.ThresholdSec {
		return ExitReceded
	}
	if dwellSec := float64(now-e.hereEnterMs) / 1000.0; dwellSec >= e.cfg.HereMinDwellSec {
		return ExitDwell
	}
	if -tCross >= e.cfg.EarlyRecedeBehindSec {
		return ExitBehind
	}
	return ""
}

func (e *TCAEngine) trackBest(rec *PassRecord, level float64, now int64) {
	if e.hereEnterMs == 0 {
		return
	}
	if !e.hasBest || level > e.bestRSSI {
		e.bestRSSI = level
		e.bestTsMs = now
		e.hasBest = true
		rec.PeakTimeMs = now
	}
}

// refreshDeadline sets the forced log time to the time needed to traverse
// twice the here radius at the given speed, capped by the slowest runner.
func (e *TCAEngine) refreshDeadline(speed float64) {
	twoH := 2 * e.cfg.HereMeters
	traverseMs := int64(math.Ceil(twoH / speed * 1000))
	worstMs := int64(math.Ceil(twoH / e.cfg.SpeedBand.Min * 1000))
	e.forceLogAtMs = e.hereEnterMs + min(traverseMs, worstMs)
}

func (e *TCAEngine) deadlinePassed(now int64) bool {
	return e.forceLogAtMs > 0 && now >= e.forceLogAtMs
}

func (e *TCAEngine) logged(st *stepper, rule string) {
	e.diag.Exit = rule
	st.move(Logged)
	st.rec.ExitTimeMs = st.now
	if st.rec.PeakTimeMs == 0 && e.hasBest {
		st.rec.PeakTimeMs = e.bestTsMs
	}
}

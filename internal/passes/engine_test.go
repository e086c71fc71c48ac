package passes

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/split.report/internal/config"
	"github.com/banshee-data/split.report/internal/rssi"
	"github.com/banshee-data/split.report/internal/tca"
)

// stepAll feeds readings at 200 ms spacing and returns every transition.
func stepAll(eng Engine, rec *PassRecord, startMs int64, values []float64, useEstimate bool) []Transition {
	var out []Transition
	for i, v := range values {
		rec.SampleCount++
		in := Reading{
			Sample:   rssi.Sample{BeaconID: rec.BeaconID, TimestampMs: startMs + int64(i)*200, RSSI: int32(v)},
			Smoothed: v,
		}
		if useEstimate {
			in.Estimate = float32(v)
		}
		out = append(out, eng.Step(rec, in)...)
	}
	return out
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Engine != EngineTCA || cfg.LossPolicy != LossRequirePeak || cfg.LossTimeoutMs != 5000 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.SpeedBand != tca.DefaultSpeedBand() {
		t.Errorf("SpeedBand = %+v, want %+v", cfg.SpeedBand, tca.DefaultSpeedBand())
	}

	fromFile := ConfigFromTuning(config.MustLoadDefaultConfig())
	if diff := cmp.Diff(cfg, fromFile); diff != "" {
		t.Errorf("defaults file disagrees with compiled defaults (-compiled +file):\n%s", diff)
	}
}

func TestConfigNormalized(t *testing.T) {
	cfg := Config{ThresholdSec: 0.1, EmaAlpha: 5, LossPolicy: "bogus"}.normalized()
	if cfg.ThresholdSec != 0.3 {
		t.Errorf("ThresholdSec = %v, want floor 0.3", cfg.ThresholdSec)
	}
	if cfg.ApproachMeters != 15 {
		t.Errorf("ApproachMeters = %v, want 15 when unset", cfg.ApproachMeters)
	}
	if cfg.EmaAlpha != rssi.DefaultAlpha {
		t.Errorf("EmaAlpha = %v, want %v", cfg.EmaAlpha, rssi.DefaultAlpha)
	}
	if cfg.LossPolicy != LossRequirePeak || cfg.Engine != EngineTCA {
		t.Errorf("policy/engine = %s/%s", cfg.LossPolicy, cfg.Engine)
	}
}

func TestNewEngine(t *testing.T) {
	cfg := DefaultConfig()
	for _, kind := range []EngineKind{EngineTCA, EngineThresholdKalman} {
		cfg.Engine = kind
		eng, err := NewEngine(cfg)
		if err != nil {
			t.Fatalf("NewEngine(%s): %v", kind, err)
		}
		if eng.Kind() != kind {
			t.Errorf("Kind() = %s, want %s", eng.Kind(), kind)
		}
	}
	cfg.Engine = "nope"
	if _, err := NewEngine(cfg); err == nil {
		t.Error("expected error for unknown engine")
	}
}

func TestParseState(t *testing.T) {
	for _, s := range []State{FirstSample, TooFar, Approaching, Here, Logged, TimedOut} {
		got, err := ParseState(string(s))
		if err != nil || got != s {
			t.Errorf("ParseState(%q) = %q, %v", s, got, err)
		}
	}
	if _, err := ParseState("GONE"); err == nil {
		t.Error("ParseState accepted an unknown state")
	}
	if !Logged.Terminal() || !TimedOut.Terminal() || Here.Terminal() {
		t.Error("Terminal() wrong")
	}
}

func TestTCAEngineDistanceGating(t *testing.T) {
	eng := NewTCAEngine(DefaultConfig())
	rec := &PassRecord{BeaconID: 1, State: FirstSample}

	// -70 dBm is one meter away, -100 dBm about 31 m.
	got := stepAll(eng, rec, 1000, []float64{-70, -100, -70}, false)
	want := []Transition{
		{From: FirstSample, To: Approaching, TimestampMs: 1000},
		{From: Approaching, To: TooFar, TimestampMs: 1200},
		{From: TooFar, To: Approaching, TimestampMs: 1400},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("transitions mismatch (-want +got):\n%s", diff)
	}
	if eng.Diagnostics().Ready {
		t.Error("fit should not be ready after three samples")
	}
}

func TestTCAEngineTerminalIsFrozen(t *testing.T) {
	for _, s := range []State{Logged, TimedOut} {
		eng := NewTCAEngine(DefaultConfig())
		rec := &PassRecord{BeaconID: 1, State: s, ExitTimeMs: 10}
		before := *rec
		for i := 0; i < 7; i++ {
			in := Reading{Sample: rssi.Sample{TimestampMs: 1000 + int64(i)*200, RSSI: -60}, Smoothed: -60}
			if moves := eng.Step(rec, in); len(moves) != 0 {
				t.Errorf("%s: transitions %+v", s, moves)
			}
		}
		if *rec != before {
			t.Errorf("%s: record changed %+v", s, *rec)
		}
	}
}

func TestTCAEngineResumeForcedDeadline(t *testing.T) {
	eng := NewTCAEngine(DefaultConfig())
	rec := PassRecord{BeaconID: 2, State: Here, HereTimeMs: 5000, PeakTimeMs: 5000, PeakRSSI: -60, SampleCount: 10}
	eng.Resume(rec)

	// The window is empty, so only the deadline can log the pass. At the
	// slowest speed the deadline is 2*4 m / (5000/1560 m/s), about 2.5 s.
	rec.SampleCount++
	if moves := eng.Step(&rec, Reading{Sample: rssi.Sample{TimestampMs: 7000}, Smoothed: -65}); len(moves) != 0 {
		t.Fatalf("logged before the deadline: %+v", moves)
	}
	rec.SampleCount++
	moves := eng.Step(&rec, Reading{Sample: rssi.Sample{TimestampMs: 8000}, Smoothed: -66})
	if len(moves) != 1 || moves[0].To != Logged {
		t.Fatalf("moves = %+v, want HERE -> LOGGED", moves)
	}
	if eng.Diagnostics().Exit != ExitDeadline || eng.Diagnostics().Ready {
		t.Errorf("diagnostics = %+v, want deadline exit without a fit", eng.Diagnostics())
	}
	// The stored -60 is the pass maximum, not a HERE reading, so the best
	// HERE reading is the first one seen after the restart.
	if rec.ExitTimeMs != 8000 || rec.PeakTimeMs != 7000 {
		t.Errorf("record = %+v", rec)
	}
}

// hereLevels returns n smoothed levels 200 ms apart whose distances follow
// 10^(slope*t) exactly, so the regression over them is exact. The fitted
// line crosses the here radius tCross seconds from the last level.
func hereLevels(cfg Config, n int, slope, tCross float64) []float64 {
	lastLog := math.Log10(cfg.HereMeters) - slope*tCross
	out := make([]float64, n)
	for i := range out {
		logD := lastLog + slope*float64(i-(n-1))*0.2
		out[i] = cfg.TxPowerAt1mDbm - 10*cfg.PathLossExponent*logD
	}
	return out
}

// stepHere resumes a pass in HERE at hereMs and feeds levels from startMs.
// It returns the record and the index of the reading that logged the pass,
// or -1.
func stepHere(eng *TCAEngine, hereMs, startMs int64, levels []float64) (PassRecord, int) {
	rec := PassRecord{BeaconID: 4, State: Here, HereTimeMs: hereMs, SampleCount: 20}
	eng.Resume(rec)
	for i, v := range levels {
		rec.SampleCount++
		in := Reading{Sample: rssi.Sample{BeaconID: 4, TimestampMs: startMs + int64(i)*200, RSSI: int32(v)}, Smoothed: v}
		for _, m := range eng.Step(&rec, in) {
			if m.To == Logged {
				return rec, i
			}
		}
	}
	return rec, -1
}

func TestTCAEngineExitRules(t *testing.T) {
	cfg := DefaultConfig() // threshold 1.5 s, min dwell 0.7 s, behind 0.5 s

	// Six readings from 10000 to 11000 ms; the fit is first ready on the
	// last one, so every case is decided there.
	tests := []struct {
		name     string
		slope    float64 // log10(m) per second
		tCross   float64 // seconds, relative to the last reading
		hereMs   int64
		wantExit string // "" means the pass stays in HERE
	}{
		{"standard recession", 0.3, -1.6, 10000, ExitReceded},
		{"early exit after min dwell", 0.3, -0.3, 10000, ExitDwell},
		{"early exit far enough behind", 0.3, -1.0, 10600, ExitBehind},
		{"receding but too early", 0.3, -0.3, 10600, ""},
		{"receding before the crossing", 0.3, 0.4, 10000, ""},
		{"still approaching", -0.3, 0.5, 10000, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := NewTCAEngine(cfg)
			rec, at := stepHere(eng, tt.hereMs, 10000, hereLevels(cfg, 6, tt.slope, tt.tCross))

			d := eng.Diagnostics()
			if !d.Ready || !d.HasTCross || math.Abs(d.TCross-tt.tCross) > 1e-6 {
				t.Fatalf("fit not as constructed: %+v", d)
			}
			if tt.wantExit == "" {
				if at != -1 || rec.State != Here {
					t.Fatalf("pass left HERE at reading %d (exit %q)", at, d.Exit)
				}
				return
			}
			if at != 5 || rec.State != Logged || rec.ExitTimeMs != 11000 {
				t.Fatalf("logged at reading %d, record %+v; want reading 5 at 11000", at, rec)
			}
			if d.Exit != tt.wantExit {
				t.Errorf("exit rule = %q, want %q", d.Exit, tt.wantExit)
			}
		})
	}
}

func TestTCAEngineForcedDeadlineWithReadyFit(t *testing.T) {
	cfg := DefaultConfig()
	eng := NewTCAEngine(cfg)

	// A slow approach never recedes and clamps to the slowest speed, so the
	// deadline is about 2496 ms after entering HERE at 10000.
	rec, at := stepHere(eng, 10000, 10000, hereLevels(cfg, 14, -0.01, 10))

	d := eng.Diagnostics()
	if at != 13 || rec.ExitTimeMs != 12600 {
		t.Fatalf("logged at reading %d (exit %d), want reading 13 at 12600", at, rec.ExitTimeMs)
	}
	if d.Exit != ExitDeadline || !d.Ready {
		t.Errorf("diagnostics = %+v, want deadline exit with a ready fit", d)
	}
	if d.ForceLogAtMs < 12496 || d.ForceLogAtMs > 12497 {
		t.Errorf("ForceLogAtMs = %d, want about 12496", d.ForceLogAtMs)
	}
}

func TestThresholdEngineArrival(t *testing.T) {
	eng := NewThresholdEngine(DefaultConfig())
	rec := &PassRecord{BeaconID: 1, State: FirstSample}

	got := stepAll(eng, rec, 1000, []float64{-95, -85, -75, -68, -65, -72}, true)
	want := []Transition{
		{From: FirstSample, To: TooFar, TimestampMs: 1000},
		{From: TooFar, To: Approaching, TimestampMs: 1200},
		{From: Approaching, To: Here, TimestampMs: 1600},
		{From: Here, To: Logged, TimestampMs: 2000},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("transitions mismatch (-want +got):\n%s", diff)
	}
	if rec.PeakTimeMs != 1800 || rec.PeakRSSI != -65 {
		t.Errorf("peak = %d/%v, want 1800/-65", rec.PeakTimeMs, rec.PeakRSSI)
	}
	if rec.HereTimeMs != 1600 || rec.ExitTimeMs != 2000 || rec.LowestRSSI != -95 {
		t.Errorf("record = %+v", rec)
	}
}

func TestThresholdEngineSamplesBelowPeak(t *testing.T) {
	eng := NewThresholdEngine(DefaultConfig())
	rec := &PassRecord{BeaconID: 1, State: FirstSample}

	got := stepAll(eng, rec, 1000, []float64{-85, -80, -81, -82, -83, -84, -85}, true)
	want := []Transition{
		{From: FirstSample, To: Approaching, TimestampMs: 1000},
		{From: Approaching, To: Here, TimestampMs: 2000},
		{From: Here, To: Logged, TimestampMs: 2200},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("transitions mismatch (-want +got):\n%s", diff)
	}
	if rec.PeakTimeMs != 1200 || rec.BelowPeakCount != 5 {
		t.Errorf("peak=%d below=%d, want 1200 and 5", rec.PeakTimeMs, rec.BelowPeakCount)
	}
}

func TestThresholdEngineFadesBackToTooFar(t *testing.T) {
	eng := NewThresholdEngine(DefaultConfig())
	rec := &PassRecord{BeaconID: 1, State: FirstSample}

	got := stepAll(eng, rec, 1000, []float64{-85, -95}, true)
	want := []Transition{
		{From: FirstSample, To: Approaching, TimestampMs: 1000},
		{From: Approaching, To: TooFar, TimestampMs: 1200},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("transitions mismatch (-want +got):\n%s", diff)
	}
}

package passes

import (
	"math"

	"github.com/banshee-data/split.report/internal/config"
	"github.com/banshee-data/split.report/internal/rssi"
	"github.com/banshee-data/split.report/internal/tca"
)

// Config holds the engine parameters. It is fixed for the lifetime of a
// Tracker.
type Config struct {
	Engine EngineKind

	EmaAlpha         float64 // EMA weight for the conditioner and the peak refiner
	TxPowerAt1mDbm   float64 // calibrated RSSI at one meter
	PathLossExponent float64

	HereMeters           float64 // radius of the timing line
	ThresholdSec         float64 // crossing-time tolerance for entering and leaving HERE
	WindowSize           int     // regression window
	MinPoints            int     // points needed for a fit
	ApproachMeters       float64 // distance gate between TOO_FAR and APPROACHING
	EarlyRecedeBehindSec float64 // early exit when the crossing is this far behind
	HereMinDwellSec      float64 // early exit after this long in HERE
	HereEnterBand        float64 // HERE also entered within HereMeters*HereEnterBand
	SpeedBand            tca.SpeedBand

	KalmanQ        float32
	KalmanR        float32
	KalmanInitialP float32

	SamplesBelowPeakForHere int
	ArrivedThresholdDbm     float64
	ApproachingThresholdDbm float64

	LossTimeoutMs int64
	LossPolicy    LossPolicy
}

// DefaultConfig returns the compiled defaults.
func DefaultConfig() Config {
	return ConfigFromTuning(config.EmptyTuningConfig())
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	engine, err := ParseEngineKind(cfg.GetEngine())
	if err != nil {
		engine = EngineTCA
	}
	return Config{
		Engine:                  engine,
		EmaAlpha:                cfg.GetEmaAlpha(),
		TxPowerAt1mDbm:          cfg.GetTxPowerAt1mDbm(),
		PathLossExponent:        cfg.GetPathLossExponent(),
		HereMeters:              cfg.GetHereThresholdMeters(),
		ThresholdSec:            cfg.GetThresholdSec(),
		WindowSize:              cfg.GetWindowSize(),
		MinPoints:               cfg.GetMinPoints(),
		ApproachMeters:          cfg.GetApproachThresholdMeters(),
		EarlyRecedeBehindSec:    cfg.GetEarlyRecedeBehindSec(),
		HereMinDwellSec:         cfg.GetHereMinDwellSec(),
		HereEnterBand:           cfg.GetHereEnterBand(),
		SpeedBand:               tca.SpeedBandForPace(cfg.GetRaceDistanceMeters(), cfg.GetFastestFinishMinutes(), cfg.GetSlowestFinishMinutes()),
		KalmanQ:                 float32(cfg.GetKalmanQ()),
		KalmanR:                 float32(cfg.GetKalmanR()),
		KalmanInitialP:          float32(cfg.GetKalmanInitialP()),
		SamplesBelowPeakForHere: cfg.GetSamplesBelowPeakForHere(),
		ArrivedThresholdDbm:     cfg.GetArrivedThresholdDbm(),
		ApproachingThresholdDbm: cfg.GetApproachingThresholdDbm(),
		LossTimeoutMs:           cfg.GetLossTimeoutMs(),
		LossPolicy:              LossPolicy(cfg.GetLossPolicy()),
	}
}

// normalized applies the floors the engines rely on.
func (c Config) normalized() Config {
	if c.Engine == "" {
		c.Engine = EngineTCA
	}
	if math.IsNaN(c.EmaAlpha) || c.EmaAlpha <= 0 || c.EmaAlpha > 1 {
		c.EmaAlpha = rssi.DefaultAlpha
	}
	if c.HereMeters <= 0 {
		c.HereMeters = 4.0
	}
	c.ThresholdSec = math.Max(0.3, c.ThresholdSec)
	if c.ApproachMeters <= 0 {
		c.ApproachMeters = 15.0
	}
	if c.HereEnterBand < 1 {
		c.HereEnterBand = 1.05
	}
	if c.EarlyRecedeBehindSec <= 0 {
		c.EarlyRecedeBehindSec = 0.5
	}
	if c.HereMinDwellSec <= 0 {
		c.HereMinDwellSec = 0.7
	}
	if c.SpeedBand.Min <= 0 || c.SpeedBand.Max < c.SpeedBand.Min {
		c.SpeedBand = tca.DefaultSpeedBand()
	}
	if c.KalmanR <= 0 {
		c.KalmanR = rssi.DefaultKalmanR
	}
	if c.KalmanQ < 0 {
		c.KalmanQ = rssi.DefaultKalmanQ
	}
	if c.KalmanInitialP < 0 {
		c.KalmanInitialP = rssi.DefaultKalmanInitialP
	}
	if c.SamplesBelowPeakForHere <= 0 {
		c.SamplesBelowPeakForHere = 4
	}
	if c.LossTimeoutMs <= 0 {
		c.LossTimeoutMs = 5000
	}
	if c.LossPolicy != LossTimeOutPeakless {
		c.LossPolicy = LossRequirePeak
	}
	return c
}

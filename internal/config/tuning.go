package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// Engine names accepted by the engine field.
const (
	EngineTCA             = "tca"
	EngineThresholdKalman = "threshold_kalman"
)

// Loss policies accepted by the loss_policy field.
const (
	LossPolicyRequirePeak     = "require_peak"
	LossPolicyTimeOutPeakless = "time_out_peakless"
)

// TuningConfig represents the root configuration for the proximity engines.
// The schema matches the /api/config endpoint so the same JSON can be used
// for both startup configuration and inspection at runtime.
type TuningConfig struct {
	Engine *string `json:"engine,omitempty"`

	// Signal conditioning and distance model
	EmaAlpha         *float64 `json:"ema_alpha,omitempty"`
	TxPowerAt1mDbm   *float64 `json:"tx_power_at_1m_dbm,omitempty"`
	PathLossExponent *float64 `json:"path_loss_exponent,omitempty"`

	// TCA engine params
	HereThresholdMeters     *float64 `json:"here_threshold_meters,omitempty"`
	ThresholdSec            *float64 `json:"threshold_sec,omitempty"`
	WindowSize              *int     `json:"window_size,omitempty"`
	MinPoints               *int     `json:"min_points,omitempty"`
	ApproachThresholdMeters *float64 `json:"approach_threshold_meters,omitempty"`
	EarlyRecedeBehindSec    *float64 `json:"early_recede_behind_sec,omitempty"`
	HereMinDwellSec         *float64 `json:"here_min_dwell_sec,omitempty"`
	HereEnterBand           *float64 `json:"here_enter_band,omitempty"`
	RaceDistanceMeters      *float64 `json:"race_distance_meters,omitempty"`
	FastestFinishMinutes    *float64 `json:"fastest_finish_minutes,omitempty"`
	SlowestFinishMinutes    *float64 `json:"slowest_finish_minutes,omitempty"`

	// Kalman smoother params
	KalmanQ        *float64 `json:"kalman_q,omitempty"`
	KalmanR        *float64 `json:"kalman_r,omitempty"`
	KalmanInitialP *float64 `json:"kalman_initial_p,omitempty"`

	// Threshold engine params
	SamplesBelowPeakForHere *int     `json:"samples_below_peak_for_here,omitempty"`
	ArrivedThresholdDbm     *float64 `json:"arrived_threshold_dbm,omitempty"`
	ApproachingThresholdDbm *float64 `json:"approaching_threshold_dbm,omitempty"`

	// Ingest filter
	FilterMinRSSI *int `json:"filter_min_rssi,omitempty"`
	FilterMaxRSSI *int `json:"filter_max_rssi,omitempty"`

	// Loss sweep
	LossTimeoutMs *int64  `json:"loss_timeout_ms,omitempty"`
	LossPolicy    *string `json:"loss_policy,omitempty"`

	// Pipeline
	EventQueueSize *int  `json:"event_queue_size,omitempty"`
	RetainSamples  *bool `json:"retain_samples,omitempty"`

	// Upload
	UploadURL     *string `json:"upload_url,omitempty"`
	UploadTimeout *string `json:"upload_timeout,omitempty"` // duration string like "10s"
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrInt64(v int64) *int64       { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field populated from
// the compiled defaults. It mirrors config/tuning.defaults.json.
func DefaultTuningConfig() *TuningConfig {
	e := EmptyTuningConfig()
	return &TuningConfig{
		Engine:                  ptrString(e.GetEngine()),
		EmaAlpha:                ptrFloat64(e.GetEmaAlpha()),
		TxPowerAt1mDbm:          ptrFloat64(e.GetTxPowerAt1mDbm()),
		PathLossExponent:        ptrFloat64(e.GetPathLossExponent()),
		HereThresholdMeters:     ptrFloat64(e.GetHereThresholdMeters()),
		ThresholdSec:            ptrFloat64(e.GetThresholdSec()),
		WindowSize:              ptrInt(e.GetWindowSize()),
		MinPoints:               ptrInt(e.GetMinPoints()),
		ApproachThresholdMeters: ptrFloat64(e.GetApproachThresholdMeters()),
		EarlyRecedeBehindSec:    ptrFloat64(e.GetEarlyRecedeBehindSec()),
		HereMinDwellSec:         ptrFloat64(e.GetHereMinDwellSec()),
		HereEnterBand:           ptrFloat64(e.GetHereEnterBand()),
		RaceDistanceMeters:      ptrFloat64(e.GetRaceDistanceMeters()),
		FastestFinishMinutes:    ptrFloat64(e.GetFastestFinishMinutes()),
		SlowestFinishMinutes:    ptrFloat64(e.GetSlowestFinishMinutes()),
		KalmanQ:                 ptrFloat64(e.GetKalmanQ()),
		KalmanR:                 ptrFloat64(e.GetKalmanR()),
		KalmanInitialP:          ptrFloat64(e.GetKalmanInitialP()),
		SamplesBelowPeakForHere: ptrInt(e.GetSamplesBelowPeakForHere()),
		ArrivedThresholdDbm:     ptrFloat64(e.GetArrivedThresholdDbm()),
		ApproachingThresholdDbm: ptrFloat64(e.GetApproachingThresholdDbm()),
		FilterMinRSSI:           ptrInt(e.GetFilterMinRSSI()),
		FilterMaxRSSI:           ptrInt(e.GetFilterMaxRSSI()),
		LossTimeoutMs:           ptrInt64(e.GetLossTimeoutMs()),
		LossPolicy:              ptrString(e.GetLossPolicy()),
		EventQueueSize:          ptrInt(e.GetEventQueueSize()),
		RetainSamples:           ptrBool(e.GetRetainSamples()),
		UploadURL:               ptrString(e.GetUploadURL()),
		UploadTimeout:           ptrString(e.GetUploadTimeout().String()),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	// Validate the config file path.
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.Engine != nil {
		switch *c.Engine {
		case EngineTCA, EngineThresholdKalman:
		default:
			return fmt.Errorf("engine must be %q or %q, got %q", EngineTCA, EngineThresholdKalman, *c.Engine)
		}
	}

	if c.EmaAlpha != nil {
		if math.IsNaN(*c.EmaAlpha) || *c.EmaAlpha <= 0 || *c.EmaAlpha > 1 {
			return fmt.Errorf("ema_alpha must be in (0, 1], got %f", *c.EmaAlpha)
		}
	}

	if c.PathLossExponent != nil && *c.PathLossExponent <= 0 {
		return fmt.Errorf("path_loss_exponent must be positive, got %f", *c.PathLossExponent)
	}

	if c.HereThresholdMeters != nil && *c.HereThresholdMeters <= 0 {
		return fmt.Errorf("here_threshold_meters must be positive, got %f", *c.HereThresholdMeters)
	}

	if c.WindowSize != nil && *c.WindowSize < 1 {
		return fmt.Errorf("window_size must be positive, got %d", *c.WindowSize)
	}

	if c.MinPoints != nil && *c.MinPoints < 1 {
		return fmt.Errorf("min_points must be positive, got %d", *c.MinPoints)
	}

	if c.FastestFinishMinutes != nil && c.SlowestFinishMinutes != nil {
		if *c.FastestFinishMinutes <= 0 || *c.SlowestFinishMinutes < *c.FastestFinishMinutes {
			return fmt.Errorf("finish minutes must satisfy 0 < fastest (%f) <= slowest (%f)",
				*c.FastestFinishMinutes, *c.SlowestFinishMinutes)
		}
	}

	if c.KalmanR != nil && *c.KalmanR <= 0 {
		return fmt.Errorf("kalman_r must be positive, got %f", *c.KalmanR)
	}

	if c.FilterMinRSSI != nil && c.FilterMaxRSSI != nil && *c.FilterMinRSSI > *c.FilterMaxRSSI {
		return fmt.Errorf("filter_min_rssi (%d) must not exceed filter_max_rssi (%d)", *c.FilterMinRSSI, *c.FilterMaxRSSI)
	}

	if c.LossTimeoutMs != nil && *c.LossTimeoutMs <= 0 {
		return fmt.Errorf("loss_timeout_ms must be positive, got %d", *c.LossTimeoutMs)
	}

	if c.LossPolicy != nil {
		switch *c.LossPolicy {
		case LossPolicyRequirePeak, LossPolicyTimeOutPeakless:
		default:
			return fmt.Errorf("loss_policy must be %q or %q, got %q", LossPolicyRequirePeak, LossPolicyTimeOutPeakless, *c.LossPolicy)
		}
	}

	if c.EventQueueSize != nil && *c.EventQueueSize < 1 {
		return fmt.Errorf("event_queue_size must be positive, got %d", *c.EventQueueSize)
	}

	// Validate UploadTimeout can be parsed if set
	if c.UploadTimeout != nil && *c.UploadTimeout != "" {
		if _, err := time.ParseDuration(*c.UploadTimeout); err != nil {
			return fmt.Errorf("invalid upload_timeout '%s': %w", *c.UploadTimeout, err)
		}
	}

	return nil
}

// GetEngine returns the engine value or the default.
func (c *TuningConfig) GetEngine() string {
	if c.Engine == nil || *c.Engine == "" {
		return EngineTCA
	}
	return *c.Engine
}

// GetEmaAlpha returns the ema_alpha value or the default.
func (c *TuningConfig) GetEmaAlpha() float64 {
	if c.EmaAlpha == nil {
		return 0.3
	}
	return *c.EmaAlpha
}

// GetTxPowerAt1mDbm returns the tx_power_at_1m_dbm value or the default.
func (c *TuningConfig) GetTxPowerAt1mDbm() float64 {
	if c.TxPowerAt1mDbm == nil {
		return -70
	}
	return *c.TxPowerAt1mDbm
}

// GetPathLossExponent returns the path_loss_exponent value or the default.
func (c *TuningConfig) GetPathLossExponent() float64 {
	if c.PathLossExponent == nil {
		return 2.0
	}
	return *c.PathLossExponent
}

// GetHereThresholdMeters returns the here_threshold_meters value or the default.
func (c *TuningConfig) GetHereThresholdMeters() float64 {
	if c.HereThresholdMeters == nil {
		return 4.0
	}
	return *c.HereThresholdMeters
}

// GetThresholdSec returns the threshold_sec value or the default.
func (c *TuningConfig) GetThresholdSec() float64 {
	if c.ThresholdSec == nil {
		return 1.5
	}
	return *c.ThresholdSec
}

// GetWindowSize returns the window_size value or the default.
func (c *TuningConfig) GetWindowSize() int {
	if c.WindowSize == nil {
		return 12
	}
	return *c.WindowSize
}

// GetMinPoints returns the min_points value or the default.
func (c *TuningConfig) GetMinPoints() int {
	if c.MinPoints == nil {
		return 6
	}
	return *c.MinPoints
}

// GetApproachThresholdMeters returns the approach_threshold_meters value or the default.
func (c *TuningConfig) GetApproachThresholdMeters() float64 {
	if c.ApproachThresholdMeters == nil {
		return 12.0
	}
	return *c.ApproachThresholdMeters
}

// GetEarlyRecedeBehindSec returns the early_recede_behind_sec value or the default.
func (c *TuningConfig) GetEarlyRecedeBehindSec() float64 {
	if c.EarlyRecedeBehindSec == nil {
		return 0.5
	}
	return *c.EarlyRecedeBehindSec
}

// GetHereMinDwellSec returns the here_min_dwell_sec value or the default.
func (c *TuningConfig) GetHereMinDwellSec() float64 {
	if c.HereMinDwellSec == nil {
		return 0.7
	}
	return *c.HereMinDwellSec
}

// GetHereEnterBand returns the here_enter_band value or the default.
func (c *TuningConfig) GetHereEnterBand() float64 {
	if c.HereEnterBand == nil {
		return 1.05
	}
	return *c.HereEnterBand
}

// GetRaceDistanceMeters returns the race_distance_meters value or the default.
func (c *TuningConfig) GetRaceDistanceMeters() float64 {
	if c.RaceDistanceMeters == nil {
		return 5000
	}
	return *c.RaceDistanceMeters
}

// GetFastestFinishMinutes returns the fastest_finish_minutes value or the default.
func (c *TuningConfig) GetFastestFinishMinutes() float64 {
	if c.FastestFinishMinutes == nil {
		return 16
	}
	return *c.FastestFinishMinutes
}

// GetSlowestFinishMinutes returns the slowest_finish_minutes value or the default.
func (c *TuningConfig) GetSlowestFinishMinutes() float64 {
	if c.SlowestFinishMinutes == nil {
		return 26
	}
	return *c.SlowestFinishMinutes
}

// GetKalmanQ returns the kalman_q value or the default.
func (c *TuningConfig) GetKalmanQ() float64 {
	if c.KalmanQ == nil {
		return 0.001
	}
	return *c.KalmanQ
}

// GetKalmanR returns the kalman_r value or the default.
func (c *TuningConfig) GetKalmanR() float64 {
	if c.KalmanR == nil {
		return 0.1
	}
	return *c.KalmanR
}

// GetKalmanInitialP returns the kalman_initial_p value or the default.
func (c *TuningConfig) GetKalmanInitialP() float64 {
	if c.KalmanInitialP == nil {
		return 0.05
	}
	return *c.KalmanInitialP
}

// GetSamplesBelowPeakForHere returns the samples_below_peak_for_here value or the default.
func (c *TuningConfig) GetSamplesBelowPeakForHere() int {
	if c.SamplesBelowPeakForHere == nil {
		return 4
	}
	return *c.SamplesBelowPeakForHere
}

// GetArrivedThresholdDbm returns the arrived_threshold_dbm value or the default.
func (c *TuningConfig) GetArrivedThresholdDbm() float64 {
	if c.ArrivedThresholdDbm == nil {
		return -70
	}
	return *c.ArrivedThresholdDbm
}

// GetApproachingThresholdDbm returns the approaching_threshold_dbm value or the default.
func (c *TuningConfig) GetApproachingThresholdDbm() float64 {
	if c.ApproachingThresholdDbm == nil {
		return -90
	}
	return *c.ApproachingThresholdDbm
}

// GetFilterMinRSSI returns the filter_min_rssi value or the default.
func (c *TuningConfig) GetFilterMinRSSI() int {
	if c.FilterMinRSSI == nil {
		return -105
	}
	return *c.FilterMinRSSI
}

// GetFilterMaxRSSI returns the filter_max_rssi value or the default.
func (c *TuningConfig) GetFilterMaxRSSI() int {
	if c.FilterMaxRSSI == nil {
		return -25
	}
	return *c.FilterMaxRSSI
}

// GetLossTimeoutMs returns the loss_timeout_ms value or the default.
func (c *TuningConfig) GetLossTimeoutMs() int64 {
	if c.LossTimeoutMs == nil {
		return 5000
	}
	return *c.LossTimeoutMs
}

// GetLossPolicy returns the loss_policy value or the default.
func (c *TuningConfig) GetLossPolicy() string {
	if c.LossPolicy == nil || *c.LossPolicy == "" {
		return LossPolicyRequirePeak
	}
	return *c.LossPolicy
}

// GetEventQueueSize returns the event_queue_size value or the default.
func (c *TuningConfig) GetEventQueueSize() int {
	if c.EventQueueSize == nil {
		return 1024
	}
	return *c.EventQueueSize
}

// GetRetainSamples returns the retain_samples value or the default.
func (c *TuningConfig) GetRetainSamples() bool {
	if c.RetainSamples == nil {
		return true
	}
	return *c.RetainSamples
}

// GetUploadURL returns the upload_url value or the default (empty, uploads disabled).
func (c *TuningConfig) GetUploadURL() string {
	if c.UploadURL == nil {
		return ""
	}
	return *c.UploadURL
}

// GetUploadTimeout parses and returns the UploadTimeout as a time.Duration.
func (c *TuningConfig) GetUploadTimeout() time.Duration {
	if c.UploadTimeout == nil || *c.UploadTimeout == "" {
		return 10 * time.Second // default
	}
	d, err := time.ParseDuration(*c.UploadTimeout)
	if err != nil {
		return 10 * time.Second // default on parse error
	}
	return d
}

// Package units converts runner speeds and formats split times.
package units

import (
	"fmt"
	"math"
	"strings"
)

// Speed unit constants
const (
	MPS  = "mps"
	MPH  = "mph"
	KMPH = "kmph"
	KPH  = "kph"
)

// Pace unit constants, time per distance
const (
	MinPerKm   = "min/km"
	MinPerMile = "min/mile"
)

const metersPerMile = 1609.344

// ValidUnits contains all valid speed unit values
var ValidUnits = []string{MPS, MPH, KMPH, KPH}

// IsValid checks if the given unit is a valid speed unit
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return strings.Join(ValidUnits, ", ")
}

// ConvertSpeed converts a speed from meters per second to the target units.
// Unknown units leave the value in m/s.
func ConvertSpeed(speedMPS float64, targetUnits string) float64 {
	switch targetUnits {
	case MPH:
		return speedMPS * 3600 / metersPerMile
	case KMPH, KPH:
		return speedMPS * 3.6
	default:
		return speedMPS
	}
}

// Pace returns seconds per kilometre, or per mile for MinPerMile. A
// non-positive speed has no pace and returns false.
func Pace(speedMPS float64, paceUnit string) (float64, bool) {
	if speedMPS <= 0 || math.IsNaN(speedMPS) || math.IsInf(speedMPS, 0) {
		return 0, false
	}
	if paceUnit == MinPerMile {
		return metersPerMile / speedMPS, true
	}
	return 1000 / speedMPS, true
}

// FormatPace renders a pace in seconds as m:ss.
func FormatPace(seconds float64) string {
	total := int64(math.Round(seconds))
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

// FormatSplit renders a split in milliseconds as h:mm:ss.t, or m:ss.t
// under an hour. Negative splits are prefixed with a minus sign.
func FormatSplit(ms int64) string {
	sign := ""
	if ms < 0 {
		sign = "-"
		ms = -ms
	}
	tenths := (ms + 50) / 100
	h := tenths / 36000
	m := tenths / 600 % 60
	s := tenths / 10 % 60
	t := tenths % 10
	if h > 0 {
		return fmt.Sprintf("%s%d:%02d:%02d.%d", sign, h, m, s, t)
	}
	return fmt.Sprintf("%s%d:%02d.%d", sign, m, s, t)
}

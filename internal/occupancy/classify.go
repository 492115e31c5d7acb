// Package occupancy derives per-device occupancy, crowd level and trend.
package occupancy

import (
	"math"

	"cityv-crowd/internal/models"
)

// Density thresholds, lower bound inclusive
const (
	LowThreshold      = 0.2
	ModerateThreshold = 0.4
	HighThreshold     = 0.6
	VeryHighThreshold = 0.85
)

// ClassifyDensity maps a density onto a crowd level. Total and monotonic;
// NaN classifies as empty.
func ClassifyDensity(d float64) models.CrowdLevel {
	switch {
	case math.IsNaN(d) || d < LowThreshold:
		return models.CrowdLevelEmpty
	case d < ModerateThreshold:
		return models.CrowdLevelLow
	case d < HighThreshold:
		return models.CrowdLevelModerate
	case d < VeryHighThreshold:
		return models.CrowdLevelHigh
	default:
		return models.CrowdLevelVeryHigh
	}
}

// ClassifyRatio classifies occupancy/capacity with the density thresholds.
// Unknown capacity classifies as empty.
func ClassifyRatio(occupancy, capacity int) models.CrowdLevel {
	if capacity <= 0 {
		return models.CrowdLevelEmpty
	}
	return ClassifyDensity(float64(occupancy) / float64(capacity))
}

// DeriveOccupancy people inside from cumulative counters, never negative
func DeriveOccupancy(entry, exit int) int {
	if entry <= exit {
		return 0
	}
	return entry - exit
}

// ClampOccupancy bounds occupancy to [0, capacity]; capacity <= 0 means unbounded
func ClampOccupancy(occupancy, capacity int) int {
	if occupancy < 0 {
		return 0
	}
	if capacity > 0 && occupancy > capacity {
		return capacity
	}
	return occupancy
}

// SanitizeDensity returns the value to store and whether the reported value
// was anomalous (NaN, infinite or outside [0,1]). Absent density stores 0
// without being anomalous.
func SanitizeDensity(d models.Density) (float64, bool) {
	if !d.Set {
		return 0, false
	}
	v := d.Value
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > 1 {
		return 0, true
	}
	return v, false
}

// TrendOf direction of a change; |delta| <= tolerance is stable
func TrendOf(delta, tolerance int) models.Trend {
	if tolerance < 0 {
		tolerance = 0
	}
	switch {
	case delta > tolerance:
		return models.TrendIncreasing
	case delta < -tolerance:
		return models.TrendDecreasing
	default:
		return models.TrendStable
	}
}

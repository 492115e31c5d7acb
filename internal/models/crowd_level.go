package models

// CrowdLevel discrete crowd density bucket
type CrowdLevel string

const (
	CrowdLevelEmpty    CrowdLevel = "empty"
	CrowdLevelLow      CrowdLevel = "low"
	CrowdLevelModerate CrowdLevel = "moderate"
	CrowdLevelHigh     CrowdLevel = "high"
	CrowdLevelVeryHigh CrowdLevel = "very_high"
)

// Rank orders levels: empty=0 ... very_high=4. Unknown values rank -1.
func (l CrowdLevel) Rank() int {
	switch l {
	case CrowdLevelEmpty:
		return 0
	case CrowdLevelLow:
		return 1
	case CrowdLevelModerate:
		return 2
	case CrowdLevelHigh:
		return 3
	case CrowdLevelVeryHigh:
		return 4
	default:
		return -1
	}
}

// Valid reports whether l is one of the five levels
func (l CrowdLevel) Valid() bool {
	return l.Rank() >= 0
}

// Trend occupancy direction over a window
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

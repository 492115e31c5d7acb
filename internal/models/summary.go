package models

import "time"

// DailySummary iot_daily_summaries row, one per business and local day
type DailySummary struct {
	BusinessID string `json:"businessId"`
	// SummaryDate YYYY-MM-DD in the business timezone
	SummaryDate        string    `json:"summaryDate"`
	TotalEntries       int       `json:"totalEntries"`
	TotalExits         int       `json:"totalExits"`
	AvgOccupancy       float64   `json:"avgOccupancy"`
	MaxOccupancy       int       `json:"maxOccupancy"`
	MinOccupancy       int       `json:"minOccupancy"`
	PeakHour           *int      `json:"peakHour"`
	PeakHourVisitors   int       `json:"peakHourVisitors"`
	TotalDetections    int       `json:"totalDetections"`
	ActiveCamerasCount int       `json:"activeCamerasCount"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// DeviceStatus liveness of a device inside a business summary
type DeviceStatus string

const (
	DeviceStatusLive     DeviceStatus = "live"
	DeviceStatusStale    DeviceStatus = "stale"
	DeviceStatusInactive DeviceStatus = "inactive"
	DeviceStatusUnknown  DeviceStatus = "unknown"
)

// DeviceBreakdown per-device line of a business summary
type DeviceBreakdown struct {
	DeviceID         string       `json:"deviceId"`
	DisplayName      string       `json:"displayName"`
	Status           DeviceStatus `json:"status"`
	CurrentOccupancy int          `json:"currentOccupancy"`
	AvgOccupancy     float64      `json:"avgOccupancy"`
	CrowdDensity     float64      `json:"crowdDensity"`
	CrowdLevel       CrowdLevel   `json:"crowdLevel"`
	Trend            Trend        `json:"trend"`
	MaxCapacity      *int         `json:"maxCapacity,omitempty"`
	LastUpdate       *time.Time   `json:"lastUpdate"`
}

// BusinessSummary live view of a business over a time range
type BusinessSummary struct {
	BusinessID         string            `json:"businessId"`
	CurrentOccupancy   int               `json:"currentOccupancy"`
	AvgOccupancy       float64           `json:"avgOccupancy"`
	CrowdLevel         CrowdLevel        `json:"crowdLevel"`
	IsLive             bool              `json:"isLive"`
	IsOpen             *bool             `json:"isOpen"`
	LastUpdate         *time.Time        `json:"lastUpdate"`
	From               time.Time         `json:"from"`
	To                 time.Time         `json:"to"`
	PerDeviceBreakdown []DeviceBreakdown `json:"perDeviceBreakdown"`
}

// DeviceOccupancy occupancy view of a single device
type DeviceOccupancy struct {
	DeviceID         string       `json:"deviceId"`
	CurrentOccupancy int          `json:"currentOccupancy"`
	CrowdDensity     float64      `json:"crowdDensity"`
	CrowdLevel       CrowdLevel   `json:"crowdLevel"`
	Trend            Trend        `json:"trend"`
	Stale            bool         `json:"stale"`
	LastSeen         *time.Time   `json:"lastSeen"`
	Status           DeviceStatus `json:"status"`
}

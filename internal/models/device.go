package models

import "time"

// Device registered camera (business_cameras row)
type Device struct {
	// DeviceID canonical id, stored identically in every detection row
	DeviceID string `json:"deviceId"`
	// CameraID numeric registry row id, accepted as an alias by the resolver
	CameraID    int64     `json:"cameraId"`
	BusinessID  string    `json:"businessId"`
	DisplayName string    `json:"displayName"`
	IPAddress   *string   `json:"ipAddress,omitempty"`
	StreamURL   *string   `json:"streamUrl,omitempty"`
	IsActive    bool      `json:"isActive"`
	MaxCapacity *int      `json:"maxCapacity,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Capacity returns MaxCapacity or 0 when unset or non-positive
func (d *Device) Capacity() int {
	if d == nil || d.MaxCapacity == nil || *d.MaxCapacity <= 0 {
		return 0
	}
	return *d.MaxCapacity
}

// Business tenant owning cameras
type Business struct {
	BusinessID   string          `json:"businessId"`
	Name         string          `json:"name"`
	WorkingHours *WeeklySchedule `json:"workingHours,omitempty"`
}

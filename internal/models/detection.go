package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Density crowd density as reported by a device. Devices send a number, a
// numeric string, "NaN"/"Infinity" or null; anything else is invalid input.
type Density struct {
	Value float64
	// Set false when the field was absent or null
	Set bool
}

// D density of v
func D(v float64) Density {
	return Density{Value: v, Set: true}
}

// UnmarshalJSON implements json.Unmarshaler
func (d *Density) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*d = Density{}
		return nil
	}
	s := string(b)
	if b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("%w: crowdDensity: %v", ErrInvalidInput, err)
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*d = Density{}
			return nil
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		// ParseFloat reports range errors with ±Inf, which is still a usable value
		if ne, ok := err.(*strconv.NumError); !ok || ne.Err != strconv.ErrRange {
			return fmt.Errorf("%w: crowdDensity %q is not numeric", ErrInvalidInput, s)
		}
	}
	*d = Density{Value: v, Set: true}
	return nil
}

// MarshalJSON implements json.Marshaler; non-finite values are written as strings
func (d Density) MarshalJSON() ([]byte, error) {
	if !d.Set {
		return []byte("null"), nil
	}
	if math.IsNaN(d.Value) || math.IsInf(d.Value, 0) {
		return json.Marshal(strconv.FormatFloat(d.Value, 'f', -1, 64))
	}
	return json.Marshal(d.Value)
}

// EventTime device timestamp: RFC3339 string, or unix seconds / milliseconds
type EventTime struct {
	time.Time
}

// At event time of t
func At(t time.Time) EventTime {
	return EventTime{Time: t}
}

// unix values above this are milliseconds
const unixMillisThreshold = 1e11

// UnmarshalJSON implements json.Unmarshaler
func (e *EventTime) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*e = EventTime{}
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("%w: timestamp: %v", ErrInvalidInput, err)
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*e = EventTime{}
			return nil
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			*e = EventTime{Time: t}
			return nil
		}
		// some firmware quotes the epoch value
		b = []byte(s)
	}
	n, err := strconv.ParseFloat(string(b), 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) || n <= 0 {
		return fmt.Errorf("%w: timestamp %s is neither RFC3339 nor unix time", ErrInvalidInput, string(b))
	}
	if n >= unixMillisThreshold {
		*e = EventTime{Time: time.UnixMilli(int64(n)).UTC()}
		return nil
	}
	sec, frac := math.Modf(n)
	*e = EventTime{Time: time.Unix(int64(sec), int64(frac*1e9)).UTC()}
	return nil
}

// MarshalJSON implements json.Marshaler
func (e EventTime) MarshalJSON() ([]byte, error) {
	if e.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(e.Time.Format(time.RFC3339Nano))
}

// DetectionInput payload reported by a device
type DetectionInput struct {
	// DeviceID string or number; normalized by the registry
	DeviceID         any       `json:"deviceId" validate:"required"`
	PeopleCount      int       `json:"peopleCount" validate:"gte=0"`
	CrowdDensity     Density   `json:"crowdDensity"`
	EntryCount       int       `json:"entryCount" validate:"gte=0"`
	ExitCount        int       `json:"exitCount" validate:"gte=0"`
	CurrentOccupancy *int      `json:"currentOccupancy,omitempty" validate:"omitempty,gte=0"`
	Timestamp        EventTime `json:"timestamp"`
}

// DetectionRecord stored iot_crowd_analysis row; never updated after insert
type DetectionRecord struct {
	ID                int64      `json:"id"`
	DeviceID          string     `json:"deviceId"`
	BusinessID        string     `json:"businessId"`
	PeopleCount       int        `json:"peopleCount"`
	CrowdDensity      float64    `json:"crowdDensity"`
	CrowdLevel        CrowdLevel `json:"crowdLevel"`
	EntryCount        int        `json:"entryCount"`
	ExitCount         int        `json:"exitCount"`
	CurrentOccupancy  int        `json:"currentOccupancy"`
	CounterRegression bool       `json:"counterRegression"`
	DensityAnomaly    bool       `json:"densityAnomaly"`
	AnalysisTimestamp time.Time  `json:"analysisTimestamp"`
	CreatedAt         time.Time  `json:"createdAt"`
}

package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DayHours opening hours of a single weekday. CloseTime before OpenTime means
// the range runs past midnight; equal times mean open all day.
type DayHours struct {
	IsOpen    bool   `json:"isOpen"`
	OpenTime  string `json:"openTime,omitempty"`
	CloseTime string `json:"closeTime,omitempty"`

	openMin, closeMin int // minutes since midnight, set by validate
}

// WeeklySchedule business working hours; missing days are closed
type WeeklySchedule struct {
	Days map[time.Weekday]DayHours
}

var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

// ParseWeeklySchedule parses the working_hours JSON document
func ParseWeeklySchedule(raw []byte) (*WeeklySchedule, error) {
	var ws WeeklySchedule
	if err := json.Unmarshal(raw, &ws); err != nil {
		return nil, err
	}
	return &ws, nil
}

// UnmarshalJSON implements json.Unmarshaler
func (ws *WeeklySchedule) UnmarshalJSON(b []byte) error {
	var raw map[string]DayHours
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}
	days := make(map[time.Weekday]DayHours, len(raw))
	for name, dh := range raw {
		wd, ok := weekdayNames[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return fmt.Errorf("%w: unknown weekday %q", ErrInvalidSchedule, name)
		}
		if err := dh.validate(); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidSchedule, name, err)
		}
		days[wd] = dh
	}
	ws.Days = days
	return nil
}

// MarshalJSON implements json.Marshaler
func (ws WeeklySchedule) MarshalJSON() ([]byte, error) {
	out := make(map[string]DayHours, len(ws.Days))
	for wd, dh := range ws.Days {
		out[strings.ToLower(wd.String())] = dh
	}
	return json.Marshal(out)
}

func (dh *DayHours) validate() error {
	if !dh.IsOpen {
		return nil
	}
	var err error
	if dh.openMin, err = parseClock(dh.OpenTime); err != nil {
		return fmt.Errorf("openTime: %w", err)
	}
	if dh.closeMin, err = parseClock(dh.CloseTime); err != nil {
		return fmt.Errorf("closeTime: %w", err)
	}
	return nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%q is not HH:MM", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// IsOpenAt reports whether the business is open at t, evaluated in t's location
func (ws *WeeklySchedule) IsOpenAt(t time.Time) bool {
	if ws == nil {
		return false
	}
	m := t.Hour()*60 + t.Minute()

	if today, ok := ws.Days[t.Weekday()]; ok && today.IsOpen {
		switch {
		case today.openMin == today.closeMin:
			return true
		case today.openMin < today.closeMin:
			if m >= today.openMin && m < today.closeMin {
				return true
			}
		default:
			if m >= today.openMin {
				return true
			}
		}
	}

	// tail of yesterday's overnight range
	yesterday := (t.Weekday() + 6) % 7
	if prev, ok := ws.Days[yesterday]; ok && prev.IsOpen && prev.closeMin < prev.openMin {
		return m < prev.closeMin
	}
	return false
}

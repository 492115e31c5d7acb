package aggregator

import (
	"fmt"
	"math"
	"sort"
	"time"

	"cityv-crowd/internal/models"
)

// DateLayout summary_date format
const DateLayout = "2006-01-02"

// LocalDate business day of t in loc
func LocalDate(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DateLayout)
}

// DayBounds [start, end) of a local business day; DST days are 23 or 25 hours long
func DayBounds(date string, loc *time.Location) (time.Time, time.Time, error) {
	start, err := time.ParseInLocation(DateLayout, date, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: date %q is not YYYY-MM-DD", models.ErrInvalidInput, date)
	}
	return start, start.AddDate(0, 0, 1), nil
}

// SortRecords orders records by (analysis_timestamp, device_id, id) in place
func SortRecords(records []models.DetectionRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.AnalysisTimestamp.Equal(b.AnalysisTimestamp) {
			return a.AnalysisTimestamp.Before(b.AnalysisTimestamp)
		}
		if a.DeviceID != b.DeviceID {
			return a.DeviceID < b.DeviceID
		}
		return a.ID < b.ID
	})
}

type deviceState struct {
	occupancy int
	entryMark int
	exitMark  int
}

// ComputeDailySummary folds one business day of detections into a summary.
// The result does not depend on the input order.
//
// Entries and exits are the per-device counter watermarks summed over
// devices. After every record the business occupancy is the sum of each
// device's latest occupancy; average, max, min and peak hour are taken over
// that series.
func ComputeDailySummary(businessID, date string, loc *time.Location, records []models.DetectionRecord) models.DailySummary {
	s := models.DailySummary{
		BusinessID:  businessID,
		SummaryDate: date,
	}
	if len(records) == 0 {
		return s
	}

	sorted := make([]models.DetectionRecord, len(records))
	copy(sorted, records)
	SortRecords(sorted)

	devices := make(map[string]*deviceState)
	var (
		business int
		total    int
		peakHour int
	)
	for i, r := range sorted {
		st, ok := devices[r.DeviceID]
		if !ok {
			st = &deviceState{}
			devices[r.DeviceID] = st
		}
		business += r.CurrentOccupancy - st.occupancy
		st.occupancy = r.CurrentOccupancy
		if r.EntryCount > st.entryMark {
			st.entryMark = r.EntryCount
		}
		if r.ExitCount > st.exitMark {
			st.exitMark = r.ExitCount
		}

		total += business
		if i == 0 || business > s.MaxOccupancy {
			s.MaxOccupancy = business
			peakHour = r.AnalysisTimestamp.In(loc).Hour()
		}
		if i == 0 || business < s.MinOccupancy {
			s.MinOccupancy = business
		}
	}

	for _, st := range devices {
		s.TotalEntries += st.entryMark
		s.TotalExits += st.exitMark
	}
	s.AvgOccupancy = round2(float64(total) / float64(len(sorted)))
	s.PeakHour = &peakHour
	s.PeakHourVisitors = hourEntries(sorted, loc, peakHour)
	s.TotalDetections = len(sorted)
	s.ActiveCamerasCount = len(devices)
	return s
}

// hourEntries entries during a local hour: per device, the entry watermark
// through that hour minus the watermark before it
func hourEntries(sorted []models.DetectionRecord, loc *time.Location, hour int) int {
	before := make(map[string]int)
	through := make(map[string]int)
	for _, r := range sorted {
		h := r.AnalysisTimestamp.In(loc).Hour()
		if h < hour && r.EntryCount > before[r.DeviceID] {
			before[r.DeviceID] = r.EntryCount
		}
		if h <= hour && r.EntryCount > through[r.DeviceID] {
			through[r.DeviceID] = r.EntryCount
		}
	}
	var n int
	for dev, mark := range through {
		if d := mark - before[dev]; d > 0 {
			n += d
		}
	}
	return n
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

package aggregator

import (
	"math/rand"
	"testing"
	"time"
	_ "time/tzdata"

	"cityv-crowd/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func det(id int64, device string, at time.Duration, entry, exit, occ int) models.DetectionRecord {
	ts := day.Add(at)
	return models.DetectionRecord{
		ID:                id,
		DeviceID:          device,
		BusinessID:        "biz-1",
		EntryCount:        entry,
		ExitCount:         exit,
		CurrentOccupancy:  occ,
		AnalysisTimestamp: ts,
		CreatedAt:         ts,
	}
}

func hm(h, m int) time.Duration {
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute
}

func TestComputeDailySummary_Empty(t *testing.T) {
	s := ComputeDailySummary("biz-1", "2024-05-01", time.UTC, nil)
	assert.Equal(t, "biz-1", s.BusinessID)
	assert.Equal(t, "2024-05-01", s.SummaryDate)
	assert.Nil(t, s.PeakHour)
	assert.Zero(t, s.TotalEntries)
	assert.Zero(t, s.TotalDetections)
}

// same counters reported twice a minute apart
func TestComputeDailySummary_RepeatedReport(t *testing.T) {
	recs := []models.DetectionRecord{
		det(1, "D1", hm(11, 0), 10, 3, 7),
		det(2, "D1", hm(11, 1), 10, 3, 7),
	}
	s := ComputeDailySummary("biz-1", "2024-05-01", time.UTC, recs)
	assert.Equal(t, 10, s.TotalEntries)
	assert.Equal(t, 3, s.TotalExits)
	assert.Equal(t, 7.0, s.AvgOccupancy)
	assert.Equal(t, 7, s.MaxOccupancy)
	assert.Equal(t, 7, s.MinOccupancy)
	require.NotNil(t, s.PeakHour)
	assert.Equal(t, 11, *s.PeakHour)
	assert.Equal(t, 10, s.PeakHourVisitors)
	assert.Equal(t, 2, s.TotalDetections)
	assert.Equal(t, 1, s.ActiveCamerasCount)
}

// counters go backwards after a device reset
func TestComputeDailySummary_CounterRegressionKeepsWatermark(t *testing.T) {
	recs := []models.DetectionRecord{
		det(1, "D1", hm(12, 0), 50, 10, 40),
		det(2, "D1", hm(12, 1), 48, 10, 40),
	}
	s := ComputeDailySummary("biz-1", "2024-05-01", time.UTC, recs)
	assert.Equal(t, 50, s.TotalEntries)
	assert.Equal(t, 10, s.TotalExits)
}

// two devices report at the same time
func TestComputeDailySummary_MultiDevicePeak(t *testing.T) {
	recs := []models.DetectionRecord{
		det(1, "D2", hm(14, 0), 25, 5, 20),
		det(2, "D3", hm(14, 0), 18, 3, 15),
		det(3, "D2", hm(15, 0), 25, 20, 5),
	}
	s := ComputeDailySummary("biz-1", "2024-05-01", time.UTC, recs)
	assert.Equal(t, 35, s.MaxOccupancy)
	require.NotNil(t, s.PeakHour)
	assert.Equal(t, 14, *s.PeakHour)
	assert.Equal(t, 43, s.TotalEntries)
	assert.Equal(t, 23, s.TotalExits)
	assert.Equal(t, 2, s.ActiveCamerasCount)
}

func TestComputeDailySummary_CarriesLastObservationForward(t *testing.T) {
	recs := []models.DetectionRecord{
		det(1, "D1", hm(10, 0), 5, 0, 5),
		det(2, "D2", hm(10, 30), 3, 0, 3),
		det(3, "D1", hm(11, 0), 5, 4, 1),
	}
	s := ComputeDailySummary("biz-1", "2024-05-01", time.UTC, recs)
	// series 5, 8, 4
	assert.Equal(t, 5.67, s.AvgOccupancy)
	assert.Equal(t, 8, s.MaxOccupancy)
	assert.Equal(t, 4, s.MinOccupancy)
	assert.Equal(t, 10, *s.PeakHour)
}

func TestComputeDailySummary_PeakHourTieIsEarliest(t *testing.T) {
	recs := []models.DetectionRecord{
		det(1, "D1", hm(9, 0), 5, 0, 5),
		det(2, "D1", hm(10, 0), 5, 2, 3),
		det(3, "D1", hm(11, 0), 7, 2, 5),
	}
	s := ComputeDailySummary("biz-1", "2024-05-01", time.UTC, recs)
	assert.Equal(t, 9, *s.PeakHour)
}

func TestComputeDailySummary_PeakHourVisitors(t *testing.T) {
	recs := []models.DetectionRecord{
		det(1, "D1", hm(8, 50), 2, 0, 2),
		det(2, "D1", hm(9, 10), 5, 0, 5),
		det(3, "D1", hm(9, 40), 9, 0, 9),
		det(4, "D1", hm(10, 5), 12, 8, 4),
		det(5, "D2", hm(9, 30), 4, 0, 4),
	}
	s := ComputeDailySummary("biz-1", "2024-05-01", time.UTC, recs)
	require.Equal(t, 9, *s.PeakHour)
	// D1: 9 - 2, D2: 4 - 0
	assert.Equal(t, 11, s.PeakHourVisitors)
}

func TestComputeDailySummary_OrderIndependent(t *testing.T) {
	recs := []models.DetectionRecord{
		det(1, "D1", hm(9, 0), 3, 0, 3),
		det(2, "D2", hm(9, 0), 4, 1, 3),
		det(3, "D1", hm(9, 20), 8, 2, 6),
		det(4, "D2", hm(10, 0), 9, 2, 7),
		det(5, "D1", hm(11, 0), 8, 8, 0),
		det(6, "D3", hm(11, 30), 1, 0, 1),
	}
	want := ComputeDailySummary("biz-1", "2024-05-01", time.UTC, recs)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := append([]models.DetectionRecord(nil), recs...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		assert.Equal(t, want, ComputeDailySummary("biz-1", "2024-05-01", time.UTC, shuffled))
	}
	assert.Equal(t, int64(1), recs[0].ID, "input is not reordered")
}

func TestComputeDailySummary_LocalHours(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Istanbul")
	require.NoError(t, err)
	recs := []models.DetectionRecord{det(1, "D1", hm(11, 0), 4, 0, 4)}
	s := ComputeDailySummary("biz-1", "2024-05-01", loc, recs)
	assert.Equal(t, 14, *s.PeakHour)
}

func TestDayBounds(t *testing.T) {
	from, to, err := DayBounds("2024-05-01", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, day, from)
	assert.Equal(t, 24*time.Hour, to.Sub(from))

	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	from, to, err = DayBounds("2024-03-10", ny)
	require.NoError(t, err)
	assert.Equal(t, 23*time.Hour, to.Sub(from))

	_, _, err = DayBounds("01/05/2024", time.UTC)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestLocalDate(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)
	assert.Equal(t, "2024-05-02", LocalDate(time.Date(2024, 5, 1, 22, 0, 0, 0, time.UTC), loc))
}

package aggregator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cityv-crowd/internal/models"
	"cityv-crowd/internal/occupancy"
	"cityv-crowd/internal/repository"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeSummaries recomputes from an in-memory detection list
type fakeSummaries struct {
	mu        sync.Mutex
	records   []models.DetectionRecord
	rows      map[string]models.DailySummary
	failTimes int
	failWith  error
	calls     int
}

func newFakeSummaries(records ...models.DetectionRecord) *fakeSummaries {
	return &fakeSummaries{records: records, rows: map[string]models.DailySummary{}}
}

func (f *fakeSummaries) Recompute(_ context.Context, businessID, date string, from, to time.Time, compute repository.ComputeFunc) (*models.DailySummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failWith != nil && (f.failTimes < 0 || f.calls <= f.failTimes) {
		return nil, f.failWith
	}
	var day []models.DetectionRecord
	for _, r := range f.records {
		if r.BusinessID == businessID && !r.AnalysisTimestamp.Before(from) && r.AnalysisTimestamp.Before(to) {
			day = append(day, r)
		}
	}
	s := compute(day)
	s.UpdatedAt = to
	f.rows[businessID+"/"+date] = s
	return &s, nil
}

func (f *fakeSummaries) List(_ context.Context, businessID, fromDate, toDate string) ([]models.DailySummary, error) {
	var out []models.DailySummary
	for _, s := range f.rows {
		if s.BusinessID == businessID && s.SummaryDate >= fromDate && s.SummaryDate <= toDate {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakeDirectory struct {
	devices map[string][]models.Device
}

func (f *fakeDirectory) ListBusinessDevices(_ context.Context, businessID string) ([]models.Device, error) {
	return f.devices[businessID], nil
}

func (f *fakeDirectory) ListBusinessIDs(context.Context) ([]string, error) {
	var ids []string
	for id := range f.devices {
		ids = append(ids, id)
	}
	return ids, nil
}

type fakeSchedules struct {
	ws  *models.WeeklySchedule
	err error
}

func (f fakeSchedules) GetWorkingHours(context.Context, string) (*models.WeeklySchedule, error) {
	return f.ws, f.err
}

// fakeStore serves the tracker and the averager
type fakeStore struct {
	latest map[string]*models.DetectionRecord
	broken map[string]bool
	slow   map[string]bool
}

func (f *fakeStore) GetLatest(ctx context.Context, deviceID string) (*models.DetectionRecord, error) {
	if f.slow[deviceID] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.broken[deviceID] {
		return nil, errors.New("read failed")
	}
	return f.latest[deviceID], nil
}

func (f *fakeStore) GetLatestCreatedAt(_ context.Context, deviceID string) (time.Time, bool, error) {
	if r, ok := f.latest[deviceID]; ok && r != nil {
		return r.CreatedAt, true, nil
	}
	return time.Time{}, false, nil
}

func (f *fakeStore) GetAtOrBefore(context.Context, string, time.Time) (*models.DetectionRecord, error) {
	return nil, nil
}

func (f *fakeStore) GetEarliestSince(_ context.Context, deviceID string, _ time.Time) (*models.DetectionRecord, error) {
	return f.latest[deviceID], nil
}

func (f *fakeStore) AvgOccupancy(_ context.Context, deviceID string, _, _ time.Time) (float64, int, error) {
	if r, ok := f.latest[deviceID]; ok {
		return float64(r.CurrentOccupancy) / 2, 2, nil
	}
	return 0, 0, nil
}

func intPtr(v int) *int { return &v }

func newTestAggregator(sum *fakeSummaries, dir *fakeDirectory, store *fakeStore, sched ScheduleStore, now time.Time) *Aggregator {
	clock := func() time.Time { return now }
	tracker := occupancy.NewTracker(store, nil, occupancy.Options{StaleTimeout: 30 * time.Second}, zap.NewNop()).WithClock(clock)
	return NewAggregator(sum, dir, dir, sched, store, tracker, Options{
		Location:       time.UTC,
		DeviceTimeout:  50 * time.Millisecond,
		MaxConcurrency: 2,
		RetryAttempts:  3,
		RetryBaseDelay: time.Millisecond,
	}, zap.NewNop()).WithClock(clock)
}

func TestRollupDaily_Idempotent(t *testing.T) {
	sum := newFakeSummaries(
		det(1, "D1", hm(11, 0), 10, 3, 7),
		det(2, "D1", hm(11, 1), 10, 3, 7),
		det(3, "D1", 25*time.Hour, 99, 0, 99),
	)
	agg := newTestAggregator(sum, &fakeDirectory{}, &fakeStore{}, nil, day)
	ctx := context.Background()

	first, err := agg.RollupDaily(ctx, "biz-1", "2024-05-01")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		again, err := agg.RollupDaily(ctx, "biz-1", "2024-05-01")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, 10, first.TotalEntries, "next day's record excluded")
	assert.Equal(t, 3, first.TotalExits)
}

func TestRollupDaily_RetriesConflicts(t *testing.T) {
	sum := newFakeSummaries(det(1, "D1", hm(11, 0), 10, 3, 7))
	sum.failWith = &pq.Error{Code: "40001"}
	sum.failTimes = 2
	agg := newTestAggregator(sum, &fakeDirectory{}, &fakeStore{}, nil, day)

	s, err := agg.RollupDaily(context.Background(), "biz-1", "2024-05-01")
	require.NoError(t, err)
	assert.Equal(t, 10, s.TotalEntries)
	assert.Equal(t, 3, sum.calls)
}

func TestRollupDaily_ConflictAfterRetries(t *testing.T) {
	sum := newFakeSummaries()
	sum.failWith = &pq.Error{Code: "40P01"}
	sum.failTimes = -1
	agg := newTestAggregator(sum, &fakeDirectory{}, &fakeStore{}, nil, day)

	_, err := agg.RollupDaily(context.Background(), "biz-1", "2024-05-01")
	assert.ErrorIs(t, err, models.ErrAggregationConflict)
	assert.Equal(t, 3, sum.calls)
}

func TestRollupDaily_NonRetryableFailsFast(t *testing.T) {
	sum := newFakeSummaries()
	sum.failWith = errors.New("disk full")
	sum.failTimes = -1
	agg := newTestAggregator(sum, &fakeDirectory{}, &fakeStore{}, nil, day)

	_, err := agg.RollupDaily(context.Background(), "biz-1", "2024-05-01")
	require.Error(t, err)
	assert.False(t, errors.Is(err, models.ErrAggregationConflict))
	assert.Equal(t, 1, sum.calls)
}

func TestRollupDaily_InvalidDate(t *testing.T) {
	agg := newTestAggregator(newFakeSummaries(), &fakeDirectory{}, &fakeStore{}, nil, day)
	_, err := agg.RollupDaily(context.Background(), "biz-1", "yesterday")
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestRollupAll_CountsFailures(t *testing.T) {
	sum := newFakeSummaries(det(1, "D1", hm(11, 0), 10, 3, 7))
	dir := &fakeDirectory{devices: map[string][]models.Device{
		"biz-1": {{DeviceID: "D1", BusinessID: "biz-1", IsActive: true}},
		"biz-2": {{DeviceID: "D9", BusinessID: "biz-2", IsActive: true}},
	}}
	agg := newTestAggregator(sum, dir, &fakeStore{}, nil, day)

	report, err := agg.RollupAll(context.Background(), "2024-05-01")
	require.NoError(t, err)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 0, report.Failed)

	sum.failWith = errors.New("boom")
	sum.failTimes = -1
	report, err = agg.RollupAll(context.Background(), "2024-05-01")
	require.NoError(t, err)
	assert.Equal(t, 0, report.Succeeded)
	assert.Equal(t, 2, report.Failed)
}

func TestRollupRecord_UsesLocalDay(t *testing.T) {
	sum := newFakeSummaries()
	agg := newTestAggregator(sum, &fakeDirectory{}, &fakeStore{}, nil, day)
	agg.opts.Location = time.FixedZone("UTC+3", 3*3600)

	rec := det(1, "D1", hm(22, 30), 1, 0, 1)
	s, err := agg.RollupRecord(context.Background(), &rec)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-02", s.SummaryDate)
}

func TestRollupRecord_MinInterval(t *testing.T) {
	sum := newFakeSummaries()
	agg := newTestAggregator(sum, &fakeDirectory{}, &fakeStore{}, nil, day)
	agg.opts.RecordRollupInterval = 10 * time.Second
	clock := day.Add(hm(12, 0))
	agg.WithClock(func() time.Time { return clock })
	ctx := context.Background()

	rec := det(1, "D1", hm(12, 0), 1, 0, 1)
	s, err := agg.RollupRecord(ctx, &rec)
	require.NoError(t, err)
	require.NotNil(t, s)

	clock = clock.Add(3 * time.Second)
	s, err = agg.RollupRecord(ctx, &rec)
	require.NoError(t, err)
	assert.Nil(t, s, "skipped inside the interval")
	assert.Equal(t, 1, sum.calls)

	// the full rollup is never throttled
	_, err = agg.RollupDaily(ctx, rec.BusinessID, "2024-05-01")
	require.NoError(t, err)
	assert.Equal(t, 2, sum.calls)

	clock = clock.Add(10 * time.Second)
	s, err = agg.RollupRecord(ctx, &rec)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, 3, sum.calls)
}

func TestGetBusinessSummary(t *testing.T) {
	now := day.Add(hm(14, 0))
	live := func(device string, occ int, density float64) *models.DetectionRecord {
		return &models.DetectionRecord{
			ID: 1, DeviceID: device, BusinessID: "biz-1", CurrentOccupancy: occ,
			CrowdDensity: density, CrowdLevel: occupancy.ClassifyDensity(density),
			AnalysisTimestamp: now.Add(-5 * time.Second), CreatedAt: now.Add(-5 * time.Second),
		}
	}
	stale := live("D6", 9, 0.9)
	stale.CreatedAt = now.Add(-45 * time.Second)

	store := &fakeStore{
		latest: map[string]*models.DetectionRecord{
			"D2": live("D2", 20, 0.3),
			"D3": live("D3", 15, 0.25),
			"D6": stale,
		},
		broken: map[string]bool{"D5": true},
		slow:   map[string]bool{"D7": true},
	}
	dir := &fakeDirectory{devices: map[string][]models.Device{"biz-1": {
		{DeviceID: "D2", BusinessID: "biz-1", IsActive: true, MaxCapacity: intPtr(50)},
		{DeviceID: "D3", BusinessID: "biz-1", IsActive: true, MaxCapacity: intPtr(50)},
		{DeviceID: "D4", BusinessID: "biz-1", IsActive: false, MaxCapacity: intPtr(500)},
		{DeviceID: "D5", BusinessID: "biz-1", IsActive: true},
		{DeviceID: "D6", BusinessID: "biz-1", IsActive: true},
		{DeviceID: "D7", BusinessID: "biz-1", IsActive: true},
	}}}
	ws, err := models.ParseWeeklySchedule([]byte(`{"wednesday":{"isOpen":true,"openTime":"09:00","closeTime":"22:00"}}`))
	require.NoError(t, err)

	agg := newTestAggregator(newFakeSummaries(), dir, store, fakeSchedules{ws: ws}, now)
	s, err := agg.GetBusinessSummary(context.Background(), "biz-1", time.Time{}, time.Time{})
	require.NoError(t, err)

	assert.Equal(t, 35, s.CurrentOccupancy)
	assert.True(t, s.IsLive)
	assert.Equal(t, models.CrowdLevelLow, s.CrowdLevel, "35 of 100 seats")
	require.NotNil(t, s.IsOpen)
	assert.True(t, *s.IsOpen)
	assert.Equal(t, day, s.From)
	require.NotNil(t, s.LastUpdate)
	assert.Equal(t, now.Add(-5*time.Second), *s.LastUpdate)
	// averages: 10 + 7.5 + 4.5 (stale device still has history)
	assert.Equal(t, 22.0, s.AvgOccupancy)

	status := map[string]models.DeviceStatus{}
	for _, b := range s.PerDeviceBreakdown {
		status[b.DeviceID] = b.Status
	}
	assert.Equal(t, map[string]models.DeviceStatus{
		"D2": models.DeviceStatusLive,
		"D3": models.DeviceStatusLive,
		"D4": models.DeviceStatusInactive,
		"D5": models.DeviceStatusUnknown,
		"D6": models.DeviceStatusStale,
		"D7": models.DeviceStatusUnknown,
	}, status)
}

func TestGetBusinessSummary_DensityLevelWithoutCapacity(t *testing.T) {
	now := day.Add(hm(14, 0))
	store := &fakeStore{latest: map[string]*models.DetectionRecord{
		"D1": {DeviceID: "D1", CurrentOccupancy: 3, CrowdDensity: 0.1, AnalysisTimestamp: now, CreatedAt: now},
		"D2": {DeviceID: "D2", CurrentOccupancy: 4, CrowdDensity: 0.7, AnalysisTimestamp: now, CreatedAt: now},
	}}
	dir := &fakeDirectory{devices: map[string][]models.Device{"biz-1": {
		{DeviceID: "D1", BusinessID: "biz-1", IsActive: true},
		{DeviceID: "D2", BusinessID: "biz-1", IsActive: true},
	}}}
	agg := newTestAggregator(newFakeSummaries(), dir, store, fakeSchedules{err: models.ErrInvalidSchedule}, now)

	s, err := agg.GetBusinessSummary(context.Background(), "biz-1", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 7, s.CurrentOccupancy)
	assert.Equal(t, models.CrowdLevelHigh, s.CrowdLevel)
	assert.Nil(t, s.IsOpen, "malformed hours report unknown")
}

func TestGetBusinessSummary_NoDevices(t *testing.T) {
	agg := newTestAggregator(newFakeSummaries(), &fakeDirectory{}, &fakeStore{}, nil, day)
	s, err := agg.GetBusinessSummary(context.Background(), "biz-1", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.False(t, s.IsLive)
	assert.Equal(t, models.CrowdLevelEmpty, s.CrowdLevel)
	assert.Empty(t, s.PerDeviceBreakdown)
	assert.Nil(t, s.IsOpen)
}

func TestGetBusinessSummary_InvalidRange(t *testing.T) {
	agg := newTestAggregator(newFakeSummaries(), &fakeDirectory{}, &fakeStore{}, nil, day)
	_, err := agg.GetBusinessSummary(context.Background(), "biz-1", day, day.Add(-time.Hour))
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestListDailySummaries(t *testing.T) {
	sum := newFakeSummaries(det(1, "D1", hm(11, 0), 10, 3, 7))
	agg := newTestAggregator(sum, &fakeDirectory{}, &fakeStore{}, nil, day)
	ctx := context.Background()

	_, err := agg.RollupDaily(ctx, "biz-1", "2024-05-01")
	require.NoError(t, err)

	list, err := agg.ListDailySummaries(ctx, "biz-1", "2024-04-30", "2024-05-01")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 10, list[0].TotalEntries)

	_, err = agg.ListDailySummaries(ctx, "biz-1", "2024-05-02", "2024-05-01")
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

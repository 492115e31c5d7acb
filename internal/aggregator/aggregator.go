// Package aggregator rolls detections into daily business summaries and
// builds the live business view.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cityv-crowd/common/database"
	"cityv-crowd/internal/metrics"
	"cityv-crowd/internal/models"
	"cityv-crowd/internal/occupancy"
	"cityv-crowd/internal/repository"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SummaryStore implemented by repository.SummaryRepository
type SummaryStore interface {
	Recompute(ctx context.Context, businessID, summaryDate string, from, to time.Time, compute repository.ComputeFunc) (*models.DailySummary, error)
	List(ctx context.Context, businessID, fromDate, toDate string) ([]models.DailySummary, error)
}

// DeviceDirectory implemented by registry.Resolver
type DeviceDirectory interface {
	ListBusinessDevices(ctx context.Context, businessID string) ([]models.Device, error)
}

// BusinessIndex implemented by repository.DeviceRepository
type BusinessIndex interface {
	ListBusinessIDs(ctx context.Context) ([]string, error)
}

// ScheduleStore implemented by repository.BusinessRepository
type ScheduleStore interface {
	GetWorkingHours(ctx context.Context, businessID string) (*models.WeeklySchedule, error)
}

// OccupancyAverager implemented by repository.DetectionRepository
type OccupancyAverager interface {
	AvgOccupancy(ctx context.Context, deviceID string, from, to time.Time) (float64, int, error)
}

// Options aggregator tuning
type Options struct {
	Location             *time.Location
	DeviceTimeout        time.Duration
	MaxConcurrency       int
	RetryAttempts        int
	RetryBaseDelay       time.Duration
	RetryMaxDelay        time.Duration
	TrendWindow          time.Duration
	// RecordRollupInterval minimum time between two incremental rollups of the
	// same business day; 0 recomputes on every record
	RecordRollupInterval time.Duration
}

// Aggregator daily rollups and business summaries
type Aggregator struct {
	summaries  SummaryStore
	devices    DeviceDirectory
	businesses BusinessIndex
	schedules  ScheduleStore
	averages   OccupancyAverager
	tracker    *occupancy.Tracker
	opts       Options
	now        func() time.Time
	logger     *zap.Logger

	mu         sync.Mutex
	lastRecord map[string]time.Time
}

// NewAggregator creates an Aggregator
func NewAggregator(
	summaries SummaryStore,
	devices DeviceDirectory,
	businesses BusinessIndex,
	schedules ScheduleStore,
	averages OccupancyAverager,
	tracker *occupancy.Tracker,
	opts Options,
	logger *zap.Logger,
) *Aggregator {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.DeviceTimeout <= 0 {
		opts.DeviceTimeout = 2 * time.Second
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 8
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 5
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 50 * time.Millisecond
	}
	if opts.RetryMaxDelay <= 0 {
		opts.RetryMaxDelay = 2 * time.Second
	}
	return &Aggregator{
		summaries:  summaries,
		devices:    devices,
		businesses: businesses,
		schedules:  schedules,
		averages:   averages,
		tracker:    tracker,
		opts:       opts,
		now:        time.Now,
		logger:     logger,
		lastRecord: map[string]time.Time{},
	}
}

// WithClock replaces the clock used for isOpen and default ranges
func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

// Location business timezone
func (a *Aggregator) Location() *time.Location {
	return a.opts.Location
}

// Today current local business day
func (a *Aggregator) Today() string {
	return LocalDate(a.now(), a.opts.Location)
}

// RollupDaily recomputes the (businessID, date) summary from all of the day's
// detections under the summary row lock. Idempotent; serialization failures
// and deadlocks are retried with exponential backoff and surface as
// models.ErrAggregationConflict once attempts run out.
func (a *Aggregator) RollupDaily(ctx context.Context, businessID, date string) (*models.DailySummary, error) {
	from, to, err := DayBounds(date, a.opts.Location)
	if err != nil {
		return nil, err
	}
	compute := func(records []models.DetectionRecord) models.DailySummary {
		return ComputeDailySummary(businessID, date, a.opts.Location, records)
	}

	start := time.Now()
	delay := a.opts.RetryBaseDelay
	var lastErr error
	for attempt := 1; attempt <= a.opts.RetryAttempts; attempt++ {
		s, err := a.summaries.Recompute(ctx, businessID, date, from, to, compute)
		if err == nil {
			metrics.RecordRollup(time.Since(start), nil)
			return s, nil
		}
		if !database.IsRetryable(err) {
			metrics.RecordRollup(time.Since(start), err)
			return nil, fmt.Errorf("failed to roll up %s for %q: %w", date, businessID, err)
		}

		lastErr = err
		if attempt == a.opts.RetryAttempts {
			break
		}
		metrics.RollupRetries.Inc()
		a.logger.Warn("Summary update conflicted, retrying",
			zap.String("business_id", businessID),
			zap.String("summary_date", date),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			metrics.RecordRollup(time.Since(start), ctx.Err())
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > a.opts.RetryMaxDelay {
			delay = a.opts.RetryMaxDelay
		}
	}

	err = fmt.Errorf("%w: %s for %q after %d attempts: %v",
		models.ErrAggregationConflict, date, businessID, a.opts.RetryAttempts, lastErr)
	metrics.RecordRollup(time.Since(start), err)
	return nil, err
}

// RollupRecord recomputes the summary of the business day rec belongs to.
// Within RecordRollupInterval of the previous recompute of that day it
// returns nil, nil; a later record or the nightly rollup catches up.
func (a *Aggregator) RollupRecord(ctx context.Context, rec *models.DetectionRecord) (*models.DailySummary, error) {
	date := LocalDate(rec.AnalysisTimestamp, a.opts.Location)
	if !a.recordRollupDue(rec.BusinessID + "/" + date) {
		return nil, nil
	}
	return a.RollupDaily(ctx, rec.BusinessID, date)
}

func (a *Aggregator) recordRollupDue(key string) bool {
	if a.opts.RecordRollupInterval <= 0 {
		return true
	}
	now := a.now()
	a.mu.Lock()
	defer a.mu.Unlock()
	if last, ok := a.lastRecord[key]; ok && now.Sub(last) < a.opts.RecordRollupInterval {
		return false
	}
	a.lastRecord[key] = now
	// days other than the current one stop receiving records, drop them
	for k, t := range a.lastRecord {
		if now.Sub(t) > 24*time.Hour {
			delete(a.lastRecord, k)
		}
	}
	return true
}

// RollupReport outcome of RollupAll
type RollupReport struct {
	Date      string
	Succeeded int
	Failed    int
}

// RollupAll rolls up date for every business with registered devices.
// Per-business failures are logged and counted.
func (a *Aggregator) RollupAll(ctx context.Context, date string) (RollupReport, error) {
	report := RollupReport{Date: date}
	if _, _, err := DayBounds(date, a.opts.Location); err != nil {
		return report, err
	}

	ids, err := a.businesses.ListBusinessIDs(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list businesses: %w", err)
	}

	a.logger.Info("Starting daily rollup",
		zap.String("summary_date", date),
		zap.Int("business_count", len(ids)),
	)

	for _, id := range ids {
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		default:
		}
		if _, err := a.RollupDaily(ctx, id, date); err != nil {
			a.logger.Error("Failed to roll up business",
				zap.String("business_id", id),
				zap.String("summary_date", date),
				zap.Error(err),
			)
			report.Failed++
			continue
		}
		report.Succeeded++
	}

	a.logger.Info("Completed daily rollup",
		zap.String("summary_date", date),
		zap.Int("success_count", report.Succeeded),
		zap.Int("error_count", report.Failed),
	)
	return report, nil
}

// ListDailySummaries stored summaries with fromDate <= date <= toDate
func (a *Aggregator) ListDailySummaries(ctx context.Context, businessID, fromDate, toDate string) ([]models.DailySummary, error) {
	from, _, err := DayBounds(fromDate, a.opts.Location)
	if err != nil {
		return nil, err
	}
	to, _, err := DayBounds(toDate, a.opts.Location)
	if err != nil {
		return nil, err
	}
	if to.Before(from) {
		return nil, fmt.Errorf("%w: from %s is after to %s", models.ErrInvalidInput, fromDate, toDate)
	}
	return a.summaries.List(ctx, businessID, fromDate, toDate)
}

// GetBusinessSummary live view of a business. Zero from/to default to the
// current local day. Devices are queried concurrently, each under its own
// timeout; a device that fails reports status unknown and contributes 0.
func (a *Aggregator) GetBusinessSummary(ctx context.Context, businessID string, from, to time.Time) (*models.BusinessSummary, error) {
	now := a.now()
	if from.IsZero() {
		from, _, _ = DayBounds(LocalDate(now, a.opts.Location), a.opts.Location)
	}
	if to.IsZero() {
		to = now
	}
	if to.Before(from) {
		return nil, fmt.Errorf("%w: from is after to", models.ErrInvalidInput)
	}

	devices, err := a.devices.ListBusinessDevices(ctx, businessID)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices of %q: %w", businessID, err)
	}

	breakdown := make([]models.DeviceBreakdown, len(devices))
	var g errgroup.Group
	g.SetLimit(a.opts.MaxConcurrency)
	for i := range devices {
		i := i
		g.Go(func() error {
			breakdown[i] = a.deviceBreakdown(ctx, &devices[i], from, to)
			return nil
		})
	}
	_ = g.Wait()

	summary := &models.BusinessSummary{
		BusinessID:         businessID,
		CrowdLevel:         models.CrowdLevelEmpty,
		From:               from,
		To:                 to,
		PerDeviceBreakdown: breakdown,
	}

	var (
		capacity   int
		maxDensity float64
		avgSum     float64
	)
	for i, b := range breakdown {
		if devices[i].IsActive {
			capacity += devices[i].Capacity()
		}
		avgSum += b.AvgOccupancy
		if b.LastUpdate != nil && (summary.LastUpdate == nil || b.LastUpdate.After(*summary.LastUpdate)) {
			t := *b.LastUpdate
			summary.LastUpdate = &t
		}
		if b.Status != models.DeviceStatusLive {
			continue
		}
		summary.IsLive = true
		summary.CurrentOccupancy += b.CurrentOccupancy
		if b.CrowdDensity > maxDensity {
			maxDensity = b.CrowdDensity
		}
	}
	summary.AvgOccupancy = round2(avgSum)

	if summary.IsLive {
		if capacity > 0 {
			summary.CrowdLevel = occupancy.ClassifyRatio(summary.CurrentOccupancy, capacity)
		} else {
			summary.CrowdLevel = occupancy.ClassifyDensity(maxDensity)
		}
	}

	summary.IsOpen = a.isOpen(ctx, businessID, now)
	return summary, nil
}

func (a *Aggregator) deviceBreakdown(ctx context.Context, d *models.Device, from, to time.Time) models.DeviceBreakdown {
	b := models.DeviceBreakdown{
		DeviceID:    d.DeviceID,
		DisplayName: d.DisplayName,
		MaxCapacity: d.MaxCapacity,
		CrowdLevel:  models.CrowdLevelEmpty,
		Trend:       models.TrendStable,
	}
	if !d.IsActive {
		b.Status = models.DeviceStatusInactive
		return b
	}

	dctx, cancel := context.WithTimeout(ctx, a.opts.DeviceTimeout)
	defer cancel()

	snap, err := a.tracker.Snapshot(dctx, d.DeviceID, a.opts.TrendWindow)
	if err == nil {
		var avg float64
		avg, _, err = a.averages.AvgOccupancy(dctx, d.DeviceID, from, to)
		b.AvgOccupancy = round2(avg)
	}
	if err != nil {
		reason := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "timeout"
		}
		metrics.DeviceFanoutFailures.WithLabelValues(reason).Inc()
		a.logger.Warn("Device lookup failed, reporting unknown",
			zap.String("device_id", d.DeviceID),
			zap.String("business_id", d.BusinessID),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return models.DeviceBreakdown{
			DeviceID:    d.DeviceID,
			DisplayName: d.DisplayName,
			MaxCapacity: d.MaxCapacity,
			Status:      models.DeviceStatusUnknown,
			CrowdLevel:  models.CrowdLevelEmpty,
			Trend:       models.TrendStable,
		}
	}

	b.LastUpdate = snap.LastSeen
	b.Trend = snap.Trend
	if snap.Stale {
		b.Status = models.DeviceStatusStale
		return b
	}
	b.Status = models.DeviceStatusLive
	b.CurrentOccupancy = snap.CurrentOccupancy
	b.CrowdDensity = snap.CrowdDensity
	b.CrowdLevel = snap.CrowdLevel
	return b
}

// isOpen nil when hours are unknown or malformed
func (a *Aggregator) isOpen(ctx context.Context, businessID string, now time.Time) *bool {
	if a.schedules == nil {
		return nil
	}
	ws, err := a.schedules.GetWorkingHours(ctx, businessID)
	if err != nil {
		if !errors.Is(err, models.ErrInvalidSchedule) {
			a.logger.Warn("Failed to load working hours",
				zap.String("business_id", businessID),
				zap.Error(err),
			)
		}
		return nil
	}
	if ws == nil {
		return nil
	}
	open := ws.IsOpenAt(now.In(a.opts.Location))
	return &open
}

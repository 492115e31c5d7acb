// Package ingest validates device detections and appends them to the time series.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cityv-crowd/internal/aggregator"
	"cityv-crowd/internal/metrics"
	"cityv-crowd/internal/models"
	"cityv-crowd/internal/occupancy"
	"cityv-crowd/internal/validation"

	"go.uber.org/zap"
)

// DeviceResolver implemented by registry.Resolver
type DeviceResolver interface {
	ResolveActiveDevice(ctx context.Context, raw any) (*models.Device, error)
}

// DetectionWriter implemented by repository.DetectionRepository
type DetectionWriter interface {
	Insert(ctx context.Context, rec *models.DetectionRecord) (*models.DetectionRecord, bool, error)
	GetPrevious(ctx context.Context, deviceID string, before, notBefore time.Time) (*models.DetectionRecord, error)
}

// LatestRecorder implemented by occupancy.Tracker
type LatestRecorder interface {
	Remember(ctx context.Context, rec *models.DetectionRecord)
}

// DailyRollup implemented by aggregator.Aggregator
type DailyRollup interface {
	RollupRecord(ctx context.Context, rec *models.DetectionRecord) (*models.DailySummary, error)
}

// Options ingest tuning
type Options struct {
	Location      *time.Location
	MaxFutureSkew time.Duration
	// IncrementalRollup recompute the day's summary after every accepted record
	IncrementalRollup bool
}

// Result outcome of one ingest
type Result struct {
	Record    *models.DetectionRecord
	Duplicate bool
	Summary   *models.DailySummary
}

// Service detection ingest
type Service struct {
	resolver DeviceResolver
	writer   DetectionWriter
	latest   LatestRecorder
	rollup   DailyRollup
	opts     Options
	now      func() time.Time
	logger   *zap.Logger
}

// NewService creates an ingest Service; latest and rollup may be nil
func NewService(resolver DeviceResolver, writer DetectionWriter, latest LatestRecorder, rollup DailyRollup, opts Options, logger *zap.Logger) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.MaxFutureSkew <= 0 {
		opts.MaxFutureSkew = 5 * time.Minute
	}
	return &Service{
		resolver: resolver,
		writer:   writer,
		latest:   latest,
		rollup:   rollup,
		opts:     opts,
		now:      time.Now,
		logger:   logger,
	}
}

// WithClock replaces the clock used for the future-skew check
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Ingest validates in, derives occupancy and crowd level, and appends the
// record. Resending an already stored (device, timestamp) returns the stored
// record with Duplicate set.
func (s *Service) Ingest(ctx context.Context, in models.DetectionInput) (*Result, error) {
	start := time.Now()
	res, err := s.ingest(ctx, in)
	switch {
	case err == nil && res.Duplicate:
		metrics.RecordIngest(metrics.ResultDuplicate, time.Since(start))
	case err == nil:
		metrics.RecordIngest(metrics.ResultAccepted, time.Since(start))
	case IsPermanent(err):
		metrics.RecordIngest(metrics.ResultRejected, time.Since(start))
	default:
		metrics.RecordIngest(metrics.ResultError, time.Since(start))
	}
	return res, err
}

// IsPermanent reports whether retrying the same payload can never succeed
func IsPermanent(err error) bool {
	return errors.Is(err, models.ErrInvalidInput) ||
		errors.Is(err, models.ErrDeviceNotFound) ||
		errors.Is(err, models.ErrDeviceInactive)
}

func (s *Service) ingest(ctx context.Context, in models.DetectionInput) (*Result, error) {
	if err := validation.ValidateStruct(&in); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}
	if in.Timestamp.IsZero() {
		return nil, fmt.Errorf("%w: timestamp is required", models.ErrInvalidInput)
	}
	ts := in.Timestamp.UTC()
	if ts.After(s.now().Add(s.opts.MaxFutureSkew)) {
		return nil, fmt.Errorf("%w: timestamp %s is in the future", models.ErrInvalidInput, ts.Format(time.RFC3339))
	}

	device, err := s.resolver.ResolveActiveDevice(ctx, in.DeviceID)
	if err != nil {
		if device != nil {
			s.logger.Info("Rejected detection from inactive device",
				zap.String("device_id", device.DeviceID),
				zap.String("business_id", device.BusinessID),
			)
		}
		return nil, err
	}

	density, anomaly := occupancy.SanitizeDensity(in.CrowdDensity)

	rec := &models.DetectionRecord{
		DeviceID:          device.DeviceID,
		BusinessID:        device.BusinessID,
		PeopleCount:       in.PeopleCount,
		CrowdDensity:      density,
		CrowdLevel:        occupancy.ClassifyDensity(density),
		EntryCount:        in.EntryCount,
		ExitCount:         in.ExitCount,
		DensityAnomaly:    anomaly,
		AnalysisTimestamp: ts,
	}
	prev, err := s.deriveOccupancy(ctx, device, rec, in.CurrentOccupancy)
	if err != nil {
		return nil, err
	}

	stored, duplicate, err := s.writer.Insert(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("failed to store detection: %w", err)
	}
	if duplicate {
		s.logger.Debug("Duplicate detection ignored",
			zap.String("device_id", stored.DeviceID),
			zap.Time("analysis_timestamp", stored.AnalysisTimestamp),
		)
		return &Result{Record: stored, Duplicate: true}, nil
	}

	// anomalies are reported once per stored record, not per redelivery
	s.reportAnomalies(stored, prev, in.CrowdDensity.Value)

	if s.latest != nil {
		s.latest.Remember(ctx, stored)
	}

	result := &Result{Record: stored}
	if s.opts.IncrementalRollup && s.rollup != nil {
		// the next accepted record or the nightly rollup recomputes the whole day
		summary, err := s.rollup.RollupRecord(ctx, stored)
		if err != nil {
			s.logger.Warn("Incremental summary update failed",
				zap.String("business_id", stored.BusinessID),
				zap.String("device_id", stored.DeviceID),
				zap.Error(err),
			)
		} else {
			result.Summary = summary
		}
	}
	return result, nil
}

// deriveOccupancy sets CurrentOccupancy and CounterRegression on rec by
// comparing with the device's previous record of the same business day,
// which is returned
func (s *Service) deriveOccupancy(ctx context.Context, device *models.Device, rec *models.DetectionRecord, reported *int) (*models.DetectionRecord, error) {
	day := aggregator.LocalDate(rec.AnalysisTimestamp, s.opts.Location)
	dayStart, _, err := aggregator.DayBounds(day, s.opts.Location)
	if err != nil {
		return nil, err
	}
	prev, err := s.writer.GetPrevious(ctx, rec.DeviceID, rec.AnalysisTimestamp, dayStart)
	if err != nil {
		return nil, fmt.Errorf("failed to load previous detection: %w", err)
	}

	occ := occupancy.DeriveOccupancy(rec.EntryCount, rec.ExitCount)
	if prev != nil && (rec.EntryCount < prev.EntryCount || rec.ExitCount < prev.ExitCount) {
		rec.CounterRegression = true
		if reported != nil {
			occ = *reported
		} else {
			occ = prev.CurrentOccupancy
		}
	}
	rec.CurrentOccupancy = occupancy.ClampOccupancy(occ, device.Capacity())
	return prev, nil
}

func (s *Service) reportAnomalies(stored, prev *models.DetectionRecord, reportedDensity float64) {
	if stored.DensityAnomaly {
		metrics.DensityAnomalies.Inc()
		s.logger.Warn("Density out of range, stored 0",
			zap.String("device_id", stored.DeviceID),
			zap.Float64("reported", reportedDensity),
		)
	}
	if stored.CounterRegression && prev != nil {
		metrics.CounterRegressions.Inc()
		s.logger.Warn("Counter regression detected",
			zap.String("device_id", stored.DeviceID),
			zap.NamedError("kind", models.ErrCounterRegression),
			zap.Int("prev_entry", prev.EntryCount),
			zap.Int("prev_exit", prev.ExitCount),
			zap.Int("entry", stored.EntryCount),
			zap.Int("exit", stored.ExitCount),
			zap.Int("occupancy", stored.CurrentOccupancy),
		)
	}
}

package occupancy

import (
	"context"
	"fmt"
	"time"

	"cityv-crowd/internal/metrics"
	"cityv-crowd/internal/models"
	"cityv-crowd/internal/staleness"

	"go.uber.org/zap"
)

// DetectionStore time-series reads, implemented by repository.DetectionRepository.
// Liveness uses the same newest created_at as staleness.Monitor.
type DetectionStore interface {
	staleness.LastSeenStore
	GetLatest(ctx context.Context, deviceID string) (*models.DetectionRecord, error)
	GetAtOrBefore(ctx context.Context, deviceID string, t time.Time) (*models.DetectionRecord, error)
	GetEarliestSince(ctx context.Context, deviceID string, t time.Time) (*models.DetectionRecord, error)
}

// Options tracker tuning
type Options struct {
	StaleTimeout   time.Duration
	TrendWindow    time.Duration
	TrendTolerance int
}

// Tracker per-device occupancy view over the detection store
type Tracker struct {
	store  DetectionStore
	cache  *LatestCache
	opts   Options
	now    func() time.Time
	logger *zap.Logger
}

// NewTracker creates a Tracker; cache may be nil
func NewTracker(store DetectionStore, cache *LatestCache, opts Options, logger *zap.Logger) *Tracker {
	if opts.StaleTimeout <= 0 {
		opts.StaleTimeout = staleness.DefaultTimeout
	}
	if opts.TrendWindow <= 0 {
		opts.TrendWindow = 15 * time.Minute
	}
	if opts.TrendTolerance < 0 {
		opts.TrendTolerance = 0
	}
	return &Tracker{
		store:  store,
		cache:  cache,
		opts:   opts,
		now:    time.Now,
		logger: logger,
	}
}

// WithClock replaces the clock used for staleness
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// Latest newest record of a device by analysis_timestamp, nil when none.
// Cache failures fall back to the store.
func (t *Tracker) Latest(ctx context.Context, deviceID string) (*models.DetectionRecord, error) {
	if t.cache != nil {
		rec, err := t.cache.Get(ctx, deviceID)
		if err != nil {
			t.logger.Warn("Latest cache read failed",
				zap.String("device_id", deviceID),
				zap.Error(err),
			)
		} else if rec != nil {
			metrics.RecordCache(true)
			return rec, nil
		}
		metrics.RecordCache(false)
	}

	rec, err := t.store.GetLatest(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest detection of %q: %w", deviceID, err)
	}
	if rec != nil {
		t.Remember(ctx, rec)
	}
	return rec, nil
}

// Remember offers rec to the cache; older records are ignored
func (t *Tracker) Remember(ctx context.Context, rec *models.DetectionRecord) {
	if t.cache == nil || rec == nil {
		return
	}
	if _, err := t.cache.SetIfNewer(ctx, rec); err != nil {
		t.logger.Warn("Latest cache write failed",
			zap.String("device_id", rec.DeviceID),
			zap.Error(err),
		)
	}
}

// IsLive reports whether lastSeen is within the stale timeout
func (t *Tracker) IsLive(lastSeen time.Time) bool {
	return !staleness.IsStaleAt(lastSeen, t.now(), t.opts.StaleTimeout)
}

// lastSeen newest created_at of the device, which a late out-of-order record
// can move forward without becoming the latest record
func (t *Tracker) lastSeen(ctx context.Context, rec *models.DetectionRecord) (time.Time, error) {
	seen, ok, err := t.store.GetLatestCreatedAt(ctx, rec.DeviceID)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to load last seen of %q: %w", rec.DeviceID, err)
	}
	if !ok || seen.Before(rec.CreatedAt) {
		seen = rec.CreatedAt
	}
	return seen, nil
}

// CurrentOccupancy occupancy of the latest record; 0 when none or stale
func (t *Tracker) CurrentOccupancy(ctx context.Context, deviceID string) (int, error) {
	rec, err := t.Latest(ctx, deviceID)
	if err != nil || rec == nil {
		return 0, err
	}
	seen, err := t.lastSeen(ctx, rec)
	if err != nil {
		return 0, err
	}
	if !t.IsLive(seen) {
		return 0, nil
	}
	return rec.CurrentOccupancy, nil
}

// TrendDirection compares the latest occupancy with the occupancy at the
// start of the window ending at the latest record. The start is the newest
// record at or before the window start, else the earliest inside the window.
// window <= 0 uses the configured window.
func (t *Tracker) TrendDirection(ctx context.Context, deviceID string, window time.Duration) (models.Trend, error) {
	end, err := t.Latest(ctx, deviceID)
	if err != nil {
		return models.TrendStable, err
	}
	return t.trendFrom(ctx, end, window)
}

func (t *Tracker) trendFrom(ctx context.Context, end *models.DetectionRecord, window time.Duration) (models.Trend, error) {
	if end == nil {
		return models.TrendStable, nil
	}
	if window <= 0 {
		window = t.opts.TrendWindow
	}
	cutoff := end.AnalysisTimestamp.Add(-window)

	start, err := t.store.GetAtOrBefore(ctx, end.DeviceID, cutoff)
	if err != nil {
		return models.TrendStable, fmt.Errorf("failed to load trend start of %q: %w", end.DeviceID, err)
	}
	if start == nil {
		start, err = t.store.GetEarliestSince(ctx, end.DeviceID, cutoff)
		if err != nil {
			return models.TrendStable, fmt.Errorf("failed to load trend start of %q: %w", end.DeviceID, err)
		}
	}
	if start == nil || !start.AnalysisTimestamp.Before(end.AnalysisTimestamp) {
		return models.TrendStable, nil
	}
	return TrendOf(end.CurrentOccupancy-start.CurrentOccupancy, t.opts.TrendTolerance), nil
}

// Snapshot combined occupancy view of one device
func (t *Tracker) Snapshot(ctx context.Context, deviceID string, window time.Duration) (*models.DeviceOccupancy, error) {
	rec, err := t.Latest(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	out := &models.DeviceOccupancy{
		DeviceID:   deviceID,
		CrowdLevel: models.CrowdLevelEmpty,
		Trend:      models.TrendStable,
		Stale:      true,
		Status:     models.DeviceStatusStale,
	}
	if rec == nil {
		return out, nil
	}

	seen, err := t.lastSeen(ctx, rec)
	if err != nil {
		return nil, err
	}
	out.LastSeen = &seen
	out.Stale = !t.IsLive(seen)
	if !out.Stale {
		out.Status = models.DeviceStatusLive
		out.CurrentOccupancy = rec.CurrentOccupancy
		out.CrowdDensity = rec.CrowdDensity
		out.CrowdLevel = rec.CrowdLevel
	}

	trend, err := t.trendFrom(ctx, rec, window)
	if err != nil {
		return nil, err
	}
	out.Trend = trend
	return out, nil
}

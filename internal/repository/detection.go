package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cityv-crowd/internal/models"

	"go.uber.org/zap"
)

const detectionColumns = `id, device_id, business_id, people_count, crowd_density, crowd_level,
	entry_count, exit_count, current_occupancy, counter_regression, density_anomaly,
	analysis_timestamp, created_at`

// DetectionRepository append-only iot_crowd_analysis time series
type DetectionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDetectionRepository creates a DetectionRepository
func NewDetectionRepository(db *sql.DB, logger *zap.Logger) *DetectionRepository {
	return &DetectionRepository{
		db:     db,
		logger: logger,
	}
}

// Insert appends rec. When (device_id, analysis_timestamp) already exists the
// stored row is returned with duplicate=true and nothing is written.
func (r *DetectionRepository) Insert(ctx context.Context, rec *models.DetectionRecord) (*models.DetectionRecord, bool, error) {
	query := `
		INSERT INTO iot_crowd_analysis (
			device_id, business_id, people_count, crowd_density, crowd_level,
			entry_count, exit_count, current_occupancy, counter_regression,
			density_anomaly, analysis_timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (device_id, analysis_timestamp) DO NOTHING
		RETURNING id, created_at
	`
	stored := *rec
	err := r.db.QueryRowContext(ctx, query,
		rec.DeviceID,
		rec.BusinessID,
		rec.PeopleCount,
		rec.CrowdDensity,
		string(rec.CrowdLevel),
		rec.EntryCount,
		rec.ExitCount,
		rec.CurrentOccupancy,
		rec.CounterRegression,
		rec.DensityAnomaly,
		rec.AnalysisTimestamp,
	).Scan(&stored.ID, &stored.CreatedAt)
	if err == nil {
		return &stored, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to insert detection: %w", err)
	}

	existing, err := r.GetByKey(ctx, rec.DeviceID, rec.AnalysisTimestamp)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		// conflicting row vanished between statements; rows are never deleted by this service
		return nil, false, fmt.Errorf("failed to load duplicate detection for %q at %s", rec.DeviceID, rec.AnalysisTimestamp)
	}
	return existing, true, nil
}

// GetByKey returns the record at (deviceID, ts) or nil
func (r *DetectionRepository) GetByKey(ctx context.Context, deviceID string, ts time.Time) (*models.DetectionRecord, error) {
	query := `SELECT ` + detectionColumns + ` FROM iot_crowd_analysis
		WHERE device_id = $1 AND analysis_timestamp = $2`
	return r.getOne(ctx, query, deviceID, ts)
}

// GetLatest latest record of a device by analysis_timestamp, nil when none
func (r *DetectionRepository) GetLatest(ctx context.Context, deviceID string) (*models.DetectionRecord, error) {
	query := `SELECT ` + detectionColumns + ` FROM iot_crowd_analysis
		WHERE device_id = $1
		ORDER BY analysis_timestamp DESC
		LIMIT 1`
	return r.getOne(ctx, query, deviceID)
}

// GetPrevious latest record with notBefore <= analysis_timestamp < before, nil when none
func (r *DetectionRepository) GetPrevious(ctx context.Context, deviceID string, before, notBefore time.Time) (*models.DetectionRecord, error) {
	query := `SELECT ` + detectionColumns + ` FROM iot_crowd_analysis
		WHERE device_id = $1 AND analysis_timestamp < $2 AND analysis_timestamp >= $3
		ORDER BY analysis_timestamp DESC
		LIMIT 1`
	return r.getOne(ctx, query, deviceID, before, notBefore)
}

// GetAtOrBefore latest record with analysis_timestamp <= t, nil when none
func (r *DetectionRepository) GetAtOrBefore(ctx context.Context, deviceID string, t time.Time) (*models.DetectionRecord, error) {
	query := `SELECT ` + detectionColumns + ` FROM iot_crowd_analysis
		WHERE device_id = $1 AND analysis_timestamp <= $2
		ORDER BY analysis_timestamp DESC
		LIMIT 1`
	return r.getOne(ctx, query, deviceID, t)
}

// GetEarliestSince earliest record with analysis_timestamp >= t, nil when none
func (r *DetectionRepository) GetEarliestSince(ctx context.Context, deviceID string, t time.Time) (*models.DetectionRecord, error) {
	query := `SELECT ` + detectionColumns + ` FROM iot_crowd_analysis
		WHERE device_id = $1 AND analysis_timestamp >= $2
		ORDER BY analysis_timestamp ASC
		LIMIT 1`
	return r.getOne(ctx, query, deviceID, t)
}

// GetLatestCreatedAt newest created_at of a device; ok=false when it never reported
func (r *DetectionRepository) GetLatestCreatedAt(ctx context.Context, deviceID string) (time.Time, bool, error) {
	var ts sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT MAX(created_at) FROM iot_crowd_analysis WHERE device_id = $1`, deviceID).Scan(&ts)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to get last seen of %q: %w", deviceID, err)
	}
	return ts.Time, ts.Valid, nil
}

// ListByDeviceRange records of a device in [from, to) ordered by analysis_timestamp; limit <= 0 means no limit
func (r *DetectionRepository) ListByDeviceRange(ctx context.Context, deviceID string, from, to time.Time, limit int) ([]models.DetectionRecord, error) {
	query := `SELECT ` + detectionColumns + ` FROM iot_crowd_analysis
		WHERE device_id = $1 AND analysis_timestamp >= $2 AND analysis_timestamp < $3
		ORDER BY analysis_timestamp ASC`
	args := []any{deviceID, from, to}
	if limit > 0 {
		query += ` LIMIT $4`
		args = append(args, limit)
	}
	return listDetections(ctx, r.db, query, args...)
}

// ListByBusinessRange records of a business in [from, to)
func (r *DetectionRepository) ListByBusinessRange(ctx context.Context, businessID string, from, to time.Time) ([]models.DetectionRecord, error) {
	return listBusinessRange(ctx, r.db, businessID, from, to)
}

// AvgOccupancy mean stored occupancy of a device in [from, to); n=0 when no records
func (r *DetectionRepository) AvgOccupancy(ctx context.Context, deviceID string, from, to time.Time) (float64, int, error) {
	var (
		avg sql.NullFloat64
		n   int
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT AVG(current_occupancy)::float8, COUNT(*)
		FROM iot_crowd_analysis
		WHERE device_id = $1 AND analysis_timestamp >= $2 AND analysis_timestamp < $3`,
		deviceID, from, to).Scan(&avg, &n)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to average occupancy of %q: %w", deviceID, err)
	}
	return avg.Float64, n, nil
}

func (r *DetectionRepository) getOne(ctx context.Context, query string, args ...any) (*models.DetectionRecord, error) {
	rec, err := scanDetection(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get detection: %w", err)
	}
	return rec, nil
}

func listBusinessRange(ctx context.Context, q querier, businessID string, from, to time.Time) ([]models.DetectionRecord, error) {
	query := `SELECT ` + detectionColumns + ` FROM iot_crowd_analysis
		WHERE business_id = $1 AND analysis_timestamp >= $2 AND analysis_timestamp < $3
		ORDER BY analysis_timestamp ASC, device_id ASC, id ASC`
	return listDetections(ctx, q, query, businessID, from, to)
}

func listDetections(ctx context.Context, q querier, query string, args ...any) ([]models.DetectionRecord, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list detections: %w", err)
	}
	defer rows.Close()

	var out []models.DetectionRecord
	for rows.Next() {
		rec, err := scanDetection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate detections: %w", err)
	}
	return out, nil
}

func scanDetection(s rowScanner) (*models.DetectionRecord, error) {
	var (
		rec   models.DetectionRecord
		level string
	)
	err := s.Scan(&rec.ID, &rec.DeviceID, &rec.BusinessID, &rec.PeopleCount, &rec.CrowdDensity, &level,
		&rec.EntryCount, &rec.ExitCount, &rec.CurrentOccupancy, &rec.CounterRegression, &rec.DensityAnomaly,
		&rec.AnalysisTimestamp, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	rec.CrowdLevel = models.CrowdLevel(level)
	return &rec, nil
}

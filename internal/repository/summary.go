package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cityv-crowd/common/database"
	"cityv-crowd/internal/models"

	"go.uber.org/zap"
)

const summaryColumns = `business_id, summary_date::text, total_entries, total_exits,
	avg_occupancy::float8, max_occupancy, min_occupancy, peak_hour, peak_hour_visitors,
	total_detections, active_cameras_count, updated_at`

// ComputeFunc builds a summary from the day's detections, ordered by
// (analysis_timestamp, device_id, id)
type ComputeFunc func(records []models.DetectionRecord) models.DailySummary

// SummaryRepository iot_daily_summaries
type SummaryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSummaryRepository creates a SummaryRepository
func NewSummaryRepository(db *sql.DB, logger *zap.Logger) *SummaryRepository {
	return &SummaryRepository{
		db:     db,
		logger: logger,
	}
}

// Recompute rebuilds the (businessID, summaryDate) row from the detections in
// [from, to) while holding the row lock. The row is created zeroed when
// missing; updated_at only moves when a value changed. Serialization and
// deadlock failures keep the *pq.Error in the chain for database.IsRetryable.
func (r *SummaryRepository) Recompute(ctx context.Context, businessID, summaryDate string, from, to time.Time, compute ComputeFunc) (*models.DailySummary, error) {
	var out *models.DailySummary
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO iot_daily_summaries (business_id, summary_date)
			VALUES ($1, $2::date)
			ON CONFLICT (business_id, summary_date) DO NOTHING`,
			businessID, summaryDate); err != nil {
			return fmt.Errorf("failed to create summary row: %w", err)
		}

		var locked string
		if err := tx.QueryRowContext(ctx, `
			SELECT business_id FROM iot_daily_summaries
			WHERE business_id = $1 AND summary_date = $2::date
			FOR UPDATE`,
			businessID, summaryDate).Scan(&locked); err != nil {
			return fmt.Errorf("failed to lock summary row: %w", err)
		}

		records, err := listBusinessRange(ctx, tx, businessID, from, to)
		if err != nil {
			return err
		}
		s := compute(records)

		if _, err := tx.ExecContext(ctx, `
			UPDATE iot_daily_summaries SET
				total_entries = $3,
				total_exits = $4,
				avg_occupancy = $5,
				max_occupancy = $6,
				min_occupancy = $7,
				peak_hour = $8,
				peak_hour_visitors = $9,
				total_detections = $10,
				active_cameras_count = $11,
				updated_at = now()
			WHERE business_id = $1 AND summary_date = $2::date
			  AND (total_entries, total_exits, avg_occupancy, max_occupancy, min_occupancy,
			       peak_hour, peak_hour_visitors, total_detections, active_cameras_count)
			  IS DISTINCT FROM
			      ($3::int, $4::int, $5::numeric(10,2), $6::int, $7::int,
			       $8::smallint, $9::int, $10::int, $11::int)`,
			businessID, summaryDate,
			s.TotalEntries, s.TotalExits, s.AvgOccupancy, s.MaxOccupancy, s.MinOccupancy,
			s.PeakHour, s.PeakHourVisitors, s.TotalDetections, s.ActiveCamerasCount,
		); err != nil {
			return fmt.Errorf("failed to update summary: %w", err)
		}

		stored, err := getSummary(ctx, tx, businessID, summaryDate)
		if err != nil {
			return err
		}
		out = stored
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns the stored summary or nil
func (r *SummaryRepository) Get(ctx context.Context, businessID, summaryDate string) (*models.DailySummary, error) {
	s, err := getSummary(ctx, r.db, businessID, summaryDate)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// List summaries with fromDate <= summary_date <= toDate, oldest first
func (r *SummaryRepository) List(ctx context.Context, businessID, fromDate, toDate string) ([]models.DailySummary, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+summaryColumns+` FROM iot_daily_summaries
		WHERE business_id = $1 AND summary_date >= $2::date AND summary_date <= $3::date
		ORDER BY summary_date ASC`,
		businessID, fromDate, toDate)
	if err != nil {
		return nil, fmt.Errorf("failed to list summaries of %q: %w", businessID, err)
	}
	defer rows.Close()

	var out []models.DailySummary
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func getSummary(ctx context.Context, q querier, businessID, summaryDate string) (*models.DailySummary, error) {
	s, err := scanSummary(q.QueryRowContext(ctx, `SELECT `+summaryColumns+` FROM iot_daily_summaries
		WHERE business_id = $1 AND summary_date = $2::date`,
		businessID, summaryDate))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get summary: %w", err)
	}
	return s, nil
}

func scanSummary(s rowScanner) (*models.DailySummary, error) {
	var (
		ds       models.DailySummary
		peakHour sql.NullInt64
	)
	err := s.Scan(&ds.BusinessID, &ds.SummaryDate, &ds.TotalEntries, &ds.TotalExits,
		&ds.AvgOccupancy, &ds.MaxOccupancy, &ds.MinOccupancy, &peakHour, &ds.PeakHourVisitors,
		&ds.TotalDetections, &ds.ActiveCamerasCount, &ds.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if peakHour.Valid {
		h := int(peakHour.Int64)
		ds.PeakHour = &h
	}
	return &ds, nil
}

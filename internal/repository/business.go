package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"cityv-crowd/internal/models"

	"go.uber.org/zap"
)

// BusinessRepository businesses table, read side only
type BusinessRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewBusinessRepository creates a BusinessRepository
func NewBusinessRepository(db *sql.DB, logger *zap.Logger) *BusinessRepository {
	return &BusinessRepository{
		db:     db,
		logger: logger,
	}
}

// GetWorkingHours parses working_hours of a business. Unknown business or
// NULL hours return nil, nil; malformed JSON wraps models.ErrInvalidSchedule.
func (r *BusinessRepository) GetWorkingHours(ctx context.Context, businessID string) (*models.WeeklySchedule, error) {
	var raw []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT working_hours FROM businesses WHERE business_id = $1`, businessID).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get working hours of %q: %w", businessID, err)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	ws, err := models.ParseWeeklySchedule(raw)
	if err != nil {
		r.logger.Warn("Invalid working hours",
			zap.String("business_id", businessID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("business %q: %w", businessID, err)
	}
	return ws, nil
}

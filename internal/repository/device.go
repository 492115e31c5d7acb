package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"cityv-crowd/internal/models"

	"go.uber.org/zap"
)

const deviceColumns = `id, device_id, business_id, display_name, ip_address, stream_url,
	is_active, max_capacity, created_at, updated_at`

// DeviceRepository business_cameras registry
type DeviceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDeviceRepository creates a DeviceRepository
func NewDeviceRepository(db *sql.DB, logger *zap.Logger) *DeviceRepository {
	return &DeviceRepository{
		db:     db,
		logger: logger,
	}
}

// GetByDeviceID looks up by canonical device id
func (r *DeviceRepository) GetByDeviceID(ctx context.Context, deviceID string) (*models.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM business_cameras WHERE device_id = $1`
	d, err := scanDevice(r.db.QueryRowContext(ctx, query, deviceID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("device %q: %w", deviceID, models.ErrDeviceNotFound)
		}
		return nil, fmt.Errorf("failed to get device %q: %w", deviceID, err)
	}
	return d, nil
}

// GetByCameraID looks up by numeric registry row id
func (r *DeviceRepository) GetByCameraID(ctx context.Context, cameraID int64) (*models.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM business_cameras WHERE id = $1`
	d, err := scanDevice(r.db.QueryRowContext(ctx, query, cameraID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("camera %d: %w", cameraID, models.ErrDeviceNotFound)
		}
		return nil, fmt.Errorf("failed to get camera %d: %w", cameraID, err)
	}
	return d, nil
}

// ListByBusiness returns every device of a business, inactive included
func (r *DeviceRepository) ListByBusiness(ctx context.Context, businessID string) ([]models.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM business_cameras WHERE business_id = $1 ORDER BY device_id`
	rows, err := r.db.QueryContext(ctx, query, businessID)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices of business %q: %w", businessID, err)
	}
	defer rows.Close()

	var devices []models.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, *d)
	}
	return devices, rows.Err()
}

// ListBusinessIDs returns businesses with at least one registered device
func (r *DeviceRepository) ListBusinessIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT business_id FROM business_cameras ORDER BY business_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list businesses: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan business id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanDevice(s rowScanner) (*models.Device, error) {
	var (
		d           models.Device
		ipAddress   sql.NullString
		streamURL   sql.NullString
		maxCapacity sql.NullInt64
	)
	err := s.Scan(&d.CameraID, &d.DeviceID, &d.BusinessID, &d.DisplayName, &ipAddress, &streamURL,
		&d.IsActive, &maxCapacity, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if ipAddress.Valid {
		d.IPAddress = &ipAddress.String
	}
	if streamURL.Valid {
		d.StreamURL = &streamURL.String
	}
	if maxCapacity.Valid {
		c := int(maxCapacity.Int64)
		d.MaxCapacity = &c
	}
	return &d, nil
}

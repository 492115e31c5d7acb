// Package registry resolves device identifiers to registered cameras.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"cityv-crowd/internal/models"

	"go.uber.org/zap"
)

// DeviceStore registry lookups, implemented by repository.DeviceRepository
type DeviceStore interface {
	GetByDeviceID(ctx context.Context, deviceID string) (*models.Device, error)
	GetByCameraID(ctx context.Context, cameraID int64) (*models.Device, error)
	ListByBusiness(ctx context.Context, businessID string) ([]models.Device, error)
}

// Resolver maps raw device references onto registry entries; no side effects
type Resolver struct {
	store  DeviceStore
	logger *zap.Logger
}

// NewResolver creates a Resolver
func NewResolver(store DeviceStore, logger *zap.Logger) *Resolver {
	return &Resolver{
		store:  store,
		logger: logger,
	}
}

// NormalizeDeviceID turns a string or numeric device reference into its
// canonical string form
func NormalizeDeviceID(raw any) (string, error) {
	var s string
	switch v := raw.(type) {
	case string:
		s = v
	case json.Number:
		s = v.String()
		if f, err := v.Float64(); err == nil && strings.ContainsAny(s, ".eE") {
			if f != math.Trunc(f) || math.IsInf(f, 0) {
				return "", fmt.Errorf("%w: device id %s is not an integer", models.ErrInvalidInput, s)
			}
			s = strconv.FormatFloat(f, 'f', 0, 64)
		}
	case int:
		s = strconv.FormatInt(int64(v), 10)
	case int32:
		s = strconv.FormatInt(int64(v), 10)
	case int64:
		s = strconv.FormatInt(v, 10)
	case uint:
		s = strconv.FormatUint(uint64(v), 10)
	case uint32:
		s = strconv.FormatUint(uint64(v), 10)
	case uint64:
		s = strconv.FormatUint(v, 10)
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
			return "", fmt.Errorf("%w: device id %v is not an integer", models.ErrInvalidInput, v)
		}
		s = strconv.FormatFloat(v, 'f', 0, 64)
	case nil:
		return "", fmt.Errorf("%w: device id is required", models.ErrInvalidInput)
	default:
		return "", fmt.Errorf("%w: unsupported device id type %T", models.ErrInvalidInput, raw)
	}

	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: device id is empty", models.ErrInvalidInput)
	}
	return s, nil
}

// ResolveDevice looks up by canonical device_id first, then by numeric camera row id
func (r *Resolver) ResolveDevice(ctx context.Context, raw any) (*models.Device, error) {
	id, err := NormalizeDeviceID(raw)
	if err != nil {
		return nil, err
	}

	device, err := r.store.GetByDeviceID(ctx, id)
	if err == nil {
		return device, nil
	}
	if !errors.Is(err, models.ErrDeviceNotFound) {
		return nil, err
	}

	cameraID, convErr := strconv.ParseInt(id, 10, 64)
	if convErr != nil || cameraID <= 0 {
		return nil, fmt.Errorf("device %q: %w", id, models.ErrDeviceNotFound)
	}
	device, err = r.store.GetByCameraID(ctx, cameraID)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("Resolved device by camera row id",
		zap.String("raw_id", id),
		zap.String("device_id", device.DeviceID),
	)
	return device, nil
}

// ResolveActiveDevice is ResolveDevice that rejects soft-deleted devices.
// The device is still returned with ErrDeviceInactive for logging.
func (r *Resolver) ResolveActiveDevice(ctx context.Context, raw any) (*models.Device, error) {
	device, err := r.ResolveDevice(ctx, raw)
	if err != nil {
		return nil, err
	}
	if !device.IsActive {
		return device, fmt.Errorf("device %q: %w", device.DeviceID, models.ErrDeviceInactive)
	}
	return device, nil
}

// IsOwnedBy reports whether the device belongs to businessID; unknown devices are not owned
func (r *Resolver) IsOwnedBy(ctx context.Context, raw any, businessID string) (bool, error) {
	_, err := r.OwnedDevice(ctx, raw, businessID)
	if err != nil {
		if errors.Is(err, models.ErrDeviceNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// OwnedDevice resolves raw and reports a device of another business as not found
func (r *Resolver) OwnedDevice(ctx context.Context, raw any, businessID string) (*models.Device, error) {
	device, err := r.ResolveDevice(ctx, raw)
	if err != nil {
		return nil, err
	}
	if device.BusinessID != businessID {
		return nil, fmt.Errorf("device %q in business %q: %w", device.DeviceID, businessID, models.ErrDeviceNotFound)
	}
	return device, nil
}

// ListBusinessDevices all devices of a business, inactive included
func (r *Resolver) ListBusinessDevices(ctx context.Context, businessID string) ([]models.Device, error) {
	return r.store.ListByBusiness(ctx, businessID)
}

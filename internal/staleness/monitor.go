// Package staleness decides whether a device is still reporting. Nothing here is persisted.
package staleness

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout a device silent for longer than this is stale
const DefaultTimeout = 30 * time.Second

// LastSeenStore newest created_at per device, implemented by repository.DetectionRepository
type LastSeenStore interface {
	GetLatestCreatedAt(ctx context.Context, deviceID string) (time.Time, bool, error)
}

// Status staleness of one device
type Status struct {
	Stale    bool       `json:"stale"`
	LastSeen *time.Time `json:"lastSeen"`
}

// Monitor evaluates staleness against an injectable clock
type Monitor struct {
	store   LastSeenStore
	timeout time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

// NewMonitor creates a Monitor; timeout <= 0 uses DefaultTimeout
func NewMonitor(store LastSeenStore, timeout time.Duration, logger *zap.Logger) *Monitor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Monitor{
		store:   store,
		timeout: timeout,
		now:     time.Now,
		logger:  logger,
	}
}

// WithClock replaces the clock, for tests and replays
func (m *Monitor) WithClock(now func() time.Time) *Monitor {
	m.now = now
	return m
}

// Timeout default timeout of this monitor
func (m *Monitor) Timeout() time.Duration {
	return m.timeout
}

// IsStaleAt reports whether lastSeen is more than timeout before now
func IsStaleAt(lastSeen, now time.Time, timeout time.Duration) bool {
	return now.Sub(lastSeen) > timeout
}

// IsStale true when the device never reported or its last record is older than timeout
func (m *Monitor) IsStale(ctx context.Context, deviceID string, timeout time.Duration) (bool, error) {
	st, err := m.Status(ctx, deviceID, timeout)
	if err != nil {
		return false, err
	}
	return st.Stale, nil
}

// Status staleness plus last-seen time; timeout <= 0 uses the monitor default
func (m *Monitor) Status(ctx context.Context, deviceID string, timeout time.Duration) (Status, error) {
	if timeout <= 0 {
		timeout = m.timeout
	}
	lastSeen, ok, err := m.store.GetLatestCreatedAt(ctx, deviceID)
	if err != nil {
		return Status{}, fmt.Errorf("failed to check staleness of %q: %w", deviceID, err)
	}
	if !ok {
		return Status{Stale: true}, nil
	}
	st := Status{
		Stale:    IsStaleAt(lastSeen, m.now(), timeout),
		LastSeen: &lastSeen,
	}
	if st.Stale {
		m.logger.Debug("Device is stale",
			zap.String("device_id", deviceID),
			zap.Time("last_seen", lastSeen),
			zap.Duration("timeout", timeout),
		)
	}
	return st, nil
}

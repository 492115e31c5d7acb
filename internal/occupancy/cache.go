package occupancy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cityv-crowd/internal/models"

	"github.com/go-redis/redis/v8"
)

// DefaultCacheTTL lifetime of a cached latest detection
const DefaultCacheTTL = 30 * time.Second

const maxWatchRetries = 3

// LatestKey Redis key of the latest detection of a device
func LatestKey(deviceID string) string {
	return fmt.Sprintf("cityv:device:%s:latest", deviceID)
}

// LatestCache read-through cache of the newest record per device
type LatestCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewLatestCache creates a LatestCache; ttl <= 0 uses DefaultCacheTTL
func NewLatestCache(client *redis.Client, ttl time.Duration) *LatestCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &LatestCache{
		client: client,
		ttl:    ttl,
	}
}

// Get cached record or nil on miss
func (c *LatestCache) Get(ctx context.Context, deviceID string) (*models.DetectionRecord, error) {
	b, err := c.client.Get(ctx, LatestKey(deviceID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read latest cache: %w", err)
	}
	var rec models.DetectionRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode latest cache: %w", err)
	}
	return &rec, nil
}

// SetIfNewer stores rec unless the cached record has the same or a later
// analysis_timestamp. Reports whether rec was written.
func (c *LatestCache) SetIfNewer(ctx context.Context, rec *models.DetectionRecord) (bool, error) {
	key := LatestKey(rec.DeviceID)
	payload, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("failed to encode latest cache: %w", err)
	}

	var written bool
	txf := func(tx *redis.Tx) error {
		written = false
		cur, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			var existing models.DetectionRecord
			if json.Unmarshal(cur, &existing) == nil && !rec.AnalysisTimestamp.After(existing.AnalysisTimestamp) {
				return nil
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, c.ttl)
			return nil
		})
		if err == nil {
			written = true
		}
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := c.client.Watch(ctx, txf, key)
		if err == nil {
			return written, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return false, fmt.Errorf("failed to update latest cache: %w", err)
	}
	return false, fmt.Errorf("failed to update latest cache: %w", redis.TxFailedErr)
}

// Invalidate drops the cached record of a device
func (c *LatestCache) Invalidate(ctx context.Context, deviceID string) error {
	return c.client.Del(ctx, LatestKey(deviceID)).Err()
}

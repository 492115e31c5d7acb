package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "cityv", cfg.Database.Database)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)
	assert.Equal(t, "cityv/+/detections", cfg.Ingest.Topic)
	assert.Equal(t, "cityv:detections:stream", cfg.Ingest.Stream)
	assert.Equal(t, "cityv-ingest-group", cfg.Ingest.ConsumerGroup)
	assert.Equal(t, "cityv-ingest-1", cfg.Ingest.ConsumerName, "stable across restarts")
	assert.Equal(t, time.Minute, cfg.Ingest.ClaimMinIdle)
	assert.True(t, cfg.Ingest.IncrementalRollup)
	assert.Equal(t, 5*time.Minute, cfg.Ingest.MaxFutureSkew)
	assert.Equal(t, 5*time.Second, cfg.Ingest.RollupMinInterval)
	assert.Equal(t, 30*time.Second, cfg.Occupancy.StaleTimeout)
	assert.Equal(t, 1, cfg.Occupancy.TrendTolerance)
	assert.Equal(t, "Europe/Istanbul", cfg.Aggregator.Location.String())
	assert.Equal(t, 0, cfg.Aggregator.RollupHour)
	assert.Equal(t, 15, cfg.Aggregator.RollupMinute)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("MQTT_QOS", "2")
	t.Setenv("INGEST_INCREMENTAL_ROLLUP", "false")
	t.Setenv("OCCUPANCY_STALE_TIMEOUT", "45")
	t.Setenv("OCCUPANCY_TREND_WINDOW", "10m")
	t.Setenv("BUSINESS_TIMEZONE", "UTC")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, byte(2), cfg.MQTT.QoS)
	assert.False(t, cfg.Ingest.IncrementalRollup)
	assert.Equal(t, 45*time.Second, cfg.Occupancy.StaleTimeout)
	assert.Equal(t, 10*time.Minute, cfg.Occupancy.TrendWindow)
	assert.Equal(t, time.UTC, cfg.Aggregator.Location)
}

func TestLoad_InvalidTimezone(t *testing.T) {
	t.Setenv("BUSINESS_TIMEZONE", "Mars/Olympus")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_InvalidRollupTime(t *testing.T) {
	t.Setenv("ROLLUP_HOUR", "25")
	_, err := Load()
	assert.Error(t, err)
}

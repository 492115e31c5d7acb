package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
	_ "time/tzdata"

	"cityv-crowd/common/config"
)

// Config shared by the cityv binaries; each reads the sections it needs
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	HTTP struct {
		Addr            string
		ReadTimeout     time.Duration
		WriteTimeout    time.Duration
		ShutdownTimeout time.Duration
		// IngestRateLimit requests per minute per client IP on the device ingest route
		IngestRateLimit int
	}

	Ingest struct {
		Topic         string // MQTT topic filter, second segment is the device id
		Stream        string
		ConsumerGroup string
		ConsumerName  string
		BatchSize     int64
		Block         time.Duration
		ClaimMinIdle  time.Duration
		// IncrementalRollup recompute the daily summary on every accepted record
		IncrementalRollup bool
		// RollupMinInterval throttles incremental rollups per business day
		RollupMinInterval time.Duration
		MaxFutureSkew     time.Duration
	}

	Occupancy struct {
		StaleTimeout   time.Duration
		TrendWindow    time.Duration
		TrendTolerance int
		CacheTTL       time.Duration
	}

	Aggregator struct {
		Timezone       string
		Location       *time.Location
		RollupHour     int
		RollupMinute   int
		DeviceTimeout  time.Duration
		MaxConcurrency int
		RetryAttempts  int
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load reads configuration from the environment
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "cityv")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 20)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "cityv-gateway")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = 1
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")
	cfg.HTTP.ReadTimeout = getEnvDuration("HTTP_READ_TIMEOUT", 10*time.Second)
	cfg.HTTP.WriteTimeout = getEnvDuration("HTTP_WRITE_TIMEOUT", 30*time.Second)
	cfg.HTTP.ShutdownTimeout = getEnvDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second)
	cfg.HTTP.IngestRateLimit = getEnvInt("HTTP_INGEST_RATE_LIMIT", 600)

	cfg.Ingest.Topic = getEnv("INGEST_MQTT_TOPIC", "cityv/+/detections")
	cfg.Ingest.Stream = getEnv("INGEST_STREAM", "cityv:detections:stream")
	cfg.Ingest.ConsumerGroup = getEnv("INGEST_CONSUMER_GROUP", "cityv-ingest-group")
	cfg.Ingest.ConsumerName = getEnv("INGEST_CONSUMER_NAME", "cityv-ingest-1")
	cfg.Ingest.ClaimMinIdle = getEnvDuration("INGEST_CLAIM_MIN_IDLE", time.Minute)
	cfg.Ingest.BatchSize = int64(getEnvInt("INGEST_BATCH_SIZE", 20))
	cfg.Ingest.Block = getEnvDuration("INGEST_BLOCK", 2*time.Second)
	cfg.Ingest.IncrementalRollup = getEnvBool("INGEST_INCREMENTAL_ROLLUP", true)
	cfg.Ingest.RollupMinInterval = getEnvDuration("INGEST_ROLLUP_MIN_INTERVAL", 5*time.Second)
	cfg.Ingest.MaxFutureSkew = getEnvDuration("INGEST_MAX_FUTURE_SKEW", 5*time.Minute)

	cfg.Occupancy.StaleTimeout = getEnvDuration("OCCUPANCY_STALE_TIMEOUT", 30*time.Second)
	cfg.Occupancy.TrendWindow = getEnvDuration("OCCUPANCY_TREND_WINDOW", 15*time.Minute)
	cfg.Occupancy.TrendTolerance = getEnvInt("OCCUPANCY_TREND_TOLERANCE", 1)
	cfg.Occupancy.CacheTTL = getEnvDuration("OCCUPANCY_CACHE_TTL", 30*time.Second)

	cfg.Aggregator.Timezone = getEnv("BUSINESS_TIMEZONE", "Europe/Istanbul")
	loc, err := time.LoadLocation(cfg.Aggregator.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", cfg.Aggregator.Timezone, err)
	}
	cfg.Aggregator.Location = loc
	cfg.Aggregator.RollupHour = getEnvInt("ROLLUP_HOUR", 0)
	cfg.Aggregator.RollupMinute = getEnvInt("ROLLUP_MINUTE", 15)
	if cfg.Aggregator.RollupHour < 0 || cfg.Aggregator.RollupHour > 23 ||
		cfg.Aggregator.RollupMinute < 0 || cfg.Aggregator.RollupMinute > 59 {
		return nil, fmt.Errorf("invalid rollup time %02d:%02d", cfg.Aggregator.RollupHour, cfg.Aggregator.RollupMinute)
	}
	cfg.Aggregator.DeviceTimeout = getEnvDuration("AGGREGATOR_DEVICE_TIMEOUT", 2*time.Second)
	cfg.Aggregator.MaxConcurrency = getEnvInt("AGGREGATOR_MAX_CONCURRENCY", 8)
	cfg.Aggregator.RetryAttempts = getEnvInt("AGGREGATOR_RETRY_ATTEMPTS", 5)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("45s") or bare seconds ("45")
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

// Package service wires the cityv processes: connections, repositories and
// the New/Start/Stop lifecycle each binary runs.
package service

import (
	"context"
	"database/sql"
	"fmt"

	"cityv-crowd/common/database"
	rediscommon "cityv-crowd/common/redis"
	"cityv-crowd/internal/aggregator"
	"cityv-crowd/internal/config"
	"cityv-crowd/internal/ingest"
	"cityv-crowd/internal/occupancy"
	"cityv-crowd/internal/registry"
	"cityv-crowd/internal/repository"
	"cityv-crowd/internal/staleness"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// core domain components shared by the ingest, api and archiver processes
type core struct {
	devices    *repository.DeviceRepository
	businesses *repository.BusinessRepository
	detections *repository.DetectionRepository
	summaries  *repository.SummaryRepository

	resolver   *registry.Resolver
	tracker    *occupancy.Tracker
	monitor    *staleness.Monitor
	aggregator *aggregator.Aggregator
	ingest     *ingest.Service
}

// newCore builds the domain graph; redisClient may be nil, which disables the latest-detection cache
func newCore(cfg *config.Config, db *sql.DB, redisClient *redis.Client, logger *zap.Logger) *core {
	c := &core{
		devices:    repository.NewDeviceRepository(db, logger),
		businesses: repository.NewBusinessRepository(db, logger),
		detections: repository.NewDetectionRepository(db, logger),
		summaries:  repository.NewSummaryRepository(db, logger),
	}

	var cache *occupancy.LatestCache
	if redisClient != nil {
		cache = occupancy.NewLatestCache(redisClient, cfg.Occupancy.CacheTTL)
	}

	c.resolver = registry.NewResolver(c.devices, logger)
	c.tracker = occupancy.NewTracker(c.detections, cache, occupancy.Options{
		StaleTimeout:   cfg.Occupancy.StaleTimeout,
		TrendWindow:    cfg.Occupancy.TrendWindow,
		TrendTolerance: cfg.Occupancy.TrendTolerance,
	}, logger)
	c.monitor = staleness.NewMonitor(c.detections, cfg.Occupancy.StaleTimeout, logger)
	c.aggregator = aggregator.NewAggregator(
		c.summaries,
		c.resolver,
		c.devices,
		c.businesses,
		c.detections,
		c.tracker,
		aggregator.Options{
			Location:             cfg.Aggregator.Location,
			DeviceTimeout:        cfg.Aggregator.DeviceTimeout,
			MaxConcurrency:       cfg.Aggregator.MaxConcurrency,
			RetryAttempts:        cfg.Aggregator.RetryAttempts,
			TrendWindow:          cfg.Occupancy.TrendWindow,
			RecordRollupInterval: cfg.Ingest.RollupMinInterval,
		},
		logger,
	)
	c.ingest = ingest.NewService(c.resolver, c.detections, c.tracker, c.aggregator, ingest.Options{
		Location:          cfg.Aggregator.Location,
		MaxFutureSkew:     cfg.Ingest.MaxFutureSkew,
		IncrementalRollup: cfg.Ingest.IncrementalRollup,
	}, logger)
	return c
}

func openPostgres(cfg *config.Config) (*sql.DB, error) {
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func openRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	client := rediscommon.NewRedisClient(&cfg.Redis)
	if err := rediscommon.Ping(ctx, client); err != nil {
		_ = rediscommon.Close(client)
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func closeAll(logger *zap.Logger, db *sql.DB, redisClient *redis.Client) {
	if redisClient != nil {
		if err := rediscommon.Close(redisClient); err != nil {
			logger.Error("Error closing redis", zap.Error(err))
		}
	}
	if db != nil {
		if err := database.Close(db); err != nil {
			logger.Error("Error closing database", zap.Error(err))
		}
	}
}

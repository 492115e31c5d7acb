package service

import (
	"context"
	"database/sql"

	"cityv-crowd/internal/config"
	"cityv-crowd/internal/consumer"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// IngestService detection stream worker
type IngestService struct {
	config   *config.Config
	logger   *zap.Logger
	db       *sql.DB
	redis    *redis.Client
	consumer *consumer.StreamConsumer
}

// NewIngestService connects to Postgres and Redis and builds the worker
func NewIngestService(cfg *config.Config, logger *zap.Logger) (*IngestService, error) {
	db, err := openPostgres(cfg)
	if err != nil {
		return nil, err
	}
	redisClient, err := openRedis(context.Background(), cfg)
	if err != nil {
		closeAll(logger, db, nil)
		return nil, err
	}

	c := newCore(cfg, db, redisClient, logger)
	worker := consumer.NewStreamConsumer(redisClient, c.ingest, consumer.StreamOptions{
		Stream:       cfg.Ingest.Stream,
		Group:        cfg.Ingest.ConsumerGroup,
		Consumer:     cfg.Ingest.ConsumerName,
		BatchSize:    cfg.Ingest.BatchSize,
		Block:        cfg.Ingest.Block,
		ClaimMinIdle: cfg.Ingest.ClaimMinIdle,
	}, logger)

	return &IngestService{
		config:   cfg,
		logger:   logger,
		db:       db,
		redis:    redisClient,
		consumer: worker,
	}, nil
}

// Start consumes until ctx is done
func (s *IngestService) Start(ctx context.Context) error {
	s.logger.Info("Starting ingest service",
		zap.String("stream", s.config.Ingest.Stream),
		zap.Bool("incremental_rollup", s.config.Ingest.IncrementalRollup),
	)
	return s.consumer.Start(ctx)
}

// Stop closes connections; in-flight messages stay pending for redelivery
func (s *IngestService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping ingest service")
	closeAll(s.logger, s.db, s.redis)
	s.logger.Info("Ingest service stopped")
	return nil
}

package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	rediscommon "cityv-crowd/common/redis"
	"cityv-crowd/internal/config"
	httpapi "cityv-crowd/internal/http"
	"cityv-crowd/internal/repository"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// APIService HTTP API
type APIService struct {
	config *config.Config
	logger *zap.Logger
	db     *sql.DB
	redis  *redis.Client
	server *http.Server
}

// NewAPIService connects, optionally applies the schema, and builds the router
func NewAPIService(cfg *config.Config, logger *zap.Logger, migrate bool) (*APIService, error) {
	db, err := openPostgres(cfg)
	if err != nil {
		return nil, err
	}
	if migrate {
		if err := repository.EnsureSchema(context.Background(), db); err != nil {
			closeAll(logger, db, nil)
			return nil, err
		}
		logger.Info("Database schema applied")
	}
	redisClient, err := openRedis(context.Background(), cfg)
	if err != nil {
		closeAll(logger, db, nil)
		return nil, err
	}

	c := newCore(cfg, db, redisClient, logger)

	router := httpapi.NewRouter(logger)
	router.RegisterIngestRoutes(httpapi.NewIngestHandler(c.ingest, logger), cfg.HTTP.IngestRateLimit)
	router.RegisterBusinessRoutes(httpapi.NewBusinessHandler(c.aggregator, logger))
	router.RegisterDeviceRoutes(httpapi.NewDeviceHandler(c.resolver, c.tracker, c.detections, c.monitor, cfg.Aggregator.Location, logger))
	router.RegisterOpsRoutes(map[string]httpapi.HealthCheck{
		"postgres": db.PingContext,
		"redis": func(ctx context.Context) error {
			return rediscommon.Ping(ctx, redisClient)
		},
	})

	return &APIService{
		config: cfg,
		logger: logger,
		db:     db,
		redis:  redisClient,
		server: &http.Server{
			Addr:         cfg.HTTP.Addr,
			Handler:      router,
			ReadTimeout:  cfg.HTTP.ReadTimeout,
			WriteTimeout: cfg.HTTP.WriteTimeout,
		},
	}, nil
}

// Start serves until Stop
func (s *APIService) Start(ctx context.Context) error {
	s.logger.Info("HTTP API listening", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Stop drains requests within the shutdown timeout, then closes connections
func (s *APIService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API service")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.HTTP.ShutdownTimeout)
	defer cancel()
	err := s.server.Shutdown(shutdownCtx)
	if err != nil {
		s.logger.Error("Error shutting down http server", zap.Error(err))
	}
	closeAll(s.logger, s.db, s.redis)
	s.logger.Info("API service stopped")
	return err
}

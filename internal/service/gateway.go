package service

import (
	"context"
	"fmt"

	mqttcommon "cityv-crowd/common/mqtt"
	"cityv-crowd/internal/config"
	"cityv-crowd/internal/consumer"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// GatewayService MQTT to detection stream bridge
type GatewayService struct {
	config     *config.Config
	logger     *zap.Logger
	redis      *redis.Client
	mqttClient *mqttcommon.Client
	gateway    *consumer.Gateway
}

// NewGatewayService connects to Redis and the broker
func NewGatewayService(cfg *config.Config, logger *zap.Logger) (*GatewayService, error) {
	redisClient, err := openRedis(context.Background(), cfg)
	if err != nil {
		return nil, err
	}

	mqttClient, err := mqttcommon.NewClient(&cfg.MQTT, logger)
	if err != nil {
		closeAll(logger, nil, redisClient)
		return nil, fmt.Errorf("failed to connect to MQTT: %w", err)
	}

	return &GatewayService{
		config:     cfg,
		logger:     logger,
		redis:      redisClient,
		mqttClient: mqttClient,
		gateway:    consumer.NewGateway(mqttClient, redisClient, cfg.Ingest.Topic, cfg.Ingest.Stream, cfg.MQTT.QoS, logger),
	}, nil
}

// Start blocks until ctx is done
func (s *GatewayService) Start(ctx context.Context) error {
	if err := s.gateway.Start(ctx); err != nil {
		return fmt.Errorf("failed to start MQTT gateway: %w", err)
	}
	return nil
}

// Stop unsubscribes and closes connections
func (s *GatewayService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping gateway service")
	if err := s.gateway.Stop(ctx); err != nil {
		s.logger.Error("Error stopping gateway", zap.Error(err))
	}
	s.mqttClient.Disconnect()
	closeAll(s.logger, nil, s.redis)
	s.logger.Info("Gateway service stopped")
	return nil
}

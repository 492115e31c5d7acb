// Package consumer moves device detections from MQTT onto the detection
// stream and from the stream into ingest.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqttcommon "cityv-crowd/common/mqtt"
	rediscommon "cityv-crowd/common/redis"
	"cityv-crowd/internal/metrics"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Stream entry fields written by the gateway
const (
	FieldDeviceID   = "device_id"
	FieldPayload    = "payload"
	FieldTopic      = "topic"
	FieldReceivedAt = "received_at"
)

// Subscriber implemented by common/mqtt.Client
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// Gateway forwards detection payloads from MQTT onto the detection stream
type Gateway struct {
	subscriber  Subscriber
	redisClient *redis.Client
	topic       string
	stream      string
	qos         byte
	logger      *zap.Logger
}

// NewGateway creates a Gateway
func NewGateway(subscriber Subscriber, redisClient *redis.Client, topic, stream string, qos byte, logger *zap.Logger) *Gateway {
	return &Gateway{
		subscriber:  subscriber,
		redisClient: redisClient,
		topic:       topic,
		stream:      stream,
		qos:         qos,
		logger:      logger,
	}
}

// Start subscribes and blocks until ctx is done
func (g *Gateway) Start(ctx context.Context) error {
	if err := g.subscriber.Subscribe(g.topic, g.qos, g.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to detection topic: %w", err)
	}

	g.logger.Info("MQTT gateway started",
		zap.String("topic", g.topic),
		zap.String("stream", g.stream),
	)

	<-ctx.Done()
	return nil
}

// Stop unsubscribes
func (g *Gateway) Stop(ctx context.Context) error {
	if err := g.subscriber.Unsubscribe(g.topic); err != nil {
		g.logger.Error("Failed to unsubscribe", zap.Error(err))
	}
	g.logger.Info("MQTT gateway stopped")
	return nil
}

// DeviceFromTopic extracts the device id from cityv/{deviceId}/detections
func DeviceFromTopic(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[1] == "" {
		return "", fmt.Errorf("invalid topic format: %s", topic)
	}
	return parts[1], nil
}

func (g *Gateway) handleMessage(topic string, payload []byte) error {
	g.logger.Debug("Received MQTT message",
		zap.String("topic", topic),
		zap.Int("payload_size", len(payload)),
	)

	deviceID, err := DeviceFromTopic(topic)
	if err != nil {
		metrics.GatewayMessages.WithLabelValues("malformed").Inc()
		return err
	}

	// only the envelope is checked here, ingest validates the fields
	var body map[string]json.RawMessage
	if err := json.Unmarshal(payload, &body); err != nil {
		metrics.GatewayMessages.WithLabelValues("malformed").Inc()
		return fmt.Errorf("failed to unmarshal message from %s: %w", deviceID, err)
	}

	streamID, err := rediscommon.PublishToStream(context.Background(), g.redisClient, g.stream, map[string]interface{}{
		FieldDeviceID:   deviceID,
		FieldPayload:    payload,
		FieldTopic:      topic,
		FieldReceivedAt: time.Now().Unix(),
	})
	if err != nil {
		metrics.GatewayMessages.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to publish to stream: %w", err)
	}

	metrics.GatewayMessages.WithLabelValues("forwarded").Inc()
	g.logger.Debug("Forwarded detection to stream",
		zap.String("device_id", deviceID),
		zap.String("stream", g.stream),
		zap.String("stream_id", streamID),
	)
	return nil
}

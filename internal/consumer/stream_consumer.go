package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	rediscommon "cityv-crowd/common/redis"
	"cityv-crowd/internal/ingest"
	"cityv-crowd/internal/metrics"
	"cityv-crowd/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Ingester implemented by ingest.Service
type Ingester interface {
	Ingest(ctx context.Context, in models.DetectionInput) (*ingest.Result, error)
}

// StreamOptions detection stream settings
type StreamOptions struct {
	Stream       string
	Group        string
	Consumer     string
	BatchSize    int64
	Block        time.Duration
	// ClaimMinIdle entries of other consumers pending this long are taken
	// over on start, e.g. after a replica was renamed or scaled away
	ClaimMinIdle time.Duration
}

// DefaultConsumerName stable name so a restarted worker finds its own pending entries
const DefaultConsumerName = "cityv-ingest-1"

// StreamConsumer reads the detection stream in a consumer group and ingests
// each entry. Entries are acked once stored or permanently rejected; transient
// failures stay pending and are read again after the next backoff.
type StreamConsumer struct {
	redisClient *redis.Client
	ingester    Ingester
	opts        StreamOptions
	logger      *zap.Logger

	retryPending bool
}

// NewStreamConsumer creates a StreamConsumer; an empty consumer name uses DefaultConsumerName
func NewStreamConsumer(redisClient *redis.Client, ingester Ingester, opts StreamOptions, logger *zap.Logger) *StreamConsumer {
	if opts.Consumer == "" {
		opts.Consumer = DefaultConsumerName
	}
	if opts.ClaimMinIdle <= 0 {
		opts.ClaimMinIdle = time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	if opts.Block <= 0 {
		opts.Block = 2 * time.Second
	}
	return &StreamConsumer{
		redisClient: redisClient,
		ingester:    ingester,
		opts:        opts,
		logger:      logger,
		// pick up whatever a previous run of this consumer left unacked
		retryPending: true,
	}
}

// ConsumerName the name used in the consumer group
func (c *StreamConsumer) ConsumerName() string {
	return c.opts.Consumer
}

// Start consumes until ctx is done
func (c *StreamConsumer) Start(ctx context.Context) error {
	if err := rediscommon.CreateConsumerGroup(ctx, c.redisClient, c.opts.Stream, c.opts.Group); err != nil {
		return err
	}

	c.logger.Info("Stream consumer started",
		zap.String("stream", c.opts.Stream),
		zap.String("consumer_group", c.opts.Group),
		zap.String("consumer_name", c.opts.Consumer),
	)
	c.claimOrphans(ctx)

	backoffDuration := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		_, err := c.consumeOnce(ctx)
		if err == nil {
			backoffDuration = time.Second
			continue
		}
		if ctx.Err() != nil {
			return nil
		}

		c.logger.Error("Failed to consume detection stream",
			zap.Error(err),
			zap.Duration("backoff", backoffDuration),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoffDuration):
			backoffDuration *= 2
			if backoffDuration > maxBackoff {
				backoffDuration = maxBackoff
			}
		}
	}
}

// claimOrphans takes over idle entries other consumers left pending; they are
// then processed through the pending path
func (c *StreamConsumer) claimOrphans(ctx context.Context) {
	n, err := rediscommon.ClaimIdle(ctx, c.redisClient, c.opts.Stream, c.opts.Group, c.opts.Consumer, c.opts.ClaimMinIdle, 1000)
	if err != nil {
		c.logger.Warn("Failed to claim idle pending entries", zap.Error(err))
		return
	}
	if n > 0 {
		c.retryPending = true
		c.logger.Info("Claimed idle pending entries",
			zap.Int("claimed_count", n),
			zap.Duration("min_idle", c.opts.ClaimMinIdle),
		)
	}
}

// consumeOnce reads one batch and processes it. A non-nil error means the
// loop should back off: the read failed or some entry hit a transient error.
func (c *StreamConsumer) consumeOnce(ctx context.Context) (int, error) {
	var (
		messages []rediscommon.StreamMessage
		err      error
	)
	if c.retryPending {
		messages, err = rediscommon.ReadPending(ctx, c.redisClient, c.opts.Stream, c.opts.Group, c.opts.Consumer, c.opts.BatchSize)
		if err == nil && len(messages) == 0 {
			c.retryPending = false
		}
	}
	if err == nil && !c.retryPending {
		messages, err = rediscommon.ReadFromStream(ctx, c.redisClient, c.opts.Stream, c.opts.Group, c.opts.Consumer, c.opts.BatchSize, c.opts.Block)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read from stream %s: %w", c.opts.Stream, err)
	}

	var (
		acks      []string
		transient error
	)
	for _, msg := range messages {
		ack, err := c.processMessage(ctx, msg)
		if ack {
			acks = append(acks, msg.ID)
		}
		if err != nil && !ack {
			transient = err
		}
	}

	if err := rediscommon.Ack(ctx, c.redisClient, c.opts.Stream, c.opts.Group, acks...); err != nil {
		return len(messages), fmt.Errorf("failed to ack %d messages: %w", len(acks), err)
	}
	if transient != nil {
		c.retryPending = true
		return len(messages), transient
	}
	return len(messages), nil
}

// processMessage ingests one entry and reports whether it should be acked
func (c *StreamConsumer) processMessage(ctx context.Context, msg rediscommon.StreamMessage) (bool, error) {
	in, err := DecodeDetection(msg.Values)
	if err != nil {
		metrics.StreamMessages.WithLabelValues("malformed").Inc()
		c.logger.Warn("Dropping malformed stream message",
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		return true, err
	}

	res, err := c.ingester.Ingest(ctx, in)
	switch {
	case err == nil:
		outcome := "stored"
		if res.Duplicate {
			outcome = "duplicate"
		}
		metrics.StreamMessages.WithLabelValues(outcome).Inc()
		c.logger.Debug("Processed detection",
			zap.String("message_id", msg.ID),
			zap.String("device_id", res.Record.DeviceID),
			zap.Int64("record_id", res.Record.ID),
			zap.Bool("duplicate", res.Duplicate),
		)
		return true, nil
	case ingest.IsPermanent(err):
		metrics.StreamMessages.WithLabelValues("rejected").Inc()
		c.logger.Warn("Rejected detection",
			zap.String("message_id", msg.ID),
			zap.Any("device_id", in.DeviceID),
			zap.Error(err),
		)
		return true, err
	default:
		metrics.StreamMessages.WithLabelValues("retry").Inc()
		c.logger.Error("Failed to process detection, leaving pending",
			zap.String("message_id", msg.ID),
			zap.Any("device_id", in.DeviceID),
			zap.Error(err),
		)
		return false, err
	}
}

// DecodeDetection builds a DetectionInput from a gateway stream entry. The
// topic device id fills in a payload without deviceId.
func DecodeDetection(values map[string]interface{}) (models.DetectionInput, error) {
	var in models.DetectionInput
	raw, ok := values[FieldPayload].(string)
	if !ok {
		return in, fmt.Errorf("%w: missing %s field", models.ErrInvalidInput, FieldPayload)
	}
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		return in, fmt.Errorf("%w: failed to decode payload: %v", models.ErrInvalidInput, err)
	}
	if in.DeviceID == nil || in.DeviceID == "" {
		if id, ok := values[FieldDeviceID].(string); ok && id != "" {
			in.DeviceID = id
		}
	}
	return in, nil
}

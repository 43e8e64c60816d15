package stream

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RecordHandler processes one raw inbound record. A non-nil error drops the
// record; it never stops the consumer.
type RecordHandler func(ctx context.Context, data []byte) error

// Consumer reads order intents from a Redis Stream with a consumer group,
// acknowledging records after handling for at-least-once delivery.
type Consumer struct {
	client    *redis.Client
	streamKey string
	group     string
	name      string
	handler   RecordHandler
	log       *zap.SugaredLogger
}

func NewConsumer(client *redis.Client, streamKey, group, name string, handler RecordHandler, log *zap.SugaredLogger) (*Consumer, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := client.XGroupCreateMkStream(ctx, streamKey, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}

	return &Consumer{
		client:    client,
		streamKey: streamKey,
		group:     group,
		name:      name,
		handler:   handler,
		log:       log.With("component", "consumer", "stream", streamKey),
	}, nil
}

// Run blocks consuming records until the context is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info("consumer_started")

	for {
		select {
		case <-ctx.Done():
			c.log.Info("consumer_stopped")
			return ctx.Err()
		default:
		}

		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.name,
			Streams:  []string{c.streamKey, ">"},
			Count:    64,
			Block:    2 * time.Second,
		}).Result()

		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			c.log.Errorw("xreadgroup_failed", "err", err)
			time.Sleep(1 * time.Second)
			continue
		}

		for _, s := range streams {
			for _, msg := range s.Messages {
				c.handle(ctx, msg)
			}
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg redis.XMessage) {
	data, ok := msg.Values["data"].(string)
	if !ok {
		c.log.Warnw("record_missing_data", "id", msg.ID)
	} else if err := c.handler(ctx, []byte(data)); err != nil {
		// the record is dropped; parse and policy failures must not stop
		// the consumer
		c.log.Warnw("record_dropped", "id", msg.ID, "err", err)
	}

	if err := c.client.XAck(ctx, c.streamKey, c.group, msg.ID).Err(); err != nil {
		c.log.Warnw("xack_failed", "id", msg.ID, "err", err)
	}
}

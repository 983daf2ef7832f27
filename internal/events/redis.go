package events

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const publishTimeout = 2 * time.Second

type redisPublisher struct {
	client  *redis.Client
	channel string
	log     *zap.Logger
}

// NewRedisPublisher publishes status events as JSON on a redis pub/sub
// channel. Falls back to the noop publisher when redis is not configured.
func NewRedisPublisher(client *redis.Client, channel string, log *zap.Logger) Publisher {
	if client == nil || channel == "" {
		return NewNoopPublisher()
	}
	return &redisPublisher{client: client, channel: channel, log: log}
}

func (p *redisPublisher) Publish(ctx context.Context, event StatusEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.log.Error("marshal status event", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		p.log.Warn("publish status event",
			zap.String("entity_type", event.EntityType),
			zap.Int64("entity_id", event.EntityID),
			zap.Error(err),
		)
	}
}

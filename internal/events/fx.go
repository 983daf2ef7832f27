package events

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/wandercart/wandercart/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("events",
	fx.Provide(func(cfg config.Config, client *redis.Client, log *zap.Logger) Publisher {
		return NewRedisPublisher(client, cfg.StatusEventChannel, log)
	}),
)

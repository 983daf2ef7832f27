package ratelimit

import (
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/wandercart/wandercart/internal/config"
	"go.uber.org/fx"
)

// NewRedisClient builds the shared redis connection. Returns nil when no
// address is configured; consumers treat a nil client as "disabled".
func NewRedisClient(cfg config.Config) *redis.Client {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
		DB:       cfg.RedisDB,
	})
}

var Module = fx.Module("rate.limit",
	fx.Provide(
		NewRedisClient,
		NewWebhookLimiter,
	),
)

package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/wandercart/wandercart/internal/config"
)

const (
	keyWebhookSource = "webhook:source:%s"
	keyWebhookEvent  = "webhook:event:%s:%s"

	eventLockTTL = 30 * time.Second
)

// WebhookLimiter throttles inbound provider webhook deliveries and
// serializes processing of a single event across replicas.
type WebhookLimiter struct {
	enabled bool

	bucket *TokenBucket
	locker *Locker

	rate  float64
	burst int
}

func NewWebhookLimiter(cfg config.Config, client *redis.Client) *WebhookLimiter {
	if !cfg.RateLimitEnabled || client == nil {
		return &WebhookLimiter{}
	}
	return &WebhookLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		locker:  NewLocker(client),
		rate:    cfg.WebhookRate,
		burst:   cfg.WebhookBurst,
	}
}

func (l *WebhookLimiter) Enabled() bool {
	return l != nil && l.enabled
}

// AllowSource rate-limits deliveries per remote source address.
func (l *WebhookLimiter) AllowSource(ctx context.Context, source string) (Result, error) {
	if !l.Enabled() {
		return Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyWebhookSource, strings.TrimSpace(source)), l.rate, l.burst)
}

// TryLockEvent takes a short lease on a provider event so only one replica
// processes it at a time.
func (l *WebhookLimiter) TryLockEvent(ctx context.Context, provider, eventID string) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	key := fmt.Sprintf(keyWebhookEvent, strings.TrimSpace(provider), strings.TrimSpace(eventID))
	return l.locker.TryLock(ctx, key, eventLockTTL)
}

func (l *WebhookLimiter) ReleaseEvent(ctx context.Context, provider, eventID, token string) error {
	if !l.Enabled() {
		return nil
	}
	key := fmt.Sprintf(keyWebhookEvent, strings.TrimSpace(provider), strings.TrimSpace(eventID))
	return l.locker.Release(ctx, key, token)
}

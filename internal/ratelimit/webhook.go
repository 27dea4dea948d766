package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/attribution/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const keyWebhookClient = "attribution:webhook:client:%s"

// WebhookLimiter throttles inbound webhook deliveries per client IP.
type WebhookLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

// NewWebhookLimiter returns nil when rate limiting is disabled.
func NewWebhookLimiter(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*WebhookLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.WebhookRate <= 0 || limitCfg.WebhookBurst <= 0 {
		return nil, errors.New("webhook rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})

	if lc != nil {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				if err := client.Ping(ctx).Err(); err != nil && log != nil {
					log.Warn("rate limit redis unreachable, webhooks will not be throttled", zap.Error(err))
				}
				return nil
			},
			OnStop: func(context.Context) error {
				return client.Close()
			},
		})
	}

	return newWebhookLimiter(NewTokenBucket(client), limitCfg.WebhookRate, limitCfg.WebhookBurst), nil
}

func newWebhookLimiter(bucket *TokenBucket, rate float64, burst int) *WebhookLimiter {
	return &WebhookLimiter{bucket: bucket, rate: rate, burst: burst}
}

func (l *WebhookLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// Allow takes one token from the client's bucket.
func (l *WebhookLimiter) Allow(ctx context.Context, clientIP string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	clientIP = strings.TrimSpace(clientIP)
	if clientIP == "" {
		clientIP = "unknown"
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyWebhookClient, clientIP), l.rate, l.burst)
}

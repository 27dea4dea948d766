package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/attribution/internal/config"
)

func TestNewTokenBucketWithoutClient(t *testing.T) {
	if NewTokenBucket(nil) != nil {
		t.Fatalf("expected nil bucket without a redis client")
	}

	var bucket *TokenBucket
	res, err := bucket.Allow(context.Background(), "k", 1, 1)
	if err == nil {
		t.Fatalf("expected error from unconfigured bucket")
	}
	if res.Allowed {
		t.Fatalf("expected unconfigured bucket to deny")
	}
}

func TestDefaultBucketTTL(t *testing.T) {
	cases := []struct {
		rate  float64
		burst int
		want  time.Duration
	}{
		{rate: 5, burst: 20, want: 8 * time.Second},
		{rate: 100, burst: 1, want: time.Second},
		{rate: 0, burst: 10, want: time.Second},
	}
	for _, tc := range cases {
		if got := defaultBucketTTL(tc.rate, tc.burst); got != tc.want {
			t.Fatalf("rate %v burst %d: expected %v, got %v", tc.rate, tc.burst, tc.want, got)
		}
	}
}

func TestBuildResultDenied(t *testing.T) {
	res := buildResult([]interface{}{int64(0), int64(0), int64(1704067200000)}, 2, 20)
	if res.Allowed {
		t.Fatalf("expected denial")
	}
	if res.RetryAfter != 500*time.Millisecond {
		t.Fatalf("expected retry after 500ms, got %v", res.RetryAfter)
	}
	if res.Limit != 20 {
		t.Fatalf("expected limit 20, got %d", res.Limit)
	}
}

func TestBuildResultAllowed(t *testing.T) {
	res := buildResult([]interface{}{int64(1), "7", int64(1704067200000)}, 5, 20)
	if !res.Allowed {
		t.Fatalf("expected allow")
	}
	if res.Remaining != 7 {
		t.Fatalf("expected 7 remaining, got %d", res.Remaining)
	}
	if res.RetryAfter != 0 {
		t.Fatalf("expected no retry after, got %v", res.RetryAfter)
	}
}

func TestNewWebhookLimiterDisabled(t *testing.T) {
	limiter, err := NewWebhookLimiter(nil, config.Config{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if limiter.Enabled() {
		t.Fatalf("expected disabled limiter")
	}
	res, err := limiter.Allow(context.Background(), "10.0.0.1")
	if err != nil || !res.Allowed {
		t.Fatalf("expected disabled limiter to allow, got %v %v", res, err)
	}
}

func TestNewWebhookLimiterValidatesConfig(t *testing.T) {
	_, err := NewWebhookLimiter(nil, config.Config{RateLimit: config.RateLimitConfig{Enabled: true}}, nil)
	if err == nil {
		t.Fatalf("expected missing redis addr to fail")
	}

	_, err = NewWebhookLimiter(nil, config.Config{RateLimit: config.RateLimitConfig{
		Enabled:   true,
		RedisAddr: "localhost:6379",
	}}, nil)
	if err == nil {
		t.Fatalf("expected non-positive rate to fail")
	}
}

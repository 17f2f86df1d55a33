package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// SiteLocker guards against concurrent triggers crawling the same catalog.
// Acquire reports whether the caller holds the site for this pass; the
// release func is a no-op when acquisition failed.
type SiteLocker interface {
	Acquire(ctx context.Context, siteID string) (bool, func())
}

// NoopLocker always grants the lock. Used when no Redis is configured, in
// which case overlapping triggers race with last-write-wins semantics.
type NoopLocker struct{}

func (NoopLocker) Acquire(context.Context, string) (bool, func()) {
	return true, func() {}
}

// RedisLocker takes a best-effort lease per site via SETNX. A lost Redis
// connection degrades to granting the lock rather than blocking crawls.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisLocker{client: client, ttl: ttl}
}

func (l *RedisLocker) Acquire(ctx context.Context, siteID string) (bool, func()) {
	key := fmt.Sprintf("pricewatch:crawl-lock:%s", siteID)

	ok, err := l.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), l.ttl).Result()
	if err != nil {
		slog.Warn("Site lock unavailable, proceeding without it", "site", siteID, "error", err)
		return true, func() {}
	}
	if !ok {
		return false, func() {}
	}
	return true, func() {
		if err := l.client.Del(context.Background(), key).Err(); err != nil {
			slog.Warn("Failed to release site lock, lease will expire", "site", siteID, "error", err)
		}
	}
}

// Package ratelimit provides a fixed-window rate limiter backed by Redis so
// the limit holds across multiple server instances, unlike a process-local
// map.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter counts hits per identifier in fixed time windows. Keys expire
// with the window, so there is no cleanup job to run.
type Limiter struct {
	rdb    *redis.Client
	prefix string
	limit  int64
	window time.Duration
}

func NewLimiter(rdb *redis.Client, prefix string, limit int, window time.Duration) *Limiter {
	return &Limiter{rdb: rdb, prefix: prefix, limit: int64(limit), window: window}
}

// Allow reports whether the identifier is under its limit for the current
// window. Redis failures fail open: tracking traffic is best-effort and a
// cache outage must not take the storefront down with it.
func (l *Limiter) Allow(ctx context.Context, identifier string) bool {
	if l == nil || l.rdb == nil {
		return true
	}

	bucket := time.Now().Unix() / int64(l.window.Seconds())
	key := fmt.Sprintf("%s:%s:%d", l.prefix, identifier, bucket)

	pipe := l.rdb.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Error("Rate limiter unavailable, failing open", "err", err)
		return true
	}
	return incr.Val() <= l.limit
}

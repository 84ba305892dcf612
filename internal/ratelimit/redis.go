/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Limiter is the admission interface shared by the in-memory window and
// the Redis-backed variant.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, time.Duration)
}

// MemoryLimiter adapts Window to the Limiter interface.
type MemoryLimiter struct {
	w *Window
}

// NewMemoryLimiter wraps a sliding window.
func NewMemoryLimiter(max int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{w: NewWindow(max, window)}
}

// Allow admits or rejects one event; on rejection the second return value
// is the reset-time hint.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, time.Duration) {
	if m.w.Allow(key) {
		return true, 0
	}
	return false, m.w.RetryAfter(key)
}

// RedisLimiter keeps per-caller windows in a Redis sorted set so multiple
// gateway instances share quota. When Redis is unavailable it degrades to
// the in-memory window rather than failing requests.
type RedisLimiter struct {
	client   *redis.Client
	max      int
	window   time.Duration
	fallback *MemoryLimiter
	logger   zerolog.Logger
}

// NewRedisLimiter connects to Redis; an unreachable server is logged and
// the limiter runs purely on the in-memory fallback.
func NewRedisLimiter(addr, password string, db, max int, window time.Duration, logger zerolog.Logger) *RedisLimiter {
	l := &RedisLimiter{
		max:      max,
		window:   window,
		fallback: NewMemoryLimiter(max, window),
		logger:   logger.With().Str("component", "ratelimit").Logger(),
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		l.logger.Warn().Err(err).Msg("Redis unavailable, rate limiting falls back to in-memory windows")
		return l
	}

	l.client = client
	l.logger.Info().Str("addr", addr).Msg("Redis rate limiter initialized")
	return l
}

// Allow prunes expired members, counts the window, and admits or rejects.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration) {
	if l.client == nil {
		return l.fallback.Allow(ctx, key)
	}

	now := time.Now()
	cutoff := now.Add(-l.window)
	redisKey := "veriscan:ratelimit:" + key

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", fmt.Sprintf("%d", cutoff.UnixMilli()))
	countCmd := pipe.ZCard(ctx, redisKey)
	oldestCmd := pipe.ZRangeWithScores(ctx, redisKey, 0, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		l.logger.Warn().Err(err).Msg("Redis rate check failed, using in-memory fallback")
		return l.fallback.Allow(ctx, key)
	}

	if countCmd.Val() >= int64(l.max) {
		retryAfter := l.window
		if oldest := oldestCmd.Val(); len(oldest) > 0 {
			oldestAt := time.UnixMilli(int64(oldest[0].Score))
			retryAfter = oldestAt.Add(l.window).Sub(now)
		}
		return false, retryAfter
	}

	member := redis.Z{Score: float64(now.UnixMilli()), Member: uuid.NewString()}
	if err := l.client.ZAdd(ctx, redisKey, member).Err(); err != nil {
		l.logger.Warn().Err(err).Msg("Redis rate record failed")
	}
	l.client.Expire(ctx, redisKey, l.window+time.Minute)
	return true, 0
}

// Close releases the Redis connection.
func (l *RedisLimiter) Close() error {
	if l.client == nil {
		return nil
	}
	return l.client.Close()
}

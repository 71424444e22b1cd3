// Copyright 2025 Relay Labs, Inc.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"relay/sdk/logging"
)

// DefaultWindow is the sliding window length when none is configured.
const DefaultWindow = time.Minute

const defaultKeyPrefix = "relay:ratelimit"

// RedisConfig configures a RedisLimiter.
type RedisConfig struct {
	// URL is a redis:// connection string. Ignored when Client is set.
	URL string
	// Client is a pre-built client, used directly when non-nil.
	Client *redis.Client
	// Limit is the number of requests admitted per Window per key.
	Limit int
	// Window defaults to DefaultWindow.
	Window time.Duration
	// KeyPrefix namespaces the sorted sets. Defaults to "relay:ratelimit".
	KeyPrefix string
	// Logger receives fail-open warnings. Defaults to logging.Nop().
	Logger logging.Logger
}

// RedisLimiter enforces a sliding-window limit shared by every process
// pointing at the same Redis. Each request is a timestamped member of a
// per-key sorted set; members older than the window are trimmed before
// counting.
//
// Redis unavailability fails open: the request is admitted and a warning is
// logged. A client-side limiter must never turn a Redis outage into a full
// outage.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
	logger logging.Logger
}

// NewRedisLimiter builds a limiter from cfg. When constructing its own
// client from URL it verifies connectivity with a ping so misconfiguration
// surfaces at startup, not on the request path.
func NewRedisLimiter(cfg RedisConfig) (*RedisLimiter, error) {
	if cfg.Limit <= 0 {
		return nil, fmt.Errorf("ratelimit: limit must be positive, got %d", cfg.Limit)
	}
	window := cfg.Window
	if window <= 0 {
		window = DefaultWindow
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	client := cfg.Client
	if client == nil {
		if cfg.URL == "" {
			return nil, fmt.Errorf("ratelimit: either URL or Client is required")
		}
		opts, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("ratelimit: parsing redis url: %w", err)
		}
		client = redis.NewClient(opts)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("ratelimit: connecting to redis: %w", err)
		}
	}

	return &RedisLimiter{
		client: client,
		limit:  cfg.Limit,
		window: window,
		prefix: prefix,
		logger: logger,
	}, nil
}

func (l *RedisLimiter) key(key string) string {
	return l.prefix + ":" + key
}

// Allow records one request for key and reports whether it fits the
// window. Denied requests still count toward the window, so a client
// hammering past the limit keeps itself locked out.
func (l *RedisLimiter) Allow(ctx context.Context, key string) bool {
	now := time.Now()
	rkey := l.key(key)

	pipe := l.client.Pipeline()
	minScore := now.Add(-l.window).UnixMilli()
	pipe.ZRemRangeByScore(ctx, rkey, "0", fmt.Sprintf("%d", minScore))
	pipe.ZAdd(ctx, rkey, &redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})
	card := pipe.ZCard(ctx, rkey)
	pipe.Expire(ctx, rkey, l.window*2)

	if _, err := pipe.Exec(ctx); err != nil {
		l.logger.Log(logging.LevelWarn, "redis rate limit check failed, failing open", map[string]any{
			"key":   key,
			"error": err.Error(),
		})
		return true
	}

	return card.Val() <= int64(l.limit)
}

// Status returns the current request count for key and when the oldest
// entry leaves the window.
func (l *RedisLimiter) Status(ctx context.Context, key string) (int, time.Time, error) {
	now := time.Now()
	rkey := l.key(key)
	minScore := now.Add(-l.window).UnixMilli()

	count, err := l.client.ZCount(ctx, rkey, fmt.Sprintf("%d", minScore), "+inf").Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("ratelimit: reading status: %w", err)
	}

	oldest, err := l.client.ZRangeWithScores(ctx, rkey, 0, 0).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("ratelimit: reading status: %w", err)
	}
	reset := now
	if len(oldest) > 0 {
		reset = time.UnixMilli(int64(oldest[0].Score)).Add(l.window)
	}
	return int(count), reset, nil
}

// Flush drops all recorded requests for key.
func (l *RedisLimiter) Flush(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, l.key(key)).Err(); err != nil {
		return fmt.Errorf("ratelimit: flushing %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying client.
func (l *RedisLimiter) Close() error {
	return l.client.Close()
}

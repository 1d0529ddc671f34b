package mcp

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Default per-tool rate limits.
const (
	DefaultLimitPerMinute = 60
	DefaultLimitPerHour   = 600
)

// windowBackend stores per-key request timestamps for sliding-window checks.
type windowBackend interface {
	// observe prunes entries older than window, returns the in-window count
	// and the oldest in-window timestamp, and records now when admit is
	// called afterwards. Implementations must be safe for concurrent use.
	observe(ctx context.Context, key string, window time.Duration, now time.Time) (count int, oldest time.Time, err error)
	record(ctx context.Context, key string, now time.Time, ttl time.Duration) error
}

// RateLimiter admits a request iff both the per-minute and per-hour window
// counts are under their limits. Rejections report retry_after_ms derived
// from the oldest in-window entry.
type RateLimiter struct {
	perMinute int
	perHour   int
	backend   windowBackend
}

// NewRateLimiter uses Redis when a client is available, otherwise the
// process-local fallback.
func NewRateLimiter(perMinute, perHour int, client *redis.Client) *RateLimiter {
	if perMinute <= 0 {
		perMinute = DefaultLimitPerMinute
	}
	if perHour <= 0 {
		perHour = DefaultLimitPerHour
	}
	var backend windowBackend
	if client != nil {
		backend = &redisWindow{client: client}
	} else {
		backend = newMemoryWindow()
	}
	return &RateLimiter{perMinute: perMinute, perHour: perHour, backend: backend}
}

// Allow checks both windows for the caller/tool pair and records the request
// when admitted.
func (rl *RateLimiter) Allow(ctx context.Context, userID, toolName string) *ToolError {
	return rl.AllowWithLimit(ctx, userID, toolName, 0)
}

// AllowWithLimit is Allow with a per-tool per-minute override; zero keeps the
// limiter-wide minute limit.
func (rl *RateLimiter) AllowWithLimit(ctx context.Context, userID, toolName string, perMinute int) *ToolError {
	if perMinute <= 0 {
		perMinute = rl.perMinute
	}
	now := time.Now()

	// Each window lives under its own key.
	checks := []struct {
		name   string
		window time.Duration
		limit  int
	}{
		{"minute", time.Minute, perMinute},
		{"hour", time.Hour, rl.perHour},
	}

	for _, c := range checks {
		key := fmt.Sprintf("mcp:ratelimit:%s:%s:%s", c.name, userID, toolName)
		count, oldest, err := rl.backend.observe(ctx, key, c.window, now)
		if err != nil {
			return newToolError(CodeExecutionError, "rate limiter unavailable")
		}
		if count >= c.limit {
			retryAfter := oldest.Add(c.window).Sub(now)
			if retryAfter < 0 {
				retryAfter = 0
			}
			return newToolError(CodeRateLimit,
				fmt.Sprintf("rate limit of %d per %s exceeded for %s", c.limit, c.name, toolName)).
				withDetail("retry_after_ms", retryAfter.Milliseconds())
		}
	}

	for _, c := range checks {
		key := fmt.Sprintf("mcp:ratelimit:%s:%s:%s", c.name, userID, toolName)
		if err := rl.backend.record(ctx, key, now, c.window); err != nil {
			return newToolError(CodeExecutionError, "rate limiter unavailable")
		}
	}
	return nil
}

// memoryWindow is the single-replica fallback. Counts drift across replicas;
// multi-pod deployments need Redis.
type memoryWindow struct {
	mu      sync.Mutex
	entries map[string][]time.Time
}

func newMemoryWindow() *memoryWindow {
	return &memoryWindow{entries: make(map[string][]time.Time)}
}

func (m *memoryWindow) observe(_ context.Context, key string, window time.Duration, now time.Time) (int, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := now.Add(-window)
	kept := m.entries[key][:0]
	var oldest time.Time
	for _, ts := range m.entries[key] {
		if ts.After(cutoff) {
			if len(kept) == 0 || ts.Before(oldest) {
				oldest = ts
			}
			kept = append(kept, ts)
		}
	}
	m.entries[key] = kept
	return len(kept), oldest, nil
}

func (m *memoryWindow) record(_ context.Context, key string, now time.Time, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = append(m.entries[key], now)
	return nil
}

// redisWindow keeps timestamps in a sorted set scored by unix nanos.
type redisWindow struct {
	client *redis.Client
}

func (r *redisWindow) observe(ctx context.Context, key string, window time.Duration, now time.Time) (int, time.Time, error) {
	cutoff := now.Add(-window).UnixNano()

	if err := r.client.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(cutoff, 10)).Err(); err != nil {
		return 0, time.Time{}, err
	}

	count, err := r.client.ZCount(ctx, key, strconv.FormatInt(cutoff, 10), "+inf").Result()
	if err != nil {
		return 0, time.Time{}, err
	}

	var oldest time.Time
	if count > 0 {
		members, err := r.client.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
			Min: strconv.FormatInt(cutoff, 10), Max: "+inf", Count: 1,
		}).Result()
		if err != nil {
			return 0, time.Time{}, err
		}
		if len(members) > 0 {
			oldest = time.Unix(0, int64(members[0].Score))
		}
	}
	return int(count), oldest, nil
}

func (r *redisWindow) record(ctx context.Context, key string, now time.Time, ttl time.Duration) error {
	pipe := r.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: uuid.New().String()})
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

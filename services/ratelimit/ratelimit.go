// Package ratelimit throttles unauthenticated entry points (login, password reset, resend).
package ratelimit

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/masomo-identity/core"
)

// Limiter reports whether one more hit on key fits in the current window.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// fixed window counter shared by every API instance
type redisLimiter struct {
	client   *redis.Client
	requests int64
	window   time.Duration
}

var _ Limiter = (*redisLimiter)(nil)

func NewRedisLimiter(client *redis.Client, requests int, window time.Duration) Limiter {
	return &redisLimiter{client: client, requests: int64(requests), window: window}
}

func (l *redisLimiter) key(key string) string {
	bucket := core.Now().UnixNano() / int64(l.window)
	return "ratelimit:" + key + ":" + strconv.FormatInt(bucket, 10)
}

func (l *redisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	k := l.key(key)
	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		pipe.Expire(ctx, k, l.window)
		return nil
	})
	if err != nil {
		return false, errors.Wrap(err, "ratelimit.redis")
	}
	return incr.Val() <= l.requests, nil
}

type memWindow struct {
	start time.Time
	count int
}

// in-process fallback for single instance deployments and tests
type memoryLimiter struct {
	mu       sync.Mutex
	windows  map[string]*memWindow
	requests int
	window   time.Duration
}

var _ Limiter = (*memoryLimiter)(nil)

func NewMemoryLimiter(requests int, window time.Duration) Limiter {
	return &memoryLimiter{windows: make(map[string]*memWindow), requests: requests, window: window}
}

func (l *memoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := core.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.window {
		l.sweep(now)
		w = &memWindow{start: now}
		l.windows[key] = w
	}
	w.count++
	return w.count <= l.requests, nil
}

// sweep drops lapsed windows; must be called with the lock held.
func (l *memoryLimiter) sweep(now time.Time) {
	for k, w := range l.windows {
		if now.Sub(w.start) >= l.window {
			delete(l.windows, k)
		}
	}
}

// New picks the redis limiter when a redis URL is configured.
// The returned cleanup closes the redis client, if any.
func New(conf *core.Config) (Limiter, func() error, error) {
	if conf.RedisURL == "" {
		return NewMemoryLimiter(conf.RateLimit.Requests, conf.RateLimit.Window), func() error { return nil }, nil
	}
	opts, err := redis.ParseURL(conf.RedisURL)
	if err != nil {
		return nil, nil, errors.Wrap(err, "parsing redis url")
	}
	client := redis.NewClient(opts)
	return NewRedisLimiter(client, conf.RateLimit.Requests, conf.RateLimit.Window), client.Close, nil
}

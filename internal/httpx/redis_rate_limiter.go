package httpx

import (
	"context"
	"time"

	"log/slog"

	redis "github.com/redis/go-redis/v9"
)

const (
	// limiterKeyPrefix namespaces counters so a shared Redis can also
	// serve other deployments without key collisions.
	limiterKeyPrefix = "justgpt:ratelimit:"

	// limiterOpTimeout bounds a single Allow round trip. Past it the
	// limiter fails open rather than stalling the request.
	limiterOpTimeout = 250 * time.Millisecond

	limiterDialTimeout = 2 * time.Second
)

type redisRateLimiter struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisRateLimiter connects to Redis and returns a limiter whose
// counters are shared across control-plane replicas.
func NewRedisRateLimiter(addr, password string, db int, logger *slog.Logger) (RateLimiter, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), limiterDialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &redisRateLimiter{client: client, logger: logger}, nil
}

// Allow increments the window counter and reads its remaining TTL in one
// pipelined round trip. Redis errors fail open so a limiter outage never
// takes API traffic down with it.
func (rl *redisRateLimiter) Allow(key string, limit int, window time.Duration) rateDecision {
	if limit <= 0 {
		return rateDecision{allowed: true}
	}
	if window <= 0 {
		window = time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), limiterOpTimeout)
	defer cancel()

	counterKey := limiterKeyPrefix + key
	pipe := rl.client.TxPipeline()
	incr := pipe.Incr(ctx, counterKey)
	pipe.ExpireNX(ctx, counterKey, window)
	ttlCmd := pipe.TTL(ctx, counterKey)
	if _, err := pipe.Exec(ctx); err != nil {
		rl.reportError(err)
		return rateDecision{allowed: true}
	}

	count := int(incr.Val())
	ttl := ttlCmd.Val()
	if ttl <= 0 {
		ttl = window
	}
	return rateDecision{
		allowed:   count <= limit,
		count:     count,
		windowEnd: time.Now().Add(ttl),
	}
}

func (rl *redisRateLimiter) Close() {
	if rl.client != nil {
		_ = rl.client.Close()
	}
}

func (rl *redisRateLimiter) reportError(err error) {
	if rl.logger == nil {
		return
	}
	rl.logger.Error("redis rate limiter error", "error", err)
}

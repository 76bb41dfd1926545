package ratelimit

import (
	"context"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "ratelimit:"

// RedisLimiter is the shared backend: one atomic counter per key with
// the window expiry set on the first increment.
type RedisLimiter struct {
	client redis.Cmdable
	cfg    Config
}

func NewRedisLimiter(client redis.Cmdable, cfg Config) *RedisLimiter {
	return &RedisLimiter{client: client, cfg: cfg}
}

func (l *RedisLimiter) Check(ctx context.Context, key string) (bool, error) {
	k := redisKeyPrefix + key
	n, err := l.client.Incr(ctx, k).Result()
	if err != nil {
		return false, err
	}
	if n == 1 {
		if err := l.client.Expire(ctx, k, l.cfg.Window).Err(); err != nil {
			return false, err
		}
	}
	return n <= l.cfg.Max, nil
}

func (l *RedisLimiter) Clear(ctx context.Context, key string) error {
	return l.client.Del(ctx, redisKeyPrefix+key).Err()
}

package throttle

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "pigeonfarm:throttle:"

// RedisLimiter: фиксированное окно на INCR/EXPIRE, общее для всех реплик.
type RedisLimiter struct {
	client *redis.Client
	policy Policy
}

func NewRedisLimiter(client *redis.Client, policy Policy) *RedisLimiter {
	return &RedisLimiter{client: client, policy: policy}
}

// NewRedisClient разбирает redis:// или rediss:// URL и проверяет соединение.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// Allow: INCR и PTTL идут одной транзакцией. Ключ без TTL получает окно на любом вызове,
// так что сбой EXPIRE не оставляет счётчик навсегда.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if !l.policy.enabled() {
		return true, nil
	}
	k := redisKeyPrefix + key

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pttl := pipe.PTTL(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("throttle incr: %w", err)
	}
	if pttl.Val() < 0 {
		if err := l.client.Expire(ctx, k, l.policy.Window).Err(); err != nil {
			return false, fmt.Errorf("throttle expire: %w", err)
		}
	}
	return incr.Val() <= int64(l.policy.Limit), nil
}

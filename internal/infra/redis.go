package infra

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/fundstack/fundstack/internal/retry"
)

// NewRedisClient connects the client used for wallet locks, idempotency and
// rate limits. The first ping is retried under policy.
func NewRedisClient(ctx context.Context, url string, policy retry.Policy) (*redis.Client, error) {
	if url == "" {
		return nil, fmt.Errorf("redis url is required")
	}

	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opt)
	if _, err := retry.Do(ctx, policy, retryAll, func(ctx context.Context) (string, error) {
		return client.Ping(ctx).Result()
	}); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}

package infra

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fundstack/fundstack/internal/retry"
)

const postgresAppName = "fundstack"

// retryAll treats every startup connection error as transient.
func retryAll(error) bool { return true }

// NewPostgresPool opens the pool behind the postgres document store. The
// first ping is retried under policy so the API can start alongside its
// database.
func NewPostgresPool(ctx context.Context, url string, policy retry.Policy) (*pgxpool.Pool, error) {
	if url == "" {
		return nil, fmt.Errorf("database url is required")
	}

	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if _, ok := cfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		cfg.ConnConfig.RuntimeParams["application_name"] = postgresAppName
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if _, err := retry.Do(ctx, policy, retryAll, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, pool.Ping(ctx)
	}); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return pool, nil
}

package infra

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fundstack/fundstack/internal/config"
	"github.com/fundstack/fundstack/internal/docstore"
	"github.com/fundstack/fundstack/internal/ledger"
)

// walletLockTTL bounds how long a crashed holder can block a wallet.
const walletLockTTL = 30 * time.Second

// OpenStore connects the document store selected by STORE_BACKEND and wraps
// it with the configured read retry policy. The returned closer releases
// backend resources.
func OpenStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (docstore.Store, func(), error) {
	var (
		store  docstore.Store
		closer = func() {}
	)

	switch cfg.StoreBackend {
	case config.BackendMemory:
		store = docstore.NewMemory()
	case config.BackendPostgres:
		pool, err := NewPostgresPool(ctx, cfg.DatabaseURL, cfg.RetryPolicy())
		if err != nil {
			return nil, nil, err
		}
		pg := docstore.NewPostgresStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ensure postgres schema: %w", err)
		}
		store, closer = pg, pool.Close
	case config.BackendSQLite:
		lite, err := docstore.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		store = lite
		closer = func() {
			if err := lite.Close(); err != nil {
				logger.Warn("close sqlite", "error", err)
			}
		}
	case config.BackendREST:
		rest, err := docstore.NewRESTStore(cfg.RESTStoreURL, &http.Client{Timeout: cfg.StoreTimeout},
			docstore.WithCredential(cfg.RESTStoreAuth))
		if err != nil {
			return nil, nil, err
		}
		store = rest
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	logger.Info("document store ready", "backend", cfg.StoreBackend)
	return docstore.NewRetrying(store, cfg.RetryPolicy()), closer, nil
}

// NewWalletLocker serialises wallet writes across instances when Redis is
// available and within the process otherwise.
func NewWalletLocker(cache *redis.Client, logger *slog.Logger) ledger.Locker {
	if cache == nil {
		return ledger.NewMutexLocker()
	}
	return ledger.NewRedisLocker(cache, walletLockTTL, logger)
}

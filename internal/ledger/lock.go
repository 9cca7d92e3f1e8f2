package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker serialises read-modify-write cycles on one key.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

// MutexLocker is an in-process, context-aware lock per key. Slots are
// dropped once nobody holds or waits on them.
type MutexLocker struct {
	mu    sync.Mutex
	slots map[string]*lockSlot
}

// NewMutexLocker builds an empty in-process locker.
func NewMutexLocker() *MutexLocker {
	return &MutexLocker{slots: make(map[string]*lockSlot)}
}

func (l *MutexLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[key]
	if !ok {
		slot = &lockSlot{ch: make(chan struct{}, 1)}
		l.slots[key] = slot
	}
	slot.refs++
	l.mu.Unlock()

	select {
	case slot.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-slot.ch
				l.release(key, slot)
			})
		}, nil
	case <-ctx.Done():
		l.release(key, slot)
		return nil, ctx.Err()
	}
}

func (l *MutexLocker) release(key string, slot *lockSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, key)
	}
}

const (
	redisLockPrefix      = "ledger:lock:v1:"
	defaultRedisLockTTL  = 10 * time.Second
	defaultRedisLockPoll = 20 * time.Millisecond
)

var redisUnlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLocker holds per-key locks in Redis so several API instances share
// them. Each lock expires after ttl in case its holder dies.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	poll   time.Duration
	logger *slog.Logger
}

// NewRedisLocker builds a Redis-backed locker. ttl <= 0 uses a default and
// a nil logger uses slog.Default.
func NewRedisLocker(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = defaultRedisLockTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLocker{client: client, ttl: ttl, poll: defaultRedisLockPoll, logger: logger}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	cacheKey := redisLockPrefix + key
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, cacheKey, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: acquire lock %s: %w", ErrStoreUnavailable, key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.poll):
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			released, err := redisUnlockScript.Run(releaseCtx, l.client, []string{cacheKey}, token).Int()
			switch {
			case err != nil:
				l.logger.Warn("release wallet lock", slog.String("key", key), slog.Any("error", err))
			case released == 0:
				// Expired while held: another holder may have overlapped.
				l.logger.Warn("wallet lock expired before release", slog.String("key", key), slog.Duration("ttl", l.ttl))
			}
		})
	}, nil
}

package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/fundstack/fundstack/internal/apierror"
	"github.com/fundstack/fundstack/internal/auth"
)

const (
	idempotencyKeyHeader    = "Idempotency-Key"
	idempotencyReplayHeader = "Idempotent-Replayed"
	idempotencyPrefix       = "idempotency:v2:"
	maxIdempotencyKeyLen    = 255
	idempotencyStoreTimeout = 2 * time.Second
)

// storedResponse is the Redis record behind one Idempotency-Key. Pending is
// set while the first request is still running.
type storedResponse struct {
	Fingerprint string `json:"fingerprint"`
	Pending     bool   `json:"pending,omitempty"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        string `json:"body,omitempty"`
}

// Idempotency makes unsafe requests replay-safe. The first request with a
// given Idempotency-Key runs; later ones with the same key and payload get
// the stored response back, and ones with a different payload are rejected.
// Behind JWTAuth keys are scoped to the calling user.
//
// A failed request normally releases its key so the client can retry. A
// failure that already moved money (apierror.Committed) keeps the key and
// its response, so a retry cannot apply the same ledger write twice.
func Idempotency(cache *redis.Client, ttl time.Duration, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		switch c.Method() {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}

		key := strings.TrimSpace(c.Get(idempotencyKeyHeader))
		if key == "" {
			return fiber.NewError(fiber.StatusBadRequest, "missing Idempotency-Key header")
		}
		if len(key) > maxIdempotencyKeyLen {
			return fiber.NewError(fiber.StatusBadRequest, "Idempotency-Key header too long")
		}

		cacheKey := idempotencyPrefix + key
		if uid, _ := c.Locals(auth.LocalUserID).(string); uid != "" {
			cacheKey = idempotencyPrefix + uid + ":" + key
		}
		fp := requestFingerprint(c)
		log := logger.With(slog.String("idempotency_key", key))

		reservation, err := json.Marshal(storedResponse{Fingerprint: fp, Pending: true})
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "idempotency reservation failure")
		}
		ctx, cancel := context.WithTimeout(c.UserContext(), idempotencyStoreTimeout)
		reserved, err := cache.SetNX(ctx, cacheKey, reservation, ttl).Result()
		if err != nil {
			cancel()
			log.Error("idempotency reservation failed", slog.Any("error", err))
			return fiber.NewError(fiber.StatusServiceUnavailable, "idempotency store unavailable")
		}
		if !reserved {
			defer cancel()
			return replay(ctx, c, cache, cacheKey, fp, log)
		}
		cancel()

		if err := c.Next(); err != nil {
			if apierror.IsCommitted(err) {
				// Render now so the stored body matches what the client sees.
				if renderErr := c.App().ErrorHandler(c, err); renderErr != nil {
					log.Error("render committed failure", slog.Any("error", renderErr))
				}
				persist(c, cache, cacheKey, ttl, responseOf(c, fp), log)
				return err
			}
			release(c, cache, cacheKey, log)
			return err
		}

		persist(c, cache, cacheKey, ttl, responseOf(c, fp), log)
		return nil
	}
}

func responseOf(c *fiber.Ctx, fp string) storedResponse {
	return storedResponse{
		Fingerprint: fp,
		Status:      c.Response().StatusCode(),
		ContentType: string(c.Response().Header.ContentType()),
		Body:        string(c.Response().Body()),
	}
}

func replay(ctx context.Context, c *fiber.Ctx, cache *redis.Client, cacheKey, fp string, log *slog.Logger) error {
	raw, err := cache.Get(ctx, cacheKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return fiber.NewError(fiber.StatusConflict, "duplicate request, retry")
	}
	if err != nil {
		log.Error("idempotency lookup failed", slog.Any("error", err))
		return fiber.NewError(fiber.StatusServiceUnavailable, "idempotency store unavailable")
	}

	var stored storedResponse
	if err := json.Unmarshal(raw, &stored); err != nil {
		log.Warn("undecodable idempotent response", slog.Any("error", err))
		return fiber.NewError(fiber.StatusConflict, "duplicate request")
	}
	if stored.Fingerprint != fp {
		return fiber.NewError(fiber.StatusUnprocessableEntity, "Idempotency-Key reused with a different request")
	}
	if stored.Pending {
		return fiber.NewError(fiber.StatusConflict, "duplicate request currently processing")
	}

	c.Set(idempotencyReplayHeader, "true")
	if stored.ContentType != "" {
		c.Set(fiber.HeaderContentType, stored.ContentType)
	}
	return c.Status(stored.Status).SendString(stored.Body)
}

func persist(c *fiber.Ctx, cache *redis.Client, cacheKey string, ttl time.Duration, stored storedResponse, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.UserContext()), idempotencyStoreTimeout)
	defer cancel()

	payload, err := json.Marshal(stored)
	if err == nil {
		err = cache.Set(ctx, cacheKey, payload, ttl).Err()
	}
	if err != nil {
		// The pending marker would block retries until ttl; drop it instead.
		log.Error("persist idempotent response", slog.Any("error", err))
		cache.Del(ctx, cacheKey)
	}
}

func release(c *fiber.Ctx, cache *redis.Client, cacheKey string, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.UserContext()), idempotencyStoreTimeout)
	defer cancel()
	if err := cache.Del(ctx, cacheKey).Err(); err != nil {
		log.Warn("release idempotency key", slog.Any("error", err))
	}
}

// requestFingerprint hashes what makes two requests "the same" ledger write.
func requestFingerprint(c *fiber.Ctx) string {
	h := sha256.New()
	h.Write([]byte(c.Method()))
	h.Write([]byte{0})
	h.Write([]byte(c.OriginalURL()))
	h.Write([]byte{0})
	h.Write(c.Body())
	return hex.EncodeToString(h.Sum(nil))
}

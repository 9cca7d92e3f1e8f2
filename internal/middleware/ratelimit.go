package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/fundstack/fundstack/internal/auth"
)

// RateLimit is a fixed-window limiter. Requests are counted per subject in
// Redis under "rl:<name>:<subject>"; an empty subject skips the check.
type RateLimit struct {
	Name    string
	Limit   int
	Window  time.Duration
	Subject func(c *fiber.Ctx) string
	Message string
}

// Handler returns the middleware. Without Redis, or when Redis errors, it
// lets requests through.
func (r RateLimit) Handler(cache *redis.Client) fiber.Handler {
	if r.Limit <= 0 {
		r.Limit = 5
	}
	if r.Window <= 0 {
		r.Window = time.Minute
	}
	if r.Message == "" {
		r.Message = "too many requests, try again later"
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}
		subject := r.Subject(c)
		if subject == "" {
			return c.Next()
		}

		key := "rl:" + r.Name + ":" + subject
		count, err := cache.Incr(c.UserContext(), key).Result()
		if err != nil {
			return c.Next()
		}
		if count == 1 {
			cache.Expire(c.UserContext(), key, r.Window)
		}
		if count > int64(r.Limit) {
			if ttl, err := cache.TTL(c.UserContext(), key).Result(); err == nil && ttl > 0 {
				c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(ttl.Round(time.Second).Seconds())))
			}
			return fiber.NewError(http.StatusTooManyRequests, r.Message)
		}
		return c.Next()
	}
}

// LoginRateLimit limits login attempts per email, or per IP when the body
// carries none.
func LoginRateLimit(cache *redis.Client, maxPerMin int) fiber.Handler {
	return RateLimit{
		Name:    "login",
		Limit:   maxPerMin,
		Window:  time.Minute,
		Message: "too many login attempts, try again later",
		Subject: func(c *fiber.Ctx) string {
			var req struct {
				Email string `json:"email"`
			}
			_ = c.BodyParser(&req)
			if email := strings.ToLower(strings.TrimSpace(req.Email)); email != "" {
				return email
			}
			return c.IP()
		},
	}.Handler(cache)
}

// ReportRateLimit caps narrative report generation per user, since each
// report may call the language model.
func ReportRateLimit(cache *redis.Client, maxPerMin int) fiber.Handler {
	return RateLimit{
		Name:    "report",
		Limit:   maxPerMin,
		Window:  time.Minute,
		Message: "report limit reached, try again later",
		Subject: func(c *fiber.Ctx) string {
			uid, _ := c.Locals(auth.LocalUserID).(string)
			return uid
		},
	}.Handler(cache)
}

package middleware

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/fundstack/fundstack/internal/apierror"
	"github.com/fundstack/fundstack/internal/auth"
)

// Audit logs one line per request. Server errors log at error level, client
// errors at warn, and partially committed ledger writes are flagged so they
// can be found and reconciled.
func Audit(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		} else if err != nil {
			status = fiber.StatusInternalServerError
		}

		attrs := []any{
			slog.String("method", c.Method()),
			slog.String("route", c.Route().Path),
			slog.String("path", c.Path()),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
		}
		if reqID := RequestIDOf(c); reqID != "" {
			attrs = append(attrs, slog.String("request_id", reqID))
		}
		if uid, _ := c.Locals(auth.LocalUserID).(string); uid != "" {
			attrs = append(attrs, slog.String("user_id", uid))
		}
		if string(c.Response().Header.Peek(idempotencyReplayHeader)) == "true" {
			attrs = append(attrs, slog.Bool("replayed", true))
		}
		if err != nil {
			attrs = append(attrs, slog.Any("error", err))
		}

		switch {
		case apierror.IsCommitted(err):
			logger.Error("request partially committed", append(attrs, slog.Bool("reconcile", true))...)
		case status >= fiber.StatusInternalServerError:
			logger.Error("request failed", attrs...)
		case status >= fiber.StatusBadRequest:
			logger.Warn("request rejected", attrs...)
		default:
			logger.Info("request completed", attrs...)
		}
		return err
	}
}

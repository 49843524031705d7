package middleware

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Audit emits structured logs for each request/response lifecycle event.
func Audit(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if fe, ok := err.(*fiber.Error); ok {
			status = fe.Code
		}

		attrs := []any{
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
		}
		if requestID := RequestIDFrom(c); requestID != "" {
			attrs = append(attrs, slog.String("request_id", requestID))
		}
		if userID, _ := c.Locals(userIDLocal).(string); userID != "" {
			attrs = append(attrs, slog.String("user_id", userID))
		}
		if key := IdempotencyKeyFrom(c); key != "" {
			attrs = append(attrs, slog.String("idempotency_key", key))
		}

		switch {
		case err != nil && status >= fiber.StatusInternalServerError:
			logger.Error("request completed", append(attrs, slog.Any("error", err))...)
		case status >= fiber.StatusInternalServerError:
			logger.Error("request completed", attrs...)
		case err != nil:
			logger.Warn("request completed", append(attrs, slog.Any("error", err))...)
		default:
			logger.Info("request completed", attrs...)
		}
		return err
	}
}

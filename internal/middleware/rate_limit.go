package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// RateLimit caps requests per caller per minute using a Redis counter keyed
// by user id, or client IP for anonymous callers. It is a no-op without
// Redis and fails open on cache errors.
func RateLimit(cache *redis.Client, scope string, maxPerMin int, logger *slog.Logger) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 60
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}

		caller, _ := c.Locals(userIDLocal).(string)
		if caller == "" {
			caller = c.IP()
		}
		window := time.Now().UTC().Unix() / 60
		key := "rl:" + scope + ":" + caller + ":" + strconv.FormatInt(window, 10)

		cnt, err := cache.Incr(c.UserContext(), key).Result()
		if err != nil {
			logger.Warn("rate limit unavailable", slog.String("scope", scope), slog.Any("error", err))
			return c.Next()
		}
		if cnt == 1 {
			cache.Expire(c.UserContext(), key, time.Minute)
		}

		remaining := int64(maxPerMin) - cnt
		if remaining < 0 {
			remaining = 0
		}
		c.Set("X-RateLimit-Limit", strconv.Itoa(maxPerMin))
		c.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if cnt > int64(maxPerMin) {
			return c.Status(http.StatusTooManyRequests).JSON(fiber.Map{
				"reason":  "RATE_LIMITED",
				"message": "too many requests, try again later",
			})
		}
		return c.Next()
	}
}

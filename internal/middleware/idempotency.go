package middleware

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	idempotencyKeyLocal  = "idempotency_key"
	maxIdempotencyKeyLen = 255
)

// IdempotencyKey normalises the Idempotency-Key header on unsafe methods.
// Handlers read it with IdempotencyKeyFrom when the body carries no key;
// duplicate detection itself happens in the ledger.
func IdempotencyKey() fiber.Handler {
	return func(c *fiber.Ctx) error {
		switch strings.ToUpper(c.Method()) {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}

		// c.Get aliases fasthttp's pooled buffer; the key outlives the request.
		key := utils.CopyString(strings.TrimSpace(c.Get(idempotencyKeyHeader)))
		if key == "" {
			return c.Next()
		}
		if len(key) > maxIdempotencyKeyLen || strings.ContainsAny(key, "\r\n") {
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{
				"reason":  "INVALID_REQUEST",
				"message": "Idempotency-Key header is malformed",
			})
		}

		c.Locals(idempotencyKeyLocal, key)
		return c.Next()
	}
}

// IdempotencyKeyFrom returns the header key captured by IdempotencyKey.
func IdempotencyKeyFrom(c *fiber.Ctx) string {
	key, _ := c.Locals(idempotencyKeyLocal).(string)
	return key
}

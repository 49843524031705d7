package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/backend-ledger/backend_ledger/internal/middleware"
	"github.com/backend-ledger/backend_ledger/internal/transfer"
)

// RegisterTransactionRoutes wires transfer endpoints. limiter guards the
// posting endpoints and may be nil.
func RegisterTransactionRoutes(r fiber.Router, h *transfer.Handler, limiter fiber.Handler) {
	if limiter == nil {
		limiter = func(c *fiber.Ctx) error { return c.Next() }
	}
	r.Post("/transactions", limiter, h.Create)
	r.Post("/transactions/system/initial-funds", middleware.RequireSystemUser(), limiter, h.CreateSeed)
	r.Get("/transactions/by-key/:key", h.ByKey)
}

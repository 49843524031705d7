package account

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/backend-ledger/backend_ledger/internal/auth"
)

// Handler exposes account HTTP endpoints.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler builds an account HTTP handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Balance returns the derived balance of the account in the path.
func (h *Handler) Balance(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c.UserContext())
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}

	balance, err := h.service.Balance(c.UserContext(), principal, c.Params("accountId"))
	switch {
	case err == nil:
		return c.Status(http.StatusOK).JSON(balance)
	case errors.Is(err, ErrNotFound):
		return c.Status(http.StatusNotFound).JSON(fiber.Map{"reason": "ACCOUNT_NOT_FOUND", "message": "account not found"})
	case errors.Is(err, ErrForbidden):
		return c.Status(http.StatusForbidden).JSON(fiber.Map{"reason": "NOT_ACCOUNT_OWNER", "message": err.Error()})
	default:
		h.logger.Error("balance lookup failed", slog.String("account_id", c.Params("accountId")), slog.Any("error", err))
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"reason": "INTERNAL", "message": "internal error"})
	}
}

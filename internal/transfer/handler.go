package transfer

import (
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/backend-ledger/backend_ledger/internal/auth"
	"github.com/backend-ledger/backend_ledger/internal/middleware"
)

// Handler exposes transfer endpoints.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler constructs a transfer handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

type transferRequest struct {
	FromAccount    string          `json:"fromAccount"`
	ToAccount      string          `json:"toAccount"`
	Amount         decimal.Decimal `json:"amount"`
	IdempotencyKey string          `json:"idempotencyKey"`
}

type seedRequest struct {
	SystemAccount  string          `json:"systemAccount"`
	ToAccount      string          `json:"toAccount"`
	Amount         decimal.Decimal `json:"amount"`
	IdempotencyKey string          `json:"idempotencyKey"`
}

type errorResponse struct {
	Reason    string `json:"reason"`
	Message   string `json:"message"`
	Shortfall string `json:"shortfall,omitempty"`
}

// Create processes an account-to-account transfer.
func (h *Handler) Create(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c.UserContext())
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}

	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return h.writeError(c, invalid("request body must be a JSON object with fromAccount, toAccount, amount and idempotencyKey"))
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = middleware.IdempotencyKeyFrom(c)
	}

	res, err := h.service.CreateTransfer(c.UserContext(), principal, TransferInput{
		From:           req.FromAccount,
		To:             req.ToAccount,
		Amount:         req.Amount,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return h.writeError(c, err)
	}
	return c.Status(res.HTTPStatus()).JSON(res)
}

// CreateSeed injects funds from a system account. Only system users get here.
func (h *Handler) CreateSeed(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c.UserContext())
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}

	var req seedRequest
	if err := c.BodyParser(&req); err != nil {
		return h.writeError(c, invalid("request body must be a JSON object with toAccount, amount and idempotencyKey"))
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = middleware.IdempotencyKeyFrom(c)
	}

	res, err := h.service.CreateSeedTransfer(c.UserContext(), principal, SeedInput{
		SystemAccount:  req.SystemAccount,
		To:             req.ToAccount,
		Amount:         req.Amount,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return h.writeError(c, err)
	}
	return c.Status(res.HTTPStatus()).JSON(res)
}

// ByKey returns the transaction and lines recorded for an idempotency key.
func (h *Handler) ByKey(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c.UserContext())
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}

	receipt, err := h.service.LookupByKey(c.UserContext(), principal, c.Params("key"))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.Status(http.StatusOK).JSON(receipt)
}

func (h *Handler) writeError(c *fiber.Ctx, err error) error {
	e, ok := AsError(err)
	if !ok {
		e = internal(err)
	}

	attrs := []any{
		slog.String("reason", e.Reason),
		slog.String("path", c.Path()),
	}
	if requestID := middleware.RequestIDFrom(c); requestID != "" {
		attrs = append(attrs, slog.String("request_id", requestID))
	}
	switch e.Kind {
	case KindInternal, KindTransientStorage:
		h.logger.Error("transfer request failed", append(attrs, slog.Any("error", err))...)
	default:
		h.logger.Debug("transfer request rejected", attrs...)
	}

	body := errorResponse{Reason: e.Reason, Message: e.Message}
	if e.Kind == KindInsufficientFunds {
		body.Shortfall = e.Shortfall.String()
	}
	return c.Status(e.HTTPStatus()).JSON(body)
}

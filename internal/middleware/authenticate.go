package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/backend-ledger/backend_ledger/internal/auth"
)

const userIDLocal = "user_id"

// Authenticate verifies the bearer token and attaches the caller's principal
// to the request context.
func Authenticate(verifier *auth.Verifier, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, err := auth.BearerToken(c.Get(fiber.HeaderAuthorization))
		if err != nil {
			return unauthorized(c, "missing bearer token")
		}

		principal, err := verifier.Verify(c.UserContext(), token)
		switch {
		case err == nil:
		case errors.Is(err, auth.ErrTokenRevoked):
			return unauthorized(c, "token has been revoked")
		case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrMissingToken):
			return unauthorized(c, "invalid token")
		default:
			logger.Error("token verification unavailable", slog.String("request_id", RequestIDFrom(c)), slog.Any("error", err))
			return c.Status(http.StatusServiceUnavailable).JSON(fiber.Map{
				"reason":  "AUTH_UNAVAILABLE",
				"message": "authentication is temporarily unavailable",
			})
		}

		c.SetUserContext(auth.WithPrincipal(c.UserContext(), principal))
		c.Locals(userIDLocal, principal.UserID)
		return c.Next()
	}
}

// RequireSystemUser rejects callers whose token lacks the system flag.
func RequireSystemUser() fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := auth.PrincipalFromContext(c.UserContext())
		if !ok {
			return unauthorized(c, "unauthorized")
		}
		if !principal.IsSystemUser {
			return c.Status(http.StatusForbidden).JSON(fiber.Map{
				"reason":  "SYSTEM_USER_REQUIRED",
				"message": "only system users can use this endpoint",
			})
		}
		return c.Next()
	}
}

func unauthorized(c *fiber.Ctx, message string) error {
	return c.Status(http.StatusUnauthorized).JSON(fiber.Map{
		"reason":  "UNAUTHORIZED",
		"message": message,
	})
}

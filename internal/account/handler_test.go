package account

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/backend-ledger/backend_ledger/internal/auth"
	"github.com/backend-ledger/backend_ledger/internal/ledger"
	"github.com/backend-ledger/backend_ledger/internal/logging"
)

func TestHandlerBalance(t *testing.T) {
	registry := NewMemoryRegistry()
	store := ledger.NewInMemory()
	h := NewHandler(NewService(registry, ledger.NewDeriver(store)), logging.Discard())

	owner := uuid.NewString()
	acct := Account{ID: uuid.NewString(), OwnerID: owner, Currency: "INR", Status: StatusActive}
	registry.Put(acct)
	require.NoError(t, ledger.SeedBalance(context.Background(), store, acct.ID, 800))

	app := fiber.New()
	app.Get("/accounts/:accountId/balance", func(c *fiber.Ctx) error {
		if uid := c.Get("X-Test-User"); uid != "" {
			c.SetUserContext(auth.WithPrincipal(c.UserContext(), auth.Principal{UserID: uid}))
		}
		return c.Next()
	}, h.Balance)

	cases := []struct {
		name   string
		path   string
		user   string
		status int
		reason string
	}{
		{"owner", "/accounts/" + acct.ID + "/balance", owner, fiber.StatusOK, ""},
		{"stranger", "/accounts/" + acct.ID + "/balance", uuid.NewString(), fiber.StatusForbidden, "NOT_ACCOUNT_OWNER"},
		{"unknown account", "/accounts/" + uuid.NewString() + "/balance", owner, fiber.StatusNotFound, "ACCOUNT_NOT_FOUND"},
		{"anonymous", "/accounts/" + acct.ID + "/balance", "", fiber.StatusUnauthorized, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(fiber.MethodGet, tc.path, nil)
			if tc.user != "" {
				req.Header.Set("X-Test-User", tc.user)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tc.status, resp.StatusCode)

			if tc.reason != "" {
				var body map[string]any
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
				assert.Equal(t, tc.reason, body["reason"])
			}
			if tc.status == fiber.StatusOK {
				var body Balance
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
				assert.Equal(t, "800", body.Amount.String())
			}
		})
	}
}

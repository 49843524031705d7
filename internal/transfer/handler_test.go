package transfer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/backend-ledger/backend_ledger/internal/auth"
	"github.com/backend-ledger/backend_ledger/internal/ledger"
	"github.com/backend-ledger/backend_ledger/internal/logging"
	"github.com/backend-ledger/backend_ledger/internal/middleware"
)

type handlerFixture struct {
	*fixture
	app *fiber.App
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	f := newFixture(t)
	h := NewHandler(f.svc, logging.Discard())

	principals := map[string]auth.Principal{
		"owner":  f.owner,
		"system": f.system,
	}
	app := fiber.New()
	app.Use(middleware.RequestID(), middleware.IdempotencyKey())
	app.Use(func(c *fiber.Ctx) error {
		if p, ok := principals[c.Get("X-Test-As")]; ok {
			c.SetUserContext(auth.WithPrincipal(c.UserContext(), p))
		}
		return c.Next()
	})
	app.Post("/transactions", h.Create)
	app.Post("/transactions/system/initial-funds", h.CreateSeed)
	app.Get("/transactions/by-key/:key", h.ByKey)

	return &handlerFixture{fixture: f, app: app}
}

func (f *handlerFixture) do(t *testing.T, method, path, as, body string, headers map[string]string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if as != "" {
		req.Header.Set("X-Test-As", as)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := f.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var decoded map[string]any
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &decoded))
	}
	return resp.StatusCode, decoded
}

func (f *handlerFixture) transferBody(amount, key string) string {
	body := `{"fromAccount":"` + f.a.ID + `","toAccount":"` + f.b.ID + `","amount":` + amount
	if key != "" {
		body += `,"idempotencyKey":"` + key + `"`
	}
	return body + `}`
}

func TestHandlerCreateTransfer(t *testing.T) {
	f := newHandlerFixture(t)
	f.seed(t, f.a.ID, 800)

	status, body := f.do(t, http.MethodPost, "/transactions", "owner", f.transferBody(`"300"`, "key-1"), nil)
	require.Equal(t, http.StatusCreated, status, body)
	txn := body["transaction"].(map[string]any)
	assert.Equal(t, "COMPLETED", txn["status"])
	assert.Equal(t, "300", txn["amount"])
	assert.Equal(t, false, body["replayed"])

	status, body = f.do(t, http.MethodPost, "/transactions", "owner", f.transferBody(`"999"`, "key-1"), nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, true, body["replayed"])
	assert.Equal(t, txn["id"], body["transaction"].(map[string]any)["id"])
}

func TestHandlerCreateTransferErrors(t *testing.T) {
	f := newHandlerFixture(t)
	f.seed(t, f.a.ID, 100)
	ctx := context.Background()
	require.NoError(t, ledger.SeedTransaction(ctx, f.store, ledger.Transaction{
		ID: "00000000-0000-0000-0000-000000000001", FromAccount: f.a.ID, ToAccount: f.b.ID,
		Amount: dec(10), IdempotencyKey: "failed-key", Kind: ledger.KindTransfer, Status: ledger.StatusFailed,
	}))

	cases := []struct {
		name   string
		as     string
		body   string
		status int
		reason string
	}{
		{"malformed body", "owner", `{"amount":`, http.StatusBadRequest, ReasonInvalidRequest},
		{"zero amount", "owner", f.transferBody(`0`, "z"), http.StatusBadRequest, ReasonInvalidRequest},
		{"missing key", "owner", f.transferBody(`10`, ""), http.StatusBadRequest, ReasonInvalidRequest},
		{"unknown destination", "owner", `{"fromAccount":"` + f.a.ID + `","toAccount":"00000000-0000-0000-0000-00000000dead","amount":10,"idempotencyKey":"u"}`, http.StatusNotFound, ReasonAccountNotFound},
		{"failed key", "owner", f.transferBody(`10`, "failed-key"), http.StatusConflict, ReasonIdempotencyKeyFailed},
		{"insufficient funds", "owner", f.transferBody(`250`, "poor"), http.StatusUnprocessableEntity, ReasonInsufficientFunds},
		{"anonymous", "", f.transferBody(`10`, "anon"), http.StatusUnauthorized, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := f.do(t, http.MethodPost, "/transactions", tc.as, tc.body, nil)
			assert.Equal(t, tc.status, status, body)
			if tc.reason != "" {
				assert.Equal(t, tc.reason, body["reason"])
				assert.NotEmpty(t, body["message"])
			}
			if tc.reason == ReasonInsufficientFunds {
				assert.Equal(t, "150", body["shortfall"])
			} else if body != nil {
				assert.NotContains(t, body, "shortfall")
			}
		})
	}
}

func TestHandlerCreateTransferHeaderKey(t *testing.T) {
	f := newHandlerFixture(t)
	f.seed(t, f.a.ID, 800)
	headers := map[string]string{"Idempotency-Key": "from-header"}

	status, _ := f.do(t, http.MethodPost, "/transactions", "owner", f.transferBody(`120`, ""), headers)
	require.Equal(t, http.StatusCreated, status)

	status, body := f.do(t, http.MethodPost, "/transactions", "owner", f.transferBody(`120`, ""), headers)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "from-header", body["transaction"].(map[string]any)["idempotencyKey"])

	// A key in the body wins over the header.
	status, body = f.do(t, http.MethodPost, "/transactions", "owner", f.transferBody(`120`, "from-body"), headers)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "from-body", body["transaction"].(map[string]any)["idempotencyKey"])
}

func TestHandlerCreateSeed(t *testing.T) {
	f := newHandlerFixture(t)
	body := `{"toAccount":"` + f.a.ID + `","amount":"1000.50","idempotencyKey":"seed-1"}`

	status, resp := f.do(t, http.MethodPost, "/transactions/system/initial-funds", "owner", body, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, ReasonSystemUserRequired, resp["reason"])

	status, resp = f.do(t, http.MethodPost, "/transactions/system/initial-funds", "system", body, nil)
	require.Equal(t, http.StatusCreated, status, resp)
	txn := resp["transaction"].(map[string]any)
	assert.Equal(t, "seed", txn["kind"])
	assert.Equal(t, f.treasury.ID, txn["fromAccount"])
	assert.Equal(t, "1000.5", f.balance(t, f.a.ID).String())
}

func TestHandlerByKey(t *testing.T) {
	f := newHandlerFixture(t)
	f.seed(t, f.a.ID, 800)

	status, _ := f.do(t, http.MethodPost, "/transactions", "owner", f.transferBody(`300`, "lookup"), nil)
	require.Equal(t, http.StatusCreated, status)

	status, body := f.do(t, http.MethodGet, "/transactions/by-key/lookup", "owner", "", nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Len(t, body["lines"], 2)

	status, body = f.do(t, http.MethodGet, "/transactions/by-key/nope", "owner", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, ReasonTransactionNotFound, body["reason"])

	status, _ = f.do(t, http.MethodGet, "/transactions/by-key/lookup", "", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

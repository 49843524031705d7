package routes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/backend-ledger/backend_ledger/internal/account"
	"github.com/backend-ledger/backend_ledger/internal/auth"
	"github.com/backend-ledger/backend_ledger/internal/config"
	"github.com/backend-ledger/backend_ledger/internal/ledger"
	"github.com/backend-ledger/backend_ledger/internal/logging"
	"github.com/backend-ledger/backend_ledger/internal/notification"
)

const testSecret = "routes-test-secret"

type testEnv struct {
	app      *fiber.App
	queue    *notification.MemoryQueue
	store    ledger.Store
	cache    *redis.Client
	owner    string
	system   string
	wallet   account.Account
	payee    account.Account
	treasury account.Account
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { cache.Close() })

	env := &testEnv{
		queue:  notification.NewMemoryQueue(16),
		store:  ledger.NewInMemory(),
		cache:  cache,
		owner:  uuid.NewString(),
		system: uuid.NewString(),
	}
	registry := account.NewMemoryRegistry()
	env.wallet = account.Account{ID: uuid.NewString(), OwnerID: env.owner, Currency: "INR", Status: account.StatusActive, CreatedAt: time.Now()}
	env.payee = account.Account{ID: uuid.NewString(), OwnerID: uuid.NewString(), Currency: "INR", Status: account.StatusActive, CreatedAt: time.Now()}
	env.treasury = account.Account{ID: uuid.NewString(), OwnerID: env.system, Currency: "INR", Status: account.StatusActive, CreatedAt: time.Now()}
	for _, acct := range []account.Account{env.wallet, env.payee, env.treasury} {
		registry.Put(acct)
	}

	env.app = fiber.New()
	svc, err := Setup(env.app, Deps{
		Cfg:      config.Config{AppEnv: "test", JWTSecret: testSecret, PostingMaxAttempts: 3, RateLimitPerMinute: 100},
		Cache:    cache,
		Logger:   logging.Discard(),
		Queue:    env.queue,
		Store:    env.store,
		Accounts: registry,
	})
	require.NoError(t, err)
	t.Cleanup(svc.Drain)
	return env
}

func (e *testEnv) token(t *testing.T, subject string, system bool) string {
	t.Helper()
	token, err := auth.NewIssuer(testSecret).Issue(auth.Principal{
		UserID:       subject,
		Email:        subject + "@example.com",
		IsSystemUser: system,
	}, time.Hour)
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, method, path, token, body string) (int, map[string]any) {
	t.Helper()
	return e.doWithHeaders(t, method, path, token, body, nil)
}

func (e *testEnv) doWithHeaders(t *testing.T, method, path, token, body string, headers map[string]string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := e.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &decoded))
	}
	return resp.StatusCode, decoded
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, status)
	checks := body["status"].(map[string]any)
	assert.Equal(t, "disabled", checks["postgres"])
	assert.Equal(t, "ok", checks["redis"])
}

func TestTransferFlow(t *testing.T) {
	env := newTestEnv(t)
	ownerToken := env.token(t, env.owner, false)
	systemToken := env.token(t, env.system, true)

	seed := `{"toAccount":"` + env.wallet.ID + `","amount":"800","idempotencyKey":"seed-1"}`
	status, body := env.do(t, http.MethodPost, "/api/v1/transactions/system/initial-funds", ownerToken, seed)
	require.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "SYSTEM_USER_REQUIRED", body["reason"])

	status, body = env.do(t, http.MethodPost, "/api/v1/transactions/system/initial-funds", systemToken, seed)
	require.Equal(t, http.StatusCreated, status, body)

	transfer := `{"fromAccount":"` + env.wallet.ID + `","toAccount":"` + env.payee.ID + `","amount":"300","idempotencyKey":"key-1"}`
	status, body = env.do(t, http.MethodPost, "/api/v1/transactions", ownerToken, transfer)
	require.Equal(t, http.StatusCreated, status, body)

	status, body = env.do(t, http.MethodPost, "/api/v1/transactions", ownerToken, transfer)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, true, body["replayed"])

	status, body = env.do(t, http.MethodGet, "/api/v1/accounts/"+env.wallet.ID+"/balance", ownerToken, "")
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "500", body["balance"])

	status, body = env.do(t, http.MethodGet, "/api/v1/transactions/by-key/key-1", ownerToken, "")
	require.Equal(t, http.StatusOK, status, body)
	assert.Len(t, body["lines"], 2)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := env.queue.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, notification.KindTransferCompleted, msg.Kind)
	assert.Equal(t, env.owner+"@example.com", msg.Destination)
}

func TestHeaderKeySurvivesLaterRequests(t *testing.T) {
	env := newTestEnv(t)
	ownerToken := env.token(t, env.owner, false)
	systemToken := env.token(t, env.system, true)

	seed := `{"toAccount":"` + env.wallet.ID + `","amount":"1000","idempotencyKey":"seed-hdr"}`
	status, body := env.do(t, http.MethodPost, "/api/v1/transactions/system/initial-funds", systemToken, seed)
	require.Equal(t, http.StatusCreated, status, body)

	transfer := `{"fromAccount":"` + env.wallet.ID + `","toAccount":"` + env.payee.ID + `","amount":"10"}`
	status, body = env.doWithHeaders(t, http.MethodPost, "/api/v1/transactions", ownerToken, transfer,
		map[string]string{"Idempotency-Key": "hdr-key-AAAA"})
	require.Equal(t, http.StatusCreated, status, body)
	firstID := body["transaction"].(map[string]any)["id"]

	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("hdr-key-ZZZ%d", i)
		status, body = env.doWithHeaders(t, http.MethodPost, "/api/v1/transactions", ownerToken, transfer,
			map[string]string{"Idempotency-Key": key})
		require.Equal(t, http.StatusCreated, status, "key %s: %v", key, body)
		assert.Equal(t, false, body["replayed"])
		assert.Equal(t, key, body["transaction"].(map[string]any)["idempotencyKey"])
	}

	status, body = env.do(t, http.MethodGet, "/api/v1/transactions/by-key/hdr-key-AAAA", ownerToken, "")
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, firstID, body["transaction"].(map[string]any)["id"])

	status, body = env.do(t, http.MethodGet, "/api/v1/accounts/"+env.wallet.ID+"/balance", ownerToken, "")
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "940", body["balance"])
}

func TestAPIRequiresToken(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, http.MethodGet, "/api/v1/accounts/"+env.wallet.ID+"/balance", "", "")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", body["reason"])

	token := env.token(t, env.owner, false)
	require.NoError(t, auth.NewRevocationList(env.cache).Revoke(context.Background(), token, time.Hour))
	status, _ = env.do(t, http.MethodGet, "/api/v1/accounts/"+env.wallet.ID+"/balance", token, "")
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestSetupRequiresBackendsOutsideDevelopment(t *testing.T) {
	_, err := Setup(fiber.New(), Deps{
		Cfg:    config.Config{AppEnv: "production", JWTSecret: testSecret},
		Logger: logging.Discard(),
	})
	assert.Error(t, err)
}

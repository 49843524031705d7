package routes

import (
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/backend-ledger/backend_ledger/internal/account"
	"github.com/backend-ledger/backend_ledger/internal/auth"
	"github.com/backend-ledger/backend_ledger/internal/config"
	"github.com/backend-ledger/backend_ledger/internal/ledger"
	"github.com/backend-ledger/backend_ledger/internal/middleware"
	"github.com/backend-ledger/backend_ledger/internal/notification"
	"github.com/backend-ledger/backend_ledger/internal/transfer"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
	Queue  notification.Queue

	// Store and Accounts replace the backends otherwise derived from DB.
	Store    ledger.Store
	Accounts account.Registry
}

// Setup configures middlewares and all application routes. It returns the
// transfer engine so the caller can drain pending notifications on shutdown.
func Setup(app *fiber.App, d Deps) (*transfer.Service, error) {
	if !d.Cfg.IsDevelopment() {
		if d.DB == nil && d.Store == nil {
			return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return nil, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))
	app.Use(middleware.IdempotencyKey())

	RegisterHealthRoutes(app, d)

	store, accounts := d.Store, d.Accounts
	if store == nil {
		if d.DB != nil {
			store = ledger.NewPostgresStore(d.DB)
		} else {
			d.Logger.Warn("no database configured, using in-memory ledger")
			store = ledger.NewInMemory()
		}
	}
	if accounts == nil {
		if d.DB != nil {
			accounts = account.NewPostgresRegistry(d.DB)
		} else {
			accounts = account.NewMemoryRegistry()
		}
	}

	transferSvc := transfer.NewService(store, accounts, d.Queue, d.Logger, transfer.Config{
		MaxAttempts: d.Cfg.PostingMaxAttempts,
		RetryBase:   d.Cfg.PostingRetryBase,
	})
	accountSvc := account.NewService(accounts, ledger.NewDeriver(store))

	var revocations auth.RevocationChecker
	if d.Cache != nil {
		revocations = auth.NewRevocationList(d.Cache)
	}
	verifier := auth.NewVerifier(d.Cfg.JWTSecret, revocations)

	api := app.Group("/api/v1", middleware.Authenticate(verifier, d.Logger))
	limiter := middleware.RateLimit(d.Cache, "transactions", d.Cfg.RateLimitPerMinute, d.Logger)
	RegisterTransactionRoutes(api, transfer.NewHandler(transferSvc, d.Logger), limiter)
	RegisterAccountRoutes(api, account.NewHandler(accountSvc, d.Logger))

	return transferSvc, nil
}

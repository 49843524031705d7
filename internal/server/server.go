package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/backend-ledger/backend_ledger/internal/config"
	"github.com/backend-ledger/backend_ledger/internal/notification"
	"github.com/backend-ledger/backend_ledger/internal/routes"
	"github.com/backend-ledger/backend_ledger/internal/transfer"
)

// Server wraps the Fiber application and shared dependencies.
type Server struct {
	app       *fiber.App
	cfg       config.Config
	transfers *transfer.Service
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
func New(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, queue notification.Queue, logger *slog.Logger) (*Server, error) {
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		ErrorHandler: errorHandler(logger),
	})

	transfers, err := routes.Setup(app, routes.Deps{Cfg: cfg, DB: db, Cache: cache, Logger: logger, Queue: queue})
	if err != nil {
		return nil, err
	}

	return &Server{app: app, cfg: cfg, transfers: transfers}, nil
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.cfg.Address())
}

// Shutdown stops accepting requests, then waits for in-flight notification
// hand-offs so none are lost.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.app.ShutdownWithContext(ctx); err != nil {
		return err
	}
	drained := make(chan struct{})
	go func() {
		s.transfers.Drain()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// errorHandler renders errors that escape handlers in the same {reason,
// message} shape the API uses everywhere else.
func errorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		reason := "INTERNAL"
		message := "internal error"

		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
			message = fe.Message
			switch code {
			case fiber.StatusUnauthorized:
				reason = "UNAUTHORIZED"
			case fiber.StatusNotFound:
				reason = "ROUTE_NOT_FOUND"
			case fiber.StatusMethodNotAllowed:
				reason = "METHOD_NOT_ALLOWED"
			default:
				if code < fiber.StatusInternalServerError {
					reason = "INVALID_REQUEST"
				}
			}
		} else {
			logger.Error("unhandled error", slog.String("path", c.Path()), slog.Any("error", err))
		}

		return c.Status(code).JSON(fiber.Map{"reason": reason, "message": message})
	}
}

package server

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/fundstack/fundstack/internal/apierror"
	"github.com/fundstack/fundstack/internal/config"
	"github.com/fundstack/fundstack/internal/middleware"
	"github.com/fundstack/fundstack/internal/routes"
)

const maxBodyBytes = 64 * 1024

// Server wraps the Fiber application and shared dependencies.
type Server struct {
	app *fiber.App
	cfg config.Config
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
func New(cfg config.Config, deps routes.Deps) (*Server, error) {
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		BodyLimit:    maxBodyBytes,
		ErrorHandler: ErrorHandler,
	})

	deps.Cfg = cfg
	if err := routes.Setup(app, deps); err != nil {
		return nil, err
	}

	return &Server{app: app, cfg: cfg}, nil
}

// ErrorHandler renders errors as {"error": ...} with the request id, and
// flags responses whose ledger writes need reconciliation.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := err.Error()
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code, msg = fe.Code, fe.Message
	}

	body := fiber.Map{"error": msg}
	if id := middleware.RequestIDOf(c); id != "" {
		body["request_id"] = id
	}
	if apierror.IsCommitted(err) {
		body["reconcile"] = true
	}
	return c.Status(code).JSON(body)
}

// App exposes the underlying Fiber application.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.cfg.Address())
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

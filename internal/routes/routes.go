package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/fundstack/fundstack/internal/auth"
	"github.com/fundstack/fundstack/internal/budget"
	"github.com/fundstack/fundstack/internal/config"
	"github.com/fundstack/fundstack/internal/docstore"
	"github.com/fundstack/fundstack/internal/events"
	"github.com/fundstack/fundstack/internal/identity"
	"github.com/fundstack/fundstack/internal/infra"
	"github.com/fundstack/fundstack/internal/ledger"
	"github.com/fundstack/fundstack/internal/logging"
	"github.com/fundstack/fundstack/internal/middleware"
	"github.com/fundstack/fundstack/internal/report"
	"github.com/fundstack/fundstack/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg       config.Config
	Docs      docstore.Store
	Cache     *redis.Client
	Logger    *slog.Logger
	Publisher events.Publisher
	Generator report.Generator
	Metrics   wallet.Metrics
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if d.Docs == nil {
		return fmt.Errorf("document store is required")
	}
	// Enforce Redis presence outside of dev, even though config also checks.
	if !d.Cfg.IsDev() && d.Cache == nil {
		return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.Env)
	}
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}
	if d.Publisher == nil {
		d.Publisher = events.NewLoggerPublisher(d.Logger)
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	// Services and handlers
	store := ledger.NewDocumentStore(d.Docs, infra.NewWalletLocker(d.Cache, d.Logger))
	identityRepo := identity.NewDocumentRepository(d.Docs)
	identitySvc := identity.NewService(identityRepo)
	authSvc := auth.NewService(d.Cfg.SigningSecret(), d.Cfg.AccessTokenTTL, identityRepo)

	walletOpts := []wallet.Option{
		wallet.WithPublisher(d.Publisher),
		wallet.WithLogger(d.Logger),
		wallet.WithAckPolicy(d.Cfg.RetryPolicy()),
	}
	if d.Metrics != nil {
		walletOpts = append(walletOpts, wallet.WithMetrics(d.Metrics))
	}
	walletSvc := wallet.NewService(store, walletOpts...)
	budgetSvc := budget.NewService(budget.NewDocumentRepository(d.Docs), store, d.Logger)
	reportSvc := report.NewService(store, budgetSvc, d.Generator, d.Logger)

	// API routes
	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID := middleware.RequestIDOf(c)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Public routes
	authHandler := auth.NewHandler(identitySvc, authSvc)
	RegisterAuthRoutes(api, authHandler, middleware.LoginRateLimit(d.Cache, 5))

	// Protected routes
	protected := api.Group("", middleware.JWTAuth(authSvc))
	if d.Cache != nil {
		protected.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}
	RegisterSessionRoutes(protected, authHandler)
	protected.Get("/me", func(c *fiber.Ctx) error {
		who := middleware.CurrentIdentity(c)
		user, err := identitySvc.FindByID(c.UserContext(), who.UserID)
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "user not found")
		}
		return c.JSON(fiber.Map{
			"user_id":       user.ID,
			"email":         user.Email,
			"display_name":  user.DisplayName,
			"token_version": user.TokenVersion,
			"created_at":    user.CreatedAt,
			"last_login":    user.LastLogin,
		})
	})
	RegisterWalletRoutes(protected, wallet.NewHandler(walletSvc))
	RegisterBudgetRoutes(protected, budget.NewHandler(budgetSvc))
	RegisterReportRoutes(protected, report.NewHandler(reportSvc), middleware.ReportRateLimit(d.Cache, 10))

	return nil
}

package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/fundstack/fundstack/internal/budget"
	"github.com/fundstack/fundstack/internal/report"
	"github.com/fundstack/fundstack/internal/wallet"
)

// RegisterWalletRoutes wires wallet and ledger endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler) {
	r.Post("/wallets", h.Create)
	r.Get("/wallets", h.List)
	r.Get("/wallets/:walletId", h.Get)
	r.Post("/wallets/:walletId/deposit", h.Deposit)
	r.Post("/wallets/:walletId/withdraw", h.Withdraw)
	r.Get("/wallets/:walletId/transactions", h.Transactions)
	r.Get("/wallets/:walletId/reconcile", h.Reconcile)
	r.Post("/transfers", h.Transfer)
}

// RegisterBudgetRoutes wires monthly budget endpoints.
func RegisterBudgetRoutes(r fiber.Router, h *budget.Handler) {
	r.Put("/budgets/:year/:month", h.Set)
	r.Get("/budgets/:year/:month", h.List)
	r.Get("/budgets/:year/:month/status", h.Status)
}

// RegisterReportRoutes wires cross-wallet history and monthly reports.
func RegisterReportRoutes(r fiber.Router, h *report.Handler, rateLimiter fiber.Handler) {
	r.Get("/transactions", h.Transactions)
	if rateLimiter != nil {
		r.Get("/reports/:year/:month", rateLimiter, h.Monthly)
	} else {
		r.Get("/reports/:year/:month", h.Monthly)
	}
}

package wallet

import (
	"context"
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/fundstack/fundstack/internal/apierror"
	"github.com/fundstack/fundstack/internal/ledger"
	"github.com/fundstack/fundstack/internal/middleware"
	"github.com/fundstack/fundstack/internal/session"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	Name           string          `json:"name"`
	Currency       string          `json:"currency"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
}

type movementRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Note     string          `json:"note"`
	Category string          `json:"category"`
}

type transferRequest struct {
	FromWalletID string          `json:"from_wallet_id"`
	ToWalletID   string          `json:"to_wallet_id"`
	Amount       decimal.Decimal `json:"amount"`
	Note         string          `json:"note"`
	Category     string          `json:"category"`
}

// Create opens a wallet for the authenticated user.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	w, err := h.service.Create(c.UserContext(), middleware.CurrentIdentity(c), CreateInput{
		Name:           req.Name,
		Currency:       req.Currency,
		InitialBalance: req.InitialBalance,
	})
	if err != nil {
		return apierror.From(err)
	}
	return c.Status(http.StatusCreated).JSON(w)
}

// List returns the caller's wallets.
func (h *Handler) List(c *fiber.Ctx) error {
	wallets, err := h.service.List(c.UserContext(), middleware.CurrentIdentity(c))
	if err != nil {
		return apierror.From(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"wallets": wallets})
}

// Get returns one wallet.
func (h *Handler) Get(c *fiber.Ctx) error {
	w, err := h.service.Get(c.UserContext(), middleware.CurrentIdentity(c), c.Params("walletId"))
	if err != nil {
		return apierror.From(err)
	}
	return c.Status(http.StatusOK).JSON(w)
}

// Transactions returns a wallet's history.
func (h *Handler) Transactions(c *fiber.Ctx) error {
	txs, err := h.service.Transactions(c.UserContext(), middleware.CurrentIdentity(c), c.Params("walletId"))
	if err != nil {
		return apierror.From(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"transactions": txs})
}

// Deposit credits a wallet.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	return h.movement(c, h.service.Deposit)
}

// Withdraw debits a wallet.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	return h.movement(c, h.service.Withdraw)
}

func (h *Handler) movement(c *fiber.Ctx, op func(context.Context, session.Identity, MovementInput) (Result, error)) error {
	var req movementRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	res, err := op(c.UserContext(), middleware.CurrentIdentity(c), MovementInput{
		WalletID: c.Params("walletId"),
		Amount:   req.Amount,
		Note:     req.Note,
		Category: req.Category,
	})
	if err != nil && !logOnly(err) {
		return apierror.From(err)
	}
	return c.Status(http.StatusCreated).JSON(withReconcile(fiber.Map{
		"wallet":      res.Wallet,
		"transaction": res.Transaction,
	}, err))
}

// Transfer moves funds between two of the caller's wallets.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	res, err := h.service.Transfer(c.UserContext(), middleware.CurrentIdentity(c), TransferInput{
		FromWalletID: req.FromWalletID,
		ToWalletID:   req.ToWalletID,
		Amount:       req.Amount,
		Note:         req.Note,
		Category:     req.Category,
	})
	if err != nil && !logOnly(err) {
		return apierror.From(err)
	}
	return c.Status(http.StatusCreated).JSON(withReconcile(fiber.Map{
		"from":         res.From,
		"to":           res.To,
		"transactions": []ledger.Transaction{res.Out, res.In},
	}, err))
}

// logOnly matches partial failures where the money moved but the
// transaction log missed a record. Those still answer 201.
func logOnly(err error) bool {
	var pe *ledger.PartialError
	return errors.As(err, &pe) && pe.LogOnly()
}

func withReconcile(body fiber.Map, err error) fiber.Map {
	if err != nil {
		body["reconcile_required"] = true
		body["warning"] = err.Error()
	}
	return body
}

// Reconcile reports whether a wallet's balance matches its log.
func (h *Handler) Reconcile(c *fiber.Ctx) error {
	r, err := h.service.Reconcile(c.UserContext(), middleware.CurrentIdentity(c), c.Params("walletId"))
	if err != nil {
		return apierror.From(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"wallet_id":          r.WalletID,
		"balance":            r.Balance,
		"expected":           r.Expected,
		"last_balance_after": r.LastBalanceAfter,
		"transactions":       r.Transactions,
		"consistent":         r.Consistent,
		"drift":              r.Drift(),
	})
}

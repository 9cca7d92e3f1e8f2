package report

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/fundstack/fundstack/internal/apierror"
	"github.com/fundstack/fundstack/internal/budget"
	"github.com/fundstack/fundstack/internal/middleware"
)

// Handler exposes report endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a report HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Monthly returns the report for /reports/:year/:month.
func (h *Handler) Monthly(c *fiber.Ctx) error {
	year, err := c.ParamsInt("year")
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "year must be a number")
	}
	month, err := c.ParamsInt("month")
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "month must be a number")
	}
	r, err := h.service.Monthly(c.UserContext(), middleware.CurrentIdentity(c), year, month)
	if err != nil {
		return fromError(err)
	}
	return c.Status(http.StatusOK).JSON(r)
}

// Transactions lists the caller's records across wallets, optionally
// filtered with ?year=&month=.
func (h *Handler) Transactions(c *fiber.Ctx) error {
	year := c.QueryInt("year")
	month := c.QueryInt("month")
	txs, err := h.service.Transactions(c.UserContext(), middleware.CurrentIdentity(c), year, month)
	if err != nil {
		return fromError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"transactions": txs})
}

func fromError(err error) error {
	if errors.Is(err, budget.ErrInvalidBudget) {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return apierror.From(err)
}

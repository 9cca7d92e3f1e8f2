package budget

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/fundstack/fundstack/internal/apierror"
	"github.com/fundstack/fundstack/internal/middleware"
)

// Handler exposes budget endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a budget HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type setRequest struct {
	Category string          `json:"category"`
	Limit    decimal.Decimal `json:"limit"`
}

// Set upserts a category limit for /budgets/:year/:month.
func (h *Handler) Set(c *fiber.Ctx) error {
	year, month, err := period(c)
	if err != nil {
		return err
	}
	var req setRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	b, err := h.service.SetBudget(c.UserContext(), middleware.CurrentIdentity(c), year, month, req.Category, req.Limit)
	if err != nil {
		return fromError(err)
	}
	return c.Status(http.StatusOK).JSON(b)
}

// List returns the month's limits.
func (h *Handler) List(c *fiber.Ctx) error {
	year, month, err := period(c)
	if err != nil {
		return err
	}
	budgets, err := h.service.GetBudgets(c.UserContext(), middleware.CurrentIdentity(c), year, month)
	if err != nil {
		return fromError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"year": year, "month": month, "budgets": budgets})
}

// Status returns the month's limit versus spend per category.
func (h *Handler) Status(c *fiber.Ctx) error {
	year, month, err := period(c)
	if err != nil {
		return err
	}
	status, err := h.service.ComputeStatus(c.UserContext(), middleware.CurrentIdentity(c), year, month)
	if err != nil {
		return fromError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"year": year, "month": month, "status": status})
}

func period(c *fiber.Ctx) (int, int, error) {
	year, err := c.ParamsInt("year")
	if err != nil {
		return 0, 0, fiber.NewError(http.StatusBadRequest, "year must be a number")
	}
	month, err := c.ParamsInt("month")
	if err != nil {
		return 0, 0, fiber.NewError(http.StatusBadRequest, "month must be a number")
	}
	return year, month, nil
}

func fromError(err error) error {
	if errors.Is(err, ErrInvalidBudget) {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return apierror.From(err)
}

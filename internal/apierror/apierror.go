// Package apierror maps core errors onto HTTP responses.
package apierror

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/fundstack/fundstack/internal/ledger"
	"github.com/fundstack/fundstack/internal/session"
)

// From converts err into a *fiber.Error with a status matching its kind.
// Partial-consistency failures are reported as 500 with a distinct message
// so clients and operators can tell them apart from plain failures.
func From(err error) error {
	var (
		fe        *fiber.Error
		committed *Committed
	)
	switch {
	case err == nil:
		return nil
	case errors.As(err, &committed):
		return committed
	case errors.As(err, &fe):
		return fe
	case errors.Is(err, ledger.ErrPartialConsistency):
		return &Committed{Err: fiber.NewError(http.StatusInternalServerError, "partially committed, reconciliation required: "+err.Error())}
	case errors.Is(err, session.ErrNoIdentity):
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidWallet),
		errors.Is(err, ledger.ErrInvalidTransaction),
		errors.Is(err, ledger.ErrSameWallet):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrCurrencyMismatch):
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ledger.ErrConflict):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrStoreUnavailable):
		return fiber.NewError(http.StatusServiceUnavailable, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}

// Committed marks a failed response whose ledger writes were at least partly
// applied. Replaying such a request would apply them again.
type Committed struct {
	Err *fiber.Error
}

func (c *Committed) Error() string { return c.Err.Message }

// Unwrap exposes the HTTP error to fiber's error handler.
func (c *Committed) Unwrap() error { return c.Err }

// IsCommitted reports whether err carries a Committed marker.
func IsCommitted(err error) bool {
	var c *Committed
	return errors.As(err, &c)
}

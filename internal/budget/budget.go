// Package budget stores monthly spending limits per category and compares
// them with recorded outflows.
package budget

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fundstack/fundstack/internal/ledger"
)

// ErrInvalidBudget rejects malformed periods, categories or limits.
var ErrInvalidBudget = errors.New("invalid budget")

// Status values reported per category.
const (
	StatusOK        = "OK"
	StatusOverspent = "OVERSPENT"
)

// Budget is the limit set for one category of one month.
type Budget struct {
	Category  string          `json:"category"`
	Limit     decimal.Decimal `json:"limit"`
	UpdatedAt int64           `json:"updated_at"`
}

// CategoryStatus compares a limit with the month's spend. Derived on
// every call and never stored.
type CategoryStatus struct {
	Limit     decimal.Decimal `json:"limit"`
	Spent     decimal.Decimal `json:"spent"`
	Remaining decimal.Decimal `json:"remaining"`
	Status    string          `json:"status"`
}

// Period is a calendar month in UTC.
type Period struct {
	Year  int
	Month time.Month
}

// NewPeriod validates year and month.
func NewPeriod(year, month int) (Period, error) {
	if year <= 0 {
		return Period{}, fmt.Errorf("%w: year %d", ErrInvalidBudget, year)
	}
	if month < 1 || month > 12 {
		return Period{}, fmt.Errorf("%w: month %d", ErrInvalidBudget, month)
	}
	return Period{Year: year, Month: time.Month(month)}, nil
}

// NormalizeCategory trims the label and falls back to the default category.
func NormalizeCategory(category string) string {
	if c := strings.TrimSpace(category); c != "" {
		return c
	}
	return ledger.DefaultCategory
}

// statusFor derives the status of one category.
func statusFor(limit, spent decimal.Decimal) CategoryStatus {
	remaining := limit.Sub(spent)
	status := StatusOK
	if remaining.IsNegative() {
		status = StatusOverspent
	}
	return CategoryStatus{Limit: limit, Spent: spent, Remaining: remaining, Status: status}
}

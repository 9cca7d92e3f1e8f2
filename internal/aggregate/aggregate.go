// Package aggregate derives month-scoped views from a user's transaction
// log. All month boundaries are evaluated in UTC.
package aggregate

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fundstack/fundstack/internal/ledger"
	"github.com/fundstack/fundstack/internal/session"
)

// Source lists every transaction a user owns.
type Source interface {
	ListAllTransactions(ctx context.Context, who session.Identity) ([]ledger.Transaction, error)
}

// OutflowKinds are counted as spend when no kinds are given.
var OutflowKinds = []ledger.Kind{ledger.KindWithdrawal, ledger.KindTransferOut}

// AllTransactions merges every wallet's log for the caller, each record
// tagged with its wallet id. Never nil.
func AllTransactions(ctx context.Context, src Source, who session.Identity) ([]ledger.Transaction, error) {
	txs, err := src.ListAllTransactions(ctx, who)
	if err != nil {
		return nil, err
	}
	if txs == nil {
		txs = []ledger.Transaction{}
	}
	return txs, nil
}

// InMonth reports whether tx was recorded during year/month.
func InMonth(tx ledger.Transaction, year int, month time.Month) bool {
	t := time.Unix(tx.Timestamp, 0).UTC()
	return t.Year() == year && t.Month() == month
}

// FilterMonth keeps the records of year/month, preserving order.
func FilterMonth(txs []ledger.Transaction, year int, month time.Month) []ledger.Transaction {
	out := []ledger.Transaction{}
	for _, tx := range txs {
		if InMonth(tx, year, month) {
			out = append(out, tx)
		}
	}
	return out
}

// Category returns the bucket a record is grouped under.
func Category(tx ledger.Transaction) string {
	if c := strings.TrimSpace(tx.Category); c != "" {
		return c
	}
	return ledger.DefaultCategory
}

// SpendByCategory sums the amounts of year/month records whose kind is in
// kinds, grouped by category. kinds defaults to OutflowKinds.
func SpendByCategory(txs []ledger.Transaction, year int, month time.Month, kinds ...ledger.Kind) map[string]decimal.Decimal {
	if len(kinds) == 0 {
		kinds = OutflowKinds
	}
	want := make(map[ledger.Kind]struct{}, len(kinds))
	for _, k := range kinds {
		want[k] = struct{}{}
	}

	spend := map[string]decimal.Decimal{}
	for _, tx := range txs {
		if _, ok := want[tx.Kind]; !ok || !InMonth(tx, year, month) {
			continue
		}
		c := Category(tx)
		spend[c] = spend[c].Add(tx.Amount)
	}
	return spend
}

// Summary totals one month of activity.
type Summary struct {
	Year       int                        `json:"year"`
	Month      int                        `json:"month"`
	Income     decimal.Decimal            `json:"income"`
	Outflow    decimal.Decimal            `json:"outflow"`
	Net        decimal.Decimal            `json:"net"`
	Count      int                        `json:"count"`
	ByCategory map[string]decimal.Decimal `json:"by_category"`
}

// Summarize computes income (deposits and incoming transfers), outflow and
// per-category spend for year/month.
func Summarize(txs []ledger.Transaction, year int, month time.Month) Summary {
	s := Summary{
		Year:       year,
		Month:      int(month),
		Income:     decimal.Zero,
		Outflow:    decimal.Zero,
		ByCategory: map[string]decimal.Decimal{},
	}
	for _, tx := range txs {
		if !InMonth(tx, year, month) {
			continue
		}
		s.Count++
		if tx.Kind.Outflow() {
			s.Outflow = s.Outflow.Add(tx.Amount)
			c := Category(tx)
			s.ByCategory[c] = s.ByCategory[c].Add(tx.Amount)
		} else {
			s.Income = s.Income.Add(tx.Amount)
		}
	}
	s.Net = s.Income.Sub(s.Outflow)
	return s
}

// CategoryTotal is one row of a ranked spend listing.
type CategoryTotal struct {
	Category string          `json:"category"`
	Amount   decimal.Decimal `json:"amount"`
}

// TopCategories ranks spend by amount, largest first, ties by name. n <= 0
// returns every category.
func TopCategories(spend map[string]decimal.Decimal, n int) []CategoryTotal {
	rows := make([]CategoryTotal, 0, len(spend))
	for c, amt := range spend {
		rows = append(rows, CategoryTotal{Category: c, Amount: amt})
	}
	sort.Slice(rows, func(i, j int) bool {
		if cmp := rows[i].Amount.Cmp(rows[j].Amount); cmp != 0 {
			return cmp > 0
		}
		return rows[i].Category < rows[j].Category
	})
	if n > 0 && len(rows) > n {
		rows = rows[:n]
	}
	return rows
}

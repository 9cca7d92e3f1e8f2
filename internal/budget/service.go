package budget

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/fundstack/fundstack/internal/aggregate"
	"github.com/fundstack/fundstack/internal/ledger"
	"github.com/fundstack/fundstack/internal/logging"
	"github.com/fundstack/fundstack/internal/session"
)

// Service combines stored limits with aggregated spend.
type Service struct {
	repo   Repository
	txs    aggregate.Source
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds a budget service. logger may be nil.
func NewService(repo Repository, txs aggregate.Source, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{repo: repo, txs: txs, logger: logger, now: time.Now}
}

// SetBudget upserts the limit for category in the given month.
func (s *Service) SetBudget(ctx context.Context, who session.Identity, year, month int, category string, limit decimal.Decimal) (Budget, error) {
	p, err := NewPeriod(year, month)
	if err != nil {
		return Budget{}, err
	}
	if limit.IsNegative() {
		return Budget{}, fmt.Errorf("%w: limit cannot be negative", ErrInvalidBudget)
	}
	b := Budget{
		Category:  NormalizeCategory(category),
		Limit:     limit,
		UpdatedAt: s.now().Unix(),
	}
	if err := s.repo.Put(ctx, who, p, b); err != nil {
		return Budget{}, err
	}
	s.logger.InfoContext(ctx, "budget.set",
		"user_id", who.UserID,
		"year", year,
		"month", month,
		"category", b.Category,
		"limit", limit.String(),
	)
	return b, nil
}

// GetBudgets returns the month's limits by category, empty when none.
func (s *Service) GetBudgets(ctx context.Context, who session.Identity, year, month int) (map[string]Budget, error) {
	p, err := NewPeriod(year, month)
	if err != nil {
		return nil, err
	}
	return s.repo.List(ctx, who, p)
}

// ComputeStatus reports limit, spend and remaining for every category that
// has a limit in the month. Categories with spend but no limit are left out.
func (s *Service) ComputeStatus(ctx context.Context, who session.Identity, year, month int) (map[string]CategoryStatus, error) {
	p, err := NewPeriod(year, month)
	if err != nil {
		return nil, err
	}

	var (
		budgets map[string]Budget
		txs     []ledger.Transaction
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		budgets, err = s.repo.List(gctx, who, p)
		return err
	})
	g.Go(func() error {
		var err error
		txs, err = aggregate.AllTransactions(gctx, s.txs, who)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return Status(budgets, aggregate.SpendByCategory(txs, p.Year, p.Month)), nil
}

// Status combines limits with spend. Only categories present in budgets are
// reported; a category without spend reports zero.
func Status(budgets map[string]Budget, spend map[string]decimal.Decimal) map[string]CategoryStatus {
	out := make(map[string]CategoryStatus, len(budgets))
	for category, b := range budgets {
		spent, ok := spend[category]
		if !ok {
			spent = decimal.Zero
		}
		out[category] = statusFor(b.Limit, spent)
	}
	return out
}

// Package report assembles a monthly overview from the ledger and the
// budget engine and asks a text generator to narrate it.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fundstack/fundstack/internal/aggregate"
	"github.com/fundstack/fundstack/internal/budget"
	"github.com/fundstack/fundstack/internal/ledger"
	"github.com/fundstack/fundstack/internal/logging"
	"github.com/fundstack/fundstack/internal/session"
)

// FallbackNarrative replaces generator output that cannot be used.
const FallbackNarrative = "Error generating report."

// ErrEmptyNarrative is recorded when the generator returns no usable text.
var ErrEmptyNarrative = errors.New("generator returned no text")

// Generator turns a prompt into free text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// StatusSource computes budget status for a month.
type StatusSource interface {
	ComputeStatus(ctx context.Context, who session.Identity, year, month int) (map[string]budget.CategoryStatus, error)
}

// Report is the monthly overview returned to callers. NarrativeError is set
// when Narrative holds the fallback text.
type Report struct {
	Year           int                              `json:"year"`
	Month          int                              `json:"month"`
	Summary        aggregate.Summary                `json:"summary"`
	TopCategories  []aggregate.CategoryTotal        `json:"top_categories"`
	BudgetStatus   map[string]budget.CategoryStatus `json:"budget_status"`
	Transactions   []ledger.Transaction             `json:"transactions"`
	Narrative      string                           `json:"narrative"`
	NarrativeError string                           `json:"narrative_error,omitempty"`
}

// Service builds monthly reports.
type Service struct {
	txs       aggregate.Source
	budgets   StatusSource
	generator Generator
	logger    *slog.Logger
	timeout   time.Duration
}

// NewService wires the report dependencies. A nil generator always yields
// the fallback narrative.
func NewService(txs aggregate.Source, budgets StatusSource, generator Generator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{txs: txs, budgets: budgets, generator: generator, logger: logger, timeout: 30 * time.Second}
}

// Transactions returns the caller's merged log, restricted to year/month
// when both are set.
func (s *Service) Transactions(ctx context.Context, who session.Identity, year, month int) ([]ledger.Transaction, error) {
	txs, err := aggregate.AllTransactions(ctx, s.txs, who)
	if err != nil {
		return nil, err
	}
	if year == 0 && month == 0 {
		return txs, nil
	}
	p, err := budget.NewPeriod(year, month)
	if err != nil {
		return nil, err
	}
	return aggregate.FilterMonth(txs, p.Year, p.Month), nil
}

// Monthly gathers the month's records and budget status and narrates them.
// Generator failures never fail the call.
func (s *Service) Monthly(ctx context.Context, who session.Identity, year, month int) (Report, error) {
	p, err := budget.NewPeriod(year, month)
	if err != nil {
		return Report{}, err
	}

	var (
		all    []ledger.Transaction
		status map[string]budget.CategoryStatus
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		all, err = aggregate.AllTransactions(gctx, s.txs, who)
		return err
	})
	g.Go(func() error {
		var err error
		status, err = s.budgets.ComputeStatus(gctx, who, year, month)
		return err
	})
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	summary := aggregate.Summarize(all, p.Year, p.Month)
	r := Report{
		Year:          year,
		Month:         month,
		Summary:       summary,
		TopCategories: aggregate.TopCategories(summary.ByCategory, 5),
		BudgetStatus:  status,
		Transactions:  aggregate.FilterMonth(all, p.Year, p.Month),
	}

	narrative, err := s.narrate(ctx, r)
	if err != nil {
		s.logger.WarnContext(ctx, "report.narrative failed",
			"user_id", who.UserID,
			"year", year,
			"month", month,
			"error", err,
		)
		r.Narrative = FallbackNarrative
		r.NarrativeError = err.Error()
		return r, nil
	}
	r.Narrative = narrative
	return r, nil
}

func (s *Service) narrate(ctx context.Context, r Report) (string, error) {
	if s.generator == nil {
		return "", errors.New("no generator configured")
	}
	prompt, err := BuildPrompt(r)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	text, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	text = CleanNarrative(text)
	if text == "" {
		return "", ErrEmptyNarrative
	}
	return text, nil
}

// BuildPrompt renders the instructions and data sent to the generator.
func BuildPrompt(r Report) (string, error) {
	txs, err := json.MarshalIndent(r.Transactions, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode transactions: %w", err)
	}
	status, err := json.MarshalIndent(r.BudgetStatus, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode budget status: %w", err)
	}

	var b strings.Builder
	b.WriteString("You are a financial analysis assistant. Write a clean, structured monthly report.\n\n")
	fmt.Fprintf(&b, "MONTH: %04d-%02d\n\n", r.Year, r.Month)
	fmt.Fprintf(&b, "TOTAL INCOME: %s\nTOTAL OUTFLOW: %s\nNET: %s\n\n", r.Summary.Income, r.Summary.Outflow, r.Summary.Net)
	b.WriteString("### TRANSACTIONS ###\n")
	b.Write(txs)
	b.WriteString("\n\n### BUDGET STATUS ###\n")
	b.Write(status)
	b.WriteString("\n\nProvide:\n")
	b.WriteString("- Total income and total expenses\n")
	b.WriteString("- Top spending categories\n")
	b.WriteString("- Overspending alerts\n")
	b.WriteString("- Savings insights\n")
	b.WriteString("- Recommendations for next month\n")
	b.WriteString("Write in simple, friendly language. Reply with plain text only, without code fences.\n")
	return b.String(), nil
}

// CleanNarrative trims whitespace and unwraps a Markdown code fence the
// model may add despite the instructions.
func CleanNarrative(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	idx := strings.Index(s, "\n")
	if idx == -1 {
		return ""
	}
	s = s[idx+1:]
	if end := strings.LastIndex(s, "```"); end != -1 {
		s = s[:end]
	}
	return strings.TrimSpace(s)
}

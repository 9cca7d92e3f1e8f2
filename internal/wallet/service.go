package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fundstack/fundstack/internal/events"
	"github.com/fundstack/fundstack/internal/ledger"
	"github.com/fundstack/fundstack/internal/logging"
	"github.com/fundstack/fundstack/internal/retry"
	"github.com/fundstack/fundstack/internal/session"
)

// Metrics receives partial-consistency signals.
type Metrics interface {
	PartialConsistency(ctx context.Context, op, stage string)
}

type nopMetrics struct{}

func (nopMetrics) PartialConsistency(context.Context, string, string) {}

// Service enforces the balance rules on top of a ledger store.
type Service struct {
	store     ledger.Store
	publisher events.Publisher
	logger    *slog.Logger
	metrics   Metrics
	tracer    trace.Tracer
	now       func() time.Time
	ackPolicy retry.Policy
}

// Option customises a Service.
type Option func(*Service)

// WithPublisher sends committed transactions to p.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMetrics sets the partial-consistency recorder.
func WithMetrics(m Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithAckPolicy bounds the retry-until-ack loop used for the second
// balance write of a transfer and for compensation.
func WithAckPolicy(p retry.Policy) Option {
	return func(s *Service) { s.ackPolicy = p }
}

// NewService builds a wallet service instance.
func NewService(store ledger.Store, opts ...Option) *Service {
	s := &Service{
		store:     store,
		publisher: events.Nop{},
		logger:    logging.Discard(),
		metrics:   nopMetrics{},
		tracer:    otel.Tracer("github.com/fundstack/fundstack/internal/wallet"),
		now:       time.Now,
		ackPolicy: retry.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create opens a wallet for the caller.
func (s *Service) Create(ctx context.Context, who session.Identity, input CreateInput) (ledger.Wallet, error) {
	if err := who.Validate(); err != nil {
		return ledger.Wallet{}, err
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return ledger.Wallet{}, fmt.Errorf("%w: name is required", ledger.ErrInvalidWallet)
	}
	currency, err := ledger.NormalizeCurrency(input.Currency)
	if err != nil {
		return ledger.Wallet{}, err
	}
	if input.InitialBalance.IsNegative() {
		return ledger.Wallet{}, fmt.Errorf("%w: initial balance cannot be negative", ledger.ErrInvalidWallet)
	}

	now := s.now().Unix()
	w := ledger.Wallet{
		ID:             uuid.NewString(),
		OwnerID:        who.UserID,
		Name:           name,
		Currency:       currency,
		Balance:        input.InitialBalance,
		InitialBalance: input.InitialBalance,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.PutWallet(ctx, who, w); err != nil {
		return ledger.Wallet{}, err
	}
	s.logger.InfoContext(ctx, "wallet.create", "user_id", who.UserID, "wallet_id", w.ID, "currency", currency)
	return w, nil
}

// Get returns one wallet of the caller.
func (s *Service) Get(ctx context.Context, who session.Identity, walletID string) (ledger.Wallet, error) {
	return s.store.GetWallet(ctx, who, walletID)
}

// List returns the caller's wallets, oldest first. Empty when none exist.
func (s *Service) List(ctx context.Context, who session.Identity) ([]ledger.Wallet, error) {
	return s.store.ListWallets(ctx, who)
}

// Transactions returns a wallet's log in order.
func (s *Service) Transactions(ctx context.Context, who session.Identity, walletID string) ([]ledger.Transaction, error) {
	if _, err := s.store.GetWallet(ctx, who, walletID); err != nil {
		return nil, err
	}
	return s.store.ListTransactions(ctx, who, walletID)
}

// Deposit adds amount to a wallet and records it.
func (s *Service) Deposit(ctx context.Context, who session.Identity, input MovementInput) (Result, error) {
	return s.move(ctx, who, ledger.KindDeposit, input)
}

// Withdraw removes amount from a wallet and records it. The balance never
// goes below zero.
func (s *Service) Withdraw(ctx context.Context, who session.Identity, input MovementInput) (Result, error) {
	return s.move(ctx, who, ledger.KindWithdrawal, input)
}

// move runs one guarded read-modify-write: the balance is written first and
// the record is appended only once the write is acknowledged.
func (s *Service) move(ctx context.Context, who session.Identity, kind ledger.Kind, input MovementInput) (res Result, err error) {
	op := string(kind)
	ctx, span := s.tracer.Start(ctx, "wallet."+op, trace.WithAttributes(attribute.String("wallet.id", input.WalletID)))
	defer func() { endSpan(span, err) }()

	if !input.Amount.IsPositive() {
		return Result{}, ledger.ErrInvalidAmount
	}
	if err := who.Validate(); err != nil {
		return Result{}, err
	}

	unlock, err := s.store.LockWallet(ctx, who, input.WalletID)
	if err != nil {
		return Result{}, fmt.Errorf("lock wallet %s: %w", input.WalletID, err)
	}
	defer unlock()

	w, err := s.store.GetWallet(ctx, who, input.WalletID)
	if err != nil {
		return Result{}, err
	}

	newBalance := w.Balance.Add(input.Amount)
	if kind == ledger.KindWithdrawal {
		if input.Amount.GreaterThan(w.Balance) {
			return Result{}, fmt.Errorf("%w: balance %s, requested %s", ledger.ErrInsufficientFunds, w.Balance, input.Amount)
		}
		newBalance = w.Balance.Sub(input.Amount)
	}

	entry := ledger.Entry{
		WalletID:     w.ID,
		Amount:       input.Amount,
		Currency:     w.Currency,
		Category:     input.Category,
		Note:         input.Note,
		Timestamp:    s.now().Unix(),
		BalanceAfter: newBalance,
	}
	var tx ledger.Transaction
	if kind == ledger.KindDeposit {
		tx, err = ledger.NewDeposit(entry)
	} else {
		tx, err = ledger.NewWithdrawal(entry)
	}
	if err != nil {
		return Result{}, err
	}

	version, err := s.store.PatchBalance(ctx, who, w.ID, newBalance, w.Version)
	if err != nil {
		return Result{}, err
	}
	w.Balance = newBalance
	w.UpdatedAt = entry.Timestamp
	w.Version = version
	res = Result{Wallet: w, Transaction: tx}

	if _, err := s.store.AppendTransaction(ctx, who, w.ID, tx); err != nil {
		return res, s.partial(ctx, who, op, w.ID, ledger.StageAppend, err)
	}

	s.logger.InfoContext(ctx, "wallet."+op,
		"user_id", who.UserID,
		"wallet_id", w.ID,
		"amount", input.Amount.String(),
		"balance", newBalance.String(),
	)
	s.publish(ctx, who, tx)
	return res, nil
}

// Reconcile checks a wallet's stored balance against its log.
func (s *Service) Reconcile(ctx context.Context, who session.Identity, walletID string) (Reconciliation, error) {
	w, err := s.store.GetWallet(ctx, who, walletID)
	if err != nil {
		return Reconciliation{}, err
	}
	txs, err := s.store.ListTransactions(ctx, who, walletID)
	if err != nil {
		return Reconciliation{}, err
	}

	expected := w.InitialBalance
	for _, tx := range txs {
		expected = expected.Add(signedAmount(tx))
	}
	last := w.InitialBalance
	if len(txs) > 0 {
		last = txs[len(txs)-1].BalanceAfter
	}

	r := Reconciliation{
		WalletID:         w.ID,
		Balance:          w.Balance,
		Expected:         expected,
		LastBalanceAfter: last,
		Transactions:     len(txs),
		Consistent:       w.Balance.Equal(expected) && w.Balance.Equal(last),
	}
	if !r.Consistent {
		s.logger.WarnContext(ctx, "wallet.reconcile drift",
			"user_id", who.UserID,
			"wallet_id", w.ID,
			"balance", w.Balance.String(),
			"expected", expected.String(),
			"last_balance_after", last.String(),
		)
	}
	return r, nil
}

func (s *Service) partial(ctx context.Context, who session.Identity, op, walletID string, stage ledger.Stage, cause error) error {
	s.metrics.PartialConsistency(ctx, op, string(stage))
	s.logger.ErrorContext(ctx, "wallet partial consistency",
		"op", op,
		"user_id", who.UserID,
		"wallet_id", walletID,
		"stage", string(stage),
		"error", cause,
	)
	return &ledger.PartialError{Op: op, WalletID: walletID, Stage: stage, Err: cause}
}

func (s *Service) publish(ctx context.Context, who session.Identity, txs ...ledger.Transaction) {
	for _, tx := range txs {
		if err := s.publisher.Publish(ctx, events.Committed(who.UserID, tx)); err != nil {
			s.logger.WarnContext(ctx, "publish ledger event failed", "tx_id", tx.ID, "error", err)
		}
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// isTransient reports whether a failed write may succeed when retried.
func isTransient(err error) bool {
	return errors.Is(err, ledger.ErrStoreUnavailable) || errors.Is(err, ledger.ErrConflict)
}

// signedAmount returns the effect of tx on its wallet balance.
func signedAmount(tx ledger.Transaction) decimal.Decimal {
	if tx.Kind.Outflow() {
		return tx.Amount.Neg()
	}
	return tx.Amount
}

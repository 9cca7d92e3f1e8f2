package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fundstack/fundstack/internal/ledger"
	"github.com/fundstack/fundstack/internal/retry"
	"github.com/fundstack/fundstack/internal/session"
)

const opTransfer = "transfer"

// Transfer moves amount between two wallets of the caller.
//
// Both wallets are locked in id order. The source balance is written first,
// then the destination balance is retried until acknowledged. If the
// destination never acknowledges, the source write is reverted; only when
// that also fails is the transfer reported as partially committed. The two
// legs are appended after both balances are in place.
func (s *Service) Transfer(ctx context.Context, who session.Identity, input TransferInput) (res TransferResult, err error) {
	ctx, span := s.tracer.Start(ctx, "wallet.transfer", trace.WithAttributes(
		attribute.String("wallet.from", input.FromWalletID),
		attribute.String("wallet.to", input.ToWalletID),
	))
	defer func() { endSpan(span, err) }()

	if !input.Amount.IsPositive() {
		return TransferResult{}, ledger.ErrInvalidAmount
	}
	if err := who.Validate(); err != nil {
		return TransferResult{}, err
	}
	if input.FromWalletID == input.ToWalletID {
		return TransferResult{}, ledger.ErrSameWallet
	}

	first, second := input.FromWalletID, input.ToWalletID
	if second < first {
		first, second = second, first
	}
	unlockFirst, err := s.store.LockWallet(ctx, who, first)
	if err != nil {
		return TransferResult{}, fmt.Errorf("lock wallet %s: %w", first, err)
	}
	defer unlockFirst()
	unlockSecond, err := s.store.LockWallet(ctx, who, second)
	if err != nil {
		return TransferResult{}, fmt.Errorf("lock wallet %s: %w", second, err)
	}
	defer unlockSecond()

	from, err := s.store.GetWallet(ctx, who, input.FromWalletID)
	if err != nil {
		return TransferResult{}, err
	}
	to, err := s.store.GetWallet(ctx, who, input.ToWalletID)
	if err != nil {
		return TransferResult{}, err
	}
	if from.Currency != to.Currency {
		return TransferResult{}, fmt.Errorf("%w: %s to %s", ledger.ErrCurrencyMismatch, from.Currency, to.Currency)
	}
	if input.Amount.GreaterThan(from.Balance) {
		return TransferResult{}, fmt.Errorf("%w: balance %s, requested %s", ledger.ErrInsufficientFunds, from.Balance, input.Amount)
	}

	category := input.Category
	if strings.TrimSpace(category) == "" {
		category = ledger.TransferCategory
	}
	ts := s.now().Unix()
	out, in, err := ledger.NewTransferLegs(
		ledger.Entry{WalletID: from.ID, Amount: input.Amount, Currency: from.Currency, Category: category, Note: input.Note, Timestamp: ts},
		ledger.Entry{WalletID: to.ID, Amount: input.Amount, Currency: to.Currency, Category: category, Note: input.Note, Timestamp: ts},
	)
	if err != nil {
		return TransferResult{}, err
	}

	fromBalance := from.Balance.Sub(input.Amount)
	version, err := s.store.PatchBalance(ctx, who, from.ID, fromBalance, from.Version)
	if err != nil {
		return TransferResult{}, err
	}
	from.Balance, from.Version, from.UpdatedAt = fromBalance, version, ts

	// The source is debited; finish regardless of caller cancellation.
	ctx = context.WithoutCancel(ctx)

	credited, err := s.applyBalance(ctx, who, to, input.Amount)
	if err != nil {
		if _, revertErr := s.applyBalance(ctx, who, from, input.Amount); revertErr != nil {
			res = TransferResult{From: from, To: to}
			return res, s.partial(ctx, who, opTransfer, to.ID, ledger.StageDestBalance, errors.Join(err, revertErr))
		}
		s.logger.WarnContext(ctx, "wallet.transfer reverted",
			"user_id", who.UserID,
			"from_wallet", from.ID,
			"to_wallet", to.ID,
			"error", err,
		)
		return TransferResult{}, fmt.Errorf("credit wallet %s: %w", to.ID, err)
	}
	to = credited

	out.BalanceAfter = from.Balance
	in.BalanceAfter = to.Balance
	res = TransferResult{From: from, To: to, Out: out, In: in}

	if _, err := s.store.AppendTransaction(ctx, who, from.ID, out); err != nil {
		return res, s.partial(ctx, who, opTransfer, from.ID, ledger.StageAppendOut, err)
	}
	if _, err := s.store.AppendTransaction(ctx, who, to.ID, in); err != nil {
		s.publish(ctx, who, out)
		return res, s.partial(ctx, who, opTransfer, to.ID, ledger.StageAppendIn, err)
	}

	s.logger.InfoContext(ctx, "wallet.transfer",
		"user_id", who.UserID,
		"from_wallet", from.ID,
		"to_wallet", to.ID,
		"amount", input.Amount.String(),
	)
	s.publish(ctx, who, out, in)
	return res, nil
}

// applyBalance adds delta to w's balance, retrying transient failures.
// Before each retry the wallet is re-read: a previous attempt whose
// acknowledgement was lost shows up as a new version already holding the
// target balance and is accepted as applied.
func (s *Service) applyBalance(ctx context.Context, who session.Identity, w ledger.Wallet, delta decimal.Decimal) (ledger.Wallet, error) {
	base := w
	target := w.Balance.Add(delta)
	attempts := 0

	return retry.Do(ctx, s.ackPolicy, isTransient, func(ctx context.Context) (ledger.Wallet, error) {
		if attempts > 0 {
			cur, err := s.store.GetWallet(ctx, who, w.ID)
			if err != nil {
				return ledger.Wallet{}, err
			}
			if cur.Version != base.Version && cur.Balance.Equal(target) {
				return cur, nil
			}
			base = cur
			target = cur.Balance.Add(delta)
		}
		attempts++

		version, err := s.store.PatchBalance(ctx, who, w.ID, target, base.Version)
		if err != nil {
			return ledger.Wallet{}, err
		}
		next := base
		next.Balance = target
		next.Version = version
		next.UpdatedAt = s.now().Unix()
		return next, nil
	})
}

// Package ledger owns wallet and transaction records and the error taxonomy
// shared by the engines built on top of it.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/fundstack/fundstack/internal/session"
)

var (
	// ErrInvalidAmount rejects zero or negative amounts before any write.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrNotFound indicates the wallet (or other record) does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientFunds occurs when a withdrawal or transfer exceeds the
	// source wallet balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrStoreUnavailable wraps transport or backend failures.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrPartialConsistency marks a multi-step operation that committed some
	// of its writes but not all of them. Operators must reconcile.
	ErrPartialConsistency = errors.New("partial consistency")

	// ErrConflict is returned when a versioned write lost a race.
	ErrConflict = errors.New("concurrent modification")

	// ErrSameWallet rejects transfers whose source and destination match.
	ErrSameWallet = errors.New("source and destination wallet are the same")

	// ErrCurrencyMismatch rejects transfers between wallets of different currencies.
	ErrCurrencyMismatch = errors.New("currency mismatch")

	// ErrInvalidWallet rejects malformed wallet attributes.
	ErrInvalidWallet = errors.New("invalid wallet")

	// ErrInvalidTransaction rejects records that break the per-kind shape.
	ErrInvalidTransaction = errors.New("invalid transaction")
)

// Stage names a step of a multi-write operation.
type Stage string

const (
	StageBalance       Stage = "balance"
	StageSourceBalance Stage = "source_balance"
	StageDestBalance   Stage = "destination_balance"
	StageAppend        Stage = "append"
	StageAppendOut     Stage = "append_transfer_out"
	StageAppendIn      Stage = "append_transfer_in"
)

// PartialError reports which step of an operation failed after earlier
// steps had already been committed.
type PartialError struct {
	Op       string
	WalletID string
	Stage    Stage
	Err      error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("%s on wallet %s: %s failed after earlier writes committed: %v", e.Op, e.WalletID, e.Stage, e.Err)
}

// Unwrap exposes both ErrPartialConsistency and the underlying cause.
func (e *PartialError) Unwrap() []error {
	return []error{ErrPartialConsistency, e.Err}
}

// LogOnly reports whether every balance write was applied and only the
// transaction log is behind.
func (e *PartialError) LogOnly() bool {
	switch e.Stage {
	case StageAppend, StageAppendOut, StageAppendIn:
		return true
	default:
		return false
	}
}

// Store is the persistence contract the wallet engine relies on. The
// backing store has no multi-key transactions; LockWallet plus the version
// passed to PatchBalance guard each read-modify-write.
type Store interface {
	GetWallet(ctx context.Context, who session.Identity, walletID string) (Wallet, error)
	PutWallet(ctx context.Context, who session.Identity, w Wallet) error
	// PatchBalance writes balance only if the wallet is still at version.
	PatchBalance(ctx context.Context, who session.Identity, walletID string, balance decimal.Decimal, version string) (string, error)
	AppendTransaction(ctx context.Context, who session.Identity, walletID string, tx Transaction) (string, error)
	ListWallets(ctx context.Context, who session.Identity) ([]Wallet, error)
	ListTransactions(ctx context.Context, who session.Identity, walletID string) ([]Transaction, error)
	// ListAllTransactions flattens every wallet's log, each record tagged
	// with its wallet id.
	ListAllTransactions(ctx context.Context, who session.Identity) ([]Transaction, error)
	LockWallet(ctx context.Context, who session.Identity, walletID string) (unlock func(), err error)
}

// NormalizeCurrency upper-cases code and checks it is three ASCII letters.
func NormalizeCurrency(code string) (string, error) {
	c := strings.ToUpper(strings.TrimSpace(code))
	if len(c) != 3 {
		return "", fmt.Errorf("%w: currency %q must be a 3-letter code", ErrInvalidWallet, code)
	}
	for i := 0; i < len(c); i++ {
		if c[i] < 'A' || c[i] > 'Z' {
			return "", fmt.Errorf("%w: currency %q must be a 3-letter code", ErrInvalidWallet, code)
		}
	}
	return c, nil
}

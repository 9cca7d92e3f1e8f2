package wallet

import (
	"github.com/shopspring/decimal"

	"github.com/fundstack/fundstack/internal/ledger"
)

// CreateInput captures data required to open a wallet.
type CreateInput struct {
	Name           string
	Currency       string
	InitialBalance decimal.Decimal
}

// MovementInput describes a deposit or withdrawal.
type MovementInput struct {
	WalletID string
	Amount   decimal.Decimal
	Note     string
	Category string
}

// TransferInput describes a move between two wallets of the same user.
type TransferInput struct {
	FromWalletID string
	ToWalletID   string
	Amount       decimal.Decimal
	Note         string
	Category     string
}

// Result is the outcome of a deposit or withdrawal.
type Result struct {
	Wallet      ledger.Wallet
	Transaction ledger.Transaction
}

// TransferResult describes both sides of a completed transfer.
type TransferResult struct {
	From ledger.Wallet
	To   ledger.Wallet
	Out  ledger.Transaction
	In   ledger.Transaction
}

// Reconciliation compares a wallet balance with its transaction log.
type Reconciliation struct {
	WalletID string
	Balance  decimal.Decimal
	// Expected is the initial balance plus the signed sum of the log.
	Expected decimal.Decimal
	// LastBalanceAfter is the post-balance of the newest record, or the
	// initial balance when the log is empty.
	LastBalanceAfter decimal.Decimal
	Transactions     int
	Consistent       bool
}

// Drift is how far the stored balance is from the log.
func (r Reconciliation) Drift() decimal.Decimal {
	return r.Balance.Sub(r.Expected)
}

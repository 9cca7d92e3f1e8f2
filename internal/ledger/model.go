package ledger

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	// DefaultCategory is used when a record carries no category.
	DefaultCategory = "General"
	// TransferCategory is the default category for transfers.
	TransferCategory = "Transfer"
)

// Kind enumerates the balance-affecting events.
type Kind string

const (
	KindDeposit     Kind = "deposit"
	KindWithdrawal  Kind = "withdrawal"
	KindTransferOut Kind = "transfer_out"
	KindTransferIn  Kind = "transfer_in"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindDeposit, KindWithdrawal, KindTransferOut, KindTransferIn:
		return true
	}
	return false
}

// Outflow reports whether k decreases a balance.
func (k Kind) Outflow() bool {
	return k == KindWithdrawal || k == KindTransferOut
}

// Wallet is a named balance owned by one user. Version is the store token
// read alongside the record and is never persisted.
type Wallet struct {
	ID             string          `json:"id"`
	OwnerID        string          `json:"owner_id"`
	Name           string          `json:"name"`
	Currency       string          `json:"currency"`
	Balance        decimal.Decimal `json:"balance"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
	CreatedAt      int64           `json:"created_at"`
	UpdatedAt      int64           `json:"updated_at,omitempty"`
	Version        string          `json:"-"`
}

// Transaction is an immutable ledger record. ToWallet is only set on
// transfer_out legs and FromWallet only on transfer_in legs.
type Transaction struct {
	ID           string          `json:"id"`
	WalletID     string          `json:"wallet_id"`
	Kind         Kind            `json:"type"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	Category     string          `json:"category,omitempty"`
	Note         string          `json:"note"`
	Timestamp    int64           `json:"timestamp"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	ToWallet     string          `json:"to_wallet,omitempty"`
	FromWallet   string          `json:"from_wallet,omitempty"`
}

// Entry holds the fields shared by every kind of record.
type Entry struct {
	WalletID     string
	Amount       decimal.Decimal
	Currency     string
	Category     string
	Note         string
	Timestamp    int64
	BalanceAfter decimal.Decimal
}

func (e Entry) record(kind Kind) Transaction {
	return Transaction{
		ID:           newTransactionID(),
		WalletID:     e.WalletID,
		Kind:         kind,
		Amount:       e.Amount,
		Currency:     e.Currency,
		Category:     e.Category,
		Note:         e.Note,
		Timestamp:    e.Timestamp,
		BalanceAfter: e.BalanceAfter,
	}
}

// NewDeposit builds a validated deposit record.
func NewDeposit(e Entry) (Transaction, error) {
	tx := e.record(KindDeposit).Normalize()
	return tx, tx.Validate()
}

// NewWithdrawal builds a validated withdrawal record.
func NewWithdrawal(e Entry) (Transaction, error) {
	tx := e.record(KindWithdrawal).Normalize()
	return tx, tx.Validate()
}

// NewTransferLegs builds the two records of a transfer. Both legs must carry
// the same amount and timestamp.
func NewTransferLegs(from, to Entry) (out, in Transaction, err error) {
	if !from.Amount.Equal(to.Amount) || from.Timestamp != to.Timestamp {
		return Transaction{}, Transaction{}, fmt.Errorf("%w: transfer legs must share amount and timestamp", ErrInvalidTransaction)
	}
	out = from.record(KindTransferOut)
	out.ToWallet = to.WalletID
	out = out.Normalize()
	in = to.record(KindTransferIn)
	in.FromWallet = from.WalletID
	in = in.Normalize()
	if err := out.Validate(); err != nil {
		return Transaction{}, Transaction{}, err
	}
	if err := in.Validate(); err != nil {
		return Transaction{}, Transaction{}, err
	}
	return out, in, nil
}

// Normalize fills defaults for records written before category existed.
func (t Transaction) Normalize() Transaction {
	if strings.TrimSpace(t.Category) == "" {
		t.Category = DefaultCategory
	}
	return t
}

// Validate checks the per-kind shape of the record.
func (t Transaction) Validate() error {
	if !t.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidTransaction, t.Kind)
	}
	if t.ID == "" || t.WalletID == "" {
		return fmt.Errorf("%w: id and wallet id are required", ErrInvalidTransaction)
	}
	if !t.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	switch t.Kind {
	case KindTransferOut:
		if t.ToWallet == "" || t.FromWallet != "" {
			return fmt.Errorf("%w: transfer_out needs to_wallet only", ErrInvalidTransaction)
		}
	case KindTransferIn:
		if t.FromWallet == "" || t.ToWallet != "" {
			return fmt.Errorf("%w: transfer_in needs from_wallet only", ErrInvalidTransaction)
		}
	default:
		if t.ToWallet != "" || t.FromWallet != "" {
			return fmt.Errorf("%w: %s cannot reference another wallet", ErrInvalidTransaction, t.Kind)
		}
	}
	return nil
}

// SortTransactions orders records by timestamp, then id. Ids are
// time-ordered so ties keep insertion order.
func SortTransactions(txs []Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		if txs[i].Timestamp != txs[j].Timestamp {
			return txs[i].Timestamp < txs[j].Timestamp
		}
		return txs[i].ID < txs[j].ID
	})
}

func newTransactionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

package events

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/fundstack/fundstack/internal/docstore"
)

// CSVHeader is written once at the top of every audit file.
var CSVHeader = []string{
	"timestamp", "wallet_id", "type", "amount", "currency", "category",
	"note", "balance_after", "from_wallet", "to_wallet",
}

// CSVSink appends committed transactions to one CSV file per user.
type CSVSink struct {
	dir string
	mu  sync.Mutex
}

// NewCSVSink writes audit files under dir, creating it if needed.
func NewCSVSink(dir string) (*CSVSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	return &CSVSink{dir: dir}, nil
}

// Path returns the audit file for userID.
func (s *CSVSink) Path(userID string) string {
	return filepath.Join(s.dir, docstore.EscapeKey(userID)+".csv")
}

// Publish appends one row for the event's transaction.
func (s *CSVSink) Publish(_ context.Context, event Event) error {
	if event.UserID == "" {
		return fmt.Errorf("csv audit: event without user id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.Path(event.UserID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat audit file: %w", err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(CSVHeader); err != nil {
			return fmt.Errorf("write audit header: %w", err)
		}
	}
	tx := event.Transaction
	row := []string{
		strconv.FormatInt(tx.Timestamp, 10),
		tx.WalletID,
		string(tx.Kind),
		tx.Amount.String(),
		tx.Currency,
		tx.Category,
		tx.Note,
		tx.BalanceAfter.String(),
		tx.FromWallet,
		tx.ToWallet,
	}
	if err := w.Write(row); err != nil {
		return fmt.Errorf("write audit row: %w", err)
	}
	w.Flush()
	return w.Error()
}

// Package events fans committed ledger records out to downstream consumers:
// the structured log, a message broker, and per-user CSV audit files.
package events

import (
	"context"
	"errors"
	"log/slog"

	"github.com/fundstack/fundstack/internal/ledger"
)

const (
	// KindTransactionCommitted is emitted once per appended transaction.
	KindTransactionCommitted = "transaction.committed"
)

// Event describes one committed ledger record.
type Event struct {
	Kind        string             `json:"kind"`
	UserID      string             `json:"user_id"`
	Transaction ledger.Transaction `json:"transaction"`
}

// Committed wraps tx into a transaction.committed event.
func Committed(userID string, tx ledger.Transaction) Event {
	return Event{Kind: KindTransactionCommitted, UserID: userID, Transaction: tx}
}

// Publisher delivers events to downstream systems.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// LoggerPublisher writes events to the structured logger.
type LoggerPublisher struct {
	logger *slog.Logger
}

// NewLoggerPublisher constructs a logging publisher.
func NewLoggerPublisher(logger *slog.Logger) *LoggerPublisher {
	return &LoggerPublisher{logger: logger}
}

// Publish writes the event to the structured logger.
func (p *LoggerPublisher) Publish(ctx context.Context, event Event) error {
	if p == nil || p.logger == nil {
		return nil
	}
	tx := event.Transaction
	p.logger.InfoContext(ctx, "ledger event",
		"kind", event.Kind,
		"user_id", event.UserID,
		"wallet_id", tx.WalletID,
		"tx_id", tx.ID,
		"type", string(tx.Kind),
		"amount", tx.Amount.String(),
		"balance_after", tx.BalanceAfter.String(),
	)
	return nil
}

// Multi publishes to every wrapped publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

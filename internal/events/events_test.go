package events

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/fundstack/fundstack/internal/ledger"
	"github.com/fundstack/fundstack/internal/logging"
)

func sampleTx(kind ledger.Kind) ledger.Transaction {
	tx := ledger.Transaction{
		ID:           "tx-1",
		WalletID:     "w1",
		Kind:         kind,
		Amount:       decimal.NewFromInt(200),
		Currency:     "INR",
		Category:     "Rent",
		Note:         "march, flat",
		Timestamp:    1714521600,
		BalanceAfter: decimal.NewFromInt(300),
	}
	if kind == ledger.KindTransferOut {
		tx.ToWallet = "w2"
	}
	return tx
}

func TestCSVSinkWritesHeaderOnce(t *testing.T) {
	sink, err := NewCSVSink(t.TempDir())
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	ctx := context.Background()
	for _, kind := range []ledger.Kind{ledger.KindTransferOut, ledger.KindDeposit} {
		if err := sink.Publish(ctx, Committed("alice", sampleTx(kind))); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	f, err := os.Open(sink.Path("alice"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header plus two rows, got %d", len(rows))
	}
	if rows[0][0] != "timestamp" || rows[0][9] != "to_wallet" {
		t.Fatalf("unexpected header %v", rows[0])
	}
	want := []string{"1714521600", "w1", "transfer_out", "200", "INR", "Rent", "march, flat", "300", "", "w2"}
	for i, v := range want {
		if rows[1][i] != v {
			t.Fatalf("column %d: expected %q, got %q", i, v, rows[1][i])
		}
	}
	if rows[2][2] != "deposit" || rows[2][9] != "" {
		t.Fatalf("unexpected deposit row %v", rows[2])
	}
}

func TestCSVSinkSeparatesUsers(t *testing.T) {
	sink, err := NewCSVSink(t.TempDir())
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	if sink.Path("alice") == sink.Path("bob") {
		t.Fatal("expected per-user files")
	}
	if err := sink.Publish(context.Background(), Event{Kind: KindTransactionCommitted}); err == nil {
		t.Fatal("expected error for event without user")
	}
}

type recordingPublisher struct {
	events []Event
	err    error
}

func (r *recordingPublisher) Publish(_ context.Context, e Event) error {
	r.events = append(r.events, e)
	return r.err
}

func TestMultiPublishesToAllAndJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	a := &recordingPublisher{}
	b := &recordingPublisher{err: boom}
	m := Multi{a, nil, b, NewLoggerPublisher(logging.Discard())}

	err := m.Publish(context.Background(), Committed("alice", sampleTx(ledger.KindDeposit)))
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("expected every publisher to see the event: %d %d", len(a.events), len(b.events))
	}
}

func TestHandleDelivery(t *testing.T) {
	body, err := json.Marshal(Committed("alice", sampleTx(ledger.KindDeposit)))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got Event
	err = HandleDelivery(context.Background(), body, func(_ context.Context, e Event) error {
		got = e
		return nil
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got.UserID != "alice" || !got.Transaction.Amount.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("unexpected event %+v", got)
	}

	var decodeErr *DecodeError
	if err := HandleDelivery(context.Background(), []byte("{"), nil); !errors.As(err, &decodeErr) {
		t.Fatalf("expected decode error, got %v", err)
	}
	if err := HandleDelivery(context.Background(), []byte(`{"kind":"x"}`), nil); !errors.As(err, &decodeErr) {
		t.Fatalf("expected decode error for missing user, got %v", err)
	}
}

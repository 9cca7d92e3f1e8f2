package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fundstack/fundstack/internal/docstore"
	"github.com/fundstack/fundstack/internal/ledger"
	"github.com/fundstack/fundstack/internal/retry"
	"github.com/fundstack/fundstack/internal/session"
)

var (
	alice  = session.New("alice", "token-a")
	fixedT = time.Date(2024, time.May, 10, 9, 0, 0, 0, time.UTC)
)

type recordingMetrics struct {
	mu     sync.Mutex
	stages []string
}

func (m *recordingMetrics) PartialConsistency(_ context.Context, op, stage string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stages = append(m.stages, op+":"+stage)
}

type fixture struct {
	svc     *Service
	faulty  *docstore.Faulty
	metrics *recordingMetrics
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	return newFixtureOver(t, docstore.NewMemory())
}

func newFixtureOver(t *testing.T, inner docstore.Store) fixture {
	t.Helper()
	faulty := docstore.NewFaulty(inner)
	metrics := &recordingMetrics{}
	svc := NewService(ledger.NewDocumentStore(faulty, nil),
		WithClock(func() time.Time { return fixedT }),
		WithMetrics(metrics),
		WithAckPolicy(retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}),
	)
	return fixture{svc: svc, faulty: faulty, metrics: metrics}
}

func (f fixture) create(t *testing.T, name string, balance int64) ledger.Wallet {
	t.Helper()
	w, err := f.svc.Create(context.Background(), alice, CreateInput{Name: name, Currency: "inr", InitialBalance: decimal.NewFromInt(balance)})
	if err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	return w
}

func (f fixture) balance(t *testing.T, walletID string) decimal.Decimal {
	t.Helper()
	w, err := f.svc.Get(context.Background(), alice, walletID)
	if err != nil {
		t.Fatalf("get %s: %v", walletID, err)
	}
	return w.Balance
}

func (f fixture) history(t *testing.T, walletID string) []ledger.Transaction {
	t.Helper()
	txs, err := f.svc.Transactions(context.Background(), alice, walletID)
	if err != nil {
		t.Fatalf("transactions %s: %v", walletID, err)
	}
	return txs
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func unavailable(string, string) error { return fmt.Errorf("%w: injected", docstore.ErrUnavailable) }

func TestDepositAndTransferScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w1 := f.create(t, "W1", 0)
	w2 := f.create(t, "W2", 0)
	if w1.Currency != "INR" {
		t.Fatalf("expected currency to be normalised, got %s", w1.Currency)
	}

	if _, err := f.svc.Deposit(ctx, alice, MovementInput{WalletID: w1.ID, Amount: dec(500), Category: "Salary"}); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	res, err := f.svc.Transfer(ctx, alice, TransferInput{FromWalletID: w1.ID, ToWalletID: w2.ID, Amount: dec(200), Category: "Rent"})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if !res.From.Balance.Equal(dec(300)) || !res.To.Balance.Equal(dec(200)) {
		t.Fatalf("unexpected result balances %s / %s", res.From.Balance, res.To.Balance)
	}

	if got := f.balance(t, w1.ID); !got.Equal(dec(300)) {
		t.Fatalf("expected W1 balance 300, got %s", got)
	}
	if got := f.balance(t, w2.ID); !got.Equal(dec(200)) {
		t.Fatalf("expected W2 balance 200, got %s", got)
	}

	h1 := f.history(t, w1.ID)
	if len(h1) != 2 || h1[0].Kind != ledger.KindDeposit || h1[1].Kind != ledger.KindTransferOut {
		t.Fatalf("unexpected W1 history %+v", h1)
	}
	if h1[0].Category != "Salary" || h1[1].Category != "Rent" {
		t.Fatalf("unexpected categories %q %q", h1[0].Category, h1[1].Category)
	}
	h2 := f.history(t, w2.ID)
	if len(h2) != 1 || h2[0].Kind != ledger.KindTransferIn {
		t.Fatalf("unexpected W2 history %+v", h2)
	}

	out, in := h1[1], h2[0]
	if !out.Amount.Equal(in.Amount) || out.Timestamp != in.Timestamp {
		t.Fatalf("legs must share amount and timestamp: %+v %+v", out, in)
	}
	if out.ToWallet != w2.ID || in.FromWallet != w1.ID {
		t.Fatalf("legs must cross-reference: to=%s from=%s", out.ToWallet, in.FromWallet)
	}
	if !out.BalanceAfter.Equal(dec(300)) || !in.BalanceAfter.Equal(dec(200)) {
		t.Fatalf("unexpected balance_after %s / %s", out.BalanceAfter, in.BalanceAfter)
	}
}

func TestNonPositiveAmountsRejectedWithoutSideEffects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w1 := f.create(t, "W1", 100)
	w2 := f.create(t, "W2", 0)

	for _, amount := range []decimal.Decimal{decimal.Zero, dec(-5)} {
		if _, err := f.svc.Deposit(ctx, alice, MovementInput{WalletID: w1.ID, Amount: amount}); !errors.Is(err, ledger.ErrInvalidAmount) {
			t.Fatalf("deposit %s: expected invalid amount, got %v", amount, err)
		}
		if _, err := f.svc.Withdraw(ctx, alice, MovementInput{WalletID: w1.ID, Amount: amount}); !errors.Is(err, ledger.ErrInvalidAmount) {
			t.Fatalf("withdraw %s: expected invalid amount, got %v", amount, err)
		}
		if _, err := f.svc.Transfer(ctx, alice, TransferInput{FromWalletID: w1.ID, ToWalletID: w2.ID, Amount: amount}); !errors.Is(err, ledger.ErrInvalidAmount) {
			t.Fatalf("transfer %s: expected invalid amount, got %v", amount, err)
		}
	}
	if got := f.balance(t, w1.ID); !got.Equal(dec(100)) {
		t.Fatalf("balance changed to %s", got)
	}
	if len(f.history(t, w1.ID)) != 0 || len(f.history(t, w2.ID)) != 0 {
		t.Fatal("expected no transactions")
	}
}

func TestInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w1 := f.create(t, "W1", 50)
	w2 := f.create(t, "W2", 0)

	if _, err := f.svc.Withdraw(ctx, alice, MovementInput{WalletID: w1.ID, Amount: dec(51)}); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if _, err := f.svc.Transfer(ctx, alice, TransferInput{FromWalletID: w1.ID, ToWalletID: w2.ID, Amount: dec(51)}); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds on transfer, got %v", err)
	}
	if got := f.balance(t, w1.ID); !got.Equal(dec(50)) {
		t.Fatalf("balance changed to %s", got)
	}
	if got := f.balance(t, w2.ID); got.Sign() != 0 {
		t.Fatalf("destination changed to %s", got)
	}

	res, err := f.svc.Withdraw(ctx, alice, MovementInput{WalletID: w1.ID, Amount: dec(50)})
	if err != nil {
		t.Fatalf("withdraw full balance: %v", err)
	}
	if !res.Wallet.Balance.IsZero() {
		t.Fatalf("expected zero balance, got %s", res.Wallet.Balance)
	}
}

func TestNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w1 := f.create(t, "W1", 10)

	if _, err := f.svc.Deposit(ctx, alice, MovementInput{WalletID: "missing", Amount: dec(1)}); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := f.svc.Transfer(ctx, alice, TransferInput{FromWalletID: w1.ID, ToWalletID: "missing", Amount: dec(1)}); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected not found for destination, got %v", err)
	}
	if _, err := f.svc.Transactions(ctx, alice, "missing"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected not found for history, got %v", err)
	}
	if got := f.balance(t, w1.ID); !got.Equal(dec(10)) {
		t.Fatalf("balance changed to %s", got)
	}
}

func TestTransferRejectsSameWalletAndCurrencyMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w1 := f.create(t, "W1", 100)
	usd, err := f.svc.Create(ctx, alice, CreateInput{Name: "USD", Currency: "usd"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := f.svc.Transfer(ctx, alice, TransferInput{FromWalletID: w1.ID, ToWalletID: w1.ID, Amount: dec(1)}); !errors.Is(err, ledger.ErrSameWallet) {
		t.Fatalf("expected same wallet error, got %v", err)
	}
	if _, err := f.svc.Transfer(ctx, alice, TransferInput{FromWalletID: w1.ID, ToWalletID: usd.ID, Amount: dec(1)}); !errors.Is(err, ledger.ErrCurrencyMismatch) {
		t.Fatalf("expected currency mismatch, got %v", err)
	}
	if got := f.balance(t, w1.ID); !got.Equal(dec(100)) {
		t.Fatalf("balance changed to %s", got)
	}
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cases := []CreateInput{
		{Name: "", Currency: "INR"},
		{Name: "x", Currency: "RUPEES"},
		{Name: "x", Currency: "INR", InitialBalance: dec(-1)},
	}
	for _, in := range cases {
		if _, err := f.svc.Create(ctx, alice, in); !errors.Is(err, ledger.ErrInvalidWallet) {
			t.Fatalf("%+v: expected invalid wallet, got %v", in, err)
		}
	}
	if _, err := f.svc.Create(ctx, session.Identity{}, CreateInput{Name: "x", Currency: "INR"}); !errors.Is(err, session.ErrNoIdentity) {
		t.Fatalf("expected missing identity, got %v", err)
	}
}

func TestListEmpty(t *testing.T) {
	f := newFixture(t)
	wallets, err := f.svc.List(context.Background(), alice)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if wallets == nil || len(wallets) != 0 {
		t.Fatalf("expected empty slice, got %#v", wallets)
	}
}

func TestBalanceMatchesSignedSumOfLog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w1 := f.create(t, "W1", 1000)
	w2 := f.create(t, "W2", 250)

	steps := []func() error{
		func() error { _, err := f.svc.Deposit(ctx, alice, MovementInput{WalletID: w1.ID, Amount: decimal.RequireFromString("12.50")}); return err },
		func() error { _, err := f.svc.Withdraw(ctx, alice, MovementInput{WalletID: w1.ID, Amount: dec(300)}); return err },
		func() error {
			_, err := f.svc.Transfer(ctx, alice, TransferInput{FromWalletID: w2.ID, ToWalletID: w1.ID, Amount: dec(200)})
			return err
		},
		func() error {
			_, err := f.svc.Transfer(ctx, alice, TransferInput{FromWalletID: w1.ID, ToWalletID: w2.ID, Amount: decimal.RequireFromString("0.75")})
			return err
		},
		func() error { _, err := f.svc.Withdraw(ctx, alice, MovementInput{WalletID: w2.ID, Amount: dec(40)}); return err },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	for _, w := range []ledger.Wallet{w1, w2} {
		r, err := f.svc.Reconcile(ctx, alice, w.ID)
		if err != nil {
			t.Fatalf("reconcile: %v", err)
		}
		if !r.Consistent || !r.Drift().IsZero() {
			t.Fatalf("wallet %s inconsistent: %+v", w.Name, r)
		}
	}
	if got := f.balance(t, w1.ID); !got.Equal(decimal.RequireFromString("911.75")) {
		t.Fatalf("unexpected W1 balance %s", got)
	}
	if got := f.balance(t, w2.ID); !got.Equal(decimal.RequireFromString("10.75")) {
		t.Fatalf("unexpected W2 balance %s", got)
	}
}

func TestConcurrentDepositsDoNotLoseUpdates(t *testing.T) {
	f := newFixture(t)
	w := f.create(t, "W1", 0)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.Deposit(context.Background(), alice, MovementInput{WalletID: w.ID, Amount: dec(5)}); err != nil {
				t.Errorf("deposit: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := f.balance(t, w.ID); !got.Equal(dec(100)) {
		t.Fatalf("expected 100 after concurrent deposits, got %s", got)
	}
	if n := len(f.history(t, w.ID)); n != 20 {
		t.Fatalf("expected 20 transactions, got %d", n)
	}
}

func TestBalanceWriteFailureAppendsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.create(t, "W1", 100)

	f.faulty.SetHook(func(op, _ string) error {
		if op == docstore.OpPatch {
			return unavailable(op, "")
		}
		return nil
	})
	_, err := f.svc.Deposit(ctx, alice, MovementInput{WalletID: w.ID, Amount: dec(10)})
	if !errors.Is(err, ledger.ErrStoreUnavailable) || errors.Is(err, ledger.ErrPartialConsistency) {
		t.Fatalf("expected plain store failure, got %v", err)
	}
	f.faulty.SetHook(nil)

	if got := f.balance(t, w.ID); !got.Equal(dec(100)) {
		t.Fatalf("balance changed to %s", got)
	}
	if len(f.history(t, w.ID)) != 0 {
		t.Fatal("expected no transaction after failed balance write")
	}
}

func TestAppendFailureIsPartial(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.create(t, "W1", 100)

	f.faulty.SetHook(func(op, path string) error {
		if op == docstore.OpPut && strings.Contains(path, "/transactions/") {
			return unavailable(op, path)
		}
		return nil
	})
	res, err := f.svc.Withdraw(ctx, alice, MovementInput{WalletID: w.ID, Amount: dec(30)})
	f.faulty.SetHook(nil)

	var pe *ledger.PartialError
	if !errors.As(err, &pe) || pe.Stage != ledger.StageAppend || pe.Op != "withdrawal" {
		t.Fatalf("expected partial append error, got %v", err)
	}
	if !errors.Is(err, ledger.ErrPartialConsistency) || !errors.Is(err, ledger.ErrStoreUnavailable) {
		t.Fatalf("expected both sentinels, got %v", err)
	}
	if !res.Wallet.Balance.Equal(dec(70)) {
		t.Fatalf("expected committed balance in result, got %s", res.Wallet.Balance)
	}
	if len(f.metrics.stages) != 1 || f.metrics.stages[0] != "withdrawal:append" {
		t.Fatalf("expected one partial metric, got %v", f.metrics.stages)
	}

	r, err := f.svc.Reconcile(ctx, alice, w.ID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if r.Consistent || !r.Drift().Equal(dec(-30)) {
		t.Fatalf("expected drift of -30, got %+v", r)
	}
}

func TestTransferRetriesDestinationWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w1 := f.create(t, "W1", 100)
	w2 := f.create(t, "W2", 0)

	var mu sync.Mutex
	failures := 2
	f.faulty.SetHook(func(op, path string) error {
		mu.Lock()
		defer mu.Unlock()
		if op == docstore.OpPatch && strings.HasSuffix(path, w2.ID) && failures > 0 {
			failures--
			return unavailable(op, path)
		}
		return nil
	})
	if _, err := f.svc.Transfer(ctx, alice, TransferInput{FromWalletID: w1.ID, ToWalletID: w2.ID, Amount: dec(40)}); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	f.faulty.SetHook(nil)

	if got := f.balance(t, w2.ID); !got.Equal(dec(40)) {
		t.Fatalf("expected destination 40, got %s", got)
	}
	if got := f.balance(t, w1.ID); !got.Equal(dec(60)) {
		t.Fatalf("expected source 60, got %s", got)
	}
}

// lostAck applies a write and then reports it as failed, once.
type lostAck struct {
	docstore.Store
	mu     sync.Mutex
	target string
	armed  bool
}

func (l *lostAck) Patch(ctx context.Context, path string, fields map[string]any, ifVersion string) (string, error) {
	v, err := l.Store.Patch(ctx, path, fields, ifVersion)
	l.mu.Lock()
	defer l.mu.Unlock()
	if err == nil && l.armed && strings.HasSuffix(path, l.target) {
		l.armed = false
		return "", fmt.Errorf("%w: response lost", docstore.ErrUnavailable)
	}
	return v, err
}

func TestTransferDestinationLostAckIsNotAppliedTwice(t *testing.T) {
	inner := &lostAck{Store: docstore.NewMemory()}
	f := newFixtureOver(t, inner)
	ctx := context.Background()
	w1 := f.create(t, "W1", 100)
	w2 := f.create(t, "W2", 10)

	inner.mu.Lock()
	inner.target, inner.armed = w2.ID, true
	inner.mu.Unlock()

	res, err := f.svc.Transfer(ctx, alice, TransferInput{FromWalletID: w1.ID, ToWalletID: w2.ID, Amount: dec(25)})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := f.balance(t, w2.ID); !got.Equal(dec(35)) {
		t.Fatalf("expected destination 35, got %s", got)
	}
	if !res.In.BalanceAfter.Equal(dec(35)) {
		t.Fatalf("expected in leg balance_after 35, got %s", res.In.BalanceAfter)
	}
}

func TestTransferCompensatesWhenDestinationFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w1 := f.create(t, "W1", 100)
	w2 := f.create(t, "W2", 0)

	f.faulty.SetHook(func(op, path string) error {
		if op == docstore.OpPatch && strings.HasSuffix(path, w2.ID) {
			return unavailable(op, path)
		}
		return nil
	})
	_, err := f.svc.Transfer(ctx, alice, TransferInput{FromWalletID: w1.ID, ToWalletID: w2.ID, Amount: dec(40)})
	f.faulty.SetHook(nil)

	if !errors.Is(err, ledger.ErrStoreUnavailable) || errors.Is(err, ledger.ErrPartialConsistency) {
		t.Fatalf("expected reverted store failure, got %v", err)
	}
	if got := f.balance(t, w1.ID); !got.Equal(dec(100)) {
		t.Fatalf("expected source restored to 100, got %s", got)
	}
	if len(f.history(t, w1.ID)) != 0 || len(f.history(t, w2.ID)) != 0 {
		t.Fatal("expected no transfer legs")
	}
	if len(f.metrics.stages) != 0 {
		t.Fatalf("expected no partial metrics, got %v", f.metrics.stages)
	}
}

func TestTransferPartialWhenRevertFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w1 := f.create(t, "W1", 100)
	w2 := f.create(t, "W2", 0)

	var mu sync.Mutex
	sourceWrites := 0
	f.faulty.SetHook(func(op, path string) error {
		if op != docstore.OpPatch {
			return nil
		}
		if strings.HasSuffix(path, w2.ID) {
			return unavailable(op, path)
		}
		mu.Lock()
		defer mu.Unlock()
		sourceWrites++
		if sourceWrites > 1 {
			return unavailable(op, path)
		}
		return nil
	})
	res, err := f.svc.Transfer(ctx, alice, TransferInput{FromWalletID: w1.ID, ToWalletID: w2.ID, Amount: dec(40)})
	f.faulty.SetHook(nil)

	var pe *ledger.PartialError
	if !errors.As(err, &pe) || pe.Stage != ledger.StageDestBalance {
		t.Fatalf("expected partial destination error, got %v", err)
	}
	if !res.From.Balance.Equal(dec(60)) {
		t.Fatalf("expected debited source in result, got %s", res.From.Balance)
	}
	if got := f.balance(t, w1.ID); !got.Equal(dec(60)) {
		t.Fatalf("expected source left at 60, got %s", got)
	}
	if len(f.metrics.stages) != 1 || f.metrics.stages[0] != "transfer:destination_balance" {
		t.Fatalf("unexpected metrics %v", f.metrics.stages)
	}
}

func TestTransferPartialWhenInLegFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w1 := f.create(t, "W1", 100)
	w2 := f.create(t, "W2", 0)

	f.faulty.SetHook(func(op, path string) error {
		if op == docstore.OpPut && strings.Contains(path, w2.ID+"/transactions/") {
			return unavailable(op, path)
		}
		return nil
	})
	_, err := f.svc.Transfer(ctx, alice, TransferInput{FromWalletID: w1.ID, ToWalletID: w2.ID, Amount: dec(40)})
	f.faulty.SetHook(nil)

	var pe *ledger.PartialError
	if !errors.As(err, &pe) || pe.Stage != ledger.StageAppendIn || pe.WalletID != w2.ID {
		t.Fatalf("expected partial in-leg error, got %v", err)
	}
	if got := f.balance(t, w2.ID); !got.Equal(dec(40)) {
		t.Fatalf("expected destination credited, got %s", got)
	}
	if len(f.history(t, w1.ID)) != 1 || len(f.history(t, w2.ID)) != 0 {
		t.Fatal("expected only the out leg to be recorded")
	}
}

package budget

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fundstack/fundstack/internal/docstore"
	"github.com/fundstack/fundstack/internal/ledger"
	"github.com/fundstack/fundstack/internal/session"
	"github.com/fundstack/fundstack/internal/wallet"
)

var alice = session.New("alice", "token-a")

type fixture struct {
	budgets *Service
	wallets *wallet.Service
	faulty  *docstore.Faulty
}

func newFixture(t *testing.T, clock time.Time) fixture {
	t.Helper()
	faulty := docstore.NewFaulty(docstore.NewMemory())
	store := ledger.NewDocumentStore(faulty, nil)
	svc := NewService(NewDocumentRepository(faulty), store, nil)
	svc.now = func() time.Time { return clock }
	return fixture{
		budgets: svc,
		wallets: wallet.NewService(store, wallet.WithClock(func() time.Time { return clock })),
		faulty:  faulty,
	}
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestFoodOverspentInMay(t *testing.T) {
	may := time.Date(2024, time.May, 15, 10, 0, 0, 0, time.UTC)
	f := newFixture(t, may)
	ctx := context.Background()

	if _, err := f.budgets.SetBudget(ctx, alice, 2024, 5, "Food", dec(3000)); err != nil {
		t.Fatalf("set budget: %v", err)
	}
	w, err := f.wallets.Create(ctx, alice, wallet.CreateInput{Name: "Main", Currency: "INR", InitialBalance: dec(10000)})
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	for _, amt := range []int64{1000, 2500} {
		if _, err := f.wallets.Withdraw(ctx, alice, wallet.MovementInput{WalletID: w.ID, Amount: dec(amt), Category: "Food"}); err != nil {
			t.Fatalf("withdraw: %v", err)
		}
	}
	if _, err := f.wallets.Withdraw(ctx, alice, wallet.MovementInput{WalletID: w.ID, Amount: dec(99), Category: "Fuel"}); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	status, err := f.budgets.ComputeStatus(ctx, alice, 2024, 5)
	if err != nil {
		t.Fatalf("compute status: %v", err)
	}
	if len(status) != 1 {
		t.Fatalf("expected only budgeted categories, got %v", status)
	}
	food := status["Food"]
	if !food.Limit.Equal(dec(3000)) || !food.Spent.Equal(dec(3500)) || !food.Remaining.Equal(dec(-500)) || food.Status != StatusOverspent {
		t.Fatalf("unexpected Food status %+v", food)
	}

	other, err := f.budgets.ComputeStatus(ctx, alice, 2024, 6)
	if err != nil {
		t.Fatalf("compute status: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("expected no June budgets, got %v", other)
	}
}

func TestStatusRemainingAndZeroSpend(t *testing.T) {
	budgets := map[string]Budget{
		"Over":  {Category: "Over", Limit: dec(100)},
		"Under": {Category: "Under", Limit: dec(100)},
		"Exact": {Category: "Exact", Limit: dec(50)},
		"Idle":  {Category: "Idle", Limit: dec(10)},
	}
	spend := map[string]decimal.Decimal{
		"Over":     dec(120),
		"Under":    dec(60),
		"Exact":    dec(50),
		"Unbudget": dec(999),
	}
	got := Status(budgets, spend)

	checks := map[string]struct {
		remaining int64
		status    string
	}{
		"Over":  {-20, StatusOverspent},
		"Under": {40, StatusOK},
		"Exact": {0, StatusOK},
		"Idle":  {10, StatusOK},
	}
	if len(got) != len(checks) {
		t.Fatalf("unexpected categories %v", got)
	}
	for c, want := range checks {
		s := got[c]
		if !s.Remaining.Equal(dec(want.remaining)) || s.Status != want.status {
			t.Fatalf("%s: expected %d %s, got %+v", c, want.remaining, want.status, s)
		}
	}
	if !got["Idle"].Spent.IsZero() {
		t.Fatalf("expected zero spend, got %s", got["Idle"].Spent)
	}
}

func TestSetBudgetOverwritesAndValidates(t *testing.T) {
	f := newFixture(t, time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	empty, err := f.budgets.GetBudgets(ctx, alice, 2024, 5)
	if err != nil {
		t.Fatalf("get budgets: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty map, got %#v", empty)
	}

	for _, limit := range []int64{100, 250} {
		if _, err := f.budgets.SetBudget(ctx, alice, 2024, 5, "Eating/Out", dec(limit)); err != nil {
			t.Fatalf("set budget: %v", err)
		}
	}
	if _, err := f.budgets.SetBudget(ctx, alice, 2024, 5, "  ", dec(40)); err != nil {
		t.Fatalf("set default budget: %v", err)
	}
	got, err := f.budgets.GetBudgets(ctx, alice, 2024, 5)
	if err != nil {
		t.Fatalf("get budgets: %v", err)
	}
	if len(got) != 2 || !got["Eating/Out"].Limit.Equal(dec(250)) || !got[ledger.DefaultCategory].Limit.Equal(dec(40)) {
		t.Fatalf("unexpected budgets %+v", got)
	}

	bad := []struct {
		year, month int
		limit       int64
	}{
		{2024, 0, 1},
		{2024, 13, 1},
		{0, 5, 1},
		{2024, 5, -1},
	}
	for _, b := range bad {
		if _, err := f.budgets.SetBudget(ctx, alice, b.year, b.month, "Food", dec(b.limit)); !errors.Is(err, ErrInvalidBudget) {
			t.Fatalf("%+v: expected invalid budget, got %v", b, err)
		}
	}
	if _, err := f.budgets.SetBudget(ctx, session.Identity{}, 2024, 5, "Food", dec(1)); !errors.Is(err, session.ErrNoIdentity) {
		t.Fatalf("expected missing identity, got %v", err)
	}
}

func TestComputeStatusSurfacesStoreFailure(t *testing.T) {
	f := newFixture(t, time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()
	if _, err := f.budgets.SetBudget(ctx, alice, 2024, 5, "Food", dec(10)); err != nil {
		t.Fatalf("set budget: %v", err)
	}
	f.faulty.SetHook(func(op, path string) error {
		if op == docstore.OpChildren && strings.Contains(path, "/budgets/") {
			return docstore.ErrUnavailable
		}
		return nil
	})
	if _, err := f.budgets.ComputeStatus(ctx, alice, 2024, 5); !errors.Is(err, ledger.ErrStoreUnavailable) {
		t.Fatalf("expected store unavailable, got %v", err)
	}
}

func TestBudgetStoredUnderMonthPath(t *testing.T) {
	f := newFixture(t, time.Date(2024, time.May, 2, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	if _, err := f.budgets.SetBudget(ctx, alice, 2024, 5, "Food/Drinks", dec(250)); err != nil {
		t.Fatalf("set budget: %v", err)
	}
	doc, err := f.faulty.Get(ctx, "users/alice/budgets/2024/5/Food%2FDrinks")
	if err != nil {
		t.Fatalf("expected budget document at escaped month path: %v", err)
	}
	var b Budget
	if err := doc.Decode(&b); err != nil || b.Category != "Food/Drinks" || !b.Limit.Equal(dec(250)) {
		t.Fatalf("unexpected stored budget %+v (%v)", b, err)
	}

	got, err := f.budgets.GetBudgets(ctx, alice, 2024, 5)
	if err != nil || len(got) != 1 {
		t.Fatalf("get budgets: %v %+v", err, got)
	}
}

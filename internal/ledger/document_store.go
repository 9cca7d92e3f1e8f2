package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/fundstack/fundstack/internal/docstore"
	"github.com/fundstack/fundstack/internal/session"
)

const defaultFanout = 4

// DocumentStore implements Store over a path-addressed document store:
//
//	users/{uid}/wallets/{wid}
//	users/{uid}/wallets/{wid}/transactions/{txid}
type DocumentStore struct {
	docs   docstore.Store
	locker Locker
	fanout int
	now    func() time.Time
}

// NewDocumentStore wires a ledger over docs. A nil locker falls back to an
// in-process mutex per wallet.
func NewDocumentStore(docs docstore.Store, locker Locker) *DocumentStore {
	if locker == nil {
		locker = NewMutexLocker()
	}
	return &DocumentStore{docs: docs, locker: locker, fanout: defaultFanout, now: time.Now}
}

func (s *DocumentStore) GetWallet(ctx context.Context, who session.Identity, walletID string) (Wallet, error) {
	ctx, path, err := s.walletPath(ctx, who, walletID)
	if err != nil {
		return Wallet{}, err
	}
	doc, err := s.docs.Get(ctx, path)
	if err != nil {
		return Wallet{}, fmt.Errorf("get wallet %s: %w", walletID, mapStoreErr(err))
	}
	w, err := decodeWallet(doc, who, walletID)
	if err != nil {
		return Wallet{}, err
	}
	return w, nil
}

func (s *DocumentStore) PutWallet(ctx context.Context, who session.Identity, w Wallet) error {
	ctx, path, err := s.walletPath(ctx, who, w.ID)
	if err != nil {
		return err
	}
	if _, err := s.docs.Put(ctx, path, w); err != nil {
		return fmt.Errorf("put wallet %s: %w", w.ID, mapStoreErr(err))
	}
	return nil
}

func (s *DocumentStore) PatchBalance(ctx context.Context, who session.Identity, walletID string, balance decimal.Decimal, version string) (string, error) {
	ctx, path, err := s.walletPath(ctx, who, walletID)
	if err != nil {
		return "", err
	}
	fields := map[string]any{
		"balance":    balance,
		"updated_at": s.now().Unix(),
	}
	next, err := s.docs.Patch(ctx, path, fields, version)
	if err != nil {
		return "", fmt.Errorf("patch balance %s: %w", walletID, mapStoreErr(err))
	}
	return next, nil
}

func (s *DocumentStore) AppendTransaction(ctx context.Context, who session.Identity, walletID string, tx Transaction) (string, error) {
	tx.WalletID = walletID
	if err := tx.Validate(); err != nil {
		return "", err
	}
	ctx, base, err := s.walletPath(ctx, who, walletID)
	if err != nil {
		return "", err
	}
	path, err := docstore.Child(base, "transactions", tx.ID)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidTransaction, err)
	}
	if _, err := s.docs.Put(ctx, path, tx); err != nil {
		return "", fmt.Errorf("append transaction %s: %w", tx.ID, mapStoreErr(err))
	}
	return tx.ID, nil
}

func (s *DocumentStore) ListWallets(ctx context.Context, who session.Identity) ([]Wallet, error) {
	if err := who.Validate(); err != nil {
		return nil, err
	}
	ctx = docstore.WithAuthToken(ctx, who.Token)
	path, err := docstore.Join("users", who.UserID, "wallets")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", session.ErrNoIdentity, err)
	}
	docs, err := s.docs.Children(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", mapStoreErr(err))
	}
	wallets := make([]Wallet, 0, len(docs))
	for _, doc := range docs {
		w, err := decodeWallet(doc, who, doc.Key())
		if err != nil {
			return nil, err
		}
		wallets = append(wallets, w)
	}
	sort.SliceStable(wallets, func(i, j int) bool {
		if wallets[i].CreatedAt != wallets[j].CreatedAt {
			return wallets[i].CreatedAt < wallets[j].CreatedAt
		}
		return wallets[i].ID < wallets[j].ID
	})
	return wallets, nil
}

func (s *DocumentStore) ListTransactions(ctx context.Context, who session.Identity, walletID string) ([]Transaction, error) {
	ctx, base, err := s.walletPath(ctx, who, walletID)
	if err != nil {
		return nil, err
	}
	logPath, err := docstore.Child(base, "transactions")
	if err != nil {
		return nil, fmt.Errorf("wallet %q: %w", walletID, ErrNotFound)
	}
	docs, err := s.docs.Children(ctx, logPath)
	if err != nil {
		return nil, fmt.Errorf("list transactions %s: %w", walletID, mapStoreErr(err))
	}
	txs := make([]Transaction, 0, len(docs))
	for _, doc := range docs {
		var tx Transaction
		if err := doc.Decode(&tx); err != nil {
			return nil, err
		}
		if tx.ID == "" {
			tx.ID = doc.Key()
		}
		tx.WalletID = walletID
		txs = append(txs, tx.Normalize())
	}
	SortTransactions(txs)
	return txs, nil
}

// ListAllTransactions reads every wallet's log concurrently.
func (s *DocumentStore) ListAllTransactions(ctx context.Context, who session.Identity) ([]Transaction, error) {
	wallets, err := s.ListWallets(ctx, who)
	if err != nil {
		return nil, err
	}

	logs := make([][]Transaction, len(wallets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fanout)
	for i, w := range wallets {
		g.Go(func() error {
			txs, err := s.ListTransactions(gctx, who, w.ID)
			if err != nil {
				return err
			}
			logs[i] = txs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	all := []Transaction{}
	for _, txs := range logs {
		all = append(all, txs...)
	}
	SortTransactions(all)
	return all, nil
}

func (s *DocumentStore) LockWallet(ctx context.Context, who session.Identity, walletID string) (func(), error) {
	if err := who.Validate(); err != nil {
		return nil, err
	}
	return s.locker.Lock(ctx, who.UserID+"/"+walletID)
}

func (s *DocumentStore) walletPath(ctx context.Context, who session.Identity, walletID string) (context.Context, string, error) {
	if err := who.Validate(); err != nil {
		return ctx, "", err
	}
	path, err := docstore.Join("users", who.UserID, "wallets", walletID)
	if err != nil {
		return ctx, "", fmt.Errorf("wallet %q: %w", walletID, ErrNotFound)
	}
	return docstore.WithAuthToken(ctx, who.Token), path, nil
}

func decodeWallet(doc docstore.Document, who session.Identity, walletID string) (Wallet, error) {
	var w Wallet
	if err := doc.Decode(&w); err != nil {
		return Wallet{}, err
	}
	if w.ID == "" {
		w.ID = walletID
	}
	if w.OwnerID == "" {
		w.OwnerID = who.UserID
	}
	if c, err := NormalizeCurrency(w.Currency); err == nil {
		w.Currency = c
	}
	w.Version = doc.Version
	return w, nil
}

// mapStoreErr translates document store failures into the ledger taxonomy
// while keeping the original error in the chain.
func mapStoreErr(err error) error {
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, docstore.ErrVersionConflict):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	case errors.Is(err, docstore.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	default:
		return err
	}
}

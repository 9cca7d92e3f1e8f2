package budget

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/fundstack/fundstack/internal/docstore"
	"github.com/fundstack/fundstack/internal/ledger"
	"github.com/fundstack/fundstack/internal/session"
)

// Repository persists budgets keyed by (user, year, month, category).
type Repository interface {
	Put(ctx context.Context, who session.Identity, p Period, b Budget) error
	List(ctx context.Context, who session.Identity, p Period) (map[string]Budget, error)
}

// DocumentRepository keeps budgets at
// users/{uid}/budgets/{year}/{month}/{category}.
type DocumentRepository struct {
	docs docstore.Store
}

// NewDocumentRepository builds a repository over docs.
func NewDocumentRepository(docs docstore.Store) *DocumentRepository {
	return &DocumentRepository{docs: docs}
}

// Put upserts the budget; a second write for the same key overwrites it.
func (r *DocumentRepository) Put(ctx context.Context, who session.Identity, p Period, b Budget) error {
	ctx, dir, err := r.monthPath(ctx, who, p)
	if err != nil {
		return err
	}
	path, err := docstore.Child(dir, docstore.EscapeKey(b.Category))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidBudget, err)
	}
	if _, err := r.docs.Put(ctx, path, b); err != nil {
		return mapStoreErr(err)
	}
	return nil
}

// List returns the month's budgets by category. Empty when none are set.
func (r *DocumentRepository) List(ctx context.Context, who session.Identity, p Period) (map[string]Budget, error) {
	ctx, dir, err := r.monthPath(ctx, who, p)
	if err != nil {
		return nil, err
	}
	docs, err := r.docs.Children(ctx, dir)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return map[string]Budget{}, nil
		}
		return nil, mapStoreErr(err)
	}
	out := make(map[string]Budget, len(docs))
	for _, doc := range docs {
		var b Budget
		if err := doc.Decode(&b); err != nil {
			return nil, err
		}
		if b.Category == "" {
			b.Category = docstore.UnescapeKey(doc.Key())
		}
		out[b.Category] = b
	}
	return out, nil
}

func (r *DocumentRepository) monthPath(ctx context.Context, who session.Identity, p Period) (context.Context, string, error) {
	if err := who.Validate(); err != nil {
		return ctx, "", err
	}
	path, err := docstore.Join("users", who.UserID, "budgets", strconv.Itoa(p.Year), strconv.Itoa(int(p.Month)))
	if err != nil {
		return ctx, "", err
	}
	return docstore.WithAuthToken(ctx, who.Token), path, nil
}

func mapStoreErr(err error) error {
	if docstore.IsUnavailable(err) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ledger.ErrStoreUnavailable, err)
	}
	return err
}

package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fundstack/fundstack/internal/docstore"
)

var (
	// ErrUserNotFound is returned when no user matches the lookup.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists is returned when registering an email twice.
	ErrUserExists = errors.New("user exists")
)

// Repository persists users.
type Repository interface {
	Create(ctx context.Context, user User) error
	FindByEmail(ctx context.Context, email string) (User, error)
	FindByID(ctx context.Context, id string) (User, error)
	UpdateTokenVersion(ctx context.Context, id string, version int) error
	TouchLogin(ctx context.Context, id string, at time.Time) error
}

type emailIndex struct {
	UserID string `json:"user_id"`
}

// DocumentRepository stores users next to their ledger data:
//
//	users/{uid}/profile/account
//	identities/{escapedEmail}
type DocumentRepository struct {
	docs docstore.Store
}

// NewDocumentRepository builds a repository over docs.
func NewDocumentRepository(docs docstore.Store) *DocumentRepository {
	return &DocumentRepository{docs: docs}
}

// Create inserts a new user and its email index entry.
func (r *DocumentRepository) Create(ctx context.Context, user User) error {
	indexPath, err := docstore.Join("identities", docstore.EscapeKey(user.Email))
	if err != nil {
		return err
	}
	if _, err := r.docs.Get(ctx, indexPath); err == nil {
		return ErrUserExists
	} else if !errors.Is(err, docstore.ErrNotFound) {
		return err
	}
	profile, err := profilePath(user.ID)
	if err != nil {
		return err
	}
	if _, err := r.docs.Put(ctx, profile, user); err != nil {
		return fmt.Errorf("store user: %w", err)
	}
	if _, err := r.docs.Put(ctx, indexPath, emailIndex{UserID: user.ID}); err != nil {
		return fmt.Errorf("store email index: %w", err)
	}
	return nil
}

// FindByEmail fetches a user by email address.
func (r *DocumentRepository) FindByEmail(ctx context.Context, email string) (User, error) {
	indexPath, err := docstore.Join("identities", docstore.EscapeKey(email))
	if err != nil {
		return User{}, ErrUserNotFound
	}
	doc, err := r.docs.Get(ctx, indexPath)
	if err != nil {
		return User{}, mapNotFound(err)
	}
	var idx emailIndex
	if err := doc.Decode(&idx); err != nil {
		return User{}, err
	}
	return r.FindByID(ctx, idx.UserID)
}

// FindByID fetches a user by identifier.
func (r *DocumentRepository) FindByID(ctx context.Context, id string) (User, error) {
	path, err := profilePath(id)
	if err != nil {
		return User{}, ErrUserNotFound
	}
	doc, err := r.docs.Get(ctx, path)
	if err != nil {
		return User{}, mapNotFound(err)
	}
	var user User
	if err := doc.Decode(&user); err != nil {
		return User{}, err
	}
	return user, nil
}

// UpdateTokenVersion stores the user's current token version.
func (r *DocumentRepository) UpdateTokenVersion(ctx context.Context, id string, version int) error {
	return r.patch(ctx, id, map[string]any{"token_version": version})
}

// TouchLogin records the last successful login.
func (r *DocumentRepository) TouchLogin(ctx context.Context, id string, at time.Time) error {
	return r.patch(ctx, id, map[string]any{"last_login": at.UTC()})
}

func (r *DocumentRepository) patch(ctx context.Context, id string, fields map[string]any) error {
	path, err := profilePath(id)
	if err != nil {
		return ErrUserNotFound
	}
	if _, err := r.docs.Patch(ctx, path, fields, ""); err != nil {
		return mapNotFound(err)
	}
	return nil
}

func profilePath(id string) (string, error) {
	return docstore.Join("users", id, "profile", "account")
}

func mapNotFound(err error) error {
	if errors.Is(err, docstore.ErrNotFound) {
		return ErrUserNotFound
	}
	return err
}

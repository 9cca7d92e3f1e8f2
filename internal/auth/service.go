package auth

import (
	"context"
	"errors"
	"time"

	"github.com/fundstack/fundstack/internal/identity"
)

const refreshTokenTTL = 7 * 24 * time.Hour

// ErrTokenRevoked is returned for tokens issued before the last logout.
var ErrTokenRevoked = errors.New("token version invalidated")

// Service issues and verifies bearer tokens.
type Service struct {
	secret    []byte
	accessTTL time.Duration
	users     identity.Repository
	now       func() time.Time
}

// NewService builds a token service signing with secret.
func NewService(secret []byte, accessTTL time.Duration, users identity.Repository) *Service {
	return &Service{secret: secret, accessTTL: accessTTL, users: users, now: time.Now}
}

// TokenPair is returned on login.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Login issues a token pair for an authenticated user.
func (s *Service) Login(user identity.User) (TokenPair, error) {
	now := s.now()
	access, _, err := signToken(s.secret, user.ID, user.TokenVersion, tokenTypeAccess, now, s.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, _, err := signToken(s.secret, user.ID, user.TokenVersion, tokenTypeRefresh, now, refreshTokenTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresIn: int64(s.accessTTL.Seconds())}, nil
}

// Verify checks an access token and that it has not been revoked. It
// returns the user id.
func (s *Service) Verify(ctx context.Context, token string) (string, error) {
	claims, err := ParseToken(token, s.secret, tokenTypeAccess, s.now)
	if err != nil {
		return "", err
	}
	if err := s.checkVersion(ctx, claims); err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// Refresh verifies the refresh token and returns a new access token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, int64, error) {
	claims, err := ParseToken(refreshToken, s.secret, tokenTypeRefresh, s.now)
	if err != nil {
		return "", 0, err
	}
	if err := s.checkVersion(ctx, claims); err != nil {
		return "", 0, err
	}
	signed, _, err := signToken(s.secret, claims.Subject, claims.Version, tokenTypeAccess, s.now(), s.accessTTL)
	if err != nil {
		return "", 0, err
	}
	return signed, int64(s.accessTTL.Seconds()), nil
}

// Logout increments token version so older tokens become invalid.
func (s *Service) Logout(ctx context.Context, userID string) error {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	return s.users.UpdateTokenVersion(ctx, user.ID, user.TokenVersion+1)
}

func (s *Service) checkVersion(ctx context.Context, claims Claims) error {
	user, err := s.users.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return ErrInvalidToken
		}
		return err
	}
	if user.TokenVersion != claims.Version {
		return ErrTokenRevoked
	}
	return nil
}

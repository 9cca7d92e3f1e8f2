package identity

import (
	"context"
	"errors"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLength = 8
	minAge            = 18
	maxAge            = 130
)

var (
	panPattern   = regexp.MustCompile(`^[A-Z]{5}[0-9]{4}[A-Z]$`)
	phonePattern = regexp.MustCompile(`^\+?[0-9]{7,15}$`)
)

// ErrInvalidCredentials hides whether the email or the password was wrong.
var ErrInvalidCredentials = errors.New("invalid email or password")

// Service manages identity lifecycle.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a new identity service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Register creates a new user and stores a hashed password.
func (s *Service) Register(ctx context.Context, creds Credentials) (User, error) {
	email, err := normalizeEmail(creds.Email)
	if err != nil {
		return User{}, err
	}
	if len(creds.Password) < minPasswordLength {
		return User{}, errors.New("password must be at least 8 characters")
	}

	profile, err := normalizeProfile(creds)
	if err != nil {
		return User{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}

	user := User{
		ID:           uuid.New().String(),
		Email:        email,
		DisplayName:  strings.TrimSpace(creds.DisplayName),
		Phone:        profile.Phone,
		Age:          profile.Age,
		PAN:          profile.PAN,
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return User{}, err
	}
	return user, nil
}

// Authenticate verifies credentials and records the login.
func (s *Service) Authenticate(ctx context.Context, creds Credentials) (User, error) {
	email, err := normalizeEmail(creds.Email)
	if err != nil {
		return User{}, ErrInvalidCredentials
	}
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return User{}, ErrInvalidCredentials
		}
		return User{}, err
	}
	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(creds.Password)); err != nil {
		return User{}, ErrInvalidCredentials
	}

	user.LastLogin = s.now().UTC()
	if err := s.repo.TouchLogin(ctx, user.ID, user.LastLogin); err != nil {
		return User{}, err
	}
	return user, nil
}

// FindByID returns the user with id.
func (s *Service) FindByID(ctx context.Context, id string) (User, error) {
	return s.repo.FindByID(ctx, id)
}

func normalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return "", errors.New("a valid email is required")
	}
	return strings.ToLower(addr.Address), nil
}

// normalizeProfile validates the optional profile fields. Empty values are
// left unset.
func normalizeProfile(creds Credentials) (Credentials, error) {
	out := Credentials{Age: creds.Age}
	if phone := strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(creds.Phone)); phone != "" {
		if !phonePattern.MatchString(phone) {
			return Credentials{}, errors.New("phone must be 7 to 15 digits")
		}
		out.Phone = phone
	}
	if creds.Age != 0 && (creds.Age < minAge || creds.Age > maxAge) {
		return Credentials{}, errors.New("age must be between 18 and 130")
	}
	if pan := strings.ToUpper(strings.TrimSpace(creds.PAN)); pan != "" {
		if !panPattern.MatchString(pan) {
			return Credentials{}, errors.New("pan must look like ABCDE1234F")
		}
		out.PAN = pan
	}
	return out, nil
}

// Package session carries the caller identity through the ledger core.
package session

import (
	"errors"
	"strings"
)

// ErrNoIdentity is returned when a core call is made without a user.
var ErrNoIdentity = errors.New("no authenticated user")

// Identity is the caller on whose behalf a ledger call runs. Token is an
// optional store-issued credential forwarded to the document store; it is
// empty for callers authenticated by the API's own access tokens.
type Identity struct {
	UserID string
	Token  string
}

// New builds an identity for userID with an optional bearer token.
func New(userID, token string) Identity {
	return Identity{UserID: strings.TrimSpace(userID), Token: token}
}

// Validate reports ErrNoIdentity when no user is attached.
func (id Identity) Validate() error {
	if strings.TrimSpace(id.UserID) == "" {
		return ErrNoIdentity
	}
	return nil
}

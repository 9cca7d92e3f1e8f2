package identity

import "time"

// User represents a registered wallet owner.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	Age          int       `json:"age,omitempty"`
	PAN          string    `json:"pan,omitempty"`
	PasswordHash []byte    `json:"password_hash"`
	TokenVersion int       `json:"token_version"`
	CreatedAt    time.Time `json:"created_at"`
	LastLogin    time.Time `json:"last_login,omitempty"`
}

// Credentials request structure.
type Credentials struct {
	Email       string
	Password    string
	DisplayName string
	Phone       string
	Age         int
	PAN         string
}

package user

import (
	"time"

	"github.com/google/uuid"
)

// Account types. A user is either local (password hash set, no provider) or
// federated (empty password hash, provider set) — never both.
const (
	AccountTypeLocal     = "local"
	AccountTypeFederated = "federated"
)

type User struct {
	ID              uuid.UUID  `json:"id"`
	Email           string     `json:"email"`
	Name            string     `json:"name"`
	PasswordHash    string     `json:"-"` // Never expose password hash in JSON
	AccountType     string     `json:"account_type"`
	Provider        *string    `json:"provider,omitempty"`
	EmailVerifiedAt *time.Time `json:"email_verified_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// IsFederated reports whether the account was created through an identity
// provider rather than a local signup.
func (u *User) IsFederated() bool {
	return u.AccountType == AccountTypeFederated
}

// IsVerified reports whether email ownership has been proven.
func (u *User) IsVerified() bool {
	return u.EmailVerifiedAt != nil
}

// ProviderName returns the federated provider, or "" for local accounts.
func (u *User) ProviderName() string {
	if u.Provider == nil {
		return ""
	}
	return *u.Provider
}

package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/mkrivan/go-auth-api/internal/user"
)

// IdentityLinker resolves a federated-login profile to an existing or
// newly-created user record.
type IdentityLinker struct {
	users UserStore
}

func NewIdentityLinker(users UserStore) *IdentityLinker {
	return &IdentityLinker{users: users}
}

// Resolve maps a provider profile onto a user record.
//
// A profile without an email cannot be linked. An existing account is only
// returned when it was created through the SAME provider; a local account
// or an account from another provider is rejected rather than silently
// attached, so a provider callback can never capture someone else's
// account.
func (l *IdentityLinker) Resolve(ctx context.Context, email, displayName, provider string) (*user.User, error) {
	if email == "" {
		return nil, ErrIdentityNoEmail
	}

	existing, err := l.users.GetByEmail(ctx, email)
	if err == nil {
		if !existing.IsFederated() || existing.ProviderName() != provider {
			return nil, ErrProviderMismatch
		}
		return existing, nil
	}
	if !errors.Is(err, user.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up federated user: %w", err)
	}

	// First callback for this email: the provider vouches for ownership,
	// so the account starts verified.
	created, err := l.users.CreateFederated(ctx, displayName, email, provider)
	if err != nil {
		return nil, fmt.Errorf("failed to create federated user: %w", err)
	}

	return created, nil
}

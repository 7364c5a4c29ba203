package auth

import (
	"context"

	"github.com/google/uuid"

	"github.com/mkrivan/go-auth-api/internal/user"
)

// UserStore is the slice of user persistence the auth core depends on.
// Implemented by user.Repository; tests substitute an in-memory store.
type UserStore interface {
	CreateLocal(ctx context.Context, name, email, passwordHash string) (*user.User, error)
	CreateFederated(ctx context.Context, name, email, provider string) (*user.User, error)
	GetByEmail(ctx context.Context, email string) (*user.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*user.User, error)
	MarkEmailVerified(ctx context.Context, userID uuid.UUID) error
}

// EmailSender delivers verification mail. Sending is fire-and-forget from
// the service's perspective; failures are logged, never surfaced to the
// client.
type EmailSender interface {
	SendVerificationEmail(ctx context.Context, toEmail, token string) error
}

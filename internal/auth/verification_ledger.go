package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EmailVerificationRecord maps a verification token to the user who must
// prove email ownership.
type EmailVerificationRecord struct {
	UserID    uuid.UUID
	ExpiresAt time.Time
}

// VerificationLedger is the durable single-use store for email verification
// tokens. Expiry is enforced lazily at consumption; there is no sweeper, so
// an expired-but-unconsumed record may linger in storage but is treated as
// absent.
type VerificationLedger interface {
	// Issue creates a record expiring ttl from now and returns the token.
	Issue(ctx context.Context, userID uuid.UUID, ttl time.Duration) (string, error)

	// Consume atomically deletes and returns the record, or (nil, nil)
	// when the token is unknown or past its expiry.
	Consume(ctx context.Context, token string) (*EmailVerificationRecord, error)
}

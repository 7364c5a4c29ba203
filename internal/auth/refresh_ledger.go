package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RefreshTokenRecord is one live refresh session. The row exists only while
// the token is redeemable; consuming it removes the row.
type RefreshTokenRecord struct {
	UserID    uuid.UUID
	TokenHash string
	CreatedAt time.Time
}

// RefreshLedger is the durable single-use store for issued refresh tokens.
//
// Consume must be atomic under concurrent redemption of the same token:
// at most one caller observes a non-nil record, every other caller gets
// (nil, nil). Implementations delegate this to the storage engine
// (DELETE ... RETURNING on Postgres, GETDEL on Redis) rather than
// in-process locks.
type RefreshLedger interface {
	// Issue signs a new refresh token for the user, persists it and
	// returns the token value.
	Issue(ctx context.Context, userID uuid.UUID) (string, error)

	// Consume atomically deletes and returns the record for the token.
	// A missing token is (nil, nil), not an error: a refresh token is
	// redeemable exactly once.
	Consume(ctx context.Context, token string) (*RefreshTokenRecord, error)

	// RevokeAll deletes every record owned by the user. Used as the
	// reuse-detection countermeasure.
	RevokeAll(ctx context.Context, userID uuid.UUID) error
}

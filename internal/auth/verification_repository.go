package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/mkrivan/go-auth-api/internal/database"
)

// VerificationRepository is the Postgres-backed email verification ledger.
type VerificationRepository struct {
	db *bun.DB
}

func NewVerificationRepository(db *bun.DB) *VerificationRepository {
	return &VerificationRepository{db: db}
}

// Issue creates a verification record expiring ttl from now.
func (r *VerificationRepository) Issue(ctx context.Context, userID uuid.UUID, ttl time.Duration) (string, error) {
	token, err := generateRandomToken()
	if err != nil {
		return "", fmt.Errorf("failed to generate verification token: %w", err)
	}

	dbToken := &database.EmailVerificationToken{
		UserID:    userID,
		TokenHash: hashToken(token),
		ExpiresAt: time.Now().Add(ttl),
	}

	if _, err := r.db.NewInsert().Model(dbToken).Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to store verification token: %w", err)
	}

	return token, nil
}

// Consume atomically deletes and returns the record. Expiry is checked here,
// at redemption, so an expired record is simply reported as absent.
func (r *VerificationRepository) Consume(ctx context.Context, token string) (*EmailVerificationRecord, error) {
	dbToken := new(database.EmailVerificationToken)
	err := r.db.NewDelete().
		Model(dbToken).
		Where("token_hash = ?", hashToken(token)).
		Returning("*").
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to consume verification token: %w", err)
	}

	if time.Now().After(dbToken.ExpiresAt) {
		return nil, nil
	}

	return &EmailVerificationRecord{
		UserID:    dbToken.UserID,
		ExpiresAt: dbToken.ExpiresAt,
	}, nil
}

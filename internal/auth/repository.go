package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/mkrivan/go-auth-api/internal/database"
)

// Repository is the Postgres-backed refresh ledger. Single-use redemption
// rides on DELETE ... RETURNING, which the database executes atomically, so
// concurrent redemptions of one token produce exactly one winner.
type Repository struct {
	db    *bun.DB
	codec TokenCodec
}

func NewRepository(db *bun.DB, codec TokenCodec) *Repository {
	return &Repository{db: db, codec: codec}
}

// Issue signs a refresh token and stores its hash bound to the user.
func (r *Repository) Issue(ctx context.Context, userID uuid.UUID) (string, error) {
	token, err := r.codec.SignRefresh(userID)
	if err != nil {
		return "", fmt.Errorf("failed to sign refresh token: %w", err)
	}

	dbToken := &database.RefreshToken{
		UserID:    userID,
		TokenHash: hashToken(token),
	}

	if _, err := r.db.NewInsert().Model(dbToken).Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to store refresh token: %w", err)
	}

	return token, nil
}

// Consume atomically deletes and returns the record for the token.
func (r *Repository) Consume(ctx context.Context, token string) (*RefreshTokenRecord, error) {
	dbToken := new(database.RefreshToken)
	err := r.db.NewDelete().
		Model(dbToken).
		Where("token_hash = ?", hashToken(token)).
		Returning("*").
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to consume refresh token: %w", err)
	}

	return &RefreshTokenRecord{
		UserID:    dbToken.UserID,
		TokenHash: dbToken.TokenHash,
		CreatedAt: dbToken.CreatedAt,
	}, nil
}

// RevokeAll deletes every refresh token owned by the user.
func (r *Repository) RevokeAll(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.NewDelete().
		Model((*database.RefreshToken)(nil)).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to revoke user tokens: %w", err)
	}

	return nil
}

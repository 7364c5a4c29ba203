package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mkrivan/go-auth-api/internal/config"
)

// TokenClaims is the payload carried by both token kinds.
type TokenClaims struct {
	UserID    uuid.UUID `json:"user_id"`
	IssuedAt  time.Time `json:"iat"`
	ExpiresAt time.Time `json:"exp"`
}

// TokenCodec signs and verifies access and refresh tokens. The two kinds
// use independent secrets and lifetimes; a leaked access secret cannot
// forge refresh tokens and vice versa.
//
// Verify methods return ErrInvalidToken for every failure mode — expired,
// tampered and malformed are not distinguishable to callers, which must
// treat any error as "unauthenticated".
type TokenCodec interface {
	SignAccess(userID uuid.UUID) (string, error)
	SignRefresh(userID uuid.UUID) (string, error)
	VerifyAccess(token string) (*TokenClaims, error)
	VerifyRefresh(token string) (*TokenClaims, error)
}

// NewCodec builds the configured token codec: HS256 JWTs or PASETO v4.local.
func NewCodec(cfg config.AuthConfig) (TokenCodec, error) {
	switch cfg.Codec {
	case "jwt":
		return NewJWTCodec(cfg.AccessTokenSecret, cfg.RefreshTokenSecret, cfg.AccessTokenDuration, cfg.RefreshTokenDuration), nil
	case "paseto":
		return NewPasetoCodec(cfg.AccessTokenSecret, cfg.RefreshTokenSecret, cfg.AccessTokenDuration, cfg.RefreshTokenDuration)
	default:
		return nil, fmt.Errorf("unknown token codec %q", cfg.Codec)
	}
}

// hashToken returns the hex SHA-256 of a token. Ledgers store hashes so a
// leaked database cannot be replayed as live tokens.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// generateRandomToken creates a cryptographically secure random token
func generateRandomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

package auth

import (
	"fmt"
	"time"

	"aidanwoods.dev/go-paseto"
	"github.com/google/uuid"
)

// PasetoCodec signs tokens as PASETO v4.local
// (symmetric encryption with XChaCha20-Poly1305)
type PasetoCodec struct {
	accessKey       paseto.V4SymmetricKey
	refreshKey      paseto.V4SymmetricKey
	accessDuration  time.Duration
	refreshDuration time.Duration
}

func NewPasetoCodec(accessSecret, refreshSecret []byte, accessDuration, refreshDuration time.Duration) (*PasetoCodec, error) {
	accessKey, err := paseto.V4SymmetricKeyFromBytes(accessSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create access token key: %w", err)
	}

	refreshKey, err := paseto.V4SymmetricKeyFromBytes(refreshSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh token key: %w", err)
	}

	return &PasetoCodec{
		accessKey:       accessKey,
		refreshKey:      refreshKey,
		accessDuration:  accessDuration,
		refreshDuration: refreshDuration,
	}, nil
}

func (c *PasetoCodec) SignAccess(userID uuid.UUID) (string, error) {
	return c.sign(userID, c.accessKey, c.accessDuration)
}

func (c *PasetoCodec) SignRefresh(userID uuid.UUID) (string, error) {
	return c.sign(userID, c.refreshKey, c.refreshDuration)
}

func (c *PasetoCodec) VerifyAccess(token string) (*TokenClaims, error) {
	return c.verify(token, c.accessKey)
}

func (c *PasetoCodec) VerifyRefresh(token string) (*TokenClaims, error) {
	return c.verify(token, c.refreshKey)
}

func (c *PasetoCodec) sign(userID uuid.UUID, key paseto.V4SymmetricKey, duration time.Duration) (string, error) {
	now := time.Now()

	token := paseto.NewToken()
	token.SetIssuedAt(now)
	token.SetExpiration(now.Add(duration))
	token.SetString("user_id", userID.String())

	return token.V4Encrypt(key, nil), nil
}

func (c *PasetoCodec) verify(tokenStr string, key paseto.V4SymmetricKey) (*TokenClaims, error) {
	// The parser checks expiration by default; expired and tampered tokens
	// both come back as ErrInvalidToken.
	parser := paseto.NewParser()

	token, err := parser.ParseV4Local(key, tokenStr, nil)
	if err != nil {
		return nil, ErrInvalidToken
	}

	userIDStr, err := token.GetString("user_id")
	if err != nil {
		return nil, ErrInvalidToken
	}

	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return nil, ErrInvalidToken
	}

	issuedAt, err := token.GetIssuedAt()
	if err != nil {
		return nil, ErrInvalidToken
	}

	expiresAt, err := token.GetExpiration()
	if err != nil {
		return nil, ErrInvalidToken
	}

	return &TokenClaims{
		UserID:    userID,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}, nil
}

package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// JWTCodec signs tokens as HS256 JWTs.
type JWTCodec struct {
	accessSecret    []byte
	refreshSecret   []byte
	accessDuration  time.Duration
	refreshDuration time.Duration
}

func NewJWTCodec(accessSecret, refreshSecret []byte, accessDuration, refreshDuration time.Duration) *JWTCodec {
	return &JWTCodec{
		accessSecret:    accessSecret,
		refreshSecret:   refreshSecret,
		accessDuration:  accessDuration,
		refreshDuration: refreshDuration,
	}
}

type jwtClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

func (c *JWTCodec) SignAccess(userID uuid.UUID) (string, error) {
	return c.sign(userID, c.accessSecret, c.accessDuration)
}

func (c *JWTCodec) SignRefresh(userID uuid.UUID) (string, error) {
	return c.sign(userID, c.refreshSecret, c.refreshDuration)
}

func (c *JWTCodec) VerifyAccess(token string) (*TokenClaims, error) {
	return c.verify(token, c.accessSecret)
}

func (c *JWTCodec) VerifyRefresh(token string) (*TokenClaims, error) {
	return c.verify(token, c.refreshSecret)
}

func (c *JWTCodec) sign(userID uuid.UUID, secret []byte, duration time.Duration) (string, error) {
	now := time.Now()

	claims := jwtClaims{
		UserID: userID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(duration)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func (c *JWTCodec) verify(tokenStr string, secret []byte) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&jwtClaims{},
		func(t *jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*jwtClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return nil, ErrInvalidToken
	}

	return &TokenClaims{
		UserID:    userID,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

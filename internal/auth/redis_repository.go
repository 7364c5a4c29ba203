package auth

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisRepository is the Redis-backed refresh ledger, for deployments that
// prefer keeping session state out of Postgres. Single-use redemption rides
// on GETDEL, which Redis executes atomically.
type RedisRepository struct {
	client *redis.Client
	codec  TokenCodec
	ttl    time.Duration
}

func NewRedisRepository(client *redis.Client, codec TokenCodec, ttl time.Duration) *RedisRepository {
	return &RedisRepository{client: client, codec: codec, ttl: ttl}
}

// getTokenKey generates the Redis key for a refresh token
func getTokenKey(tokenHash string) string {
	return fmt.Sprintf("refresh_token:%s", tokenHash)
}

// getUserTokensKey generates the Redis key for user's token set
func getUserTokensKey(userID uuid.UUID) string {
	return fmt.Sprintf("user_tokens:%s", userID.String())
}

// Issue signs a refresh token and stores its hash with the ledger TTL.
func (r *RedisRepository) Issue(ctx context.Context, userID uuid.UUID) (string, error) {
	token, err := r.codec.SignRefresh(userID)
	if err != nil {
		return "", fmt.Errorf("failed to sign refresh token: %w", err)
	}

	tokenHash := hashToken(token)
	value := fmt.Sprintf("%s:%d", userID.String(), time.Now().Unix())

	pipe := r.client.Pipeline()
	pipe.Set(ctx, getTokenKey(tokenHash), value, r.ttl)
	pipe.SAdd(ctx, getUserTokensKey(userID), tokenHash)
	pipe.Expire(ctx, getUserTokensKey(userID), r.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to store refresh token: %w", err)
	}

	return token, nil
}

// Consume atomically deletes and returns the record via GETDEL.
func (r *RedisRepository) Consume(ctx context.Context, token string) (*RefreshTokenRecord, error) {
	tokenHash := hashToken(token)

	value, err := r.client.GetDel(ctx, getTokenKey(tokenHash)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume refresh token: %w", err)
	}

	userID, createdAt, err := parseLedgerValue(value)
	if err != nil {
		return nil, fmt.Errorf("failed to parse refresh token record: %w", err)
	}

	// Best effort; the set entry expires with the set's TTL anyway.
	r.client.SRem(ctx, getUserTokensKey(userID), tokenHash)

	return &RefreshTokenRecord{
		UserID:    userID,
		TokenHash: tokenHash,
		CreatedAt: createdAt,
	}, nil
}

// RevokeAll deletes every refresh token owned by the user.
func (r *RedisRepository) RevokeAll(ctx context.Context, userID uuid.UUID) error {
	userTokensKey := getUserTokensKey(userID)

	tokenHashes, err := r.client.SMembers(ctx, userTokensKey).Result()
	if err != nil {
		return fmt.Errorf("failed to get user tokens: %w", err)
	}

	if len(tokenHashes) == 0 {
		return nil
	}

	pipe := r.client.Pipeline()
	for _, tokenHash := range tokenHashes {
		pipe.Del(ctx, getTokenKey(tokenHash))
	}
	pipe.Del(ctx, userTokensKey)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to revoke all user tokens: %w", err)
	}

	return nil
}

// parseLedgerValue splits the stored "userID:createdAtUnix" value.
func parseLedgerValue(value string) (uuid.UUID, time.Time, error) {
	idx := strings.LastIndex(value, ":")
	if idx < 0 {
		return uuid.Nil, time.Time{}, fmt.Errorf("malformed ledger value")
	}

	userID, err := uuid.Parse(value[:idx])
	if err != nil {
		return uuid.Nil, time.Time{}, err
	}

	createdAtUnix, err := strconv.ParseInt(value[idx+1:], 10, 64)
	if err != nil {
		return uuid.Nil, time.Time{}, err
	}

	return userID, time.Unix(createdAtUnix, 0), nil
}

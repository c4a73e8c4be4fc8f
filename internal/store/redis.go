package store

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"
)

const (
	sessionTTL     = 24 * time.Hour
	unreadCacheTTL = 5 * time.Second
)

// RedisStore handles Redis operations: bearer-session lookup, rate limiting
// and short-lived unread-count caching. Nothing durable lives here.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Client exposes the underlying client for middleware that needs it.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// sessionKey hashes the bearer token so raw credentials never sit in
// redis. Lookups hash the presented token the same way.
func sessionKey(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return fmt.Sprintf("session:%s", hex.EncodeToString(sum[:]))
}

func unreadKey(userID int64) string {
	return fmt.Sprintf("unread:%d", userID)
}

func rateLimitKey(key string) string {
	return fmt.Sprintf("ratelimit:%s", key)
}

// CreateSession mints a bearer token for a user. The portal's login flow
// owns real session issuance; this is used by ops tooling and tests.
func (s *RedisStore) CreateSession(ctx context.Context, userID int64) (string, error) {
	token := uuid.NewString()
	if err := s.client.Set(ctx, sessionKey(token), userID, sessionTTL).Err(); err != nil {
		return "", err
	}
	return token, nil
}

// ResolveSession maps a bearer token to a user id. Returns ErrNotFound for
// unknown or expired tokens. Valid lookups slide the session TTL forward.
func (s *RedisStore) ResolveSession(ctx context.Context, token string) (int64, error) {
	val, err := s.client.Get(ctx, sessionKey(token)).Result()
	if err != nil {
		if err == redis.Nil {
			return 0, ErrNotFound
		}
		return 0, err
	}
	userID, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt session value: %w", err)
	}
	s.client.Expire(ctx, sessionKey(token), sessionTTL)
	return userID, nil
}

// DeleteSession revokes a bearer token.
func (s *RedisStore) DeleteSession(ctx context.Context, token string) error {
	return s.client.Del(ctx, sessionKey(token)).Err()
}

// CachedUnread returns the cached unread count for a user, or ok=false on a
// miss. The cache window matches the poll cadence so repeated polls within
// one cycle don't hit the database.
func (s *RedisStore) CachedUnread(ctx context.Context, userID int64) (int, bool) {
	val, err := s.client.Get(ctx, unreadKey(userID)).Int()
	if err != nil {
		return 0, false
	}
	return val, true
}

// SetCachedUnread stores a user's unread count for one poll cycle.
func (s *RedisStore) SetCachedUnread(ctx context.Context, userID int64, count int) {
	s.client.Set(ctx, unreadKey(userID), count, unreadCacheTTL)
}

// InvalidateUnread drops the cached unread count after a send, read or
// delete changes the store's accounting.
func (s *RedisStore) InvalidateUnread(ctx context.Context, userIDs ...int64) {
	for _, id := range userIDs {
		s.client.Del(ctx, unreadKey(id))
	}
}

// IncrementRateLimit bumps a fixed-window counter and returns the new count.
func (s *RedisStore) IncrementRateLimit(ctx context.Context, key string, window time.Duration) (int64, error) {
	k := rateLimitKey(key)
	pipe := s.client.Pipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"tutorchat/internal/redis"
)

// ErrTokenNotFound is returned by a TokenStore for unknown or expired tokens.
var ErrTokenNotFound = errors.New("invalid token")

// TokenStore keeps session tokens until their TTL elapses.
type TokenStore interface {
	Save(ctx context.Context, token, userID string, ttl time.Duration) error
	Lookup(ctx context.Context, token string) (string, error)
	Delete(ctx context.Context, token string) error
}

const tokenKeyPrefix = "tutorchat:session:"

type memoryStore struct {
	cache *gocache.Cache
}

// NewMemoryStore keeps tokens in process memory. Sessions do not survive a restart.
func NewMemoryStore() TokenStore {
	return &memoryStore{cache: gocache.New(24*time.Hour, 10*time.Minute)}
}

func (m *memoryStore) Save(_ context.Context, token, userID string, ttl time.Duration) error {
	m.cache.Set(tokenKeyPrefix+token, userID, ttl)
	return nil
}

func (m *memoryStore) Lookup(_ context.Context, token string) (string, error) {
	v, ok := m.cache.Get(tokenKeyPrefix + token)
	if !ok {
		return "", ErrTokenNotFound
	}
	return v.(string), nil
}

func (m *memoryStore) Delete(_ context.Context, token string) error {
	m.cache.Delete(tokenKeyPrefix + token)
	return nil
}

type redisStore struct {
	client *redis.Client
}

// NewRedisStore shares tokens between instances through redis.
func NewRedisStore(client *redis.Client) TokenStore {
	return &redisStore{client: client}
}

func (r *redisStore) Save(ctx context.Context, token, userID string, ttl time.Duration) error {
	if err := r.client.Set(ctx, tokenKeyPrefix+token, userID, ttl); err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	return nil
}

func (r *redisStore) Lookup(ctx context.Context, token string) (string, error) {
	userID, err := r.client.Get(ctx, tokenKeyPrefix+token)
	if err != nil {
		if errors.Is(err, redis.ErrCacheMiss) {
			return "", ErrTokenNotFound
		}
		return "", fmt.Errorf("lookup token: %w", err)
	}
	return userID, nil
}

func (r *redisStore) Delete(ctx context.Context, token string) error {
	if err := r.client.Del(ctx, tokenKeyPrefix+token); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

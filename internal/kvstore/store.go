package kvstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound indicates the requested key has no stored value.
var ErrNotFound = errors.New("kvstore: key not found")

// Store is the injected string key-value contract for persisted client state
// (pending coupon code, dismissed announcements). Initialised once per session.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// RedisStore persists values in Redis under a common prefix.
type RedisStore struct {
	Client *redis.Client
	Prefix string
	TTL    time.Duration
}

// Get returns the stored value or ErrNotFound.
func (s RedisStore) Get(ctx context.Context, key string) (string, error) {
	if s.Client == nil {
		return "", errors.New("kvstore: redis client not configured")
	}
	val, err := s.Client.Get(ctx, s.Prefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", err
	}
	return val, nil
}

// Set stores the value, refreshing the configured TTL.
func (s RedisStore) Set(ctx context.Context, key, value string) error {
	if s.Client == nil {
		return errors.New("kvstore: redis client not configured")
	}
	return s.Client.Set(ctx, s.Prefix+key, value, s.TTL).Err()
}

// Delete removes the key. Deleting a missing key is not an error.
func (s RedisStore) Delete(ctx context.Context, key string) error {
	if s.Client == nil {
		return errors.New("kvstore: redis client not configured")
	}
	return s.Client.Del(ctx, s.Prefix+key).Err()
}

// MemoryStore is an in-process Store for tests and single-node setups.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: map[string]string{}}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	val, ok := s.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return val, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

// Package cache wraps Redis for the portal's short-lived JSON records.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// New creates a new Redis client.
func New(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("platform/cache: ping: %w", err)
	}

	return client, nil
}

// JSONStore keeps JSON documents under a key prefix.
type JSONStore struct {
	client *redis.Client
	prefix string
}

// NewJSONStore returns a store whose keys all start with prefix.
func NewJSONStore(client *redis.Client, prefix string) *JSONStore {
	return &JSONStore{client: client, prefix: prefix}
}

// Put encodes v under key. A zero ttl keeps the key until deleted.
func (s *JSONStore) Put(ctx context.Context, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("platform/cache: encode %s: %w", key, err)
	}
	return s.client.Set(ctx, s.prefix+key, raw, ttl).Err()
}

// Get decodes key into out and reports whether it existed.
func (s *JSONStore) Get(ctx context.Context, key string, out any) (bool, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("platform/cache: decode %s: %w", key, err)
	}
	return true, nil
}

// Delete removes key.
func (s *JSONStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}

// Keys lists the keys under sub, without the store prefix.
func (s *JSONStore) Keys(ctx context.Context, sub string) ([]string, error) {
	var out []string
	iter := s.client.Scan(ctx, 0, s.prefix+sub+"*", 100).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val()[len(s.prefix):])
	}
	return out, iter.Err()
}

// DeletePrefix removes every key under sub.
func (s *JSONStore) DeletePrefix(ctx context.Context, sub string) (int, error) {
	keys, err := s.Keys(ctx, sub)
	if err != nil || len(keys) == 0 {
		return 0, err
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.prefix + k
	}
	n, err := s.client.Del(ctx, full...).Result()
	return int(n), err
}

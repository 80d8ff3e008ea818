package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/erp/payroll/internal/domain/shared"
	"github.com/redis/go-redis/v9"
)

const scanBatch = 200

// RedisStore implements shared.KeyedStore on Redis so state is shared by every
// server instance and survives restarts.
// Keys are namespaced as <prefix><namespace>:<key>.
type RedisStore[T any] struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a store over an existing client. A zero ttl stores keys without expiry.
func NewRedisStore[T any](client *redis.Client, keyPrefix, namespace string, ttl time.Duration) *RedisStore[T] {
	return &RedisStore[T]{
		client: client,
		prefix: keyPrefix + namespace + ":",
		ttl:    ttl,
	}
}

func (s *RedisStore[T]) key(k string) string {
	return s.prefix + k
}

// Get returns the value or shared.ErrNotFound
func (s *RedisStore[T]) Get(ctx context.Context, key string) (*T, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return decode[T](data)
}

// Set stores value, refreshing the ttl
func (s *RedisStore[T]) Set(ctx context.Context, key string, value *T) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode value for %s: %w", key, err)
	}
	if err := s.client.Set(ctx, s.key(key), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Delete removes the key. Missing keys are not an error.
func (s *RedisStore[T]) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// ListByPredicate scans the namespace and returns matching values ordered by key
func (s *RedisStore[T]) ListByPredicate(ctx context.Context, predicate func(*T) bool) ([]*T, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.prefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", strings.TrimSuffix(s.prefix, ":"), err)
	}
	sort.Strings(keys)

	out := make([]*T, 0, len(keys))
	for start := 0; start < len(keys); start += scanBatch {
		end := min(start+scanBatch, len(keys))
		values, err := s.client.MGet(ctx, keys[start:end]...).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to load values: %w", err)
		}
		for _, raw := range values {
			// keys can expire between SCAN and MGET
			str, ok := raw.(string)
			if !ok {
				continue
			}
			v, err := decode[T]([]byte(str))
			if err != nil {
				return nil, err
			}
			if predicate == nil || predicate(v) {
				out = append(out, v)
			}
		}
	}
	return out, nil
}

// Ping checks connectivity
func (s *RedisStore[T]) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

var _ shared.KeyedStore[struct{}] = (*RedisStore[struct{}])(nil)

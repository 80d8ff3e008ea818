// Package kvstore holds the keyed state repositories used for queue and batch-operation
// state: an in-memory map for single-node deployments and tests, and Redis for shared state.
package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/erp/payroll/internal/domain/shared"
)

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// InMemoryStore implements shared.KeyedStore with a map.
// Values are stored JSON-encoded so callers never share mutable state with the store.
// State does not survive restarts and is not visible to other instances.
type InMemoryStore[T any] struct {
	mu        sync.RWMutex
	entries   map[string]memoryEntry
	ttl       time.Duration
	now       func() time.Time
	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewInMemoryStore creates a store. A zero ttl keeps entries until deleted.
func NewInMemoryStore[T any](ttl time.Duration) *InMemoryStore[T] {
	s := &InMemoryStore[T]{
		entries:  make(map[string]memoryEntry),
		ttl:      ttl,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
	if ttl > 0 {
		s.wg.Add(1)
		go s.cleanupLoop(cleanupInterval(ttl))
	}
	return s
}

func cleanupInterval(ttl time.Duration) time.Duration {
	interval := ttl / 4
	if interval > 5*time.Minute {
		interval = 5 * time.Minute
	}
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}

// Get returns the value or shared.ErrNotFound
func (s *InMemoryStore[T]) Get(ctx context.Context, key string) (*T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok || e.expired(s.now()) {
		return nil, shared.ErrNotFound
	}
	return decode[T](e.data)
}

// Set stores a copy of value
func (s *InMemoryStore[T]) Set(ctx context.Context, key string, value *T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode value for %s: %w", key, err)
	}
	e := memoryEntry{data: data}
	if s.ttl > 0 {
		e.expiresAt = s.now().Add(s.ttl)
	}
	s.mu.Lock()
	s.entries[key] = e
	s.mu.Unlock()
	return nil
}

// Delete removes the key. Missing keys are not an error.
func (s *InMemoryStore[T]) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// ListByPredicate returns matching values ordered by key
func (s *InMemoryStore[T]) ListByPredicate(ctx context.Context, predicate func(*T) bool) ([]*T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := s.now()
	s.mu.RLock()
	keys := make([]string, 0, len(s.entries))
	for k, e := range s.entries {
		if !e.expired(now) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	snapshot := make([][]byte, 0, len(keys))
	for _, k := range keys {
		snapshot = append(snapshot, s.entries[k].data)
	}
	s.mu.RUnlock()

	out := make([]*T, 0)
	for _, data := range snapshot {
		v, err := decode[T](data)
		if err != nil {
			return nil, err
		}
		if predicate == nil || predicate(v) {
			out = append(out, v)
		}
	}
	return out, nil
}

// Size returns the number of stored entries, expired ones included
func (s *InMemoryStore[T]) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (s *InMemoryStore[T]) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopChan)
		s.wg.Wait()
	})
	return nil
}

func (s *InMemoryStore[T]) cleanupLoop(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *InMemoryStore[T]) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, k)
		}
	}
}

func decode[T any](data []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to decode stored value: %w", err)
	}
	return &v, nil
}

var _ shared.KeyedStore[struct{}] = (*InMemoryStore[struct{}])(nil)

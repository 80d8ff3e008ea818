package shared

import "context"

// KeyedStore is a keyed state repository for process-shared records that must
// survive restarts and be visible to every server instance (queue and batch state).
// Implementations return ErrNotFound from Get when the key is absent.
type KeyedStore[T any] interface {
	Get(ctx context.Context, key string) (*T, error)
	Set(ctx context.Context, key string, value *T) error
	Delete(ctx context.Context, key string) error
	ListByPredicate(ctx context.Context, predicate func(*T) bool) ([]*T, error)
}

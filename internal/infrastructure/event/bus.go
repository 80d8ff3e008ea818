package event

import (
	"context"
	"fmt"
	"sync"

	"github.com/erp/payroll/internal/domain/shared"
	"go.uber.org/zap"
)

// DeliveryStats counts handler deliveries per event type
type DeliveryStats struct {
	Delivered map[string]int64 `json:"delivered"`
	Failed    map[string]int64 `json:"failed"`
}

// InMemoryEventBus implements shared.EventBus with synchronous in-process delivery.
// A failing or panicking handler never blocks the remaining handlers.
type InMemoryEventBus struct {
	subs   subscriptions
	logger *zap.Logger

	mu        sync.Mutex
	running   bool
	delivered map[string]int64
	failed    map[string]int64
}

// NewInMemoryEventBus creates a new in-memory event bus
func NewInMemoryEventBus(logger *zap.Logger) *InMemoryEventBus {
	return &InMemoryEventBus{
		logger:    logger,
		delivered: make(map[string]int64),
		failed:    make(map[string]int64),
	}
}

// Publish delivers each event to its handlers in subscription order
func (b *InMemoryEventBus) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	for _, event := range events {
		for _, handler := range b.subs.matching(event.EventType()) {
			err := b.dispatch(ctx, handler, event)
			b.record(event.EventType(), err)
			if err != nil {
				b.logger.Error("Event handler failed",
					zap.String("event_type", event.EventType()),
					zap.String("event_id", event.EventID().String()),
					zap.String("aggregate_id", event.AggregateID().String()),
					zap.Error(err),
				)
			}
		}
	}
	return nil
}

// Subscribe registers a handler. Without explicit types the handler's own EventTypes are used.
func (b *InMemoryEventBus) Subscribe(handler shared.EventHandler, eventTypes ...string) {
	if len(eventTypes) == 0 {
		eventTypes = handler.EventTypes()
	}
	b.subs.add(handler, eventTypes...)
	b.logger.Debug("Event handler subscribed", zap.Strings("event_types", eventTypes))
}

// Unsubscribe removes a handler
func (b *InMemoryEventBus) Unsubscribe(handler shared.EventHandler) {
	b.subs.remove(handler)
}

// Start marks the bus as running
func (b *InMemoryEventBus) Start(ctx context.Context) error {
	b.mu.Lock()
	b.running = true
	b.mu.Unlock()
	b.logger.Info("Event bus started")
	return nil
}

// Stop marks the bus as stopped. Delivery is synchronous so nothing is in flight.
func (b *InMemoryEventBus) Stop(ctx context.Context) error {
	b.mu.Lock()
	b.running = false
	b.mu.Unlock()
	b.logger.Info("Event bus stopped")
	return nil
}

// Stats returns a snapshot of delivery counters
func (b *InMemoryEventBus) Stats() DeliveryStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := DeliveryStats{
		Delivered: make(map[string]int64, len(b.delivered)),
		Failed:    make(map[string]int64, len(b.failed)),
	}
	for k, v := range b.delivered {
		stats.Delivered[k] = v
	}
	for k, v := range b.failed {
		stats.Failed[k] = v
	}
	return stats
}

func (b *InMemoryEventBus) record(eventType string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.failed[eventType]++
		return
	}
	b.delivered[eventType]++
}

func (b *InMemoryEventBus) dispatch(ctx context.Context, handler shared.EventHandler, event shared.DomainEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler.Handle(ctx, event)
}

var _ shared.EventBus = (*InMemoryEventBus)(nil)

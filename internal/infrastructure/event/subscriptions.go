package event

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/erp/payroll/internal/domain/shared"
)

type subscription struct {
	handler shared.EventHandler
	// nil accepts every event type
	types map[string]struct{}
}

func (s subscription) accepts(eventType string) bool {
	if s.types == nil {
		return true
	}
	_, ok := s.types[eventType]
	return ok
}

// subscriptions is a copy-on-write handler list. Publish reads a snapshot
// without locking, so a handler may subscribe or unsubscribe while an event
// is being delivered.
type subscriptions struct {
	mu   sync.Mutex
	list atomic.Pointer[[]subscription]
}

func (s *subscriptions) snapshot() []subscription {
	if p := s.list.Load(); p != nil {
		return *p
	}
	return nil
}

func (s *subscriptions) add(handler shared.EventHandler, eventTypes ...string) {
	sub := subscription{handler: handler}
	if len(eventTypes) > 0 {
		sub.types = make(map[string]struct{}, len(eventTypes))
		for _, t := range eventTypes {
			sub.types[t] = struct{}{}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	next := append(slices.Clone(s.snapshot()), sub)
	s.list.Store(&next)
}

func (s *subscriptions) remove(handler shared.EventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := slices.DeleteFunc(slices.Clone(s.snapshot()), func(sub subscription) bool {
		return sub.handler == handler
	})
	s.list.Store(&next)
}

// matching returns the handlers accepting eventType in subscription order
func (s *subscriptions) matching(eventType string) []shared.EventHandler {
	var handlers []shared.EventHandler
	for _, sub := range s.snapshot() {
		if sub.accepts(eventType) {
			handlers = append(handlers, sub.handler)
		}
	}
	return handlers
}

package event

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/erp/bundle-engine/internal/domain/shared"
)

// routes is an immutable snapshot of the subscriptions. Publish reads the
// current snapshot without locking; writers build a new one.
type routes struct {
	byType map[string][]shared.EventHandler
	all    []shared.EventHandler
}

func (r *routes) handlersFor(eventType string) []shared.EventHandler {
	typed := r.byType[eventType]
	if len(r.all) == 0 {
		return typed
	}
	if len(typed) == 0 {
		return r.all
	}
	return slices.Concat(typed, r.all)
}

func (r *routes) distinct() int {
	seen := make(map[shared.EventHandler]struct{}, len(r.all))
	for _, h := range r.all {
		seen[h] = struct{}{}
	}
	for _, hs := range r.byType {
		for _, h := range hs {
			seen[h] = struct{}{}
		}
	}
	return len(seen)
}

// subscriptions is the copy-on-write routing table behind InMemoryEventBus
type subscriptions struct {
	writeMu sync.Mutex
	current atomic.Pointer[routes]
}

func newSubscriptions() *subscriptions {
	s := &subscriptions{}
	s.current.Store(&routes{byType: map[string][]shared.EventHandler{}})
	return s
}

func (s *subscriptions) snapshot() *routes {
	return s.current.Load()
}

// add routes eventTypes to handler; no types means every event
func (s *subscriptions) add(handler shared.EventHandler, eventTypes ...string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	old := s.snapshot()
	next := &routes{byType: make(map[string][]shared.EventHandler, len(old.byType)+len(eventTypes)), all: old.all}
	for t, hs := range old.byType {
		next.byType[t] = hs
	}
	if len(eventTypes) == 0 {
		next.all = append(slices.Clip(old.all), handler)
	}
	for _, t := range eventTypes {
		next.byType[t] = append(slices.Clip(old.byType[t]), handler)
	}
	s.current.Store(next)
}

// remove drops handler from every route
func (s *subscriptions) remove(handler shared.EventHandler) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	old := s.snapshot()
	keep := func(hs []shared.EventHandler) []shared.EventHandler {
		return slices.DeleteFunc(slices.Clone(hs), func(h shared.EventHandler) bool { return h == handler })
	}
	next := &routes{byType: make(map[string][]shared.EventHandler, len(old.byType)), all: keep(old.all)}
	for t, hs := range old.byType {
		if left := keep(hs); len(left) > 0 {
			next.byType[t] = left
		}
	}
	s.current.Store(next)
}

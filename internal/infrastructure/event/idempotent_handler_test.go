package event

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/erp/bundle-engine/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type mapStore struct {
	mu   sync.Mutex
	keys map[string]bool
	err  error
}

func newMapStore() *mapStore { return &mapStore{keys: make(map[string]bool)} }

func (s *mapStore) MarkProcessed(_ context.Context, key string, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	if s.keys[key] {
		return false, nil
	}
	s.keys[key] = true
	return true, nil
}

func (s *mapStore) IsProcessed(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys[key], s.err
}

func (s *mapStore) Close() error { return nil }

func TestIdempotentHandler_SkipsDuplicates(t *testing.T) {
	inner := newTestHandler("E")
	h := NewIdempotentHandler(inner, newMapStore(), zaptest.NewLogger(t))

	event := newTestEvent("E")
	require.NoError(t, h.Handle(context.Background(), event))
	require.NoError(t, h.Handle(context.Background(), event))

	assert.Len(t, inner.getHandled(), 1)
	assert.Equal(t, DeliveryStats{Delivered: 1, Duplicate: 1}, h.Stats())
	assert.Equal(t, []string{"E"}, h.EventTypes())
}

func TestIdempotentHandler_CustomKey(t *testing.T) {
	inner := newTestHandler("E")
	byAggregate := func(e shared.DomainEvent) string { return "posting:" + e.AggregateID().String() }
	h := NewIdempotentHandler(inner, newMapStore(), nil, WithKeyFunc(byAggregate))

	first := newTestEvent("E")
	second := newTestEvent("E")
	second.AggID = first.AggID

	require.NoError(t, h.Handle(context.Background(), first))
	require.NoError(t, h.Handle(context.Background(), second))
	assert.Len(t, inner.getHandled(), 1, "same aggregate is handled once")
}

func TestIdempotentHandler_StoreErrorStillProcesses(t *testing.T) {
	store := newMapStore()
	store.err = errors.New("redis down")
	inner := newTestHandler("E")
	var seen []Delivery
	h := NewIdempotentHandler(inner, store, zaptest.NewLogger(t),
		WithDeliveryObserver(func(_ context.Context, d Delivery) { seen = append(seen, d) }))

	require.NoError(t, h.Handle(context.Background(), newTestEvent("E")))
	assert.Len(t, inner.getHandled(), 1)
	assert.Equal(t, []Delivery{Unchecked, Delivered}, seen)
	assert.Equal(t, DeliveryStats{Delivered: 1, Unchecked: 1}, h.Stats())
}

func TestIdempotentHandler_FailureKeepsKey(t *testing.T) {
	store := newMapStore()
	inner := newTestHandler("E")
	inner.err = errors.New("ledger rejected posting")
	h := NewIdempotentHandler(inner, store, nil)

	event := newTestEvent("E")
	assert.Error(t, h.Handle(context.Background(), event))
	assert.NoError(t, h.Handle(context.Background(), event), "retry inside TTL is treated as duplicate")
	assert.Equal(t, DeliveryStats{Failed: 1, Duplicate: 1}, h.Stats())
}

func TestIdempotentHandler_Disabled(t *testing.T) {
	inner := newTestHandler("E")
	h := NewIdempotentHandler(inner, newMapStore(), nil,
		WithIdempotencyConfig(shared.IdempotencyConfig{Enabled: false}))

	event := newTestEvent("E")
	require.NoError(t, h.Handle(context.Background(), event))
	require.NoError(t, h.Handle(context.Background(), event))
	assert.Len(t, inner.getHandled(), 2)
	assert.Equal(t, int64(2), h.Stats().Delivered)
}

func TestIdempotentHandler_NilStoreDelivers(t *testing.T) {
	inner := newTestHandler("E")
	h := NewIdempotentHandler(inner, nil, nil)

	event := newTestEvent("E")
	require.NoError(t, h.Handle(context.Background(), event))
	require.NoError(t, h.Handle(context.Background(), event))
	assert.Len(t, inner.getHandled(), 2)
}

func TestByEventID(t *testing.T) {
	event := newTestEvent("E")
	assert.Equal(t, "event:"+event.EventID().String(), ByEventID(event))
}

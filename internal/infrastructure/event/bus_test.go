package event

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/erp/bundle-engine/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type testEvent struct {
	shared.BaseDomainEvent
	Data string `json:"data"`
}

func newTestEvent(eventType string) *testEvent {
	return &testEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(eventType, "TestAggregate", uuid.New()),
		Data:            "test data",
	}
}

type testHandler struct {
	eventTypes []string
	handled    []shared.DomainEvent
	err        error
	panicWith  any
	mu         sync.Mutex
}

func newTestHandler(eventTypes ...string) *testHandler {
	return &testHandler{eventTypes: eventTypes}
}

func (h *testHandler) Handle(_ context.Context, event shared.DomainEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.panicWith != nil {
		panic(h.panicWith)
	}
	h.handled = append(h.handled, event)
	return h.err
}

func (h *testHandler) EventTypes() []string { return h.eventTypes }

func (h *testHandler) getHandled() []shared.DomainEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]shared.DomainEvent(nil), h.handled...)
}

func TestInMemoryEventBus_Publish(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())
	handler := newTestHandler("AllocationCommitted")
	bus.Subscribe(handler)

	event := newTestEvent("AllocationCommitted")
	require.NoError(t, bus.Publish(context.Background(), event, newTestEvent("Other")))

	require.Len(t, handler.getHandled(), 1)
	assert.Equal(t, event, handler.getHandled()[0])
}

func TestInMemoryEventBus_WildcardHandler(t *testing.T) {
	bus := NewInMemoryEventBus(nil)
	all := newTestHandler()
	bus.Subscribe(all)

	require.NoError(t, bus.Publish(context.Background(), newTestEvent("A"), newTestEvent("B")))
	assert.Len(t, all.getHandled(), 2)
}

func TestInMemoryEventBus_HandlerFailuresAreIsolated(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	bus := NewInMemoryEventBus(zap.New(core))

	failing := newTestHandler("E")
	failing.err = errors.New("posting ledger unavailable")
	panicking := newTestHandler("E")
	panicking.panicWith = "boom"
	healthy := newTestHandler("E")

	bus.Subscribe(failing)
	bus.Subscribe(panicking)
	bus.Subscribe(healthy)

	err := bus.Publish(context.Background(), newTestEvent("E"))
	require.NoError(t, err, "handler errors never reach the publisher")
	assert.Len(t, healthy.getHandled(), 1)
	assert.Equal(t, 2, logs.FilterMessage("handler failed to process event").Len())
}

func TestInMemoryEventBus_Unsubscribe(t *testing.T) {
	bus := NewInMemoryEventBus(nil)
	handler := newTestHandler("E")
	bus.Subscribe(handler)
	bus.Unsubscribe(handler)

	require.NoError(t, bus.Publish(context.Background(), newTestEvent("E")))
	assert.Empty(t, handler.getHandled())
	require.NoError(t, bus.Start(context.Background()))
	require.NoError(t, bus.Stop(context.Background()))
}

func TestInMemoryEventBus_Routing(t *testing.T) {
	bus := NewInMemoryEventBus(nil)
	a := newTestHandler()
	b := newTestHandler()

	bus.Subscribe(a, "X", "Y")
	bus.Subscribe(b)

	assert.Equal(t, []shared.EventHandler{a, b}, bus.subs.snapshot().handlersFor("X"))
	assert.Equal(t, []shared.EventHandler{b}, bus.subs.snapshot().handlersFor("Z"))
	assert.Equal(t, 2, bus.HandlerCount())

	bus.Unsubscribe(a)
	assert.Equal(t, []shared.EventHandler{b}, bus.subs.snapshot().handlersFor("X"))
	assert.Equal(t, 1, bus.HandlerCount())
}

func TestInMemoryEventBus_SubscribeDuringPublish(t *testing.T) {
	bus := NewInMemoryEventBus(nil)
	late := newTestHandler("E")
	first := &funcHandler{types: []string{"E"}, fn: func() { bus.Subscribe(late) }}
	bus.Subscribe(first)

	require.NoError(t, bus.Publish(context.Background(), newTestEvent("E")))
	assert.Empty(t, late.getHandled(), "publish uses the routes in place when it started")

	require.NoError(t, bus.Publish(context.Background(), newTestEvent("E")))
	assert.Len(t, late.getHandled(), 1)
}

type funcHandler struct {
	types []string
	fn    func()
}

func (h *funcHandler) Handle(context.Context, shared.DomainEvent) error {
	h.fn()
	return nil
}

func (h *funcHandler) EventTypes() []string { return h.types }

package event

import (
	"context"
	"fmt"

	"github.com/erp/bundle-engine/internal/domain/shared"
	"go.uber.org/zap"
)

// InMemoryEventBus delivers events synchronously on the publisher's
// goroutine. A failing or panicking handler is logged and skipped; the
// publisher never sees its error, so a committed allocation is never
// reported as failed because of a downstream consumer.
type InMemoryEventBus struct {
	subs   *subscriptions
	logger *zap.Logger
}

// NewInMemoryEventBus creates an empty bus
func NewInMemoryEventBus(logger *zap.Logger) *InMemoryEventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryEventBus{
		subs:   newSubscriptions(),
		logger: logger.Named("event_bus"),
	}
}

// Publish hands each event to its type-specific handlers, then to handlers
// subscribed to everything, in subscription order.
func (b *InMemoryEventBus) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	table := b.subs.snapshot()
	for _, ev := range events {
		for _, h := range table.handlersFor(ev.EventType()) {
			if err := deliver(ctx, h, ev); err != nil {
				b.logger.Error("handler failed to process event",
					zap.String("event_type", ev.EventType()),
					zap.String("event_id", ev.EventID().String()),
					zap.String("aggregate_id", ev.AggregateID().String()),
					zap.Error(err),
				)
			}
		}
	}
	return nil
}

// Subscribe registers handler for eventTypes, falling back to the handler's
// own EventTypes. A handler reporting no types receives every event.
func (b *InMemoryEventBus) Subscribe(handler shared.EventHandler, eventTypes ...string) {
	if len(eventTypes) == 0 {
		eventTypes = handler.EventTypes()
	}
	b.subs.add(handler, eventTypes...)
	b.logger.Debug("handler subscribed", zap.Strings("event_types", eventTypes))
}

// Unsubscribe removes handler from every event type
func (b *InMemoryEventBus) Unsubscribe(handler shared.EventHandler) {
	b.subs.remove(handler)
}

// HandlerCount is the number of distinct subscribed handlers
func (b *InMemoryEventBus) HandlerCount() int {
	return b.subs.snapshot().distinct()
}

func (b *InMemoryEventBus) Start(context.Context) error {
	b.logger.Debug("event bus started", zap.Int("handlers", b.HandlerCount()))
	return nil
}

func (b *InMemoryEventBus) Stop(context.Context) error {
	b.logger.Debug("event bus stopped")
	return nil
}

func deliver(ctx context.Context, h shared.EventHandler, ev shared.DomainEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h.Handle(ctx, ev)
}

var _ shared.EventBus = (*InMemoryEventBus)(nil)

package event

import (
	"context"
	"sync/atomic"

	"github.com/erp/bundle-engine/internal/domain/shared"
	"go.uber.org/zap"
)

// Delivery is what happened to one event passed through an IdempotentHandler
type Delivery string

const (
	Delivered Delivery = "delivered"
	Duplicate Delivery = "duplicate"
	Failed    Delivery = "failed"
	// Unchecked: the store could not be consulted and the event was handled
	// anyway. Under store outages a side effect may therefore repeat.
	Unchecked Delivery = "unchecked"
)

// DeliveryStats counts deliveries per outcome. Unchecked deliveries are
// also counted as Delivered or Failed.
type DeliveryStats struct {
	Delivered int64
	Duplicate int64
	Failed    int64
	Unchecked int64
}

// KeyFunc derives the deduplication key of an event
type KeyFunc func(shared.DomainEvent) string

// ByEventID deduplicates on the event id
func ByEventID(e shared.DomainEvent) string {
	return "event:" + e.EventID().String()
}

// IdempotentHandler runs the wrapped handler at most once per key for as
// long as the store remembers the key. A key is claimed before the handler
// runs, so a failed delivery is not retried within the TTL.
type IdempotentHandler struct {
	next    shared.EventHandler
	store   shared.IdempotencyStore
	cfg     shared.IdempotencyConfig
	key     KeyFunc
	observe func(context.Context, Delivery)
	logger  *zap.Logger

	delivered, duplicate, failed, unchecked atomic.Int64
}

// IdempotentOption configures an IdempotentHandler
type IdempotentOption func(*IdempotentHandler)

func WithIdempotencyConfig(cfg shared.IdempotencyConfig) IdempotentOption {
	return func(h *IdempotentHandler) { h.cfg = cfg }
}

// WithKeyFunc replaces ByEventID
func WithKeyFunc(fn KeyFunc) IdempotentOption {
	return func(h *IdempotentHandler) { h.key = fn }
}

// WithDeliveryObserver is called once per Handle with its outcome. A store
// failure reports Unchecked before the handler's own outcome.
func WithDeliveryObserver(fn func(context.Context, Delivery)) IdempotentOption {
	return func(h *IdempotentHandler) { h.observe = fn }
}

// NewIdempotentHandler wraps next. A nil store disables deduplication.
func NewIdempotentHandler(next shared.EventHandler, store shared.IdempotencyStore, logger *zap.Logger, opts ...IdempotentOption) *IdempotentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &IdempotentHandler{
		next:    next,
		store:   store,
		cfg:     shared.DefaultIdempotencyConfig(),
		key:     ByEventID,
		observe: func(context.Context, Delivery) {},
		logger:  logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *IdempotentHandler) EventTypes() []string {
	return h.next.EventTypes()
}

func (h *IdempotentHandler) Handle(ctx context.Context, ev shared.DomainEvent) error {
	if !h.cfg.Enabled || h.store == nil {
		return h.run(ctx, ev)
	}

	key := h.key(ev)
	claimed, err := h.store.MarkProcessed(ctx, key, h.cfg.TTL)
	switch {
	case err != nil:
		h.unchecked.Add(1)
		h.observe(ctx, Unchecked)
		h.logger.Warn("idempotency store unavailable, delivering unchecked",
			zap.String("idempotency_key", key), zap.Error(err))
	case !claimed:
		h.duplicate.Add(1)
		h.observe(ctx, Duplicate)
		h.logger.Debug("duplicate delivery skipped",
			zap.String("idempotency_key", key), zap.String("event_type", ev.EventType()))
		return nil
	}
	return h.run(ctx, ev)
}

func (h *IdempotentHandler) run(ctx context.Context, ev shared.DomainEvent) error {
	if err := h.next.Handle(ctx, ev); err != nil {
		h.failed.Add(1)
		h.observe(ctx, Failed)
		return err
	}
	h.delivered.Add(1)
	h.observe(ctx, Delivered)
	return nil
}

// Stats returns the counts since construction
func (h *IdempotentHandler) Stats() DeliveryStats {
	return DeliveryStats{
		Delivered: h.delivered.Load(),
		Duplicate: h.duplicate.Load(),
		Failed:    h.failed.Load(),
		Unchecked: h.unchecked.Load(),
	}
}

var _ shared.EventHandler = (*IdempotentHandler)(nil)

package bundle

import (
	"context"
	"fmt"

	"github.com/erp/bundle-engine/internal/domain/inventory"
	"github.com/erp/bundle-engine/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AllocationPosting is what the financial side needs to book a bundle sale
type AllocationPosting struct {
	TransactionID  uuid.UUID
	BundleID       uuid.UUID
	Quantity       int64
	Deductions     []inventory.Deduction
	EffectivePrice decimal.Decimal
	Reference      string
}

// FinancialPoster books committed allocations downstream
type FinancialPoster interface {
	PostAllocation(ctx context.Context, posting AllocationPosting) error
}

// PostingHandler forwards AllocationCommitted events to a FinancialPoster.
// A failed posting is logged and never undoes the allocation.
type PostingHandler struct {
	poster FinancialPoster
	logger *zap.Logger
}

// NewPostingHandler creates a new PostingHandler
func NewPostingHandler(poster FinancialPoster, logger *zap.Logger) *PostingHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostingHandler{poster: poster, logger: logger.Named("posting")}
}

// EventTypes implements shared.EventHandler
func (h *PostingHandler) EventTypes() []string {
	return []string{inventory.EventTypeAllocationCommitted}
}

// Handle implements shared.EventHandler
func (h *PostingHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	committed, ok := event.(*inventory.AllocationCommittedEvent)
	if !ok {
		return fmt.Errorf("posting handler: unexpected event %T", event)
	}
	err := h.poster.PostAllocation(ctx, AllocationPosting{
		TransactionID:  committed.TransactionID,
		BundleID:       committed.BundleID,
		Quantity:       committed.Quantity,
		Deductions:     committed.Deductions,
		EffectivePrice: committed.EffectivePrice,
		Reference:      committed.Reference,
	})
	if err != nil {
		h.logger.Error("financial posting failed",
			zap.String("transaction_id", committed.TransactionID.String()),
			zap.String("bundle_id", committed.BundleID.String()),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// PostingKey deduplicates postings by allocation rather than by event, so a
// republished event for the same allocation is booked once
func PostingKey(event shared.DomainEvent) string {
	if committed, ok := event.(*inventory.AllocationCommittedEvent); ok {
		return "posting:" + committed.TransactionID.String()
	}
	return "posting:" + event.EventID().String()
}

// LoggingPoster only logs postings. It stands in when no ledger is attached.
type LoggingPoster struct {
	logger *zap.Logger
}

// NewLoggingPoster creates a new LoggingPoster
func NewLoggingPoster(logger *zap.Logger) *LoggingPoster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingPoster{logger: logger}
}

// PostAllocation implements FinancialPoster
func (p *LoggingPoster) PostAllocation(_ context.Context, posting AllocationPosting) error {
	p.logger.Info("allocation posted",
		zap.String("transaction_id", posting.TransactionID.String()),
		zap.String("bundle_id", posting.BundleID.String()),
		zap.Int64("quantity", posting.Quantity),
		zap.Int("deductions", len(posting.Deductions)),
		zap.String("effective_price", posting.EffectivePrice.String()),
	)
	return nil
}

var (
	_ shared.EventHandler = (*PostingHandler)(nil)
	_ FinancialPoster     = (*LoggingPoster)(nil)
)

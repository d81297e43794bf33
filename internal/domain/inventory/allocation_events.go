package inventory

import (
	"github.com/erp/bundle-engine/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Allocation event type constants
const (
	// EventTypeAllocationCommitted is raised after stock for a bundle sale was
	// deducted. Financial posting subscribes to it.
	EventTypeAllocationCommitted = "AllocationCommitted"

	// EventTypeAllocationReversed is raised after a committed allocation was
	// credited back.
	EventTypeAllocationReversed = "AllocationReversed"

	AggregateTypeAllocation = "AllocationTransaction"
)

// AllocationCommittedEvent carries what downstream posting needs
type AllocationCommittedEvent struct {
	shared.BaseDomainEvent
	TransactionID  uuid.UUID       `json:"transaction_id"`
	BundleID       uuid.UUID       `json:"bundle_id"`
	Quantity       int64           `json:"quantity"`
	Deductions     []Deduction     `json:"deductions"`
	PriceDelta     decimal.Decimal `json:"price_delta"`
	EffectivePrice decimal.Decimal `json:"effective_price"`
	Reference      string          `json:"reference,omitempty"`
}

// NewAllocationCommittedEvent creates an AllocationCommittedEvent
func NewAllocationCommittedEvent(t *AllocationTransaction) *AllocationCommittedEvent {
	return &AllocationCommittedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeAllocationCommitted, AggregateTypeAllocation, t.ID),
		TransactionID:   t.ID,
		BundleID:        t.BundleProductID,
		Quantity:        t.QuantityRequested,
		Deductions:      append([]Deduction(nil), t.Deductions...),
		PriceDelta:      t.PriceDelta,
		EffectivePrice:  t.EffectivePrice,
		Reference:       t.Reference,
	}
}

// AllocationReversedEvent is raised when an allocation is undone
type AllocationReversedEvent struct {
	shared.BaseDomainEvent
	TransactionID uuid.UUID   `json:"transaction_id"`
	BundleID      uuid.UUID   `json:"bundle_id"`
	Deductions    []Deduction `json:"deductions"`
}

// NewAllocationReversedEvent creates an AllocationReversedEvent
func NewAllocationReversedEvent(t *AllocationTransaction) *AllocationReversedEvent {
	return &AllocationReversedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeAllocationReversed, AggregateTypeAllocation, t.ID),
		TransactionID:   t.ID,
		BundleID:        t.BundleProductID,
		Deductions:      append([]Deduction(nil), t.Deductions...),
	}
}

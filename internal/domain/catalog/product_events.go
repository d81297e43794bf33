package catalog

import (
	"github.com/erp/bundle-engine/internal/domain/shared"
	"github.com/google/uuid"
)

const (
	EventTypeProductCreated       = "ProductCreated"
	EventTypeProductStatusChanged = "ProductStatusChanged"

	AggregateTypeProduct = "Product"
)

// ProductCreatedEvent is raised when a product is created
type ProductCreatedEvent struct {
	shared.BaseDomainEvent
	ProductID uuid.UUID   `json:"product_id"`
	Code      string      `json:"code"`
	Kind      ProductKind `json:"kind"`
}

// NewProductCreatedEvent creates a ProductCreatedEvent
func NewProductCreatedEvent(p *Product) *ProductCreatedEvent {
	return &ProductCreatedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeProductCreated, AggregateTypeProduct, p.ID),
		ProductID:       p.ID,
		Code:            p.Code,
		Kind:            p.Kind,
	}
}

// ProductStatusChangedEvent is raised on activation/deactivation. Availability
// caches of bundles using the product must be dropped when it fires.
type ProductStatusChangedEvent struct {
	shared.BaseDomainEvent
	ProductID uuid.UUID     `json:"product_id"`
	OldStatus ProductStatus `json:"old_status"`
	NewStatus ProductStatus `json:"new_status"`
}

// NewProductStatusChangedEvent creates a ProductStatusChangedEvent
func NewProductStatusChangedEvent(p *Product, oldStatus, newStatus ProductStatus) *ProductStatusChangedEvent {
	return &ProductStatusChangedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeProductStatusChanged, AggregateTypeProduct, p.ID),
		ProductID:       p.ID,
		OldStatus:       oldStatus,
		NewStatus:       newStatus,
	}
}

package bundle

import (
	"github.com/erp/bundle-engine/internal/domain/shared"
	"github.com/google/uuid"
)

// Event types raised by composition changes
const (
	EventTypeBundleCreated       = "BundleCreated"
	EventTypeBundleEdgesReplaced = "BundleEdgesReplaced"
	EventTypeBundleDeleted       = "BundleDeleted"
	EventTypeSubstitutionChanged = "SubstitutionChanged"

	AggregateTypeBundle = "Bundle"
)

// BundleCreatedEvent is raised when a bundle gets its first composition
type BundleCreatedEvent struct {
	shared.BaseDomainEvent
	BundleID     uuid.UUID   `json:"bundle_id"`
	ComponentIDs []uuid.UUID `json:"component_ids"`
}

// NewBundleCreatedEvent creates a BundleCreatedEvent
func NewBundleCreatedEvent(bundleID uuid.UUID, edges []CompositionEdge) *BundleCreatedEvent {
	return &BundleCreatedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeBundleCreated, AggregateTypeBundle, bundleID),
		BundleID:        bundleID,
		ComponentIDs:    ComponentIDs(edges),
	}
}

// BundleEdgesReplacedEvent is raised after an atomic edge replacement
type BundleEdgesReplacedEvent struct {
	shared.BaseDomainEvent
	BundleID       uuid.UUID   `json:"bundle_id"`
	ComponentIDs   []uuid.UUID `json:"component_ids"`
	RemovedEdgeIDs []uuid.UUID `json:"removed_edge_ids"`
}

// NewBundleEdgesReplacedEvent creates a BundleEdgesReplacedEvent
func NewBundleEdgesReplacedEvent(bundleID uuid.UUID, plan EdgeReplacement) *BundleEdgesReplacedEvent {
	return &BundleEdgesReplacedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeBundleEdgesReplaced, AggregateTypeBundle, bundleID),
		BundleID:        bundleID,
		ComponentIDs:    ComponentIDs(plan.Edges),
		RemovedEdgeIDs:  plan.RemovedIDs(),
	}
}

// BundleDeletedEvent is raised when a bundle's composition is removed
type BundleDeletedEvent struct {
	shared.BaseDomainEvent
	BundleID uuid.UUID `json:"bundle_id"`
}

// NewBundleDeletedEvent creates a BundleDeletedEvent
func NewBundleDeletedEvent(bundleID uuid.UUID) *BundleDeletedEvent {
	return &BundleDeletedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeBundleDeleted, AggregateTypeBundle, bundleID),
		BundleID:        bundleID,
	}
}

// SubstitutionChange names what happened to an option
type SubstitutionChange string

const (
	SubstitutionAdded       SubstitutionChange = "added"
	SubstitutionActivated   SubstitutionChange = "activated"
	SubstitutionDeactivated SubstitutionChange = "deactivated"
	SubstitutionDefaultSet  SubstitutionChange = "default_set"
	SubstitutionRemoved     SubstitutionChange = "removed"
)

// SubstitutionChangedEvent is raised for every option mutation
type SubstitutionChangedEvent struct {
	shared.BaseDomainEvent
	BundleID             uuid.UUID          `json:"bundle_id"`
	EdgeID               uuid.UUID          `json:"edge_id"`
	OptionID             uuid.UUID          `json:"option_id"`
	AlternativeProductID uuid.UUID          `json:"alternative_product_id"`
	Change               SubstitutionChange `json:"change"`
}

// NewSubstitutionChangedEvent creates a SubstitutionChangedEvent
func NewSubstitutionChangedEvent(bundleID uuid.UUID, opt *SubstitutionOption, change SubstitutionChange) *SubstitutionChangedEvent {
	e := &SubstitutionChangedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeSubstitutionChanged, AggregateTypeBundle, bundleID),
		BundleID:        bundleID,
		Change:          change,
	}
	if opt != nil {
		e.EdgeID = opt.EdgeID
		e.OptionID = opt.ID
		e.AlternativeProductID = opt.AlternativeProductID
	}
	return e
}

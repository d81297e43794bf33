package bundle

import (
	"github.com/erp/bundle-engine/internal/domain/shared"
	"github.com/google/uuid"
)

// CompositionEdge is one bill-of-materials line: the bundle needs
// RequiredQuantity units of ComponentProductID per unit sold.
type CompositionEdge struct {
	shared.BaseEntity
	BundleProductID    uuid.UUID
	ComponentProductID uuid.UUID
	RequiredQuantity   int64
}

// EdgeSpec is the caller-supplied shape of an edge before it is persisted
type EdgeSpec struct {
	ComponentProductID uuid.UUID
	RequiredQuantity   int64
}

// NewCompositionEdge creates an edge with a fresh id
func NewCompositionEdge(bundleID uuid.UUID, spec EdgeSpec) CompositionEdge {
	return CompositionEdge{
		BaseEntity:         shared.NewBaseEntity(),
		BundleProductID:    bundleID,
		ComponentProductID: spec.ComponentProductID,
		RequiredQuantity:   spec.RequiredQuantity,
	}
}

// EdgeReplacement describes how an edge set changes when a bundle's
// composition is replaced.
type EdgeReplacement struct {
	// Edges is the complete new edge set. Edges whose component was already
	// present keep their id, so substitution options attached to them survive.
	Edges []CompositionEdge
	// Removed lists edges that no longer exist; their options must be deleted.
	Removed []CompositionEdge
}

// RemovedIDs returns the ids of the removed edges
func (r EdgeReplacement) RemovedIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(r.Removed))
	for _, e := range r.Removed {
		ids = append(ids, e.ID)
	}
	return ids
}

// PlanEdgeReplacement matches specs against the existing edges by component.
// Specs are assumed to be structurally valid (see ValidateEdgeSpecs).
func PlanEdgeReplacement(bundleID uuid.UUID, existing []CompositionEdge, specs []EdgeSpec) EdgeReplacement {
	byComponent := make(map[uuid.UUID]CompositionEdge, len(existing))
	for _, e := range existing {
		byComponent[e.ComponentProductID] = e
	}

	var plan EdgeReplacement
	seen := make(map[uuid.UUID]struct{}, len(specs))
	for _, spec := range specs {
		seen[spec.ComponentProductID] = struct{}{}
		if old, ok := byComponent[spec.ComponentProductID]; ok {
			if old.RequiredQuantity != spec.RequiredQuantity {
				old.RequiredQuantity = spec.RequiredQuantity
				old.Touch()
			}
			plan.Edges = append(plan.Edges, old)
			continue
		}
		plan.Edges = append(plan.Edges, NewCompositionEdge(bundleID, spec))
	}
	for _, e := range existing {
		if _, ok := seen[e.ComponentProductID]; !ok {
			plan.Removed = append(plan.Removed, e)
		}
	}
	return plan
}

// ComponentIDs returns the primary component ids of edges, in edge order
func ComponentIDs(edges []CompositionEdge) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(edges))
	for _, e := range edges {
		ids = append(ids, e.ComponentProductID)
	}
	return ids
}

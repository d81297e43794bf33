package bundle

import (
	"github.com/erp/bundle-engine/internal/domain/bundle"
	"github.com/erp/bundle-engine/internal/domain/inventory"
	"github.com/erp/bundle-engine/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EdgeInput is one component line of a bundle definition. Quantities and
// duplicates are checked by composition validation so that they surface as
// graph issues.
type EdgeInput struct {
	ComponentProductID uuid.UUID `json:"component_product_id"`
	RequiredQuantity   int64     `json:"required_quantity"`
}

// CreateBundleRequest defines a new bundle
type CreateBundleRequest struct {
	BundleProductID uuid.UUID   `json:"bundle_product_id" validate:"required"`
	Edges           []EdgeInput `json:"edges"`
}

func edgeSpecs(edges []EdgeInput) []bundle.EdgeSpec {
	specs := make([]bundle.EdgeSpec, len(edges))
	for i, e := range edges {
		specs[i] = bundle.EdgeSpec{ComponentProductID: e.ComponentProductID, RequiredQuantity: e.RequiredQuantity}
	}
	return specs
}

// AddSubstitutionRequest registers an alternative product for an edge
type AddSubstitutionRequest struct {
	EdgeID               uuid.UUID       `json:"edge_id" validate:"required"`
	AlternativeProductID uuid.UUID       `json:"alternative_product_id" validate:"required"`
	IsDefault            bool            `json:"is_default"`
	PriceAdjustment      decimal.Decimal `json:"price_adjustment"`
	DisplayOrder         int             `json:"display_order" validate:"gte=0"`
}

// AllocateRequest sells Quantity units of a bundle
type AllocateRequest struct {
	BundleID uuid.UUID `json:"bundle_id" validate:"required"`
	Quantity int64     `json:"quantity" validate:"gt=0"`
	// Selection maps every edge to its chosen product; empty means defaults
	Selection  bundle.Selection `json:"selection,omitempty"`
	LocationID *uuid.UUID       `json:"location_id,omitempty"`
	// IdempotencyKey makes the whole call safe to retry
	IdempotencyKey string `json:"idempotency_key,omitempty" validate:"max=200"`
	Reference      string `json:"reference,omitempty" validate:"max=200"`
}

// TransactionQuery filters the allocation log
type TransactionQuery struct {
	BundleID *uuid.UUID `json:"bundle_id,omitempty"`
	Status   string     `json:"status,omitempty" validate:"omitempty,oneof=COMMITTED REVERSED"`
	Page     int        `json:"page" validate:"gte=0"`
	PageSize int        `json:"page_size" validate:"gte=0,lte=500"`
	OrderDir string     `json:"order_dir,omitempty" validate:"omitempty,oneof=asc desc"`
}

func (q TransactionQuery) toFilter() inventory.TransactionFilter {
	f := inventory.TransactionFilter{
		Filter:   shared.Filter{Page: q.Page, PageSize: q.PageSize, OrderDir: q.OrderDir}.Normalize(),
		BundleID: q.BundleID,
	}
	if q.Status != "" {
		status := inventory.AllocationStatus(q.Status)
		f.Status = &status
	}
	return f
}

// SubstitutionView is a substitution option as returned to callers
type SubstitutionView struct {
	ID                   uuid.UUID       `json:"id"`
	EdgeID               uuid.UUID       `json:"edge_id"`
	AlternativeProductID uuid.UUID       `json:"alternative_product_id"`
	IsDefault            bool            `json:"is_default"`
	IsActive             bool            `json:"is_active"`
	PriceAdjustment      decimal.Decimal `json:"price_adjustment"`
	DisplayOrder         int             `json:"display_order"`
}

func toSubstitutionView(o bundle.SubstitutionOption) SubstitutionView {
	return SubstitutionView{
		ID:                   o.ID,
		EdgeID:               o.EdgeID,
		AlternativeProductID: o.AlternativeProductID,
		IsDefault:            o.IsDefault,
		IsActive:             o.IsActive,
		PriceAdjustment:      o.PriceAdjustment,
		DisplayOrder:         o.DisplayOrder,
	}
}

// EdgeView is a composition edge with its substitution options
type EdgeView struct {
	ID                 uuid.UUID          `json:"id"`
	ComponentProductID uuid.UUID          `json:"component_product_id"`
	RequiredQuantity   int64              `json:"required_quantity"`
	Substitutions      []SubstitutionView `json:"substitutions"`
}

// BundleView is the full definition of a bundle
type BundleView struct {
	BundleID uuid.UUID  `json:"bundle_id"`
	Edges    []EdgeView `json:"edges"`
}

func toBundleView(def *bundle.Definition) *BundleView {
	view := &BundleView{BundleID: def.BundleID, Edges: make([]EdgeView, 0, len(def.Edges))}
	for _, e := range def.Edges {
		ev := EdgeView{
			ID:                 e.ID,
			ComponentProductID: e.ComponentProductID,
			RequiredQuantity:   e.RequiredQuantity,
			Substitutions:      make([]SubstitutionView, 0, len(def.Options[e.ID])),
		}
		for _, o := range def.Options[e.ID] {
			ev.Substitutions = append(ev.Substitutions, toSubstitutionView(o))
		}
		view.Edges = append(view.Edges, ev)
	}
	return view
}

// AlternativeView is one admissible choice for an edge
type AlternativeView struct {
	EdgeID          uuid.UUID       `json:"edge_id"`
	ProductID       uuid.UUID       `json:"product_id"`
	OptionID        *uuid.UUID      `json:"option_id,omitempty"`
	IsPrimary       bool            `json:"is_primary"`
	IsDefault       bool            `json:"is_default"`
	PriceAdjustment decimal.Decimal `json:"price_adjustment"`
	DisplayOrder    int             `json:"display_order"`
}

// AvailabilityResult answers whether Quantity units of a bundle can be sold
type AvailabilityResult struct {
	BundleID  uuid.UUID         `json:"bundle_id"`
	Quantity  int64             `json:"quantity"`
	OK        bool              `json:"ok"`
	Reason    string            `json:"reason,omitempty"`
	Shortages []bundle.Shortage `json:"shortages,omitempty"`
}

// TransactionPage is one page of the allocation log
type TransactionPage = shared.Paginated[inventory.AllocationTransaction]

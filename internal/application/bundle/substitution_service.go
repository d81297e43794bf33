package bundle

import (
	"context"

	"github.com/erp/bundle-engine/internal/domain/bundle"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SubstitutionService answers which products may satisfy each edge of a
// bundle and what a given selection costs on top of the base price.
type SubstitutionService struct {
	compositions bundle.CompositionRepository
}

// NewSubstitutionService creates a new SubstitutionService
func NewSubstitutionService(compositions bundle.CompositionRepository) *SubstitutionService {
	return &SubstitutionService{compositions: compositions}
}

// ListAlternatives returns the primary component of an edge followed by its
// active substitutions ordered by display order.
func (s *SubstitutionService) ListAlternatives(ctx context.Context, edgeID uuid.UUID) ([]AlternativeView, error) {
	edge, err := s.compositions.FindEdge(ctx, edgeID)
	if err != nil {
		return nil, err
	}
	def, err := requireDefinition(ctx, s.compositions, edge.BundleProductID)
	if err != nil {
		return nil, err
	}
	alts, err := def.Alternatives(edgeID)
	if err != nil {
		return nil, err
	}
	out := make([]AlternativeView, len(alts))
	for i, a := range alts {
		out[i] = AlternativeView{
			EdgeID:          a.EdgeID,
			ProductID:       a.ProductID,
			IsPrimary:       a.IsPrimary,
			IsDefault:       a.IsDefault,
			PriceAdjustment: a.PriceAdjustment,
			DisplayOrder:    a.DisplayOrder,
		}
		if a.Option != nil {
			id := a.Option.ID
			out[i].OptionID = &id
		}
	}
	return out, nil
}

// ResolveDefaultSelection maps every edge to its active default substitution,
// or to the primary component when there is none.
func (s *SubstitutionService) ResolveDefaultSelection(ctx context.Context, bundleID uuid.UUID) (bundle.Selection, error) {
	def, err := requireDefinition(ctx, s.compositions, bundleID)
	if err != nil {
		return nil, err
	}
	return def.DefaultSelection(), nil
}

// PriceDelta sums the price adjustments of the substitutions a selection
// uses. Edges missing from sel resolve to their default.
func (s *SubstitutionService) PriceDelta(ctx context.Context, bundleID uuid.UUID, sel bundle.Selection) (decimal.Decimal, error) {
	def, err := requireDefinition(ctx, s.compositions, bundleID)
	if err != nil {
		return decimal.Zero, err
	}
	resolved, err := resolveUsable(def, sel)
	if err != nil {
		return decimal.Zero, err
	}
	return priceDelta(resolved), nil
}

// ValidateSelection checks that sel names every edge of the bundle exactly
// once and picks either the primary or an active substitution for each.
func (s *SubstitutionService) ValidateSelection(ctx context.Context, bundleID uuid.UUID, sel bundle.Selection) error {
	def, err := requireDefinition(ctx, s.compositions, bundleID)
	if err != nil {
		return err
	}
	return def.ValidateSelection(sel)
}

// resolveUsable resolves sel and rejects explicit picks of inactive options
func resolveUsable(def *bundle.Definition, sel bundle.Selection) ([]bundle.ResolvedEdge, error) {
	resolved, err := def.Resolve(sel)
	if err != nil {
		return nil, err
	}
	for _, r := range resolved {
		if !r.Usable() {
			return nil, &bundle.InvalidSelectionError{EdgeID: r.Edge.ID, ProductID: r.ProductID, Reason: "substitution is inactive"}
		}
	}
	return resolved, nil
}

func priceDelta(resolved []bundle.ResolvedEdge) decimal.Decimal {
	delta := decimal.Zero
	for _, r := range resolved {
		if r.Option != nil {
			delta = delta.Add(r.Option.PriceAdjustment)
		}
	}
	return delta
}

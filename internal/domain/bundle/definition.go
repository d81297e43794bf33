package bundle

import (
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Selection maps edge id to the product chosen to satisfy that edge
type Selection map[uuid.UUID]uuid.UUID

// Clone returns an independent copy
func (s Selection) Clone() Selection {
	out := make(Selection, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Definition is a bundle's full composition: its edges and the substitution
// options hanging off each edge. It is the unit the resolver works on.
type Definition struct {
	BundleID uuid.UUID
	Edges    []CompositionEdge
	Options  map[uuid.UUID][]SubstitutionOption
}

// NewDefinition assembles a definition, sorting edges by component id so that
// every derived result is deterministic.
func NewDefinition(bundleID uuid.UUID, edges []CompositionEdge, options map[uuid.UUID][]SubstitutionOption) *Definition {
	sorted := append([]CompositionEdge(nil), edges...)
	sort.Slice(sorted, func(i, j int) bool {
		return lessUUID(sorted[i].ComponentProductID, sorted[j].ComponentProductID)
	})
	if options == nil {
		options = make(map[uuid.UUID][]SubstitutionOption)
	}
	return &Definition{BundleID: bundleID, Edges: sorted, Options: options}
}

// Edge returns the edge with id, if it belongs to this bundle
func (d *Definition) Edge(id uuid.UUID) (CompositionEdge, bool) {
	for _, e := range d.Edges {
		if e.ID == id {
			return e, true
		}
	}
	return CompositionEdge{}, false
}

// EdgeIDs returns all edge ids in definition order
func (d *Definition) EdgeIDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(d.Edges))
	for i, e := range d.Edges {
		ids[i] = e.ID
	}
	return ids
}

// ProductIDs returns every product the definition can draw on: primaries and
// all substitution alternatives.
func (d *Definition) ProductIDs() []uuid.UUID {
	seen := make(map[uuid.UUID]struct{})
	var ids []uuid.UUID
	add := func(id uuid.UUID) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	for _, e := range d.Edges {
		add(e.ComponentProductID)
		for _, o := range d.Options[e.ID] {
			add(o.AlternativeProductID)
		}
	}
	return ids
}

// DefaultOption returns the active default option of an edge, if any
func (d *Definition) DefaultOption(edgeID uuid.UUID) *SubstitutionOption {
	for i := range d.Options[edgeID] {
		if d.Options[edgeID][i].IsActiveDefault() {
			return &d.Options[edgeID][i]
		}
	}
	return nil
}

// option finds the option on edgeID that supplies productID
func (d *Definition) option(edgeID, productID uuid.UUID) *SubstitutionOption {
	for i := range d.Options[edgeID] {
		if d.Options[edgeID][i].AlternativeProductID == productID {
			return &d.Options[edgeID][i]
		}
	}
	return nil
}

// Alternative is one choice for an edge. The primary component is listed
// with a nil Option and zero price adjustment.
type Alternative struct {
	EdgeID          uuid.UUID
	ProductID       uuid.UUID
	IsPrimary       bool
	IsDefault       bool
	PriceAdjustment decimal.Decimal
	DisplayOrder    int
	Option          *SubstitutionOption
}

// Alternatives lists the primary component first, then active options by
// display order (ties broken by option id).
func (d *Definition) Alternatives(edgeID uuid.UUID) ([]Alternative, error) {
	edge, ok := d.Edge(edgeID)
	if !ok {
		return nil, ErrEdgeNotFound
	}

	alts := []Alternative{{
		EdgeID:          edge.ID,
		ProductID:       edge.ComponentProductID,
		IsPrimary:       true,
		IsDefault:       d.DefaultOption(edge.ID) == nil,
		PriceAdjustment: decimal.Zero,
	}}

	var active []SubstitutionOption
	for _, o := range d.Options[edge.ID] {
		if o.IsActive {
			active = append(active, o)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		if active[i].DisplayOrder != active[j].DisplayOrder {
			return active[i].DisplayOrder < active[j].DisplayOrder
		}
		return lessUUID(active[i].ID, active[j].ID)
	})
	for i := range active {
		o := active[i]
		alts = append(alts, Alternative{
			EdgeID:          edge.ID,
			ProductID:       o.AlternativeProductID,
			IsDefault:       o.IsDefault,
			PriceAdjustment: o.PriceAdjustment,
			DisplayOrder:    o.DisplayOrder,
			Option:          &o,
		})
	}
	return alts, nil
}

// DefaultSelection picks, per edge, the active default option or the primary
func (d *Definition) DefaultSelection() Selection {
	sel := make(Selection, len(d.Edges))
	for _, e := range d.Edges {
		if def := d.DefaultOption(e.ID); def != nil {
			sel[e.ID] = def.AlternativeProductID
			continue
		}
		sel[e.ID] = e.ComponentProductID
	}
	return sel
}

// ResolvedEdge binds an edge to the product that will satisfy it
type ResolvedEdge struct {
	Edge      CompositionEdge
	ProductID uuid.UUID
	// Option is nil when the primary component was chosen
	Option *SubstitutionOption
}

// Usable reports whether the chosen route can supply stock at all, apart
// from the product's own status
func (r ResolvedEdge) Usable() bool {
	return r.Option == nil || r.Option.IsActive
}

// Resolve binds every edge to a product. Edges missing from sel fall back to
// the edge default. Keys for foreign edges and products that are neither the
// primary nor an option of the edge are rejected; an inactive option resolves
// but is reported as unusable so availability can surface it as a shortage.
func (d *Definition) Resolve(sel Selection) ([]ResolvedEdge, error) {
	for edgeID := range sel {
		if _, ok := d.Edge(edgeID); !ok {
			return nil, &InvalidSelectionError{EdgeID: edgeID, ProductID: sel[edgeID], Reason: "edge does not belong to bundle"}
		}
	}

	resolved := make([]ResolvedEdge, 0, len(d.Edges))
	for _, e := range d.Edges {
		chosen, explicit := sel[e.ID]
		if !explicit {
			if def := d.DefaultOption(e.ID); def != nil {
				resolved = append(resolved, ResolvedEdge{Edge: e, ProductID: def.AlternativeProductID, Option: def})
				continue
			}
			chosen = e.ComponentProductID
		}
		if chosen == e.ComponentProductID {
			resolved = append(resolved, ResolvedEdge{Edge: e, ProductID: chosen})
			continue
		}
		opt := d.option(e.ID, chosen)
		if opt == nil {
			return nil, &InvalidSelectionError{EdgeID: e.ID, ProductID: chosen, Reason: "product is not an alternative for this edge"}
		}
		resolved = append(resolved, ResolvedEdge{Edge: e, ProductID: chosen, Option: opt})
	}
	return resolved, nil
}

// ValidateSelection requires a complete selection: every edge present
// exactly once, each choice being the primary or an active option of that
// edge. It never falls back to the primary.
func (d *Definition) ValidateSelection(sel Selection) error {
	for edgeID, productID := range sel {
		if _, ok := d.Edge(edgeID); !ok {
			return &InvalidSelectionError{EdgeID: edgeID, ProductID: productID, Reason: "edge does not belong to bundle"}
		}
	}
	for _, e := range d.Edges {
		chosen, ok := sel[e.ID]
		if !ok {
			return &InvalidSelectionError{EdgeID: e.ID, Reason: "edge missing from selection"}
		}
		if chosen == e.ComponentProductID {
			continue
		}
		opt := d.option(e.ID, chosen)
		if opt == nil {
			return &InvalidSelectionError{EdgeID: e.ID, ProductID: chosen, Reason: "product is not an alternative for this edge"}
		}
		if !opt.IsActive {
			return &InvalidSelectionError{EdgeID: e.ID, ProductID: chosen, Reason: "substitution is inactive"}
		}
	}
	return nil
}

// PriceDelta sums the price adjustments of every edge resolved to a
// substitution. Edges absent from sel use their default.
func (d *Definition) PriceDelta(sel Selection) (decimal.Decimal, error) {
	resolved, err := d.Resolve(sel)
	if err != nil {
		return decimal.Zero, err
	}
	delta := decimal.Zero
	for _, r := range resolved {
		if r.Option != nil {
			delta = delta.Add(r.Option.PriceAdjustment)
		}
	}
	return delta, nil
}

// AsSelection converts resolved edges back into a complete selection
func AsSelection(resolved []ResolvedEdge) Selection {
	sel := make(Selection, len(resolved))
	for _, r := range resolved {
		sel[r.Edge.ID] = r.ProductID
	}
	return sel
}

func lessUUID(a, b uuid.UUID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

package bundle

import (
	"math"
	"sort"

	"github.com/erp/bundle-engine/internal/domain/catalog"
	"github.com/google/uuid"
)

// Demand is the per-bundle requirement placed on one product. Several edges
// may resolve to the same product; their quantities are summed.
type Demand struct {
	ProductID uuid.UUID
	EdgeIDs   []uuid.UUID
	PerBundle int64
	// Usable is false when the product cannot supply stock: missing, inactive,
	// composite, or reached through an inactive substitution.
	Usable bool
}

// AggregateDemand groups resolved edges by product, ordered by product id
func AggregateDemand(resolved []ResolvedEdge, products map[uuid.UUID]*catalog.Product) []Demand {
	byProduct := make(map[uuid.UUID]*Demand, len(resolved))
	for _, r := range resolved {
		d, ok := byProduct[r.ProductID]
		if !ok {
			p := products[r.ProductID]
			d = &Demand{
				ProductID: r.ProductID,
				Usable:    p != nil && p.IsActive() && p.IsElemental(),
			}
			byProduct[r.ProductID] = d
		}
		d.EdgeIDs = append(d.EdgeIDs, r.Edge.ID)
		d.PerBundle += r.Edge.RequiredQuantity
		if !r.Usable() {
			d.Usable = false
		}
	}

	out := make([]Demand, 0, len(byProduct))
	for _, d := range byProduct {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return lessUUID(out[i].ProductID, out[j].ProductID) })
	return out
}

// DemandProductIDs returns the product ids of demands
func DemandProductIDs(demands []Demand) []uuid.UUID {
	ids := make([]uuid.UUID, len(demands))
	for i, d := range demands {
		ids[i] = d.ProductID
	}
	return ids
}

// MaxBundles is min over products of floor(stock / perBundle). No demands,
// or any unusable demand, yields 0.
func MaxBundles(demands []Demand, stock map[uuid.UUID]int64) int64 {
	if len(demands) == 0 {
		return 0
	}
	var best int64 = math.MaxInt64
	for _, d := range demands {
		if !d.Usable || d.PerBundle <= 0 {
			return 0
		}
		onHand := stock[d.ProductID]
		if onHand <= 0 {
			return 0
		}
		if n := onHand / d.PerBundle; n < best {
			best = n
		}
	}
	return best
}

// Shortage describes one product that cannot cover a requested quantity
type Shortage struct {
	ProductID uuid.UUID   `json:"product_id"`
	EdgeIDs   []uuid.UUID `json:"edge_ids"`
	Available int64       `json:"available"`
	Required  int64       `json:"required"`
	Deficit   int64       `json:"deficit"`
}

// Shortages compares required totals for quantity bundles against stock.
// Unusable products count as zero available. Returns ErrInvalidRequest if
// quantity is not positive or a required total would overflow.
func Shortages(demands []Demand, stock map[uuid.UUID]int64, quantity int64) ([]Shortage, error) {
	if quantity <= 0 {
		return nil, ErrInvalidRequest
	}
	var out []Shortage
	for _, d := range demands {
		if d.PerBundle > 0 && quantity > math.MaxInt64/d.PerBundle {
			return nil, ErrInvalidRequest
		}
		required := d.PerBundle * quantity
		available := stock[d.ProductID]
		if !d.Usable || available < 0 {
			available = 0
		}
		if available < required {
			out = append(out, Shortage{
				ProductID: d.ProductID,
				EdgeIDs:   append([]uuid.UUID(nil), d.EdgeIDs...),
				Available: available,
				Required:  required,
				Deficit:   required - available,
			})
		}
	}
	return out, nil
}

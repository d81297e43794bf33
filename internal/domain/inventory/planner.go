package inventory

import (
	"sort"

	"github.com/google/uuid"
)

// DemandLine asks for Quantity units of ProductID on behalf of EdgeID
type DemandLine struct {
	EdgeID    uuid.UUID
	ProductID uuid.UUID
	Quantity  int64
}

// PlanDeductions spreads each demand line over the stock records of its
// product, drawing from the location with the most stock first (ties by
// location id). Lines are planned in order, so two lines on the same product
// share the remaining balance. Returns ErrStockConflict if the records cannot
// cover a line; callers check availability beforehand, so this only happens
// when stock moved in between.
func PlanDeductions(lines []DemandLine, records []StockRecord) ([]Deduction, error) {
	remaining := make(map[uuid.UUID][]StockRecord)
	for _, r := range records {
		if r.QuantityOnHand > 0 {
			remaining[r.ProductID] = append(remaining[r.ProductID], r)
		}
	}

	var out []Deduction
	for _, line := range lines {
		need := line.Quantity
		recs := remaining[line.ProductID]
		sort.SliceStable(recs, func(i, j int) bool {
			if recs[i].QuantityOnHand != recs[j].QuantityOnHand {
				return recs[i].QuantityOnHand > recs[j].QuantityOnHand
			}
			return compareUUID(recs[i].LocationID, recs[j].LocationID) < 0
		})
		for i := range recs {
			if need == 0 {
				break
			}
			take := recs[i].QuantityOnHand
			if take > need {
				take = need
			}
			if take == 0 {
				continue
			}
			recs[i].QuantityOnHand -= take
			need -= take
			out = append(out, Deduction{
				EdgeID:     line.EdgeID,
				ProductID:  line.ProductID,
				LocationID: recs[i].LocationID,
				Quantity:   take,
			})
		}
		if need > 0 {
			return nil, ErrStockConflict
		}
	}
	return out, nil
}

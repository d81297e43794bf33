package bundle

import (
	"testing"

	"github.com/erp/bundle-engine/internal/domain/catalog"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func elemental(t require.TestingT) *catalog.Product {
	p, err := catalog.NewElemental("P-"+uuid.NewString()[:8], "component", decimal.Zero)
	require.NoError(t, err)
	return p
}

func TestMaxBundles_Example(t *testing.T) {
	bundleID := uuid.New()
	a, c := elemental(t), elemental(t)
	def := NewDefinition(bundleID, []CompositionEdge{
		NewCompositionEdge(bundleID, EdgeSpec{ComponentProductID: a.ID, RequiredQuantity: 2}),
		NewCompositionEdge(bundleID, EdgeSpec{ComponentProductID: c.ID, RequiredQuantity: 1}),
	}, nil)
	products := map[uuid.UUID]*catalog.Product{a.ID: a, c.ID: c}

	resolved, err := def.Resolve(nil)
	require.NoError(t, err)
	demands := AggregateDemand(resolved, products)
	stock := map[uuid.UUID]int64{a.ID: 10, c.ID: 3}

	assert.Equal(t, int64(3), MaxBundles(demands, stock))

	shortages, err := Shortages(demands, stock, 4)
	require.NoError(t, err)
	require.Len(t, shortages, 1)
	assert.Equal(t, c.ID, shortages[0].ProductID)
	assert.Equal(t, int64(3), shortages[0].Available)
	assert.Equal(t, int64(4), shortages[0].Required)
	assert.Equal(t, int64(1), shortages[0].Deficit)

	_, err = Shortages(demands, stock, 0)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestMaxBundles_ZeroCapacityCases(t *testing.T) {
	a := elemental(t)
	stock := map[uuid.UUID]int64{a.ID: 100}

	assert.Equal(t, int64(0), MaxBundles(nil, stock), "no edges")

	unusable := []Demand{{ProductID: a.ID, PerBundle: 1, Usable: false}}
	assert.Equal(t, int64(0), MaxBundles(unusable, stock))

	shortages, err := Shortages(unusable, stock, 1)
	require.NoError(t, err)
	require.Len(t, shortages, 1, "inactive component surfaces as shortage")
	assert.Equal(t, int64(0), shortages[0].Available)
}

func TestAggregateDemand_SumsEdgesSharingAProduct(t *testing.T) {
	bundleID := uuid.New()
	a, b := elemental(t), elemental(t)
	edgeA := NewCompositionEdge(bundleID, EdgeSpec{ComponentProductID: a.ID, RequiredQuantity: 2})
	edgeB := NewCompositionEdge(bundleID, EdgeSpec{ComponentProductID: b.ID, RequiredQuantity: 3})
	opt := NewSubstitutionOption(edgeB.ID, SubstitutionSpec{AlternativeProductID: a.ID})
	def := NewDefinition(bundleID, []CompositionEdge{edgeA, edgeB}, map[uuid.UUID][]SubstitutionOption{edgeB.ID: {*opt}})

	resolved, err := def.Resolve(Selection{edgeB.ID: a.ID})
	require.NoError(t, err)
	demands := AggregateDemand(resolved, map[uuid.UUID]*catalog.Product{a.ID: a, b.ID: b})

	require.Len(t, demands, 1)
	assert.Equal(t, int64(5), demands[0].PerBundle)
	assert.Len(t, demands[0].EdgeIDs, 2)
	assert.Equal(t, int64(2), MaxBundles(demands, map[uuid.UUID]int64{a.ID: 10}))
}

// With distinct components, MaxBundles equals min over edges of
// floor(stock / required), and Shortages is empty exactly up to that value.
func TestProperty_MaxBundlesFormula(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		bundleID := uuid.New()
		n := rapid.IntRange(1, 6).Draw(t, "edges")

		var edges []CompositionEdge
		products := make(map[uuid.UUID]*catalog.Product)
		stock := make(map[uuid.UUID]int64)
		var want int64 = -1
		for i := 0; i < n; i++ {
			p := elemental(t)
			products[p.ID] = p
			qty := rapid.Int64Range(1, 20).Draw(t, "required")
			onHand := rapid.Int64Range(0, 500).Draw(t, "onHand")
			stock[p.ID] = onHand
			edges = append(edges, NewCompositionEdge(bundleID, EdgeSpec{ComponentProductID: p.ID, RequiredQuantity: qty}))
			if v := onHand / qty; want < 0 || v < want {
				want = v
			}
		}

		def := NewDefinition(bundleID, edges, nil)
		resolved, err := def.Resolve(nil)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		demands := AggregateDemand(resolved, products)
		got := MaxBundles(demands, stock)
		if got != want {
			t.Fatalf("MaxBundles = %d, want %d", got, want)
		}

		if got > 0 {
			s, err := Shortages(demands, stock, got)
			if err != nil || len(s) != 0 {
				t.Fatalf("quantity %d should be satisfiable: %v %v", got, s, err)
			}
		}
		s, err := Shortages(demands, stock, got+1)
		if err != nil || len(s) == 0 {
			t.Fatalf("quantity %d should be short", got+1)
		}
	})
}

package bundle_test

import (
	"testing"

	appbundle "github.com/erp/bundle-engine/internal/application/bundle"
	"github.com/erp/bundle-engine/internal/domain/bundle"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubstitutionService(t *testing.T) {
	f := newFixture(t)
	k := f.kit()
	d := f.elemental("D", 1)
	e := f.elemental("E", 1)
	aEdge := edgeFor(t, k.view, k.a)
	cEdge := edgeFor(t, k.view, k.c)

	optE, err := f.composition.AddSubstitution(f.ctx, appbundle.AddSubstitutionRequest{
		EdgeID: cEdge.ID, AlternativeProductID: e.ID, PriceAdjustment: decimal.NewFromFloat(-1.25), DisplayOrder: 2,
	})
	require.NoError(t, err)
	optD, err := f.composition.AddSubstitution(f.ctx, appbundle.AddSubstitutionRequest{
		EdgeID: cEdge.ID, AlternativeProductID: d.ID, PriceAdjustment: decimal.NewFromInt(4), DisplayOrder: 1, IsDefault: true,
	})
	require.NoError(t, err)

	t.Run("alternatives in display order", func(t *testing.T) {
		alts, err := f.substitution.ListAlternatives(f.ctx, cEdge.ID)
		require.NoError(t, err)
		require.Len(t, alts, 3)
		assert.True(t, alts[0].IsPrimary)
		assert.False(t, alts[0].IsDefault)
		assert.Nil(t, alts[0].OptionID)
		assert.Equal(t, d.ID, alts[1].ProductID)
		assert.True(t, alts[1].IsDefault)
		assert.Equal(t, optD.ID, *alts[1].OptionID)
		assert.Equal(t, e.ID, alts[2].ProductID)

		_, err = f.substitution.ListAlternatives(f.ctx, uuid.New())
		assert.ErrorIs(t, err, bundle.ErrEdgeNotFound)
	})

	t.Run("default selection", func(t *testing.T) {
		sel, err := f.substitution.ResolveDefaultSelection(f.ctx, k.b.ID)
		require.NoError(t, err)
		assert.Equal(t, bundle.Selection{aEdge.ID: k.a.ID, cEdge.ID: d.ID}, sel)
		assert.NoError(t, f.substitution.ValidateSelection(f.ctx, k.b.ID, sel))
	})

	t.Run("price delta", func(t *testing.T) {
		delta, err := f.substitution.PriceDelta(f.ctx, k.b.ID, nil)
		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(4).Equal(delta), "defaults apply, got %s", delta)

		delta, err = f.substitution.PriceDelta(f.ctx, k.b.ID, bundle.Selection{cEdge.ID: e.ID})
		require.NoError(t, err)
		assert.True(t, decimal.NewFromFloat(-1.25).Equal(delta), "got %s", delta)

		delta, err = f.substitution.PriceDelta(f.ctx, k.b.ID, bundle.Selection{cEdge.ID: k.c.ID})
		require.NoError(t, err)
		assert.True(t, delta.IsZero())
	})

	t.Run("invalid selections", func(t *testing.T) {
		tests := []struct {
			name string
			sel  bundle.Selection
		}{
			{"missing edge", bundle.Selection{cEdge.ID: d.ID}},
			{"foreign edge", bundle.Selection{aEdge.ID: k.a.ID, cEdge.ID: d.ID, uuid.New(): d.ID}},
			{"unrelated product", bundle.Selection{aEdge.ID: k.a.ID, cEdge.ID: uuid.New()}},
			{"alternative of another edge", bundle.Selection{aEdge.ID: d.ID, cEdge.ID: k.c.ID}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := f.substitution.ValidateSelection(f.ctx, k.b.ID, tt.sel)
				var invalid *bundle.InvalidSelectionError
				assert.ErrorAs(t, err, &invalid)
			})
		}
	})

	t.Run("inactive substitution", func(t *testing.T) {
		_, err := f.composition.SetSubstitutionActive(f.ctx, optE.ID, false)
		require.NoError(t, err)

		err = f.substitution.ValidateSelection(f.ctx, k.b.ID, bundle.Selection{aEdge.ID: k.a.ID, cEdge.ID: e.ID})
		assert.ErrorIs(t, err, bundle.ErrInvalidSelection)
		_, err = f.substitution.PriceDelta(f.ctx, k.b.ID, bundle.Selection{cEdge.ID: e.ID})
		assert.ErrorIs(t, err, bundle.ErrInvalidSelection)

		alts, err := f.substitution.ListAlternatives(f.ctx, cEdge.ID)
		require.NoError(t, err)
		assert.Len(t, alts, 2)
	})

	t.Run("unknown bundle", func(t *testing.T) {
		_, err := f.substitution.ResolveDefaultSelection(f.ctx, uuid.New())
		assert.ErrorIs(t, err, bundle.ErrBundleNotFound)
	})
}

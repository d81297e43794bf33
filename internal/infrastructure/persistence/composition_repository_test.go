package persistence

import (
	"context"
	"testing"

	"github.com/erp/bundle-engine/internal/domain/bundle"
	"github.com/erp/bundle-engine/internal/domain/catalog"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGormCompositionRepository_ReplaceEdges(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormCompositionRepository(db)
	ctx := context.Background()

	b := saveProduct(t, db, "kit", catalog.ProductKindComposite)
	a := saveProduct(t, db, "a", catalog.ProductKindElemental)
	c := saveProduct(t, db, "c", catalog.ProductKindElemental)
	d := saveProduct(t, db, "d", catalog.ProductKindElemental)
	alt := saveProduct(t, db, "alt", catalog.ProductKindElemental)

	initial := bundle.PlanEdgeReplacement(b.ID, nil, []bundle.EdgeSpec{
		{ComponentProductID: a.ID, RequiredQuantity: 2},
		{ComponentProductID: c.ID, RequiredQuantity: 1},
	})
	require.NoError(t, repo.ReplaceEdges(ctx, b.ID, initial.Edges, initial.RemovedIDs()))

	edges, err := repo.FindEdgesByBundle(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, edges, 2)

	var edgeC bundle.CompositionEdge
	for _, e := range edges {
		if e.ComponentProductID == c.ID {
			edgeC = e
		}
	}
	option := bundle.NewSubstitutionOption(edgeC.ID, bundle.SubstitutionSpec{
		AlternativeProductID: alt.ID, PriceAdjustment: decimal.RequireFromString("-1.5"),
	})
	require.NoError(t, repo.SaveOptions(ctx, option))

	t.Run("reverse index covers primaries and alternatives", func(t *testing.T) {
		ids, err := repo.FindBundlesByProducts(ctx, []uuid.UUID{alt.ID})
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{b.ID}, ids)

		ids, err = repo.FindBundlesByProducts(ctx, []uuid.UUID{a.ID, c.ID})
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{b.ID}, ids)
	})

	t.Run("replacement keeps surviving edge ids and drops removed options", func(t *testing.T) {
		plan := bundle.PlanEdgeReplacement(b.ID, edges, []bundle.EdgeSpec{
			{ComponentProductID: a.ID, RequiredQuantity: 3},
			{ComponentProductID: d.ID, RequiredQuantity: 1},
		})
		require.NoError(t, repo.ReplaceEdges(ctx, b.ID, plan.Edges, plan.RemovedIDs()))

		after, err := repo.FindEdgesByBundle(ctx, b.ID)
		require.NoError(t, err)
		require.Len(t, after, 2)
		for _, e := range after {
			assert.NotEqual(t, c.ID, e.ComponentProductID)
			if e.ComponentProductID == a.ID {
				assert.Equal(t, int64(3), e.RequiredQuantity)
			}
		}

		_, err = repo.FindOption(ctx, option.ID)
		assert.ErrorIs(t, err, bundle.ErrOptionNotFound)
		_, err = repo.FindEdge(ctx, edgeC.ID)
		assert.ErrorIs(t, err, bundle.ErrEdgeNotFound)
	})

	t.Run("adjacency lists every bundle", func(t *testing.T) {
		adj, err := repo.LoadAdjacency(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []uuid.UUID{a.ID, d.ID}, adj[b.ID])
	})

	t.Run("delete bundle removes edges and options", func(t *testing.T) {
		after, err := repo.FindEdgesByBundle(ctx, b.ID)
		require.NoError(t, err)
		opt := bundle.NewSubstitutionOption(after[0].ID, bundle.SubstitutionSpec{AlternativeProductID: alt.ID})
		require.NoError(t, repo.SaveOptions(ctx, opt))

		require.NoError(t, repo.DeleteBundle(ctx, b.ID))

		after, err = repo.FindEdgesByBundle(ctx, b.ID)
		require.NoError(t, err)
		assert.Empty(t, after)
		_, err = repo.FindOption(ctx, opt.ID)
		assert.ErrorIs(t, err, bundle.ErrOptionNotFound)
	})
}

func TestGormCompositionRepository_Options(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormCompositionRepository(db)
	ctx := context.Background()

	edgeID := uuid.New()
	second := bundle.NewSubstitutionOption(edgeID, bundle.SubstitutionSpec{AlternativeProductID: uuid.New(), DisplayOrder: 2})
	first := bundle.NewSubstitutionOption(edgeID, bundle.SubstitutionSpec{AlternativeProductID: uuid.New(), DisplayOrder: 1, IsDefault: true})
	require.NoError(t, repo.SaveOptions(ctx, second, first))

	byEdge, err := repo.FindOptionsByEdges(ctx, []uuid.UUID{edgeID})
	require.NoError(t, err)
	require.Len(t, byEdge[edgeID], 2)
	assert.Equal(t, first.ID, byEdge[edgeID][0].ID)

	first.SetActive(false)
	require.NoError(t, repo.SaveOptions(ctx, first))
	found, err := repo.FindOption(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, found.IsActive)
	assert.False(t, found.IsDefault, "deactivating clears the default flag")

	require.NoError(t, repo.DeleteOption(ctx, second.ID))
	assert.ErrorIs(t, repo.DeleteOption(ctx, second.ID), bundle.ErrOptionNotFound)
}

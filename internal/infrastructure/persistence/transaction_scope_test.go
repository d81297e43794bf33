package persistence

import (
	"context"
	"testing"
	"time"

	appbundle "github.com/erp/bundle-engine/internal/application/bundle"
	"github.com/erp/bundle-engine/internal/domain/catalog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// setupTestDB keeps sqlite on one connection, so any read issued outside the
// open transaction would wait for the deadline instead of completing.
func TestGormTransactionScope_DefinitionWritesOnSingleConnection(t *testing.T) {
	db := setupTestDB(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	composition := appbundle.NewCompositionService(
		NewGormProductRepository(db), NewGormCompositionRepository(db), NewGormTransactionScope(db), zaptest.NewLogger(t))

	a := saveProduct(t, db, "A", catalog.ProductKindElemental)
	c := saveProduct(t, db, "C", catalog.ProductKindElemental)
	alt := saveProduct(t, db, "ALT", catalog.ProductKindElemental)
	b := saveProduct(t, db, "B", catalog.ProductKindComposite)

	_, err := composition.CreateBundle(ctx, appbundle.CreateBundleRequest{
		BundleProductID: b.ID,
		Edges:           []appbundle.EdgeInput{{ComponentProductID: a.ID, RequiredQuantity: 2}},
	})
	require.NoError(t, err)

	view, err := composition.UpdateEdges(ctx, b.ID, []appbundle.EdgeInput{
		{ComponentProductID: a.ID, RequiredQuantity: 2},
		{ComponentProductID: c.ID, RequiredQuantity: 1},
	})
	require.NoError(t, err)
	require.Len(t, view.Edges, 2)

	edgeID := view.Edges[0].ID
	for _, e := range view.Edges {
		if e.ComponentProductID == a.ID {
			edgeID = e.ID
		}
	}
	opt, err := composition.AddSubstitution(ctx, appbundle.AddSubstitutionRequest{
		EdgeID:               edgeID,
		AlternativeProductID: alt.ID,
		PriceAdjustment:      decimal.NewFromInt(1),
	})
	require.NoError(t, err)

	_, err = composition.SetSubstitutionActive(ctx, opt.ID, false)
	require.NoError(t, err)
	_, err = composition.SetSubstitutionActive(ctx, opt.ID, true)
	require.NoError(t, err)
	require.NoError(t, composition.SetDefaultSubstitution(ctx, edgeID, &opt.ID))
	require.NoError(t, composition.ValidateIntegrity(ctx, b.ID))
	require.NoError(t, composition.RemoveSubstitution(ctx, opt.ID))
	require.NoError(t, composition.DeleteBundle(ctx, b.ID))
	assert.NoError(t, ctx.Err())
}

func TestGormTransactionScope_CatalogSeesTransaction(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	p := saveProduct(t, db, "SKU", catalog.ProductKindElemental)

	err := NewGormTransactionScope(db).Execute(ctx, func(repos appbundle.TransactionalRepositories) error {
		got, err := repos.ProductCatalog().GetProduct(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, p.Code, got.Code)
		return nil
	})
	require.NoError(t, err)
}

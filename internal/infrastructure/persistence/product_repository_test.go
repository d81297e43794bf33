package persistence

import (
	"context"
	"testing"

	"github.com/erp/bundle-engine/internal/domain/catalog"
	"github.com/erp/bundle-engine/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGormProductRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormProductRepository(db)
	ctx := context.Background()

	bundleProduct := saveProduct(t, db, "kit-1", catalog.ProductKindComposite)
	part := saveProduct(t, db, "part-a", catalog.ProductKindElemental)

	t.Run("gets product by id", func(t *testing.T) {
		found, err := repo.GetProduct(ctx, bundleProduct.ID)
		require.NoError(t, err)
		assert.Equal(t, "KIT-1", found.Code)
		assert.True(t, found.IsComposite())
		assert.True(t, found.BasePrice.Equal(decimal.NewFromInt(10)))
	})

	t.Run("missing product is not found", func(t *testing.T) {
		_, err := repo.GetProduct(ctx, uuid.New())
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("batch load omits unknown ids", func(t *testing.T) {
		found, err := repo.GetProducts(ctx, []uuid.UUID{bundleProduct.ID, part.ID, uuid.New()})
		require.NoError(t, err)
		assert.Len(t, found, 2)
		assert.Contains(t, found, part.ID)

		empty, err := repo.GetProducts(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("save updates status", func(t *testing.T) {
		require.NoError(t, part.Deactivate())
		require.NoError(t, repo.Save(ctx, part))

		found, err := repo.FindByCode(ctx, "part-a")
		require.NoError(t, err)
		assert.False(t, found.IsActive())
	})
}

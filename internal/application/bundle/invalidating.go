package bundle

import (
	"context"

	"github.com/erp/bundle-engine/internal/domain/catalog"
	"github.com/erp/bundle-engine/internal/domain/inventory"
	"github.com/google/uuid"
)

// InvalidatingLedger is a StockLedger whose applied batches drop the cached
// availability of every bundle using one of the mutated products.
type InvalidatingLedger struct {
	inventory.StockLedger
	invalidator CacheInvalidator
}

// NewInvalidatingLedger wraps ledger so its writes invalidate through inv
func NewInvalidatingLedger(ledger inventory.StockLedger, inv CacheInvalidator) *InvalidatingLedger {
	if inv == nil {
		inv = noopInvalidator{}
	}
	return &InvalidatingLedger{StockLedger: ledger, invalidator: inv}
}

// BatchMutate applies the batch, then invalidates
func (l *InvalidatingLedger) BatchMutate(ctx context.Context, mutations []inventory.StockMutation, idempotencyKey string) error {
	if err := l.StockLedger.BatchMutate(ctx, mutations, idempotencyKey); err != nil {
		return err
	}
	seen := make(map[uuid.UUID]struct{}, len(mutations))
	ids := make([]uuid.UUID, 0, len(mutations))
	for _, m := range mutations {
		if _, ok := seen[m.ProductID]; ok {
			continue
		}
		seen[m.ProductID] = struct{}{}
		ids = append(ids, m.ProductID)
	}
	l.invalidator.InvalidateProducts(ctx, ids)
	return nil
}

// InvalidatingCatalog is a ProductRepository whose saves drop the cached
// availability of the saved product and of every bundle that uses it.
type InvalidatingCatalog struct {
	catalog.ProductRepository
	invalidator CacheInvalidator
}

// NewInvalidatingCatalog wraps products so its writes invalidate through inv
func NewInvalidatingCatalog(products catalog.ProductRepository, inv CacheInvalidator) *InvalidatingCatalog {
	if inv == nil {
		inv = noopInvalidator{}
	}
	return &InvalidatingCatalog{ProductRepository: products, invalidator: inv}
}

// Save stores the product, then invalidates
func (c *InvalidatingCatalog) Save(ctx context.Context, product *catalog.Product) error {
	if err := c.ProductRepository.Save(ctx, product); err != nil {
		return err
	}
	c.invalidator.InvalidateBundles(ctx, product.ID)
	c.invalidator.InvalidateProducts(ctx, []uuid.UUID{product.ID})
	return nil
}

var (
	_ inventory.StockLedger      = (*InvalidatingLedger)(nil)
	_ catalog.ProductRepository = (*InvalidatingCatalog)(nil)
)

package catalog

import (
	"context"

	"github.com/google/uuid"
)

// ProductCatalog is the read contract the bundle engine consumes
type ProductCatalog interface {
	// GetProduct returns the product or shared.ErrNotFound
	GetProduct(ctx context.Context, id uuid.UUID) (*Product, error)

	// GetProducts batch-loads products; missing ids are absent from the map
	GetProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Product, error)
}

// ProductRepository defines the interface for product persistence
type ProductRepository interface {
	ProductCatalog

	// FindByCode finds a product by its code
	FindByCode(ctx context.Context, code string) (*Product, error)

	// Save creates or updates a product
	Save(ctx context.Context, product *Product) error
}

package bundle

import (
	"context"
	"errors"
	"fmt"

	"github.com/erp/bundle-engine/internal/domain/bundle"
	"github.com/erp/bundle-engine/internal/domain/catalog"
	"github.com/erp/bundle-engine/internal/domain/shared"
	"github.com/google/uuid"
)

// CacheInvalidator drops cached availability after a write
type CacheInvalidator interface {
	InvalidateBundles(ctx context.Context, bundleIDs ...uuid.UUID)
	InvalidateProducts(ctx context.Context, productIDs []uuid.UUID)
}

type noopInvalidator struct{}

func (noopInvalidator) InvalidateBundles(context.Context, ...uuid.UUID)   {}
func (noopInvalidator) InvalidateProducts(context.Context, []uuid.UUID) {}

// loadDefinition reads the edges and options of a bundle. A bundle without
// edges yields an empty definition.
func loadDefinition(ctx context.Context, repo bundle.CompositionRepository, bundleID uuid.UUID) (*bundle.Definition, error) {
	edges, err := repo.FindEdgesByBundle(ctx, bundleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load composition of bundle %s: %w", bundleID, err)
	}
	if len(edges) == 0 {
		return bundle.NewDefinition(bundleID, nil, nil), nil
	}
	ids := make([]uuid.UUID, len(edges))
	for i, e := range edges {
		ids[i] = e.ID
	}
	options, err := repo.FindOptionsByEdges(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load substitutions of bundle %s: %w", bundleID, err)
	}
	return bundle.NewDefinition(bundleID, edges, options), nil
}

// requireDefinition is loadDefinition for callers that need a defined bundle
func requireDefinition(ctx context.Context, repo bundle.CompositionRepository, bundleID uuid.UUID) (*bundle.Definition, error) {
	def, err := loadDefinition(ctx, repo, bundleID)
	if err != nil {
		return nil, err
	}
	if len(def.Edges) == 0 {
		return nil, fmt.Errorf("%w: %s", bundle.ErrBundleNotFound, bundleID)
	}
	return def, nil
}

// findProduct returns nil without error when the product does not exist
func findProduct(ctx context.Context, products catalog.ProductCatalog, id uuid.UUID) (*catalog.Product, error) {
	p, err := products.GetProduct(ctx, id)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load product %s: %w", id, err)
	}
	return p, nil
}

func loadBundleProduct(ctx context.Context, products catalog.ProductCatalog, id uuid.UUID) (*catalog.Product, error) {
	p, err := findProduct(ctx, products, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %s", bundle.ErrBundleNotFound, id)
	}
	return p, nil
}

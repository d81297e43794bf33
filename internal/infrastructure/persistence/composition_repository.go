package persistence

import (
	"context"
	"errors"
	"sort"

	"github.com/erp/bundle-engine/internal/domain/bundle"
	"github.com/erp/bundle-engine/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormCompositionRepository implements CompositionRepository using GORM
type GormCompositionRepository struct {
	db *gorm.DB
}

// NewGormCompositionRepository creates a new GormCompositionRepository
func NewGormCompositionRepository(db *gorm.DB) *GormCompositionRepository {
	return &GormCompositionRepository{db: db}
}

// FindEdgesByBundle returns the edges of one bundle ordered by component
func (r *GormCompositionRepository) FindEdgesByBundle(ctx context.Context, bundleID uuid.UUID) ([]bundle.CompositionEdge, error) {
	var rows []models.CompositionEdgeModel
	if err := r.db.WithContext(ctx).
		Where("bundle_product_id = ?", bundleID).
		Order("component_product_id").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	edges := make([]bundle.CompositionEdge, len(rows))
	for i := range rows {
		edges[i] = rows[i].ToDomain()
	}
	return edges, nil
}

// FindEdge returns a single edge
func (r *GormCompositionRepository) FindEdge(ctx context.Context, edgeID uuid.UUID) (*bundle.CompositionEdge, error) {
	var model models.CompositionEdgeModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", edgeID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, bundle.ErrEdgeNotFound
		}
		return nil, err
	}
	edge := model.ToDomain()
	return &edge, nil
}

// LoadAdjacency returns bundle -> primary components for every bundle
func (r *GormCompositionRepository) LoadAdjacency(ctx context.Context) (map[uuid.UUID][]uuid.UUID, error) {
	var rows []struct {
		BundleProductID    uuid.UUID
		ComponentProductID uuid.UUID
	}
	if err := r.db.WithContext(ctx).
		Model(&models.CompositionEdgeModel{}).
		Select("bundle_product_id, component_product_id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	adj := make(map[uuid.UUID][]uuid.UUID)
	for _, row := range rows {
		adj[row.BundleProductID] = append(adj[row.BundleProductID], row.ComponentProductID)
	}
	return adj, nil
}

// FindBundlesByProducts returns bundles referencing any of the products as a
// primary component or as a substitution alternative
func (r *GormCompositionRepository) FindBundlesByProducts(ctx context.Context, productIDs []uuid.UUID) ([]uuid.UUID, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}

	var direct []uuid.UUID
	if err := r.db.WithContext(ctx).
		Model(&models.CompositionEdgeModel{}).
		Where("component_product_id IN ?", productIDs).
		Distinct().
		Pluck("bundle_product_id", &direct).Error; err != nil {
		return nil, err
	}

	var viaOption []uuid.UUID
	if err := r.db.WithContext(ctx).
		Table("composition_edges AS e").
		Joins("JOIN substitution_options AS o ON o.edge_id = e.id").
		Where("o.alternative_product_id IN ?", productIDs).
		Distinct().
		Pluck("e.bundle_product_id", &viaOption).Error; err != nil {
		return nil, err
	}

	return uniqueSorted(append(direct, viaOption...)), nil
}

// ReplaceEdges writes edges as the complete composition of bundleID.
// Removed edges are deleted together with their options in the same unit.
func (r *GormCompositionRepository) ReplaceEdges(ctx context.Context, bundleID uuid.UUID, edges []bundle.CompositionEdge, removedEdgeIDs []uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(removedEdgeIDs) > 0 {
			if err := tx.Where("edge_id IN ?", removedEdgeIDs).
				Delete(&models.SubstitutionOptionModel{}).Error; err != nil {
				return err
			}
			if err := tx.Where("bundle_product_id = ? AND id IN ?", bundleID, removedEdgeIDs).
				Delete(&models.CompositionEdgeModel{}).Error; err != nil {
				return err
			}
		}
		for _, edge := range edges {
			if err := tx.Save(models.CompositionEdgeModelFromDomain(edge)).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteBundle removes all edges and options of a bundle
func (r *GormCompositionRepository) DeleteBundle(ctx context.Context, bundleID uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		edgeIDs := tx.Model(&models.CompositionEdgeModel{}).
			Select("id").
			Where("bundle_product_id = ?", bundleID)
		if err := tx.Where("edge_id IN (?)", edgeIDs).
			Delete(&models.SubstitutionOptionModel{}).Error; err != nil {
			return err
		}
		return tx.Where("bundle_product_id = ?", bundleID).
			Delete(&models.CompositionEdgeModel{}).Error
	})
}

// FindOptionsByEdges batch-loads options keyed by edge id, ordered by
// display order then id
func (r *GormCompositionRepository) FindOptionsByEdges(ctx context.Context, edgeIDs []uuid.UUID) (map[uuid.UUID][]bundle.SubstitutionOption, error) {
	result := make(map[uuid.UUID][]bundle.SubstitutionOption)
	if len(edgeIDs) == 0 {
		return result, nil
	}

	var rows []models.SubstitutionOptionModel
	if err := r.db.WithContext(ctx).
		Where("edge_id IN ?", edgeIDs).
		Order("display_order, id").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	for i := range rows {
		result[rows[i].EdgeID] = append(result[rows[i].EdgeID], rows[i].ToDomain())
	}
	return result, nil
}

// FindOption returns a single option
func (r *GormCompositionRepository) FindOption(ctx context.Context, optionID uuid.UUID) (*bundle.SubstitutionOption, error) {
	var model models.SubstitutionOptionModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", optionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, bundle.ErrOptionNotFound
		}
		return nil, err
	}
	option := model.ToDomain()
	return &option, nil
}

// SaveOptions creates or updates options
func (r *GormCompositionRepository) SaveOptions(ctx context.Context, options ...*bundle.SubstitutionOption) error {
	if len(options) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, option := range options {
			if err := tx.Save(models.SubstitutionOptionModelFromDomain(option)).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteOption removes an option
func (r *GormCompositionRepository) DeleteOption(ctx context.Context, optionID uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&models.SubstitutionOptionModel{}, "id = ?", optionID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return bundle.ErrOptionNotFound
	}
	return nil
}

func uniqueSorted(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

var _ bundle.CompositionRepository = (*GormCompositionRepository)(nil)

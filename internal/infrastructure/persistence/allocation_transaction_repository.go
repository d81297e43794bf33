package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/bundle-engine/internal/domain/inventory"
	"github.com/erp/bundle-engine/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormAllocationTransactionRepository implements AllocationTransactionRepository using GORM
type GormAllocationTransactionRepository struct {
	db *gorm.DB
}

// NewGormAllocationTransactionRepository creates a new repository
func NewGormAllocationTransactionRepository(db *gorm.DB) *GormAllocationTransactionRepository {
	return &GormAllocationTransactionRepository{db: db}
}

// Create appends a transaction; a taken idempotency key yields ErrDuplicateKey
func (r *GormAllocationTransactionRepository) Create(ctx context.Context, tx *inventory.AllocationTransaction) error {
	model, err := models.AllocationTransactionModelFromDomain(tx)
	if err != nil {
		return err
	}
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(model)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %s", inventory.ErrDuplicateKey, tx.IdempotencyKey)
		}
		return fmt.Errorf("failed to create allocation transaction: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", inventory.ErrDuplicateKey, tx.IdempotencyKey)
	}
	return nil
}

// FindByID returns a transaction by id
func (r *GormAllocationTransactionRepository) FindByID(ctx context.Context, id uuid.UUID) (*inventory.AllocationTransaction, error) {
	return r.findOne(ctx, "id = ?", id)
}

// FindByIdempotencyKey returns a transaction by its idempotency key
func (r *GormAllocationTransactionRepository) FindByIdempotencyKey(ctx context.Context, key string) (*inventory.AllocationTransaction, error) {
	return r.findOne(ctx, "idempotency_key = ?", key)
}

func (r *GormAllocationTransactionRepository) findOne(ctx context.Context, query string, arg any) (*inventory.AllocationTransaction, error) {
	var model models.AllocationTransactionModel
	if err := r.db.WithContext(ctx).Where(query, arg).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, inventory.ErrTransactionNotFound
		}
		return nil, err
	}
	return model.ToDomain()
}

// MarkReversed flips Committed -> Reversed with a compare-and-set on status
func (r *GormAllocationTransactionRepository) MarkReversed(ctx context.Context, id uuid.UUID, reversedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&models.AllocationTransactionModel{}).
		Where("id = ? AND status = ?", id, inventory.AllocationStatusCommitted).
		Updates(map[string]any{
			"status":      inventory.AllocationStatusReversed,
			"reversed_at": reversedAt,
			"updated_at":  reversedAt,
			"version":     gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark allocation reversed: %w", result.Error)
	}
	if result.RowsAffected == 1 {
		return nil
	}

	current, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}
	return &inventory.AlreadyReversedError{TransactionID: id, Status: current.Status}
}

// List returns a page of transactions and the total count
func (r *GormAllocationTransactionRepository) List(ctx context.Context, filter inventory.TransactionFilter) ([]inventory.AllocationTransaction, int64, error) {
	page := filter.Filter.Normalize()

	scoped := func() *gorm.DB {
		query := r.db.WithContext(ctx).Model(&models.AllocationTransactionModel{})
		if filter.BundleID != nil {
			query = query.Where("bundle_product_id = ?", *filter.BundleID)
		}
		if filter.Status != nil {
			query = query.Where("status = ?", *filter.Status)
		}
		return query
	}

	var total int64
	if err := scoped().Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.AllocationTransactionModel
	if err := scoped().
		Order(clause.OrderByColumn{Column: clause.Column{Name: "created_at"}, Desc: page.OrderDir == "desc"}).
		Order("id").
		Offset(page.Offset()).
		Limit(page.PageSize).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}

	out := make([]inventory.AllocationTransaction, 0, len(rows))
	for i := range rows {
		tx, err := rows[i].ToDomain()
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *tx)
	}
	return out, total, nil
}

var _ inventory.AllocationTransactionRepository = (*GormAllocationTransactionRepository)(nil)

package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/bundle-engine/internal/domain/inventory"
	"github.com/erp/bundle-engine/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStockLedger implements StockLedger with conditional UPDATE statements.
// A decrement only matches its row while the quantity still satisfies the
// mutation's minimum, so a lost race shows up as zero rows affected rather
// than a negative balance.
type GormStockLedger struct {
	db *gorm.DB
}

// NewGormStockLedger creates a new GormStockLedger
func NewGormStockLedger(db *gorm.DB) *GormStockLedger {
	return &GormStockLedger{db: db}
}

// GetQuantity returns on-hand quantity, summed over locations when locationID is nil
func (l *GormStockLedger) GetQuantity(ctx context.Context, productID uuid.UUID, locationID *uuid.UUID) (int64, error) {
	quantities, err := l.GetQuantities(ctx, []uuid.UUID{productID}, locationID)
	if err != nil {
		return 0, err
	}
	return quantities[productID], nil
}

// GetQuantities is the batch form of GetQuantity
func (l *GormStockLedger) GetQuantities(ctx context.Context, productIDs []uuid.UUID, locationID *uuid.UUID) (map[uuid.UUID]int64, error) {
	result := make(map[uuid.UUID]int64, len(productIDs))
	for _, id := range productIDs {
		result[id] = 0
	}
	if len(productIDs) == 0 {
		return result, nil
	}

	var rows []struct {
		ProductID uuid.UUID
		Total     int64
	}
	query := l.db.WithContext(ctx).
		Model(&models.StockRecordModel{}).
		Select("product_id, COALESCE(SUM(quantity_on_hand), 0) AS total").
		Where("product_id IN ?", productIDs)
	if locationID != nil {
		query = query.Where("location_id = ?", *locationID)
	}
	if err := query.Group("product_id").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to read stock quantities: %w", err)
	}
	for _, row := range rows {
		result[row.ProductID] = row.Total
	}
	return result, nil
}

// GetStockRecords returns per-location records of the products
func (l *GormStockLedger) GetStockRecords(ctx context.Context, productIDs []uuid.UUID, locationID *uuid.UUID) ([]inventory.StockRecord, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}
	var rows []models.StockRecordModel
	query := l.db.WithContext(ctx).Where("product_id IN ?", productIDs)
	if locationID != nil {
		query = query.Where("location_id = ?", *locationID)
	}
	if err := query.Order("product_id, location_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to read stock records: %w", err)
	}
	records := make([]inventory.StockRecord, len(rows))
	for i := range rows {
		records[i] = rows[i].ToDomain()
	}
	return records, nil
}

// BatchMutate applies every mutation or none inside one database transaction.
// When l is bound to an outer transaction this becomes a savepoint.
func (l *GormStockLedger) BatchMutate(ctx context.Context, mutations []inventory.StockMutation, idempotencyKey string) error {
	if err := inventory.ValidateBatch(mutations, idempotencyKey); err != nil {
		return err
	}
	ordered := inventory.SortMutations(mutations)
	now := time.Now().UTC()

	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		batch := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.LedgerBatchModel{
			IdempotencyKey: idempotencyKey,
			MutationCount:  len(ordered),
			CreatedAt:      now,
		})
		if batch.Error != nil {
			return fmt.Errorf("failed to record stock batch: %w", batch.Error)
		}
		if batch.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", inventory.ErrDuplicateBatch, idempotencyKey)
		}

		for _, m := range ordered {
			if err := applyMutation(tx, m, now); err != nil {
				return err
			}
		}
		return nil
	})
}

func applyMutation(tx *gorm.DB, m inventory.StockMutation, now time.Time) error {
	if m.Delta > 0 && m.ExpectedMinimum == nil {
		// unconditional credit; creates the record on first receipt
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "product_id"}, {Name: "location_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"quantity_on_hand": gorm.Expr("stock_records.quantity_on_hand + ?", m.Delta),
				"version":          gorm.Expr("stock_records.version + 1"),
				"updated_at":       now,
			}),
		}).Create(&models.StockRecordModel{
			ProductID:      m.ProductID,
			LocationID:     m.LocationID,
			QuantityOnHand: m.Delta,
			Version:        1,
			UpdatedAt:      now,
		}).Error
	}

	result := tx.Model(&models.StockRecordModel{}).
		Where("product_id = ? AND location_id = ? AND quantity_on_hand >= ?",
			m.ProductID, m.LocationID, m.RequiredMinimum()).
		Updates(map[string]any{
			"quantity_on_hand": gorm.Expr("quantity_on_hand + ?", m.Delta),
			"version":          gorm.Expr("version + 1"),
			"updated_at":       now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to apply stock mutation %s: %w", m.Key(), result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s needs at least %d", inventory.ErrStockConflict, m.Key(), m.RequiredMinimum())
	}
	return nil
}

var _ inventory.StockLedger = (*GormStockLedger)(nil)

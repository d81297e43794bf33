package persistence

import (
	"context"

	appbundle "github.com/erp/bundle-engine/internal/application/bundle"
	"github.com/erp/bundle-engine/internal/domain/bundle"
	"github.com/erp/bundle-engine/internal/domain/catalog"
	"github.com/erp/bundle-engine/internal/domain/inventory"
	"gorm.io/gorm"
)

// GormTransactionScope implements TransactionScope using GORM transactions.
type GormTransactionScope struct {
	db *gorm.DB
}

// NewGormTransactionScope creates a new GormTransactionScope.
func NewGormTransactionScope(db *gorm.DB) *GormTransactionScope {
	return &GormTransactionScope{db: db}
}

// Execute runs fn within a database transaction. If fn returns an error the
// transaction is rolled back, otherwise it is committed.
func (s *GormTransactionScope) Execute(ctx context.Context, fn func(repos appbundle.TransactionalRepositories) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTransactionalRepositories{tx: tx})
	})
}

type gormTransactionalRepositories struct {
	tx *gorm.DB
}

func (r *gormTransactionalRepositories) StockLedger() inventory.StockLedger {
	return NewGormStockLedger(r.tx)
}

func (r *gormTransactionalRepositories) TransactionRepo() inventory.AllocationTransactionRepository {
	return NewGormAllocationTransactionRepository(r.tx)
}

func (r *gormTransactionalRepositories) CompositionRepo() bundle.CompositionRepository {
	return NewGormCompositionRepository(r.tx)
}

func (r *gormTransactionalRepositories) ProductCatalog() catalog.ProductCatalog {
	return NewGormProductRepository(r.tx)
}

var _ appbundle.TransactionScope = (*GormTransactionScope)(nil)
var _ appbundle.TransactionalRepositories = (*gormTransactionalRepositories)(nil)

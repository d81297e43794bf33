package bundle

import (
	"context"

	"github.com/erp/bundle-engine/internal/domain/bundle"
	"github.com/erp/bundle-engine/internal/domain/catalog"
	"github.com/erp/bundle-engine/internal/domain/inventory"
)

// TransactionScope runs a unit of work atomically: every repository handed
// to fn shares one transaction, committed when fn returns nil and rolled back
// otherwise.
type TransactionScope interface {
	Execute(ctx context.Context, fn func(repos TransactionalRepositories) error) error
}

// TransactionalRepositories provides the repositories bound to the current unit of work.
type TransactionalRepositories interface {
	// StockLedger returns the ledger scoped to the current transaction
	StockLedger() inventory.StockLedger
	// TransactionRepo returns the allocation log scoped to the current transaction
	TransactionRepo() inventory.AllocationTransactionRepository
	// CompositionRepo returns the composition repository scoped to the current transaction
	CompositionRepo() bundle.CompositionRepository
	// ProductCatalog returns catalog reads that see the current transaction
	ProductCatalog() catalog.ProductCatalog
}

// NoOpTransactionScope hands out plain repositories without a transaction.
// Only suitable where atomicity is provided elsewhere (unit tests).
type NoOpTransactionScope struct {
	ledger          inventory.StockLedger
	transactionRepo inventory.AllocationTransactionRepository
	compositionRepo bundle.CompositionRepository
	products        catalog.ProductCatalog
}

// NewNoOpTransactionScope creates a NoOpTransactionScope with the given repositories.
func NewNoOpTransactionScope(
	ledger inventory.StockLedger,
	transactionRepo inventory.AllocationTransactionRepository,
	compositionRepo bundle.CompositionRepository,
	products catalog.ProductCatalog,
) *NoOpTransactionScope {
	return &NoOpTransactionScope{
		ledger:          ledger,
		transactionRepo: transactionRepo,
		compositionRepo: compositionRepo,
		products:        products,
	}
}

// Execute runs fn without a real transaction
func (s *NoOpTransactionScope) Execute(_ context.Context, fn func(repos TransactionalRepositories) error) error {
	return fn(s)
}

// StockLedger returns the stock ledger
func (s *NoOpTransactionScope) StockLedger() inventory.StockLedger {
	return s.ledger
}

// TransactionRepo returns the allocation log
func (s *NoOpTransactionScope) TransactionRepo() inventory.AllocationTransactionRepository {
	return s.transactionRepo
}

// CompositionRepo returns the composition repository
func (s *NoOpTransactionScope) CompositionRepo() bundle.CompositionRepository {
	return s.compositionRepo
}

// ProductCatalog returns the product catalog
func (s *NoOpTransactionScope) ProductCatalog() catalog.ProductCatalog {
	return s.products
}

var _ TransactionScope = (*NoOpTransactionScope)(nil)
var _ TransactionalRepositories = (*NoOpTransactionScope)(nil)

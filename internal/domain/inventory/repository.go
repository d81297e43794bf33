package inventory

import (
	"context"
	"time"

	"github.com/erp/bundle-engine/internal/domain/shared"
	"github.com/google/uuid"
)

// TransactionFilter narrows ListTransactions
type TransactionFilter struct {
	shared.Filter
	BundleID *uuid.UUID
	Status   *AllocationStatus
}

// AllocationTransactionRepository is the append-only transaction log.
// Rows are inserted once; the only later change is Committed -> Reversed.
type AllocationTransactionRepository interface {
	// Create appends a committed transaction. Returns ErrDuplicateKey if the
	// idempotency key is taken.
	Create(ctx context.Context, tx *AllocationTransaction) error

	// FindByID returns the transaction or ErrTransactionNotFound
	FindByID(ctx context.Context, id uuid.UUID) (*AllocationTransaction, error)

	// FindByIdempotencyKey returns the transaction or ErrTransactionNotFound
	FindByIdempotencyKey(ctx context.Context, key string) (*AllocationTransaction, error)

	// MarkReversed flips status Committed -> Reversed only if the stored row is
	// still Committed. Returns ErrAlreadyReversed when it is not.
	MarkReversed(ctx context.Context, id uuid.UUID, reversedAt time.Time) error

	// List returns a page of transactions, newest first by default
	List(ctx context.Context, filter TransactionFilter) ([]AllocationTransaction, int64, error)
}

package inventory

import (
	"errors"
	"fmt"

	"github.com/erp/bundle-engine/internal/domain/shared"
	"github.com/google/uuid"
)

var (
	ErrStockConflict       = shared.NewDomainError("STOCK_CONFLICT", "Stock changed concurrently; conditional mutation not applied")
	ErrDuplicateBatch      = shared.NewDomainError("DUPLICATE_BATCH", "Stock batch with this idempotency key was already applied")
	ErrInvalidMutation     = shared.NewDomainError("INVALID_MUTATION", "Invalid stock mutation")
	ErrTransactionNotFound = shared.NewDomainError("TRANSACTION_NOT_FOUND", "Allocation transaction not found")
	ErrDuplicateKey        = shared.NewDomainError("DUPLICATE_IDEMPOTENCY_KEY", "Allocation with this idempotency key already exists")
	ErrAlreadyReversed     = shared.NewDomainError("ALREADY_REVERSED", "Allocation transaction cannot be reversed")
	ErrTransactionAborted  = shared.NewDomainError("TRANSACTION_ABORTED", "Allocation transaction aborted")
	ErrInvalidTransition   = shared.NewDomainError("INVALID_TRANSITION", "Allocation status transition not allowed")
)

// AlreadyReversedError is returned when reversing a transaction that is not
// Committed. Retrying will never succeed.
type AlreadyReversedError struct {
	TransactionID uuid.UUID
	Status        AllocationStatus
}

func (e *AlreadyReversedError) Error() string {
	return fmt.Sprintf("allocation %s cannot be reversed: status is %s", e.TransactionID, e.Status)
}

func (e *AlreadyReversedError) Unwrap() error { return ErrAlreadyReversed }

// TransactionAbortedError wraps a transient failure of the atomic step
// (deadline, lost race, store error). No partial state was left behind and
// the whole call may be retried with the same idempotency key.
type TransactionAbortedError struct {
	Operation string
	Cause     error
}

func (e *TransactionAbortedError) Error() string {
	return fmt.Sprintf("%s aborted: %v", e.Operation, e.Cause)
}

func (e *TransactionAbortedError) Unwrap() []error {
	return []error{ErrTransactionAborted, e.Cause}
}

// IsRetryable reports whether err is a transient abort
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransactionAborted)
}

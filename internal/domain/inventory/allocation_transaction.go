package inventory

import (
	"fmt"
	"time"

	"github.com/erp/bundle-engine/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AllocationStatus is the lifecycle state of an allocation
type AllocationStatus string

const (
	// AllocationStatusPending is the in-memory state before the atomic step
	AllocationStatusPending AllocationStatus = "PENDING"
	// AllocationStatusCommitted means stock was deducted
	AllocationStatusCommitted AllocationStatus = "COMMITTED"
	// AllocationStatusReversed means the deduction was credited back
	AllocationStatusReversed AllocationStatus = "REVERSED"
	// AllocationStatusFailed is terminal; nothing was persisted
	AllocationStatusFailed AllocationStatus = "FAILED"
)

func (s AllocationStatus) String() string {
	return string(s)
}

// IsValid returns true if the status is known
func (s AllocationStatus) IsValid() bool {
	switch s {
	case AllocationStatusPending,
		AllocationStatusCommitted,
		AllocationStatusReversed,
		AllocationStatusFailed:
		return true
	}
	return false
}

// IsTerminal returns true for states with no outgoing transitions
func (s AllocationStatus) IsTerminal() bool {
	return s == AllocationStatusReversed || s == AllocationStatusFailed
}

// Deduction records stock taken from one product at one location on behalf
// of one BOM edge.
type Deduction struct {
	EdgeID     uuid.UUID `json:"edge_id"`
	ProductID  uuid.UUID `json:"product_id"`
	LocationID uuid.UUID `json:"location_id"`
	Quantity   int64     `json:"quantity"`
}

// AllocationTransaction is the append-only record of one bundle allocation.
// Once Committed, its deductions are the source of truth for reversal.
type AllocationTransaction struct {
	shared.BaseAggregateRoot
	IdempotencyKey    string
	BundleProductID   uuid.UUID
	LocationID        *uuid.UUID
	QuantityRequested int64
	Selection         map[uuid.UUID]uuid.UUID
	Deductions        []Deduction
	PriceDelta        decimal.Decimal
	EffectivePrice    decimal.Decimal
	Reference         string
	Status            AllocationStatus
	FailureReason     string
	CommittedAt       *time.Time
	ReversedAt        *time.Time
}

// NewAllocationTransaction creates a Pending transaction. An empty key gets
// a generated one derived from the transaction id.
func NewAllocationTransaction(bundleID uuid.UUID, quantity int64, selection map[uuid.UUID]uuid.UUID, locationID *uuid.UUID, idempotencyKey string) (*AllocationTransaction, error) {
	if bundleID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_BUNDLE", "Bundle ID cannot be empty")
	}
	if quantity <= 0 {
		return nil, shared.NewDomainError("INVALID_QUANTITY", "Allocation quantity must be positive")
	}

	tx := &AllocationTransaction{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		BundleProductID:   bundleID,
		LocationID:        locationID,
		QuantityRequested: quantity,
		Selection:         selection,
		PriceDelta:        decimal.Zero,
		EffectivePrice:    decimal.Zero,
		Status:            AllocationStatusPending,
	}
	tx.IdempotencyKey = idempotencyKey
	if tx.IdempotencyKey == "" {
		tx.IdempotencyKey = "alloc:" + tx.ID.String()
	}
	return tx, nil
}

// Commit records the deductions and prices and moves Pending -> Committed
func (t *AllocationTransaction) Commit(deductions []Deduction, priceDelta, effectivePrice decimal.Decimal) error {
	if t.Status != AllocationStatusPending {
		return fmt.Errorf("%w: cannot commit from %s", ErrInvalidTransition, t.Status)
	}
	if len(deductions) == 0 {
		return shared.NewDomainError("INVALID_DEDUCTIONS", "Committed allocation must deduct stock")
	}
	for _, d := range deductions {
		if d.Quantity <= 0 {
			return shared.NewDomainError("INVALID_DEDUCTIONS", "Deduction quantity must be positive")
		}
	}

	now := time.Now().UTC()
	t.Deductions = deductions
	t.PriceDelta = priceDelta
	t.EffectivePrice = effectivePrice
	t.Status = AllocationStatusCommitted
	t.CommittedAt = &now
	t.UpdatedAt = now
	t.IncrementVersion()

	t.AddDomainEvent(NewAllocationCommittedEvent(t))
	return nil
}

// Fail moves Pending -> Failed. Failed transactions are never persisted.
func (t *AllocationTransaction) Fail(reason string) error {
	if t.Status != AllocationStatusPending {
		return fmt.Errorf("%w: cannot fail from %s", ErrInvalidTransition, t.Status)
	}
	t.Status = AllocationStatusFailed
	t.FailureReason = reason
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// CanReverse returns nil when the transaction may be reversed
func (t *AllocationTransaction) CanReverse() error {
	if t.Status != AllocationStatusCommitted {
		return &AlreadyReversedError{TransactionID: t.ID, Status: t.Status}
	}
	return nil
}

// MarkReversed moves Committed -> Reversed
func (t *AllocationTransaction) MarkReversed(at time.Time) error {
	if err := t.CanReverse(); err != nil {
		return err
	}
	t.Status = AllocationStatusReversed
	t.ReversedAt = &at
	t.UpdatedAt = at
	t.IncrementVersion()

	t.AddDomainEvent(NewAllocationReversedEvent(t))
	return nil
}

// ReversalKey is the ledger idempotency key used to credit this allocation back
func (t *AllocationTransaction) ReversalKey() string {
	return "reverse:" + t.ID.String()
}

// DeductedByProduct totals the deductions per product
func (t *AllocationTransaction) DeductedByProduct() map[uuid.UUID]int64 {
	out := make(map[uuid.UUID]int64)
	for _, d := range t.Deductions {
		out[d.ProductID] += d.Quantity
	}
	return out
}

// TouchedProductIDs lists each deducted product once
func (t *AllocationTransaction) TouchedProductIDs() []uuid.UUID {
	seen := make(map[uuid.UUID]struct{})
	var ids []uuid.UUID
	for _, d := range t.Deductions {
		if _, ok := seen[d.ProductID]; !ok {
			seen[d.ProductID] = struct{}{}
			ids = append(ids, d.ProductID)
		}
	}
	return ids
}

// DebitMutations converts deductions into conditional decrements, one per
// (product, location)
func DebitMutations(deductions []Deduction) []StockMutation {
	totals := sumByKey(deductions)
	out := make([]StockMutation, 0, len(totals))
	for key, qty := range totals {
		floor := qty
		out = append(out, StockMutation{ProductID: key.ProductID, LocationID: key.LocationID, Delta: -qty, ExpectedMinimum: &floor})
	}
	return SortMutations(out)
}

// CreditMutations converts deductions into the exact compensating credits
func CreditMutations(deductions []Deduction) []StockMutation {
	totals := sumByKey(deductions)
	out := make([]StockMutation, 0, len(totals))
	for key, qty := range totals {
		out = append(out, StockMutation{ProductID: key.ProductID, LocationID: key.LocationID, Delta: qty})
	}
	return SortMutations(out)
}

func sumByKey(deductions []Deduction) map[StockKey]int64 {
	totals := make(map[StockKey]int64)
	for _, d := range deductions {
		totals[StockKey{ProductID: d.ProductID, LocationID: d.LocationID}] += d.Quantity
	}
	return totals
}

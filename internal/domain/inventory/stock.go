package inventory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// StockRecord is the on-hand quantity of one product at one location.
// QuantityOnHand never goes negative.
type StockRecord struct {
	ProductID      uuid.UUID
	LocationID     uuid.UUID
	QuantityOnHand int64
	Version        int
	UpdatedAt      time.Time
}

// StockKey identifies a stock record
type StockKey struct {
	ProductID  uuid.UUID
	LocationID uuid.UUID
}

func (k StockKey) String() string {
	return fmt.Sprintf("%s@%s", k.ProductID, k.LocationID)
}

// Key returns the record's identity
func (r StockRecord) Key() StockKey {
	return StockKey{ProductID: r.ProductID, LocationID: r.LocationID}
}

// StockMutation is one conditional change inside an atomic batch.
// A negative Delta is applied only if the current quantity is at least
// ExpectedMinimum (when set) and at least -Delta.
type StockMutation struct {
	ProductID       uuid.UUID
	LocationID      uuid.UUID
	Delta           int64
	ExpectedMinimum *int64
}

// Key returns the record the mutation targets
func (m StockMutation) Key() StockKey {
	return StockKey{ProductID: m.ProductID, LocationID: m.LocationID}
}

// RequiredMinimum is the lowest current quantity at which the mutation may
// be applied.
func (m StockMutation) RequiredMinimum() int64 {
	var floor int64
	if m.Delta < 0 {
		floor = -m.Delta
	}
	if m.ExpectedMinimum != nil && *m.ExpectedMinimum > floor {
		floor = *m.ExpectedMinimum
	}
	return floor
}

// StockLedger is the store of record for stock quantities. All mutation goes
// through BatchMutate; callers never read-modify-write a record.
type StockLedger interface {
	// GetQuantity returns on-hand quantity of a product, summed over all
	// locations when locationID is nil
	GetQuantity(ctx context.Context, productID uuid.UUID, locationID *uuid.UUID) (int64, error)

	// GetQuantities is the batch form of GetQuantity; products without
	// stock map to 0
	GetQuantities(ctx context.Context, productIDs []uuid.UUID, locationID *uuid.UUID) (map[uuid.UUID]int64, error)

	// GetStockRecords returns the per-location records of the products,
	// restricted to locationID when set
	GetStockRecords(ctx context.Context, productIDs []uuid.UUID, locationID *uuid.UUID) ([]StockRecord, error)

	// BatchMutate applies every mutation or none. It fails with ErrStockConflict
	// when any condition does not hold and ErrDuplicateBatch when
	// idempotencyKey has been applied before.
	BatchMutate(ctx context.Context, mutations []StockMutation, idempotencyKey string) error
}

// ValidateBatch rejects empty batches, zero deltas and repeated keys
func ValidateBatch(mutations []StockMutation, idempotencyKey string) error {
	if idempotencyKey == "" {
		return fmt.Errorf("%w: idempotency key is required", ErrInvalidMutation)
	}
	if len(mutations) == 0 {
		return fmt.Errorf("%w: batch is empty", ErrInvalidMutation)
	}
	seen := make(map[StockKey]struct{}, len(mutations))
	for _, m := range mutations {
		if m.Delta == 0 {
			return fmt.Errorf("%w: zero delta for %s", ErrInvalidMutation, m.Key())
		}
		if m.ProductID == uuid.Nil {
			return fmt.Errorf("%w: product id is required", ErrInvalidMutation)
		}
		if _, dup := seen[m.Key()]; dup {
			return fmt.Errorf("%w: %s appears twice", ErrInvalidMutation, m.Key())
		}
		seen[m.Key()] = struct{}{}
	}
	return nil
}

// SortMutations orders mutations by (product, location). Every ledger
// applies batches in this order so concurrent batches lock rows consistently.
func SortMutations(mutations []StockMutation) []StockMutation {
	out := append([]StockMutation(nil), mutations...)
	sort.Slice(out, func(i, j int) bool {
		return lessKey(out[i].Key(), out[j].Key())
	})
	return out
}

func lessKey(a, b StockKey) bool {
	if c := compareUUID(a.ProductID, b.ProductID); c != 0 {
		return c < 0
	}
	return compareUUID(a.LocationID, b.LocationID) < 0
}

func compareUUID(a, b uuid.UUID) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

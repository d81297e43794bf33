package bundle_test

import (
	"context"
	"testing"
	"time"

	appbundle "github.com/erp/bundle-engine/internal/application/bundle"
	"github.com/erp/bundle-engine/internal/domain/inventory"
	"github.com/erp/bundle-engine/internal/infrastructure/cache"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvalidatingStores_RefreshAvailability(t *testing.T) {
	f := newFixture(t)
	k := f.kit()
	ledger := appbundle.NewInvalidatingLedger(f.store.Ledger(), f.availability)
	products := appbundle.NewInvalidatingCatalog(f.store.Products(), f.availability)

	maxAvailable := func() int64 {
		t.Helper()
		v, err := f.availability.ComputeMaxAvailable(f.ctx, k.b.ID, nil, nil)
		require.NoError(t, err)
		_, cached, err := f.cache.Get(f.ctx, k.b.ID, nil)
		require.NoError(t, err)
		require.True(t, cached)
		return v
	}
	require.Equal(t, int64(3), maxAvailable())

	err := ledger.BatchMutate(f.ctx, []inventory.StockMutation{
		{ProductID: k.c.ID, LocationID: f.warehouse, Delta: 10},
	}, "receipt:"+uuid.NewString())
	require.NoError(t, err)
	assert.Equal(t, int64(5), maxAvailable(), "min(10/2, 13/1)")

	require.NoError(t, k.a.Deactivate())
	require.NoError(t, products.Save(f.ctx, k.a))
	assert.Zero(t, maxAvailable())

	require.NoError(t, k.b.Deactivate())
	require.NoError(t, products.Save(f.ctx, k.b))
	_, cached, err := f.cache.Get(f.ctx, k.b.ID, nil)
	require.NoError(t, err)
	assert.False(t, cached, "saving the bundle product drops its own entries")
}

func TestInvalidatingLedger_FailedBatchKeepsCache(t *testing.T) {
	f := newFixture(t)
	k := f.kit()
	ledger := appbundle.NewInvalidatingLedger(f.store.Ledger(), f.availability)

	_, err := f.availability.ComputeMaxAvailable(f.ctx, k.b.ID, nil, nil)
	require.NoError(t, err)

	floor := int64(100)
	err = ledger.BatchMutate(f.ctx, []inventory.StockMutation{
		{ProductID: k.c.ID, LocationID: f.warehouse, Delta: -100, ExpectedMinimum: &floor},
	}, "alloc:too-much")
	require.ErrorIs(t, err, inventory.ErrStockConflict)

	_, cached, err := f.cache.Get(f.ctx, k.b.ID, nil)
	require.NoError(t, err)
	assert.True(t, cached)
}

// interleavingCache runs beforeSet once, just ahead of the first write
type interleavingCache struct {
	*cache.InMemoryAvailabilityCache
	beforeSet func()
}

func (c *interleavingCache) Set(ctx context.Context, bundleID uuid.UUID, locationID *uuid.UUID, value int64, ttl time.Duration) error {
	if fn := c.beforeSet; fn != nil {
		c.beforeSet = nil
		fn()
	}
	return c.InMemoryAvailabilityCache.Set(ctx, bundleID, locationID, value, ttl)
}

func TestComputeMaxAvailable_DoesNotCacheAcrossInvalidation(t *testing.T) {
	f := newFixture(t)
	k := f.kit()

	inner := cache.NewInMemoryAvailabilityCache()
	racing := &interleavingCache{InMemoryAvailabilityCache: inner}
	f.availability.SetCache(racing, time.Minute)

	// the allocation commits after the reader computed 3 but before it caches
	racing.beforeSet = func() {
		_, err := f.allocation.Allocate(f.ctx, appbundle.AllocateRequest{BundleID: k.b.ID, Quantity: 3})
		require.NoError(t, err)
	}

	first, err := f.availability.ComputeMaxAvailable(f.ctx, k.b.ID, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), first)

	_, cached, err := inner.Get(f.ctx, k.b.ID, nil)
	require.NoError(t, err)
	assert.False(t, cached, "a value computed before the invalidation must not stay cached")

	after, err := f.availability.ComputeMaxAvailable(f.ctx, k.b.ID, nil, nil)
	require.NoError(t, err)
	assert.Zero(t, after)
}

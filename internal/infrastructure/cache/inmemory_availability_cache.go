package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/erp/bundle-engine/internal/domain/bundle"
	"github.com/google/uuid"
)

// allLocations is the field used for the location-less (aggregate) value
const allLocations = "all"

type availabilityEntry struct {
	value     int64
	expiresAt time.Time
}

// InMemoryAvailabilityCache is a per-engine TTL map of max-available values.
// Entries for one bundle are grouped so a single invalidation drops all
// locations at once.
type InMemoryAvailabilityCache struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]map[string]availabilityEntry
	now     func() time.Time

	hits   int64
	misses int64
}

// NewInMemoryAvailabilityCache creates an empty cache
func NewInMemoryAvailabilityCache() *InMemoryAvailabilityCache {
	return &InMemoryAvailabilityCache{
		entries: make(map[uuid.UUID]map[string]availabilityEntry),
		now:     time.Now,
	}
}

func locationField(locationID *uuid.UUID) string {
	if locationID == nil {
		return allLocations
	}
	return locationID.String()
}

// Get returns the cached value for bundle and location
func (c *InMemoryAvailabilityCache) Get(_ context.Context, bundleID uuid.UUID, locationID *uuid.UUID) (int64, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[bundleID][locationField(locationID)]
	c.mu.RUnlock()

	if !ok || !c.now().Before(e.expiresAt) {
		atomic.AddInt64(&c.misses, 1)
		return 0, false, nil
	}
	atomic.AddInt64(&c.hits, 1)
	return e.value, true, nil
}

// Set stores a value. A non-positive TTL is a no-op.
func (c *InMemoryAvailabilityCache) Set(_ context.Context, bundleID uuid.UUID, locationID *uuid.UUID, value int64, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	byLocation, ok := c.entries[bundleID]
	if !ok {
		byLocation = make(map[string]availabilityEntry)
		c.entries[bundleID] = byLocation
	}
	byLocation[locationField(locationID)] = availabilityEntry{value: value, expiresAt: c.now().Add(ttl)}
	return nil
}

// InvalidateBundles drops every entry of the bundles
func (c *InMemoryAvailabilityCache) InvalidateBundles(_ context.Context, bundleIDs ...uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range bundleIDs {
		delete(c.entries, id)
	}
	return nil
}

// Stats returns hit and miss counters
func (c *InMemoryAvailabilityCache) Stats() (hits, misses int64) {
	return atomic.LoadInt64(&c.hits), atomic.LoadInt64(&c.misses)
}

var _ bundle.AvailabilityCache = (*InMemoryAvailabilityCache)(nil)

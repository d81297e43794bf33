package bundle_test

import (
	"context"
	"sync"
	"testing"
	"time"

	appbundle "github.com/erp/bundle-engine/internal/application/bundle"
	"github.com/erp/bundle-engine/internal/domain/catalog"
	"github.com/erp/bundle-engine/internal/domain/inventory"
	"github.com/erp/bundle-engine/internal/domain/shared"
	"github.com/erp/bundle-engine/internal/infrastructure/cache"
	"github.com/erp/bundle-engine/internal/infrastructure/persistence/memory"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// recordingPublisher captures published events
type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.DomainEvent
}

func (p *recordingPublisher) Publish(_ context.Context, events ...shared.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func (p *recordingPublisher) ofType(eventType string) []shared.DomainEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []shared.DomainEvent
	for _, e := range p.events {
		if e.EventType() == eventType {
			out = append(out, e)
		}
	}
	return out
}

// testingT is satisfied by *testing.T and *rapid.T
type testingT interface {
	require.TestingT
	Helper()
	Fatalf(format string, args ...any)
}

type fixture struct {
	t            testingT
	ctx          context.Context
	store        *memory.Store
	cache        *cache.InMemoryAvailabilityCache
	events       *recordingPublisher
	composition  *appbundle.CompositionService
	substitution *appbundle.SubstitutionService
	availability *appbundle.AvailabilityService
	allocation   *appbundle.AllocationService
	warehouse    uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return buildFixture(t, zaptest.NewLogger(t))
}

func buildFixture(t testingT, logger *zap.Logger) *fixture {
	store := memory.NewStore()
	events := &recordingPublisher{}

	availability := appbundle.NewAvailabilityService(store.Products(), store.Compositions(), store.Ledger(), logger)
	availabilityCache := cache.NewInMemoryAvailabilityCache()
	availability.SetCache(availabilityCache, time.Minute)

	composition := appbundle.NewCompositionService(store.Products(), store.Compositions(), store, logger)
	composition.SetEventPublisher(events)
	composition.SetCacheInvalidator(availability)

	allocation := appbundle.NewAllocationService(availability, store.Ledger(), store.Transactions(), store, logger)
	allocation.SetEventPublisher(events)
	allocation.SetTimeout(5 * time.Second)

	return &fixture{
		t:            t,
		ctx:          context.Background(),
		store:        store,
		cache:        availabilityCache,
		events:       events,
		composition:  composition,
		substitution: appbundle.NewSubstitutionService(store.Compositions()),
		availability: availability,
		allocation:   allocation,
		warehouse:    uuid.New(),
	}
}

func (f *fixture) elemental(code string, price int64) *catalog.Product {
	f.t.Helper()
	p, err := catalog.NewElemental(code, code+" item", decimal.NewFromInt(price))
	require.NoError(f.t, err)
	require.NoError(f.t, f.store.Products().Save(f.ctx, p))
	return p
}

func (f *fixture) composite(code string, price int64) *catalog.Product {
	f.t.Helper()
	p, err := catalog.NewComposite(code, code+" bundle", decimal.NewFromInt(price))
	require.NoError(f.t, err)
	require.NoError(f.t, f.store.Products().Save(f.ctx, p))
	return p
}

func (f *fixture) deactivate(p *catalog.Product) {
	f.t.Helper()
	require.NoError(f.t, p.Deactivate())
	require.NoError(f.t, f.store.Products().Save(f.ctx, p))
}

// receive credits qty units of productID at location
func (f *fixture) receive(productID, location uuid.UUID, qty int64) {
	f.t.Helper()
	err := f.store.Ledger().BatchMutate(f.ctx, []inventory.StockMutation{
		{ProductID: productID, LocationID: location, Delta: qty},
	}, "receipt:"+uuid.NewString())
	require.NoError(f.t, err)
}

func (f *fixture) onHand(productID uuid.UUID) int64 {
	f.t.Helper()
	q, err := f.store.Ledger().GetQuantity(f.ctx, productID, nil)
	require.NoError(f.t, err)
	return q
}

func (f *fixture) createBundle(b *catalog.Product, edges ...appbundle.EdgeInput) *appbundle.BundleView {
	f.t.Helper()
	view, err := f.composition.CreateBundle(f.ctx, appbundle.CreateBundleRequest{BundleProductID: b.ID, Edges: edges})
	require.NoError(f.t, err)
	return view
}

func edge(p *catalog.Product, qty int64) appbundle.EdgeInput {
	return appbundle.EdgeInput{ComponentProductID: p.ID, RequiredQuantity: qty}
}

// edgeFor returns the edge of view whose primary component is p
func edgeFor(t testingT, view *appbundle.BundleView, p *catalog.Product) appbundle.EdgeView {
	t.Helper()
	for _, e := range view.Edges {
		if e.ComponentProductID == p.ID {
			return e
		}
	}
	t.Fatalf("no edge for product %s", p.Code)
	return appbundle.EdgeView{}
}

// kit is the two-component bundle B = {A x2, C x1} with A=10 and C=3 on hand
type kit struct {
	b, a, c *catalog.Product
	view    *appbundle.BundleView
}

func (f *fixture) kit() kit {
	f.t.Helper()
	a := f.elemental("A", 10)
	c := f.elemental("C", 5)
	b := f.composite("B", 30)
	view := f.createBundle(b, edge(a, 2), edge(c, 1))
	f.receive(a.ID, f.warehouse, 10)
	f.receive(c.ID, f.warehouse, 3)
	return kit{b: b, a: a, c: c, view: view}
}

package bundle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/erp/bundle-engine/internal/domain/bundle"
	"github.com/erp/bundle-engine/internal/domain/catalog"
	"github.com/erp/bundle-engine/internal/domain/inventory"
	"github.com/erp/bundle-engine/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AvailabilityService computes how many units of a bundle the component
// stock can cover. Results for the default selection are cached per bundle
// and location until a write touches the bundle.
type AvailabilityService struct {
	products     catalog.ProductCatalog
	compositions bundle.CompositionRepository
	ledger       inventory.StockLedger
	cache        bundle.AvailabilityCache
	cacheTTL     time.Duration
	metrics      *telemetry.AllocationMetrics
	logger       *zap.Logger

	// generations counts invalidations per bundle; a result is cached only
	// if no invalidation happened while it was computed
	genMu       sync.Mutex
	generations map[uuid.UUID]uint64
}

// NewAvailabilityService creates a new AvailabilityService without a cache
func NewAvailabilityService(
	products catalog.ProductCatalog,
	compositions bundle.CompositionRepository,
	ledger inventory.StockLedger,
	logger *zap.Logger,
) *AvailabilityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AvailabilityService{
		products:     products,
		compositions: compositions,
		ledger:       ledger,
		logger:       logger.Named("availability"),
		generations:  make(map[uuid.UUID]uint64),
	}
}

// SetCache enables caching of default-selection results; nil disables it
func (s *AvailabilityService) SetCache(cache bundle.AvailabilityCache, ttl time.Duration) {
	s.cache = cache
	s.cacheTTL = ttl
}

// SetMetrics sets the metrics recorder
func (s *AvailabilityService) SetMetrics(metrics *telemetry.AllocationMetrics) {
	s.metrics = metrics
}

// evaluation is everything known about a bundle and a selection at one
// point in time
type evaluation struct {
	product  *catalog.Product
	def      *bundle.Definition
	resolved []bundle.ResolvedEdge
	demands  []bundle.Demand
	stock    map[uuid.UUID]int64
}

// sellable reports whether the bundle itself may be sold at all
func (e *evaluation) sellable() bool {
	return e.product.IsActive() && e.product.IsComposite() && len(e.def.Edges) > 0
}

func (e *evaluation) maxBundles() int64 {
	if !e.sellable() {
		return 0
	}
	return bundle.MaxBundles(e.demands, e.stock)
}

// evaluate resolves sel against the bundle and reads the stock of every
// resolved product. Edges missing from sel resolve to their default.
func (s *AvailabilityService) evaluate(ctx context.Context, bundleID uuid.UUID, sel bundle.Selection, locationID *uuid.UUID) (*evaluation, error) {
	product, err := loadBundleProduct(ctx, s.products, bundleID)
	if err != nil {
		return nil, err
	}
	def, err := loadDefinition(ctx, s.compositions, bundleID)
	if err != nil {
		return nil, err
	}
	ev := &evaluation{product: product, def: def, stock: map[uuid.UUID]int64{}}
	if len(def.Edges) == 0 {
		return ev, nil
	}
	if ev.resolved, err = def.Resolve(sel); err != nil {
		return nil, err
	}
	if err := s.readStock(ctx, ev, locationID); err != nil {
		return nil, err
	}
	return ev, nil
}

func (s *AvailabilityService) readStock(ctx context.Context, ev *evaluation, locationID *uuid.UUID) error {
	ids := make([]uuid.UUID, 0, len(ev.resolved))
	for _, r := range ev.resolved {
		ids = append(ids, r.ProductID)
	}
	products, err := s.products.GetProducts(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to load components: %w", err)
	}
	ev.demands = bundle.AggregateDemand(ev.resolved, products)
	ev.stock, err = s.ledger.GetQuantities(ctx, bundle.DemandProductIDs(ev.demands), locationID)
	if err != nil {
		return fmt.Errorf("failed to read stock: %w", err)
	}
	return nil
}

// ComputeMaxAvailable returns the largest number of bundles the stock can
// cover for sel (nil for defaults) at locationID (nil for all locations).
// An inactive bundle, a bundle without components, or any component that
// cannot be sold yields 0.
func (s *AvailabilityService) ComputeMaxAvailable(ctx context.Context, bundleID uuid.UUID, sel bundle.Selection, locationID *uuid.UUID) (int64, error) {
	cacheable := s.cache != nil && len(sel) == 0
	var gen uint64
	if cacheable {
		gen = s.generation(bundleID)
		value, ok, err := s.cache.Get(ctx, bundleID, locationID)
		if err != nil {
			s.logger.Warn("availability cache read failed", zap.String("bundle_id", bundleID.String()), zap.Error(err))
		} else if ok {
			s.metrics.RecordAvailability(ctx, bundleID, value, true)
			return value, nil
		}
	}

	ev, err := s.evaluate(ctx, bundleID, sel, locationID)
	if err != nil {
		return 0, err
	}
	value := ev.maxBundles()

	if cacheable {
		s.storeCached(ctx, bundleID, locationID, value, gen)
	}
	s.metrics.RecordAvailability(ctx, bundleID, value, false)
	return value, nil
}

// storeCached writes value unless bundleID was invalidated after gen was
// read. An invalidation landing between the check and the write is caught by
// the second check, which drops the entry again.
func (s *AvailabilityService) storeCached(ctx context.Context, bundleID uuid.UUID, locationID *uuid.UUID, value int64, gen uint64) {
	if s.generation(bundleID) != gen {
		return
	}
	if err := s.cache.Set(ctx, bundleID, locationID, value, s.cacheTTL); err != nil {
		s.logger.Warn("availability cache write failed", zap.String("bundle_id", bundleID.String()), zap.Error(err))
		return
	}
	if s.generation(bundleID) != gen {
		if err := s.cache.InvalidateBundles(ctx, bundleID); err != nil {
			s.logger.Warn("availability cache invalidation failed", zap.String("bundle_id", bundleID.String()), zap.Error(err))
		}
	}
}

func (s *AvailabilityService) generation(bundleID uuid.UUID) uint64 {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return s.generations[bundleID]
}

// CheckAvailability reports whether quantity bundles can be allocated and,
// if not, every component that falls short.
func (s *AvailabilityService) CheckAvailability(ctx context.Context, bundleID uuid.UUID, quantity int64, sel bundle.Selection, locationID *uuid.UUID) (*AvailabilityResult, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive, got %d", bundle.ErrInvalidRequest, quantity)
	}
	ev, err := s.evaluate(ctx, bundleID, sel, locationID)
	if err != nil {
		return nil, err
	}
	return ev.check(quantity)
}

func (e *evaluation) check(quantity int64) (*AvailabilityResult, error) {
	result := &AvailabilityResult{BundleID: e.def.BundleID, Quantity: quantity}
	switch {
	case !e.product.IsComposite():
		result.Reason = "product is not a bundle"
		return result, nil
	case len(e.def.Edges) == 0:
		result.Reason = "bundle has no components"
		return result, nil
	}

	shortages, err := bundle.Shortages(e.demands, e.stock, quantity)
	if err != nil {
		return nil, fmt.Errorf("%w: quantity %d overflows component demand", err, quantity)
	}
	result.Shortages = shortages
	switch {
	case !e.product.IsActive():
		result.Reason = "bundle is inactive"
	case len(shortages) > 0:
		result.Reason = "insufficient component stock"
	default:
		result.OK = true
	}
	return result, nil
}

// InvalidateBundles drops cached availability of the given bundles
func (s *AvailabilityService) InvalidateBundles(ctx context.Context, bundleIDs ...uuid.UUID) {
	if s.cache == nil || len(bundleIDs) == 0 {
		return
	}
	s.genMu.Lock()
	for _, id := range bundleIDs {
		s.generations[id]++
	}
	s.genMu.Unlock()
	if err := s.cache.InvalidateBundles(ctx, bundleIDs...); err != nil {
		s.logger.Warn("availability cache invalidation failed", zap.Int("bundles", len(bundleIDs)), zap.Error(err))
	}
}

// InvalidateProducts drops cached availability of every bundle that uses
// one of productIDs as a component or substitution
func (s *AvailabilityService) InvalidateProducts(ctx context.Context, productIDs []uuid.UUID) {
	if s.cache == nil || len(productIDs) == 0 {
		return
	}
	bundleIDs, err := s.compositions.FindBundlesByProducts(ctx, productIDs)
	if err != nil {
		s.logger.Warn("failed to find bundles for invalidation", zap.Error(err))
		return
	}
	s.InvalidateBundles(ctx, bundleIDs...)
}

var _ CacheInvalidator = (*AvailabilityService)(nil)

// Package bootstrap assembles the allocation engine from configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	appbundle "github.com/erp/bundle-engine/internal/application/bundle"
	"github.com/erp/bundle-engine/internal/domain/bundle"
	"github.com/erp/bundle-engine/internal/domain/catalog"
	"github.com/erp/bundle-engine/internal/domain/inventory"
	"github.com/erp/bundle-engine/internal/domain/shared"
	"github.com/erp/bundle-engine/internal/infrastructure/cache"
	"github.com/erp/bundle-engine/internal/infrastructure/config"
	"github.com/erp/bundle-engine/internal/infrastructure/event"
	"github.com/erp/bundle-engine/internal/infrastructure/persistence"
	"github.com/erp/bundle-engine/internal/infrastructure/persistence/memory"
	"github.com/erp/bundle-engine/internal/infrastructure/telemetry"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Engine holds the wired services and everything that must be closed with them
type Engine struct {
	Products     catalog.ProductRepository
	Ledger       inventory.StockLedger
	Composition  *appbundle.CompositionService
	Substitution *appbundle.SubstitutionService
	Availability *appbundle.AvailabilityService
	Allocation   *appbundle.AllocationService
	Events       shared.EventBus

	closers []func(context.Context) error
	logger  *zap.Logger
}

type options struct {
	memory      bool
	poster      appbundle.FinancialPoster
	redisClient redis.UniversalClient
}

// Option customizes New
type Option func(*options)

// WithMemoryStore keeps all state in process instead of opening cfg.Database
func WithMemoryStore() Option {
	return func(o *options) { o.memory = true }
}

// WithPoster books committed allocations through p instead of only logging them
func WithPoster(p appbundle.FinancialPoster) Option {
	return func(o *options) { o.poster = p }
}

// WithRedisClient shares an existing Redis client with the caches
func WithRedisClient(client redis.UniversalClient) Option {
	return func(o *options) { o.redisClient = client }
}

type stores struct {
	products     catalog.ProductRepository
	compositions bundle.CompositionRepository
	ledger       inventory.StockLedger
	transactions inventory.AllocationTransactionRepository
	scope        appbundle.TransactionScope
}

// New wires storage, caches, telemetry, the event bus and the four services.
// On error everything opened so far is closed again.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger, opts ...Option) (_ *Engine, err error) {
	if log == nil {
		log = zap.NewNop()
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	e := &Engine{logger: log}
	defer func() {
		if err != nil {
			_ = e.Close(context.Background())
		}
	}()

	metrics, log, err := e.startTelemetry(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	e.logger = log

	st, err := e.openStores(cfg, o, log)
	if err != nil {
		return nil, err
	}

	factoryOpts := []cache.FactoryOption{cache.WithLogger(log)}
	if o.redisClient != nil {
		factoryOpts = append(factoryOpts, cache.WithRedisClient(o.redisClient))
	}
	factory := cache.NewFactory(cfg.Redis, factoryOpts...)

	availabilityCache, err := factory.CreateAvailabilityCache(cfg.Availability)
	if err != nil {
		return nil, err
	}

	e.Availability = appbundle.NewAvailabilityService(st.products, st.compositions, st.ledger, log)
	e.Availability.SetMetrics(metrics)
	if availabilityCache != nil {
		e.Availability.SetCache(availabilityCache, cfg.Availability.CacheTTL)
	}
	// host writes go through these so cached availability follows them
	e.Products = appbundle.NewInvalidatingCatalog(st.products, e.Availability)
	e.Ledger = appbundle.NewInvalidatingLedger(st.ledger, e.Availability)

	bus := event.NewInMemoryEventBus(log)
	if err := bus.Start(ctx); err != nil {
		return nil, err
	}
	e.Events = bus
	e.closers = append(e.closers, bus.Stop)

	if cfg.Allocation.PostingEnabled {
		if err := e.subscribePosting(factory, cfg, o, metrics, log); err != nil {
			return nil, err
		}
	}

	e.Composition = appbundle.NewCompositionService(st.products, st.compositions, st.scope, log)
	e.Composition.SetEventPublisher(bus)
	e.Composition.SetCacheInvalidator(e.Availability)

	e.Substitution = appbundle.NewSubstitutionService(st.compositions)

	e.Allocation = appbundle.NewAllocationService(e.Availability, st.ledger, st.transactions, st.scope, log)
	e.Allocation.SetEventPublisher(bus)
	e.Allocation.SetMetrics(metrics)
	e.Allocation.SetTimeout(cfg.Allocation.LedgerTimeout)

	log.Info("allocation engine ready",
		zap.String("database", storageName(cfg, o)),
		zap.Bool("availability_cache", availabilityCache != nil),
		zap.Bool("posting", cfg.Allocation.PostingEnabled),
	)
	return e, nil
}

func (e *Engine) openStores(cfg *config.Config, o *options, log *zap.Logger) (*stores, error) {
	if o.memory {
		store := memory.NewStore()
		return &stores{
			products:     store.Products(),
			compositions: store.Compositions(),
			ledger:       store.Ledger(),
			transactions: store.Transactions(),
			scope:        store,
		}, nil
	}

	db, err := persistence.NewDatabase(&cfg.Database, log)
	if err != nil {
		return nil, err
	}
	e.closers = append(e.closers, func(context.Context) error { return db.Close() })
	tracing := telemetry.DefaultDBTracingConfig()
	tracing.Enabled = cfg.Telemetry.Enabled && cfg.Telemetry.DBTracing
	tracing.LogFullSQL = cfg.Telemetry.LogFullSQL
	if db.Driver() == "sqlite" {
		tracing.DBSystem = "sqlite"
	}
	if err := telemetry.NewDBTracingPlugin(tracing, log).Register(db.DB); err != nil {
		return nil, fmt.Errorf("failed to enable database tracing: %w", err)
	}
	if db.Driver() == "sqlite" {
		if err := db.AutoMigrate(); err != nil {
			return nil, err
		}
	}
	return &stores{
		products:     persistence.NewGormProductRepository(db.DB),
		compositions: persistence.NewGormCompositionRepository(db.DB),
		ledger:       persistence.NewGormStockLedger(db.DB),
		transactions: persistence.NewGormAllocationTransactionRepository(db.DB),
		scope:        persistence.NewGormTransactionScope(db.DB),
	}, nil
}

// startTelemetry starts tracing, metrics, log export and profiling. The
// returned logger also feeds the OTLP log pipeline when that is enabled.
func (e *Engine) startTelemetry(ctx context.Context, cfg *config.Config, log *zap.Logger) (*telemetry.AllocationMetrics, *zap.Logger, error) {
	tc := cfg.Telemetry
	pipeline, err := telemetry.StartPipeline(ctx, telemetry.PipelineConfig{
		Endpoint:        tc.CollectorEndpoint,
		Insecure:        tc.Insecure,
		ServiceName:     tc.ServiceName,
		Traces:          tc.Enabled,
		SamplingRatio:   tc.SamplingRatio,
		Metrics:         tc.Enabled,
		MetricsInterval: tc.MetricsInterval,
		Logs:            tc.Enabled && tc.LogsEnabled,
	}, log)
	if err != nil {
		return nil, log, fmt.Errorf("failed to start telemetry: %w", err)
	}
	e.closers = append(e.closers, pipeline.Shutdown)
	log = pipeline.Bridge(log)

	profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfig{
		Enabled:           cfg.Profiling.Enabled,
		ServerAddress:     cfg.Profiling.ServerAddress,
		ApplicationName:   cfg.Profiling.ApplicationName,
		ProfileContention: cfg.Profiling.Contention,
	}, log)
	if err != nil {
		return nil, log, err
	}
	e.closers = append(e.closers, profiler.Stop)
	if profiler.IsEnabled() && cfg.Profiling.SpanProfiles {
		pipeline.EnableSpanProfiles()
	}

	metrics, err := telemetry.NewAllocationMetrics(pipeline.Meter("bundle-engine"), log)
	if err != nil {
		return nil, log, fmt.Errorf("failed to register metrics: %w", err)
	}
	return metrics, log, nil
}

// subscribePosting books each committed allocation once, keyed by transaction
func (e *Engine) subscribePosting(factory *cache.Factory, cfg *config.Config, o *options, metrics *telemetry.AllocationMetrics, log *zap.Logger) error {
	store, err := factory.CreateIdempotencyStore()
	if err != nil {
		return err
	}
	e.closers = append(e.closers, func(context.Context) error { return store.Close() })

	poster := o.poster
	if poster == nil {
		poster = appbundle.NewLoggingPoster(log)
	}
	idemCfg := shared.DefaultIdempotencyConfig()
	idemCfg.TTL = cfg.Allocation.IdempotencyTTL

	e.Events.Subscribe(event.NewIdempotentHandler(
		appbundle.NewPostingHandler(poster, log), store, log,
		event.WithKeyFunc(appbundle.PostingKey),
		event.WithIdempotencyConfig(idemCfg),
		event.WithDeliveryObserver(func(ctx context.Context, d event.Delivery) {
			metrics.RecordPosting(ctx, string(d))
		}),
	))
	return nil
}

// Close releases resources in reverse order of acquisition
func (e *Engine) Close(ctx context.Context) error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	if err := errors.Join(errs...); err != nil {
		e.logger.Warn("engine shutdown incomplete", zap.Error(err))
		return err
	}
	return nil
}

func storageName(cfg *config.Config, o *options) string {
	if o.memory {
		return "memory"
	}
	return cfg.Database.Driver
}

package bundle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/bundle-engine/internal/domain/bundle"
	"github.com/erp/bundle-engine/internal/domain/inventory"
	"github.com/erp/bundle-engine/internal/domain/shared"
	logging "github.com/erp/bundle-engine/internal/infrastructure/logger"
	"github.com/erp/bundle-engine/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AllocationService sells bundles: it deducts the stock of every resolved
// component in one atomic step and records the allocation so that it can be
// reversed exactly.
type AllocationService struct {
	availability   *AvailabilityService
	ledger         inventory.StockLedger
	transactions   inventory.AllocationTransactionRepository
	scope          TransactionScope
	eventPublisher shared.EventPublisher
	metrics        *telemetry.AllocationMetrics
	logger         *zap.Logger
	timeout        time.Duration
	now            func() time.Time
}

// NewAllocationService creates a new AllocationService. Reads of products,
// compositions and stock go through availability.
func NewAllocationService(
	availability *AvailabilityService,
	ledger inventory.StockLedger,
	transactions inventory.AllocationTransactionRepository,
	scope TransactionScope,
	logger *zap.Logger,
) *AllocationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AllocationService{
		availability: availability,
		ledger:       ledger,
		transactions: transactions,
		scope:        scope,
		logger:       logger.Named("allocation"),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// SetEventPublisher sets the event publisher for publishing domain events
func (s *AllocationService) SetEventPublisher(publisher shared.EventPublisher) {
	s.eventPublisher = publisher
}

// SetMetrics sets the metrics recorder
func (s *AllocationService) SetMetrics(metrics *telemetry.AllocationMetrics) {
	s.metrics = metrics
}

// SetTimeout bounds every Allocate and Reverse call; 0 means no bound
func (s *AllocationService) SetTimeout(d time.Duration) {
	s.timeout = d
}

func (s *AllocationService) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Allocate deducts the components of req.Quantity bundles. It returns
// *bundle.InsufficientStockError when stock cannot cover the request and
// *inventory.TransactionAbortedError when the atomic step failed for a
// transient reason; in both cases nothing was changed. Calls carrying an
// IdempotencyKey that was already committed return the original transaction.
func (s *AllocationService) Allocate(ctx context.Context, req AllocateRequest) (tx *inventory.AllocationTransaction, err error) {
	start := time.Now()
	ctx, span := telemetry.StartServiceSpan(ctx, "allocation", "allocate",
		telemetry.SpanBundleID.String(req.BundleID.String()),
		telemetry.SpanQuantity.Int64(req.Quantity),
	)
	defer func() { telemetry.EndSpan(span, err) }()
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var outcome string
	telemetry.WithProfilingLabels(ctx, map[string]string{"operation": "allocate"}, func(ctx context.Context) {
		tx, outcome, err = s.allocate(ctx, req)
	})
	s.metrics.RecordAllocation(ctx, req.BundleID, outcome, req.Quantity, time.Since(start))
	span.SetAttributes(telemetry.SpanOutcome.String(outcome))

	log := logging.Enrich(ctx, s.logger).With(
		zap.String("bundle_id", req.BundleID.String()),
		zap.Int64("quantity", req.Quantity),
		zap.String("outcome", outcome),
	)
	if err != nil {
		log.Info("allocation rejected", zap.Error(err))
		return nil, err
	}
	span.SetAttributes(telemetry.SpanTransactionID.String(tx.ID.String()))
	log.Info("allocation done", zap.String("transaction_id", tx.ID.String()))
	return tx, nil
}

func (s *AllocationService) allocate(ctx context.Context, req AllocateRequest) (*inventory.AllocationTransaction, string, error) {
	if err := validateRequest(req); err != nil {
		return nil, telemetry.OutcomeInvalid, err
	}
	if req.IdempotencyKey != "" {
		prior, err := s.replay(ctx, req)
		if err != nil {
			return nil, allocationOutcome(err), err
		}
		if prior != nil {
			return prior, telemetry.OutcomeReplayed, nil
		}
	}

	ev, sel, err := s.prepare(ctx, req)
	if err != nil {
		return nil, allocationOutcome(err), err
	}
	if err := insufficient(ev, req); err != nil {
		return nil, allocationOutcome(err), err
	}

	deductions, err := s.plan(ctx, ev, req)
	if errors.Is(err, inventory.ErrStockConflict) {
		err = s.recheck(ctx, ev, req, err)
	}
	if err != nil {
		return nil, allocationOutcome(err), err
	}

	delta := priceDelta(ev.resolved)
	effective := ev.product.BasePrice.Add(delta).Mul(decimal.NewFromInt(req.Quantity))

	tx, err := inventory.NewAllocationTransaction(req.BundleID, req.Quantity, sel, req.LocationID, req.IdempotencyKey)
	if err != nil {
		return nil, telemetry.OutcomeInvalid, err
	}
	tx.Reference = req.Reference
	if err := tx.Commit(deductions, delta, effective); err != nil {
		return nil, telemetry.OutcomeInvalid, err
	}

	err = s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		if err := repos.StockLedger().BatchMutate(ctx, inventory.DebitMutations(deductions), tx.IdempotencyKey); err != nil {
			return err
		}
		return repos.TransactionRepo().Create(ctx, tx)
	})
	if err != nil {
		_ = tx.Fail(err.Error())
		return s.commitFailed(ctx, ev, req, tx, err)
	}

	s.afterWrite(ctx, tx)
	return tx, telemetry.OutcomeCommitted, nil
}

// replay returns the committed transaction for req.IdempotencyKey, or nil
func (s *AllocationService) replay(ctx context.Context, req AllocateRequest) (*inventory.AllocationTransaction, error) {
	prior, err := s.transactions.FindByIdempotencyKey(ctx, req.IdempotencyKey)
	if errors.Is(err, inventory.ErrTransactionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &inventory.TransactionAbortedError{Operation: "allocate", Cause: err}
	}
	if prior.BundleProductID != req.BundleID || prior.QuantityRequested != req.Quantity {
		return nil, fmt.Errorf("%w: idempotency key %q belongs to a different allocation", bundle.ErrInvalidRequest, req.IdempotencyKey)
	}
	return prior, nil
}

// prepare loads the bundle and resolves the selection strictly: an explicit
// selection must name every edge, an empty one means the defaults.
func (s *AllocationService) prepare(ctx context.Context, req AllocateRequest) (*evaluation, bundle.Selection, error) {
	a := s.availability
	product, err := loadBundleProduct(ctx, a.products, req.BundleID)
	if err != nil {
		return nil, nil, err
	}
	if err := bundle.ValidateBundleProduct(req.BundleID, product); err != nil {
		return nil, nil, err
	}
	if !product.IsActive() {
		return nil, nil, fmt.Errorf("%w: %s", bundle.ErrBundleInactive, req.BundleID)
	}
	def, err := requireDefinition(ctx, a.compositions, req.BundleID)
	if err != nil {
		return nil, nil, err
	}

	sel := req.Selection
	if len(sel) == 0 {
		sel = def.DefaultSelection()
	}
	if err := def.ValidateSelection(sel); err != nil {
		return nil, nil, err
	}
	resolved, err := def.Resolve(sel)
	if err != nil {
		return nil, nil, err
	}

	ev := &evaluation{product: product, def: def, resolved: resolved}
	if err := a.readStock(ctx, ev, req.LocationID); err != nil {
		return nil, nil, &inventory.TransactionAbortedError{Operation: "allocate", Cause: err}
	}
	return ev, bundle.AsSelection(resolved), nil
}

func insufficient(ev *evaluation, req AllocateRequest) error {
	result, err := ev.check(req.Quantity)
	if err != nil {
		return err
	}
	if result.OK {
		return nil
	}
	return &bundle.InsufficientStockError{BundleID: req.BundleID, Quantity: req.Quantity, Shortages: result.Shortages}
}

// plan spreads each edge's demand over the stock records of its product
func (s *AllocationService) plan(ctx context.Context, ev *evaluation, req AllocateRequest) ([]inventory.Deduction, error) {
	lines := make([]inventory.DemandLine, 0, len(ev.resolved))
	for _, r := range ev.resolved {
		lines = append(lines, inventory.DemandLine{
			EdgeID:    r.Edge.ID,
			ProductID: r.ProductID,
			Quantity:  r.Edge.RequiredQuantity * req.Quantity,
		})
	}
	records, err := s.ledger.GetStockRecords(ctx, bundle.DemandProductIDs(ev.demands), req.LocationID)
	if err != nil {
		return nil, &inventory.TransactionAbortedError{Operation: "allocate", Cause: err}
	}
	return inventory.PlanDeductions(lines, records)
}

// recheck decides what a lost race means: a shortage if stock is now too
// low, otherwise a retryable abort
func (s *AllocationService) recheck(ctx context.Context, ev *evaluation, req AllocateRequest, cause error) error {
	if err := s.availability.readStock(ctx, ev, req.LocationID); err != nil {
		return &inventory.TransactionAbortedError{Operation: "allocate", Cause: errors.Join(cause, err)}
	}
	if err := insufficient(ev, req); err != nil {
		return err
	}
	return &inventory.TransactionAbortedError{Operation: "allocate", Cause: cause}
}

func (s *AllocationService) commitFailed(ctx context.Context, ev *evaluation, req AllocateRequest, tx *inventory.AllocationTransaction, err error) (*inventory.AllocationTransaction, string, error) {
	switch {
	case errors.Is(err, inventory.ErrDuplicateBatch), errors.Is(err, inventory.ErrDuplicateKey):
		// a concurrent call with the same key won
		prior, lookupErr := s.transactions.FindByIdempotencyKey(ctx, tx.IdempotencyKey)
		if lookupErr != nil {
			return nil, telemetry.OutcomeAborted, &inventory.TransactionAbortedError{Operation: "allocate", Cause: errors.Join(err, lookupErr)}
		}
		return prior, telemetry.OutcomeReplayed, nil
	case errors.Is(err, inventory.ErrStockConflict):
		err = s.recheck(ctx, ev, req, err)
		return nil, allocationOutcome(err), err
	}
	return nil, telemetry.OutcomeAborted, &inventory.TransactionAbortedError{Operation: "allocate", Cause: err}
}

// Reverse credits every deduction of a committed allocation back to the
// exact product and location it came from. A transaction is reversed at
// most once; later calls get *inventory.AlreadyReversedError.
func (s *AllocationService) Reverse(ctx context.Context, transactionID uuid.UUID) (tx *inventory.AllocationTransaction, err error) {
	start := time.Now()
	ctx, span := telemetry.StartServiceSpan(ctx, "allocation", "reverse",
		telemetry.SpanTransactionID.String(transactionID.String()),
	)
	defer func() { telemetry.EndSpan(span, err) }()
	ctx, cancel := s.bound(ctx)
	defer cancel()

	tx, err = s.reverse(ctx, transactionID)
	outcome := reversalOutcome(err)
	s.metrics.RecordReversal(ctx, outcome, time.Since(start))

	log := logging.Enrich(ctx, s.logger).With(
		zap.String("transaction_id", transactionID.String()),
		zap.String("outcome", outcome),
	)
	if err != nil {
		log.Info("reversal rejected", zap.Error(err))
		return nil, err
	}
	log.Info("allocation reversed", zap.String("bundle_id", tx.BundleProductID.String()))
	return tx, nil
}

func (s *AllocationService) reverse(ctx context.Context, transactionID uuid.UUID) (*inventory.AllocationTransaction, error) {
	tx, err := s.transactions.FindByID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, inventory.ErrTransactionNotFound) {
			return nil, err
		}
		return nil, &inventory.TransactionAbortedError{Operation: "reverse", Cause: err}
	}
	if err := tx.CanReverse(); err != nil {
		return nil, err
	}

	at := s.now()
	err = s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		if err := repos.StockLedger().BatchMutate(ctx, inventory.CreditMutations(tx.Deductions), tx.ReversalKey()); err != nil {
			return err
		}
		return repos.TransactionRepo().MarkReversed(ctx, tx.ID, at)
	})
	if err != nil {
		// a concurrent reversal won, either on the status flip or the credit batch
		if errors.Is(err, inventory.ErrAlreadyReversed) || errors.Is(err, inventory.ErrDuplicateBatch) {
			return nil, &inventory.AlreadyReversedError{TransactionID: tx.ID, Status: inventory.AllocationStatusReversed}
		}
		return nil, &inventory.TransactionAbortedError{Operation: "reverse", Cause: err}
	}

	if err := tx.MarkReversed(at); err != nil {
		return nil, err
	}
	s.afterWrite(ctx, tx)
	return tx, nil
}

// afterWrite invalidates cached availability of every bundle sharing a
// touched product and publishes the transaction's events
func (s *AllocationService) afterWrite(ctx context.Context, tx *inventory.AllocationTransaction) {
	s.availability.InvalidateProducts(ctx, tx.TouchedProductIDs())
	s.availability.InvalidateBundles(ctx, tx.BundleProductID)

	events := tx.PullDomainEvents()
	if s.eventPublisher == nil || len(events) == 0 {
		return
	}
	// handler failures are logged by the bus and never undo the allocation
	if err := s.eventPublisher.Publish(ctx, events...); err != nil {
		s.logger.Warn("failed to publish allocation events", zap.String("transaction_id", tx.ID.String()), zap.Error(err))
	}
}

// GetTransaction returns one allocation
func (s *AllocationService) GetTransaction(ctx context.Context, id uuid.UUID) (*inventory.AllocationTransaction, error) {
	return s.transactions.FindByID(ctx, id)
}

// ListTransactions pages through the allocation log, newest first unless
// q.OrderDir is "asc"
func (s *AllocationService) ListTransactions(ctx context.Context, q TransactionQuery) (*TransactionPage, error) {
	if err := validateRequest(q); err != nil {
		return nil, err
	}
	filter := q.toFilter()
	items, total, err := s.transactions.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list allocations: %w", err)
	}
	page := shared.NewPaginated(items, total, filter.Page, filter.PageSize)
	return &page, nil
}

func allocationOutcome(err error) string {
	var short *bundle.InsufficientStockError
	switch {
	case err == nil:
		return telemetry.OutcomeCommitted
	case errors.As(err, &short):
		return telemetry.OutcomeInsufficient
	case inventory.IsRetryable(err), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return telemetry.OutcomeAborted
	}
	return telemetry.OutcomeInvalid
}

func reversalOutcome(err error) string {
	switch {
	case err == nil:
		return telemetry.OutcomeReversed
	case inventory.IsRetryable(err):
		return telemetry.OutcomeAborted
	}
	return telemetry.OutcomeRejected
}

package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Outcome labels for allocation metrics.
const (
	OutcomeCommitted    = "committed"
	OutcomeReplayed     = "replayed"
	OutcomeInsufficient = "insufficient_stock"
	OutcomeInvalid      = "invalid"
	OutcomeAborted      = "aborted"
	OutcomeReversed     = "reversed"
	OutcomeRejected     = "rejected"
)

const metricOperationDuration = "bundle_operation_duration_seconds"

// ErrMeterNil is returned by NewAllocationMetrics for a nil meter.
var ErrMeterNil = errors.New("NewAllocationMetrics: meter cannot be nil")

// AllocationMetrics records allocation engine activity. All methods are
// safe on a nil receiver so services can run without metrics.
type AllocationMetrics struct {
	logger *zap.Logger

	allocations       metric.Int64Counter
	unitsAllocated    metric.Int64Counter
	reversals         metric.Int64Counter
	operationDuration metric.Float64Histogram
	availabilityReads metric.Int64Counter
	maxAvailable      metric.Int64Gauge
	postings          metric.Int64Counter
}

// NewAllocationMetrics registers the engine's instruments on meter.
func NewAllocationMetrics(meter metric.Meter, logger *zap.Logger) (*AllocationMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	am := &AllocationMetrics{logger: logger}

	var errs []error
	counter := func(name, desc, unit string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
		errs = append(errs, err)
		return c
	}
	am.allocations = counter("bundle_allocations_total", "Allocation attempts by outcome", "{allocations}")
	am.unitsAllocated = counter("bundle_units_allocated_total", "Bundle units successfully allocated", "{units}")
	am.reversals = counter("bundle_reversals_total", "Reversal attempts by outcome", "{reversals}")
	am.availabilityReads = counter("bundle_availability_reads_total", "Max-available computations by cache outcome", "{reads}")
	am.postings = counter("bundle_posting_deliveries_total", "Posting deliveries by outcome", "{deliveries}")

	var err error
	am.operationDuration, err = meter.Float64Histogram(metricOperationDuration,
		metric.WithDescription("Latency of allocate and reverse"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(EngineDurationBuckets...),
	)
	errs = append(errs, err)
	am.maxAvailable, err = meter.Int64Gauge("bundle_max_available",
		metric.WithDescription("Last computed max-available quantity per bundle"),
		metric.WithUnit("{units}"),
	)
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return am, nil
}

// RecordAllocation records one allocate call.
func (am *AllocationMetrics) RecordAllocation(ctx context.Context, bundleID uuid.UUID, outcome string, units int64, d time.Duration) {
	if am == nil {
		return
	}
	am.allocations.Add(ctx, 1, metric.WithAttributes(AttrOutcome.String(outcome)))
	if outcome == OutcomeCommitted {
		am.unitsAllocated.Add(ctx, units, metric.WithAttributes(AttrBundleID.String(bundleID.String())))
	}
	am.operationDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		AttrOperation.String("allocate"), AttrOutcome.String(outcome)))
}

// RecordReversal records one reverse call.
func (am *AllocationMetrics) RecordReversal(ctx context.Context, outcome string, d time.Duration) {
	if am == nil {
		return
	}
	am.reversals.Add(ctx, 1, metric.WithAttributes(AttrOutcome.String(outcome)))
	am.operationDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		AttrOperation.String("reverse"), AttrOutcome.String(outcome)))
}

// RecordAvailability records a max-available read.
func (am *AllocationMetrics) RecordAvailability(ctx context.Context, bundleID uuid.UUID, value int64, cacheHit bool) {
	if am == nil {
		return
	}
	am.availabilityReads.Add(ctx, 1, metric.WithAttributes(AttrCacheHit.Bool(cacheHit)))
	am.maxAvailable.Record(ctx, value, metric.WithAttributes(AttrBundleID.String(bundleID.String())))
}

// RecordPosting counts one delivery of a committed allocation to the
// posting handler, labelled delivered, duplicate, failed or unchecked.
func (am *AllocationMetrics) RecordPosting(ctx context.Context, outcome string) {
	if am == nil {
		return
	}
	am.postings.Add(ctx, 1, metric.WithAttributes(AttrOutcome.String(outcome)))
}

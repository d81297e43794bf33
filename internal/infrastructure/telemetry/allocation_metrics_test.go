package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/erp/bundle-engine/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap/zaptest"
)

func TestNewAllocationMetrics_NilMeter(t *testing.T) {
	am, err := telemetry.NewAllocationMetrics(nil, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Nil(t, am)
	assert.Equal(t, "NewAllocationMetrics: meter cannot be nil", err.Error())
}

func TestAllocationMetrics_NilReceiverIsSafe(t *testing.T) {
	var am *telemetry.AllocationMetrics
	ctx := context.Background()
	am.RecordAllocation(ctx, uuid.New(), telemetry.OutcomeCommitted, 3, time.Millisecond)
	am.RecordReversal(ctx, telemetry.OutcomeReversed, time.Millisecond)
	am.RecordAvailability(ctx, uuid.New(), 7, true)
	am.RecordPosting(ctx, "delivered")
}

func TestAllocationMetrics_NoopMeter(t *testing.T) {
	am, err := telemetry.NewAllocationMetrics(noop.NewMeterProvider().Meter("test"), nil)
	require.NoError(t, err)
	am.RecordAllocation(context.Background(), uuid.New(), telemetry.OutcomeAborted, 0, time.Second)
}

func TestAllocationMetrics_RecordsToReader(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	am, err := telemetry.NewAllocationMetrics(provider.Meter("test"), zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx := context.Background()
	bundleID := uuid.New()
	am.RecordAllocation(ctx, bundleID, telemetry.OutcomeCommitted, 3, 5*time.Millisecond)
	am.RecordAllocation(ctx, bundleID, telemetry.OutcomeInsufficient, 0, time.Millisecond)
	am.RecordPosting(ctx, "delivered")
	am.RecordPosting(ctx, "duplicate")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	sums := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if data, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range data.DataPoints {
					sums[m.Name] += dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(2), sums["bundle_allocations_total"])
	assert.Equal(t, int64(3), sums["bundle_units_allocated_total"])
	assert.Equal(t, int64(2), sums["bundle_posting_deliveries_total"])
}

func TestAllocationMetrics_ReversalAndAvailability(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	am, err := telemetry.NewAllocationMetrics(provider.Meter("test"), nil)
	require.NoError(t, err)

	ctx := context.Background()
	bundleID := uuid.New()
	am.RecordReversal(ctx, telemetry.OutcomeReversed, 2*time.Millisecond)
	am.RecordAvailability(ctx, bundleID, 7, false)
	am.RecordAvailability(ctx, bundleID, 4, true)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	var (
		gauge     int64
		histCount uint64
		reversals int64
	)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Gauge[int64]:
				if m.Name == "bundle_max_available" {
					gauge = data.DataPoints[0].Value
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					histCount += dp.Count
				}
			case metricdata.Sum[int64]:
				if m.Name == "bundle_reversals_total" {
					reversals = data.DataPoints[0].Value
				}
			}
		}
	}
	assert.Equal(t, int64(4), gauge, "gauge keeps the last value")
	assert.Equal(t, uint64(1), histCount)
	assert.Equal(t, int64(1), reversals)
}

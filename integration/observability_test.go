package integration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/datumkit/datum/health"
	"github.com/datumkit/datum/instrument"
	"github.com/datumkit/datum/repository"
)

// TestInstrumentedRepositoryWorkflow wraps the framework-wired store in the
// tracing decorator and checks that real operations, including a failing
// lookup, surface as spans and counters.
func TestInstrumentedRepositoryWorkflow(t *testing.T) {
	fw := newTestFramework(t)
	store := newShipmentStore(t, fw)

	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	repo := instrument.Repository[Shipment, string](store,
		instrument.WithTracerProvider(tp),
		instrument.WithMeterProvider(mp),
	)

	ctx := context.Background()
	saved, err := repo.Save(ctx, Shipment{Reference: "SHP-900", Carrier: "dhl", Weight: 9})
	require.NoError(t, err)
	assert.Equal(t, "it-tests", saved.CreatedBy, "auditing must survive the decorator")

	_, err = repo.FindByID(ctx, saved.ID)
	require.NoError(t, err)
	_, err = repo.FindByID(ctx, "no-such-id")
	require.ErrorIs(t, err, repository.ErrNotFound)

	ended := spans.Ended()
	require.Len(t, ended, 3)
	assert.Equal(t, "datum.repository/Save", ended[0].Name())
	assert.Equal(t, codes.Ok, ended[0].Status().Code)
	assert.Contains(t, ended[0].Attributes(), attribute.String("datum.entity", "shipments"))
	assert.Equal(t, codes.Error, ended[2].Status().Code)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "datum.repository.operations" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	assert.Equal(t, int64(3), total, "every operation should be counted once")
}

// TestHealthChecksOverRepositories probes the store directly and through
// the decorator, which forwards the entity binding used for naming.
func TestHealthChecksOverRepositories(t *testing.T) {
	fw := newTestFramework(t)
	store := newShipmentStore(t, fw)
	ctx := context.Background()

	_, err := store.Save(ctx, Shipment{Reference: "SHP-500", Carrier: "dhl", Weight: 5})
	require.NoError(t, err)

	wrapped := instrument.Repository[Shipment, string](store)
	direct := health.Repository[Shipment, string](store)
	decorated := health.Repository[Shipment, string](wrapped)

	status := health.Run(ctx, direct, decorated)
	assert.True(t, status.IsHealthy())
	assert.Equal(t, "all 2 check(s) passed", status.Message)

	probe := decorated(ctx)
	assert.Equal(t, "repository shipments holds 1 entities", probe.Message)
	assert.Equal(t, int64(1), probe.Details["count"])

	failing := func(context.Context) health.Status {
		return health.Unhealthy("backing store unreachable", nil)
	}
	status = health.Run(ctx, direct, failing)
	assert.True(t, status.IsUnhealthy())
	assert.Equal(t, []string{"backing store unreachable"}, status.Details["failed_checks"])
}

package instrument

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/goleak"

	"github.com/datumkit/datum/mapping"
	"github.com/datumkit/datum/memstore"
	"github.com/datumkit/datum/repository"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type Reading struct {
	ID    string `datum:",id"`
	Probe string
	Value float64
}

var (
	_ repository.PagingRepository[Reading, string]    = (*Instrumented[Reading, string])(nil)
	_ repository.StreamingRepository[Reading, string] = (*Instrumented[Reading, string])(nil)
	_ repository.WatchableRepository[Reading, string] = (*Instrumented[Reading, string])(nil)
)

// crudOnly narrows a store to the plain crud contract.
type crudOnly struct {
	repository.CrudRepository[Reading, string]
}

type probe struct {
	repo   *Instrumented[Reading, string]
	spans  *tracetest.SpanRecorder
	reader *sdkmetric.ManualReader
}

func newProbe(t *testing.T, opts ...Option) *probe {
	t.Helper()
	store, err := memstore.New[Reading, string](mapping.NewContext())
	require.NoError(t, err)

	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	opts = append([]Option{WithTracerProvider(tp), WithMeterProvider(mp)}, opts...)
	return &probe{
		repo:   Repository[Reading, string](store, opts...),
		spans:  spans,
		reader: reader,
	}
}

func (p *probe) collect(t *testing.T) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, p.reader.Collect(context.Background(), &rm))
	return rm
}

func findMetric(t *testing.T, rm metricdata.ResourceMetrics, name string) metricdata.Metrics {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m
			}
		}
	}
	t.Fatalf("metric %q was not collected", name)
	return metricdata.Metrics{}
}

func TestRepositorySpansOperations(t *testing.T) {
	p := newProbe(t)
	ctx := context.Background()

	saved, err := p.repo.Save(ctx, Reading{Probe: "coolant", Value: 7.5})
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)

	_, err = p.repo.FindByID(ctx, saved.ID)
	require.NoError(t, err)

	ended := p.spans.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, "datum.repository/Save", ended[0].Name())
	assert.Equal(t, "datum.repository/FindByID", ended[1].Name())
	assert.Equal(t, codes.Ok, ended[0].Status().Code)
	assert.Contains(t, ended[0].Attributes(), attribute.String("datum.entity", "readings"))
	assert.Contains(t, ended[0].Attributes(), attribute.String("datum.outcome", "ok"))
}

func TestRepositorySpanRecordsError(t *testing.T) {
	p := newProbe(t)

	_, err := p.repo.FindByID(context.Background(), "missing")
	require.ErrorIs(t, err, repository.ErrNotFound)

	ended := p.spans.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Contains(t, ended[0].Attributes(), attribute.String("datum.outcome", "error"))
	require.NotEmpty(t, ended[0].Events())
	assert.Equal(t, "exception", ended[0].Events()[0].Name)
}

func TestRepositoryCountsOperations(t *testing.T) {
	p := newProbe(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := p.repo.Save(ctx, Reading{Probe: "pressure"})
		require.NoError(t, err)
	}
	_, err := p.repo.Count(ctx)
	require.NoError(t, err)

	rm := p.collect(t)
	require.NotEmpty(t, rm.ScopeMetrics)
	assert.Equal(t, scopeName, rm.ScopeMetrics[0].Scope.Name)

	ops := findMetric(t, rm, "datum.repository.operations")
	sum, ok := ops.Data.(metricdata.Sum[int64])
	require.True(t, ok)

	var saves, counts int64
	for _, dp := range sum.DataPoints {
		v, _ := dp.Attributes.Value("datum.operation")
		switch v.AsString() {
		case "Save":
			saves += dp.Value
		case "Count":
			counts += dp.Value
		}
	}
	assert.Equal(t, int64(3), saves)
	assert.Equal(t, int64(1), counts)
}

func TestRepositoryRecordsDuration(t *testing.T) {
	p := newProbe(t)

	_, err := p.repo.Save(context.Background(), Reading{Probe: "flow"})
	require.NoError(t, err)

	rm := p.collect(t)
	m := findMetric(t, rm, "datum.repository.duration")
	assert.Equal(t, "ms", m.Unit)

	hist, ok := m.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.NotEmpty(t, hist.DataPoints)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
}

func TestRepositoryPassesPagingThrough(t *testing.T) {
	p := newProbe(t)
	ctx := context.Background()

	for _, r := range []Reading{{Probe: "a", Value: 3}, {Probe: "b", Value: 1}, {Probe: "c", Value: 2}} {
		_, err := p.repo.Save(ctx, r)
		require.NoError(t, err)
	}

	page, err := p.repo.FindPage(ctx, repository.PageRequest(0, 2).WithSort(repository.SortBy(repository.Asc("Value"))))
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.TotalElements)
	require.Len(t, page.Content, 2)
	assert.Equal(t, "b", page.Content[0].Probe)

	sorted, err := p.repo.FindAllSorted(ctx, repository.SortBy(repository.Desc("Value")))
	require.NoError(t, err)
	require.Len(t, sorted, 3)
	assert.Equal(t, "a", sorted[0].Probe)
}

func TestRepositoryPassesStreamingThrough(t *testing.T) {
	p := newProbe(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := p.repo.Save(ctx, Reading{Probe: "o2"})
		require.NoError(t, err)
	}

	items, err := p.repo.StreamAll(ctx)
	require.NoError(t, err)

	var n int
	for item := range items {
		require.NoError(t, item.Err)
		n++
	}
	assert.Equal(t, 3, n)
}

func TestRepositoryPassesWatchThrough(t *testing.T) {
	p := newProbe(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := p.repo.Watch(ctx)
	require.NoError(t, err)

	_, err = p.repo.Save(ctx, Reading{Probe: "rpm"})
	require.NoError(t, err)

	select {
	case ev := <-events:
		assert.Equal(t, repository.EventSaved, ev.Kind)
		assert.Equal(t, "rpm", ev.Entity.Probe)
	case <-time.After(2 * time.Second):
		t.Fatal("no event before timeout")
	}

	cancel()
	for range events {
	}
}

func TestRepositoryRejectsUnsupportedExtensions(t *testing.T) {
	store, err := memstore.New[Reading, string](mapping.NewContext())
	require.NoError(t, err)
	repo := Repository[Reading, string](crudOnly{store})

	_, err = repo.FindAllSorted(context.Background(), repository.SortBy(repository.Asc("Value")))
	assert.ErrorIs(t, err, errors.ErrUnsupported)
	_, err = repo.FindPage(context.Background(), repository.PageRequest(0, 10))
	assert.ErrorIs(t, err, errors.ErrUnsupported)
	_, err = repo.StreamAll(context.Background())
	assert.ErrorIs(t, err, errors.ErrUnsupported)
	_, err = repo.Watch(context.Background())
	assert.ErrorIs(t, err, errors.ErrUnsupported)

	assert.Nil(t, repo.Meta())
}

func TestRepositoryForwardsMeta(t *testing.T) {
	p := newProbe(t, WithAttributes(attribute.String("store", "memory")))

	require.NotNil(t, p.repo.Meta())
	assert.Equal(t, "readings", p.repo.Meta().Entity().Name())
	assert.NotNil(t, p.repo.Unwrap())

	_, err := p.repo.Count(context.Background())
	require.NoError(t, err)

	ended := p.spans.Ended()
	require.Len(t, ended, 1)
	assert.Contains(t, ended[0].Attributes(), attribute.String("store", "memory"))
}

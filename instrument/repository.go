package instrument

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/datumkit/datum/repository"
)

// scopeName identifies this package's tracer and meter scope.
const scopeName = "github.com/datumkit/datum/instrument"

// Option configures an instrumented repository.
type Option func(*options)

type options struct {
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	attrs          []attribute.KeyValue
}

// WithTracerProvider sets the provider spans are started from. The
// global otel provider is used by default.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracerProvider = tp
		}
	}
}

// WithMeterProvider sets the provider metrics are recorded through. The
// global otel provider is used by default.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		if mp != nil {
			o.meterProvider = mp
		}
	}
}

// WithAttributes adds attributes to every span and metric data point
// the instrumented repository emits.
func WithAttributes(attrs ...attribute.KeyValue) Option {
	return func(o *options) {
		o.attrs = append(o.attrs, attrs...)
	}
}

// Instrumented decorates a repository with OpenTelemetry spans and
// metrics. It satisfies the paging, streaming and watchable contracts
// by delegating to the base repository; extended operations the base
// does not provide fail with errors.ErrUnsupported.
type Instrumented[T any, ID comparable] struct {
	base   repository.CrudRepository[T, ID]
	tracer trace.Tracer
	attrs  []attribute.KeyValue

	operations metric.Int64Counter
	duration   metric.Float64Histogram
}

// Repository wraps base with instrumentation. Spans are named
// datum.repository/<operation>; the operation counter and the duration
// histogram carry the entity name, the operation and the outcome, plus
// any attributes from WithAttributes.
func Repository[T any, ID comparable](base repository.CrudRepository[T, ID], opts ...Option) *Instrumented[T, ID] {
	o := options{
		tracerProvider: otel.GetTracerProvider(),
		meterProvider:  otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	attrs := make([]attribute.KeyValue, 0, len(o.attrs)+1)
	attrs = append(attrs, attribute.String("datum.entity", entityName(base)))
	attrs = append(attrs, o.attrs...)

	i := &Instrumented[T, ID]{
		base:   base,
		tracer: o.tracerProvider.Tracer(scopeName),
		attrs:  attrs,
	}

	meter := o.meterProvider.Meter(scopeName)
	var err error
	i.operations, err = meter.Int64Counter(
		"datum.repository.operations",
		metric.WithDescription("Number of repository operations executed"),
		metric.WithUnit("1"),
	)
	if err != nil {
		otel.Handle(err)
		i.operations = noop.Int64Counter{}
	}
	i.duration, err = meter.Float64Histogram(
		"datum.repository.duration",
		metric.WithDescription("Repository operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		otel.Handle(err)
		i.duration = noop.Float64Histogram{}
	}
	return i
}

// entityName resolves the wrapped repository's entity name from its
// lifecycle metadata, falling back to the entity type's name.
func entityName[T any, ID comparable](base repository.CrudRepository[T, ID]) string {
	if h, ok := base.(interface{ Meta() *repository.Meta[T, ID] }); ok {
		if m := h.Meta(); m != nil {
			return m.Entity().Name()
		}
	}
	var zero T
	return fmt.Sprintf("%T", zero)
}

// Unwrap returns the repository the instrumentation was layered over.
func (i *Instrumented[T, ID]) Unwrap() repository.CrudRepository[T, ID] {
	return i.base
}

// Meta exposes the base repository's lifecycle metadata when it
// provides some, so introspection keeps working through the decorator.
func (i *Instrumented[T, ID]) Meta() *repository.Meta[T, ID] {
	if h, ok := i.base.(interface{ Meta() *repository.Meta[T, ID] }); ok {
		return h.Meta()
	}
	return nil
}

// start opens the span for one operation. The returned func records the
// outcome, closes the span and feeds both metric instruments.
func (i *Instrumented[T, ID]) start(ctx context.Context, op string) (context.Context, func(error)) {
	began := time.Now()
	ctx, span := i.tracer.Start(ctx, "datum.repository/"+op)
	span.SetAttributes(i.attrs...)
	return ctx, func(err error) {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.SetAttributes(attribute.String("datum.outcome", outcome))
		span.End()

		kv := make([]attribute.KeyValue, 0, len(i.attrs)+2)
		kv = append(kv, i.attrs...)
		kv = append(kv,
			attribute.String("datum.operation", op),
			attribute.String("datum.outcome", outcome),
		)
		set := metric.WithAttributes(kv...)
		i.operations.Add(ctx, 1, set)
		i.duration.Record(ctx, float64(time.Since(began))/float64(time.Millisecond), set)
	}
}

func unsupported(op string) error {
	return fmt.Errorf("instrument: %s: %w", op, errors.ErrUnsupported)
}

func (i *Instrumented[T, ID]) Save(ctx context.Context, entity T) (T, error) {
	ctx, done := i.start(ctx, "Save")
	saved, err := i.base.Save(ctx, entity)
	done(err)
	return saved, err
}

func (i *Instrumented[T, ID]) SaveAll(ctx context.Context, entities []T) ([]T, error) {
	ctx, done := i.start(ctx, "SaveAll")
	saved, err := i.base.SaveAll(ctx, entities)
	done(err)
	return saved, err
}

func (i *Instrumented[T, ID]) FindByID(ctx context.Context, id ID) (T, error) {
	ctx, done := i.start(ctx, "FindByID")
	found, err := i.base.FindByID(ctx, id)
	done(err)
	return found, err
}

func (i *Instrumented[T, ID]) FindAll(ctx context.Context) ([]T, error) {
	ctx, done := i.start(ctx, "FindAll")
	found, err := i.base.FindAll(ctx)
	done(err)
	return found, err
}

func (i *Instrumented[T, ID]) FindAllByID(ctx context.Context, ids []ID) ([]T, error) {
	ctx, done := i.start(ctx, "FindAllByID")
	found, err := i.base.FindAllByID(ctx, ids)
	done(err)
	return found, err
}

func (i *Instrumented[T, ID]) ExistsByID(ctx context.Context, id ID) (bool, error) {
	ctx, done := i.start(ctx, "ExistsByID")
	exists, err := i.base.ExistsByID(ctx, id)
	done(err)
	return exists, err
}

func (i *Instrumented[T, ID]) Count(ctx context.Context) (int64, error) {
	ctx, done := i.start(ctx, "Count")
	n, err := i.base.Count(ctx)
	done(err)
	return n, err
}

func (i *Instrumented[T, ID]) DeleteByID(ctx context.Context, id ID) error {
	ctx, done := i.start(ctx, "DeleteByID")
	err := i.base.DeleteByID(ctx, id)
	done(err)
	return err
}

func (i *Instrumented[T, ID]) Delete(ctx context.Context, entity T) error {
	ctx, done := i.start(ctx, "Delete")
	err := i.base.Delete(ctx, entity)
	done(err)
	return err
}

func (i *Instrumented[T, ID]) DeleteAllByID(ctx context.Context, ids []ID) error {
	ctx, done := i.start(ctx, "DeleteAllByID")
	err := i.base.DeleteAllByID(ctx, ids)
	done(err)
	return err
}

func (i *Instrumented[T, ID]) DeleteAll(ctx context.Context) error {
	ctx, done := i.start(ctx, "DeleteAll")
	err := i.base.DeleteAll(ctx)
	done(err)
	return err
}

// FindAllSorted delegates to the base repository's paging contract.
func (i *Instrumented[T, ID]) FindAllSorted(ctx context.Context, sort repository.Sort) ([]T, error) {
	paging, ok := i.base.(repository.PagingRepository[T, ID])
	if !ok {
		return nil, unsupported("FindAllSorted")
	}
	ctx, done := i.start(ctx, "FindAllSorted")
	found, err := paging.FindAllSorted(ctx, sort)
	done(err)
	return found, err
}

// FindPage delegates to the base repository's paging contract.
func (i *Instrumented[T, ID]) FindPage(ctx context.Context, page repository.Pageable) (repository.Page[T], error) {
	paging, ok := i.base.(repository.PagingRepository[T, ID])
	if !ok {
		return repository.Page[T]{}, unsupported("FindPage")
	}
	ctx, done := i.start(ctx, "FindPage")
	result, err := paging.FindPage(ctx, page)
	done(err)
	return result, err
}

// StreamAll delegates to the base repository's streaming contract. The
// span covers opening the stream, not its consumption.
func (i *Instrumented[T, ID]) StreamAll(ctx context.Context) (<-chan repository.Item[T], error) {
	streaming, ok := i.base.(repository.StreamingRepository[T, ID])
	if !ok {
		return nil, unsupported("StreamAll")
	}
	ctx, done := i.start(ctx, "StreamAll")
	items, err := streaming.StreamAll(ctx)
	done(err)
	return items, err
}

// Watch delegates to the base repository's watchable contract. The span
// covers establishing the watch, not the events it delivers.
func (i *Instrumented[T, ID]) Watch(ctx context.Context) (<-chan repository.Event[T, ID], error) {
	watchable, ok := i.base.(repository.WatchableRepository[T, ID])
	if !ok {
		return nil, unsupported("Watch")
	}
	ctx, done := i.start(ctx, "Watch")
	events, err := watchable.Watch(ctx)
	done(err)
	return events, err
}

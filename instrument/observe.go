package instrument

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/datumkit/datum/mapping"
)

// ObserveMapping registers an observable gauge reporting how many entity
// types mctx manages. The gauge follows registrations as they happen;
// unregistering the returned registration stops the observation. A nil
// provider falls back to the global one.
func ObserveMapping(provider metric.MeterProvider, mctx *mapping.Context) (metric.Registration, error) {
	if mctx == nil {
		return nil, errors.New("instrument: nil mapping context")
	}
	if provider == nil {
		provider = otel.GetMeterProvider()
	}

	meter := provider.Meter(scopeName)
	gauge, err := meter.Int64ObservableGauge(
		"datum.mapping.entities",
		metric.WithDescription("Number of entity types managed by the mapping context"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("instrument: create mapping gauge: %w", err)
	}

	reg, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(gauge, int64(mctx.Len()))
		return nil
	}, gauge)
	if err != nil {
		return nil, fmt.Errorf("instrument: observe mapping gauge: %w", err)
	}
	return reg, nil
}

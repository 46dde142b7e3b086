// Package instrument decorates repositories with OpenTelemetry spans
// and metrics.
//
// Repository wraps any repository.CrudRepository. Each operation runs
// inside a span named datum.repository/<operation> and feeds an
// operation counter plus a duration histogram, all tagged with the
// entity name and the outcome:
//
//	repo := instrument.Repository[Order, string](store,
//	    instrument.WithTracerProvider(tp),
//	    instrument.WithMeterProvider(mp),
//	)
//
// The wrapper passes the paging, streaming and watchable contracts
// through when the base repository implements them; calling an extended
// operation the base lacks fails with errors.ErrUnsupported.
//
// ObserveMapping registers a gauge of managed entity types so a
// dashboard can watch a mapping context fill up as prototypes register.
package instrument

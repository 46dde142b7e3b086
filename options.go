package datum

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/datumkit/datum/audit"
	"github.com/datumkit/datum/mapping"
	"github.com/datumkit/datum/populate"
)

// FrameworkOption configures the Framework.
type FrameworkOption func(*frameworkConfig)

// frameworkConfig holds configuration for a Framework instance.
type frameworkConfig struct {
	logger          *slog.Logger
	clock           func() time.Time
	auditorProvider audit.AuditorProvider
	modifyOnCreate  *bool
	mappingOpts     []mapping.ContextOption
	validation      bool
	populators      []*populate.Populator
	tracerProvider  trace.TracerProvider
	meterProvider   metric.MeterProvider
}

// WithLogger sets the framework logger. A JSON logger writing to stdout
// at info level is used by default.
func WithLogger(logger *slog.Logger) FrameworkOption {
	return func(c *frameworkConfig) {
		c.logger = logger
	}
}

// WithClock replaces the time source audit stamps are taken from. The
// default is time.Now.
func WithClock(clock func() time.Time) FrameworkOption {
	return func(c *frameworkConfig) {
		c.clock = clock
	}
}

// WithAuditorProvider sets the source of the current principal for
// createdby and modifiedby properties. Without a provider those
// properties are left untouched.
func WithAuditorProvider(p audit.AuditorProvider) FrameworkOption {
	return func(c *frameworkConfig) {
		c.auditorProvider = p
	}
}

// WithModifyOnCreate controls whether creating an entity also stamps its
// modification properties. Enabled by default.
func WithModifyOnCreate(enabled bool) FrameworkOption {
	return func(c *frameworkConfig) {
		c.modifyOnCreate = &enabled
	}
}

// WithMappingOptions passes options through to the mapping context, for
// naming strategies, simple types and mapping config overrides.
func WithMappingOptions(opts ...mapping.ContextOption) FrameworkOption {
	return func(c *frameworkConfig) {
		c.mappingOpts = append(c.mappingOpts, opts...)
	}
}

// WithValidation registers the validation callback, so saves reject
// entities that fail their validation rules before anything is written.
func WithValidation() FrameworkOption {
	return func(c *frameworkConfig) {
		c.validation = true
	}
}

// WithPopulator adds a populator run by Populate and watched by Watch.
// The option may be repeated.
func WithPopulator(p *populate.Populator) FrameworkOption {
	return func(c *frameworkConfig) {
		if p != nil {
			c.populators = append(c.populators, p)
		}
	}
}

// WithTracerProvider sets the tracer provider handed to repository
// instrumentation via TracerProvider.
func WithTracerProvider(tp trace.TracerProvider) FrameworkOption {
	return func(c *frameworkConfig) {
		c.tracerProvider = tp
	}
}

// WithMeterProvider sets the meter provider handed to repository
// instrumentation via MeterProvider. When set, the framework also
// registers a gauge of managed entity types.
func WithMeterProvider(mp metric.MeterProvider) FrameworkOption {
	return func(c *frameworkConfig) {
		c.meterProvider = mp
	}
}

package datum

import (
	"log/slog"
	"os"
	"testing"
	"time"

	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/datumkit/datum/audit"
	"github.com/datumkit/datum/mapping"
	"github.com/datumkit/datum/populate"
)

func TestFrameworkOptions(t *testing.T) {
	t.Run("WithLogger", func(t *testing.T) {
		logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
		cfg := &frameworkConfig{}
		WithLogger(logger)(cfg)

		if cfg.logger != logger {
			t.Error("expected logger to be set")
		}
	})

	t.Run("WithClock", func(t *testing.T) {
		fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
		cfg := &frameworkConfig{}
		WithClock(func() time.Time { return fixed })(cfg)

		if cfg.clock == nil || !cfg.clock().Equal(fixed) {
			t.Error("expected clock to return the fixed time")
		}
	})

	t.Run("WithAuditorProvider", func(t *testing.T) {
		cfg := &frameworkConfig{}
		WithAuditorProvider(audit.StaticAuditor("tester"))(cfg)

		if cfg.auditorProvider == nil {
			t.Error("expected auditor provider to be set")
		}
	})

	t.Run("WithModifyOnCreate", func(t *testing.T) {
		cfg := &frameworkConfig{}
		WithModifyOnCreate(false)(cfg)

		if cfg.modifyOnCreate == nil || *cfg.modifyOnCreate {
			t.Error("expected modify-on-create to be disabled")
		}
	})

	t.Run("WithMappingOptions", func(t *testing.T) {
		cfg := &frameworkConfig{}
		WithMappingOptions(mapping.WithNaming(mapping.SnakeNaming{}))(cfg)
		WithMappingOptions(mapping.WithConfig(nil))(cfg)

		if len(cfg.mappingOpts) != 2 {
			t.Errorf("expected 2 mapping options, got %d", len(cfg.mappingOpts))
		}
	})

	t.Run("WithValidation", func(t *testing.T) {
		cfg := &frameworkConfig{}
		WithValidation()(cfg)

		if !cfg.validation {
			t.Error("expected validation to be enabled")
		}
	})

	t.Run("WithPopulator", func(t *testing.T) {
		cfg := &frameworkConfig{}
		WithPopulator(populate.New())(cfg)
		WithPopulator(nil)(cfg)

		if len(cfg.populators) != 1 {
			t.Errorf("expected nil populator to be ignored, got %d", len(cfg.populators))
		}
	})

	t.Run("WithTracerProvider", func(t *testing.T) {
		cfg := &frameworkConfig{}
		WithTracerProvider(tracenoop.NewTracerProvider())(cfg)

		if cfg.tracerProvider == nil {
			t.Error("expected tracer provider to be set")
		}
	})

	t.Run("WithMeterProvider", func(t *testing.T) {
		cfg := &frameworkConfig{}
		WithMeterProvider(metricnoop.NewMeterProvider())(cfg)

		if cfg.meterProvider == nil {
			t.Error("expected meter provider to be set")
		}
	})
}

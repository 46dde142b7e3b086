package datum

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/datumkit/datum/audit"
	"github.com/datumkit/datum/callback"
	"github.com/datumkit/datum/instrument"
	"github.com/datumkit/datum/mapping"
	"github.com/datumkit/datum/populate"
	"github.com/datumkit/datum/validate"
)

// Framework bundles the mapping context, the callback dispatcher and the
// auditing handler behind one facade, so an application wires the object
// mapping layer in one place and hands the pieces to its storage
// adapters.
type Framework interface {
	// Mapping returns the entity metadata registry.
	Mapping() *mapping.Context

	// Callbacks returns the lifecycle callback dispatcher. Auditing is
	// pre-registered; validation is too when WithValidation was given.
	Callbacks() *callback.Dispatcher

	// Auditing returns the audit handler for manual stamping.
	Auditing() *audit.Handler

	// Logger returns the framework logger.
	Logger() *slog.Logger

	// TracerProvider returns the configured tracer provider, or nil.
	TracerProvider() trace.TracerProvider

	// MeterProvider returns the configured meter provider, or nil.
	MeterProvider() metric.MeterProvider

	// Register eagerly discovers metadata for the given prototypes,
	// failing on the first mapping error.
	Register(prototypes ...any) error

	// Populate runs every configured populator once.
	Populate(ctx context.Context) error

	// Watch starts a resource watcher per configured populator, so edits
	// to fixture files repopulate their repositories. Watchers run until
	// Close.
	Watch(ctx context.Context) error

	// Close stops watchers and releases framework resources. It is safe
	// to call more than once.
	Close() error
}

// NewFramework creates a framework instance.
//
// Example:
//
//	fw, err := datum.NewFramework(
//	    datum.WithLogger(logger),
//	    datum.WithValidation(),
//	    datum.WithAuditorProvider(audit.ContextAuditor{}),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer fw.Close()
func NewFramework(opts ...FrameworkOption) (Framework, error) {
	cfg := &frameworkConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.logger == nil {
		cfg.logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	mappingOpts := make([]mapping.ContextOption, 0, len(cfg.mappingOpts)+1)
	mappingOpts = append(mappingOpts, mapping.WithLogger(cfg.logger))
	mappingOpts = append(mappingOpts, cfg.mappingOpts...)
	mctx := mapping.NewContext(mappingOpts...)

	var auditOpts []audit.HandlerOption
	if cfg.clock != nil {
		auditOpts = append(auditOpts, audit.WithClock(cfg.clock))
	}
	if cfg.auditorProvider != nil {
		auditOpts = append(auditOpts, audit.WithAuditorProvider(cfg.auditorProvider))
	}
	if cfg.modifyOnCreate != nil {
		auditOpts = append(auditOpts, audit.WithModifyOnCreate(*cfg.modifyOnCreate))
	}
	handler := audit.NewHandler(mctx, auditOpts...)

	dispatcher := callback.NewDispatcher()
	regs := []callback.Registration{handler.Callback()}
	if cfg.validation {
		regs = append(regs, validate.Callback())
	}
	if err := dispatcher.Add(regs...); err != nil {
		return nil, E("NewFramework", KindConfiguration, fmt.Errorf("%w: %w", ErrInvalidConfig, err))
	}

	f := &defaultFramework{
		logger:         cfg.logger,
		mapping:        mctx,
		callbacks:      dispatcher,
		auditing:       handler,
		populators:     cfg.populators,
		tracerProvider: cfg.tracerProvider,
		meterProvider:  cfg.meterProvider,
	}

	if cfg.meterProvider != nil {
		reg, err := instrument.ObserveMapping(cfg.meterProvider, mctx)
		if err != nil {
			return nil, E("NewFramework", KindConfiguration, err)
		}
		f.gauge = reg
	}

	f.logger.Debug("framework ready",
		slog.Bool("validation", cfg.validation),
		slog.Int("populators", len(cfg.populators)),
	)
	return f, nil
}

// defaultFramework is the concrete implementation of Framework.
type defaultFramework struct {
	logger         *slog.Logger
	mapping        *mapping.Context
	callbacks      *callback.Dispatcher
	auditing       *audit.Handler
	populators     []*populate.Populator
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	mu       sync.Mutex
	watchers []*populate.Watcher
	gauge    metric.Registration
	closed   bool
}

func (f *defaultFramework) Mapping() *mapping.Context {
	return f.mapping
}

func (f *defaultFramework) Callbacks() *callback.Dispatcher {
	return f.callbacks
}

func (f *defaultFramework) Auditing() *audit.Handler {
	return f.auditing
}

func (f *defaultFramework) Logger() *slog.Logger {
	return f.logger
}

func (f *defaultFramework) TracerProvider() trace.TracerProvider {
	return f.tracerProvider
}

func (f *defaultFramework) MeterProvider() metric.MeterProvider {
	return f.meterProvider
}

func (f *defaultFramework) Register(prototypes ...any) error {
	if err := f.mapping.Register(prototypes...); err != nil {
		return E("Framework.Register", KindMapping, fmt.Errorf("%w: %w", ErrNotManaged, err))
	}
	return nil
}

func (f *defaultFramework) Populate(ctx context.Context) error {
	for _, p := range f.populators {
		if err := p.Run(ctx); err != nil {
			return E("Framework.Populate", KindStorage, err)
		}
	}
	return nil
}

func (f *defaultFramework) Watch(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return E("Framework.Watch", KindInternal, errors.New("framework is closed"))
	}
	if len(f.watchers) > 0 {
		return E("Framework.Watch", KindInternal, errors.New("already watching"))
	}

	for _, p := range f.populators {
		w := populate.NewWatcher(p)
		if err := w.Start(ctx); err != nil {
			// Watchers started before the failure run until Close.
			return E("Framework.Watch", KindStorage, err)
		}
		f.watchers = append(f.watchers, w)
	}

	f.logger.Info("watching populate resources",
		slog.Int("watchers", len(f.watchers)),
	)
	return nil
}

func (f *defaultFramework) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true

	for _, w := range f.watchers {
		w.Stop()
	}
	f.watchers = nil

	if f.gauge != nil {
		if err := f.gauge.Unregister(); err != nil {
			f.logger.Warn("failed to unregister mapping gauge", "error", err)
		}
		f.gauge = nil
	}

	f.logger.Debug("framework closed")
	return nil
}

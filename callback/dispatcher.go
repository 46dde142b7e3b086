package callback

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"sort"
	"sync"
)

// Func is a lifecycle callback. It receives the entity and returns the
// entity to continue the chain with, usually the same one.
type Func func(ctx context.Context, entity any) (any, error)

// Option configures a single registration.
type Option func(*registration)

// WithOrder positions the callback within its phase. Lower runs first;
// the default is 0 and registration order breaks ties.
func WithOrder(order int) Option {
	return func(r *registration) { r.order = order }
}

// WithName labels the callback for error attribution.
func WithName(name string) Option {
	return func(r *registration) { r.name = name }
}

// Registration bundles the arguments of Register so components can hand
// pre-built callbacks around.
type Registration struct {
	Phase     Phase
	Prototype any
	Fn        Func
	Options   []Option
}

type registration struct {
	typ   reflect.Type
	fn    Func
	order int
	name  string
	seq   int
}

// Dispatcher routes entities through ordered, type-filtered callbacks.
// Registration and dispatch are safe for concurrent use.
type Dispatcher struct {
	mu   sync.RWMutex
	regs map[Phase][]*registration
	seq  int
}

// NewDispatcher returns a dispatcher with no callbacks registered.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{regs: make(map[Phase][]*registration)}
}

// Register adds a callback for one phase. The prototype decides which
// entities the callback sees: a struct or struct pointer matches that
// struct regardless of pointer-ness, a pointer-to-interface prototype
// matches implementations, and (*any)(nil) matches everything.
func (d *Dispatcher) Register(phase Phase, prototype any, fn Func, opts ...Option) error {
	if !phase.Valid() {
		return fmt.Errorf("%w: %q", ErrPhase, phase)
	}
	if fn == nil {
		return fmt.Errorf("%w: nil callback", ErrPrototype)
	}
	t := reflect.TypeOf(prototype)
	if t == nil {
		return fmt.Errorf("%w: nil prototype (use (*any)(nil) to match all entities)", ErrPrototype)
	}
	if t.Kind() == reflect.Pointer && t.Elem().Kind() == reflect.Interface {
		t = t.Elem()
	}

	r := &registration{typ: t, fn: fn}
	for _, opt := range opts {
		opt(r)
	}
	if r.name == "" {
		r.name = runtime.FuncForPC(reflect.ValueOf(fn).Pointer()).Name()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	r.seq = d.seq
	d.seq++
	regs := append(d.regs[phase], r)
	sort.SliceStable(regs, func(i, j int) bool { return regs[i].order < regs[j].order })
	d.regs[phase] = regs
	return nil
}

// Add registers pre-built callback bundles, stopping at the first error.
func (d *Dispatcher) Add(regs ...Registration) error {
	for _, r := range regs {
		if err := d.Register(r.Phase, r.Prototype, r.Fn, r.Options...); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of callbacks registered for a phase.
func (d *Dispatcher) Count(phase Phase) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.regs[phase])
}

// Dispatch runs the matching callbacks for a phase in order. Each callback
// may replace the entity as long as the dynamic type stays identical; the
// first error aborts the chain with the callback's name attached. With no
// matching callbacks the entity comes back unchanged.
func (d *Dispatcher) Dispatch(ctx context.Context, phase Phase, entity any) (any, error) {
	if !phase.Valid() {
		return entity, fmt.Errorf("%w: %q", ErrPhase, phase)
	}
	if entity == nil {
		return nil, nil
	}

	d.mu.RLock()
	regs := make([]*registration, len(d.regs[phase]))
	copy(regs, d.regs[phase])
	d.mu.RUnlock()

	et := reflect.TypeOf(entity)
	cur := entity
	for _, r := range regs {
		if !matches(et, r.typ) {
			continue
		}
		out, err := r.fn(ctx, cur)
		if err != nil {
			return cur, fmt.Errorf("%s callback %q: %w", phase, r.name, err)
		}
		if out == nil || reflect.TypeOf(out) != et {
			return cur, fmt.Errorf("%w: %s callback %q returned %T, want %s", ErrTypeChanged, phase, r.name, out, et)
		}
		cur = out
	}
	return cur, nil
}

// Outcome carries the result of an asynchronous dispatch.
type Outcome struct {
	Entity any
	Err    error
}

// DispatchAsync runs Dispatch on its own goroutine and delivers a single
// Outcome on the returned channel, which is buffered and closed after the
// send. A context that ends before the callbacks finish wins.
func (d *Dispatcher) DispatchAsync(ctx context.Context, phase Phase, entity any) <-chan Outcome {
	out := make(chan Outcome, 1)
	go func() {
		defer close(out)
		e, err := d.Dispatch(ctx, phase, entity)
		if cerr := ctx.Err(); cerr != nil {
			out <- Outcome{Entity: entity, Err: cerr}
			return
		}
		out <- Outcome{Entity: e, Err: err}
	}()
	return out
}

// On registers a typed callback. T is usually a pointer type (*User); when
// T is a value type and the dispatched entity is a pointer to it, the
// result is written back through that pointer so entity identity holds.
func On[T any](d *Dispatcher, phase Phase, fn func(ctx context.Context, entity T) (T, error), opts ...Option) error {
	proto := reflect.TypeOf((*T)(nil)).Elem()
	wrapped := func(ctx context.Context, e any) (any, error) {
		if tv, ok := e.(T); ok {
			out, err := fn(ctx, tv)
			if err != nil {
				return nil, err
			}
			return out, nil
		}
		// Pointer entity, value-typed T.
		rv := reflect.ValueOf(e)
		if rv.Kind() == reflect.Pointer && !rv.IsNil() {
			if tv, ok := rv.Elem().Interface().(T); ok {
				out, err := fn(ctx, tv)
				if err != nil {
					return nil, err
				}
				rv.Elem().Set(reflect.ValueOf(out))
				return e, nil
			}
		}
		return nil, fmt.Errorf("%w: %T does not match %s", ErrPrototype, e, proto)
	}

	if proto.Kind() == reflect.Interface {
		// Hand Register a *iface so the interface itself is the filter.
		return d.Register(phase, reflect.New(proto).Interface(), wrapped, opts...)
	}
	return d.Register(phase, reflect.Zero(proto).Interface(), wrapped, opts...)
}

// matches reports whether an entity's dynamic type passes a registration
// filter.
func matches(et, rt reflect.Type) bool {
	if rt.Kind() == reflect.Interface {
		return et.Implements(rt)
	}
	if derefType(et) == derefType(rt) {
		return true
	}
	return et.AssignableTo(rt)
}

func derefType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

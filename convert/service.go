package convert

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
)

// ErrCannotConvert is the sentinel wrapped by all conversion failures.
// Use errors.Is to detect it regardless of the source and target types
// involved.
var ErrCannotConvert = errors.New("convert: cannot convert value")

// Service converts arbitrary values to a requested target type. It is the
// contract the mapping accessors and entity instantiation code against; the
// Registry type provides the default implementation.
type Service interface {
	// Convert returns value converted to the target type, or an error
	// wrapping ErrCannotConvert when no conversion applies.
	Convert(value any, target reflect.Type) (any, error)
}

// ConvertFunc converts a single value. The input is guaranteed to have the
// dynamic type the function was registered for.
type ConvertFunc func(value any) (any, error)

type pair struct {
	from reflect.Type
	to   reflect.Type
}

// Registry is the default Service implementation. Custom conversions
// registered via Register are consulted before the built-in rules.
type Registry struct {
	mu     sync.RWMutex
	custom map[pair]ConvertFunc
}

// NewRegistry returns an empty Registry ready for use. The built-in rules
// documented on the package are always active.
func NewRegistry() *Registry {
	return &Registry{custom: make(map[pair]ConvertFunc)}
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the shared process-wide registry. Libraries should treat it
// as read-only; applications may register additional conversions on it during
// startup.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// Register installs a custom conversion for the (from, to) type pair,
// replacing any previous registration for the same pair.
func (r *Registry) Register(from, to reflect.Type, fn ConvertFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.custom[pair{from: from, to: to}] = fn
}

// Convert implements Service.
func (r *Registry) Convert(value any, target reflect.Type) (any, error) {
	if target == nil {
		return nil, fmt.Errorf("%w: nil target type", ErrCannotConvert)
	}

	if value == nil {
		return zeroForNil(target)
	}

	rv := reflect.ValueOf(value)

	// Custom conversions win over everything else.
	if fn := r.lookup(rv.Type(), target); fn != nil {
		return fn(value)
	}

	// Identity and assignability.
	if rv.Type() == target || rv.Type().AssignableTo(target) {
		return value, nil
	}

	// Wrap into a pointer target by converting to the element type first.
	if target.Kind() == reflect.Pointer {
		elem, err := r.Convert(value, target.Elem())
		if err != nil {
			return nil, err
		}
		pv := reflect.New(target.Elem())
		pv.Elem().Set(reflect.ValueOf(elem))
		return pv.Interface(), nil
	}

	// Unwrap a pointer source and retry.
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return zeroForNil(target)
		}
		return r.Convert(rv.Elem().Interface(), target)
	}

	if out, ok, err := builtinConvert(rv, target); ok {
		return out, err
	}

	return nil, fmt.Errorf("%w: %s to %s", ErrCannotConvert, rv.Type(), target)
}

func (r *Registry) lookup(from, to reflect.Type) ConvertFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.custom[pair{from: from, to: to}]
}

// zeroForNil maps a nil source onto a target type. Nilable targets receive
// their typed zero value; value targets cannot represent nil.
func zeroForNil(target reflect.Type) (any, error) {
	switch target.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Interface, reflect.Chan, reflect.Func:
		return reflect.Zero(target).Interface(), nil
	default:
		return nil, fmt.Errorf("%w: nil to %s", ErrCannotConvert, target)
	}
}

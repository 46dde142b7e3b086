package mapping

import (
	"reflect"
	"time"

	"github.com/google/uuid"
)

var (
	timeType     = reflect.TypeOf(time.Time{})
	durationType = reflect.TypeOf(time.Duration(0))
	uuidType     = reflect.TypeOf(uuid.UUID{})
)

// SimpleTypes decides which Go types the mapping layer treats as atomic
// values rather than candidates for nested entity discovery. The default set
// covers booleans, strings, all numeric kinds, time.Time, time.Duration and
// uuid.UUID; additional types are added per Context via WithSimpleTypes.
type SimpleTypes struct {
	extra map[reflect.Type]struct{}
}

// NewSimpleTypes returns the default holder extended with the given types.
func NewSimpleTypes(extra ...reflect.Type) *SimpleTypes {
	s := &SimpleTypes{extra: make(map[reflect.Type]struct{}, len(extra))}
	for _, t := range extra {
		s.extra[t] = struct{}{}
	}
	return s
}

// IsSimple reports whether t, after pointer unwrapping, is an atomic value
// type.
func (s *SimpleTypes) IsSimple(t reflect.Type) bool {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if _, ok := s.extra[t]; ok {
		return true
	}
	switch t {
	case timeType, durationType, uuidType:
		return true
	}
	switch t.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64,
		reflect.Complex64, reflect.Complex128:
		return true
	}
	return false
}

// leafType unwraps pointers, slices, arrays and map values down to the
// element type, so *[]*Address resolves to Address.
func leafType(t reflect.Type) reflect.Type {
	for {
		switch t.Kind() {
		case reflect.Pointer, reflect.Slice, reflect.Array, reflect.Map:
			t = t.Elem()
		default:
			return t
		}
	}
}

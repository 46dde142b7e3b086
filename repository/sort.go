package repository

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/datumkit/datum/mapping"
)

// ApplySort orders entities in place by the sort's properties, resolved
// through mapping metadata. Strings, booleans, numeric kinds and
// time.Time values compare naturally; anything else falls back to its
// formatted string. Nil pointers sort before non-nil values.
func ApplySort[T any](entity *mapping.Entity, items []T, s Sort) error {
	if !s.IsSorted() || len(items) < 2 {
		return nil
	}
	props, err := sortProperties(entity, s)
	if err != nil {
		return err
	}
	sort.SliceStable(items, func(i, j int) bool {
		for k, p := range props {
			a := propertyValue(p, items[i])
			b := propertyValue(p, items[j])
			c := compareValues(a, b)
			if c == 0 {
				continue
			}
			if s.Orders[k].Direction == Descending {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	return nil
}

// Paginate slices a fully loaded, already sorted result set into one
// page. A size of zero or less returns everything as a single page.
func Paginate[T any](items []T, page Pageable) Page[T] {
	total := int64(len(items))
	if page.Size <= 0 {
		content := make([]T, len(items))
		copy(content, items)
		return Page[T]{Content: content, Number: 0, Size: len(items), TotalElements: total}
	}
	start := page.Offset()
	if start < 0 {
		start = 0
	}
	if start > len(items) {
		start = len(items)
	}
	end := start + page.Size
	if end > len(items) {
		end = len(items)
	}
	content := make([]T, end-start)
	copy(content, items[start:end])
	return Page[T]{Content: content, Number: page.Page, Size: page.Size, TotalElements: total}
}

func sortProperties(entity *mapping.Entity, s Sort) ([]*mapping.Property, error) {
	props := make([]*mapping.Property, len(s.Orders))
	for i, o := range s.Orders {
		p, ok := entity.Property(o.Property)
		if !ok {
			p, ok = entity.PropertyByStorageName(o.Property)
		}
		if !ok {
			return nil, fmt.Errorf("%w: sort property %q on %s", mapping.ErrNoSuchProperty, o.Property, entity.Name())
		}
		props[i] = p
	}
	return props, nil
}

func propertyValue[T any](p *mapping.Property, item T) any {
	rv := reflect.ValueOf(item)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil
	}
	fv := rv.FieldByIndex(p.Index())
	for fv.Kind() == reflect.Pointer {
		if fv.IsNil() {
			return nil
		}
		fv = fv.Elem()
	}
	return fv.Interface()
}

// compareValues orders two property values. Nil sorts first; mismatched
// comparable kinds and unsupported types fall back to string comparison.
func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	if at, ok := a.(time.Time); ok {
		if bt, ok := b.(time.Time); ok {
			return at.Compare(bt)
		}
	}

	av := reflect.ValueOf(a)
	bv := reflect.ValueOf(b)
	if av.Kind() == bv.Kind() || (isNumericKind(av.Kind()) && isNumericKind(bv.Kind())) {
		switch {
		case av.Kind() == reflect.String:
			return strings.Compare(av.String(), bv.String())
		case av.Kind() == reflect.Bool:
			return compareBool(av.Bool(), bv.Bool())
		case isIntKind(av.Kind()) && isIntKind(bv.Kind()):
			return compareOrdered(av.Int(), bv.Int())
		case isUintKind(av.Kind()) && isUintKind(bv.Kind()):
			return compareOrdered(av.Uint(), bv.Uint())
		case isNumericKind(av.Kind()):
			return compareOrdered(toFloat(av), toFloat(bv))
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	default:
		return 1
	}
}

func compareOrdered[V int64 | uint64 | float64](a, b V) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func toFloat(v reflect.Value) float64 {
	switch {
	case isIntKind(v.Kind()):
		return float64(v.Int())
	case isUintKind(v.Kind()):
		return float64(v.Uint())
	default:
		return v.Float()
	}
}

func isIntKind(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Int64
}

func isUintKind(k reflect.Kind) bool {
	return k >= reflect.Uint && k <= reflect.Uint64
}

func isNumericKind(k reflect.Kind) bool {
	return isIntKind(k) || isUintKind(k) || k == reflect.Float32 || k == reflect.Float64
}

package mapping

import (
	"fmt"
	"reflect"

	"github.com/datumkit/datum/convert"
)

// Accessor reads and writes one instance through its entity metadata,
// converting incoming values when they do not match the field type.
type Accessor struct {
	entity *Entity
	value  reflect.Value
	conv   convert.Service
}

// Accessor binds the entity to an instance, which must be a non-nil pointer
// to the entity's struct type.
func (e *Entity) Accessor(instance any) (*Accessor, error) {
	rv := reflect.ValueOf(instance)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return nil, fmt.Errorf("%w: need a non-nil *%s", ErrNotAddressable, e.typ)
	}
	if rv.Elem().Type() != e.typ {
		return nil, fmt.Errorf("%w: need *%s, got %T", ErrNotAddressable, e.typ, instance)
	}
	return &Accessor{entity: e, value: rv.Elem(), conv: convert.Default()}, nil
}

// WithConverter replaces the conversion service used by Set and SetPath.
func (a *Accessor) WithConverter(conv convert.Service) *Accessor {
	if conv != nil {
		a.conv = conv
	}
	return a
}

// Entity returns the metadata the accessor was built from.
func (a *Accessor) Entity() *Entity { return a.entity }

// Get returns the current value of a property.
func (a *Accessor) Get(p *Property) (any, error) {
	if p.owner != a.entity {
		return nil, fmt.Errorf("%w: %s does not belong to %s", ErrNoSuchProperty, p, a.entity.typ)
	}
	return a.value.FieldByIndex(p.index).Interface(), nil
}

// Set assigns a value to a property, converting when needed. A nil value
// zeroes the field.
func (a *Accessor) Set(p *Property, value any) error {
	if p.owner != a.entity {
		return fmt.Errorf("%w: %s does not belong to %s", ErrNoSuchProperty, p, a.entity.typ)
	}
	if err := setValue(a.value.FieldByIndex(p.index), value, a.conv); err != nil {
		return fmt.Errorf("%s: %w", p, err)
	}
	return nil
}

// GetPath resolves dotted property text and reads through nested values. A
// nil intermediate pointer fails with ErrNilPath; slice, array and map
// segments fail with ErrCollectionPath.
func (a *Accessor) GetPath(path string) (any, error) {
	rp, err := a.entity.Path(path)
	if err != nil {
		return nil, err
	}

	v := a.value
	for i, p := range rp.props {
		fv := v.FieldByIndex(p.index)
		if i == len(rp.props)-1 {
			return fv.Interface(), nil
		}
		v, err = stepInto(fv, path)
		if err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrNoSuchProperty, path)
}

// SetPath resolves dotted property text and writes the leaf, allocating nil
// intermediate pointers along the way.
func (a *Accessor) SetPath(path string, value any) error {
	rp, err := a.entity.Path(path)
	if err != nil {
		return err
	}

	v := a.value
	for i, p := range rp.props {
		fv := v.FieldByIndex(p.index)
		if i == len(rp.props)-1 {
			if err := setValue(fv, value, a.conv); err != nil {
				return fmt.Errorf("%s: %w", p, err)
			}
			return nil
		}

		for fv.Kind() == reflect.Pointer {
			if fv.IsNil() {
				fv.Set(reflect.New(fv.Type().Elem()))
			}
			fv = fv.Elem()
		}
		switch fv.Kind() {
		case reflect.Slice, reflect.Array, reflect.Map:
			return fmt.Errorf("%w: %q", ErrCollectionPath, path)
		}
		v = fv
	}
	return nil
}

// Values returns the persistent properties as a storage-name keyed map.
func (a *Accessor) Values() map[string]any {
	out := make(map[string]any, len(a.entity.properties))
	for _, p := range a.entity.properties {
		if p.transient {
			continue
		}
		out[p.storageName] = a.value.FieldByIndex(p.index).Interface()
	}
	return out
}

// stepInto unwraps an intermediate path value down to its struct.
func stepInto(v reflect.Value, path string) (reflect.Value, error) {
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return reflect.Value{}, fmt.Errorf("%w: %q", ErrNilPath, path)
		}
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return reflect.Value{}, fmt.Errorf("%w: %q", ErrCollectionPath, path)
	}
	return v, nil
}

// setValue assigns raw to the addressable value fv, converting when the
// types differ.
func setValue(fv reflect.Value, raw any, conv convert.Service) error {
	if raw == nil {
		fv.Set(reflect.Zero(fv.Type()))
		return nil
	}
	rv := reflect.ValueOf(raw)
	if rv.Type().AssignableTo(fv.Type()) {
		fv.Set(rv)
		return nil
	}
	out, err := conv.Convert(raw, fv.Type())
	if err != nil {
		return err
	}
	if out == nil {
		fv.Set(reflect.Zero(fv.Type()))
		return nil
	}
	fv.Set(reflect.ValueOf(out))
	return nil
}

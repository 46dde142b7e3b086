package convert

import (
	"encoding"
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/google/uuid"
)

var (
	timeType            = reflect.TypeOf(time.Time{})
	durationType        = reflect.TypeOf(time.Duration(0))
	uuidType            = reflect.TypeOf(uuid.UUID{})
	byteSliceType       = reflect.TypeOf([]byte(nil))
	textMarshalerType   = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
	textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
)

// builtinConvert applies the built-in conversion rules. The bool result
// reports whether a rule claimed the (source, target) combination; when it is
// false the caller falls through to its own error.
func builtinConvert(rv reflect.Value, target reflect.Type) (any, bool, error) {
	src := rv.Type()

	switch {
	case src.Kind() == reflect.String:
		out, err := fromString(rv.String(), target)
		return out, true, err

	case target.Kind() == reflect.String:
		out, err := toString(rv)
		if err != nil {
			return nil, true, err
		}
		// Preserve named string targets (e.g. type Status string).
		return reflect.ValueOf(out).Convert(target).Interface(), true, nil

	case isNumeric(src.Kind()) && isNumeric(target.Kind()):
		out, err := convertNumeric(rv, target)
		return out, true, err
	}

	// Named-type and remaining kind conversions that reflect allows outright
	// (e.g. []byte to a named byte slice, int to time.Duration).
	if src.ConvertibleTo(target) {
		return rv.Convert(target).Interface(), true, nil
	}

	return nil, false, nil
}

// fromString parses a string into the target type.
func fromString(s string, target reflect.Type) (any, error) {
	switch target {
	case timeType:
		return parseTime(s)
	case durationType:
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %q to %s: %v", ErrCannotConvert, s, target, err)
		}
		return d, nil
	case uuidType:
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %q to %s: %v", ErrCannotConvert, s, target, err)
		}
		return id, nil
	case byteSliceType:
		return []byte(s), nil
	}

	if reflect.PointerTo(target).Implements(textUnmarshalerType) {
		pv := reflect.New(target)
		if err := pv.Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(s)); err != nil {
			return nil, fmt.Errorf("%w: %q to %s: %v", ErrCannotConvert, s, target, err)
		}
		return pv.Elem().Interface(), nil
	}

	switch target.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, target.Bits())
		if err != nil {
			return nil, fmt.Errorf("%w: %q to %s: %v", ErrCannotConvert, s, target, err)
		}
		out := reflect.New(target).Elem()
		out.SetInt(n)
		return out.Interface(), nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(s, 10, target.Bits())
		if err != nil {
			return nil, fmt.Errorf("%w: %q to %s: %v", ErrCannotConvert, s, target, err)
		}
		out := reflect.New(target).Elem()
		out.SetUint(n)
		return out.Interface(), nil

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, target.Bits())
		if err != nil {
			return nil, fmt.Errorf("%w: %q to %s: %v", ErrCannotConvert, s, target, err)
		}
		out := reflect.New(target).Elem()
		out.SetFloat(f)
		return out.Interface(), nil

	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %q to %s: %v", ErrCannotConvert, s, target, err)
		}
		out := reflect.New(target).Elem()
		out.SetBool(b)
		return out.Interface(), nil

	case reflect.String:
		// Covers named string types.
		out := reflect.New(target).Elem()
		out.SetString(s)
		return out.Interface(), nil
	}

	return nil, fmt.Errorf("%w: %q to %s", ErrCannotConvert, s, target)
}

// parseTime accepts the formats external resources typically carry.
func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q is not an RFC 3339 timestamp", ErrCannotConvert, s)
}

// toString renders a value as a plain string.
func toString(rv reflect.Value) (string, error) {
	switch rv.Type() {
	case timeType:
		return rv.Interface().(time.Time).Format(time.RFC3339Nano), nil
	case durationType:
		return rv.Interface().(time.Duration).String(), nil
	case uuidType:
		return rv.Interface().(uuid.UUID).String(), nil
	case byteSliceType:
		return string(rv.Bytes()), nil
	}

	if rv.Type().Implements(textMarshalerType) {
		b, err := rv.Interface().(encoding.TextMarshaler).MarshalText()
		if err != nil {
			return "", fmt.Errorf("%w: %s to string: %v", ErrCannotConvert, rv.Type(), err)
		}
		return string(b), nil
	}

	switch rv.Kind() {
	case reflect.String:
		return rv.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), nil
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'g', -1, rv.Type().Bits()), nil
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool()), nil
	}

	return "", fmt.Errorf("%w: %s to string", ErrCannotConvert, rv.Type())
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

// convertNumeric converts between numeric kinds, rejecting lossy narrowing.
func convertNumeric(rv reflect.Value, target reflect.Type) (any, error) {
	out := reflect.New(target).Elem()

	switch {
	case isInt(rv.Kind()):
		n := rv.Int()
		switch {
		case isInt(target.Kind()):
			if out.OverflowInt(n) {
				return nil, overflowErr(rv, target)
			}
			out.SetInt(n)
		case isUint(target.Kind()):
			if n < 0 || out.OverflowUint(uint64(n)) {
				return nil, overflowErr(rv, target)
			}
			out.SetUint(uint64(n))
		default:
			out.SetFloat(float64(n))
		}

	case isUint(rv.Kind()):
		n := rv.Uint()
		switch {
		case isInt(target.Kind()):
			if n > uint64(1)<<63-1 {
				return nil, overflowErr(rv, target)
			}
			if out.OverflowInt(int64(n)) {
				return nil, overflowErr(rv, target)
			}
			out.SetInt(int64(n))
		case isUint(target.Kind()):
			if out.OverflowUint(n) {
				return nil, overflowErr(rv, target)
			}
			out.SetUint(n)
		default:
			out.SetFloat(float64(n))
		}

	default: // float source
		f := rv.Float()
		switch {
		case isInt(target.Kind()):
			n := int64(f)
			if float64(n) != f || out.OverflowInt(n) {
				return nil, overflowErr(rv, target)
			}
			out.SetInt(n)
		case isUint(target.Kind()):
			if f < 0 {
				return nil, overflowErr(rv, target)
			}
			n := uint64(f)
			if float64(n) != f || out.OverflowUint(n) {
				return nil, overflowErr(rv, target)
			}
			out.SetUint(n)
		default:
			if out.OverflowFloat(f) {
				return nil, overflowErr(rv, target)
			}
			out.SetFloat(f)
		}
	}

	return out.Interface(), nil
}

func isInt(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Int64
}

func isUint(k reflect.Kind) bool {
	return k >= reflect.Uint && k <= reflect.Uint64
}

func overflowErr(rv reflect.Value, target reflect.Type) error {
	return fmt.Errorf("%w: %v (%s) overflows %s", ErrCannotConvert, rv.Interface(), rv.Type(), target)
}

// Package convert provides the type conversion service used when property
// values cross between storage representations and Go struct fields.
//
// The package exports the Service interface consumed by the mapping accessors
// and a default Registry implementation that covers the conversions a mapping
// layer needs day to day:
//
//   - direct assignment for identical or assignable types
//   - numeric conversions with overflow checks
//   - string parsing for numbers, booleans, time.Time (RFC 3339),
//     time.Duration and uuid.UUID
//   - string formatting for the same set in the opposite direction
//   - encoding.TextMarshaler / encoding.TextUnmarshaler support
//   - pointer wrapping and unwrapping
//
// Custom conversions are registered per (source, target) type pair and take
// precedence over the built-in rules:
//
//	reg := convert.NewRegistry()
//	reg.Register(
//	    reflect.TypeOf(""),
//	    reflect.TypeOf(Money{}),
//	    func(v any) (any, error) { return ParseMoney(v.(string)) },
//	)
//
// Registry is safe for concurrent use. The zero-configuration Default registry
// is shared process-wide and must not be mutated by libraries.
package convert

package mapping

// ValueSource supplies raw property values during entity instantiation.
// Lookups are tried by storage name first, then by Go field name.
type ValueSource interface {
	Lookup(name string) (any, bool)
}

// MapSource adapts a plain map to a ValueSource. It is the source produced
// by JSON and YAML decoding and doubles as the expression root for creator
// parameters declared with Expr.
type MapSource map[string]any

func (m MapSource) Lookup(name string) (any, bool) {
	v, ok := m[name]
	return v, ok
}

// Values returns the underlying map.
func (m MapSource) Values() map[string]any { return m }

// enumerable is implemented by sources that can expose all of their values
// at once, which expression parameters require.
type enumerable interface {
	Values() map[string]any
}

// sourceRoot extracts the expression root from a source, if it has one.
func sourceRoot(src ValueSource) (map[string]any, bool) {
	if e, ok := src.(enumerable); ok {
		return e.Values(), true
	}
	return nil, false
}

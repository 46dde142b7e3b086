package mapping

import (
	"reflect"
	"unicode"

	"github.com/jinzhu/inflection"
)

// NamingStrategy derives storage names from Go identifiers. Tag and config
// overrides always win over the strategy.
type NamingStrategy interface {
	// EntityName returns the storage name for a struct type.
	EntityName(t reflect.Type) string

	// PropertyName returns the storage name for a struct field.
	PropertyName(field string) string
}

// SnakeNaming is the default strategy: snake_case field names and pluralized
// snake_case entity names, so type Order maps to "orders" and field CreatedAt
// to "created_at".
type SnakeNaming struct{}

func (SnakeNaming) EntityName(t reflect.Type) string {
	return inflection.Plural(SnakeCase(t.Name()))
}

func (SnakeNaming) PropertyName(field string) string {
	return SnakeCase(field)
}

// SnakeCase converts a Go identifier to snake_case. Runs of capitals are kept
// together, so HTTPServer becomes http_server and UserID becomes user_id.
func SnakeCase(s string) string {
	runes := []rune(s)
	out := make([]rune, 0, len(runes)+4)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (!unicode.IsUpper(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				out = append(out, '_')
			}
			out = append(out, unicode.ToLower(r))
			continue
		}
		out = append(out, r)
	}
	return string(out)
}

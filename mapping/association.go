package mapping

import "reflect"

// Cardinality distinguishes to-one from to-many associations.
type Cardinality int

const (
	ToOne Cardinality = iota
	ToMany
)

func (c Cardinality) String() string {
	if c == ToMany {
		return "to-many"
	}
	return "to-one"
}

// Association models a reference from one entity to another, declared with
// the "ref" tag flag. The target type is discovered as an entity of the same
// Context.
type Association struct {
	property *Property
	target   reflect.Type
	card     Cardinality
}

// Property returns the owning side of the association.
func (a *Association) Property() *Property { return a.property }

// Target returns the referenced entity's struct type.
func (a *Association) Target() reflect.Type { return a.target }

// Cardinality reports whether the association is to-one or to-many. The
// shape of the field type decides: slices, arrays and maps are to-many.
func (a *Association) Cardinality() Cardinality { return a.card }

package mapping

import (
	"fmt"
	"reflect"
	"strings"
)

// TagKey is the struct tag consulted during property discovery.
const TagKey = "datum"

// AuditRole classifies a property's participation in auditing.
type AuditRole int

const (
	AuditNone AuditRole = iota
	AuditCreated
	AuditCreatedBy
	AuditModified
	AuditModifiedBy
)

func (r AuditRole) String() string {
	switch r {
	case AuditCreated:
		return "created"
	case AuditCreatedBy:
		return "createdby"
	case AuditModified:
		return "modified"
	case AuditModifiedBy:
		return "modifiedby"
	default:
		return "none"
	}
}

// Property is the mapping metadata for one struct field. Instances are
// immutable once their owning Entity is constructed.
type Property struct {
	owner       *Entity
	name        string
	storageName string
	field       reflect.StructField
	index       []int
	typ         reflect.Type

	id        bool
	version   bool
	transient bool
	immutable bool
	ref       bool
	audit     AuditRole
}

// Name returns the Go field name.
func (p *Property) Name() string { return p.name }

// StorageName returns the name used in storage representations.
func (p *Property) StorageName() string { return p.storageName }

// Type returns the declared field type.
func (p *Property) Type() reflect.Type { return p.typ }

// Field returns the underlying struct field descriptor.
func (p *Property) Field() reflect.StructField { return p.field }

// Index returns the field index path from the entity root, flattened across
// embedded structs. The returned slice is a copy.
func (p *Property) Index() []int {
	out := make([]int, len(p.index))
	copy(out, p.index)
	return out
}

// Owner returns the entity this property belongs to.
func (p *Property) Owner() *Entity { return p.owner }

// IsID reports whether this is the identifier property.
func (p *Property) IsID() bool { return p.id }

// IsVersion reports whether this is the optimistic-locking version property.
func (p *Property) IsVersion() bool { return p.version }

// IsTransient reports whether the property is excluded from persistence.
func (p *Property) IsTransient() bool { return p.transient }

// IsImmutable reports whether the property is written once and never
// updated. Enforcement is up to the persistence adapter.
func (p *Property) IsImmutable() bool { return p.immutable }

// IsAssociation reports whether the property models a reference to another
// entity.
func (p *Property) IsAssociation() bool { return p.ref }

// Audit returns the property's audit role, AuditNone for most properties.
func (p *Property) Audit() AuditRole { return p.audit }

// IsCollection reports whether the declared type is a slice, array or map
// (after pointer unwrapping). []byte does not count.
func (p *Property) IsCollection() bool {
	t := p.typ
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return t.Elem().Kind() != reflect.Uint8
	}
	return false
}

// LeafType returns the element type after unwrapping pointers, slices,
// arrays and maps.
func (p *Property) LeafType() reflect.Type { return leafType(p.typ) }

func (p *Property) String() string {
	return fmt.Sprintf("%s.%s", p.owner.typ.Name(), p.name)
}

// tagInfo is the parsed form of a datum struct tag.
type tagInfo struct {
	storageName string
	transient   bool
	id          bool
	version     bool
	immutable   bool
	ref         bool
	audit       AuditRole
}

// parseTag parses `datum:"storage_name,flag,..."`. The first segment is the
// storage name and may be empty; "-" alone marks the field transient.
func parseTag(tag string) (tagInfo, error) {
	var info tagInfo
	parts := strings.Split(tag, ",")
	if parts[0] == "-" {
		if len(parts) > 1 {
			return info, fmt.Errorf("%w: %q combines \"-\" with flags", ErrTag, tag)
		}
		info.transient = true
		return info, nil
	}
	info.storageName = parts[0]
	for _, flag := range parts[1:] {
		switch flag {
		case "id":
			info.id = true
		case "version":
			info.version = true
		case "immutable":
			info.immutable = true
		case "ref":
			info.ref = true
		case "created":
			info.audit = AuditCreated
		case "createdby":
			info.audit = AuditCreatedBy
		case "modified":
			info.audit = AuditModified
		case "modifiedby":
			info.audit = AuditModifiedBy
		case "":
			return info, fmt.Errorf("%w: %q has an empty flag", ErrTag, tag)
		default:
			return info, fmt.Errorf("%w: unknown flag %q in %q", ErrTag, flag, tag)
		}
	}
	return info, nil
}

// auditRoleFromString maps configuration strings to audit roles.
func auditRoleFromString(s string) (AuditRole, bool) {
	switch s {
	case "":
		return AuditNone, true
	case "created":
		return AuditCreated, true
	case "createdby":
		return AuditCreatedBy, true
	case "modified":
		return AuditModified, true
	case "modifiedby":
		return AuditModifiedBy, true
	default:
		return AuditNone, false
	}
}

// isTimeRole reports whether the role stamps a timestamp rather than a
// principal.
func isTimeRole(r AuditRole) bool {
	return r == AuditCreated || r == AuditModified
}

// isTimeValued reports whether t can hold a timestamp (time.Time or
// *time.Time).
func isTimeValued(t reflect.Type) bool {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t == timeType
}

// isIntegerKind reports whether t is usable as a version counter.
func isIntegerKind(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

package mapping

import (
	"fmt"
	"reflect"
	"sort"
	"sync/atomic"

	"github.com/datumkit/datum/convert"
)

// Persistable lets an entity report its own persistence state instead of the
// version and id zero-value heuristics used by IsNew.
type Persistable interface {
	IsNew() bool
}

// Entity is the cached mapping metadata for one struct type. Entities are
// built once per Context and are immutable afterwards; only the creator
// registration is swapped atomically.
type Entity struct {
	ctx  *Context
	typ  reflect.Type
	name string

	properties []*Property
	byName     map[string]*Property
	byStorage  map[string]*Property

	id      *Property
	version *Property
	assocs  []*Association
	audit   map[AuditRole]*Property

	creator atomic.Pointer[Creator]
}

// Type returns the mapped struct type.
func (e *Entity) Type() reflect.Type { return e.typ }

// Name returns the entity's storage name.
func (e *Entity) Name() string { return e.name }

// Properties returns all mapped properties in declaration order, transient
// ones included.
func (e *Entity) Properties() []*Property {
	out := make([]*Property, len(e.properties))
	copy(out, e.properties)
	return out
}

// Persistent returns the properties that participate in persistence.
func (e *Entity) Persistent() []*Property {
	out := make([]*Property, 0, len(e.properties))
	for _, p := range e.properties {
		if !p.transient {
			out = append(out, p)
		}
	}
	return out
}

// Property looks a property up by Go field name.
func (e *Entity) Property(name string) (*Property, bool) {
	p, ok := e.byName[name]
	return p, ok
}

// PropertyByStorageName looks a persistent property up by storage name.
func (e *Entity) PropertyByStorageName(name string) (*Property, bool) {
	p, ok := e.byStorage[name]
	return p, ok
}

// ID returns the identifier property, nil when the entity has none.
func (e *Entity) ID() *Property { return e.id }

// Version returns the optimistic-locking version property, nil when the
// entity has none.
func (e *Entity) Version() *Property { return e.version }

// Associations returns the modeled references to other entities.
func (e *Entity) Associations() []*Association {
	out := make([]*Association, len(e.assocs))
	copy(out, e.assocs)
	return out
}

// AuditProperty returns the property holding the given audit role.
func (e *Entity) AuditProperty(role AuditRole) (*Property, bool) {
	p, ok := e.audit[role]
	return p, ok
}

// IsAudited reports whether any audit role is mapped.
func (e *Entity) IsAudited() bool { return len(e.audit) > 0 }

// Creator returns the registered creator, nil when instances are built with
// plain reflection.
func (e *Entity) Creator() *Creator { return e.creator.Load() }

func (e *Entity) setCreator(cr *Creator) { e.creator.Store(cr) }

func (e *Entity) String() string {
	return fmt.Sprintf("%s -> %q", e.typ, e.name)
}

// New instantiates the entity from a value source and returns a pointer to
// the struct type. When a creator is registered it runs first and properties
// consumed by its parameters are not populated again; the remaining
// persistent properties are filled from the source with conversion. Nested
// maps materialize embedded entity values, lists materialize slices.
func (e *Entity) New(src ValueSource, conv convert.Service) (any, error) {
	if conv == nil {
		conv = convert.Default()
	}

	var (
		pv       reflect.Value
		consumed map[string]bool
	)
	if cr := e.Creator(); cr != nil {
		var err error
		pv, consumed, err = cr.create(src, conv)
		if err != nil {
			return nil, err
		}
	} else {
		pv = reflect.New(e.typ)
	}

	acc, err := e.Accessor(pv.Interface())
	if err != nil {
		return nil, err
	}
	acc.conv = conv

	for _, p := range e.properties {
		if p.transient || consumed[p.name] {
			continue
		}
		raw, ok := src.Lookup(p.storageName)
		if !ok {
			raw, ok = src.Lookup(p.name)
		}
		if !ok {
			continue
		}
		val, err := e.materialize(p.typ, raw, conv)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		if err := acc.Set(p, val); err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	return pv.Interface(), nil
}

// materialize adapts decoded document values (nested maps, []any lists) to
// the target type before conversion.
func (e *Entity) materialize(t reflect.Type, raw any, conv convert.Service) (any, error) {
	if raw == nil {
		return nil, nil
	}

	if m, ok := asMap(raw); ok {
		base := t
		for base.Kind() == reflect.Pointer {
			base = base.Elem()
		}
		if base.Kind() != reflect.Struct || e.ctx.simple.IsSimple(base) {
			return raw, nil
		}
		nested, err := e.ctx.Entity(base)
		if err != nil {
			return nil, err
		}
		out, err := nested.New(MapSource(m), conv)
		if err != nil {
			return nil, err
		}
		if t.Kind() == reflect.Pointer {
			return out, nil
		}
		return reflect.ValueOf(out).Elem().Interface(), nil
	}

	if list, ok := raw.([]any); ok {
		st := t
		for st.Kind() == reflect.Pointer {
			st = st.Elem()
		}
		if st.Kind() != reflect.Slice {
			return raw, nil
		}
		sv := reflect.MakeSlice(st, len(list), len(list))
		for i, el := range list {
			ev, err := e.materialize(st.Elem(), el, conv)
			if err != nil {
				return nil, err
			}
			if err := setValue(sv.Index(i), ev, conv); err != nil {
				return nil, err
			}
		}
		if t.Kind() == reflect.Pointer {
			pv := reflect.New(st)
			pv.Elem().Set(sv)
			return pv.Interface(), nil
		}
		return sv.Interface(), nil
	}

	return raw, nil
}

func asMap(raw any) (map[string]any, bool) {
	switch m := raw.(type) {
	case map[string]any:
		return m, true
	case MapSource:
		return m, true
	}
	return nil, false
}

// IsNew reports whether the instance has not been persisted yet. Entities
// implementing Persistable decide for themselves; otherwise a zero version
// property means new, then a zero id property.
func (e *Entity) IsNew(instance any) (bool, error) {
	if p, ok := instance.(Persistable); ok {
		return p.IsNew(), nil
	}
	rv := reflect.ValueOf(instance)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return false, fmt.Errorf("%w: nil %s", ErrStateUnknown, e.typ)
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() || rv.Type() != e.typ {
		return false, fmt.Errorf("%w: value is not a %s", ErrStateUnknown, e.typ)
	}
	if e.version != nil {
		return rv.FieldByIndex(e.version.index).IsZero(), nil
	}
	if e.id != nil {
		return rv.FieldByIndex(e.id.index).IsZero(), nil
	}
	return false, fmt.Errorf("%w: %s has neither version nor id property", ErrStateUnknown, e.typ)
}

// build fills the entity from its struct type. Called with the context lock
// held so nested discovery can recurse through entityLocked.
func (e *Entity) build(c *Context) error {
	cfg := c.config.forType(e.typ)

	e.name = c.naming.EntityName(e.typ)
	if cfg != nil && cfg.Name != "" {
		e.name = cfg.Name
	}

	cands, err := collectFields(e.typ)
	if err != nil {
		return fmt.Errorf("%s: %w", e.typ, err)
	}

	e.byName = make(map[string]*Property)
	e.byStorage = make(map[string]*Property)
	e.audit = make(map[AuditRole]*Property)

	for _, cand := range resolveFields(cands) {
		p, err := e.newProperty(c, cfg, cand)
		if err != nil {
			return fmt.Errorf("%s: %w", e.typ, err)
		}
		e.properties = append(e.properties, p)
		e.byName[p.name] = p
		if !p.transient {
			if prev, ok := e.byStorage[p.storageName]; ok {
				return fmt.Errorf("%s: %w: storage name %q used by both %s and %s",
					e.typ, ErrTag, p.storageName, prev.name, p.name)
			}
			e.byStorage[p.storageName] = p
		}
	}

	if err := e.classify(); err != nil {
		return fmt.Errorf("%s: %w", e.typ, err)
	}

	// Discover nested entity types up front so path resolution and
	// materialization never trigger discovery under load.
	for _, p := range e.properties {
		if p.transient {
			continue
		}
		leaf := leafType(p.typ)
		if leaf.Kind() == reflect.Struct && !c.simple.IsSimple(leaf) {
			if _, err := c.entityLocked(leaf); err != nil {
				return fmt.Errorf("%s.%s: %w", e.typ, p.name, err)
			}
		}
	}
	return nil
}

func (e *Entity) newProperty(c *Context, cfg *EntityConfig, cand fieldCandidate) (*Property, error) {
	p := &Property{
		owner: e,
		name:  cand.field.Name,
		field: cand.field,
		index: cand.index,
		typ:   cand.field.Type,

		id:        cand.info.id,
		version:   cand.info.version,
		transient: cand.info.transient,
		immutable: cand.info.immutable,
		ref:       cand.info.ref,
		audit:     cand.info.audit,
	}

	p.storageName = cand.info.storageName
	if p.storageName == "" {
		p.storageName = c.naming.PropertyName(p.name)
	}

	// Kinds with no storage representation are transient regardless of tags.
	switch p.typ.Kind() {
	case reflect.Interface, reflect.Func, reflect.Chan, reflect.UnsafePointer:
		p.transient = true
	}

	if cfg != nil {
		if pc, ok := cfg.Properties[p.name]; ok {
			if pc.Name != "" {
				p.storageName = pc.Name
			}
			if pc.Transient != nil {
				p.transient = *pc.Transient
			}
			if pc.Immutable != nil {
				p.immutable = *pc.Immutable
			}
			if pc.Audit != nil {
				role, ok := auditRoleFromString(*pc.Audit)
				if !ok {
					return nil, fmt.Errorf("%w: unknown audit role %q for property %s", ErrConfig, *pc.Audit, p.name)
				}
				p.audit = role
			}
		}
	}

	if isTimeRole(p.audit) && !isTimeValued(p.typ) {
		return nil, fmt.Errorf("%w: %s role on non-time property %s (%s)", ErrTag, p.audit, p.name, p.typ)
	}
	if p.version && !isIntegerKind(p.typ) {
		return nil, fmt.Errorf("%w: version property %s must be an integer kind, got %s", ErrTag, p.name, p.typ)
	}
	if p.ref {
		if leaf := leafType(p.typ); leaf.Kind() != reflect.Struct || c.simple.IsSimple(leaf) {
			return nil, fmt.Errorf("%w: ref property %s does not reference an entity type (%s)", ErrTag, p.name, p.typ)
		}
	}
	return p, nil
}

func (e *Entity) classify() error {
	for _, p := range e.properties {
		if p.id {
			if e.id != nil {
				return fmt.Errorf("%w: id claimed by both %s and %s", ErrDuplicateRole, e.id.name, p.name)
			}
			e.id = p
		}
		if p.version {
			if e.version != nil {
				return fmt.Errorf("%w: version claimed by both %s and %s", ErrDuplicateRole, e.version.name, p.name)
			}
			e.version = p
		}
		if p.audit != AuditNone {
			if prev, ok := e.audit[p.audit]; ok {
				return fmt.Errorf("%w: %s claimed by both %s and %s", ErrDuplicateRole, p.audit, prev.name, p.name)
			}
			e.audit[p.audit] = p
		}
		if p.ref {
			card := ToOne
			if p.IsCollection() {
				card = ToMany
			}
			e.assocs = append(e.assocs, &Association{property: p, target: leafType(p.typ), card: card})
		}
	}

	// Convention: a field named ID is the identifier when no tag claims it.
	if e.id == nil {
		if p, ok := e.byName["ID"]; ok && !p.transient {
			p.id = true
			e.id = p
		}
	}
	return nil
}

// fieldCandidate is one struct field encountered during the flattening walk.
type fieldCandidate struct {
	field  reflect.StructField
	index  []int
	depth  int
	seq    int
	info   tagInfo
	tagged bool
}

// collectFields walks the struct type depth-first, flattening anonymous
// non-pointer embedded structs the way encoding/json does. Unexported fields
// are skipped; an embedded struct tagged with a storage name stays a regular
// property, one tagged "-" disappears entirely.
func collectFields(root reflect.Type) ([]fieldCandidate, error) {
	var out []fieldCandidate
	seq := 0

	var walk func(t reflect.Type, prefix []int, depth int) error
	walk = func(t reflect.Type, prefix []int, depth int) error {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if f.PkgPath != "" {
				continue
			}
			var info tagInfo
			tagged := false
			if raw, ok := f.Tag.Lookup(TagKey); ok {
				var err error
				info, err = parseTag(raw)
				if err != nil {
					return fmt.Errorf("field %s: %w", f.Name, err)
				}
				tagged = info.storageName != ""
			}
			index := append(append([]int(nil), prefix...), i)
			if f.Anonymous && f.Type.Kind() == reflect.Struct && !tagged {
				if info.transient {
					continue
				}
				if err := walk(f.Type, index, depth+1); err != nil {
					return err
				}
				continue
			}
			out = append(out, fieldCandidate{field: f, index: index, depth: depth, seq: seq, info: info, tagged: tagged})
			seq++
		}
		return nil
	}

	if err := walk(root, nil, 0); err != nil {
		return nil, err
	}
	return out, nil
}

// resolveFields applies the encoding/json conflict rules to flattened
// candidates: the shallowest field wins, a single tagged field breaks depth
// ties, remaining ambiguity drops the name.
func resolveFields(cands []fieldCandidate) []fieldCandidate {
	groups := make(map[string][]fieldCandidate)
	for _, c := range cands {
		groups[c.field.Name] = append(groups[c.field.Name], c)
	}

	var winners []fieldCandidate
	for _, group := range groups {
		if len(group) == 1 {
			winners = append(winners, group[0])
			continue
		}
		best := group[0].depth
		for _, c := range group[1:] {
			if c.depth < best {
				best = c.depth
			}
		}
		var atBest []fieldCandidate
		for _, c := range group {
			if c.depth == best {
				atBest = append(atBest, c)
			}
		}
		if len(atBest) == 1 {
			winners = append(winners, atBest[0])
			continue
		}
		var tagged []fieldCandidate
		for _, c := range atBest {
			if c.tagged {
				tagged = append(tagged, c)
			}
		}
		if len(tagged) == 1 {
			winners = append(winners, tagged[0])
		}
	}

	sort.Slice(winners, func(i, j int) bool { return winners[i].seq < winners[j].seq })
	return winners
}

package mapping

import (
	"fmt"
	"reflect"
	"strings"
)

// Path is a resolved chain of properties across nested entities, produced
// from dotted text such as "address.city". Resolution happens at the type
// level; pointer, slice and map property types are traversed through their
// element type.
type Path struct {
	raw   string
	props []*Property
}

// String returns the dotted text the path was resolved from.
func (p *Path) String() string { return p.raw }

// Properties returns the resolved chain, root first.
func (p *Path) Properties() []*Property {
	out := make([]*Property, len(p.props))
	copy(out, p.props)
	return out
}

// Leaf returns the final property of the chain.
func (p *Path) Leaf() *Property { return p.props[len(p.props)-1] }

// Len returns the number of segments.
func (p *Path) Len() int { return len(p.props) }

// Path resolves dotted property text against the entity for t.
func (c *Context) Path(t reflect.Type, path string) (*Path, error) {
	e, err := c.Entity(t)
	if err != nil {
		return nil, err
	}
	return e.Path(path)
}

// Path resolves dotted property text starting at this entity. Each segment
// is looked up by Go field name, then by storage name.
func (e *Entity) Path(path string) (*Path, error) {
	segments := strings.Split(path, ".")
	cur := e
	props := make([]*Property, 0, len(segments))

	for i, seg := range segments {
		if seg == "" {
			return nil, fmt.Errorf("%w: empty segment in %q", ErrNoSuchProperty, path)
		}
		p, ok := cur.Property(seg)
		if !ok {
			p, ok = cur.PropertyByStorageName(seg)
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s has no property %q (path %q)", ErrNoSuchProperty, cur.typ, seg, path)
		}
		props = append(props, p)
		if i == len(segments)-1 {
			break
		}

		leaf := leafType(p.typ)
		if leaf.Kind() != reflect.Struct || cur.ctx.simple.IsSimple(leaf) {
			return nil, fmt.Errorf("%w: %q is not entity-typed (path %q)", ErrNoSuchProperty, seg, path)
		}
		next, err := cur.ctx.Entity(leaf)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return &Path{raw: path, props: props}, nil
}

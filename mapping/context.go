package mapping

import (
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

// ContextOption configures a Context.
type ContextOption func(*Context)

// WithNaming replaces the default snake_case naming strategy.
func WithNaming(n NamingStrategy) ContextOption {
	return func(c *Context) { c.naming = n }
}

// WithSimpleTypes adds types that discovery treats as atomic values rather
// than nested entities.
func WithSimpleTypes(types ...reflect.Type) ContextOption {
	return func(c *Context) { c.simple = NewSimpleTypes(types...) }
}

// WithConfig applies externally declared mapping overrides during entity
// construction.
func WithConfig(cfg *Config) ContextOption {
	return func(c *Context) { c.config = cfg }
}

// WithLogger sets the logger used for discovery events.
func WithLogger(l *slog.Logger) ContextOption {
	return func(c *Context) {
		if l != nil {
			c.logger = l
		}
	}
}

// Context is the process-wide registry of entity metadata. Lookups are
// lock-free once a type is cached; discovery of new types is serialized and
// cycle-safe, so self-referencing and mutually-referencing types terminate.
type Context struct {
	mu       sync.Mutex
	building map[reflect.Type]*Entity
	cache    *xsync.MapOf[reflect.Type, *Entity]

	naming NamingStrategy
	simple *SimpleTypes
	config *Config
	logger *slog.Logger
}

// NewContext returns an empty metadata registry.
func NewContext(opts ...ContextOption) *Context {
	c := &Context{
		building: make(map[reflect.Type]*Entity),
		cache:    xsync.NewMapOf[reflect.Type, *Entity](),
		naming:   SnakeNaming{},
		simple:   NewSimpleTypes(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Entity returns the metadata for t, discovering and caching it on first
// use. Pointer types are unwrapped; non-struct types are rejected. Repeated
// lookups return the identical *Entity.
func (c *Context) Entity(t reflect.Type) (*Entity, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil type", ErrNotStruct)
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %s", ErrNotStruct, t)
	}
	if e, ok := c.cache.Load(t); ok {
		return e, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entityLocked(t)
}

// entityLocked discovers t with the context lock held. Entities under
// construction are tracked in building, so cyclic property types resolve to
// the in-flight entity instead of recursing forever. Only fully built
// entities reach the cache.
func (c *Context) entityLocked(t reflect.Type) (*Entity, error) {
	if e, ok := c.cache.Load(t); ok {
		return e, nil
	}
	if e, ok := c.building[t]; ok {
		return e, nil
	}

	e := &Entity{ctx: c, typ: t}
	c.building[t] = e
	defer delete(c.building, t)

	if err := e.build(c); err != nil {
		return nil, err
	}
	c.cache.Store(t, e)
	c.logger.Debug("entity discovered",
		"type", t.String(),
		"name", e.name,
		"properties", len(e.properties))
	return e, nil
}

// EntityOf returns the metadata for the dynamic type of v.
func (c *Context) EntityOf(v any) (*Entity, error) {
	if v == nil {
		return nil, fmt.Errorf("%w: nil value", ErrNotStruct)
	}
	return c.Entity(reflect.TypeOf(v))
}

// Register eagerly discovers the given prototypes, failing on the first
// mapping error.
func (c *Context) Register(prototypes ...any) error {
	for _, p := range prototypes {
		if _, err := c.EntityOf(p); err != nil {
			return err
		}
	}
	return nil
}

// Entities returns a snapshot of all discovered entities sorted by storage
// name.
func (c *Context) Entities() []*Entity {
	var out []*Entity
	c.cache.Range(func(_ reflect.Type, e *Entity) bool {
		out = append(out, e)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Len returns the number of discovered entities.
func (c *Context) Len() int { return c.cache.Size() }

// UseCreator registers a constructor function for the prototype's entity.
// Parameters bind positionally: Param binds a property by name, Expr binds
// the result of an expression over the source. Expressions compile once,
// here. Source values missing at instantiation time yield zero arguments.
func (c *Context) UseCreator(prototype any, fn any, params ...CreatorParam) error {
	e, err := c.EntityOf(prototype)
	if err != nil {
		return err
	}
	cr, err := newCreator(e, fn, params)
	if err != nil {
		return err
	}
	e.setCreator(cr)
	return nil
}

package repository

import (
	"context"
	"fmt"
	"reflect"

	"github.com/google/uuid"

	"github.com/datumkit/datum/callback"
	"github.com/datumkit/datum/convert"
	"github.com/datumkit/datum/mapping"
)

var uuidType = reflect.TypeOf(uuid.UUID{})

// MetaOption configures a Meta.
type MetaOption func(*metaConfig)

type metaConfig struct {
	hooks *callback.Dispatcher
	conv  convert.Service
}

// WithCallbacks wires a dispatcher into the lifecycle. Save and delete
// operations then run the matching callback phases.
func WithCallbacks(d *callback.Dispatcher) MetaOption {
	return func(c *metaConfig) { c.hooks = d }
}

// WithConverter overrides the conversion service used when instantiating
// entities from raw storage values.
func WithConverter(s convert.Service) MetaOption {
	return func(c *metaConfig) { c.conv = s }
}

// Meta binds mapping metadata to a repository's entity and id types and
// centralizes the lifecycle every adapter shares: callbacks, id
// generation and optimistic version handling. T may be a struct or a
// pointer to struct; ID must match the entity's id property type.
type Meta[T any, ID comparable] struct {
	entity  *mapping.Entity
	hooks   *callback.Dispatcher
	conv    convert.Service
	ptr     bool
	base    reflect.Type
	id      *mapping.Property
	version *mapping.Property
}

// NewMeta resolves T against the mapping context. It fails when T is not
// a struct type, has no id property or the id property's type differs
// from ID.
func NewMeta[T any, ID comparable](mctx *mapping.Context, opts ...MetaOption) (*Meta[T, ID], error) {
	cfg := metaConfig{conv: convert.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}

	t := reflect.TypeOf((*T)(nil)).Elem()
	ptr := t.Kind() == reflect.Pointer
	base := t
	if ptr {
		base = t.Elem()
	}

	entity, err := mctx.Entity(base)
	if err != nil {
		return nil, err
	}
	idProp := entity.ID()
	if idProp == nil {
		return nil, fmt.Errorf("%w: %s has no id property", ErrMissingID, entity.Name())
	}
	idType := reflect.TypeOf((*ID)(nil)).Elem()
	if idProp.Type() != idType {
		return nil, fmt.Errorf("%w: %s id is %s, repository declared %s",
			ErrIDType, entity.Name(), idProp.Type(), idType)
	}

	return &Meta[T, ID]{
		entity:  entity,
		hooks:   cfg.hooks,
		conv:    cfg.conv,
		ptr:     ptr,
		base:    base,
		id:      idProp,
		version: entity.Version(),
	}, nil
}

// Entity exposes the bound mapping metadata.
func (m *Meta[T, ID]) Entity() *mapping.Entity {
	return m.entity
}

// Converter exposes the conversion service adapters use for raw storage
// values.
func (m *Meta[T, ID]) Converter() convert.Service {
	return m.conv
}

// HasVersion reports whether the entity carries a version property.
func (m *Meta[T, ID]) HasVersion() bool {
	return m.version != nil
}

// HasCallbacks reports whether a dispatcher is wired in. Adapters use
// this to skip per-entity lifecycle work on bulk operations.
func (m *Meta[T, ID]) HasCallbacks() bool {
	return m.hooks != nil
}

// IDOf reads the entity's id.
func (m *Meta[T, ID]) IDOf(entity T) (ID, error) {
	var zero ID
	rv, err := m.structValue(entity)
	if err != nil {
		return zero, err
	}
	return rv.FieldByIndex(m.id.Index()).Interface().(ID), nil
}

// SetID writes the id and returns the updated entity.
func (m *Meta[T, ID]) SetID(entity T, id ID) (T, error) {
	pv, finish, err := m.addressable(entity)
	if err != nil {
		return entity, err
	}
	pv.Elem().FieldByIndex(m.id.Index()).Set(reflect.ValueOf(id))
	return finish(), nil
}

// IsZeroID reports whether id is its type's zero value.
func (m *Meta[T, ID]) IsZeroID(id ID) bool {
	var zero ID
	return id == zero
}

// GenerateID fills a zero-valued string or uuid id with a fresh uuid and
// returns the updated entity. Non-zero ids pass through untouched; other
// id types fail with ErrIDGeneration.
func (m *Meta[T, ID]) GenerateID(entity T) (T, error) {
	pv, finish, err := m.addressable(entity)
	if err != nil {
		return entity, err
	}
	if err := m.ensureID(pv); err != nil {
		return entity, err
	}
	return finish(), nil
}

// VersionOf reads the version property as an int64. The second return is
// false when the entity has no version property.
func (m *Meta[T, ID]) VersionOf(entity T) (int64, bool, error) {
	if m.version == nil {
		return 0, false, nil
	}
	rv, err := m.structValue(entity)
	if err != nil {
		return 0, false, err
	}
	return versionValue(rv.FieldByIndex(m.version.Index())), true, nil
}

// BumpVersion increments the version property and returns the updated
// entity. Entities without a version pass through untouched.
func (m *Meta[T, ID]) BumpVersion(entity T) (T, error) {
	if m.version == nil {
		return entity, nil
	}
	pv, finish, err := m.addressable(entity)
	if err != nil {
		return entity, err
	}
	bumpVersion(pv.Elem().FieldByIndex(m.version.Index()))
	return finish(), nil
}

// Prepared describes one entity ready to store. PrevVersion is the
// version the store must currently hold, zero for new entities;
// NextVersion is the version being written.
type Prepared[T any, ID comparable] struct {
	Entity      T
	ID          ID
	IsNew       bool
	HasVersion  bool
	PrevVersion int64
	NextVersion int64
}

// PrepareSave runs the save-side lifecycle: before-create callbacks for
// new entities, before-save callbacks, id generation and the version
// bump. The returned Prepared carries the state adapters persist and the
// version predicate they must enforce.
func (m *Meta[T, ID]) PrepareSave(ctx context.Context, entity T) (Prepared[T, ID], error) {
	var out Prepared[T, ID]

	pv, finish, err := m.addressable(entity)
	if err != nil {
		return out, err
	}

	isNew, err := m.entity.IsNew(pv.Interface())
	if err != nil {
		return out, err
	}

	if m.hooks != nil {
		if isNew {
			if err := m.dispatchInto(ctx, callback.BeforeCreate, pv); err != nil {
				return out, err
			}
		}
		if err := m.dispatchInto(ctx, callback.BeforeSave, pv); err != nil {
			return out, err
		}
	}

	if err := m.ensureID(pv); err != nil {
		return out, err
	}

	out.IsNew = isNew
	if m.version != nil {
		fv := pv.Elem().FieldByIndex(m.version.Index())
		out.HasVersion = true
		out.PrevVersion = versionValue(fv)
		bumpVersion(fv)
		out.NextVersion = versionValue(fv)
	}
	out.Entity = finish()
	out.ID = pv.Elem().FieldByIndex(m.id.Index()).Interface().(ID)
	return out, nil
}

// AfterSave runs the after-save callbacks for a stored entity.
func (m *Meta[T, ID]) AfterSave(ctx context.Context, entity T) (T, error) {
	return m.dispatch(ctx, callback.AfterSave, entity)
}

// AfterLoad runs the after-load callbacks on an entity read from the
// store.
func (m *Meta[T, ID]) AfterLoad(ctx context.Context, entity T) (T, error) {
	return m.dispatch(ctx, callback.AfterLoad, entity)
}

// BeforeDelete runs the before-delete callbacks. A callback error aborts
// the deletion.
func (m *Meta[T, ID]) BeforeDelete(ctx context.Context, entity T) (T, error) {
	return m.dispatch(ctx, callback.BeforeDelete, entity)
}

// AfterDelete runs the after-delete callbacks once the store dropped the
// entity.
func (m *Meta[T, ID]) AfterDelete(ctx context.Context, entity T) (T, error) {
	return m.dispatch(ctx, callback.AfterDelete, entity)
}

// FromSource instantiates T from raw storage values through the entity's
// creator or reflection.
func (m *Meta[T, ID]) FromSource(src mapping.ValueSource) (T, error) {
	var zero T
	instance, err := m.entity.New(src, m.conv)
	if err != nil {
		return zero, err
	}
	if m.ptr {
		return instance.(T), nil
	}
	return reflect.ValueOf(instance).Elem().Interface().(T), nil
}

// Values extracts the persistent properties keyed by storage name.
func (m *Meta[T, ID]) Values(entity T) (map[string]any, error) {
	pv, _, err := m.addressable(entity)
	if err != nil {
		return nil, err
	}
	acc, err := m.entity.Accessor(pv.Interface())
	if err != nil {
		return nil, err
	}
	return acc.Values(), nil
}

func (m *Meta[T, ID]) dispatch(ctx context.Context, phase callback.Phase, entity T) (T, error) {
	if m.hooks == nil {
		return entity, nil
	}
	pv, finish, err := m.addressable(entity)
	if err != nil {
		return entity, err
	}
	if err := m.dispatchInto(ctx, phase, pv); err != nil {
		return entity, err
	}
	return finish(), nil
}

// dispatchInto runs one phase against the pointed-to entity and folds a
// replacement result back into the same allocation.
func (m *Meta[T, ID]) dispatchInto(ctx context.Context, phase callback.Phase, pv reflect.Value) error {
	cur := pv.Interface()
	res, err := m.hooks.Dispatch(ctx, phase, cur)
	if err != nil {
		return err
	}
	if res != cur {
		pv.Elem().Set(reflect.ValueOf(res).Elem())
	}
	return nil
}

// addressable normalizes T into a pointer the lifecycle can mutate. For
// pointer Ts the original is used directly; value Ts are copied and the
// finish func hands the mutated copy back.
func (m *Meta[T, ID]) addressable(entity T) (reflect.Value, func() T, error) {
	rv := reflect.ValueOf(entity)
	if m.ptr {
		if rv.IsNil() {
			return reflect.Value{}, nil, ErrNilEntity
		}
		return rv, func() T { return entity }, nil
	}
	pv := reflect.New(m.base)
	pv.Elem().Set(rv)
	return pv, func() T { return pv.Elem().Interface().(T) }, nil
}

func (m *Meta[T, ID]) structValue(entity T) (reflect.Value, error) {
	rv := reflect.ValueOf(entity)
	if m.ptr {
		if rv.IsNil() {
			return reflect.Value{}, ErrNilEntity
		}
		rv = rv.Elem()
	}
	return rv, nil
}

func (m *Meta[T, ID]) ensureID(pv reflect.Value) error {
	fv := pv.Elem().FieldByIndex(m.id.Index())
	if !fv.IsZero() {
		return nil
	}
	switch {
	case fv.Type() == uuidType:
		fv.Set(reflect.ValueOf(uuid.New()))
	case fv.Kind() == reflect.String:
		fv.SetString(uuid.NewString())
	default:
		return fmt.Errorf("%w: zero id of type %s on %s", ErrIDGeneration, fv.Type(), m.entity.Name())
	}
	return nil
}

func versionValue(fv reflect.Value) int64 {
	if isUintKind(fv.Kind()) {
		return int64(fv.Uint())
	}
	return fv.Int()
}

func bumpVersion(fv reflect.Value) {
	if isUintKind(fv.Kind()) {
		fv.SetUint(fv.Uint() + 1)
		return
	}
	fv.SetInt(fv.Int() + 1)
}

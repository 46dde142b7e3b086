package memstore

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/datumkit/datum/callback"
	"github.com/datumkit/datum/convert"
	"github.com/datumkit/datum/mapping"
	"github.com/datumkit/datum/repository"
)

const defaultWatchBuffer = 16

// Option configures a Store.
type Option func(*config)

type config struct {
	logger   *slog.Logger
	buffer   int
	metaOpts []repository.MetaOption
}

// WithLogger sets the logger used for watch diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithWatchBuffer sets the per-subscriber event buffer. Subscribers that
// fall behind by more than the buffer lose events.
func WithWatchBuffer(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.buffer = n
		}
	}
}

// WithCallbacks wires lifecycle callbacks into every operation.
func WithCallbacks(d *callback.Dispatcher) Option {
	return func(c *config) {
		c.metaOpts = append(c.metaOpts, repository.WithCallbacks(d))
	}
}

// WithConverter overrides the conversion service for instantiation.
func WithConverter(s convert.Service) Option {
	return func(c *config) {
		c.metaOpts = append(c.metaOpts, repository.WithConverter(s))
	}
}

// Store is an in-memory repository backed by a concurrent map. Entities
// are shallow-copied on the way in and out, so callers and watchers never
// alias the stored state. It implements the crud, paging, streaming and
// watchable contracts.
type Store[T any, ID comparable] struct {
	meta   *repository.Meta[T, ID]
	items  *xsync.MapOf[ID, T]
	hub    *hub[T, ID]
	logger *slog.Logger
	ptr    bool
}

// New builds a store for T using the mapping context's metadata.
func New[T any, ID comparable](mctx *mapping.Context, opts ...Option) (*Store[T, ID], error) {
	cfg := config{logger: slog.Default(), buffer: defaultWatchBuffer}
	for _, opt := range opts {
		opt(&cfg)
	}
	meta, err := repository.NewMeta[T, ID](mctx, cfg.metaOpts...)
	if err != nil {
		return nil, err
	}
	return &Store[T, ID]{
		meta:   meta,
		items:  xsync.NewMapOf[ID, T](),
		hub:    newHub[T, ID](cfg.logger, cfg.buffer),
		logger: cfg.logger,
		ptr:    reflect.TypeOf((*T)(nil)).Elem().Kind() == reflect.Pointer,
	}, nil
}

// Meta exposes the lifecycle binding, mainly for decorators and health
// probes.
func (s *Store[T, ID]) Meta() *repository.Meta[T, ID] {
	return s.meta
}

// Save runs the save lifecycle and stores the entity, enforcing the
// version predicate for versioned entities.
func (s *Store[T, ID]) Save(ctx context.Context, entity T) (T, error) {
	var zero T
	prep, err := s.meta.PrepareSave(ctx, entity)
	if err != nil {
		return zero, err
	}

	var conflict error
	s.items.Compute(prep.ID, func(old T, loaded bool) (T, bool) {
		if prep.HasVersion {
			current := int64(0)
			if loaded {
				current, _, _ = s.meta.VersionOf(old)
			}
			if current != prep.PrevVersion {
				conflict = fmt.Errorf("%w: %s id=%v holds version %d, save expected %d",
					repository.ErrVersionConflict, s.meta.Entity().Name(), prep.ID, current, prep.PrevVersion)
				return old, !loaded
			}
		}
		return s.clone(prep.Entity), false
	})
	if conflict != nil {
		return zero, conflict
	}

	saved, err := s.meta.AfterSave(ctx, prep.Entity)
	if err != nil {
		return zero, err
	}
	s.hub.publish(repository.Event[T, ID]{Kind: repository.EventSaved, ID: prep.ID, Entity: s.clone(saved)})
	return saved, nil
}

// SaveAll saves entities in order, stopping at the first failure.
// Entities saved before the failure stay saved.
func (s *Store[T, ID]) SaveAll(ctx context.Context, entities []T) ([]T, error) {
	out := make([]T, 0, len(entities))
	for _, e := range entities {
		saved, err := s.Save(ctx, e)
		if err != nil {
			return out, err
		}
		out = append(out, saved)
	}
	return out, nil
}

// FindByID loads one entity, reporting ErrNotFound for absent ids.
func (s *Store[T, ID]) FindByID(ctx context.Context, id ID) (T, error) {
	var zero T
	v, ok := s.items.Load(id)
	if !ok {
		return zero, fmt.Errorf("%w: %s id=%v", repository.ErrNotFound, s.meta.Entity().Name(), id)
	}
	return s.meta.AfterLoad(ctx, s.clone(v))
}

// FindAll returns every stored entity in no particular order.
func (s *Store[T, ID]) FindAll(ctx context.Context) ([]T, error) {
	out := s.snapshot()
	for i, v := range out {
		loaded, err := s.meta.AfterLoad(ctx, v)
		if err != nil {
			return nil, err
		}
		out[i] = loaded
	}
	return out, nil
}

// FindAllByID returns the entities whose ids are present, skipping the
// rest.
func (s *Store[T, ID]) FindAllByID(ctx context.Context, ids []ID) ([]T, error) {
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		v, ok := s.items.Load(id)
		if !ok {
			continue
		}
		loaded, err := s.meta.AfterLoad(ctx, s.clone(v))
		if err != nil {
			return nil, err
		}
		out = append(out, loaded)
	}
	return out, nil
}

func (s *Store[T, ID]) ExistsByID(ctx context.Context, id ID) (bool, error) {
	_, ok := s.items.Load(id)
	return ok, nil
}

func (s *Store[T, ID]) Count(ctx context.Context) (int64, error) {
	return int64(s.items.Size()), nil
}

// DeleteByID removes one entity. Absent ids are not an error. When the
// entity exists, before-delete callbacks run first and may abort the
// deletion.
func (s *Store[T, ID]) DeleteByID(ctx context.Context, id ID) error {
	v, ok := s.items.Load(id)
	if !ok {
		return nil
	}
	if _, err := s.meta.BeforeDelete(ctx, s.clone(v)); err != nil {
		return err
	}
	if _, loaded := s.items.LoadAndDelete(id); !loaded {
		return nil
	}
	if _, err := s.meta.AfterDelete(ctx, v); err != nil {
		return err
	}
	s.hub.publish(repository.Event[T, ID]{Kind: repository.EventDeleted, ID: id})
	return nil
}

// Delete removes the given entity by id, enforcing the version predicate
// for versioned entities.
func (s *Store[T, ID]) Delete(ctx context.Context, entity T) error {
	id, err := s.meta.IDOf(entity)
	if err != nil {
		return err
	}
	if s.meta.IsZeroID(id) {
		return fmt.Errorf("%w: delete %s", repository.ErrMissingID, s.meta.Entity().Name())
	}
	if _, err := s.meta.BeforeDelete(ctx, entity); err != nil {
		return err
	}

	var conflict error
	deleted := false
	s.items.Compute(id, func(old T, loaded bool) (T, bool) {
		if !loaded {
			return old, true
		}
		if s.meta.HasVersion() {
			have, _, verr := s.meta.VersionOf(old)
			if verr != nil {
				conflict = verr
				return old, false
			}
			want, _, verr := s.meta.VersionOf(entity)
			if verr != nil {
				conflict = verr
				return old, false
			}
			if have != want {
				conflict = fmt.Errorf("%w: %s id=%v holds version %d, delete carried %d",
					repository.ErrVersionConflict, s.meta.Entity().Name(), id, have, want)
				return old, false
			}
		}
		deleted = true
		return old, true
	})
	if conflict != nil {
		return conflict
	}
	if deleted {
		if _, err := s.meta.AfterDelete(ctx, entity); err != nil {
			return err
		}
		s.hub.publish(repository.Event[T, ID]{Kind: repository.EventDeleted, ID: id})
	}
	return nil
}

// DeleteAllByID removes the given ids, ignoring absent ones.
func (s *Store[T, ID]) DeleteAllByID(ctx context.Context, ids []ID) error {
	for _, id := range ids {
		if err := s.DeleteByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// DeleteAll removes every entity, running the delete lifecycle per
// entity.
func (s *Store[T, ID]) DeleteAll(ctx context.Context) error {
	var ids []ID
	s.items.Range(func(id ID, _ T) bool {
		ids = append(ids, id)
		return true
	})
	return s.DeleteAllByID(ctx, ids)
}

// FindAllSorted returns every entity ordered by the given sort.
func (s *Store[T, ID]) FindAllSorted(ctx context.Context, sort repository.Sort) ([]T, error) {
	out, err := s.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	if err := repository.ApplySort(s.meta.Entity(), out, sort); err != nil {
		return nil, err
	}
	return out, nil
}

// FindPage returns one page of the sorted result set.
func (s *Store[T, ID]) FindPage(ctx context.Context, page repository.Pageable) (repository.Page[T], error) {
	out, err := s.FindAllSorted(ctx, page.Sort)
	if err != nil {
		return repository.Page[T]{}, err
	}
	return repository.Paginate(out, page), nil
}

// StreamAll delivers a snapshot of the store over a channel. The channel
// closes once the snapshot is exhausted, an error was delivered or ctx
// ends.
func (s *Store[T, ID]) StreamAll(ctx context.Context) (<-chan repository.Item[T], error) {
	snapshot := s.snapshot()
	out := make(chan repository.Item[T])
	go func() {
		defer close(out)
		for _, v := range snapshot {
			loaded, err := s.meta.AfterLoad(ctx, v)
			if err != nil {
				select {
				case out <- repository.Item[T]{Err: err}:
				case <-ctx.Done():
				}
				return
			}
			select {
			case out <- repository.Item[T]{Value: loaded}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Watch subscribes to change events until ctx ends. Events are emitted
// only after a mutation succeeded; subscribers that fall behind lose
// events rather than blocking writers.
func (s *Store[T, ID]) Watch(ctx context.Context) (<-chan repository.Event[T, ID], error) {
	return s.hub.subscribe(ctx), nil
}

func (s *Store[T, ID]) snapshot() []T {
	out := make([]T, 0, s.items.Size())
	s.items.Range(func(_ ID, v T) bool {
		out = append(out, s.clone(v))
		return true
	})
	return out
}

// clone shallow-copies pointer entities so the stored state is never
// aliased. Value entities copy on assignment already.
func (s *Store[T, ID]) clone(entity T) T {
	if !s.ptr {
		return entity
	}
	rv := reflect.ValueOf(entity)
	if rv.IsNil() {
		return entity
	}
	cp := reflect.New(rv.Type().Elem())
	cp.Elem().Set(rv.Elem())
	return cp.Interface().(T)
}

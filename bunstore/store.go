package bunstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/datumkit/datum/callback"
	"github.com/datumkit/datum/convert"
	"github.com/datumkit/datum/mapping"
	"github.com/datumkit/datum/repository"
)

const defaultBatchSize = 100

// Option configures a Store.
type Option func(*config)

type config struct {
	batchSize int
	metaOpts  []repository.MetaOption
}

// WithBatchSize sets how many rows StreamAll loads per query.
func WithBatchSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithCallbacks wires lifecycle callbacks into every operation.
func WithCallbacks(d *callback.Dispatcher) Option {
	return func(c *config) {
		c.metaOpts = append(c.metaOpts, repository.WithCallbacks(d))
	}
}

// WithConverter overrides the conversion service used to materialize
// rows.
func WithConverter(s convert.Service) Option {
	return func(c *config) {
		c.metaOpts = append(c.metaOpts, repository.WithConverter(s))
	}
}

// Store is a SQL repository over a bun database handle. It implements
// the crud, paging and streaming contracts. The handle may be a
// *bun.DB or an open transaction.
type Store[T any, ID comparable] struct {
	meta  *repository.Meta[T, ID]
	db    bun.IDB
	batch int

	table   string
	idCol   string
	verCol  string
	columns []string
	setCols []string
}

// New builds a store for T over db using the mapping context's
// metadata. Update statements skip the id column and properties marked
// immutable.
func New[T any, ID comparable](mctx *mapping.Context, db bun.IDB, opts ...Option) (*Store[T, ID], error) {
	if db == nil {
		return nil, errors.New("bunstore: nil database handle")
	}
	cfg := config{batchSize: defaultBatchSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	meta, err := repository.NewMeta[T, ID](mctx, cfg.metaOpts...)
	if err != nil {
		return nil, err
	}

	entity := meta.Entity()
	s := &Store[T, ID]{
		meta:  meta,
		db:    db,
		batch: cfg.batchSize,
		table: entity.Name(),
		idCol: entity.ID().StorageName(),
	}
	if v := entity.Version(); v != nil {
		s.verCol = v.StorageName()
	}
	for _, p := range entity.Persistent() {
		s.columns = append(s.columns, p.StorageName())
		if p.IsID() || p.IsImmutable() {
			continue
		}
		s.setCols = append(s.setCols, p.StorageName())
	}
	return s, nil
}

// Meta exposes the lifecycle binding, mainly for decorators and health
// probes.
func (s *Store[T, ID]) Meta() *repository.Meta[T, ID] { return s.meta }

// DB exposes the underlying handle for schema management and raw
// queries.
func (s *Store[T, ID]) DB() bun.IDB { return s.db }

// load materializes one row and runs the after-load callbacks.
func (s *Store[T, ID]) load(ctx context.Context, row map[string]any) (T, error) {
	var zero T
	entity, err := s.meta.FromSource(mapping.MapSource(row))
	if err != nil {
		return zero, fmt.Errorf("bunstore: materialize %s: %w", s.table, err)
	}
	return s.meta.AfterLoad(ctx, entity)
}

// Save runs the save lifecycle and writes the entity. New versioned
// entities insert, existing ones update under the version predicate.
// Entities without a version property upsert.
func (s *Store[T, ID]) Save(ctx context.Context, entity T) (T, error) {
	var zero T
	prep, err := s.meta.PrepareSave(ctx, entity)
	if err != nil {
		return zero, err
	}
	values, err := s.meta.Values(prep.Entity)
	if err != nil {
		return zero, err
	}

	switch {
	case prep.HasVersion && prep.IsNew:
		err = s.insertNew(ctx, prep, values)
	case prep.HasVersion:
		err = s.updateVersioned(ctx, prep, values)
	default:
		err = s.upsert(ctx, prep, values)
	}
	if err != nil {
		return zero, err
	}
	return s.meta.AfterSave(ctx, prep.Entity)
}

// insertNew writes a first-version row. An existing row means the
// caller's zero-version snapshot is stale.
func (s *Store[T, ID]) insertNew(ctx context.Context, prep repository.Prepared[T, ID], values map[string]any) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		exists, err := s.selectByID(tx, prep.ID).Exists(ctx)
		if err != nil {
			return fmt.Errorf("bunstore: check %s: %w", s.table, err)
		}
		if exists {
			return fmt.Errorf("%w: %s id=%v already exists, save carried version %d",
				repository.ErrVersionConflict, s.table, prep.ID, prep.PrevVersion)
		}
		if _, err := s.insertQuery(tx, values).Exec(ctx); err != nil {
			return fmt.Errorf("bunstore: insert %s: %w", s.table, err)
		}
		return nil
	})
}

func (s *Store[T, ID]) updateVersioned(ctx context.Context, prep repository.Prepared[T, ID], values map[string]any) error {
	res, err := s.updateQuery(s.db, prep.ID, &prep.PrevVersion, s.setValues(values)).Exec(ctx)
	if err != nil {
		return fmt.Errorf("bunstore: update %s: %w", s.table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("bunstore: update %s: %w", s.table, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s id=%v no longer holds version %d",
			repository.ErrVersionConflict, s.table, prep.ID, prep.PrevVersion)
	}
	return nil
}

// upsert updates the row when it exists and inserts it otherwise.
func (s *Store[T, ID]) upsert(ctx context.Context, prep repository.Prepared[T, ID], values map[string]any) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		set := s.setValues(values)
		if len(set) > 0 {
			res, err := s.updateQuery(tx, prep.ID, nil, set).Exec(ctx)
			if err != nil {
				return fmt.Errorf("bunstore: update %s: %w", s.table, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("bunstore: update %s: %w", s.table, err)
			}
			if n > 0 {
				return nil
			}
		} else if exists, err := s.selectByID(tx, prep.ID).Exists(ctx); err != nil {
			return fmt.Errorf("bunstore: check %s: %w", s.table, err)
		} else if exists {
			return nil
		}
		if _, err := s.insertQuery(tx, values).Exec(ctx); err != nil {
			return fmt.Errorf("bunstore: insert %s: %w", s.table, err)
		}
		return nil
	})
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
	row := make(map[string]any)
	if err := s.selectByID(s.db, id).Scan(ctx, &row); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return zero, fmt.Errorf("%w: %s id=%v", repository.ErrNotFound, s.table, id)
		}
		return zero, fmt.Errorf("bunstore: select %s: %w", s.table, err)
	}
	return s.load(ctx, row)
}

// FindAll returns every row, ordered by id.
func (s *Store[T, ID]) FindAll(ctx context.Context) ([]T, error) {
	return s.scanAll(ctx, s.selectBase(s.db).OrderExpr("? ASC", bun.Ident(s.idCol)))
}

// FindAllByID returns the entities whose ids have rows, skipping the
// rest.
func (s *Store[T, ID]) FindAllByID(ctx context.Context, ids []ID) ([]T, error) {
	if len(ids) == 0 {
		return []T{}, nil
	}
	q := s.selectBase(s.db).
		Where("? IN (?)", bun.Ident(s.idCol), bun.In(ids)).
		OrderExpr("? ASC", bun.Ident(s.idCol))
	return s.scanAll(ctx, q)
}

func (s *Store[T, ID]) ExistsByID(ctx context.Context, id ID) (bool, error) {
	exists, err := s.selectByID(s.db, id).Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("bunstore: check %s: %w", s.table, err)
	}
	return exists, nil
}

func (s *Store[T, ID]) Count(ctx context.Context) (int64, error) {
	n, err := s.db.NewSelect().Table(s.table).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("bunstore: count %s: %w", s.table, err)
	}
	return int64(n), nil
}

// DeleteByID removes one row. Absent ids are not an error. When
// callbacks are registered the entity is loaded first so the delete
// lifecycle can run.
func (s *Store[T, ID]) DeleteByID(ctx context.Context, id ID) error {
	if !s.meta.HasCallbacks() {
		if _, err := s.deleteQuery(s.db, id, nil).Exec(ctx); err != nil {
			return fmt.Errorf("bunstore: delete %s: %w", s.table, err)
		}
		return nil
	}

	entity, err := s.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if _, err := s.meta.BeforeDelete(ctx, entity); err != nil {
		return err
	}
	if _, err := s.deleteQuery(s.db, id, nil).Exec(ctx); err != nil {
		return fmt.Errorf("bunstore: delete %s: %w", s.table, err)
	}
	_, err = s.meta.AfterDelete(ctx, entity)
	return err
}

// Delete removes the given entity, enforcing the version predicate for
// versioned entities.
func (s *Store[T, ID]) Delete(ctx context.Context, entity T) error {
	id, err := s.meta.IDOf(entity)
	if err != nil {
		return err
	}
	if s.meta.IsZeroID(id) {
		return fmt.Errorf("%w: delete %s", repository.ErrMissingID, s.table)
	}
	if _, err := s.meta.BeforeDelete(ctx, entity); err != nil {
		return err
	}

	deleted := false
	if s.meta.HasVersion() {
		want, _, err := s.meta.VersionOf(entity)
		if err != nil {
			return err
		}
		err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			var have int64
			err := tx.NewSelect().Table(s.table).Column(s.verCol).
				Where("? = ?", bun.Ident(s.idCol), id).Scan(ctx, &have)
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("bunstore: read %s version: %w", s.table, err)
			}
			if have != want {
				return fmt.Errorf("%w: %s id=%v holds version %d, delete carried %d",
					repository.ErrVersionConflict, s.table, id, have, want)
			}
			res, err := s.deleteQuery(tx, id, &want).Exec(ctx)
			if err != nil {
				return fmt.Errorf("bunstore: delete %s: %w", s.table, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("bunstore: delete %s: %w", s.table, err)
			}
			if n == 0 {
				return fmt.Errorf("%w: %s id=%v no longer holds version %d",
					repository.ErrVersionConflict, s.table, id, want)
			}
			deleted = true
			return nil
		})
		if err != nil {
			return err
		}
	} else {
		res, err := s.deleteQuery(s.db, id, nil).Exec(ctx)
		if err != nil {
			return fmt.Errorf("bunstore: delete %s: %w", s.table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("bunstore: delete %s: %w", s.table, err)
		}
		deleted = n > 0
	}

	if deleted {
		if _, err := s.meta.AfterDelete(ctx, entity); err != nil {
			return err
		}
	}
	return nil
}

// DeleteAllByID removes the given ids, ignoring absent ones. Without
// callbacks the ids delete in one statement.
func (s *Store[T, ID]) DeleteAllByID(ctx context.Context, ids []ID) error {
	if len(ids) == 0 {
		return nil
	}
	if !s.meta.HasCallbacks() {
		q := s.db.NewDelete().Table(s.table).
			Where("? IN (?)", bun.Ident(s.idCol), bun.In(ids))
		if _, err := q.Exec(ctx); err != nil {
			return fmt.Errorf("bunstore: delete %s: %w", s.table, err)
		}
		return nil
	}
	for _, id := range ids {
		if err := s.DeleteByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// DeleteAll removes every row. Without callbacks the table clears in
// one statement; with callbacks each entity runs the delete lifecycle.
func (s *Store[T, ID]) DeleteAll(ctx context.Context) error {
	if !s.meta.HasCallbacks() {
		if _, err := s.deleteAllQuery(s.db).Exec(ctx); err != nil {
			return fmt.Errorf("bunstore: delete %s: %w", s.table, err)
		}
		return nil
	}

	var ids []ID
	err := s.db.NewSelect().Table(s.table).Column(s.idCol).Scan(ctx, &ids)
	if err != nil {
		return fmt.Errorf("bunstore: list %s ids: %w", s.table, err)
	}
	return s.DeleteAllByID(ctx, ids)
}

// FindAllSorted returns every row ordered by the given sort, resolved
// against mapping metadata and pushed down to SQL.
func (s *Store[T, ID]) FindAllSorted(ctx context.Context, sort repository.Sort) ([]T, error) {
	q, err := s.sortedQuery(s.db, sort)
	if err != nil {
		return nil, err
	}
	return s.scanAll(ctx, q)
}

// FindPage returns one page of the sorted result set. Sorting, limit
// and offset all run in SQL; the total comes from the same query
// without them.
func (s *Store[T, ID]) FindPage(ctx context.Context, page repository.Pageable) (repository.Page[T], error) {
	q, err := s.pageQuery(s.db, page)
	if err != nil {
		return repository.Page[T]{}, err
	}

	var rows []map[string]any
	total, err := q.ScanAndCount(ctx, &rows)
	if err != nil {
		return repository.Page[T]{}, fmt.Errorf("bunstore: page %s: %w", s.table, err)
	}

	content := make([]T, 0, len(rows))
	for _, row := range rows {
		entity, err := s.load(ctx, row)
		if err != nil {
			return repository.Page[T]{}, err
		}
		content = append(content, entity)
	}
	return repository.Page[T]{
		Content:       content,
		Number:        page.Page,
		Size:          page.Size,
		TotalElements: int64(total),
	}, nil
}

// StreamAll delivers the table over a channel, loading batches of rows
// ordered by id. The channel closes once the table is exhausted, an
// error was delivered or ctx ends.
func (s *Store[T, ID]) StreamAll(ctx context.Context) (<-chan repository.Item[T], error) {
	out := make(chan repository.Item[T])
	go func() {
		defer close(out)
		for offset := 0; ; offset += s.batch {
			var rows []map[string]any
			err := s.selectBase(s.db).
				OrderExpr("? ASC", bun.Ident(s.idCol)).
				Limit(s.batch).Offset(offset).
				Scan(ctx, &rows)
			if err != nil {
				select {
				case out <- repository.Item[T]{Err: fmt.Errorf("bunstore: stream %s: %w", s.table, err)}:
				case <-ctx.Done():
				}
				return
			}
			for _, row := range rows {
				entity, err := s.load(ctx, row)
				if err != nil {
					select {
					case out <- repository.Item[T]{Err: err}:
					case <-ctx.Done():
					}
					return
				}
				select {
				case out <- repository.Item[T]{Value: entity}:
				case <-ctx.Done():
					return
				}
			}
			if len(rows) < s.batch {
				return
			}
		}
	}()
	return out, nil
}

func (s *Store[T, ID]) scanAll(ctx context.Context, q *bun.SelectQuery) ([]T, error) {
	var rows []map[string]any
	if err := q.Scan(ctx, &rows); err != nil {
		return nil, fmt.Errorf("bunstore: select %s: %w", s.table, err)
	}
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		entity, err := s.load(ctx, row)
		if err != nil {
			return nil, err
		}
		out = append(out, entity)
	}
	return out, nil
}

// setValues narrows an accessor value map to the updatable columns.
func (s *Store[T, ID]) setValues(values map[string]any) map[string]any {
	set := make(map[string]any, len(s.setCols))
	for _, col := range s.setCols {
		if v, ok := values[col]; ok {
			set[col] = v
		}
	}
	return set
}

// column resolves a sort property to its storage name, accepting the
// property or the storage name.
func (s *Store[T, ID]) column(name string) (string, error) {
	entity := s.meta.Entity()
	if p, ok := entity.Property(name); ok {
		return p.StorageName(), nil
	}
	if p, ok := entity.PropertyByStorageName(name); ok {
		return p.StorageName(), nil
	}
	return "", fmt.Errorf("%w: sort property %q on %s", mapping.ErrNoSuchProperty, name, s.table)
}

// selectBase lists the mapped columns explicitly so rows decode by
// storage name regardless of schema extras.
func (s *Store[T, ID]) selectBase(db bun.IDB) *bun.SelectQuery {
	return db.NewSelect().Table(s.table).Column(s.columns...)
}

func (s *Store[T, ID]) selectByID(db bun.IDB, id ID) *bun.SelectQuery {
	return s.selectBase(db).Where("? = ?", bun.Ident(s.idCol), id)
}

func (s *Store[T, ID]) insertQuery(db bun.IDB, values map[string]any) *bun.InsertQuery {
	return db.NewInsert().Model(&values).Table(s.table)
}

// updateQuery builds the SET list from the updatable columns and the
// WHERE clause from the id, plus the version predicate when version is
// non-nil.
func (s *Store[T, ID]) updateQuery(db bun.IDB, id ID, version *int64, set map[string]any) *bun.UpdateQuery {
	q := db.NewUpdate().Model(&set).Table(s.table).
		Where("? = ?", bun.Ident(s.idCol), id)
	if version != nil {
		q = q.Where("? = ?", bun.Ident(s.verCol), *version)
	}
	return q
}

func (s *Store[T, ID]) deleteQuery(db bun.IDB, id ID, version *int64) *bun.DeleteQuery {
	q := db.NewDelete().Table(s.table).
		Where("? = ?", bun.Ident(s.idCol), id)
	if version != nil {
		q = q.Where("? = ?", bun.Ident(s.verCol), *version)
	}
	return q
}

// deleteAllQuery clears the table. The tautological predicate satisfies
// bun's unguarded-delete check.
func (s *Store[T, ID]) deleteAllQuery(db bun.IDB) *bun.DeleteQuery {
	return db.NewDelete().Table(s.table).Where("1 = 1")
}

func (s *Store[T, ID]) sortedQuery(db bun.IDB, sort repository.Sort) (*bun.SelectQuery, error) {
	return s.applySort(s.selectBase(db), sort)
}

func (s *Store[T, ID]) pageQuery(db bun.IDB, page repository.Pageable) (*bun.SelectQuery, error) {
	q, err := s.applySort(s.selectBase(db), page.Sort)
	if err != nil {
		return nil, err
	}
	if page.Size > 0 {
		q = q.Limit(page.Size).Offset(page.Offset())
	}
	return q, nil
}

// applySort appends the sort's ORDER BY expressions. The id column is
// always the final sort key so pages stay stable across queries.
func (s *Store[T, ID]) applySort(q *bun.SelectQuery, sort repository.Sort) (*bun.SelectQuery, error) {
	for _, o := range sort.Orders {
		col, err := s.column(o.Property)
		if err != nil {
			return nil, err
		}
		expr := "? ASC"
		if o.Direction == repository.Descending {
			expr = "? DESC"
		}
		q = q.OrderExpr(expr, bun.Ident(col))
	}
	return q.OrderExpr("? ASC", bun.Ident(s.idCol)), nil
}

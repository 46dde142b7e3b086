package etcdstore

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/datumkit/datum/callback"
	"github.com/datumkit/datum/mapping"
	"github.com/datumkit/datum/repository"
)

const (
	defaultNamespace = "datum"
	streamBatchSize  = 100
	casAttempts      = 3
)

// Config configures the etcd connection and the store's behavior.
type Config struct {
	// Endpoints lists the etcd cluster members.
	Endpoints []string

	// Namespace is the first segment of every key. Defaults to "datum".
	Namespace string

	// DialTimeout bounds connection establishment. Defaults to 5s.
	DialTimeout time.Duration

	// TLS enables secure connections when set.
	TLS *tls.Config

	// Callbacks wires lifecycle callbacks into every operation.
	Callbacks *callback.Dispatcher

	// Logger receives watch diagnostics. Defaults to slog.Default.
	Logger *slog.Logger
}

// Store is an etcd-backed repository. Entities live JSON-encoded under
// /{namespace}/{entity}/{id}; reads and counts use prefix queries, saves
// of versioned entities use ModRevision transactions for optimistic
// locking, and Watch rides etcd's native watch stream, so events are
// visible across every process sharing the cluster.
type Store[T any, ID comparable] struct {
	client *clientv3.Client
	meta   *repository.Meta[T, ID]
	logger *slog.Logger
	name   string
	ns     string
	ptr    bool
	base   reflect.Type
	owned  bool
}

// New connects to etcd, verifies connectivity and builds a store for T.
func New[T any, ID comparable](mctx *mapping.Context, cfg Config) (*Store[T, ID], error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("etcd endpoints cannot be empty")
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = 5 * time.Second
	}

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: dialTimeout,
		TLS:         cfg.TLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if _, err := cli.Get(ctx, "health-check"); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		_ = cli.Close()
		return nil, fmt.Errorf("etcd health check failed: %w", err)
	}

	s, err := NewWithClient[T, ID](mctx, cli, cfg)
	if err != nil {
		_ = cli.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewWithClient builds a store over an existing client. Close then leaves
// the client open for its other users.
func NewWithClient[T any, ID comparable](mctx *mapping.Context, cli *clientv3.Client, cfg Config) (*Store[T, ID], error) {
	if cfg.Namespace == "" {
		cfg.Namespace = defaultNamespace
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var metaOpts []repository.MetaOption
	if cfg.Callbacks != nil {
		metaOpts = append(metaOpts, repository.WithCallbacks(cfg.Callbacks))
	}
	meta, err := repository.NewMeta[T, ID](mctx, metaOpts...)
	if err != nil {
		return nil, err
	}

	t := reflect.TypeOf((*T)(nil)).Elem()
	ptr := t.Kind() == reflect.Pointer
	base := t
	if ptr {
		base = t.Elem()
	}

	return &Store[T, ID]{
		client: cli,
		meta:   meta,
		logger: cfg.Logger,
		name:   meta.Entity().Name(),
		ns:     cfg.Namespace,
		ptr:    ptr,
		base:   base,
	}, nil
}

// Client exposes the underlying connection, mainly for health probes.
func (s *Store[T, ID]) Client() *clientv3.Client { return s.client }

// Meta exposes the lifecycle binding.
func (s *Store[T, ID]) Meta() *repository.Meta[T, ID] { return s.meta }

// Close releases the connection when the store owns it.
func (s *Store[T, ID]) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}

// key builds /namespace/entity/id.
func (s *Store[T, ID]) key(id ID) string {
	return fmt.Sprintf("/%s/%s/%v", s.ns, s.name, id)
}

func (s *Store[T, ID]) prefix() string {
	return fmt.Sprintf("/%s/%s/", s.ns, s.name)
}

func (s *Store[T, ID]) encode(entity T) ([]byte, error) {
	data, err := json.Marshal(entity)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", s.name, err)
	}
	return data, nil
}

func (s *Store[T, ID]) decode(data []byte) (T, error) {
	var zero T
	target := reflect.New(s.base)
	if err := json.Unmarshal(data, target.Interface()); err != nil {
		return zero, fmt.Errorf("failed to decode %s: %w", s.name, err)
	}
	if s.ptr {
		return target.Interface().(T), nil
	}
	return target.Elem().Interface().(T), nil
}

// Save stores the entity after running the save lifecycle. Versioned
// entities commit through a ModRevision transaction, so concurrent
// writers and stale snapshots fail with ErrVersionConflict.
func (s *Store[T, ID]) Save(ctx context.Context, entity T) (T, error) {
	var zero T
	prep, err := s.meta.PrepareSave(ctx, entity)
	if err != nil {
		return zero, err
	}
	data, err := s.encode(prep.Entity)
	if err != nil {
		return zero, err
	}
	key := s.key(prep.ID)

	if prep.HasVersion {
		if err := s.saveVersioned(ctx, key, data, prep); err != nil {
			return zero, err
		}
	} else {
		if _, err := s.client.Put(ctx, key, string(data)); err != nil {
			return zero, fmt.Errorf("failed to store %s: %w", s.name, err)
		}
	}
	return s.meta.AfterSave(ctx, prep.Entity)
}

func (s *Store[T, ID]) saveVersioned(ctx context.Context, key string, data []byte, prep repository.Prepared[T, ID]) error {
	for i := 0; i < casAttempts; i++ {
		resp, err := s.client.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("failed to read %s for version check: %w", s.name, err)
		}

		if len(resp.Kvs) == 0 {
			if prep.PrevVersion != 0 {
				return fmt.Errorf("%w: %s id=%v is gone, save expected version %d",
					repository.ErrVersionConflict, s.name, prep.ID, prep.PrevVersion)
			}
			txn, err := s.client.Txn(ctx).
				If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
				Then(clientv3.OpPut(key, string(data))).
				Commit()
			if err != nil {
				return fmt.Errorf("failed to store %s: %w", s.name, err)
			}
			if txn.Succeeded {
				return nil
			}
			continue
		}

		kv := resp.Kvs[0]
		stored, err := s.decode(kv.Value)
		if err != nil {
			return err
		}
		v, _, err := s.meta.VersionOf(stored)
		if err != nil {
			return err
		}
		if v != prep.PrevVersion {
			return fmt.Errorf("%w: %s id=%v holds version %d, save expected %d",
				repository.ErrVersionConflict, s.name, prep.ID, v, prep.PrevVersion)
		}

		txn, err := s.client.Txn(ctx).
			If(clientv3.Compare(clientv3.ModRevision(key), "=", kv.ModRevision)).
			Then(clientv3.OpPut(key, string(data))).
			Commit()
		if err != nil {
			return fmt.Errorf("failed to store %s: %w", s.name, err)
		}
		if txn.Succeeded {
			return nil
		}
	}
	return fmt.Errorf("%w: %s id=%v kept changing under concurrent writers",
		repository.ErrVersionConflict, s.name, prep.ID)
}

// SaveAll saves entities in order, stopping at the first failure.
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

func (s *Store[T, ID]) FindByID(ctx context.Context, id ID) (T, error) {
	var zero T
	resp, err := s.client.Get(ctx, s.key(id))
	if err != nil {
		return zero, fmt.Errorf("failed to read %s: %w", s.name, err)
	}
	if len(resp.Kvs) == 0 {
		return zero, fmt.Errorf("%w: %s id=%v", repository.ErrNotFound, s.name, id)
	}
	entity, err := s.decode(resp.Kvs[0].Value)
	if err != nil {
		return zero, err
	}
	return s.meta.AfterLoad(ctx, entity)
}

func (s *Store[T, ID]) FindAll(ctx context.Context) ([]T, error) {
	resp, err := s.client.Get(ctx, s.prefix(), clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.name, err)
	}
	out := make([]T, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		entity, err := s.decode(kv.Value)
		if err != nil {
			return nil, err
		}
		loaded, err := s.meta.AfterLoad(ctx, entity)
		if err != nil {
			return nil, err
		}
		out = append(out, loaded)
	}
	return out, nil
}

func (s *Store[T, ID]) FindAllByID(ctx context.Context, ids []ID) ([]T, error) {
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		entity, err := s.FindByID(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, entity)
	}
	return out, nil
}

func (s *Store[T, ID]) ExistsByID(ctx context.Context, id ID) (bool, error) {
	resp, err := s.client.Get(ctx, s.key(id), clientv3.WithCountOnly())
	if err != nil {
		return false, fmt.Errorf("failed to check %s existence: %w", s.name, err)
	}
	return resp.Count > 0, nil
}

func (s *Store[T, ID]) Count(ctx context.Context) (int64, error) {
	resp, err := s.client.Get(ctx, s.prefix(), clientv3.WithPrefix(), clientv3.WithCountOnly())
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", s.name, err)
	}
	return resp.Count, nil
}

// DeleteByID removes one entity. Absent ids are not an error. When the
// entity exists, before-delete callbacks run first and may abort the
// deletion.
func (s *Store[T, ID]) DeleteByID(ctx context.Context, id ID) error {
	resp, err := s.client.Get(ctx, s.key(id))
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", s.name, err)
	}
	if len(resp.Kvs) == 0 {
		return nil
	}
	entity, err := s.decode(resp.Kvs[0].Value)
	if err != nil {
		return err
	}
	if _, err := s.meta.BeforeDelete(ctx, entity); err != nil {
		return err
	}
	if _, err := s.client.Delete(ctx, s.key(id)); err != nil {
		return fmt.Errorf("failed to delete %s: %w", s.name, err)
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
		return fmt.Errorf("%w: delete %s", repository.ErrMissingID, s.name)
	}
	if _, err := s.meta.BeforeDelete(ctx, entity); err != nil {
		return err
	}
	key := s.key(id)

	for i := 0; i < casAttempts; i++ {
		resp, err := s.client.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("failed to read %s for version check: %w", s.name, err)
		}
		if len(resp.Kvs) == 0 {
			return nil
		}
		kv := resp.Kvs[0]

		if s.meta.HasVersion() {
			stored, err := s.decode(kv.Value)
			if err != nil {
				return err
			}
			have, _, err := s.meta.VersionOf(stored)
			if err != nil {
				return err
			}
			want, _, err := s.meta.VersionOf(entity)
			if err != nil {
				return err
			}
			if have != want {
				return fmt.Errorf("%w: %s id=%v holds version %d, delete carried %d",
					repository.ErrVersionConflict, s.name, id, have, want)
			}
		}

		txn, err := s.client.Txn(ctx).
			If(clientv3.Compare(clientv3.ModRevision(key), "=", kv.ModRevision)).
			Then(clientv3.OpDelete(key)).
			Commit()
		if err != nil {
			return fmt.Errorf("failed to delete %s: %w", s.name, err)
		}
		if txn.Succeeded {
			_, err = s.meta.AfterDelete(ctx, entity)
			return err
		}
	}
	return fmt.Errorf("%w: %s id=%v kept changing under concurrent writers",
		repository.ErrVersionConflict, s.name, id)
}

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
	resp, err := s.client.Get(ctx, s.prefix(), clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", s.name, err)
	}
	for _, kv := range resp.Kvs {
		id, err := s.idFromKey(string(kv.Key))
		if err != nil {
			return err
		}
		if err := s.DeleteByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// FindAllSorted loads everything and orders it client-side; etcd orders
// by key, not by payload properties.
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

func (s *Store[T, ID]) FindPage(ctx context.Context, page repository.Pageable) (repository.Page[T], error) {
	out, err := s.FindAllSorted(ctx, page.Sort)
	if err != nil {
		return repository.Page[T]{}, err
	}
	return repository.Paginate(out, page), nil
}

// StreamAll pages through the prefix in key order and delivers entities
// over a channel. The channel closes once the range is exhausted, an
// error was delivered or ctx ends.
func (s *Store[T, ID]) StreamAll(ctx context.Context) (<-chan repository.Item[T], error) {
	out := make(chan repository.Item[T])
	go func() {
		defer close(out)

		fail := func(err error) {
			select {
			case out <- repository.Item[T]{Err: err}:
			case <-ctx.Done():
			}
		}

		from := s.prefix()
		rangeEnd := clientv3.GetPrefixRangeEnd(s.prefix())
		for {
			resp, err := s.client.Get(ctx, from,
				clientv3.WithRange(rangeEnd),
				clientv3.WithLimit(streamBatchSize),
				clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
			if err != nil {
				fail(fmt.Errorf("failed to stream %s: %w", s.name, err))
				return
			}
			for _, kv := range resp.Kvs {
				entity, err := s.decode(kv.Value)
				if err != nil {
					fail(err)
					return
				}
				loaded, err := s.meta.AfterLoad(ctx, entity)
				if err != nil {
					fail(err)
					return
				}
				select {
				case out <- repository.Item[T]{Value: loaded}:
				case <-ctx.Done():
					return
				}
			}
			if !resp.More || len(resp.Kvs) == 0 {
				return
			}
			from = string(resp.Kvs[len(resp.Kvs)-1].Key) + "\x00"
		}
	}()
	return out, nil
}

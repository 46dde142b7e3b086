package redistore

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/datumkit/datum/callback"
	"github.com/datumkit/datum/mapping"
	"github.com/datumkit/datum/repository"
)

const (
	defaultNamespace = "datum"
	streamBatchSize  = 100
	casAttempts      = 3
)

// Options configures the Redis connection and the store's behavior.
type Options struct {
	// URL is the Redis connection string (e.g., "redis://localhost:6379").
	URL string

	// Namespace prefixes every key the store writes. Defaults to "datum".
	Namespace string

	// TLS configuration for secure connections.
	TLS *tls.Config

	// ConnectTimeout is the maximum time to wait for connection establishment.
	ConnectTimeout time.Duration

	// ReadTimeout is the maximum time to wait for read operations.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time to wait for write operations.
	WriteTimeout time.Duration

	// Codec encodes entities. Defaults to JSON.
	Codec Codec

	// Callbacks wires lifecycle callbacks into every operation.
	Callbacks *callback.Dispatcher

	// Logger receives watch and index diagnostics. Defaults to slog.Default.
	Logger *slog.Logger
}

func (o *Options) withDefaults() {
	if o.URL == "" {
		o.URL = "redis://localhost:6379"
	}
	if o.Namespace == "" {
		o.Namespace = defaultNamespace
	}
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = 5 * time.Second
	}
	if o.ReadTimeout == 0 {
		o.ReadTimeout = 30 * time.Second
	}
	if o.WriteTimeout == 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.Codec == nil {
		o.Codec = JSON()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Store is a Redis-backed repository. Entities live under
// {namespace}:{entity}:{id}, a set at {namespace}:{entity}:ids indexes the
// stored ids, and change events fan out over a pub/sub channel. Versioned
// entities are saved under WATCH transactions for optimistic locking.
type Store[T any, ID comparable] struct {
	client *redis.Client
	meta   *repository.Meta[T, ID]
	codec  Codec
	logger *slog.Logger
	name   string
	ns     string
	ptr    bool
	base   reflect.Type
	owned  bool
}

// New connects to Redis, verifies the connection with a ping and builds a
// store for T.
func New[T any, ID comparable](mctx *mapping.Context, opts Options) (*Store[T, ID], error) {
	opts.withDefaults()

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	redisOpts.TLSConfig = opts.TLS
	redisOpts.DialTimeout = opts.ConnectTimeout
	redisOpts.ReadTimeout = opts.ReadTimeout
	redisOpts.WriteTimeout = opts.WriteTimeout

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	s, err := NewWithClient[T, ID](mctx, client, opts)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewWithClient builds a store over an existing client. Close then leaves
// the client open for its other users.
func NewWithClient[T any, ID comparable](mctx *mapping.Context, client *redis.Client, opts Options) (*Store[T, ID], error) {
	opts.withDefaults()

	var metaOpts []repository.MetaOption
	if opts.Callbacks != nil {
		metaOpts = append(metaOpts, repository.WithCallbacks(opts.Callbacks))
	}
	meta, err := repository.NewMeta[T, ID](mctx, metaOpts...)
	if err != nil {
		return nil, err
	}

	return &Store[T, ID]{
		client: client,
		meta:   meta,
		codec:  opts.Codec,
		logger: opts.Logger,
		name:   meta.Entity().Name(),
		ns:     opts.Namespace,
		ptr:    reflect.TypeOf((*T)(nil)).Elem().Kind() == reflect.Pointer,
		base:   baseType[T](),
	}, nil
}

func baseType[T any]() reflect.Type {
	t := reflect.TypeOf((*T)(nil)).Elem()
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

// Client exposes the underlying connection, mainly for health probes.
func (s *Store[T, ID]) Client() *redis.Client { return s.client }

// Meta exposes the lifecycle binding.
func (s *Store[T, ID]) Meta() *repository.Meta[T, ID] { return s.meta }

// Close releases the connection when the store owns it.
func (s *Store[T, ID]) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}

func (s *Store[T, ID]) key(id ID) string {
	return s.keyFor(fmt.Sprint(id))
}

func (s *Store[T, ID]) keyFor(member string) string {
	return s.ns + ":" + s.name + ":" + member
}

func (s *Store[T, ID]) idsKey() string {
	return s.ns + ":" + s.name + ":ids"
}

func (s *Store[T, ID]) eventsChannel() string {
	return s.ns + ":" + s.name + ":events"
}

func (s *Store[T, ID]) decode(data []byte) (T, error) {
	var zero T
	target := reflect.New(s.base)
	if err := s.codec.Unmarshal(data, target.Interface()); err != nil {
		return zero, fmt.Errorf("failed to decode %s: %w", s.name, err)
	}
	if s.ptr {
		return target.Interface().(T), nil
	}
	return target.Elem().Interface().(T), nil
}

// Save stores the entity after running the save lifecycle. Versioned
// entities are written under a WATCH transaction so a concurrent writer
// or a stale version fails with ErrVersionConflict.
func (s *Store[T, ID]) Save(ctx context.Context, entity T) (T, error) {
	var zero T
	prep, err := s.meta.PrepareSave(ctx, entity)
	if err != nil {
		return zero, err
	}
	data, err := s.codec.Marshal(prep.Entity)
	if err != nil {
		return zero, fmt.Errorf("failed to encode %s: %w", s.name, err)
	}
	key := s.key(prep.ID)
	member := fmt.Sprint(prep.ID)

	if prep.HasVersion {
		if err := s.saveVersioned(ctx, key, member, data, prep); err != nil {
			return zero, err
		}
	} else {
		_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.SAdd(ctx, s.idsKey(), member)
			return nil
		})
		if err != nil {
			return zero, fmt.Errorf("failed to store %s: %w", s.name, err)
		}
	}

	saved, err := s.meta.AfterSave(ctx, prep.Entity)
	if err != nil {
		return zero, err
	}
	s.publish(ctx, repository.EventSaved, prep.ID, data)
	return saved, nil
}

func (s *Store[T, ID]) saveVersioned(ctx context.Context, key, member string, data []byte, prep repository.Prepared[T, ID]) error {
	txn := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			if prep.PrevVersion != 0 {
				return fmt.Errorf("%w: %s id=%v is gone, save expected version %d",
					repository.ErrVersionConflict, s.name, prep.ID, prep.PrevVersion)
			}
		case err != nil:
			return fmt.Errorf("failed to read %s for version check: %w", s.name, err)
		default:
			stored, err := s.decode(current)
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
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.SAdd(ctx, s.idsKey(), member)
			return nil
		})
		return err
	}

	var txErr error
	for i := 0; i < casAttempts; i++ {
		txErr = s.client.Watch(ctx, txn, key)
		if txErr == nil || !errors.Is(txErr, redis.TxFailedErr) {
			break
		}
	}
	if errors.Is(txErr, redis.TxFailedErr) {
		return fmt.Errorf("%w: %s id=%v kept changing under concurrent writers",
			repository.ErrVersionConflict, s.name, prep.ID)
	}
	return txErr
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
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, fmt.Errorf("%w: %s id=%v", repository.ErrNotFound, s.name, id)
	}
	if err != nil {
		return zero, fmt.Errorf("failed to read %s: %w", s.name, err)
	}
	entity, err := s.decode(data)
	if err != nil {
		return zero, err
	}
	return s.meta.AfterLoad(ctx, entity)
}

func (s *Store[T, ID]) FindAll(ctx context.Context) ([]T, error) {
	members, err := s.client.SMembers(ctx, s.idsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list %s ids: %w", s.name, err)
	}
	return s.loadMembers(ctx, members)
}

func (s *Store[T, ID]) FindAllByID(ctx context.Context, ids []ID) ([]T, error) {
	members := make([]string, len(ids))
	for i, id := range ids {
		members[i] = fmt.Sprint(id)
	}
	return s.loadMembers(ctx, members)
}

// loadMembers MGETs the keys behind the given id members, skipping and
// unindexing ids whose value is gone.
func (s *Store[T, ID]) loadMembers(ctx context.Context, members []string) ([]T, error) {
	if len(members) == 0 {
		return []T{}, nil
	}
	keys := make([]string, len(members))
	for i, m := range members {
		keys[i] = s.keyFor(m)
	}
	raw, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load %s entities: %w", s.name, err)
	}

	out := make([]T, 0, len(raw))
	var stale []any
	for i, v := range raw {
		payload, ok := v.(string)
		if !ok {
			stale = append(stale, members[i])
			continue
		}
		entity, err := s.decode([]byte(payload))
		if err != nil {
			return nil, err
		}
		loaded, err := s.meta.AfterLoad(ctx, entity)
		if err != nil {
			return nil, err
		}
		out = append(out, loaded)
	}
	if len(stale) > 0 {
		if err := s.client.SRem(ctx, s.idsKey(), stale...).Err(); err != nil {
			s.logger.Warn("failed to prune stale ids from index",
				"entity", s.name, "count", len(stale), "error", err)
		}
	}
	return out, nil
}

func (s *Store[T, ID]) ExistsByID(ctx context.Context, id ID) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check %s existence: %w", s.name, err)
	}
	return n > 0, nil
}

func (s *Store[T, ID]) Count(ctx context.Context) (int64, error) {
	n, err := s.client.SCard(ctx, s.idsKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", s.name, err)
	}
	return n, nil
}

// DeleteByID removes one entity. Absent ids are not an error. When the
// entity exists, before-delete callbacks run first and may abort the
// deletion.
func (s *Store[T, ID]) DeleteByID(ctx context.Context, id ID) error {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", s.name, err)
	}
	entity, err := s.decode(data)
	if err != nil {
		return err
	}
	if _, err := s.meta.BeforeDelete(ctx, entity); err != nil {
		return err
	}
	if err := s.remove(ctx, id); err != nil {
		return err
	}
	if _, err := s.meta.AfterDelete(ctx, entity); err != nil {
		return err
	}
	s.publish(ctx, repository.EventDeleted, id, nil)
	return nil
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

	deleted := false
	key := s.key(id)
	txn := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read %s for version check: %w", s.name, err)
		}
		if s.meta.HasVersion() {
			stored, err := s.decode(current)
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
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.SRem(ctx, s.idsKey(), fmt.Sprint(id))
			return nil
		})
		if err == nil {
			deleted = true
		}
		return err
	}

	var txErr error
	for i := 0; i < casAttempts; i++ {
		txErr = s.client.Watch(ctx, txn, key)
		if txErr == nil || !errors.Is(txErr, redis.TxFailedErr) {
			break
		}
	}
	if errors.Is(txErr, redis.TxFailedErr) {
		return fmt.Errorf("%w: %s id=%v kept changing under concurrent writers",
			repository.ErrVersionConflict, s.name, id)
	}
	if txErr != nil {
		return txErr
	}

	if deleted {
		if _, err := s.meta.AfterDelete(ctx, entity); err != nil {
			return err
		}
		s.publish(ctx, repository.EventDeleted, id, nil)
	}
	return nil
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
	members, err := s.client.SMembers(ctx, s.idsKey()).Result()
	if err != nil {
		return fmt.Errorf("failed to list %s ids: %w", s.name, err)
	}
	for _, m := range members {
		data, err := s.client.Get(ctx, s.keyFor(m)).Bytes()
		if errors.Is(err, redis.Nil) {
			_ = s.client.SRem(ctx, s.idsKey(), m).Err()
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", s.name, err)
		}
		entity, err := s.decode(data)
		if err != nil {
			return err
		}
		id, err := s.meta.IDOf(entity)
		if err != nil {
			return err
		}
		if err := s.DeleteByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store[T, ID]) remove(ctx context.Context, id ID) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(id))
		pipe.SRem(ctx, s.idsKey(), fmt.Sprint(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", s.name, err)
	}
	return nil
}

// FindAllSorted loads everything and orders it client-side; Redis has no
// native ordering over opaque payloads.
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

// StreamAll walks the id index in batches and delivers entities over a
// channel. The channel closes once the index snapshot is exhausted, an
// error was delivered or ctx ends.
func (s *Store[T, ID]) StreamAll(ctx context.Context) (<-chan repository.Item[T], error) {
	members, err := s.client.SMembers(ctx, s.idsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list %s ids: %w", s.name, err)
	}

	out := make(chan repository.Item[T])
	go func() {
		defer close(out)
		for start := 0; start < len(members); start += streamBatchSize {
			end := start + streamBatchSize
			if end > len(members) {
				end = len(members)
			}
			batch, err := s.loadMembers(ctx, members[start:end])
			if err != nil {
				select {
				case out <- repository.Item[T]{Err: err}:
				case <-ctx.Done():
				}
				return
			}
			for _, entity := range batch {
				select {
				case out <- repository.Item[T]{Value: entity}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

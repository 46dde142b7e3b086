package etcdstore

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/datumkit/datum/repository"
)

// Watch rides etcd's native watch stream for the entity's prefix and
// translates key events into typed repository events until ctx ends.
// Unreadable events are logged and skipped.
func (s *Store[T, ID]) Watch(ctx context.Context) (<-chan repository.Event[T, ID], error) {
	watchChan := s.client.Watch(ctx, s.prefix(), clientv3.WithPrefix(), clientv3.WithPrevKV())

	events := make(chan repository.Event[T, ID])
	go func() {
		defer close(events)
		for {
			select {
			case <-ctx.Done():
				return
			case wresp, ok := <-watchChan:
				if !ok {
					return
				}
				if err := wresp.Err(); err != nil {
					s.logger.Warn("watch stream failed", "entity", s.name, "error", err)
					return
				}
				for _, ev := range wresp.Events {
					out, err := s.translateEvent(ev)
					if err != nil {
						s.logger.Warn("skipping unreadable change event",
							"entity", s.name, "key", string(ev.Kv.Key), "error", err)
						continue
					}
					select {
					case events <- out:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return events, nil
}

// translateEvent maps one etcd key event onto a repository event. Deletes
// recover the id from the prior value when the watch delivered it, and
// fall back to parsing the key suffix.
func (s *Store[T, ID]) translateEvent(ev *clientv3.Event) (repository.Event[T, ID], error) {
	var out repository.Event[T, ID]
	switch ev.Type {
	case clientv3.EventTypePut:
		entity, err := s.decode(ev.Kv.Value)
		if err != nil {
			return out, err
		}
		id, err := s.meta.IDOf(entity)
		if err != nil {
			return out, err
		}
		out.Kind = repository.EventSaved
		out.ID = id
		out.Entity = entity
	case clientv3.EventTypeDelete:
		out.Kind = repository.EventDeleted
		if ev.PrevKv != nil && len(ev.PrevKv.Value) > 0 {
			if prior, err := s.decode(ev.PrevKv.Value); err == nil {
				if id, err := s.meta.IDOf(prior); err == nil {
					out.ID = id
					return out, nil
				}
			}
		}
		id, err := s.idFromKey(string(ev.Kv.Key))
		if err != nil {
			return out, err
		}
		out.ID = id
	default:
		return out, fmt.Errorf("unknown event type %v", ev.Type)
	}
	return out, nil
}

// idFromKey converts the key's id segment back into the repository's id
// type.
func (s *Store[T, ID]) idFromKey(key string) (ID, error) {
	var id ID
	suffix := strings.TrimPrefix(key, s.prefix())
	if suffix == key || suffix == "" {
		return id, fmt.Errorf("key %q is outside prefix %q", key, s.prefix())
	}
	raw, err := s.meta.Converter().Convert(suffix, reflect.TypeOf(id))
	if err != nil {
		return id, fmt.Errorf("failed to parse id from key %q: %w", key, err)
	}
	return raw.(ID), nil
}

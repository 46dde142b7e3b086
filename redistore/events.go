package redistore

import (
	"context"
	"fmt"

	"github.com/datumkit/datum/repository"
)

// envelope is the wire form of a change event. The id travels
// codec-encoded so typed ids survive the round trip.
type envelope struct {
	Kind string `json:"kind" msgpack:"kind"`
	ID   []byte `json:"id" msgpack:"id"`
	Data []byte `json:"data,omitempty" msgpack:"data,omitempty"`
}

// publish fans a committed change out over pub/sub. The mutation already
// happened, so failures are logged rather than returned.
func (s *Store[T, ID]) publish(ctx context.Context, kind repository.EventKind, id ID, data []byte) {
	idData, err := s.codec.Marshal(id)
	if err != nil {
		s.logger.Warn("failed to encode event id", "entity", s.name, "error", err)
		return
	}
	env := envelope{Kind: kind.String(), ID: idData}
	if kind == repository.EventSaved {
		env.Data = data
	}
	payload, err := s.codec.Marshal(env)
	if err != nil {
		s.logger.Warn("failed to encode change event", "entity", s.name, "error", err)
		return
	}
	if err := s.client.Publish(ctx, s.eventsChannel(), payload).Err(); err != nil {
		s.logger.Warn("failed to publish change event", "entity", s.name, "error", err)
	}
}

// Watch subscribes to the entity's pub/sub channel and translates
// envelopes into typed events until ctx ends. Malformed payloads are
// logged and skipped.
func (s *Store[T, ID]) Watch(ctx context.Context) (<-chan repository.Event[T, ID], error) {
	pubsub := s.client.Subscribe(ctx, s.eventsChannel())

	// Wait for subscription confirmation.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s events: %w", s.name, err)
	}

	events := make(chan repository.Event[T, ID])
	go func() {
		defer close(events)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				ev, err := s.decodeEvent([]byte(msg.Payload))
				if err != nil {
					s.logger.Warn("skipping malformed change event",
						"entity", s.name, "error", err)
					continue
				}
				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return events, nil
}

func (s *Store[T, ID]) decodeEvent(payload []byte) (repository.Event[T, ID], error) {
	var ev repository.Event[T, ID]
	var env envelope
	if err := s.codec.Unmarshal(payload, &env); err != nil {
		return ev, err
	}
	if err := s.codec.Unmarshal(env.ID, &ev.ID); err != nil {
		return ev, fmt.Errorf("failed to decode event id: %w", err)
	}
	switch env.Kind {
	case repository.EventSaved.String():
		ev.Kind = repository.EventSaved
		entity, err := s.decode(env.Data)
		if err != nil {
			return ev, err
		}
		ev.Entity = entity
	case repository.EventDeleted.String():
		ev.Kind = repository.EventDeleted
	default:
		return ev, fmt.Errorf("unknown event kind %q", env.Kind)
	}
	return ev, nil
}

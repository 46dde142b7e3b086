package repository

import "context"

// CrudRepository is the store-agnostic persistence contract. T is the
// entity type (struct or pointer to struct), ID the id property's type.
//
// Save runs the full lifecycle before writing: before-create and
// before-save callbacks, id generation for zero string and uuid ids, and
// the version bump for versioned entities. A stale version fails with
// ErrVersionConflict. FindByID reports ErrNotFound for absent ids;
// FindAllByID skips them. DeleteByID and DeleteAllByID are idempotent and
// do not fail for absent ids.
type CrudRepository[T any, ID comparable] interface {
	Save(ctx context.Context, entity T) (T, error)
	SaveAll(ctx context.Context, entities []T) ([]T, error)
	FindByID(ctx context.Context, id ID) (T, error)
	FindAll(ctx context.Context) ([]T, error)
	FindAllByID(ctx context.Context, ids []ID) ([]T, error)
	ExistsByID(ctx context.Context, id ID) (bool, error)
	Count(ctx context.Context) (int64, error)
	DeleteByID(ctx context.Context, id ID) error
	Delete(ctx context.Context, entity T) error
	DeleteAllByID(ctx context.Context, ids []ID) error
	DeleteAll(ctx context.Context) error
}

// PagingRepository adds sorted and paged reads on top of the crud
// contract. Sort properties are resolved against mapping metadata by
// property or storage name.
type PagingRepository[T any, ID comparable] interface {
	CrudRepository[T, ID]

	FindAllSorted(ctx context.Context, sort Sort) ([]T, error)
	FindPage(ctx context.Context, page Pageable) (Page[T], error)
}

// Item is one element of a streamed result set. A stream that fails
// mid-flight delivers the failure as the final item's Err.
type Item[T any] struct {
	Value T
	Err   error
}

// StreamingRepository adds a channel-based variant of FindAll. The
// returned channel is closed once the result set is exhausted, an error
// is delivered or ctx is done.
type StreamingRepository[T any, ID comparable] interface {
	CrudRepository[T, ID]

	StreamAll(ctx context.Context) (<-chan Item[T], error)
}

// EventKind classifies repository change events.
type EventKind int

const (
	EventSaved EventKind = iota
	EventDeleted
)

func (k EventKind) String() string {
	switch k {
	case EventSaved:
		return "saved"
	case EventDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Event describes one committed change. Entity is the saved state for
// EventSaved and the zero value for EventDeleted.
type Event[T any, ID comparable] struct {
	Kind   EventKind
	ID     ID
	Entity T
}

// WatchableRepository adds a change feed. Events are emitted only after
// the underlying mutation succeeded. The channel is closed when ctx is
// done or the watch fails.
type WatchableRepository[T any, ID comparable] interface {
	CrudRepository[T, ID]

	Watch(ctx context.Context) (<-chan Event[T, ID], error)
}

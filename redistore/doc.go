// Package redistore provides a Redis-backed repository.
//
// Entities are stored codec-encoded under {namespace}:{entity}:{id} with
// a set at {namespace}:{entity}:ids indexing the stored ids. Versioned
// entities save and delete under WATCH transactions, so concurrent
// writers and stale snapshots surface as repository.ErrVersionConflict.
// Change events fan out over a pub/sub channel per entity, which makes
// Watch work across processes sharing the same Redis.
//
// The default codec is JSON; Msgpack is available where payload size
// matters:
//
//	store, err := redistore.New[Order, string](mctx, redistore.Options{
//		URL:   "redis://localhost:6379",
//		Codec: redistore.Msgpack(),
//	})
package redistore

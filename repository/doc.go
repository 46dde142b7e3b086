// Package repository defines the store-agnostic persistence contracts
// and the shared lifecycle adapters build on.
//
// CrudRepository is the base contract; PagingRepository,
// StreamingRepository and WatchableRepository layer sorted reads,
// channel streaming and change feeds on top. All operations take a
// context first and report failures as errors, with ErrNotFound,
// ErrMissingID and ErrVersionConflict as the common sentinels.
//
// Meta carries what every adapter resolves once: the entity's mapping
// metadata, id and version access, uuid generation for zero ids and the
// PrepareSave pipeline that runs callbacks and computes the optimistic
// version predicate. Adapters call PrepareSave before writing and
// AfterLoad after reading so lifecycle semantics stay identical across
// stores:
//
//	meta, err := repository.NewMeta[Order, string](mctx,
//		repository.WithCallbacks(dispatcher))
//	if err != nil {
//		return err
//	}
//	prep, err := meta.PrepareSave(ctx, order)
//	if err != nil {
//		return err
//	}
//	// store prep.Entity under prep.ID, enforcing prep.PrevVersion
package repository

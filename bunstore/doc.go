// Package bunstore provides a SQL repository over a bun database
// handle.
//
// The adapter is a pure consumer of mapping metadata: the table name is
// the entity's storage name, columns are property storage names, values
// move through the entity's accessor and rows materialize through the
// entity's creation path. Domain structs need no bun tags. Sorting and
// paging are pushed down to SQL, and versioned entities update under a
// WHERE version predicate whose rows-affected count surfaces stale
// saves as repository.ErrVersionConflict.
//
// Properties must hold SQL-representable values; nested entity
// properties are not flattened into columns. Relational databases offer
// no portable change feed, so the watchable contract is the one
// repository contract this adapter does not implement.
package bunstore

// Package memstore provides an in-memory repository over a concurrent
// map. It implements every repository contract, runs the full entity
// lifecycle on each operation and fans change events out to watchers,
// which makes it the reference adapter and the natural test double for
// code written against the persistent stores.
package memstore

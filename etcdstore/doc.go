// Package etcdstore provides an etcd-backed repository.
//
// Entities are stored JSON-encoded under /{namespace}/{entity}/{id}.
// Listing and counting use prefix queries, versioned writes commit
// through ModRevision transactions, and Watch translates etcd's native
// watch stream into typed repository events, giving every process on the
// cluster a consistent change feed.
package etcdstore

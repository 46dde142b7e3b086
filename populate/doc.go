// Package populate loads entity fixtures from YAML and JSON resources
// into repositories. A resource document maps entity storage names to
// lists of objects; each object is instantiated through the entity's
// mapping metadata and saved through the bound repository, so fixtures
// run the same lifecycle as application writes.
//
// Resources are registered as paths or glob patterns and loaded
// concurrently by Run. The optional Watcher reruns population when a
// resource file changes, with debouncing so editor write bursts trigger
// a single run.
package populate

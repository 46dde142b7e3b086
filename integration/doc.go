// Package integration provides end-to-end tests for the datum framework.
//
// Unlike the unit tests that live alongside each package, the tests in this
// package exercise complete workflows that cross package boundaries and
// verify that the pieces actually compose:
//
// # Test Coverage
//
//  1. Framework Lifecycle (integration_test.go)
//     - Framework construction with validation and auditing enabled
//     - Entity registration and metadata lookup through the framework
//     - Save, update, page, stream and delete against the in-memory store
//     - Optimistic locking conflicts on stale snapshots
//     - Fixture population from YAML resources via the framework facade
//     - Watching fixture files and repopulating on change
//
//  2. Observability (observability_test.go)
//     - Instrumented repositories emitting spans and metrics for the same
//       store the framework lifecycle runs through
//     - Health checks probing live repositories and aggregating results
//
// # Running the Tests
//
// Run all integration tests:
//
//	go test ./integration/...
//
// Run with verbose output:
//
//	go test -v ./integration/...
//
// Run a specific workflow:
//
//	go test -v ./integration/ -run TestEndToEndLifecycle
//
// # Best Practices
//
// When adding new integration tests:
//
//  1. Test observable behavior across packages, not compilation
//  2. Include both the happy path and the failure path
//  3. Register cleanup with t.Cleanup so frameworks and watchers stop
//  4. Group related assertions with t.Run subtests
//  5. Keep fixtures in t.TempDir so runs never interfere
package integration
